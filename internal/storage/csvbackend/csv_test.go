package csvbackend

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/FranksOps/serpent/internal/storage/storagetest"
)

func TestCSVBackend(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "serpent.csv")

	b, err := New(filePath)
	if err != nil {
		t.Fatalf("Failed to create CSV backend: %v", err)
	}
	defer b.Close()

	storagetest.Exercise(t, b, "cats")
}

func TestCSVBackend_FlatColumns(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "serpent.csv")
	b, err := New(filePath)
	if err != nil {
		t.Fatalf("Failed to create CSV backend: %v", err)
	}

	ok, failed := storagetest.Records("dogs", time.Now())
	_ = b.Save(context.Background(), ok)
	_ = b.Save(context.Background(), failed)
	_ = b.Close()

	// reopening must not write a second header
	b, err = New(filePath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_ = b.Close()

	f, err := os.Open(filePath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "id" || rows[0][recordCol] != "record_json" {
		t.Errorf("unexpected header %v", rows[0])
	}

	want := map[string]string{
		"term":           "dogs",
		"page":           "1",
		"results_total":  "1230000",
		"organic_count":  "2",
		"top_result_url": "https://example.com/1",
		"is_error":       "false",
	}
	for i, h := range headers {
		if v, check := want[h]; check && rows[1][i] != v {
			t.Errorf("column %s: expected %q, got %q", h, v, rows[1][i])
		}
	}
	if rows[2][13] != "true" || rows[2][14] != "unexpected status 503" {
		t.Errorf("unexpected error row %v", rows[2][:15])
	}
}
