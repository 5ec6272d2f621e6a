package csvbackend

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/FranksOps/serpent/internal/serp"
	"github.com/FranksOps/serpent/internal/storage"
)

// ensure csvBackend implements storage.Backend
var _ storage.Backend = (*csvBackend)(nil)

type csvBackend struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// headers defines the CSV column order. The flat columns are for
// spreadsheets; record_json keeps the full record for Query.
var headers = []string{
	"id",
	"url",
	"term",
	"page",
	"device",
	"country_code",
	"has_next_page",
	"results_total",
	"organic_count",
	"paid_count",
	"top_result_url",
	"status_code",
	"attempts",
	"is_error",
	"error_messages",
	"created_at",
	"record_json",
}

const recordCol = 16

// New opens (or creates) a CSV dataset at filePath, writing the header row
// to a new file.
func New(filePath string) (storage.Backend, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("create dataset dir: %w", err)
	}
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat dataset: %w", err)
	}

	if info.Size() == 0 {
		w := csv.NewWriter(f)
		if err := w.Write(headers); err != nil {
			f.Close()
			return nil, fmt.Errorf("write header: %w", err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("write header: %w", err)
		}
	}

	return &csvBackend{path: filePath, file: f}, nil
}

func row(rec *serp.ResultRecord) ([]string, error) {
	full, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}

	var term, page, device, country, total, top string
	if q := rec.SearchQuery; q != nil {
		term = q.Term
		page = strconv.Itoa(q.Page)
		device = string(q.Device)
		country = q.CountryCode
	}
	if rec.ResultsTotal != nil {
		total = strconv.FormatInt(*rec.ResultsTotal, 10)
	}
	if len(rec.OrganicResults) > 0 {
		top = rec.OrganicResults[0].URL
	}

	return []string{
		rec.ID,
		rec.URL,
		term,
		page,
		device,
		country,
		strconv.FormatBool(rec.HasNextPage),
		total,
		strconv.Itoa(len(rec.OrganicResults)),
		strconv.Itoa(len(rec.PaidResults) + len(rec.PaidProducts)),
		top,
		strconv.Itoa(rec.Debug.StatusCode),
		strconv.Itoa(rec.Debug.Attempts),
		strconv.FormatBool(rec.IsError),
		strings.Join(rec.Debug.ErrorMessages, " | "),
		rec.CreatedAt.Format(time.RFC3339Nano),
		string(full),
	}, nil
}

func (b *csvBackend) Save(ctx context.Context, rec *serp.ResultRecord) error {
	record, err := row(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("seek dataset: %w", err)
	}

	w := csv.NewWriter(b.file)
	if err := w.Write(record); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	return nil
}

func (b *csvBackend) Query(ctx context.Context, filter storage.Filter) ([]*serp.ResultRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind dataset: %w", err)
	}
	defer func() {
		_, _ = b.file.Seek(0, io.SeekEnd)
	}()

	r := csv.NewReader(b.file)
	if _, err := r.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return []*serp.ResultRecord{}, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	var matched []*serp.ResultRecord
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if len(record) != len(headers) {
			continue // malformed row
		}

		var rec serp.ResultRecord
		if err := json.Unmarshal([]byte(record[recordCol]), &rec); err != nil {
			return nil, fmt.Errorf("decode record %s: %w", record[0], err)
		}
		if filter.Match(&rec) {
			matched = append(matched, &rec)
		}
	}

	return filter.Window(matched), nil
}

func (b *csvBackend) Location() string {
	return b.path
}

func (b *csvBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file.Close()
}
