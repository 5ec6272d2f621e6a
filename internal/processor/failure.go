package processor

import (
	"net/http"
	"time"

	"github.com/FranksOps/serpent/internal/scraper"
	"github.com/FranksOps/serpent/internal/serp"
	"github.com/google/uuid"
)

// RecordFailure builds the error record for a unit that reached terminal
// failure. res may be nil when nothing was fetched. It never fails.
func RecordFailure(unit serp.UnitOfWork, res *scraper.FetchResult, cause error) serp.ResultRecord {
	now := time.Now()
	if unit.FinishedAt.IsZero() {
		unit.FinishedAt = now
	}

	dbg := debugInfo(unit, res)
	if cause != nil {
		msg := cause.Error()
		if n := len(dbg.ErrorMessages); n == 0 || dbg.ErrorMessages[n-1] != msg {
			dbg.ErrorMessages = append(dbg.ErrorMessages, msg)
		}
	}

	return serp.ResultRecord{
		ID:        uuid.New().String(),
		URL:       unit.URL,
		Debug:     dbg,
		IsError:   true,
		CreatedAt: now.UTC(),
	}
}

func debugInfo(unit serp.UnitOfWork, res *scraper.FetchResult) serp.DebugInfo {
	d := serp.DebugInfo{
		URL:        unit.URL,
		Method:     http.MethodGet,
		StartedAt:  unit.StartedAt,
		FinishedAt: unit.FinishedAt,
	}
	if res != nil {
		d.RequestID = res.ID
		d.LoadedURL = res.FinalURL
		if res.Method != "" {
			d.Method = res.Method
		}
		d.StatusCode = res.StatusCode
		d.Attempts = res.Attempts
		d.RetryCount = max(res.Attempts-1, 0)
		d.ErrorMessages = append([]string(nil), res.Errors...)
		d.DetectedBot = res.DetectedBot
		d.DetectionSrc = res.DetectionSrc
		d.Proxy = res.Proxy
		if d.StartedAt.IsZero() {
			d.StartedAt = res.StartedAt
		}
	}
	if d.RequestID == "" {
		d.RequestID = uuid.New().String()
	}
	if !d.StartedAt.IsZero() && !d.FinishedAt.IsZero() {
		d.DurationSecs = d.FinishedAt.Sub(d.StartedAt).Seconds()
	}
	return d
}
