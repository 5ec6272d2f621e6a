// Package storage defines the append-only output store for result records.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/FranksOps/serpent/internal/serp"
)

// ErrQueryUnsupported is returned by write-only backends such as streams.
var ErrQueryUnsupported = errors.New("storage: backend does not support queries")

// Filter selects stored records. Zero fields match everything.
type Filter struct {
	Term    string
	IsError *bool
	Since   *time.Time
	Limit   int
	Offset  int
}

// Match reports whether rec passes the filter's predicates. Limit and
// Offset are applied separately by Window.
func (f Filter) Match(rec *serp.ResultRecord) bool {
	if f.Term != "" && rec.Term() != f.Term {
		return false
	}
	if f.IsError != nil && rec.IsError != *f.IsError {
		return false
	}
	if f.Since != nil && rec.CreatedAt.Before(*f.Since) {
		return false
	}
	return true
}

// Window orders matches newest first and applies Offset and Limit. recs must
// be in insertion order; it is reversed in place.
func (f Filter) Window(recs []*serp.ResultRecord) []*serp.ResultRecord {
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	if f.Offset > 0 {
		if f.Offset >= len(recs) {
			return []*serp.ResultRecord{}
		}
		recs = recs[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(recs) {
		recs = recs[:f.Limit]
	}
	return recs
}

// Backend stores result records. Save is called once per unit of work and
// must be safe for concurrent use.
type Backend interface {
	Save(ctx context.Context, rec *serp.ResultRecord) error
	Query(ctx context.Context, filter Filter) ([]*serp.ResultRecord, error)
	// Location describes where records end up, for the end-of-run message.
	Location() string
	Close() error
}
