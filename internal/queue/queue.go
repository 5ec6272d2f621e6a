// Package queue holds the pending units of work of a crawl.
package queue

import (
	"context"
	"errors"
	"net/url"
	"sync"

	"github.com/FranksOps/serpent/internal/serp"
)

// ErrClosed is returned by operations on a closed queue.
var ErrClosed = errors.New("queue: closed")

// WorkQueue is a deduplicating FIFO of units of work. A URL is accepted at
// most once for the lifetime of the queue, and every accepted unit is handed
// out by Claim exactly once. Implementations are safe for concurrent use.
type WorkQueue interface {
	// Push enqueues unit unless its URL was seen before. It reports whether
	// the unit was added.
	Push(ctx context.Context, unit serp.UnitOfWork) (bool, error)
	// Claim removes and returns the oldest pending unit. ok is false when
	// nothing is pending; Claim never blocks waiting for work.
	Claim(ctx context.Context) (unit serp.UnitOfWork, ok bool, err error)
	// Len returns the number of pending units.
	Len(ctx context.Context) (int, error)
	Close() error
}

// Key returns the dedup key of a unit URL: the URL without its fragment.
func Key(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// Memory is an in-process WorkQueue.
type Memory struct {
	mu      sync.Mutex
	pending []serp.UnitOfWork
	seen    map[string]struct{}
	closed  bool
}

// NewMemory returns an empty in-memory queue.
func NewMemory() *Memory {
	return &Memory{seen: make(map[string]struct{})}
}

func (m *Memory) Push(_ context.Context, unit serp.UnitOfWork) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, ErrClosed
	}
	key := Key(unit.URL)
	if _, dup := m.seen[key]; dup {
		return false, nil
	}
	m.seen[key] = struct{}{}
	m.pending = append(m.pending, unit)
	return true, nil
}

func (m *Memory) Claim(_ context.Context) (serp.UnitOfWork, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return serp.UnitOfWork{}, false, ErrClosed
	}
	if len(m.pending) == 0 {
		return serp.UnitOfWork{}, false, nil
	}
	unit := m.pending[0]
	m.pending[0] = serp.UnitOfWork{}
	m.pending = m.pending[1:]
	return unit, true, nil
}

func (m *Memory) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending), nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.pending = nil
	return nil
}
