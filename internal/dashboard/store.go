// Package dashboard serves the latest enriched snapshot over HTTP and WebSocket.
package dashboard

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"musicow-insight-go/internal/market"
	"musicow-insight-go/internal/report"
)

// ErrNoData is returned by a Store that has nothing to serve yet.
var ErrNoData = errors.New("no processed data available")

// Snapshot is one enriched order set and where it came from.
type Snapshot struct {
	Orders []market.EnrichedOrder
	Source string
	At     time.Time
}

// Store yields the snapshot the dashboard renders.
type Store interface {
	Latest(ctx context.Context) (Snapshot, error)
}

// MemoryStore holds the snapshot published by the running pipeline.
type MemoryStore struct {
	mu   sync.RWMutex
	snap *Snapshot
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

// Publish replaces the current snapshot. The slice is copied.
func (m *MemoryStore) Publish(orders []market.EnrichedOrder, source string, at time.Time) {
	cp := make([]market.EnrichedOrder, len(orders))
	copy(cp, orders)
	m.mu.Lock()
	m.snap = &Snapshot{Orders: cp, Source: source, At: at}
	m.mu.Unlock()
}

func (m *MemoryStore) Latest(context.Context) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.snap == nil {
		return Snapshot{}, ErrNoData
	}
	return *m.snap, nil
}

// DirStore reads the newest *_metrics.json file under a processed directory on every call.
type DirStore struct {
	dir string
}

// NewDirStore reads from dir.
func NewDirStore(dir string) *DirStore { return &DirStore{dir: dir} }

func (d *DirStore) Latest(context.Context) (Snapshot, error) {
	orders, path, err := report.LatestProcessed(d.dir)
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{}, ErrNoData
	}
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Orders: orders, Source: path}
	if info, err := os.Stat(path); err == nil {
		snap.At = info.ModTime()
	}
	return snap, nil
}
