package collector

import (
	"sync"

	"musicow-insight-go/internal/market"
)

// Book accumulates the orders seen during one day, keeping the latest snapshot of each order_no.
type Book struct {
	mu    sync.Mutex
	day   string
	index map[string]int
	rows  []market.Order
}

// NewBook creates an empty book for day (YYYYMMDD).
func NewBook(day string) *Book {
	return &Book{day: day, index: make(map[string]int)}
}

// Record merges orders into the book and returns the distinct order count.
// Orders without an order_no are ignored.
func (b *Book) Record(orders []market.Order) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, o := range orders {
		if o.OrderNo == "" {
			continue
		}
		if i, ok := b.index[o.OrderNo]; ok {
			b.rows[i] = o
			continue
		}
		b.index[o.OrderNo] = len(b.rows)
		b.rows = append(b.rows, o)
	}
	return len(b.rows)
}

// Snapshot returns a copy of the accumulated orders in first-seen order.
func (b *Book) Snapshot() []market.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]market.Order, len(b.rows))
	copy(out, b.rows)
	return out
}

// Len returns the distinct order count.
func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rows)
}

// Day returns the day the book accumulates.
func (b *Book) Day() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.day
}

// Reset clears all orders and starts accumulating day.
func (b *Book) Reset(day string) {
	b.mu.Lock()
	b.day = day
	b.index = make(map[string]int)
	b.rows = nil
	b.mu.Unlock()
}
