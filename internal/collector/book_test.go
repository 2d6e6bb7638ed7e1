package collector

import (
	"testing"

	"musicow-insight-go/internal/market"
)

func TestBookRecordSnapshot(t *testing.T) {
	book := NewBook("20240501")
	n := book.Record([]market.Order{
		{OrderNo: "1", Price: 100},
		{OrderNo: "2", Price: 200},
		{OrderNo: "", Price: 300},
	})
	if n != 2 {
		t.Fatalf("expected 2 distinct orders, got %d", n)
	}
	book.Record([]market.Order{{OrderNo: "1", Price: 150, Status: market.Completed}})

	snapshot := book.Snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(snapshot))
	}
	if snapshot[0].Price != 150 || snapshot[0].Status != market.Completed {
		t.Fatalf("expected latest snapshot of order 1, got %+v", snapshot[0])
	}
	snapshot[1].Price = 0
	if book.Snapshot()[1].Price != 200 {
		t.Fatalf("snapshot must be a copy")
	}

	book.Reset("20240502")
	if book.Len() != 0 || book.Day() != "20240502" {
		t.Fatalf("expected book reset")
	}
}
