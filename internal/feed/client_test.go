package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"musicow-insight-go/internal/config"
	"musicow-insight-go/internal/market"
)

const body = `[
{"order_no":"1","song_name":"Song A","song_artist":"Artist","song_category":"저작재산권","order_type":"구매","order_price":9000,"order_count":1,"order_status":"대기","order_royalty_rate":0.08,"order_date":"2024-05-01 10:00:00","recent_price":10000},
{"order_no":"2","song_name":"Song A","song_artist":"Artist","song_category":"저작재산권","order_type":"판매","order_price":0,"order_count":1,"order_status":"대기","order_royalty_rate":0.08,"order_date":"2024-05-01 10:00:00","recent_price":10000}
]`

func TestFetchValidatesOrders(t *testing.T) {
	var ua atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua.Store(r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	client := NewClient(server.URL, zerolog.Nop(), WithRetry(1, 0), WithUserAgent("test-agent"))
	orders, report, err := client.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(orders) != 1 || orders[0].OrderNo != "1" {
		t.Fatalf("unexpected orders %+v", orders)
	}
	if report.Total != 2 || report.Rejected != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if got := ua.Load(); got != "test-agent" {
		t.Fatalf("expected user agent header, got %v", got)
	}
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	client := NewClient(server.URL, zerolog.Nop(), WithRetry(3, time.Millisecond))
	rows, err := client.FetchRaw(context.Background())
	if err != nil {
		t.Fatalf("FetchRaw: %v", err)
	}
	if len(rows) != 2 || atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected success on third attempt, rows=%d calls=%d", len(rows), calls)
	}
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, zerolog.Nop(), WithRetry(3, time.Millisecond))
	_, err := client.FetchRaw(context.Background())
	var status *StatusError
	if !errors.As(err, &status) || status.Code != http.StatusNotFound {
		t.Fatalf("expected 404 status error, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestFetchRejectsNonArrayPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"orders":[]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, zerolog.Nop(), WithRetry(2, time.Millisecond))
	if _, err := client.FetchRaw(context.Background()); !errors.Is(err, ErrUnexpectedPayload) {
		t.Fatalf("expected ErrUnexpectedPayload, got %v", err)
	}
}

func TestFetchNoValidOrders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"order_no":"x"}]`))
	}))
	defer server.Close()

	client := NewClient(server.URL, zerolog.Nop(), WithRetry(1, 0))
	_, report, err := client.Fetch(context.Background())
	if !errors.Is(err, ErrNoValidOrders) {
		t.Fatalf("expected ErrNoValidOrders, got %v", err)
	}
	if report.Rejected != 1 {
		t.Fatalf("expected one rejected row, got %+v", report)
	}
}

func TestPing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	n, err := NewClient(server.URL, zerolog.Nop()).Ping(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("expected 2 rows, got %d %v", n, err)
	}
}

func TestFromConfigDefaultsURL(t *testing.T) {
	cfg := config.Default().Feed
	cfg.URL = ""
	client := FromConfig(cfg, zerolog.Nop())
	if client.URL() != config.DefaultFeedURL {
		t.Fatalf("expected default url, got %s", client.URL())
	}
}

type stubFetcher struct {
	calls int32
	fail  bool
}

func (s *stubFetcher) Fetch(ctx context.Context) ([]market.Order, market.ValidationReport, error) {
	n := atomic.AddInt32(&s.calls, 1)
	if s.fail && n == 1 {
		return nil, market.ValidationReport{}, errors.New("boom")
	}
	return []market.Order{{OrderNo: "1"}}, market.ValidationReport{Total: 1, Valid: 1}, nil
}

func TestPollerRunEmitsSnapshots(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := &stubFetcher{fail: true}
	poller := NewPoller(fetcher, zerolog.Nop(), WithPollInterval(10*time.Millisecond))
	out := make(chan Snapshot, 1)
	done := make(chan error, 1)
	go func() { done <- poller.Run(ctx, out) }()

	select {
	case snap := <-out:
		if len(snap.Orders) != 1 || snap.At.IsZero() {
			t.Fatalf("unexpected snapshot %+v", snap)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
}
