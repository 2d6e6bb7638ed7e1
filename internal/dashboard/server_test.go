package dashboard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"musicow-insight-go/internal/market"
	"musicow-insight-go/internal/report"
)

func ptr(v float64) *float64 { return &v }

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func sampleOrders() []market.EnrichedOrder {
	mk := func(no string, side market.Side, status market.Status, spread, yield *float64, liq float64, sig market.Signal) market.EnrichedOrder {
		return market.EnrichedOrder{
			Order:          market.Order{OrderNo: no, SongName: "Song " + no, SongArtist: "Artist", Type: side, Status: status, Price: 9000},
			SpreadRate:     spread,
			ExpectedYield:  yield,
			LiquidityScore: liq,
			Signal:         sig,
		}
	}
	return []market.EnrichedOrder{
		mk("1", market.Buy, market.Waiting, ptr(-25), ptr(9), 40, market.Undervalued),
		mk("2", market.Buy, market.Waiting, ptr(2), ptr(12), 85, market.HighLiquidity),
		mk("3", market.Sell, market.Waiting, ptr(15), ptr(4), 60, market.Overvalued),
		mk("4", market.Buy, market.Completed, nil, ptr(7), 20, market.LowLiquidity),
	}
}

func newTestServer(store Store) *Server {
	return NewServer(store, ":0", zerolog.Nop(), WithClock(func() time.Time { return fixedNow }))
}

func get(t *testing.T, h http.Handler, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil && rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s: %v (%s)", path, err, rec.Body.String())
		}
	}
	return rec
}

func TestEmptyStoreReturns404(t *testing.T) {
	srv := newTestServer(NewMemoryStore())
	rec := get(t, srv.Handler(), "/api/summary", nil)
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), ErrNoData.Error()) {
		t.Fatalf("expected 404 with error body, got %d %s", rec.Code, rec.Body.String())
	}
	if rec := get(t, srv.Handler(), "/healthz", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz should be ok without data, got %d", rec.Code)
	}
}

func TestSummaryEndpoint(t *testing.T) {
	store := NewMemoryStore()
	store.Publish(sampleOrders(), "memory", fixedNow)
	srv := newTestServer(store)

	var body map[string]any
	rec := get(t, srv.Handler(), "/api/summary", &body)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if body["total_orders"].(float64) != 4 || body["data_count"].(float64) != 4 || body["buy_orders"].(float64) != 3 {
		t.Fatalf("unexpected summary %+v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestRankedEndpoints(t *testing.T) {
	store := NewMemoryStore()
	store.Publish(sampleOrders(), "memory", fixedNow)
	h := newTestServer(store).Handler()

	var top []market.EnrichedOrder
	get(t, h, "/api/top-yield", &top)
	if len(top) != 3 || top[0].OrderNo != "2" {
		t.Fatalf("expected buy orders by yield, got %+v", top)
	}

	var under []market.EnrichedOrder
	get(t, h, "/api/undervalued", &under)
	if len(under) != 2 || under[0].OrderNo != "1" {
		t.Fatalf("expected buy orders with spread ascending, got %+v", under)
	}

	var liquid []market.EnrichedOrder
	get(t, h, "/api/high-liquidity", &liquid)
	if len(liquid) != 4 || liquid[0].OrderNo != "2" {
		t.Fatalf("unexpected liquidity ranking %+v", liquid)
	}

	var signals []market.SignalShare
	get(t, h, "/api/signals", &signals)
	if len(signals) != 4 {
		t.Fatalf("expected 4 signal rows, got %+v", signals)
	}

	var buckets []market.Bucket
	get(t, h, "/api/premium-distribution", &buckets)
	if len(buckets) != 5 || buckets[0].Count != 1 {
		t.Fatalf("unexpected distribution %+v", buckets)
	}
}

func TestOrdersEndpoint(t *testing.T) {
	store := NewMemoryStore()
	store.Publish(sampleOrders(), "memory", fixedNow)
	h := newTestServer(store).Handler()

	var waiting []market.EnrichedOrder
	get(t, h, "/api/orders?filter=waiting&sort=premium&order=asc&limit=2", &waiting)
	if len(waiting) != 2 || waiting[0].OrderNo != "1" || waiting[1].OrderNo != "2" {
		t.Fatalf("unexpected filtered orders %+v", waiting)
	}

	var none []market.EnrichedOrder
	rec := get(t, h, "/api/orders?filter=overvalued&limit=0", &none)
	if rec.Code != http.StatusOK || len(none) != 1 {
		t.Fatalf("expected one overvalued order, got %d %s", rec.Code, rec.Body.String())
	}

	for _, bad := range []string{"/api/orders?filter=bogus", "/api/orders?limit=-1", "/api/orders?sort=volume"} {
		if rec := get(t, h, bad, nil); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", bad, rec.Code)
		}
	}
}

func TestDirStoreReadsLatestProcessed(t *testing.T) {
	dir := t.TempDir()
	w := report.NewWriter(dir, filepath.Join(dir, "reports"), zerolog.Nop(),
		report.WithLocation(time.UTC), report.WithClock(func() time.Time { return fixedNow }))
	store := NewDirStore(dir)
	if _, err := store.Latest(context.Background()); err != ErrNoData {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
	if _, err := w.WriteProcessed(sampleOrders()); err != nil {
		t.Fatalf("WriteProcessed: %v", err)
	}
	snap, err := store.Latest(context.Background())
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if len(snap.Orders) != 4 || !strings.HasSuffix(snap.Source, "20240501_1200_metrics.json") {
		t.Fatalf("unexpected snapshot %s with %d orders", snap.Source, len(snap.Orders))
	}
}

func TestIndexAndMetrics(t *testing.T) {
	h := newTestServer(NewMemoryStore()).Handler()
	rec := get(t, h, "/", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Musicow Market Dashboard") {
		t.Fatalf("unexpected index response %d", rec.Code)
	}
	if rec := get(t, h, "/metrics", nil); rec.Code != http.StatusOK {
		t.Fatalf("metrics endpoint returned %d", rec.Code)
	}
}

func TestWebSocketPushesSummary(t *testing.T) {
	store := NewMemoryStore()
	store.Publish(sampleOrders(), "memory", fixedNow)
	srv := newTestServer(store)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first map[string]any
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial: %v", err)
	}
	if first["total_orders"].(float64) != 4 {
		t.Fatalf("unexpected initial message %+v", first)
	}

	store.Publish(sampleOrders()[:1], "memory", fixedNow)
	deadline := time.Now().Add(2 * time.Second)
	for srv.Hub().Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	srv.Refresh(context.Background())

	var next map[string]any
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if next["total_orders"].(float64) != 1 {
		t.Fatalf("unexpected broadcast %+v", next)
	}
}
