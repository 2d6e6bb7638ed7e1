package integration

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"musicow-insight-go/internal/config"
	"musicow-insight-go/internal/market"
	"musicow-insight-go/internal/pipeline"
	"musicow-insight-go/internal/report"
)

func feedBody(now time.Time) string {
	ts := now.Add(-2 * time.Minute).Format(market.DateLayout)
	return `[
{"order_no":"101","song_name":"Spring Day","song_artist":"Band","song_category":"저작재산권","order_type":"구매","order_price":8000,"order_count":3,"order_status":"대기","order_royalty_rate":0.08,"order_date":"` + ts + `","recent_price":10000},
{"order_no":"102","song_name":"Spring Day","song_artist":"Band","song_category":"저작재산권","order_type":"판매","order_price":10200,"order_count":1,"order_status":"대기","order_royalty_rate":0.08,"order_date":"` + ts + `","recent_price":10000},
{"order_no":"103","song_name":"Night Drive","song_artist":"Duo","song_category":"저작재산권","order_type":"구매","order_price":5000,"order_count":2,"order_status":"완료","order_royalty_rate":0.05,"order_date":"` + ts + `","recent_price":5000},
{"order_no":"104","song_name":"Broken","song_artist":"Solo","song_category":"저작재산권","order_type":"구매","order_price":0,"order_count":1,"order_status":"대기","order_royalty_rate":0.05,"order_date":"` + ts + `","recent_price":5000}
]`
}

func TestFeedToDashboardFlow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	body := feedBody(time.Now().In(time.UTC))
	feedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	defer feedSrv.Close()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.App.Timezone = "UTC"
	cfg.Feed.URL = feedSrv.URL
	cfg.Feed.RetryCount = 1
	cfg.Paths = config.Paths{
		RawDir:       filepath.Join(dir, "raw"),
		ProcessedDir: filepath.Join(dir, "processed"),
		ReportsDir:   filepath.Join(dir, "reports"),
	}
	cfg.Alerts.LogFile = filepath.Join(dir, "alerts.jsonl")

	var console bytes.Buffer
	svc, err := pipeline.Assemble(ctx, cfg, zerolog.Nop(), &console)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	defer svc.Close()

	res, err := svc.Pipeline.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(res.Orders) != 3 {
		t.Fatalf("expected the zero-price row rejected, got %d orders", len(res.Orders))
	}

	stored, err := report.LoadProcessed(res.Processed)
	if err != nil {
		t.Fatalf("LoadProcessed: %v", err)
	}
	if len(stored) != len(res.Orders) {
		t.Fatalf("processed file has %d orders, want %d", len(stored), len(res.Orders))
	}

	if !strings.Contains(console.String(), "ALERTS:") || !strings.Contains(console.String(), "Spring Day") {
		t.Fatalf("expected console alerts, got %q", console.String())
	}
	logged, err := os.ReadFile(cfg.Alerts.LogFile)
	if err != nil || len(bytes.TrimSpace(logged)) == 0 {
		t.Fatalf("expected alerts in JSONL log, err=%v", err)
	}

	h := svc.Dashboard.Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/summary", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("summary status %d: %s", rec.Code, rec.Body.String())
	}
	var summary struct {
		TotalOrders int    `json:"total_orders"`
		BuyOrders   int    `json:"buy_orders"`
		Source      string `json:"source"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.TotalOrders != 3 || summary.BuyOrders != 2 || summary.Source != res.Processed {
		t.Fatalf("unexpected summary %+v", summary)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/undervalued", nil))
	var under []market.EnrichedOrder
	if err := json.Unmarshal(rec.Body.Bytes(), &under); err != nil {
		t.Fatalf("decode undervalued: %v", err)
	}
	if len(under) == 0 || under[0].OrderNo != "101" || *under[0].SpreadRate != -20 {
		t.Fatalf("expected the -20%% bid first, got %+v", under)
	}
}
