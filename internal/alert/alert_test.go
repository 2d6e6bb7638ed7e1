package alert

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"musicow-insight-go/internal/config"
	"musicow-insight-go/internal/market"
)

func ptr(v float64) *float64 { return &v }

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func order(no string, status market.Status, spread, yield *float64, sig market.Signal, date string) market.EnrichedOrder {
	return market.EnrichedOrder{
		Order:          market.Order{OrderNo: no, SongName: "Song " + no, Type: market.Buy, Status: status, Price: 9000, Date: date},
		SpreadRate:     spread,
		ExpectedYield:  yield,
		LiquidityScore: 50,
		Signal:         sig,
	}
}

func newTestDetector(now *time.Time) *Detector {
	return NewDetector(NewHistory(time.Hour), zerolog.Nop(),
		WithLocation(time.UTC), WithClock(func() time.Time { return *now }))
}

func countKind(alerts []Alert, k Kind) int {
	n := 0
	for _, a := range alerts {
		if a.Kind == k {
			n++
		}
	}
	return n
}

func TestPremiumAlerts(t *testing.T) {
	now := baseTime
	d := newTestDetector(&now)
	orders := []market.EnrichedOrder{
		order("1", market.Waiting, ptr(6), nil, market.Normal, ""),
		order("2", market.Waiting, ptr(-4), nil, market.Normal, ""),
		order("3", market.Waiting, ptr(3), nil, market.Normal, ""),
		order("4", market.Completed, ptr(9), nil, market.Normal, ""),
		order("5", market.Waiting, nil, nil, market.Normal, ""),
		market.PassThrough(market.Order{OrderNo: "6", Status: market.Waiting}, "boom"),
	}
	alerts := d.Check(orders, nil)
	if len(alerts) != 2 {
		t.Fatalf("expected 2 premium alerts, got %+v", alerts)
	}
	if alerts[0].OrderNo != "1" || alerts[0].Severity != High {
		t.Fatalf("expected high severity for 6%%, got %+v", alerts[0])
	}
	if alerts[1].OrderNo != "2" || alerts[1].Severity != Medium {
		t.Fatalf("expected medium severity for -4%%, got %+v", alerts[1])
	}
	if alerts[0].ID == "" || alerts[0].ID == alerts[1].ID {
		t.Fatalf("expected unique ids")
	}
	if !strings.Contains(alerts[0].Message, "6.00%") {
		t.Fatalf("unexpected message %q", alerts[0].Message)
	}
}

func TestAlertsDedupeWithinWindow(t *testing.T) {
	now := baseTime
	d := newTestDetector(&now)
	orders := []market.EnrichedOrder{order("1", market.Waiting, ptr(8), nil, market.Normal, "")}
	if got := len(d.Check(orders, nil)); got != 1 {
		t.Fatalf("expected first alert, got %d", got)
	}
	now = now.Add(59 * time.Minute)
	if got := len(d.Check(orders, nil)); got != 0 {
		t.Fatalf("expected duplicate suppressed, got %d", got)
	}
	now = now.Add(2 * time.Minute)
	if got := len(d.Check(orders, nil)); got != 1 {
		t.Fatalf("expected alert after window, got %d", got)
	}
}

func TestYieldChangeAlerts(t *testing.T) {
	now := baseTime
	d := newTestDetector(&now)
	previous := []market.EnrichedOrder{
		order("1", market.Completed, nil, ptr(5), market.Normal, "2024-05-01 11:00:00"),
		order("2", market.Completed, nil, ptr(5), market.Normal, "2024-05-01 11:00:00"),
		order("3", market.Completed, nil, ptr(5), market.Normal, "2024-05-01 10:00:00"),
		order("4", market.Completed, nil, nil, market.Normal, "2024-05-01 11:00:00"),
	}
	current := []market.EnrichedOrder{
		order("1", market.Completed, nil, ptr(7.5), market.Normal, "2024-05-01 11:05:00"),
		order("2", market.Completed, nil, ptr(6.5), market.Normal, "2024-05-01 11:05:00"),
		order("3", market.Completed, nil, ptr(9), market.Normal, "2024-05-01 11:00:00"),
		order("4", market.Completed, nil, ptr(9), market.Normal, "2024-05-01 11:00:00"),
		order("5", market.Completed, nil, ptr(9), market.Normal, "2024-05-01 11:00:00"),
	}
	alerts := d.Check(current, previous)
	if len(alerts) != 1 {
		t.Fatalf("expected one yield alert, got %+v", alerts)
	}
	a := alerts[0]
	if a.Kind != KindYieldChange || a.OrderNo != "1" || a.Change != 2.5 || a.Severity != High {
		t.Fatalf("unexpected alert %+v", a)
	}
	if got := countKind(d.Check(current, nil), KindYieldChange); got != 0 {
		t.Fatalf("expected no yield alerts without a previous snapshot, got %d", got)
	}
}

func TestSignalAlerts(t *testing.T) {
	now := baseTime
	d := newTestDetector(&now)
	orders := []market.EnrichedOrder{
		order("1", market.Completed, nil, nil, market.Caution, ""),
		order("2", market.Completed, nil, nil, market.Undervalued, ""),
		order("3", market.Completed, nil, nil, market.Overvalued, ""),
		order("4", market.Completed, nil, nil, market.Signal("Undervalued, LowLiquidity"), ""),
		order("5", market.Completed, nil, nil, market.Normal, ""),
	}
	alerts := d.Check(orders, nil)
	want := map[string]Severity{"1": High, "2": Medium, "3": Low}
	if len(alerts) != len(want) {
		t.Fatalf("expected %d signal alerts, got %+v", len(want), alerts)
	}
	for _, a := range alerts {
		if want[a.OrderNo] != a.Severity {
			t.Fatalf("unexpected severity for %s: %s", a.OrderNo, a.Severity)
		}
	}
}

func TestHistoryPrune(t *testing.T) {
	h := NewHistory(time.Hour)
	h.Admit("1", KindPremium, baseTime.Add(-25*time.Hour))
	h.Admit("1", KindSignal, baseTime.Add(-time.Hour))
	if h.Duplicate("1", KindSignal, baseTime) {
		t.Fatalf("entry exactly one window old should not be a duplicate")
	}
	if removed := h.Prune(baseTime, 24*time.Hour); removed != 1 || h.Len() != 1 {
		t.Fatalf("expected one pruned entry, removed=%d len=%d", removed, h.Len())
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default().Alerts
	cfg.PremiumThreshold = 10
	cfg.DedupeMins = 5
	d := FromConfig(cfg, time.UTC, zerolog.Nop())
	if d.premiumThreshold != 10 || d.window != 10*time.Minute || d.History().window != 5*time.Minute {
		t.Fatalf("unexpected detector %+v", d)
	}
}

func sampleAlerts(n int) []Alert {
	out := make([]Alert, n)
	for i := range out {
		out[i] = Alert{ID: "id", Kind: KindPremium, Severity: High, OrderNo: "1", Message: "Premium 6.00% - Song", Spread: ptr(6), At: baseTime}
	}
	return out
}

func TestFormatMessageCaps(t *testing.T) {
	msg := FormatMessage(sampleAlerts(7), 5)
	if !strings.HasPrefix(msg, "Musicow alerts: 7") {
		t.Fatalf("unexpected header %q", msg)
	}
	if strings.Count(msg, "• [premium]") != 5 || !strings.Contains(msg, "and 2 more") {
		t.Fatalf("expected 5 listed alerts, got %q", msg)
	}
}

func TestConsoleNotifier(t *testing.T) {
	var buf bytes.Buffer
	if err := NewConsole(&buf).Notify(context.Background(), sampleAlerts(1)); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "ALERTS: 1") || !strings.Contains(out, "spread: 6.00%") || !strings.Contains(out, "yield: -") {
		t.Fatalf("unexpected console output %q", out)
	}
}

func TestSlackNotifier(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := NewSlack(srv.URL).Notify(context.Background(), sampleAlerts(2)); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if !strings.Contains(got["text"], "Musicow alerts: 2") {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestTelegramNotifier(t *testing.T) {
	var path string
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
	}))
	defer srv.Close()

	tg := NewTelegram("TOKEN", "42").WithBaseURL(srv.URL)
	if err := tg.Notify(context.Background(), sampleAlerts(1)); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if path != "/botTOKEN/sendMessage" || got["chat_id"] != "42" || got["text"] == "" {
		t.Fatalf("unexpected request path=%s body=%+v", path, got)
	}
}

func TestChatErrorsHideSecrets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base := srv.URL
	srv.Close()

	const token = "123456:SECRET-TOKEN"
	var logs bytes.Buffer
	d := NewDispatcher(zerolog.New(&logs), NewTelegram(token, "42").WithBaseURL(base), NewSlack(base+"/services/SECRET-HOOK"))
	err := d.Send(context.Background(), sampleAlerts(1))
	if err == nil {
		t.Fatalf("expected delivery failure against a closed server")
	}
	for _, secret := range []string{"SECRET-TOKEN", "SECRET-HOOK"} {
		if strings.Contains(err.Error(), secret) || strings.Contains(logs.String(), secret) {
			t.Fatalf("secret %q leaked: err=%v logs=%s", secret, err, logs.String())
		}
	}
	if !strings.Contains(err.Error(), strings.TrimPrefix(base, "http://")) {
		t.Fatalf("expected the host in the error, got %v", err)
	}
}

type stubNotifier struct {
	name string
	err  error
	mu   sync.Mutex
	seen int
}

func (s *stubNotifier) Name() string { return s.name }

func (s *stubNotifier) Notify(_ context.Context, alerts []Alert) error {
	s.mu.Lock()
	s.seen += len(alerts)
	s.mu.Unlock()
	return s.err
}

func TestDispatcherFanOut(t *testing.T) {
	ok := &stubNotifier{name: "ok"}
	bad := &stubNotifier{name: "bad", err: errors.New("down")}
	d := NewDispatcher(zerolog.Nop(), ok, bad)
	err := d.Send(context.Background(), sampleAlerts(3))
	if err == nil || !strings.Contains(err.Error(), "bad: down") {
		t.Fatalf("expected joined error from failing channel, got %v", err)
	}
	if ok.seen != 3 || bad.seen != 3 {
		t.Fatalf("every notifier should receive the batch, ok=%d bad=%d", ok.seen, bad.seen)
	}
	if err := d.Send(context.Background(), nil); err != nil {
		t.Fatalf("empty batch should be a no-op, got %v", err)
	}
}

func TestNotifiersFromConfig(t *testing.T) {
	cfg := config.Default().Alerts
	cfg.Channels = []string{"console", "slack", "telegram"}
	cfg.SlackWebhookURL = "https://hooks.example.test/x"
	notifiers, err := NotifiersFromConfig(cfg, io.Discard, zerolog.Nop())
	if err != nil {
		t.Fatalf("NotifiersFromConfig: %v", err)
	}
	if len(notifiers) != 2 || notifiers[0].Name() != "console" || notifiers[1].Name() != "slack" {
		t.Fatalf("expected console and slack, got %d notifiers", len(notifiers))
	}
	cfg.Channels = []string{"pager"}
	if _, err := NotifiersFromConfig(cfg, io.Discard, zerolog.Nop()); !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("expected unknown channel error, got %v", err)
	}
}

func TestJSONLRecorder(t *testing.T) {
	path := t.TempDir() + "/alerts.jsonl"

	recorder, err := NewJSONLRecorder(path)
	if err != nil {
		t.Fatalf("NewJSONLRecorder error: %v", err)
	}
	if err := recorder.Notify(context.Background(), sampleAlerts(2)); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	if err := recorder.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := recorder.Notify(context.Background(), sampleAlerts(1)); !errors.Is(err, os.ErrClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open recorded file: %v", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lines := 0
	for scanner.Scan() {
		var decoded Alert
		if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
			t.Fatalf("json decode: %v", err)
		}
		if decoded.Kind != KindPremium || *decoded.Spread != 6 {
			t.Fatalf("unexpected decoded alert %+v", decoded)
		}
		lines++
	}
	if lines != 2 {
		t.Fatalf("expected 2 lines, got %d", lines)
	}
}
