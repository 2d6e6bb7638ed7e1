package alert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/time/rate"

	"musicow-insight-go/internal/config"
	"musicow-insight-go/internal/metrics"
)

const (
	defaultMaxPerMessage = 5
	sendTimeout          = 10 * time.Second
	telegramAPI          = "https://api.telegram.org"
)

// Notifier delivers a batch of alerts to one channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, alerts []Alert) error
}

// FormatMessage renders the chat text for alerts, listing at most max of them.
func FormatMessage(alerts []Alert, max int) string {
	if max <= 0 {
		max = defaultMaxPerMessage
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Musicow alerts: %d\n\n", len(alerts))
	for i, a := range alerts {
		if i == max {
			fmt.Fprintf(&b, "... and %d more\n", len(alerts)-max)
			break
		}
		fmt.Fprintf(&b, "• [%s] %s\n", a.Kind, a.Message)
	}
	return b.String()
}

// Console prints alerts with their order details.
type Console struct {
	out io.Writer
}

// NewConsole writes to out, or stdout when out is nil.
func NewConsole(out io.Writer) *Console {
	if out == nil {
		out = os.Stdout
	}
	return &Console{out: out}
}

func (c *Console) Name() string { return "console" }

func (c *Console) Notify(_ context.Context, alerts []Alert) error {
	var b strings.Builder
	rule := strings.Repeat("=", 60)
	fmt.Fprintf(&b, "\n%s\nALERTS: %d\n%s\n", rule, len(alerts), rule)
	for i, a := range alerts {
		fmt.Fprintf(&b, "%d. %s [%s] %s\n", i+1, strings.ToUpper(string(a.Severity)), a.Kind, a.Message)
		fmt.Fprintf(&b, "   - price: %.0f KRW\n", a.Price)
		fmt.Fprintf(&b, "   - spread: %s\n", pctOrDash(a.Spread))
		fmt.Fprintf(&b, "   - yield: %s\n", pctOrDash(a.Yield))
	}
	b.WriteString(rule + "\n")
	_, err := io.WriteString(c.out, b.String())
	return err
}

func pctOrDash(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f%%", *v)
}

// chat holds what the webhook style notifiers share.
type chat struct {
	client  *http.Client
	limiter *rate.Limiter
	max     int
}

// ChatOption configures Slack and Telegram notifiers.
type ChatOption func(*chat)

// WithChatHTTPClient overrides the HTTP client.
func WithChatHTTPClient(c *http.Client) ChatOption {
	return func(ch *chat) {
		if c != nil {
			ch.client = c
		}
	}
}

// WithMinInterval spaces consecutive messages at least d apart.
func WithMinInterval(d time.Duration) ChatOption {
	return func(ch *chat) {
		if d > 0 {
			ch.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// WithMaxPerMessage caps how many alerts one message lists.
func WithMaxPerMessage(n int) ChatOption {
	return func(ch *chat) {
		if n > 0 {
			ch.max = n
		}
	}
}

func newChat(opts []ChatOption) chat {
	ch := chat{
		client:  &http.Client{Timeout: sendTimeout},
		limiter: rate.NewLimiter(rate.Inf, 1),
		max:     defaultMaxPerMessage,
	}
	for _, opt := range opts {
		opt(&ch)
	}
	return ch
}

// post sends payload as JSON. Webhook URLs and bot tokens are secrets, so transport
// errors name only the host.
func (ch chat) post(ctx context.Context, target string, payload any) error {
	if err := ch.limiter.Wait(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return errors.New("build request: invalid url")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := ch.client.Do(req)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) {
			return fmt.Errorf("post to %s: %w", req.URL.Host, uerr.Err)
		}
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Slack posts to an incoming webhook.
type Slack struct {
	chat
	webhook string
}

// NewSlack targets the given incoming webhook URL.
func NewSlack(webhook string, opts ...ChatOption) *Slack {
	return &Slack{chat: newChat(opts), webhook: webhook}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Notify(ctx context.Context, alerts []Alert) error {
	return s.post(ctx, s.webhook, map[string]string{"text": FormatMessage(alerts, s.max)})
}

// Telegram sends through the Bot API sendMessage method.
type Telegram struct {
	chat
	baseURL string
	token   string
	chatID  string
}

// NewTelegram targets chatID through the bot identified by token.
func NewTelegram(token, chatID string, opts ...ChatOption) *Telegram {
	return &Telegram{chat: newChat(opts), baseURL: telegramAPI, token: token, chatID: chatID}
}

// WithBaseURL points the notifier at a different Bot API host.
func (t *Telegram) WithBaseURL(u string) *Telegram {
	t.baseURL = strings.TrimRight(u, "/")
	return t
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Notify(ctx context.Context, alerts []Alert) error {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	return t.post(ctx, endpoint, map[string]string{"chat_id": t.chatID, "text": FormatMessage(alerts, t.max)})
}

// Dispatcher fans a batch out to every notifier concurrently.
type Dispatcher struct {
	notifiers []Notifier
	log       zerolog.Logger
}

// NewDispatcher delivers to notifiers.
func NewDispatcher(log zerolog.Logger, notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{notifiers: notifiers, log: log}
}

// Channels lists the names of the configured notifiers.
func (d *Dispatcher) Channels() []string {
	names := make([]string, len(d.notifiers))
	for i, n := range d.notifiers {
		names[i] = n.Name()
	}
	return names
}

// Send delivers alerts to all notifiers and joins their errors. An empty batch is a no-op.
func (d *Dispatcher) Send(ctx context.Context, alerts []Alert) error {
	if len(alerts) == 0 || len(d.notifiers) == 0 {
		return nil
	}
	p := pool.New().WithContext(ctx).WithMaxGoroutines(len(d.notifiers))
	for _, n := range d.notifiers {
		n := n
		p.Go(func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, sendTimeout)
			defer cancel()
			if err := n.Notify(ctx, alerts); err != nil {
				metrics.NotifyFailures.WithLabelValues(n.Name()).Inc()
				d.log.Error().Err(err).Str("channel", n.Name()).Msg("alert delivery failed")
				return fmt.Errorf("%s: %w", n.Name(), err)
			}
			d.log.Info().Str("channel", n.Name()).Int("alerts", len(alerts)).Msg("alerts delivered")
			return nil
		})
	}
	return p.Wait()
}

// ErrUnknownChannel is returned for channel names NotifiersFromConfig does not recognise.
var ErrUnknownChannel = errors.New("unknown alert channel")

// NotifiersFromConfig builds the notifiers named in cfg.Channels. Chat channels missing
// credentials are skipped with a warning, matching the behaviour of unset secrets.
func NotifiersFromConfig(cfg config.Alerts, out io.Writer, log zerolog.Logger) ([]Notifier, error) {
	chatOpts := []ChatOption{WithMinInterval(cfg.SendInterval()), WithMaxPerMessage(cfg.MaxPerMessage)}
	var notifiers []Notifier
	var errs []error
	for _, name := range cfg.Channels {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "console":
			notifiers = append(notifiers, NewConsole(out))
		case "slack":
			if cfg.SlackWebhookURL == "" {
				log.Warn().Msg("slack channel enabled without webhook url; skipping")
				continue
			}
			notifiers = append(notifiers, NewSlack(cfg.SlackWebhookURL, chatOpts...))
		case "telegram":
			if cfg.TelegramBotToken == "" || cfg.TelegramChatID == "" {
				log.Warn().Msg("telegram channel enabled without bot token or chat id; skipping")
				continue
			}
			notifiers = append(notifiers, NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID, chatOpts...))
		case "":
		default:
			errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownChannel, name))
		}
	}
	return notifiers, errors.Join(errs...)
}
