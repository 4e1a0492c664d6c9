// Package notify sends operator notifications to a Telegram chat.
package notify

import (
	"context"
	"fmt"
	"html"
	"sync"
	"time"

	"github.com/crmhub/crmhub/internal/config"
	"github.com/crmhub/crmhub/internal/logging"
	"github.com/crmhub/crmhub/internal/models"
)

// Sender delivers a message to a chat.
type Sender interface {
	SendMessage(chatID int64, text string) error
}

// RateLimiter is a token bucket refilled per minute.
type RateLimiter struct {
	rate       int
	tokens     float64
	lastUpdate time.Time
	now        func() time.Time
	mu         sync.Mutex
}

// NewRateLimiter allows messagesPerMinute messages with an equal burst.
func NewRateLimiter(messagesPerMinute int) *RateLimiter {
	return &RateLimiter{
		rate:       messagesPerMinute,
		tokens:     float64(messagesPerMinute),
		lastUpdate: time.Now(),
		now:        time.Now,
	}
}

// Allow takes a token if one is available.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.tokens += float64(rl.rate) * now.Sub(rl.lastUpdate).Minutes()
	rl.lastUpdate = now
	if rl.tokens > float64(rl.rate) {
		rl.tokens = float64(rl.rate)
	}
	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

// Dedup suppresses repeats of the same key within a window.
type Dedup struct {
	sent   map[string]time.Time
	window time.Duration
	now    func() time.Time
	mu     sync.Mutex
}

// NewDedup creates a Dedup.
func NewDedup(window time.Duration) *Dedup {
	return &Dedup{sent: make(map[string]time.Time), window: window, now: time.Now}
}

// CanSend records key and reports whether it was not sent within the window.
func (d *Dedup) CanSend(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, at := range d.sent {
		if now.Sub(at) >= d.window {
			delete(d.sent, k)
		}
	}
	if _, ok := d.sent[key]; ok {
		return false
	}
	d.sent[key] = now
	return true
}

// Notifier sends operator alerts. A nil or disabled Notifier drops everything.
type Notifier struct {
	api     Sender
	chatID  int64
	limiter *RateLimiter
	dedup   *Dedup
	logger  *logging.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithSender replaces the Telegram client.
func WithSender(s Sender) Option {
	return func(n *Notifier) { n.api = s }
}

// WithDedupWindow sets how long identical alerts are suppressed.
func WithDedupWindow(d time.Duration) Option {
	return func(n *Notifier) { n.dedup = NewDedup(d) }
}

// New builds a Notifier from config. It returns nil when Telegram is disabled.
func New(cfg config.TelegramConfig, logger *logging.Logger, opts ...Option) (*Notifier, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	n := &Notifier{
		chatID:  cfg.ChatID,
		limiter: NewRateLimiter(20),
		dedup:   NewDedup(15 * time.Minute),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.api == nil {
		client, err := NewTGBotAPIClient(cfg.BotToken)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		n.api = client
	}
	return n, nil
}

// Send delivers text unless it is a duplicate of key or the limiter refuses it.
func (n *Notifier) Send(ctx context.Context, key, text string) {
	if n == nil || n.api == nil {
		return
	}
	if key != "" && !n.dedup.CanSend(key) {
		return
	}
	if !n.limiter.Allow() {
		n.logger.WarnWithContext(ctx, "telegram notification dropped", "reason", "rate limit", "key", key)
		return
	}
	if err := n.api.SendMessage(n.chatID, text); err != nil {
		n.logger.WarnWithContext(ctx, "telegram notification failed", "key", key, "error", err)
	}
}

// ReconnectRequired matches authfetch.FailureHook.
func (n *Notifier) ReconnectRequired(ctx context.Context, userID string, service models.Service, err error) {
	if n == nil {
		return
	}
	text := fmt.Sprintf("🔌 <b>Reconnect required</b>\n\nService: %s\nUser: <code>%s</code>\nError: %s",
		html.EscapeString(string(service)), html.EscapeString(userID), html.EscapeString(errText(err)))
	n.Send(ctx, "reconnect:"+string(service)+":"+userID, text)
}

// ReportFailed announces a cron report job failure.
func (n *Notifier) ReportFailed(ctx context.Context, job *models.CronJob, err error) {
	if n == nil || job == nil {
		return
	}
	text := fmt.Sprintf("📭 <b>Report failed</b>\n\nJob: <code>%s</code>\nType: %s\nError: %s",
		html.EscapeString(job.ID), html.EscapeString(string(job.ReportType)), html.EscapeString(errText(err)))
	n.Send(ctx, "report:"+job.ID, text)
}

func errText(err error) string {
	if err == nil {
		return "unknown"
	}
	return err.Error()
}
