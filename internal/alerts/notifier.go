package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vesa/pulseboard/internal/clock"
	"github.com/vesa/pulseboard/internal/models"
)

const (
	notifyAttempts = 3
	notifyQueue    = 32
)

// Event is the JSON body posted to the webhook.
type Event struct {
	Event string            `json:"event"`
	Alert models.AlertEntry `json:"alert"`
}

// Notifier posts newly raised derived alerts to a webhook. Observe is called
// after each evaluation; Run delivers queued events.
type Notifier struct {
	URL     string
	HTTP    *http.Client
	Backoff time.Duration

	enabled atomic.Bool
	clk     clock.Clock
	log     *slog.Logger
	queue   chan Event

	mu   sync.Mutex
	seen map[string]bool
}

// NewNotifier returns an enabled notifier for url. An empty url disables
// delivery but keeps the toggle.
func NewNotifier(url string, clk clock.Clock, logger *slog.Logger) *Notifier {
	n := &Notifier{
		URL:     url,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
		Backoff: time.Second,
		clk:     clk,
		log:     logger.With("module", "notifier"),
		queue:   make(chan Event, notifyQueue),
		seen:    map[string]bool{},
	}
	n.enabled.Store(true)
	return n
}

// Enabled reports the notifications toggle.
func (n *Notifier) Enabled() bool { return n.enabled.Load() }

// SetEnabled toggles delivery without forgetting which alerts were seen.
func (n *Notifier) SetEnabled(on bool) { n.enabled.Store(on) }

// Configured reports whether a webhook URL is set. Without one nothing is
// delivered whatever the toggle says.
func (n *Notifier) Configured() bool { return n.URL != "" }

// Observe records the currently active derived alerts and queues an event
// for each id not active on the previous call. It returns the number queued.
// A full queue drops the event.
func (n *Notifier) Observe(derived []models.AlertEntry) int {
	n.mu.Lock()
	fresh := make([]models.AlertEntry, 0, len(derived))
	next := make(map[string]bool, len(derived))
	for _, d := range derived {
		next[d.ID] = true
		if !n.seen[d.ID] {
			fresh = append(fresh, d)
		}
	}
	n.seen = next
	n.mu.Unlock()

	if !n.Configured() || !n.Enabled() {
		return 0
	}
	queued := 0
	for _, d := range fresh {
		select {
		case n.queue <- Event{Event: "alert.raised", Alert: d}:
			queued++
		default:
			n.log.Warn("notification queue full, dropping", "alert", d.Title)
		}
	}
	return queued
}

// Run delivers queued events until ctx is done.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-n.queue:
			if err := n.deliver(ctx, ev); err != nil {
				n.log.Error("webhook delivery failed", "alert", ev.Alert.Title, "err", err)
			}
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, ev Event) error {
	var lastErr error
	for attempt := 1; attempt <= notifyAttempts; attempt++ {
		if lastErr = n.post(ctx, ev); lastErr == nil {
			n.log.Info("webhook delivered", "alert", ev.Alert.Title, "attempt", attempt)
			return nil
		}
		if attempt == notifyAttempts {
			break
		}
		n.log.Warn("webhook attempt failed", "attempt", attempt, "err", lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-n.clk.After(time.Duration(attempt) * n.Backoff):
		}
	}
	return fmt.Errorf("after %d attempts: %w", notifyAttempts, lastErr)
}

// post sends ev as JSON via HTTP POST.
func (n *Notifier) post(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d: %s", resp.StatusCode, string(msg))
	}
	return nil
}
