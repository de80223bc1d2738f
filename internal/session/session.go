// Package session wires the telemetry store, the log ring and the alert
// book into one dashboard session driven by cancellable periodic tasks.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vesa/pulseboard/internal/alerts"
	"github.com/vesa/pulseboard/internal/clock"
	"github.com/vesa/pulseboard/internal/logbuf"
	"github.com/vesa/pulseboard/internal/models"
	"github.com/vesa/pulseboard/internal/telemetry"
)

// Defaults for Options fields left zero.
const (
	DefaultTickInterval  = 3 * time.Second
	DefaultActionLatency = 1500 * time.Millisecond
)

// Options tunes a Session. Zero values take the defaults; a nil
// Notifications leaves notifications on.
type Options struct {
	TelemetryInterval time.Duration
	LogInterval       time.Duration
	ActionLatency     time.Duration
	LogCapacity       int
	Notifications     *bool
}

// Deps are the collaborators a Session drives. Rand feeds the log generator
// and must not be shared with the store.
type Deps struct {
	Store    *telemetry.Store
	Book     *alerts.Book
	Notifier *alerts.Notifier
	Rand     logbuf.Picker
	Clock    clock.Clock
	Logger   *slog.Logger
	Logs     []models.LogEntry // initial ring contents, oldest first
}

// Session is one live dashboard: telemetry, logs, alerts and the tasks that
// keep them moving.
type Session struct {
	store  *telemetry.Store
	ring   *logbuf.Ring
	book   *alerts.Book
	gen    *logbuf.Generator
	notify *alerts.Notifier
	clk    clock.Clock
	log    *slog.Logger

	telemetryTask *Task
	logTask       *Task

	latency  atomic.Int64
	liveTail atomic.Bool

	locks   map[string]chan struct{} // one slot per container id
	tickets *ticketTable

	subsMu sync.Mutex
	subs   map[chan struct{}]struct{}

	ctx     context.Context
	cancel  context.CancelFunc
	closeMu sync.Mutex
	closed  bool
	actions sync.WaitGroup
}

// New assembles a session. Tasks do not run until Start.
func New(deps Deps, opts Options) *Session {
	if opts.TelemetryInterval <= 0 {
		opts.TelemetryInterval = DefaultTickInterval
	}
	if opts.LogInterval <= 0 {
		opts.LogInterval = DefaultTickInterval
	}
	if opts.ActionLatency <= 0 {
		opts.ActionLatency = DefaultActionLatency
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	log := deps.Logger.With("module", "session")
	if deps.Notifier == nil {
		deps.Notifier = alerts.NewNotifier("", deps.Clock, deps.Logger)
	}

	s := &Session{
		store:   deps.Store,
		ring:    logbuf.NewRing(opts.LogCapacity, deps.Store),
		book:    deps.Book,
		gen:     logbuf.NewGenerator(deps.Rand),
		notify:  deps.Notifier,
		clk:     deps.Clock,
		log:     log,
		locks:   make(map[string]chan struct{}),
		tickets: newTicketTable(),
		subs:    make(map[chan struct{}]struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.latency.Store(int64(opts.ActionLatency))
	s.liveTail.Store(true)
	s.notify.SetEnabled(opts.Notifications == nil || *opts.Notifications)
	for _, e := range deps.Logs {
		s.ring.Append(e)
	}
	for _, c := range deps.Store.Snapshot().Containers {
		s.locks[c.ID] = make(chan struct{}, 1)
	}

	s.telemetryTask = newTask("telemetry", s.clk, opts.TelemetryInterval, s.TickTelemetry, log)
	s.logTask = newTask("logs", s.clk, opts.LogInterval, func() { s.TickLogs() }, log)
	return s
}

// ── Lifecycle ─────────────────────────────────────────────────────────────────

// Start launches the telemetry and log tasks. They stop when ctx is done or
// when stopped individually.
func (s *Session) Start(ctx context.Context) error {
	if err := s.telemetryTask.Start(ctx); err != nil {
		return err
	}
	if err := s.logTask.Start(ctx); err != nil {
		s.telemetryTask.Stop()
		return err
	}
	s.log.Info("session started",
		"telemetry_interval", s.telemetryTask.Interval(),
		"log_interval", s.logTask.Interval())
	return nil
}

// Run starts the tasks and delivers notifications until ctx is done, then
// shuts the session down.
func (s *Session) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	defer s.Close()
	return s.notify.Run(ctx)
}

// Close stops both tasks, cancels submitted actions and waits for them.
// Cancelled actions leave their container in the error state. Later
// submissions fail with ErrClosed.
func (s *Session) Close() {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return
	}
	s.closed = true
	s.closeMu.Unlock()

	s.telemetryTask.Stop()
	s.logTask.Stop()
	s.cancel()
	s.actions.Wait()
	s.log.Info("session closed")
}

func (s *Session) TelemetryTask() *Task { return s.telemetryTask }
func (s *Session) LogTask() *Task       { return s.logTask }

// Retime applies new periods and action latency. Zero leaves a value as is.
func (s *Session) Retime(telemetryEvery, logEvery, latency time.Duration) error {
	var errs []error
	if telemetryEvery > 0 {
		errs = append(errs, s.telemetryTask.Reset(telemetryEvery))
	}
	if logEvery > 0 {
		errs = append(errs, s.logTask.Reset(logEvery))
	}
	if latency > 0 {
		s.latency.Store(int64(latency))
	}
	return errors.Join(errs...)
}

// ── Periodic steps ────────────────────────────────────────────────────────────

// TickTelemetry advances the telemetry one step and re-evaluates alert
// thresholds for the notifier and the stored acknowledgements.
func (s *Session) TickTelemetry() {
	s.store.Tick()
	derived := s.derive()
	if n := s.notify.Observe(derived); n > 0 {
		s.log.Info("alerts raised", "count", n)
	}
	s.pruneAcks(derived)
	s.changed()
}

// TickLogs appends one synthetic line from a running container. It reports
// false when live tail is paused or nothing is running.
func (s *Session) TickLogs() bool {
	if !s.liveTail.Load() {
		return false
	}
	e, ok := s.gen.Next(s.store.RunningIDs(), s.clk.Now().Format(models.TimestampLayout))
	if !ok {
		return false
	}
	s.ring.Append(e)
	s.changed()
	return true
}

// ── Containers ────────────────────────────────────────────────────────────────

func (s *Session) Snapshot() telemetry.Snapshot { return s.store.Snapshot() }

func (s *Session) Container(id string) (models.ContainerRecord, error) {
	return s.store.Container(id)
}

// ApplyAction runs action against container id after the action latency.
// Actions on one id run one at a time in arrival order; different ids run
// concurrently. If ctx ends during the latency window the container is
// marked error and ctx's error is returned. If ctx ends while still queued
// behind another action, the container is left untouched.
// An unknown action returns the container unchanged.
func (s *Session) ApplyAction(ctx context.Context, id string, action models.ContainerAction) (models.ContainerRecord, error) {
	rec, err := s.store.Container(id)
	if err != nil {
		return models.ContainerRecord{}, err
	}
	if !action.Known() {
		return rec, nil
	}

	slot := s.locks[id]
	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return models.ContainerRecord{}, ctx.Err()
	}
	defer func() { <-slot }()

	s.store.MarkInFlight(id)
	s.changed()
	defer func() {
		s.store.ClearInFlight(id)
		s.changed()
	}()

	select {
	case <-s.clk.After(time.Duration(s.latency.Load())):
		rec, err := s.store.ApplyAction(id, action)
		if err != nil {
			return models.ContainerRecord{}, err
		}
		rec.ActionPending = false
		s.pruneAcks(s.derive())
		s.log.Info("container action applied", "container", id, "action", action, "status", rec.Status)
		return rec, nil
	case <-ctx.Done():
		if _, err := s.store.Fail(id); err != nil {
			return models.ContainerRecord{}, err
		}
		s.pruneAcks(s.derive())
		s.log.Warn("container action interrupted", "container", id, "action", action, "err", ctx.Err())
		return models.ContainerRecord{}, ctx.Err()
	}
}

// Submit starts action in the background and returns its ticket. A second
// submission for a container with a pending ticket fails with
// ErrActionInFlight; any submission after Close fails with ErrClosed.
func (s *Session) Submit(id string, action models.ContainerAction) (Ticket, error) {
	if _, err := s.store.Container(id); err != nil {
		return Ticket{}, err
	}
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return Ticket{}, fmt.Errorf("%w: %s %q rejected", models.ErrClosed, action, id)
	}
	t, err := s.tickets.open(id, action, s.clk.Now())
	if err != nil {
		return Ticket{}, err
	}
	s.actions.Add(1)
	go func() {
		defer s.actions.Done()
		rec, err := s.ApplyAction(s.ctx, id, action)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("container action failed", "container", id, "action", action, "err", err)
		}
		s.tickets.finish(t.ID, rec, err, s.clk.Now())
	}()
	return t, nil
}

// Ticket looks up a submitted action.
func (s *Session) Ticket(id string) (Ticket, error) {
	t, ok := s.tickets.get(id)
	if !ok {
		return Ticket{}, fmt.Errorf("%w: ticket %q", models.ErrNotFound, id)
	}
	return t, nil
}

// ── Logs ──────────────────────────────────────────────────────────────────────

func (s *Session) Logs(f models.LogFilter) ([]models.LogEntry, error) {
	return s.ring.Collect(f)
}

func (s *Session) ClearLogs() {
	s.ring.Clear()
	s.changed()
}

func (s *Session) ExportLogs(w io.Writer, f models.LogFilter) (int, error) {
	return s.ring.Export(w, f)
}

// SetLiveTail pauses or resumes log synthesis.
func (s *Session) SetLiveTail(on bool) {
	s.liveTail.Store(on)
	s.log.Info("live tail toggled", "enabled", on)
}

func (s *Session) LiveTail() bool { return s.liveTail.Load() }

// ── Alerts ────────────────────────────────────────────────────────────────────

// Alerts derives alerts from the current snapshot and merges them with the
// persistent book. It only reads; acknowledgements of cleared conditions are
// dropped when telemetry ticks or an action lands.
func (s *Session) Alerts(ctx context.Context) (alerts.View, error) {
	derived := s.derive()
	persistent, err := s.book.List(ctx)
	if err != nil {
		return alerts.View{}, err
	}
	acked, err := s.book.AckedDerived(ctx)
	if err != nil {
		return alerts.View{}, err
	}
	return alerts.Merge(persistent, derived, acked), nil
}

func (s *Session) AddAlert(ctx context.Context, in alerts.NewAlert) (models.Alert, error) {
	a, err := s.book.Add(ctx, in)
	if err != nil {
		return models.Alert{}, err
	}
	s.changed()
	return a, nil
}

// AcknowledgeAlert acknowledges a persistent alert or an active derived one.
func (s *Session) AcknowledgeAlert(ctx context.Context, id string) error {
	if alerts.IsDerivedID(id) && !s.derivedActive(id) {
		return fmt.Errorf("%w: alert %q is not active", models.ErrNotFound, id)
	}
	if err := s.book.Acknowledge(ctx, id); err != nil {
		return err
	}
	s.changed()
	return nil
}

func (s *Session) DismissAlert(ctx context.Context, id string) error {
	if err := s.book.Dismiss(ctx, id); err != nil {
		return err
	}
	s.changed()
	return nil
}

// SetNotifications toggles webhook delivery.
func (s *Session) SetNotifications(on bool) {
	s.notify.SetEnabled(on)
	s.log.Info("notifications toggled", "enabled", on)
}

func (s *Session) Notifications() bool { return s.notify.Enabled() }

// WebhookConfigured reports whether notifications have anywhere to go.
func (s *Session) WebhookConfigured() bool { return s.notify.Configured() }

// pruneAcks forgets acknowledgements of derived conditions that are no
// longer active, so a recurring condition starts unacknowledged.
func (s *Session) pruneAcks(derived []models.AlertEntry) {
	if err := s.book.RetainDerived(context.Background(), alerts.IDs(derived)); err != nil {
		s.log.Warn("pruning derived acknowledgements", "err", err)
	}
}

func (s *Session) derive() []models.AlertEntry {
	snap := s.store.Snapshot()
	return alerts.Derive(snap.Metrics, snap.Containers, s.clk.Now())
}

func (s *Session) derivedActive(id string) bool {
	for _, d := range s.derive() {
		if d.ID == id {
			return true
		}
	}
	return false
}

// ── Overview ──────────────────────────────────────────────────────────────────

// Overview is the header summary of the dashboard.
type Overview struct {
	RunningContainers int            `json:"running_containers"`
	TotalContainers   int            `json:"total_containers"`
	CPUPercent        float64        `json:"cpu"`
	MemoryPercent     float64        `json:"memory"`
	Uptime            string         `json:"uptime"`
	LastUpdate        time.Time      `json:"last_update"`
	Health            alerts.Health  `json:"health"`
	Alerts            alerts.Summary `json:"alerts"`
	LiveTail          bool           `json:"live_tail"`
	Notifications     bool           `json:"notifications"`
	WebhookConfigured bool           `json:"webhook_configured"`
}

func (s *Session) Overview(ctx context.Context) (Overview, error) {
	snap := s.store.Snapshot()
	view, err := s.Alerts(ctx)
	if err != nil {
		return Overview{}, err
	}
	o := Overview{
		TotalContainers:   len(snap.Containers),
		CPUPercent:        snap.Metrics.CPU.UsagePercent,
		MemoryPercent:     snap.Metrics.Memory.UsagePercent,
		Uptime:            snap.Metrics.UptimeLabel,
		LastUpdate:        snap.UpdatedAt,
		Health:            alerts.Grade(snap.Metrics, snap.Containers),
		Alerts:            view.Summary,
		LiveTail:          s.LiveTail(),
		Notifications:     s.Notifications(),
		WebhookConfigured: s.WebhookConfigured(),
	}
	for _, c := range snap.Containers {
		if c.Running() {
			o.RunningContainers++
		}
	}
	return o, nil
}

// ── Change fan-out ────────────────────────────────────────────────────────────

// Subscribe returns a channel signalled after every state change and a
// function that releases it. Signals coalesce when the reader lags.
func (s *Session) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, ch)
			s.subsMu.Unlock()
		})
	}
}

func (s *Session) changed() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
