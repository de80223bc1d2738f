package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vesa/pulseboard/internal/clock"
	"github.com/vesa/pulseboard/internal/models"
)

// Task runs step on a fixed period until stopped. Each task owns its ticker,
// so tasks can be stopped and retimed independently.
type Task struct {
	name string
	clk  clock.Clock
	step func()
	log  *slog.Logger

	mu       sync.Mutex
	interval time.Duration
	ticker   clock.Ticker
	cancel   context.CancelFunc
	done     chan struct{}
}

func newTask(name string, clk clock.Clock, interval time.Duration, step func(), logger *slog.Logger) *Task {
	return &Task{
		name:     name,
		clk:      clk,
		step:     step,
		interval: interval,
		log:      logger.With("task", name),
	}
}

// Start launches the loop. The ticker is armed before Start returns.
func (t *Task) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return fmt.Errorf("task %s already started", t.name)
	}
	ctx, cancel := context.WithCancel(ctx)
	ticker := t.clk.NewTicker(t.interval)
	t.ticker, t.cancel, t.done = ticker, cancel, make(chan struct{})
	go t.loop(ctx, ticker, t.done)
	t.log.Debug("task started", "interval", t.interval)
	return nil
}

func (t *Task) loop(ctx context.Context, ticker clock.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			t.step()
		}
	}
}

// Stop cancels the loop and waits for an in-progress step to finish.
// Stopping a task that is not running is a no-op.
func (t *Task) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.ticker, t.done = nil, nil, nil
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	t.log.Debug("task stopped")
}

// Reset changes the period. A running task restarts its period from now.
func (t *Task) Reset(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: %s interval %v", models.ErrInvalidArgument, t.name, d)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if d == t.interval {
		return nil
	}
	t.interval = d
	if t.ticker != nil {
		t.ticker.Reset(d)
	}
	t.log.Info("task retimed", "interval", d)
	return nil
}

// Running reports whether the loop is active.
func (t *Task) Running() bool {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

func (t *Task) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}
