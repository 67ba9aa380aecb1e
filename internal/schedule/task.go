// Package schedule runs recurring background work with an explicit
// start/stop lifecycle.
package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// Task runs Run every Interval between Start and Stop. Ticks that arrive
// while a run is still going are dropped.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
	Clock    clockwork.Clock
	Logger   logrus.FieldLogger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Start launches the loop. It is a no-op if the task is already running.
// The loop stops when ctx is done or Stop is called.
func (t *Task) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return
	}
	if t.Clock == nil {
		t.Clock = clockwork.NewRealClock()
	}
	if t.Logger == nil {
		t.Logger = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.loop(ctx, t.Clock.NewTicker(t.Interval), t.done)
}

func (t *Task) loop(ctx context.Context, ticker clockwork.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()
	log := t.Logger.WithFields(logrus.Fields{"task": t.Name, "interval": t.Interval})
	log.Debug("scheduled task started")
	for {
		select {
		case <-ctx.Done():
			log.Debug("scheduled task stopped")
			return
		case <-ticker.Chan():
			t.Run(ctx)
		}
	}
}

// Stop cancels the loop and waits for it to exit. It is safe to call more
// than once and on a task that was never started.
func (t *Task) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the loop is active.
func (t *Task) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}
