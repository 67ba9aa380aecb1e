package acquisition

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/aaron/tierhub/internal/player"
	"github.com/aaron/tierhub/internal/schedule"
)

var dataClasses = []player.DataClass{player.ClassPosition, player.ClassAggregate}

// StartAutoRefresh starts one periodic task per data class. Each tick
// refreshes the watched keys of that class that are no longer fresh.
// Calling it again while tasks are running is a no-op.
func (o *Orchestrator) StartAutoRefresh(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.tasks) > 0 {
		return
	}
	for _, class := range dataClasses {
		task := &schedule.Task{
			Name:     "refresh-" + string(class),
			Interval: o.intervals[class],
			Clock:    o.clock,
			Logger:   o.log,
			Run: func(ctx context.Context) {
				o.refreshClass(ctx, class)
			},
		}
		task.Start(ctx)
		o.tasks = append(o.tasks, task)
	}
	o.log.WithFields(logrus.Fields{
		"position_interval":  o.intervals[player.ClassPosition].String(),
		"aggregate_interval": o.intervals[player.ClassAggregate].String(),
	}).Info("auto-refresh started")
}

// StopAutoRefresh stops the periodic tasks and waits for them to exit.
func (o *Orchestrator) StopAutoRefresh() {
	o.mu.Lock()
	tasks := o.tasks
	o.tasks = nil
	o.mu.Unlock()
	for _, t := range tasks {
		t.Stop()
	}
	if len(tasks) > 0 {
		o.log.Info("auto-refresh stopped")
	}
}

// AutoRefreshing reports whether the periodic tasks are running.
func (o *Orchestrator) AutoRefreshing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.tasks) > 0
}

// Stop stops auto-refresh and aborts in-flight fetches.
func (o *Orchestrator) Stop() {
	o.StopAutoRefresh()
	o.baseCancel()
}

func (o *Orchestrator) refreshClass(ctx context.Context, class player.DataClass) {
	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for _, key := range o.watchedKeys(class) {
		if !o.cache.NeedsRefresh(key) {
			continue
		}
		g.Go(func() error {
			select {
			case <-o.refreshChan(key):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	_ = g.Wait()
}

// Warm fetches every warm key concurrently and reports how many succeeded.
// Failures are logged by the fetch and otherwise ignored; queries for those
// keys degrade to the sample.
func (o *Orchestrator) Warm(ctx context.Context) int {
	var (
		g  errgroup.Group
		ok = make(chan struct{}, len(o.warm))
	)
	g.SetLimit(o.concurrency)
	for _, key := range o.warm {
		g.Go(func() error {
			select {
			case r := <-o.refreshChan(key):
				if r.Err == nil {
					ok <- struct{}{}
				}
			case <-ctx.Done():
			}
			return nil
		})
	}
	_ = g.Wait()
	close(ok)
	n := len(ok)
	o.log.WithFields(logrus.Fields{"warmed": n, "keys": len(o.warm)}).Info("cache warm-up done")
	return n
}

// WatchedKeys returns every key auto-refresh currently tracks.
func (o *Orchestrator) WatchedKeys() []player.Key {
	var keys []player.Key
	for _, class := range dataClasses {
		keys = append(keys, o.watchedKeys(class)...)
	}
	return keys
}
