package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Per-component warn/error tallies, reported periodically when the logger
// runs at the "report" level and inspectable from tests.
var (
	tallyMu sync.Mutex
	warns   = map[string]int64{}
	errors  = map[string]int64{}

	cyclesCompleted int64
	cyclesAborted   int64
)

func recordWarn(component string) {
	tallyMu.Lock()
	warns[component]++
	tallyMu.Unlock()
}

func recordError(component string) {
	tallyMu.Lock()
	errors[component]++
	tallyMu.Unlock()
}

// IncrementCycleCompleted records one finished analysis cycle.
func IncrementCycleCompleted() {
	atomic.AddInt64(&cyclesCompleted, 1)
}

// IncrementCycleAborted records one cycle that ended before notification.
func IncrementCycleAborted() {
	atomic.AddInt64(&cyclesAborted, 1)
}

// Tally returns the warn and error counts recorded for a component.
func Tally(component string) (warnCount, errorCount int64) {
	tallyMu.Lock()
	defer tallyMu.Unlock()
	return warns[component], errors[component]
}

func snapshotTallies() (map[string]int64, map[string]int64) {
	tallyMu.Lock()
	defer tallyMu.Unlock()
	w := make(map[string]int64, len(warns))
	for k, v := range warns {
		w[k] = v
	}
	e := make(map[string]int64, len(errors))
	for k, v := range errors {
		e[k] = v
	}
	return w, e
}

// StartReport periodically logs a process health summary until the context is
// cancelled. Enabled when the configured log level is "report".
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w, e := snapshotTallies()
				log.WithComponent("report").WithFields(Fields{
					"goroutines":       runtime.NumGoroutine(),
					"warns":            w,
					"errors":           e,
					"cycles_completed": atomic.LoadInt64(&cyclesCompleted),
					"cycles_aborted":   atomic.LoadInt64(&cyclesAborted),
				}).Info("process health report")
			}
		}
	}()
}
