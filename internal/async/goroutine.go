package async

import (
	"context"
	"runtime/debug"
	"time"
)

// PanicLogger captures panic reports from background goroutines.
type PanicLogger interface {
	Error(format string, args ...any)
}

// Go runs fn in a goroutine guarded by panic recovery.
func Go(logger PanicLogger, name string, fn func()) {
	go func() {
		defer Recover(logger, name)
		fn()
	}()
}

// Every runs fn once per interval until ctx is done. A panic inside one run
// is logged and the loop keeps ticking. The returned channel closes when the
// loop exits.
func Every(ctx context.Context, logger PanicLogger, name string, interval time.Duration, fn func(ctx context.Context)) <-chan struct{} {
	done := make(chan struct{})
	if interval <= 0 {
		close(done)
		return done
	}
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runGuarded(ctx, logger, name, fn)
			}
		}
	}()
	return done
}

func runGuarded(ctx context.Context, logger PanicLogger, name string, fn func(ctx context.Context)) {
	defer Recover(logger, name)
	fn(ctx)
}

// Recover logs panic details without crashing the process.
func Recover(logger PanicLogger, name string) {
	if r := recover(); r != nil {
		if logger == nil {
			return
		}
		if name == "" {
			logger.Error("goroutine panic: %v, stack: %s", r, debug.Stack())
			return
		}
		logger.Error("goroutine panic [%s]: %v, stack: %s", name, r, debug.Stack())
	}
}
