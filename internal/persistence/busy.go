package persistence

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"
)

// retryOnBusy reruns write while sqlite reports the database busy or locked.
// The driver's busy_timeout covers most contention; this handles a second
// process holding the write lock for longer, e.g. `refine status` during a run.
func retryOnBusy(ctx context.Context, maxRetries int, write func() error) error {
	delay := 50 * time.Millisecond
	for attempt := 0; ; attempt++ {
		err := write()
		if err == nil || !isBusy(err) || attempt >= maxRetries {
			return err
		}
		wait := delay/2 + time.Duration(rand.Int64N(int64(delay/2)+1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		if delay < 500*time.Millisecond {
			delay *= 2
		}
	}
}

func isBusy(err error) bool {
	msg := err.Error()
	for _, marker := range []string{"database is locked", "database table is locked", "SQLITE_BUSY", "SQLITE_LOCKED"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
