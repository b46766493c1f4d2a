package streamer

import (
	"context"
	"time"
)

// DefaultReadinessPollInterval matches the 500ms cadence the transcoder start
// was tuned against.
const DefaultReadinessPollInterval = 500 * time.Millisecond

// AwaitReadiness blocks until the file has at least minBytes downloaded or the
// download has completed, whichever comes first. Completion short-circuits so
// files smaller than minBytes still become ready.
//
// The wait polls on a fixed interval with no retry cap: a stalled download
// simply delays activation until the caller's context is cancelled or the
// idle reaper reclaims the session.
func AwaitReadiness(ctx context.Context, file DownloadFile, dl Download, minBytes int64, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultReadinessPollInterval
	}

	ready := func() bool {
		return file.BytesCompleted() >= minBytes || dl.Complete()
	}

	if ready() {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if ready() {
				return nil
			}
		}
	}
}
