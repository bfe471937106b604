package batch

import (
	"log/slog"
	"os"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/jackzampolin/sarproc/internal/paths"
)

// Cleaner removes an item's temporary files. It never fails the batch.
type Cleaner interface {
	Clean(p paths.Paths)
}

// FileCleaner deletes intermediates and the DEM from disk. Removal on
// network filesystems can fail transiently, so each path is retried.
type FileCleaner struct {
	Logger   *slog.Logger
	Attempts uint
	Delay    time.Duration
}

// Clean removes every temporary of p. Paths that are already gone are fine.
func (c *FileCleaner) Clean(p paths.Paths) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attempts := c.Attempts
	if attempts == 0 {
		attempts = 3
	}
	delay := c.Delay
	if delay == 0 {
		delay = 500 * time.Millisecond
	}

	for _, path := range p.Temporaries() {
		err := retry.Do(
			func() error { return os.RemoveAll(path) },
			retry.Attempts(attempts),
			retry.Delay(delay),
			retry.LastErrorOnly(true),
		)
		if err != nil {
			logger.Warn("failed to remove temporary file", "path", path, "error", err)
		}
	}
}
