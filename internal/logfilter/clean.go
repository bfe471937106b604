package logfilter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// CleanSuffix is appended to a log path to name its cleaned copy.
const CleanSuffix = ".clean"

// Clean writes a filtered copy of the log at src to dst.
// An empty dst writes to src + CleanSuffix.
func Clean(src, dst string, f *Filter) (Stats, error) {
	if dst == "" {
		dst = src + CleanSuffix
	}

	in, err := os.Open(src)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to open log: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to create cleaned log: %w", err)
	}
	defer out.Close()

	bw := bufio.NewWriter(out)
	w := NewWriter(bw, f)
	if _, err := io.Copy(w, in); err != nil {
		return w.Stats(), fmt.Errorf("failed to filter log: %w", err)
	}
	if err := w.Close(); err != nil {
		return w.Stats(), fmt.Errorf("failed to filter log: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return w.Stats(), fmt.Errorf("failed to write cleaned log: %w", err)
	}
	return w.Stats(), out.Close()
}

// WaitForFile blocks until path exists or ctx is done.
// The parent directory must already exist.
func WaitForFile(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	// The file may have appeared before the watch was in place
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	want := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", path, ctx.Err())
		case ev, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			if filepath.Clean(ev.Name) == want && (ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write)) {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}
}
