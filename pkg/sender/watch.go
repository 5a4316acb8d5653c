package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rescp17/meshxfer/internal/app_events/sender"
	"github.com/rescp17/meshxfer/pkg/concurrency"
	"github.com/rescp17/meshxfer/pkg/fileInfo"
	"golang.org/x/sync/errgroup"
)

// DefaultSettle is how long a file must stay untouched before it is sent
const DefaultSettle = 2 * time.Second

// SendFunc transfers one file found by a Watcher
type SendFunc func(ctx context.Context, file fileInfo.FileNode) error

type fileStamp struct {
	size    int64
	modTime time.Time
}

// Watcher sends every regular file that appears in a directory, one at a
// time, once it has stopped changing. Dotfiles are ignored, which also skips
// the receiver's partial files.
type Watcher struct {
	dir    string
	settle time.Duration
	send   SendFunc

	sent map[string]fileStamp // owned by the send worker
}

func NewWatcher(dir string, settle time.Duration, send SendFunc) *Watcher {
	if settle <= 0 {
		settle = DefaultSettle
	}
	return &Watcher{
		dir:    dir,
		settle: settle,
		send:   send,
		sent:   make(map[string]fileStamp),
	}
}

// Run watches until ctx is done. Files already in the directory are sent
// first.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	slog.Info("Monitoring directory", "dir", w.dir)

	pending := make(map[string]time.Time)
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", w.dir, err)
	}
	for _, e := range entries {
		if eligible(e.Name()) && e.Type().IsRegular() {
			pending[filepath.Join(w.dir, e.Name())] = time.Time{}
		}
	}

	queue := make(chan string, 256)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case path := <-queue:
				w.process(ctx, path)
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(w.settle / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case event, ok := <-fw.Events:
				if !ok {
					return nil
				}
				if (event.Has(fsnotify.Create) || event.Has(fsnotify.Write)) && eligible(filepath.Base(event.Name)) {
					pending[event.Name] = time.Now()
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return nil
				}
				slog.Warn("Watcher error", "dir", w.dir, "error", err)
			case now := <-ticker.C:
				for _, path := range settled(pending, now, w.settle) {
					delete(pending, path)
					select {
					case queue <- path:
					case <-ctx.Done():
						return nil
					}
				}
			}
		}
	})

	return g.Wait()
}

// settled returns the pending paths untouched for at least settle, oldest
// first.
func settled(pending map[string]time.Time, now time.Time, settle time.Duration) []string {
	var ready []string
	for path, last := range pending {
		if now.Sub(last) >= settle {
			ready = append(ready, path)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if !pending[ready[i]].Equal(pending[ready[j]]) {
			return pending[ready[i]].Before(pending[ready[j]])
		}
		return ready[i] < ready[j]
	})
	return ready
}

func eligible(name string) bool {
	return name != "" && !strings.HasPrefix(name, ".")
}

func (w *Watcher) process(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}
	stamp := fileStamp{size: info.Size(), modTime: info.ModTime()}
	if prev, ok := w.sent[path]; ok && prev == stamp {
		slog.Debug("Skipping unchanged file", "path", path)
		return
	}

	node, err := fileInfo.CreateNode(path)
	if err != nil {
		slog.Warn("Skipping file", "path", path, "error", err)
		return
	}

	slog.Info("Starting transfer for watched file", "path", path)
	if err := w.send(ctx, node); err != nil {
		if errors.Is(err, concurrency.ErrBusy) {
			slog.Warn("Sender busy, file will be retried on its next change", "path", path)
			return
		}
		slog.Error("Transfer of watched file failed", "path", path, "error", err)
		return
	}
	w.sent[path] = stamp
	slog.Info("Completed transfer for watched file", "path", path)
}

// Watch sends files appearing in dir to dest until ctx is done.
func (a *App) Watch(ctx context.Context, dir, dest string, settle time.Duration) error {
	w := NewWatcher(dir, settle, func(ctx context.Context, file fileInfo.FileNode) error {
		a.notify(ctx, sender.TransferStartedMsg{File: file, Dest: dest})
		result, err := a.SendFile(ctx, file, dest, 0)
		if err != nil {
			a.notify(ctx, sender.TransferFailedMsg{FileName: file.Name, Err: err, ResumeFrom: ResumePoint(result, err, 0)})
			return err
		}
		a.notify(ctx, sender.TransferCompleteMsg{Result: result})
		return nil
	})
	return w.Run(ctx)
}
