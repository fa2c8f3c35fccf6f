// Package watcher ingests CSV files dropped into a directory.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"loanmatch/pkg/ingest"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

const (
	ProcessedDir = "processed"
	FailedDir    = "failed"

	DefaultDebounce = 300 * time.Millisecond
)

// Ingester is satisfied by *ingest.Service.
type Ingester interface {
	Ingest(ctx context.Context, filename string, body io.Reader) (ingest.Result, error)
}

type Watcher struct {
	dir      string
	debounce time.Duration
	ing      Ingester
	logger   *log.Logger
}

func New(dir string, debounce time.Duration, ing Ingester, logger *log.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{dir: dir, debounce: debounce, ing: ing, logger: logger.With("component", "watcher", "dir", dir)}
}

// Run ingests the CSV files already in the directory, then every new one, until
// ctx is cancelled. Files are handled one at a time.
func (w *Watcher) Run(ctx context.Context) error {
	for _, sub := range []string{ProcessedDir, FailedDir} {
		if err := os.MkdirAll(filepath.Join(w.dir, sub), 0o755); err != nil {
			return err
		}
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	if _, err := w.ProcessExisting(ctx); err != nil {
		return err
	}
	w.logger.Info("watching for CSV files", "debounce", w.debounce)

	// a file is picked up once no event touched it for the debounce period
	pending := map[string]time.Time{}
	tick := w.debounce / 2
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if filepath.Dir(ev.Name) != filepath.Clean(w.dir) || !ingest.IsCSVName(ev.Name) {
				continue
			}
			pending[filepath.Base(ev.Name)] = time.Now()
		case <-ticker.C:
			now := time.Now()
			var ready []string
			for name, t := range pending {
				if now.Sub(t) >= w.debounce {
					ready = append(ready, name)
					delete(pending, name)
				}
			}
			sort.Strings(ready)
			for _, name := range ready {
				w.processFile(ctx, name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "err", err)
		}
	}
}

// ProcessExisting ingests every CSV file currently in the directory in name order.
func (w *Watcher) ProcessExisting(ctx context.Context) (int, error) {
	names, err := listCSVFiles(w.dir)
	if err != nil {
		return 0, err
	}
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		w.processFile(ctx, name)
	}
	return len(names), nil
}

func listCSVFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !ingest.IsCSVName(e.Name()) {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}

// processFile ingests one file and moves it to processed/ or, on a whole-file
// error, to failed/. Any other error leaves the file in place for the next run.
func (w *Watcher) processFile(ctx context.Context, name string) {
	src := filepath.Join(w.dir, name)
	f, err := os.Open(src)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			w.logger.Warn("open failed", "file", name, "err", err)
		}
		return
	}
	res, err := w.ing.Ingest(ctx, name, f)
	f.Close()

	dest := ProcessedDir
	if err != nil {
		var ferr *ingest.FileError
		if !errors.As(err, &ferr) {
			w.logger.Error("ingest failed, leaving file in place", "file", name, "err", err)
			return
		}
		dest = FailedDir
		w.logger.Warn("file rejected", "file", name, "upload_id", res.UploadID, "err", err)
	} else {
		w.logger.Info("file ingested", "file", name, "upload_id", res.UploadID, "successful", res.Successful, "failed", res.Failed)
	}
	if err := moveFile(src, filepath.Join(w.dir, dest)); err != nil {
		w.logger.Error("move failed", "file", name, "dest", dest, "err", err)
	}
}

// moveFile moves src into dir, keeping its name unless that is taken. It tries
// a rename first and falls back to copy+remove.
func moveFile(src, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	name := filepath.Base(src)
	dst := filepath.Join(dir, name)
	if _, err := os.Stat(dst); err == nil {
		dst = filepath.Join(dir, fmt.Sprintf("%d-%s", time.Now().UnixNano(), name))
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	return copyRemove(src, dst)
}

func copyRemove(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
