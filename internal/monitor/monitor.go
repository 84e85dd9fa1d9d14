// Package monitor records filesystem activity in a worktree while an
// agent edits it. One watcher runs per joint-implementation round; its
// collected lines land next to the round's diff as an activity log.
package monitor

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/duetctl/duet/internal/logging"
	"github.com/duetctl/duet/internal/worktree"
)

// Watcher records events under one worktree until stopped.
type Watcher struct {
	fs   *fsnotify.Watcher
	root string
	log  *logging.Logger

	mu    sync.Mutex
	lines []string
	done  chan struct{}
}

// Watch starts recording activity under root, including subdirectories
// outside the housekeeping exclusion set. Directories created while
// watching are added as they appear.
func Watch(root string, log *logging.Logger) (*Watcher, error) {
	if log == nil {
		log = logging.NopLogger()
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watching %s: %w", root, err)
	}

	w := &Watcher{fs: fs, root: root, log: log, done: make(chan struct{})}
	if err := w.addTree(root); err != nil {
		fs.Close()
		return nil, fmt.Errorf("watching %s: %w", root, err)
	}

	go w.collect()
	return w, nil
}

// Stop ends recording and returns the collected activity lines in event
// order.
func (w *Watcher) Stop() []string {
	w.fs.Close()
	<-w.done

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lines
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && worktree.Excluded(d.Name()) {
			return filepath.SkipDir
		}
		return w.fs.Add(path)
	})
}

func (w *Watcher) collect() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.record(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Debug("watch error", "error", err)
		}
	}
}

func (w *Watcher) record(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		rel = ev.Name
	}
	if topLevel := firstComponent(rel); worktree.Excluded(topLevel) {
		return
	}

	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && !worktree.Excluded(info.Name()) {
			_ = w.fs.Add(ev.Name)
		}
	}

	w.mu.Lock()
	w.lines = append(w.lines, fmt.Sprintf("%s %s %s",
		time.Now().UTC().Format(time.RFC3339), ev.Op, filepath.ToSlash(rel)))
	w.mu.Unlock()
}

func firstComponent(rel string) string {
	for i := 0; i < len(rel); i++ {
		if os.IsPathSeparator(rel[i]) {
			return rel[:i]
		}
	}
	return rel
}
