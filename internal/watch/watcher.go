// Package watch reports model checkpoints written by a training process.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// checkpointPattern matches the index file written once per saved checkpoint.
var checkpointPattern = regexp.MustCompile(`^model\.ckpt-(\d+)\.index$`)

// Checkpoint is a checkpoint observed on disk.
type Checkpoint struct {
	Path       string
	GlobalStep int64
	SeenAt     time.Time
}

// ParseCheckpoint reports whether name is a checkpoint index file and, if so,
// its global step.
func ParseCheckpoint(name string) (int64, bool) {
	m := checkpointPattern.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return 0, false
	}
	step, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return step, true
}

// CheckpointWatcher watches a single directory for new checkpoints.
//
// Checkpoints already present when Run starts are treated as a baseline and
// are not reported. Each checkpoint is reported at most once.
type CheckpointWatcher struct {
	Dir    string
	Logger *zap.Logger

	mu   sync.Mutex
	seen map[string]struct{}

	ready     chan struct{}
	readyOnce sync.Once
}

// NewCheckpointWatcher creates a watcher for dir.
func NewCheckpointWatcher(dir string, logger *zap.Logger) *CheckpointWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir != "" {
		dir = filepath.Clean(dir)
	}
	return &CheckpointWatcher{Dir: dir, Logger: logger, seen: make(map[string]struct{}), ready: make(chan struct{})}
}

// Ready is closed once Run has taken its baseline and is watching, or has
// given up. Files written after that are reported.
func (w *CheckpointWatcher) Ready() <-chan struct{} {
	return w.ready
}

func (w *CheckpointWatcher) markReady() {
	if w.ready == nil {
		return
	}
	w.readyOnce.Do(func() { close(w.ready) })
}

// Run blocks until ctx is done, calling emit for every new checkpoint.
//
// emit is called from the Run goroutine only. A final directory scan runs
// after ctx ends so checkpoints written just before the process exited are
// not lost.
func (w *CheckpointWatcher) Run(ctx context.Context, emit func(Checkpoint)) error {
	defer w.markReady()
	if w.Dir == "" {
		return fmt.Errorf("watch dir is empty")
	}
	if emit == nil {
		emit = func(Checkpoint) {}
	}
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("create watch dir: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.Dir, err)
	}

	// Baseline after Add so nothing written in between is missed.
	for _, cp := range w.scan() {
		w.markSeen(cp.Path)
	}
	w.markReady()
	w.Logger.Debug("watching for checkpoints", zap.String("dir", w.Dir))

	for {
		select {
		case <-ctx.Done():
			for _, cp := range w.scan() {
				if w.markSeen(cp.Path) {
					emit(cp)
				}
			}
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
				continue
			}
			step, ok := ParseCheckpoint(ev.Name)
			if !ok {
				continue
			}
			if w.markSeen(ev.Name) {
				emit(Checkpoint{Path: ev.Name, GlobalStep: step, SeenAt: time.Now()})
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.Logger.Warn("checkpoint watcher error", zap.String("dir", w.Dir), zap.Error(err))
		}
	}
}

func (w *CheckpointWatcher) markSeen(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seen == nil {
		w.seen = make(map[string]struct{})
	}
	if _, ok := w.seen[path]; ok {
		return false
	}
	w.seen[path] = struct{}{}
	return true
}

// scan lists checkpoints currently in Dir ordered by global step.
func (w *CheckpointWatcher) scan() []Checkpoint {
	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		if !os.IsNotExist(err) {
			w.Logger.Warn("scan checkpoint dir", zap.String("dir", w.Dir), zap.Error(err))
		}
		return nil
	}
	now := time.Now()
	out := make([]Checkpoint, 0)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		step, ok := ParseCheckpoint(e.Name())
		if !ok {
			continue
		}
		out = append(out, Checkpoint{Path: filepath.Join(w.Dir, e.Name()), GlobalStep: step, SeenAt: now})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GlobalStep < out[j].GlobalStep })
	return out
}
