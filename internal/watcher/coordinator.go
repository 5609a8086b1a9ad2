// Package watcher turns file system change events into debounced,
// serialized generation runs.
//
// A Coordinator owns its whole state machine from a single event-loop
// goroutine: events arrive on channels (fsnotify, or Notify), a debounce
// timer fires the run, and run completion comes back on a channel. Only
// one run is ever in flight; changes that arrive during a run are
// collected and trigger exactly one follow-up run.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is used when Config.Debounce is zero.
const DefaultDebounce = 300 * time.Millisecond

// State is the coordinator's scheduling state.
type State int

// Coordinator states.
const (
	Idle State = iota
	Pending
	Running
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// RunFunc performs one generation run for the changed paths.
type RunFunc func(ctx context.Context, changed []string) error

// Report describes one completed run.
type Report struct {
	Seq       int
	Paths     []string
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// Config configures a Coordinator.
type Config struct {
	// Roots are the directories watched recursively. With no roots the
	// coordinator only reacts to Notify.
	Roots []string
	// Debounce is the quiet period required before a run starts.
	Debounce time.Duration
	// Match reports whether a file path is a schema source. Nil matches
	// everything.
	Match func(path string) bool
	// Ignore lists paths (files or directories) whose events are dropped,
	// typically the generated output.
	Ignore []string
	// OnRun is called from the event loop after every run.
	OnRun func(Report)
}

// Coordinator debounces change events and serializes runs.
type Coordinator struct {
	cfg    Config
	run    RunFunc
	logger *slog.Logger

	events   chan string
	stateReq chan chan State
	done     chan struct{}
}

// New creates a Coordinator. Call Run to start it.
func New(cfg Config, run RunFunc, logger *slog.Logger) *Coordinator {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cfg:      cfg,
		run:      run,
		logger:   logger,
		events:   make(chan string, 256),
		stateReq: make(chan chan State),
		done:     make(chan struct{}),
	}
}

// Notify injects a change event for path. It is dropped once the
// coordinator has stopped.
func (c *Coordinator) Notify(path string) {
	select {
	case c.events <- path:
	case <-c.done:
	}
}

// State returns the current scheduling state. After the coordinator has
// stopped it reports Idle.
func (c *Coordinator) State() State {
	reply := make(chan State, 1)
	select {
	case c.stateReq <- reply:
		return <-reply
	case <-c.done:
		return Idle
	}
}

// Run watches the configured roots and schedules runs until ctx is
// cancelled. An in-flight run is allowed to finish before Run returns;
// pending changes that have not started are dropped.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.done)

	if len(c.cfg.Roots) > 0 {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("watcher: create: %w", err)
		}
		defer w.Close()
		for _, root := range c.cfg.Roots {
			if err := c.addDirsRecursive(w, root); err != nil {
				return fmt.Errorf("watcher: watch %s: %w", root, err)
			}
			c.logger.Info("watcher: started", slog.String("root", root))
		}
		go c.pump(ctx, w)
	}

	var (
		state   = Idle
		pending = make(map[string]struct{})
		timer   *time.Timer
		timerC  <-chan time.Time
		runDone = make(chan Report, 1)
		seq     int
	)

	restartTimer := func() {
		if timer == nil {
			timer = time.NewTimer(c.cfg.Debounce)
			timerC = timer.C
			return
		}
		timer.Reset(c.cfg.Debounce)
	}

	enqueue := func(path string) {
		pending[path] = struct{}{}
		if state == Idle {
			state = Pending
		}
		restartTimer()
	}

	start := func() {
		batch := make([]string, 0, len(pending))
		for p := range pending {
			batch = append(batch, p)
		}
		slices.Sort(batch)
		clear(pending)
		seq++
		state = Running
		c.logger.Debug("watcher: run starting", slog.Int("seq", seq), slog.Int("paths", len(batch)))
		go func(seq int) {
			runDone <- c.execute(context.WithoutCancel(ctx), seq, batch)
		}(seq)
	}

	finish := func(rep Report) {
		if rep.Err != nil {
			c.logger.Error("watcher: run failed",
				slog.Int("seq", rep.Seq),
				slog.String("error", rep.Err.Error()))
		}
		if c.cfg.OnRun != nil {
			c.cfg.OnRun(rep)
		}
		if len(pending) > 0 {
			state = Pending
			restartTimer()
			return
		}
		state = Idle
	}

	for {
		select {
		case <-ctx.Done():
			if state == Running {
				c.logger.Info("watcher: waiting for in-flight run")
				finish(<-runDone)
			}
			if timer != nil {
				timer.Stop()
			}
			if n := len(pending); n > 0 {
				c.logger.Info("watcher: dropping pending changes", slog.Int("paths", n))
			}
			c.logger.Info("watcher: stopped")
			return nil

		case reply := <-c.stateReq:
			reply <- state

		case path := <-c.events:
			enqueue(path)

		case <-timerC:
			if state == Pending {
				start()
			}

		case rep := <-runDone:
			finish(rep)
		}
	}
}

func (c *Coordinator) execute(ctx context.Context, seq int, paths []string) (rep Report) {
	rep = Report{Seq: seq, Paths: paths, StartedAt: time.Now()}
	defer func() {
		if r := recover(); r != nil {
			rep.Err = fmt.Errorf("watcher: run panicked: %v", r)
		}
		rep.Duration = time.Since(rep.StartedAt)
	}()
	rep.Err = c.run(ctx, paths)
	return rep
}

// pump translates fsnotify events into Notify calls.
func (c *Coordinator) pump(ctx context.Context, w *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if c.ignored(ev.Name) || ev.Op == fsnotify.Chmod {
				continue
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := c.addDirsRecursive(w, ev.Name); addErr != nil {
						c.logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
						continue
					}
					c.logger.Debug("watcher: watching new dir", slog.String("path", ev.Name))
					c.notifyDir(ev.Name)
					continue
				}
			}

			switch {
			case c.match(ev.Name):
				c.Notify(ev.Name)
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 && filepath.Ext(ev.Name) == "":
				// a removed or renamed directory takes its schema files with it
				c.Notify(ev.Name)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return
			}
			c.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// notifyDir reports every schema file already present in a new directory.
func (c *Coordinator) notifyDir(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if c.match(path) && !c.ignored(path) {
			c.Notify(path)
		}
		return nil
	})
}

func (c *Coordinator) match(path string) bool {
	return c.cfg.Match == nil || c.cfg.Match(path)
}

func (c *Coordinator) ignored(path string) bool {
	for _, ig := range c.cfg.Ignore {
		if path == ig || strings.HasPrefix(path, ig+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// addDirsRecursive adds root and all its subdirectories to the watcher,
// skipping hidden and ignored directories.
func (c *Coordinator) addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path != root {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && (strings.HasPrefix(d.Name(), ".") || c.ignored(path)) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
