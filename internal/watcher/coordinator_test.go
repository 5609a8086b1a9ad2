package watcher

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"
)

const testDebounce = 50 * time.Millisecond

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

// recorder collects runs and reports.
type recorder struct {
	mu      sync.Mutex
	runs    [][]string
	reports []Report
}

func (r *recorder) run(_ context.Context, changed []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, changed)
	return nil
}

func (r *recorder) onRun(rep Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
}

func (r *recorder) runCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func (r *recorder) reportCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reports)
}

func (r *recorder) runAt(i int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[i]
}

func startCoordinator(t *testing.T, cfg Config, run RunFunc) (*Coordinator, context.CancelFunc, <-chan error) {
	t.Helper()
	if cfg.Debounce == 0 {
		cfg.Debounce = testDebounce
	}
	c := New(cfg, run, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		errCh <- c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return c, cancel, errCh
}

func TestCoordinator_DebouncesRapidEvents(t *testing.T) {
	rec := &recorder{}
	c, _, _ := startCoordinator(t, Config{OnRun: rec.onRun}, rec.run)

	c.Notify("a.yaml")
	time.Sleep(testDebounce / 5)
	c.Notify("b.yaml")

	eventually(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return rec.reportCount() == 1
	}, "expected one run")

	time.Sleep(4 * testDebounce)
	if n := rec.runCount(); n != 1 {
		t.Fatalf("runs = %d, want exactly 1", n)
	}
	if got := rec.runAt(0); !slices.Equal(got, []string{"a.yaml", "b.yaml"}) {
		t.Errorf("changed paths = %v", got)
	}
	if c.State() != Idle {
		t.Errorf("state = %s, want idle", c.State())
	}
}

func TestCoordinator_DuplicatePathsCollapse(t *testing.T) {
	rec := &recorder{}
	c, _, _ := startCoordinator(t, Config{OnRun: rec.onRun}, rec.run)

	for range 5 {
		c.Notify("a.yaml")
	}
	eventually(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return rec.reportCount() == 1
	}, "expected one run")
	if got := rec.runAt(0); !slices.Equal(got, []string{"a.yaml"}) {
		t.Errorf("changed paths = %v", got)
	}
}

// blockingRun blocks each run until released, recording the changed paths.
type blockingRun struct {
	rec     recorder
	started chan struct{}
	release chan struct{}
}

func newBlockingRun() *blockingRun {
	return &blockingRun{started: make(chan struct{}, 10), release: make(chan struct{})}
}

func (b *blockingRun) run(ctx context.Context, changed []string) error {
	_ = b.rec.run(ctx, changed)
	b.started <- struct{}{}
	<-b.release
	return nil
}

func waitStarted(t *testing.T, b *blockingRun) {
	t.Helper()
	select {
	case <-b.started:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not start")
	}
}

func TestCoordinator_FollowUpRunForChangeDuringRun(t *testing.T) {
	b := newBlockingRun()
	rec := &recorder{}
	c, _, _ := startCoordinator(t, Config{OnRun: rec.onRun}, b.run)

	c.Notify("a.yaml")
	waitStarted(t, b)
	if c.State() != Running {
		t.Fatalf("state = %s, want running", c.State())
	}

	c.Notify("b.yaml")
	c.Notify("c.yaml")
	time.Sleep(3 * testDebounce)
	if n := b.rec.runCount(); n != 1 {
		t.Fatalf("a second run started while the first was in flight (runs = %d)", n)
	}

	b.release <- struct{}{}
	waitStarted(t, b)
	close(b.release)

	eventually(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return rec.reportCount() == 2
	}, "expected exactly one follow-up run")

	time.Sleep(3 * testDebounce)
	if n := b.rec.runCount(); n != 2 {
		t.Fatalf("runs = %d, want 2", n)
	}
	if got := b.rec.runAt(1); !slices.Equal(got, []string{"b.yaml", "c.yaml"}) {
		t.Errorf("follow-up paths = %v", got)
	}
}

func TestCoordinator_RunErrorIsReportedAndLoopContinues(t *testing.T) {
	rec := &recorder{}
	var calls int
	var mu sync.Mutex
	run := func(ctx context.Context, changed []string) error {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			return errors.New("render exploded")
		}
		return nil
	}
	c, _, _ := startCoordinator(t, Config{OnRun: rec.onRun}, run)

	c.Notify("a.yaml")
	eventually(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return rec.reportCount() == 1
	}, "expected first report")

	c.Notify("a.yaml")
	eventually(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return rec.reportCount() == 2
	}, "expected second report")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.reports[0].Err == nil || rec.reports[1].Err != nil {
		t.Errorf("reports = %+v", rec.reports)
	}
	if rec.reports[0].Seq != 1 || rec.reports[1].Seq != 2 {
		t.Errorf("seq = %d, %d", rec.reports[0].Seq, rec.reports[1].Seq)
	}
}

func TestCoordinator_PanicBecomesError(t *testing.T) {
	rec := &recorder{}
	run := func(context.Context, []string) error { panic("boom") }
	c, _, _ := startCoordinator(t, Config{OnRun: rec.onRun}, run)

	c.Notify("a.yaml")
	eventually(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return rec.reportCount() == 1
	}, "expected report")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if err := rec.reports[0].Err; err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("err = %v", err)
	}
}

func TestCoordinator_ShutdownDrainsInFlightRun(t *testing.T) {
	b := newBlockingRun()
	rec := &recorder{}
	c, cancel, errCh := startCoordinator(t, Config{OnRun: rec.onRun}, b.run)

	c.Notify("a.yaml")
	waitStarted(t, b)
	c.Notify("b.yaml")

	cancel()
	select {
	case <-errCh:
		t.Fatal("Run returned before the in-flight run finished")
	case <-time.After(3 * testDebounce):
	}

	close(b.release)
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the run finished")
	}

	if n := rec.reportCount(); n != 1 {
		t.Errorf("reports = %d, want 1", n)
	}
	if n := b.rec.runCount(); n != 1 {
		t.Errorf("pending change should be dropped on shutdown, runs = %d", n)
	}
	// Notify after stop must not block.
	c.Notify("c.yaml")
	if c.State() != Idle {
		t.Errorf("state after stop = %s", c.State())
	}
}

func TestCoordinator_RunContextOutlivesShutdown(t *testing.T) {
	b := newBlockingRun()
	var runCtx context.Context
	var mu sync.Mutex
	run := func(ctx context.Context, changed []string) error {
		mu.Lock()
		runCtx = ctx
		mu.Unlock()
		return b.run(ctx, changed)
	}
	c, cancel, errCh := startCoordinator(t, Config{}, run)

	c.Notify("a.yaml")
	waitStarted(t, b)
	cancel()
	time.Sleep(testDebounce)

	mu.Lock()
	if runCtx.Err() != nil {
		t.Error("run context must not be cancelled mid-run")
	}
	mu.Unlock()

	close(b.release)
	<-errCh
}

func TestCoordinator_WatchesFileSystem(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "generated")
	if err := os.MkdirAll(out, 0o755); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	match := func(p string) bool { return strings.HasSuffix(p, ".yaml") }
	startCoordinator(t, Config{
		Roots:  []string{root},
		Match:  match,
		Ignore: []string{out},
		OnRun:  rec.onRun,
	}, rec.run)

	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(out, "ignored.yaml"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(4 * testDebounce)
	if n := rec.runCount(); n != 0 {
		t.Fatalf("unrelated changes triggered %d runs", n)
	}

	user := filepath.Join(root, "user.yaml")
	if err := os.WriteFile(user, []byte("name: String\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	eventually(t, 3*time.Second, 20*time.Millisecond, func() bool {
		return rec.reportCount() >= 1
	}, "schema write should trigger a run")
	if got := rec.runAt(0); !slices.Contains(got, user) {
		t.Errorf("changed = %v, want %s", got, user)
	}
}

func TestCoordinator_WatchesNewDirectories(t *testing.T) {
	root := t.TempDir()
	rec := &recorder{}
	startCoordinator(t, Config{
		Roots: []string{root},
		Match: func(p string) bool { return strings.HasSuffix(p, ".yaml") },
		OnRun: rec.onRun,
	}, rec.run)

	time.Sleep(100 * time.Millisecond)

	sub := filepath.Join(root, "billing")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	invoice := filepath.Join(sub, "invoice.yaml")
	if err := os.WriteFile(invoice, []byte("total: Number\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	eventually(t, 3*time.Second, 20*time.Millisecond, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		for _, r := range rec.runs {
			if slices.Contains(r, invoice) {
				return true
			}
		}
		return false
	}, "file in a new directory should trigger a run")
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{Idle: "idle", Pending: "pending", Running: "running"} {
		if s.String() != want {
			t.Errorf("%d.String() = %q", s, s.String())
		}
	}
}
