package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
)

func newTestWatcher(t *testing.T, root string, trigger Trigger) (*Watcher, *clockwork.FakeClock) {
	t.Helper()

	w, err := New(root, trigger)
	if err != nil {
		t.Fatalf("create watcher: %v", err)
	}

	fakeClock := clockwork.NewFakeClock()
	w.clock = fakeClock

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go w.Run(ctx)

	return w, fakeClock
}

func TestWatcherTriggersAfterQuietPeriod(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	triggered := make(chan struct{}, 1)
	_, fakeClock := newTestWatcher(t, root, func() {
		select {
		case triggered <- struct{}{}:
		default:
		}
	})

	if err := os.WriteFile(filepath.Join(root, "new.mp3"), []byte("audio"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	// The debounce timer is created once the event is consumed.
	if err := fakeClock.BlockUntilContext(contextWithTimeout(t), 1); err != nil {
		t.Fatalf("timer never armed: %v", err)
	}
	fakeClock.Advance(debounceDelay)

	select {
	case <-triggered:
	case <-time.After(5 * time.Second):
		t.Fatal("trigger did not fire after quiet period")
	}
}

func TestWatcherCoalescesBursts(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	triggered := make(chan struct{}, 16)
	_, fakeClock := newTestWatcher(t, root, func() {
		triggered <- struct{}{}
	})

	for _, name := range []string{"a.mp3", "b.mp3", "c.mp3"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte("audio"), 0o644); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}

	if err := fakeClock.BlockUntilContext(contextWithTimeout(t), 1); err != nil {
		t.Fatalf("timer never armed: %v", err)
	}

	// Give the run loop a moment to drain the burst, then let time pass.
	time.Sleep(100 * time.Millisecond)
	fakeClock.Advance(debounceDelay)

	select {
	case <-triggered:
	case <-time.After(5 * time.Second):
		t.Fatal("trigger did not fire")
	}

	select {
	case <-triggered:
		t.Fatal("burst produced more than one trigger")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRelevantFiltersEvents(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dir := filepath.Join(root, "album")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	w, err := New(root, func() {})
	if err != nil {
		t.Fatalf("create watcher: %v", err)
	}
	t.Cleanup(func() { w.fsWatcher.Close() })

	cases := []struct {
		name  string
		event fsnotify.Event
		want  bool
	}{
		{"audio write", fsnotify.Event{Name: filepath.Join(root, "a.mp3"), Op: fsnotify.Write}, true},
		{"text write", fsnotify.Event{Name: filepath.Join(root, "notes.txt"), Op: fsnotify.Write}, false},
		{"dir create", fsnotify.Event{Name: dir, Op: fsnotify.Create}, true},
		{"text create", fsnotify.Event{Name: filepath.Join(root, "notes.txt"), Op: fsnotify.Create}, false},
		{"dir remove", fsnotify.Event{Name: filepath.Join(root, "gone"), Op: fsnotify.Remove}, true},
		{"text remove", fsnotify.Event{Name: filepath.Join(root, "notes.txt"), Op: fsnotify.Remove}, false},
		{"sentinel dir", fsnotify.Event{Name: filepath.Join(root, "parking"), Op: fsnotify.Create}, false},
	}

	for _, tc := range cases {
		if got := w.relevant(tc.event); got != tc.want {
			t.Errorf("%s: relevant = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func contextWithTimeout(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
