package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

// TestWatcherDebouncesBurst tests that a burst of writes fires once
func TestWatcherDebouncesBurst(t *testing.T) {
	dir := t.TempDir()

	var fired atomic.Int32
	w, err := NewWatcher([]string{dir}, 100*time.Millisecond, func() {
		fired.Add(1)
	}, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	for i := 0; i < 5; i++ {
		path := filepath.Join(dir, "handlers.py")
		if err := os.WriteFile(path, []byte("change"), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	deadline := time.Now().Add(2 * time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if got := fired.Load(); got != 1 {
		t.Errorf("expected exactly one trigger for the burst, got %d", got)
	}
}

// TestWatcherSeparateBursts tests that settled bursts fire separately
func TestWatcherSeparateBursts(t *testing.T) {
	dir := t.TempDir()

	var fired atomic.Int32
	w, err := NewWatcher([]string{dir}, 50*time.Millisecond, func() {
		fired.Add(1)
	}, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	path := filepath.Join(dir, "app.py")
	for i := 0; i < 2; i++ {
		if err := os.WriteFile(path, []byte{byte(i)}, 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(300 * time.Millisecond)
	}

	if got := fired.Load(); got != 2 {
		t.Errorf("expected two triggers, got %d", got)
	}
}

// TestRelevantFiltersNoise tests the event filter
func TestRelevantFiltersNoise(t *testing.T) {
	tests := []struct {
		ev   fsnotify.Event
		want bool
	}{
		{fsnotify.Event{Name: "a.py", Op: fsnotify.Write}, true},
		{fsnotify.Event{Name: "a.py", Op: fsnotify.Create}, true},
		{fsnotify.Event{Name: "a.py", Op: fsnotify.Chmod}, false},
		{fsnotify.Event{Name: ".a.py.swp", Op: fsnotify.Write}, false},
		{fsnotify.Event{Name: "b.tmp", Op: fsnotify.Write}, false},
	}
	for _, tt := range tests {
		if got := relevant(tt.ev); got != tt.want {
			t.Errorf("relevant(%v %s) = %v, want %v", tt.ev.Op, tt.ev.Name, got, tt.want)
		}
	}
}
