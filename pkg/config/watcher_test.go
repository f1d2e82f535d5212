package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type reloadEvent struct {
	lc      *LoadedConfig
	changes []Change
	err     error
}

func TestWatcher_Reload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.rb")
	original := RenderRuby(referenceProject())
	if err := os.WriteFile(path, []byte(original), 0644); err != nil {
		t.Fatal(err)
	}

	loader := newTestLoader(t, LoadOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := NewWatcher(ctx, loader, path, testLogger())
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	w.SetDebounce(20 * time.Millisecond)

	events := make(chan reloadEvent, 16)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(lc *LoadedConfig, changes []Change, err error) {
			events <- reloadEvent{lc: lc, changes: changes, err: err}
		})
	}()

	// Keep rewriting until the watcher has registered and picked one up.
	waitFor := func(content string) reloadEvent {
		t.Helper()
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		deadline := time.After(10 * time.Second)

		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		for {
			select {
			case ev := <-events:
				return ev
			case <-ticker.C:
				if err := os.WriteFile(path, []byte(content), 0644); err != nil {
					t.Fatal(err)
				}
			case <-deadline:
				t.Fatal("timed out waiting for reload")
			}
		}
	}

	changed := strings.Replace(original, ":compressed", ":expanded", 1)
	ev := waitFor(changed)
	if ev.err != nil {
		t.Fatalf("unexpected reload error: %v", ev.err)
	}
	if len(ev.changes) != 1 || ev.changes[0].Key != KeyOutputStyle {
		t.Errorf("expected a single output_style change, got %v", ev.changes)
	}
	if w.Current().Project.OutputStyle != OutputStyleExpanded {
		t.Errorf("current config not updated: %q", w.Current().Project.OutputStyle)
	}

	// drain duplicate reloads from repeated writes
	time.Sleep(100 * time.Millisecond)
	for len(events) > 0 {
		<-events
	}

	ev = waitFor("css_dir = \"#{broken}\"\n")
	if ev.err == nil {
		t.Fatal("expected reload error for broken file")
	}
	if w.Current().Project.OutputStyle != OutputStyleExpanded {
		t.Error("broken reload should keep the previous config")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("watcher did not stop after cancel")
	}
}

func TestNewWatcher_InitialLoadFails(t *testing.T) {
	loader := newTestLoader(t, LoadOptions{})
	_, err := NewWatcher(context.Background(), loader, filepath.Join(t.TempDir(), "config.rb"), testLogger())
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWatcher_ReloadsDoNotOverlap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.rb")
	if err := os.WriteFile(path, []byte(RenderRuby(referenceProject())), 0644); err != nil {
		t.Fatal(err)
	}

	loader := newTestLoader(t, LoadOptions{})
	ctx := context.Background()
	w, err := NewWatcher(ctx, loader, path, testLogger())
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}

	var inFlight, maxInFlight, calls int32
	onReload := func(lc *LoadedConfig, changes []Change, err error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		atomic.AddInt32(&calls, 1)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.reload(ctx, onReload)
		}()
	}
	wg.Wait()

	if calls != 4 {
		t.Errorf("reload callback ran %d times, want 4", calls)
	}
	if maxInFlight != 1 {
		t.Errorf("%d reload callbacks ran at once, want 1", maxInFlight)
	}
}
