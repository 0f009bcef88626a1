package scheduler

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestEveryFiresRepeatedlyUntilStopped(t *testing.T) {
	var calls int32

	s := Every(10*time.Millisecond, 0, func() {
		atomic.AddInt32(&calls, 1)
	})

	time.Sleep(55 * time.Millisecond)
	s.Stop()

	got := atomic.LoadInt32(&calls)
	if got < 2 {
		t.Fatalf("expected at least 2 calls in 55ms at a 10ms interval, got %d", got)
	}

	afterStop := got

	time.Sleep(30 * time.Millisecond)

	if atomic.LoadInt32(&calls) != afterStop {
		t.Error("Scheduler kept firing after Stop")
	}
}

func TestEveryRespectsInitialDelay(t *testing.T) {
	var calls int32

	s := Every(5*time.Millisecond, 40*time.Millisecond, func() {
		atomic.AddInt32(&calls, 1)
	})
	defer s.Stop()

	time.Sleep(15 * time.Millisecond)

	if atomic.LoadInt32(&calls) != 0 {
		t.Error("Scheduler fired before its initial delay elapsed")
	}
}

func TestSchedulerStopIsIdempotent(t *testing.T) {
	s := Every(time.Hour, 0, func() {})

	s.Stop()
	s.Stop() // must not panic or block
}

func TestTriggerWatcherFiresOnCreate(t *testing.T) {
	dir := t.TempDir()
	triggerPath := filepath.Join(dir, "trigger")

	tw, err := WatchFile(triggerPath)
	if err != nil {
		t.Fatalf("WatchFile returned error: %v", err)
	}
	defer tw.Close()

	if err := os.WriteFile(triggerPath, []byte("go"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	select {
	case <-tw.Events():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a trigger event after creating the watched file")
	}
}

func TestTriggerWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	triggerPath := filepath.Join(dir, "trigger")

	tw, err := WatchFile(triggerPath)
	if err != nil {
		t.Fatalf("WatchFile returned error: %v", err)
	}
	defer tw.Close()

	unrelated := filepath.Join(dir, "unrelated")
	if err := os.WriteFile(unrelated, []byte("noise"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	select {
	case <-tw.Events():
		t.Fatal("watcher fired for a file other than the one it was asked to watch")
	case <-time.After(200 * time.Millisecond):
	}
}
