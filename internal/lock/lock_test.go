package lock

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestTryDir(t *testing.T) {
	dir := t.TempDir()

	first, err := TryDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// flock locks belong to the open file description, so a second open in
	// the same process conflicts.
	if _, err := TryDir(dir); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("release error: %v", err)
	}
	second, err := TryDir(dir)
	if err != nil {
		t.Fatalf("expected lock after release, got %v", err)
	}
	second.Release()
}

func TestTryDir_Missing(t *testing.T) {
	if _, err := TryDir(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing dir")
	}
}

func TestHostLocks(t *testing.T) {
	h := HostLocks{Dir: t.TempDir(), Device: "cryptbackup"}

	if err := h.Acquire("laptop"); err != nil {
		t.Fatalf("acquire error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(h.Dir, "laptop-cryptbackup.lock")); err != nil {
		t.Fatalf("expected lock file: %v", err)
	}
	if err := h.Acquire("laptop"); err != nil {
		t.Fatalf("second acquire error: %v", err)
	}

	held, err := h.HeldByOthers("laptop")
	if err != nil || held {
		t.Fatalf("expected no other holders, got %v, %v", held, err)
	}

	// A host whose name extends another's is still a different host.
	if err := h.Acquire("laptop2"); err != nil {
		t.Fatal(err)
	}
	held, err = h.HeldByOthers("laptop")
	if err != nil || !held {
		t.Fatalf("expected laptop2 to count as another holder, got %v, %v", held, err)
	}

	// Files for other devices are ignored.
	if err := os.WriteFile(filepath.Join(h.Dir, "desktop-otherdev.lock"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	hosts, err := h.Holders()
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(hosts)
	if diff := cmp.Diff([]string{"laptop", "laptop2"}, hosts); diff != "" {
		t.Fatalf("holders mismatch (-want +got):\n%s", diff)
	}

	if err := h.Release("laptop2"); err != nil {
		t.Fatalf("release error: %v", err)
	}
	if err := h.Release("laptop2"); !errors.Is(err, ErrNoLock) {
		t.Fatalf("expected ErrNoLock, got %v", err)
	}
}

func TestWaitReleased_AlreadyFree(t *testing.T) {
	h := HostLocks{Dir: t.TempDir(), Device: "cryptbackup"}
	if err := h.Acquire("laptop"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.WaitReleased(ctx, "laptop"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWaitReleased(t *testing.T) {
	h := HostLocks{Dir: t.TempDir(), Device: "cryptbackup"}
	if err := h.Acquire("desktop"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.WaitReleased(ctx, "laptop") }()

	select {
	case err := <-done:
		t.Fatalf("returned before release: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	if err := h.Release("desktop"); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for release to be noticed")
	}
}

func TestWaitReleased_Timeout(t *testing.T) {
	h := HostLocks{Dir: t.TempDir(), Device: "cryptbackup"}
	if err := h.Acquire("desktop"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := h.WaitReleased(ctx, "laptop"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
