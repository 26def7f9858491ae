//go:build unix

package metadata

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// fifoBundle builds a bundle whose descriptor is a FIFO with no writer, so
// any read of it blocks indefinitely.
func fifoBundle(t *testing.T) string {
	t.Helper()
	bundle := filepath.Join(t.TempDir(), "Stuck.app")
	contents := filepath.Join(bundle, "Contents")
	if err := os.MkdirAll(contents, 0o755); err != nil {
		t.Fatalf("mkdir contents: %v", err)
	}
	if err := unix.Mkfifo(filepath.Join(contents, "Info.plist"), 0o644); err != nil {
		t.Skipf("mkfifo unsupported: %v", err)
	}
	return bundle
}

func TestReadTimesOutOnHangingDescriptor(t *testing.T) {
	bundle := fifoBundle(t)

	start := time.Now()
	_, err := Read(context.Background(), bundle, 100*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("timeout took too long: %v", elapsed)
	}
}

func TestReadHonorsContextCancellation(t *testing.T) {
	bundle := fifoBundle(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := Read(ctx, bundle, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
