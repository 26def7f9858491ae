package main

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"appsizer/logger"
	"appsizer/output"
	"appsizer/scanner"
)

func TestHandleSignalEventCancelsContext(t *testing.T) {
	logger.Init("error")

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)

	done := make(chan struct{})
	go func() {
		handleSignalEvent(cancel, sigChan)
		close(done)
	}()

	sigChan <- syscall.SIGTERM

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected context to be canceled")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("signal handler did not return")
	}
}

func TestFinalExitCode(t *testing.T) {
	logger.Init("error")

	ok := output.ApplicationReport{Name: "A", Status: output.StatusOK}
	partial := output.ApplicationReport{Name: "B", Status: output.StatusPartial}
	failed := output.ApplicationReport{Name: "C", Status: output.StatusFailed}

	cases := []struct {
		name    string
		run     *output.AnalysisRun
		metrics scanner.Metrics
		want    int
	}{
		{"all ok", &output.AnalysisRun{Applications: []output.ApplicationReport{ok}}, scanner.Metrics{Analyzed: 1}, 0},
		{"partial still succeeds", &output.AnalysisRun{Applications: []output.ApplicationReport{ok, partial}}, scanner.Metrics{Analyzed: 1, Partial: 1}, 0},
		{"all failed", &output.AnalysisRun{Applications: []output.ApplicationReport{failed}}, scanner.Metrics{Failed: 1}, 1},
		{"everything filtered out", &output.AnalysisRun{Skipped: []output.SkippedApplication{{Name: "X"}}}, scanner.Metrics{Skipped: 1}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := finalExitCode(tc.run, tc.metrics); got != tc.want {
				t.Errorf("exit code = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestRunDuration(t *testing.T) {
	metrics := scanner.Metrics{
		StartTime: "2026-08-30T12:00:00Z",
		EndTime:   "2026-08-30T12:00:03Z",
	}
	d, err := runDuration(metrics)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != 3*time.Second {
		t.Errorf("duration = %v, want 3s", d)
	}

	if _, err := runDuration(scanner.Metrics{}); err == nil {
		t.Error("expected error for empty timestamps")
	}
}
