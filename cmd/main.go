package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"appsizer/bundle"
	"appsizer/config"
	"appsizer/diag"
	"appsizer/logger"
	"appsizer/output"
	"appsizer/scanner"
	"appsizer/systeminfo"
	"appsizer/tracing"
	"appsizer/update"
	"appsizer/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := tracing.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start trace: %v\n", err)
	} else {
		defer tracing.Stop()
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		return 1
	}

	logger.Init(cfg.LogLevel)

	if cfg.DiagSlowScanThreshold > 0 {
		if err := tracing.StartFlightRecorder(0, cfg.DiagSlowScanThreshold); err != nil {
			logger.Warnf("Failed to start flight recorder: %v", err)
		} else {
			defer tracing.StopFlightRecorder()
		}
	}

	if cfg.CheckUpdates {
		if latest, notes, newer, err := update.CheckForUpdate(version.Version); err == nil && newer {
			if strings.Contains(strings.ToLower(notes), "security") {
				logger.Warnf("Update available: %s -> %s (security fixes included)", version.Version, latest)
			} else {
				logger.Infof("Update available: %s -> %s", version.Version, latest)
			}
		}
	}

	ids, err := bundle.Resolve(cfg.AppSelector, cfg.SearchRoots)
	if err != nil {
		logger.Errorf("Application resolution failed: %v", err)
		return 1
	}
	if len(ids) == 0 {
		logger.Errorf("No applications found under %s", strings.Join(cfg.SearchRoots, ", "))
		return 1
	}
	logger.Infof("Analyzing %d application(s)", len(ids))

	var sysInfo *systeminfo.Info
	if cfg.CollectSystemInfo {
		sysInfo, err = systeminfo.Collect(context.Background())
		if err != nil {
			logger.Errorf("Failed to gather system information: %v", err)
		}
	}

	writer, err := output.NewWriter(cfg.OutputFileName)
	if err != nil {
		logger.Errorf("Failed to initialize output: %v", err)
		return 1
	}
	defer writer.Close()

	otel, err := output.NewOtelLogger(cfg)
	if err != nil {
		logger.Errorf("Failed to initialize OTEL export: %v", err)
		return 1
	}
	defer otel.Shutdown()
	if endpoint := otel.Endpoint(); endpoint != "" {
		logger.Infof("Exporting records to %s", endpoint)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go handleSignalEvent(cancel, sigChan)

	watchdog := diag.NewController(diag.Options{
		StallThreshold:     cfg.DiagSlowScanThreshold,
		Dir:                cfg.DiagDir,
		GoroutineLeak:      cfg.DiagGoroutineLeak,
		ProgressCountFn:    scanner.Progress,
		DumpFlightRecorder: tracing.WriteFlightRecorder,
	})
	watchdog.Start(ctx)
	defer watchdog.Close()

	var metrics scanner.Metrics
	runReport, err := scanner.Analyze(ctx, cfg, ids, &metrics)
	if err != nil {
		logger.Errorf("Analysis aborted: %v", err)
		return 1
	}
	runReport.Host = sysInfo

	if err := writer.Write(runReport, cfg.OutputFormat); err != nil {
		logger.Errorf("Failed to write report: %v", err)
		return 1
	}
	otel.EmitRun(runReport)

	elapsed, _ := runDuration(metrics)
	logger.Infof("Analyzed %d application(s) in %s (%d ok, %d partial, %d failed, %d skipped)",
		len(runReport.Applications), elapsed, metrics.Analyzed, metrics.Partial, metrics.Failed, metrics.Skipped)

	return finalExitCode(runReport, metrics)
}

// finalExitCode maps the finished run to the process exit code: non-zero
// when nothing was analyzed (everything filtered out counts as nothing)
// or when every analysis failed; partial failures still exit zero.
func finalExitCode(run *output.AnalysisRun, metrics scanner.Metrics) int {
	if len(run.Applications) == 0 {
		logger.Error("No applications analyzed")
		return 1
	}
	if metrics.Failed == len(run.Applications) {
		logger.Error("Every application failed to analyze")
		return 1
	}
	return 0
}

func handleSignalEvent(cancelFunc context.CancelFunc, sigChan chan os.Signal) {
	<-sigChan
	logger.Info("Interrupt signal received. Shutting down...")
	cancelFunc()
}

func runDuration(metrics scanner.Metrics) (time.Duration, error) {
	start, err := time.Parse(time.RFC3339, metrics.StartTime)
	if err != nil {
		return 0, err
	}
	end, err := time.Parse(time.RFC3339, metrics.EndTime)
	if err != nil {
		return 0, err
	}
	return end.Sub(start), nil
}
