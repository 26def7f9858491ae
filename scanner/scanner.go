package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/time/rate"

	"appsizer/bundle"
	"appsizer/config"
	"appsizer/logger"
	"appsizer/metadata"
	"appsizer/output"
	"appsizer/sizer"
	"appsizer/tracing"
	"appsizer/utils"
)

// Metrics summarizes one analysis run.
type Metrics struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	TotalApps int    `json:"total_apps"`
	Analyzed  int    `json:"analyzed"`
	Partial   int    `json:"partial"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
}

var completedCounter atomic.Int64

// Progress reports how many applications the current run has finished.
// The stall watchdog polls this.
func Progress() int64 {
	return completedCounter.Load()
}

// Analyze measures every given application and assembles the report.
// Applications are analyzed concurrently; one misbehaving bundle never
// takes down the batch.
func Analyze(ctx context.Context, cfg *config.Config, ids []bundle.Identity, metrics *Metrics) (*output.AnalysisRun, error) {
	adjustConcurrency(cfg)
	completedCounter.Store(0)
	if metrics != nil {
		metrics.StartTime = time.Now().UTC().Format(time.RFC3339)
	}

	ctx, endTask := tracing.StartTask(ctx, "analyze-batch")
	defer endTask()

	tasks, skipped := filterApplications(cfg, ids)

	bar := newProgressBar(cfg, len(tasks))
	progressCh := make(chan int, maxInt(cfg.ConcurrencyLevel*4, 64))
	var progressWG sync.WaitGroup
	progressWG.Add(1)
	go func() {
		defer progressWG.Done()
		for delta := range progressCh {
			if bar != nil {
				_ = bar.Add(delta)
			}
		}
	}()

	var ioLimiter *rate.Limiter
	if cfg.MaxIOPerSecond > 0 {
		ioLimiter = rate.NewLimiter(rate.Limit(cfg.MaxIOPerSecond), cfg.MaxIOPerSecond)
	}

	appsChan := make(chan bundle.Identity, cfg.ConcurrencyLevel)
	go func() {
		defer close(appsChan)
		for _, id := range tasks {
			if ioLimiter != nil {
				if err := ioLimiter.Wait(ctx); err != nil {
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case appsChan <- id:
			}
		}
	}()

	s := sizer.New(cfg.LibraryDir)
	reports := make([]output.ApplicationReport, 0, len(tasks))
	var mu sync.Mutex

	var wg sync.WaitGroup
	for range cfg.ConcurrencyLevel {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range appsChan {
				select {
				case <-ctx.Done():
					return
				default:
				}
				tracing.Log(ctx, "app", id.Name)
				endRegion := tracing.StartRegion(ctx, "analyze-app")
				report := analyzeOne(ctx, cfg, s, id)
				endRegion()
				if ctx.Err() != nil {
					return
				}
				mu.Lock()
				reports = append(reports, report)
				mu.Unlock()
				completedCounter.Add(1)
				progressCh <- 1
			}
		}()
	}

	wg.Wait()
	close(progressCh)
	progressWG.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sortReports(reports)

	run := &output.AnalysisRun{
		GeneratedAt:  time.Now().UTC(),
		Applications: reports,
		Skipped:      skipped,
		TotalApps:    len(reports),
	}
	for _, r := range reports {
		run.TotalBytes += r.TotalBytes
	}

	if metrics != nil {
		metrics.EndTime = time.Now().UTC().Format(time.RFC3339)
		metrics.TotalApps = len(ids)
		metrics.Skipped = len(skipped)
		for _, r := range reports {
			switch r.Status {
			case output.StatusOK:
				metrics.Analyzed++
			case output.StatusPartial:
				metrics.Partial++
			case output.StatusFailed:
				metrics.Failed++
			}
		}
	}
	return run, nil
}

// analyzeOne produces the report for a single application. Panics are
// contained here so a corrupt bundle only fails its own entry.
func analyzeOne(ctx context.Context, cfg *config.Config, s *sizer.Sizer, id bundle.Identity) (report output.ApplicationReport) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("analysis panicked for %s: %v", id.Path, r)
			report = failedReport(id, fmt.Sprintf("internal error: %v", r))
		}
	}()

	report = output.ApplicationReport{
		Name:   id.Name,
		Path:   id.Path,
		Status: output.StatusOK,
	}
	if !id.Modified.IsZero() {
		mod := id.Modified
		report.Modified = &mod
	}
	if !id.Created.IsZero() {
		created := id.Created
		report.Created = &created
	}

	info, err := metadata.Read(ctx, id.Path, cfg.MetadataTimeout)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return report
		}
		logger.Warnf("metadata unavailable for %s: %v", id.Path, err)
		report.Status = output.StatusPartial
		report.Error = err.Error()
		info = metadata.Info{}
	}
	if info.Name != "" {
		report.Name = info.Name
	}
	report.BundleID = info.BundleID
	report.Version = info.Version

	res, err := s.Size(ctx, id, info)
	if err != nil {
		return report
	}
	report.TotalBytes = res.Total
	report.Categories = make([]output.CategoryBreakdown, 0, len(res.Categories))
	for _, usage := range res.Categories {
		report.Categories = append(report.Categories, output.CategoryBreakdown{
			Category: string(usage.Category),
			Bytes:    usage.Bytes,
		})
	}
	if res.Unreadable > 0 {
		logger.Debugf("%d unreadable entries under %s", res.Unreadable, id.Path)
		report.Status = output.StatusPartial
	}
	if report.Status == output.StatusPartial && report.BundleID == "" && res.Total == 0 {
		// Nothing decoded and nothing measured.
		report.Status = output.StatusFailed
	}
	return report
}

func failedReport(id bundle.Identity, reason string) output.ApplicationReport {
	return output.ApplicationReport{
		Name:   id.Name,
		Path:   id.Path,
		Status: output.StatusFailed,
		Error:  reason,
	}
}

// filterApplications applies the include and exclude patterns.
func filterApplications(cfg *config.Config, ids []bundle.Identity) ([]bundle.Identity, []output.SkippedApplication) {
	matcher := utils.NewPatternMatcher(cfg.IncludePatterns, cfg.ExcludePatterns)
	kept := make([]bundle.Identity, 0, len(ids))
	var skipped []output.SkippedApplication
	for _, id := range ids {
		if matcher.Match(id.Name) {
			kept = append(kept, id)
			continue
		}
		skipped = append(skipped, output.SkippedApplication{
			Name:   id.Name,
			Path:   id.Path,
			Reason: "excluded by pattern",
		})
	}
	return kept, skipped
}

// sortReports orders by descending footprint, then by name so equal sizes
// stay deterministic.
func sortReports(reports []output.ApplicationReport) {
	sort.Slice(reports, func(i, j int) bool {
		if reports[i].TotalBytes != reports[j].TotalBytes {
			return reports[i].TotalBytes > reports[j].TotalBytes
		}
		return reports[i].Name < reports[j].Name
	})
}

func adjustConcurrency(cfg *config.Config) {
	if cfg.ConcurrencySet {
		return
	}
	numCPU := runtime.NumCPU()
	switch cfg.NiceLevel {
	case "high":
		cfg.ConcurrencyLevel = numCPU
	case "medium":
		cfg.ConcurrencyLevel = numCPU / 2
		if cfg.ConcurrencyLevel < 1 {
			cfg.ConcurrencyLevel = 1
		}
	case "low":
		cfg.ConcurrencyLevel = 1
	}
	if cfg.ConcurrencyLevel < 1 {
		cfg.ConcurrencyLevel = 1
	}
}

// newProgressBar returns nil for single-application runs; a bar for one
// item is noise.
func newProgressBar(cfg *config.Config, total int) *progressbar.ProgressBar {
	if cfg.NoProgress || total <= 1 || !progressVisible() {
		return nil
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Analyzing applications"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)
}

func progressVisible() bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv("APPSIZER_DISABLE_PROGRESS")))
	return value != "1" && value != "true" && value != "yes" && value != "on"
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
