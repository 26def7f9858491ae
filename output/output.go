package output

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"appsizer/sizer"
	"appsizer/systeminfo"
)

// Analysis outcome for one application.
const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// CategoryBreakdown is the measured footprint of one category, in raw
// bytes so serialized reports round-trip exactly.
type CategoryBreakdown struct {
	Category string `json:"category"`
	Bytes    int64  `json:"bytes"`
}

// ApplicationReport is the complete result for one application.
type ApplicationReport struct {
	Name       string              `json:"name"`
	BundleID   string              `json:"bundle_id,omitempty"`
	Version    string              `json:"version,omitempty"`
	Path       string              `json:"path"`
	Status     string              `json:"status"`
	Error      string              `json:"error,omitempty"`
	Modified   *time.Time          `json:"modified,omitempty"`
	Created    *time.Time          `json:"created,omitempty"`
	Categories []CategoryBreakdown `json:"categories"`
	TotalBytes int64               `json:"total_bytes"`
}

// SkippedApplication records a bundle that was filtered out before
// analysis.
type SkippedApplication struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// AnalysisRun is the top-level report.
type AnalysisRun struct {
	GeneratedAt  time.Time            `json:"generated_at"`
	Host         *systeminfo.Info     `json:"host,omitempty"`
	Applications []ApplicationReport  `json:"applications"`
	Skipped      []SkippedApplication `json:"skipped,omitempty"`
	TotalApps    int                  `json:"total_apps_analyzed"`
	TotalBytes   int64                `json:"total_bytes"`
}

// Render writes the run to w in the requested format.
func Render(w io.Writer, run *AnalysisRun, format string) error {
	switch format {
	case "txt":
		return renderText(w, run)
	case "json":
		return renderJSON(w, run)
	case "csv":
		return renderCSV(w, run)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

func renderJSON(w io.Writer, run *AnalysisRun) error {
	data, err := jsonMarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %v", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

var categoryLabels = map[sizer.Category]string{
	sizer.CategoryBundle:       "Bundle",
	sizer.CategoryContainer:    "Container",
	sizer.CategorySupport:      "Support Files",
	sizer.CategoryCache:        "Caches",
	sizer.CategoryPreferences:  "Preferences",
	sizer.CategoryCrashReports: "Crash Reports",
}

func renderText(w io.Writer, run *AnalysisRun) error {
	fmt.Fprintf(w, "Application disk usage report (%s)\n", run.GeneratedAt.Format(time.RFC3339))
	if run.Host != nil {
		fmt.Fprintf(w, "Host: %s (%s %s), volume %s free of %s\n",
			run.Host.Hostname, run.Host.Platform, run.Host.PlatformVersion,
			humanize.IBytes(run.Host.DiskFree), humanize.IBytes(run.Host.DiskTotal))
	}
	fmt.Fprintln(w)

	for rank, app := range run.Applications {
		header := app.Name
		if app.Version != "" {
			header += " " + app.Version
		}
		fmt.Fprintf(w, "%d. %s  %s", rank+1, header, humanize.IBytes(uint64(app.TotalBytes)))
		if app.Status != StatusOK {
			fmt.Fprintf(w, "  [%s]", app.Status)
		}
		fmt.Fprintln(w)
		if app.BundleID != "" {
			fmt.Fprintf(w, "   %s\n", app.BundleID)
		}
		fmt.Fprintf(w, "   %s\n", app.Path)
		if app.Error != "" {
			fmt.Fprintf(w, "   note: %s\n", app.Error)
		}
		for _, cat := range app.Categories {
			if cat.Bytes == 0 {
				continue
			}
			label := categoryLabels[sizer.Category(cat.Category)]
			if label == "" {
				label = cat.Category
			}
			fmt.Fprintf(w, "   %-14s %10s  %5.1f%%\n",
				label, humanize.IBytes(uint64(cat.Bytes)), percent(cat.Bytes, app.TotalBytes))
		}
		fmt.Fprintln(w)
	}

	if len(run.Skipped) > 0 {
		fmt.Fprintf(w, "Skipped %d application(s):\n", len(run.Skipped))
		for _, s := range run.Skipped {
			fmt.Fprintf(w, "  %s (%s)\n", s.Name, s.Reason)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total: %s across %d application(s)\n",
		humanize.IBytes(uint64(run.TotalBytes)), run.TotalApps)
	return nil
}

// percent keeps one decimal of precision, matching how the rendered
// report displays it.
func percent(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

func renderCSV(w io.Writer, run *AnalysisRun) error {
	cw := csv.NewWriter(w)
	header := []string{"name", "bundle_id", "version", "path", "status"}
	for _, cat := range sizer.Categories {
		header = append(header, string(cat)+"_bytes")
	}
	header = append(header, "total_bytes")
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, app := range run.Applications {
		row := []string{app.Name, app.BundleID, app.Version, app.Path, app.Status}
		byCat := make(map[string]int64, len(app.Categories))
		for _, cat := range app.Categories {
			byCat[cat.Category] = cat.Bytes
		}
		for _, cat := range sizer.Categories {
			row = append(row, strconv.FormatInt(byCat[string(cat)], 10))
		}
		row = append(row, strconv.FormatInt(app.TotalBytes, 10))
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Writer owns the report destination. A file name of - means stdout.
type Writer struct {
	mu   sync.Mutex
	dest io.Writer
	file *os.File
}

func NewWriter(fileName string) (*Writer, error) {
	if fileName == "-" {
		return &Writer{dest: os.Stdout}, nil
	}
	f, err := os.Create(fileName)
	if err != nil {
		return nil, fmt.Errorf("could not create output file: %v", err)
	}
	return &Writer{dest: f, file: f}, nil
}

func (w *Writer) Write(run *AnalysisRun, format string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Render(w.dest, run, format)
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}
