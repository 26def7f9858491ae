package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"appsizer/version"
)

type Config struct {
	AppSelector           string            `json:"app_selector"`
	SearchRoots           []string          `json:"search_roots"`
	LibraryDir            string            `json:"library_dir"`
	OutputFormat          string            `json:"output_format"`
	OutputFileName        string            `json:"output_file_name"`
	ConcurrencyLevel      int               `json:"concurrency_level"`
	NiceLevel             string            `json:"nice_level"`
	LogLevel              string            `json:"log_level"`
	MetadataTimeout       time.Duration     `json:"metadata_timeout"`
	MaxIOPerSecond        int               `json:"max_io_per_second"`
	IncludePatterns       []string          `json:"include_patterns"`
	ExcludePatterns       []string          `json:"exclude_patterns"`
	CollectSystemInfo     bool              `json:"collect_system_info"`
	NoProgress            bool              `json:"no_progress"`
	ConfigFile            string            `json:"config_file"`
	DiagSlowScanThreshold time.Duration     `json:"diag_slow_scan_threshold"`
	DiagDir               string            `json:"diag_dir"`
	DiagGoroutineLeak     bool              `json:"diag_goroutine_leak"`
	OtelEndpoint          string            `json:"otel_endpoint"`
	OtelFromEnv           bool              `json:"otel_from_env"`
	OtelHeaders           map[string]string `json:"otel_headers"`
	OtelServiceName       string            `json:"otel_service_name"`
	OtelTimeout           time.Duration     `json:"otel_timeout"`
	OtelExportPaths       bool              `json:"otel_export_paths"`
	CheckUpdates          bool              `json:"check_updates"`
	ConcurrencySet        bool              `json:"-"`
}

// DefaultSearchRoots returns the conventional application bundle locations
// for the current user.
func DefaultSearchRoots() []string {
	roots := []string{"/Applications"}
	if home, err := os.UserHomeDir(); err == nil {
		roots = append(roots, filepath.Join(home, "Applications"))
	}
	return roots
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		SearchRoots:           DefaultSearchRoots(),
		OutputFormat:          "txt",
		OutputFileName:        "-",
		ConcurrencyLevel:      runtime.NumCPU(),
		NiceLevel:             "medium",
		LogLevel:              "info",
		MetadataTimeout:       5 * time.Second,
		MaxIOPerSecond:        0,
		IncludePatterns:       []string{},
		ExcludePatterns:       []string{},
		CollectSystemInfo:     false,
		NoProgress:            false,
		DiagSlowScanThreshold: 0,
		DiagDir:               ".",
		DiagGoroutineLeak:     false,
		OtelEndpoint:          "",
		OtelFromEnv:           false,
		OtelHeaders:           map[string]string{},
		OtelServiceName:       "appsizer",
		OtelTimeout:           5 * time.Second,
		OtelExportPaths:       false,
		CheckUpdates:          true,
	}

	app := flag.String("app", cfg.AppSelector, "Application to analyze: full bundle path or name (default: all installed applications).")
	libraryDir := flag.String("library-dir", cfg.LibraryDir, "Library directory to measure against (default: ~/Library).")
	roots := flag.String("roots", strings.Join(cfg.SearchRoots, ","), fmt.Sprintf("Comma-separated list of application search roots (default: %s).", strings.Join(cfg.SearchRoots, ",")))
	format := flag.String("format", cfg.OutputFormat, fmt.Sprintf("Output format: txt, json, or csv (default: %s).", cfg.OutputFormat))
	output := flag.String("output", cfg.OutputFileName, "Output file name, or - for stdout (default: -).")
	concurrency := flag.Int("concurrency", cfg.ConcurrencyLevel, fmt.Sprintf("Number of concurrent application analyses (default: %d).", cfg.ConcurrencyLevel))
	nice := flag.String("nice", cfg.NiceLevel, fmt.Sprintf("Nice level: high, medium, or low (default: %s).", cfg.NiceLevel))
	logLevel := flag.String("log-level", cfg.LogLevel, fmt.Sprintf("Log level: debug, info, warn, error, fatal, or panic (default: %s).", cfg.LogLevel))
	metadataTimeout := flag.Duration("metadata-timeout", cfg.MetadataTimeout, "Wall-clock budget for decoding one application descriptor (default: 5s).")
	maxIO := flag.Int("max-io-per-second", cfg.MaxIOPerSecond, "Maximum application dispatches per second, 0 for unlimited (default: 0).")
	includes := flag.String("include", "", "Comma-separated application name patterns to include (default: none).")
	excludes := flag.String("exclude", "", "Comma-separated application name patterns to exclude (default: none).")
	collectSystemInfo := flag.Bool("collect-system-info", cfg.CollectSystemInfo, fmt.Sprintf("Include host and volume information in the report (default: %t).", cfg.CollectSystemInfo))
	noProgress := flag.Bool("no-progress", cfg.NoProgress, "Disable the progress bar (default: false).")
	configFile := flag.String("config", "", "Path to JSON configuration file (default: none).")
	diagSlowScanThreshold := flag.Duration(
		"diag-slow-scan-threshold",
		cfg.DiagSlowScanThreshold,
		"If positive, emit diagnostics when batch progress stalls for this duration (default: 0/off).",
	)
	diagDir := flag.String("diag-dir", cfg.DiagDir, "Diagnostics output directory (default: current directory).")
	diagGoroutineLeak := flag.Bool(
		"diag-goroutine-leak",
		cfg.DiagGoroutineLeak,
		"Write goroutine leak profile on shutdown (default: false).",
	)
	otelEndpoint := flag.String("otel-endpoint", cfg.OtelEndpoint, "OTLP/HTTP logs endpoint (default: none).")
	otelFromEnv := flag.Bool("otel-from-env", cfg.OtelFromEnv, "Allow OTEL endpoint fallback from OTEL environment variables (default: false).")
	otelHeaders := flag.String("otel-headers", "", "Comma-separated OTEL headers (key=value) for export (default: none).")
	otelServiceName := flag.String("otel-service-name", cfg.OtelServiceName, "OTEL service name for export (default: appsizer).")
	otelTimeout := flag.Duration("otel-timeout", cfg.OtelTimeout, "OTEL export timeout (default: 5s).")
	otelExportPaths := flag.Bool("otel-export-paths", cfg.OtelExportPaths, "Include raw bundle paths in OTEL payloads (default: false).")
	checkUpdates := flag.Bool("check-updates", cfg.CheckUpdates, fmt.Sprintf("Check GitHub for a newer release at startup (default: %t).", cfg.CheckUpdates))
	showVersion := flag.Bool("version", false, "Print version and exit")

	flag.Usage = displayHelp
	flag.Parse()

	if *showVersion {
		fmt.Printf("appsizer version %s\n", version.Version)
		os.Exit(0)
	}

	if *configFile != "" {
		cfg.ConfigFile = *configFile
		if err := cfg.loadFromFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "app":
			cfg.AppSelector = strings.TrimSpace(*app)
		case "library-dir":
			cfg.LibraryDir = strings.TrimSpace(*libraryDir)
		case "roots":
			cfg.SearchRoots = parseCommaSeparated(*roots)
		case "format":
			cfg.OutputFormat = strings.ToLower(*format)
		case "output":
			cfg.OutputFileName = *output
		case "concurrency":
			cfg.ConcurrencyLevel = *concurrency
			cfg.ConcurrencySet = true
		case "nice":
			cfg.NiceLevel = *nice
		case "log-level":
			cfg.LogLevel = *logLevel
		case "metadata-timeout":
			cfg.MetadataTimeout = *metadataTimeout
		case "max-io-per-second":
			cfg.MaxIOPerSecond = *maxIO
		case "include":
			cfg.IncludePatterns = parseCommaSeparated(*includes)
		case "exclude":
			cfg.ExcludePatterns = parseCommaSeparated(*excludes)
		case "collect-system-info":
			cfg.CollectSystemInfo = *collectSystemInfo
		case "no-progress":
			cfg.NoProgress = *noProgress
		case "diag-slow-scan-threshold":
			cfg.DiagSlowScanThreshold = *diagSlowScanThreshold
		case "diag-dir":
			cfg.DiagDir = strings.TrimSpace(*diagDir)
		case "diag-goroutine-leak":
			cfg.DiagGoroutineLeak = *diagGoroutineLeak
		case "otel-endpoint":
			cfg.OtelEndpoint = strings.TrimSpace(*otelEndpoint)
		case "otel-from-env":
			cfg.OtelFromEnv = *otelFromEnv
		case "otel-headers":
			cfg.OtelHeaders = parseHeaders(*otelHeaders)
		case "otel-service-name":
			cfg.OtelServiceName = strings.TrimSpace(*otelServiceName)
		case "otel-timeout":
			cfg.OtelTimeout = *otelTimeout
		case "otel-export-paths":
			cfg.OtelExportPaths = *otelExportPaths
		case "check-updates":
			cfg.CheckUpdates = *checkUpdates
		}
	})

	cfg.OutputFormat = strings.ToLower(strings.TrimSpace(cfg.OutputFormat))
	if cfg.DiagDir == "" {
		cfg.DiagDir = "."
	}
	if len(cfg.SearchRoots) == 0 {
		cfg.SearchRoots = DefaultSearchRoots()
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func displayHelp() {
	fmt.Println("appsizer - Application Disk-Usage Analyzer")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  appsizer [options]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  appsizer")
	fmt.Println("  appsizer --app Safari --format json")
	fmt.Println("  appsizer --app \"/Applications/Xcode.app\" --format csv --output usage.csv")
}

func (cfg *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("could not read config file: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid config file format: %v", err)
	}
	if _, ok := raw["concurrency_level"]; ok {
		cfg.ConcurrencySet = true
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("invalid config file format: %v", err)
	}
	return nil
}

func (cfg *Config) validate() error {
	switch cfg.OutputFormat {
	case "txt", "json", "csv":
	default:
		return fmt.Errorf("invalid output format: %s (must be txt, json, or csv)", cfg.OutputFormat)
	}
	if cfg.OutputFileName == "" {
		return fmt.Errorf("output file name must not be empty (use - for stdout)")
	}
	if cfg.ConcurrencyLevel <= 0 {
		return fmt.Errorf("concurrency level must be positive")
	}
	if cfg.NiceLevel != "high" && cfg.NiceLevel != "medium" && cfg.NiceLevel != "low" {
		return fmt.Errorf("invalid nice level: %s", cfg.NiceLevel)
	}
	if cfg.LogLevel != "debug" && cfg.LogLevel != "info" && cfg.LogLevel != "warn" &&
		cfg.LogLevel != "error" && cfg.LogLevel != "fatal" && cfg.LogLevel != "panic" {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if cfg.MetadataTimeout <= 0 {
		return fmt.Errorf("metadata-timeout must be positive")
	}
	if cfg.MaxIOPerSecond < 0 {
		return fmt.Errorf("max-io-per-second must be zero or positive")
	}
	if cfg.DiagSlowScanThreshold < 0 {
		return fmt.Errorf("diag-slow-scan-threshold must be zero or positive")
	}
	if cfg.OtelTimeout < 0 {
		return fmt.Errorf("otel-timeout must be zero or positive")
	}
	if cfg.OtelEndpoint != "" {
		if !strings.HasPrefix(cfg.OtelEndpoint, "http://") && !strings.HasPrefix(cfg.OtelEndpoint, "https://") {
			return fmt.Errorf("otel-endpoint must include scheme (http or https)")
		}
	}
	return nil
}

func parseCommaSeparated(input string) []string {
	if input == "" {
		return []string{}
	}
	items := strings.Split(input, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseHeaders(input string) map[string]string {
	headers := make(map[string]string)
	if input == "" {
		return headers
	}
	for _, item := range strings.Split(input, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.SplitN(item, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		headers[key] = value
	}
	return headers
}
