package output

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	otelLog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"

	"appsizer/config"
	"appsizer/logger"
)

// SchemaVersion tags exported records so downstream pipelines can detect
// layout changes.
const SchemaVersion = "1"

type OtelLogger struct {
	provider *sdklog.LoggerProvider
	logger   otelLog.Logger
	timeout  time.Duration
	endpoint string
	policy   otelPolicy
}

type otelPolicy struct {
	includePaths bool
}

// NewOtelLogger builds the OTLP log exporter, or returns nil when no
// endpoint is configured.
func NewOtelLogger(cfg *config.Config) (*OtelLogger, error) {
	if cfg == nil {
		return nil, nil
	}
	endpoint := resolveOtelEndpoint(cfg)
	if endpoint == "" {
		return nil, nil
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return nil, fmt.Errorf("otel endpoint must include scheme (http or https)")
	}

	opts := []otlploghttp.Option{otlploghttp.WithEndpointURL(endpoint)}
	if len(cfg.OtelHeaders) > 0 {
		opts = append(opts, otlploghttp.WithHeaders(cfg.OtelHeaders))
	}
	if cfg.OtelTimeout > 0 {
		opts = append(opts, otlploghttp.WithTimeout(cfg.OtelTimeout))
	}

	exp, err := otlploghttp.New(context.Background(), opts...)
	if err != nil {
		return nil, err
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(cfg.OtelServiceName),
	)
	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
		sdklog.WithResource(res),
	)

	return &OtelLogger{
		provider: provider,
		logger:   provider.Logger("appsizer"),
		timeout:  cfg.OtelTimeout,
		endpoint: endpoint,
		policy:   otelPolicy{includePaths: cfg.OtelExportPaths},
	}, nil
}

func resolveOtelEndpoint(cfg *config.Config) string {
	if cfg == nil {
		return ""
	}
	if endpoint := strings.TrimSpace(cfg.OtelEndpoint); endpoint != "" {
		return endpoint
	}
	if !cfg.OtelFromEnv {
		return ""
	}
	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT")); endpoint != "" {
		return endpoint
	}
	return strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
}

func (o *OtelLogger) Endpoint() string {
	if o == nil {
		return ""
	}
	return o.endpoint
}

// EmitRun exports one record per analyzed application plus a run summary.
func (o *OtelLogger) EmitRun(run *AnalysisRun) {
	if o == nil || o.logger == nil || run == nil {
		return
	}
	for i := range run.Applications {
		o.emitApplication(&run.Applications[i])
	}
	o.emit("appsizer.run", []otelLog.KeyValue{
		otelLog.Int("application_count", len(run.Applications)),
		otelLog.Int("skipped_count", len(run.Skipped)),
		otelLog.Int64("total_bytes", run.TotalBytes),
	})
}

func (o *OtelLogger) emitApplication(app *ApplicationReport) {
	o.emit("appsizer.application", applicationAttributes(app, o.policy))
}

func applicationAttributes(app *ApplicationReport, policy otelPolicy) []otelLog.KeyValue {
	attrs := []otelLog.KeyValue{
		otelLog.String("app_name", app.Name),
		otelLog.String("status", app.Status),
		otelLog.Int64("total_bytes", app.TotalBytes),
	}
	if app.BundleID != "" {
		attrs = append(attrs, otelLog.String("bundle_id", app.BundleID))
	}
	if app.Version != "" {
		attrs = append(attrs, otelLog.String("app_version", app.Version))
	}
	if policy.includePaths {
		attrs = append(attrs, otelLog.String("bundle_path", app.Path))
	}
	for _, cat := range app.Categories {
		attrs = append(attrs, otelLog.Int64(cat.Category+"_bytes", cat.Bytes))
	}
	return attrs
}

func (o *OtelLogger) emit(eventName string, attrs []otelLog.KeyValue) {
	var record otelLog.Record
	record.SetTimestamp(time.Now())
	record.SetObservedTimestamp(time.Now())
	record.SetEventName(eventName)
	record.AddAttributes(otelLog.String("schema_version", SchemaVersion))
	record.AddAttributes(attrs...)
	o.logger.Emit(context.Background(), record)
}

func (o *OtelLogger) Shutdown() {
	if o == nil || o.provider == nil {
		return
	}
	timeout := o.timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := o.provider.Shutdown(ctx); err != nil {
		logger.Debugf("OTEL shutdown failed: %v", err)
	}
}
