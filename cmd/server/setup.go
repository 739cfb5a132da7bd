package main

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/campus/lmssync/internal/domain/lms"
	"github.com/campus/lmssync/internal/infrastructure/config"
	"github.com/campus/lmssync/internal/infrastructure/logger"
	"github.com/campus/lmssync/internal/infrastructure/telemetry"
)

// telemetryStack holds the OpenTelemetry providers and the profiler
type telemetryStack struct {
	log         *zap.Logger
	tracer      *telemetry.TracerProvider
	meterProv   *telemetry.MeterProvider
	logs        *telemetry.LoggerProvider
	profiler    *telemetry.Profiler
	meter       metric.Meter
	syncMetrics *telemetry.SyncMetrics
}

// setupTelemetry brings up tracing, metrics, log export and profiling, then
// builds the application logger teed into the OTLP log pipeline. A bootstrap
// logger without the OTLP core reports provider startup.
func setupTelemetry(ctx context.Context, cfg *config.Config) (*telemetryStack, *zap.Logger, error) {
	logCfg := &logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	bootLog, err := logger.New(logCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap logger: %w", err)
	}

	t := &telemetryStack{}
	tc := cfg.Telemetry

	t.tracer, err = telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           tc.Enabled,
		CollectorEndpoint: tc.CollectorEndpoint,
		SamplingRatio:     tc.SamplingRatio,
		ServiceName:       tc.ServiceName,
		Insecure:          tc.Insecure,
	}, bootLog)
	if err != nil {
		return nil, nil, err
	}

	t.meterProv, err = telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           tc.Enabled,
		CollectorEndpoint: tc.CollectorEndpoint,
		ExportInterval:    tc.MetricsInterval,
		ServiceName:       tc.ServiceName,
		Insecure:          tc.Insecure,
	}, bootLog)
	if err != nil {
		return nil, nil, err
	}

	t.logs, err = telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           tc.Enabled,
		CollectorEndpoint: tc.CollectorEndpoint,
		ServiceName:       tc.ServiceName,
		Insecure:          tc.Insecure,
	}, bootLog)
	if err != nil {
		return nil, nil, err
	}

	t.profiler, err = telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:         tc.ProfilingEnabled,
		ServerAddress:   tc.ProfilingAddress,
		ApplicationName: tc.ServiceName,
	}, bootLog)
	if err != nil {
		return nil, nil, err
	}
	if t.profiler.IsEnabled() {
		if err := t.tracer.EnableSpanProfiles(); err != nil {
			bootLog.Warn("Failed to enable span profiles", zap.Error(err))
		}
	}

	otelCore := telemetry.NewZapOTELCore(telemetry.ZapBridgeConfig{
		ServiceName:    tc.ServiceName,
		LoggerProvider: t.logs,
		Level:          logger.ParseLevel(cfg.Log.Level),
	})
	t.log, err = logger.New(logCfg, otelCore)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}

	if t.meterProv.IsEnabled() {
		t.meter = t.meterProv.Meter(tc.ServiceName)
		t.syncMetrics, err = telemetry.NewSyncMetrics(t.meter, t.log)
		if err != nil {
			t.log.Warn("Sync metrics disabled", zap.Error(err))
		}
	}
	return t, t.log, nil
}

// shutdown flushes and stops every provider, logging failures
func (t *telemetryStack) shutdown(ctx context.Context) {
	if err := t.profiler.Stop(); err != nil {
		t.log.Warn("Profiler shutdown failed", zap.Error(err))
	}
	if err := t.tracer.Shutdown(ctx); err != nil {
		t.log.Warn("Tracer provider shutdown failed", zap.Error(err))
	}
	if err := t.meterProv.Shutdown(ctx); err != nil {
		t.log.Warn("Meter provider shutdown failed", zap.Error(err))
	}
	// Last, so the warnings above still reach the collector
	if err := t.logs.Shutdown(ctx); err != nil {
		t.log.Warn("Logger provider shutdown failed", zap.Error(err))
	}
}

// gradingScale builds the letter table from configuration, falling back to
// the standard table when none is configured
func gradingScale(cfg config.GradingConfig) (*lms.GradingScale, error) {
	if len(cfg.Boundaries) == 0 {
		return lms.DefaultGradingScale(), nil
	}
	boundaries := make([]lms.GradeBoundary, 0, len(cfg.Boundaries))
	for _, b := range cfg.Boundaries {
		boundaries = append(boundaries, lms.GradeBoundary{
			Letter:   b.Letter,
			MinScore: decimal.NewFromFloat(b.MinScore),
			Points:   decimal.NewFromFloat(b.Points),
		})
	}
	return lms.NewGradingScale(boundaries)
}
