package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/campus/lmssync/internal/domain/lms"
)

// ErrMeterNil is returned when SyncMetrics is built without a meter.
var ErrMeterNil = errors.New("telemetry: meter cannot be nil")

// MappingStatsProvider reports mapping counts per entity ("user", "course",
// "enrollment") and status for the periodic gauge collection.
type MappingStatsProvider interface {
	MappingCounts(ctx context.Context) (map[string]map[lms.SyncStatus]int64, error)
}

// SyncMetrics records sync engine activity. A nil *SyncMetrics is valid and
// records nothing, so services can run without telemetry.
type SyncMetrics struct {
	logger *zap.Logger

	attempts     *Counter
	duration     *Histogram
	gradeEvents  *Counter
	batchItems   *Counter
	mappingGauge metric.Int64Gauge

	stopChan    chan struct{}
	stopOnce    sync.Once
	collectOnce sync.Once
}

// NewSyncMetrics registers the sync instruments on meter.
func NewSyncMetrics(meter metric.Meter, logger *zap.Logger) (*SyncMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sm := &SyncMetrics{logger: logger, stopChan: make(chan struct{})}

	var err error
	if sm.attempts, err = NewCounter(meter,
		"lmssync_sync_attempts_total", "Sync attempts by entity type and outcome", "{attempts}"); err != nil {
		return nil, err
	}
	if sm.duration, err = NewHistogram(meter, HistogramOpts{
		Name:        "lmssync_sync_duration_seconds",
		Description: "Duration of single-entity sync operations",
		Unit:        "s",
		Boundaries:  RemoteCallBuckets,
	}); err != nil {
		return nil, err
	}
	if sm.gradeEvents, err = NewCounter(meter,
		"lmssync_grade_events_total", "Inbound grade events by processing result", "{events}"); err != nil {
		return nil, err
	}
	if sm.batchItems, err = NewCounter(meter,
		"lmssync_batch_items_total", "Items processed by batch operations", "{items}"); err != nil {
		return nil, err
	}
	if sm.mappingGauge, err = meter.Int64Gauge("lmssync_mappings",
		metric.WithDescription("Current mapping count by entity and status"),
		metric.WithUnit("{mappings}")); err != nil {
		return nil, err
	}
	return sm, nil
}

// RecordSync records one sync attempt and how long it took.
func (sm *SyncMetrics) RecordSync(ctx context.Context, syncType lms.SyncType, outcome lms.Outcome, elapsed time.Duration) {
	if sm == nil {
		return
	}
	sm.attempts.Inc(ctx, AttrSyncType.String(string(syncType)), AttrSyncOutcome.String(string(outcome)))
	sm.duration.RecordDuration(ctx, elapsed, AttrSyncType.String(string(syncType)))
}

// RecordGradeEvent counts an inbound grade event by result, e.g. "applied",
// "stale" or "unmapped".
func (sm *SyncMetrics) RecordGradeEvent(ctx context.Context, result string) {
	if sm == nil {
		return
	}
	sm.gradeEvents.Inc(ctx, AttrGradeResult.String(result))
}

// RecordBatch counts the items of a finished batch operation.
func (sm *SyncMetrics) RecordBatch(ctx context.Context, operation string, succeeded, failed int) {
	if sm == nil {
		return
	}
	sm.batchItems.Add(ctx, int64(succeeded), AttrOperation.String(operation), AttrSyncOutcome.String(string(lms.OutcomeSuccess)))
	sm.batchItems.Add(ctx, int64(failed), AttrOperation.String(operation), AttrSyncOutcome.String(string(lms.OutcomeFailed)))
}

// StartPeriodicCollection samples mapping counts every interval (default 5m)
// until Stop is called or ctx ends. Non-blocking; only the first call starts.
func (sm *SyncMetrics) StartPeriodicCollection(ctx context.Context, provider MappingStatsProvider, interval time.Duration) {
	if sm == nil || provider == nil {
		return
	}
	sm.collectOnce.Do(func() {
		if interval <= 0 {
			interval = 5 * time.Minute
		}
		go sm.runPeriodicCollection(ctx, provider, interval)
	})
}

func (sm *SyncMetrics) runPeriodicCollection(ctx context.Context, provider MappingStatsProvider, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sm.collectMappingCounts(ctx, provider)
	for {
		select {
		case <-sm.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.collectMappingCounts(ctx, provider)
		}
	}
}

func (sm *SyncMetrics) collectMappingCounts(ctx context.Context, provider MappingStatsProvider) {
	counts, err := provider.MappingCounts(ctx)
	if err != nil {
		sm.logger.Warn("Failed to collect mapping counts", zap.Error(err))
		return
	}
	for entity, byStatus := range counts {
		for status, n := range byStatus {
			sm.mappingGauge.Record(ctx, n, metric.WithAttributes(
				AttrEntity.String(entity),
				AttrStatus.String(string(status)),
			))
		}
	}
}

// Stop ends periodic collection.
func (sm *SyncMetrics) Stop() {
	if sm == nil {
		return
	}
	sm.stopOnce.Do(func() { close(sm.stopChan) })
}
