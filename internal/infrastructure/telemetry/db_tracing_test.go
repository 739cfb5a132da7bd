package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type tracedMapping struct {
	ID        uint   `gorm:"primaryKey"`
	Username  string `gorm:"size:100"`
	CreatedAt time.Time
}

func setupTracedDB(t *testing.T, cfg DBTracingConfig) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&tracedMapping{}))
	require.NoError(t, NewDBTracingPlugin(cfg, zap.NewNop()).RegisterOtelGorm(db))
	return db
}

func setupSpanRecorder(t *testing.T) (*sdktrace.TracerProvider, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, sr
}

func TestDefaultDBTracingConfig(t *testing.T) {
	cfg := DefaultDBTracingConfig()
	assert.False(t, cfg.Enabled)
	assert.False(t, cfg.LogFullSQL)
	assert.Equal(t, 200*time.Millisecond, cfg.SlowQueryThresh)
	assert.Equal(t, "postgresql", cfg.DBSystem)
}

func TestNewDBTracingPlugin_FillsDefaults(t *testing.T) {
	p := NewDBTracingPlugin(DBTracingConfig{Enabled: true}, zap.NewNop())
	assert.Equal(t, 200*time.Millisecond, p.config.SlowQueryThresh)
	assert.Equal(t, "postgresql", p.config.DBSystem)
}

func TestRegisterOtelGorm_Disabled(t *testing.T) {
	db := setupTracedDB(t, DefaultDBTracingConfig())
	assert.Nil(t, db.Callback().Query().Get("otel_slow_query:query"))
}

func TestRegisterOtelGorm_Enabled(t *testing.T) {
	cfg := DefaultDBTracingConfig()
	cfg.Enabled = true
	db := setupTracedDB(t, cfg)

	assert.NotNil(t, db.Callback().Query().Get("otel_slow_query:query"))
	assert.NotNil(t, db.Callback().Create().Get("otel_timing:before_create"))

	// a second registration collides with the installed plugin
	assert.Error(t, NewDBTracingPlugin(cfg, zap.NewNop()).RegisterOtelGorm(db))
}

func TestSlowQueryCallback_AnnotatesSpan(t *testing.T) {
	p := NewDBTracingPlugin(DBTracingConfig{Enabled: true, SlowQueryThresh: time.Nanosecond}, zap.NewNop())
	tp, sr := setupSpanRecorder(t)

	ctx, span := tp.Tracer("test").Start(context.Background(), "gorm.Create")
	ctx = context.WithValue(ctx, queryStartTimeKey, time.Now().Add(-time.Second))
	db := &gorm.DB{RowsAffected: 1, Statement: &gorm.Statement{
		Context: ctx,
		Table:   "lms_user_mappings",
	}}
	db.Statement.DB = db
	p.slowQueryCallback(db)
	span.End()

	recorded := sr.Ended()[0]
	attrs := map[string]bool{}
	for _, a := range recorded.Attributes() {
		attrs[string(a.Key)] = true
	}
	assert.True(t, attrs["db.slow_query"])
	assert.True(t, attrs["db.sql.table"])
	assert.True(t, attrs["db.rows_affected"])
	require.Len(t, recorded.Events(), 1)
	assert.Equal(t, "slow_query_warning", recorded.Events()[0].Name)
	assert.NotEqual(t, codes.Error, recorded.Status().Code)
}

func TestSlowQueryCallback_RecordsErrors(t *testing.T) {
	p := NewDBTracingPlugin(DBTracingConfig{Enabled: true}, zap.NewNop())
	tp, sr := setupSpanRecorder(t)

	_, span := tp.Tracer("test").Start(context.Background(), "gorm.Query")
	ctx := trace.ContextWithSpan(context.Background(), span)
	db := &gorm.DB{Statement: &gorm.Statement{Context: ctx}}
	db.Error = errors.New("relation does not exist")
	p.slowQueryCallback(db)

	db.Error = gorm.ErrRecordNotFound
	_, notFoundSpan := tp.Tracer("test").Start(context.Background(), "gorm.First")
	db.Statement.Context = trace.ContextWithSpan(context.Background(), notFoundSpan)
	p.slowQueryCallback(db)

	span.End()
	notFoundSpan.End()

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.NotEqual(t, codes.Error, spans[1].Status().Code)
}

func TestSlowQueryCallback_NilContext(t *testing.T) {
	p := NewDBTracingPlugin(DefaultDBTracingConfig(), zap.NewNop())
	db := &gorm.DB{Statement: &gorm.Statement{}}
	assert.NotPanics(t, func() { p.slowQueryCallback(db) })
}
