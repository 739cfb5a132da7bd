package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func observed(level zapcore.Level) (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return zap.New(core), logs
}

func fieldMap(entry observer.LoggedEntry) map[string]any {
	return entry.ContextMap()
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()), "no-op logger when absent")

	l, _ := observed(zapcore.InfoLevel)
	ctx := WithContext(context.Background(), l)
	assert.Same(t, l, FromContext(ctx))
}

func TestContextLogger_InjectsCorrelationFields(t *testing.T) {
	l, logs := observed(zapcore.DebugLevel)

	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})

	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	ctx = WithContext(ctx, l)
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithSyncRunID(ctx, "run-9")
	ctx = WithEntity(ctx, "user:abc")

	L(ctx).With(zap.String("extra", "x")).Warn("sync failed")

	require.Equal(t, 1, logs.Len())
	fields := fieldMap(logs.All()[0])
	assert.Equal(t, traceID.String(), fields["trace_id"])
	assert.Equal(t, spanID.String(), fields["span_id"])
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "run-9", fields["sync_run_id"])
	assert.Equal(t, "user:abc", fields["entity"])
	assert.Equal(t, "x", fields["extra"])
	assert.Equal(t, traceID.String(), GetTraceID(ctx))
}

func TestContextLogger_NoFieldsWithoutContext(t *testing.T) {
	l, logs := observed(zapcore.InfoLevel)
	For(context.Background(), l).Info("plain")

	require.Equal(t, 1, logs.Len())
	assert.Empty(t, logs.All()[0].Context)
	assert.Empty(t, GetTraceID(context.Background()))

	assert.NotPanics(t, func() { For(context.Background(), nil).Error("dropped") })
}

func TestNew(t *testing.T) {
	extraCore, logs := observer.New(zapcore.InfoLevel)

	l, err := New(&Config{Level: "warn", Format: "json", Output: "stderr"}, extraCore)
	require.NoError(t, err)
	l.Warn("to both cores")
	l.Info("below primary level")

	assert.Equal(t, 2, logs.Len(), "extra cores filter with their own level")

	assert.Equal(t, zapcore.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("nonsense"))
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, logs := observed(zapcore.InfoLevel)

	r := gin.New()
	r.Use(Recovery(l), GinMiddleware(l))
	r.GET("/ok", func(c *gin.Context) {
		L(c.Request.Context()).Info("inside handler")
		c.Status(http.StatusOK)
	})
	r.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, logs.FilterMessage("inside handler").Len(), "handler sees request logger")
	assert.Equal(t, zapcore.InfoLevel, logs.FilterMessage("HTTP Request").All()[0].Level)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, zapcore.WarnLevel, logs.FilterMessage("HTTP Request").All()[1].Level)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 1, logs.FilterMessage("Panic recovered").Len())
}

func TestGormLogger_Trace(t *testing.T) {
	l, logs := observed(zapcore.DebugLevel)
	gl := NewGormLogger(l, gormlogger.Warn, 10*time.Millisecond)
	ctx := WithSyncRunID(context.Background(), "run-1")
	sql := func() (string, int64) { return "SELECT 1", 1 }

	gl.Trace(ctx, time.Now(), sql, gormlogger.ErrRecordNotFound)
	assert.Equal(t, 0, logs.Len(), "record not found is silent")

	gl.Trace(ctx, time.Now(), sql, assert.AnError)
	require.Equal(t, 1, logs.FilterMessage("SQL Error").Len())
	assert.Equal(t, "run-1", fieldMap(logs.FilterMessage("SQL Error").All()[0])["sync_run_id"])

	gl.Trace(ctx, time.Now().Add(-time.Second), sql, nil)
	assert.Equal(t, 1, logs.FilterMessage("Slow SQL").Len())

	gl.Trace(ctx, time.Now(), sql, nil)
	assert.Equal(t, 0, logs.FilterMessage("SQL Query").Len(), "queries only at info level")

	gl.LogMode(gormlogger.Info).Trace(ctx, time.Now(), sql, nil)
	assert.Equal(t, 1, logs.FilterMessage("SQL Query").Len())

	assert.Equal(t, gormlogger.Silent, MapGormLogLevel("silent"))
	assert.Equal(t, gormlogger.Warn, MapGormLogLevel(""))
}
