package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestInitTracing_DisabledReturnsNoopShutdown(t *testing.T) {
	shutdown, err := InitTracing(TracingConfig{ServiceName: "quill-test"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestStartSpan_RecordsErrors(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := Tracer
	Tracer = tp.Tracer("test")
	t.Cleanup(func() { Tracer = prev })

	_, span := StartSpan(context.Background(), "PostService", "Delete")
	EndSpan(span, errors.New("boom"))

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "PostService.Delete", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
}

type widget struct {
	ID   uint
	Name string
}

func TestRegisterQueryMetrics_ObservesQueries(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, RegisterQueryMetrics(db))
	require.NoError(t, db.AutoMigrate(&widget{}))

	before := testutil.CollectAndCount(DatabaseQueryLatency)
	require.NoError(t, db.Create(&widget{Name: "a"}).Error)
	var got []widget
	require.NoError(t, db.Find(&got).Error)

	assert.Greater(t, testutil.CollectAndCount(DatabaseQueryLatency), before)
}
