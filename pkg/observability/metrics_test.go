package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestCollector_Records(t *testing.T) {
	c := NewCollector("outliner_test")

	c.RecordMutation("move", nil)
	c.RecordMutation("move", errors.New("boom"))
	c.RecordMutation("move", nil)
	c.AddNodesCreated(3)
	c.AddNodesDeleted(0)
	c.ObserveLockWait(time.Millisecond)
	c.RecordHTTP("GET", "/api/nodes", 200, 10*time.Millisecond)
	c.SetBreakerState("store", 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.Mutations.WithLabelValues("move", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Mutations.WithLabelValues("move", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.NodesCreated))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.NodesDeleted))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.BreakerState.WithLabelValues("store")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.HTTPRequests.WithLabelValues("GET", "/api/nodes", "200")))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordMutation("create", nil)
		c.AddNodesCreated(1)
		c.ObserveLockWait(time.Second)
		c.RecordHTTP("GET", "/", 200, time.Second)
		c.SetBreakerState("x", 1)
	})
}

func TestCollector_SeparateRegistries(t *testing.T) {
	a := NewCollector("ns")
	b := NewCollector("ns")
	assert.NotSame(t, a.GetRegistry(), b.GetRegistry())
}

func TestNewLogger(t *testing.T) {
	logger, level, err := NewLogger("production", "warn")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))

	level.SetLevel(zapcore.DebugLevel)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	_, _, err = NewLogger("development", "chatty")
	assert.Error(t, err)
}
