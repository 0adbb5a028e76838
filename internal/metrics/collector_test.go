package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorAggregates(t *testing.T) {
	c := NewCollector()
	c.RecordTiming(OpRemoteWrite, 10*time.Millisecond)
	c.RecordTiming(OpRemoteWrite, 30*time.Millisecond)
	c.Observe(OpRemoteWrite, time.Now(), errors.New("offline"))

	snap := c.Snapshot()
	op := snap.Op(OpRemoteWrite)
	require.NotNil(t, op)
	assert.Equal(t, int64(3), op.Count)
	assert.Equal(t, int64(1), op.Failures)
	assert.Equal(t, int64(30), op.MaxTimeMs)
	assert.Equal(t, int64(0), op.MinTimeMs)
	assert.Nil(t, snap.Op(OpBlobUpload))
}

func TestCollectorSortedSnapshot(t *testing.T) {
	c := NewCollector()
	c.RecordTiming(OpReconcilePass, time.Millisecond)
	c.RecordTiming(OpBlobUpload, time.Millisecond)
	c.RecordTiming(OpCacheWrite, time.Millisecond)

	snap := c.Snapshot()
	require.Len(t, snap.Operations, 3)
	assert.Equal(t, OpBlobUpload, snap.Operations[0].Name)
	assert.Equal(t, OpReconcilePass, snap.Operations[2].Name)
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.RecordTiming(OpCacheWrite, time.Millisecond)
	assert.Empty(t, c.Snapshot().Operations)
}
