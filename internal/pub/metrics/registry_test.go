package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordPartitionPublish(t *testing.T) {
	r := NewRegistry()

	r.RecordPartitionPublish("orders", 0, time.Millisecond, nil)
	r.RecordPartitionPublish("orders", 0, time.Millisecond, nil)
	r.RecordPartitionPublish("orders", 1, time.Millisecond, errors.New("unavailable"))

	assert.Equal(t, 2.0, testutil.ToFloat64(r.publishTotal.WithLabelValues("orders", "0", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.publishTotal.WithLabelValues("orders", "1", "error")))
}

func TestRoutingHealthMetrics(t *testing.T) {
	r := NewRegistry()

	r.SetPublisherHealthy("orders", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.publisherHealthy.WithLabelValues("orders")))

	r.SetPartitionsFailed("orders", 0)
	r.RecordPartitionFailure("orders", 2)
	r.SetPublisherHealthy("orders", false)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.partitionFailures.WithLabelValues("orders", "2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.partitionsFailed.WithLabelValues("orders")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.publisherHealthy.WithLabelValues("orders")))
}

func TestRecordStorageOperation(t *testing.T) {
	r := NewRegistry()
	r.RecordStorageOperation("insert_record", 2*time.Millisecond, nil)

	err := testutil.GatherAndCompare(r.Gatherer(), strings.NewReader(`
# HELP pub_storage_operation_total Total number of storage operations
# TYPE pub_storage_operation_total counter
pub_storage_operation_total{operation="insert_record",status="success"} 1
`), "pub_storage_operation_total")
	require.NoError(t, err)
}
