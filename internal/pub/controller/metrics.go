package controller

import (
	"context"
	"time"

	"routedpub/internal/pub"
	"routedpub/internal/pub/metrics"
)

// MetricsController wraps a pub.Controller with metrics collection
type MetricsController struct {
	controller pub.Controller
	registry   *metrics.Registry
}

// NewMetricsController creates a new instrumented controller
func NewMetricsController(controller pub.Controller, registry *metrics.Registry) pub.Controller {
	return &MetricsController{
		controller: controller,
		registry:   registry,
	}
}

// GetOffset implements pub.Controller.GetOffset with metrics collection
func (c *MetricsController) GetOffset(ctx context.Context, topic string, partition int) (uint64, error) {
	start := time.Now()

	offset, err := c.controller.GetOffset(ctx, topic, partition)
	c.registry.RecordStorageOperation("get_offset", time.Since(start), err)

	return offset, err
}

// CommitOffset implements pub.Controller.CommitOffset with metrics collection
func (c *MetricsController) CommitOffset(ctx context.Context, topic string, partition int, offset uint64) error {
	start := time.Now()

	err := c.controller.CommitOffset(ctx, topic, partition, offset)
	c.registry.RecordStorageOperation("commit_offset", time.Since(start), err)

	return err
}

// RecordExists implements pub.Controller.RecordExists with metrics collection
func (c *MetricsController) RecordExists(ctx context.Context, topic string, partition int, offset uint64) (bool, error) {
	start := time.Now()

	exists, err := c.controller.RecordExists(ctx, topic, partition, offset)
	c.registry.RecordStorageOperation("record_exists", time.Since(start), err)

	return exists, err
}

// InsertRecord implements pub.Controller.InsertRecord with metrics collection
func (c *MetricsController) InsertRecord(ctx context.Context, rec pub.Record) error {
	start := time.Now()

	err := c.controller.InsertRecord(ctx, rec)
	c.registry.RecordStorageOperation("insert_record", time.Since(start), err)

	return err
}
