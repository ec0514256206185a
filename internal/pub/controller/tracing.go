package controller

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"routedpub/internal/pub"
	"routedpub/internal/pub/tracing"
)

// TracedController wraps a pub.Controller with distributed tracing
// Layer order: TracedController -> MetricsController -> Controller (real thing)
type TracedController struct {
	controller pub.Controller
	tracer     *tracing.Tracer
}

// NewTracedController creates a new traced controller that wraps a metrics controller
func NewTracedController(controller pub.Controller, tracer *tracing.Tracer) pub.Controller {
	return &TracedController{
		controller: controller,
		tracer:     tracer,
	}
}

// GetOffset implements pub.Controller.GetOffset with distributed tracing
func (c *TracedController) GetOffset(ctx context.Context, topic string, partition int) (uint64, error) {
	ctx, span := c.tracer.StartSpan(ctx, "controller.get_offset")
	defer span.End()

	span.SetAttributes(c.tracer.DatabaseAttributes("get_offset")...)
	span.SetAttributes(c.tracer.PubAttributes(topic, partition)...)

	offset, err := c.controller.GetOffset(ctx, topic, partition)

	if err != nil {
		c.tracer.RecordError(ctx, err)
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.Int64("pub.write_offset", int64(offset)))
	}

	span.SetAttributes(c.tracer.ErrorAttributes(err)...)
	return offset, err
}

// CommitOffset implements pub.Controller.CommitOffset with distributed tracing
func (c *TracedController) CommitOffset(ctx context.Context, topic string, partition int, offset uint64) error {
	ctx, span := c.tracer.StartSpan(ctx, "controller.commit_offset")
	defer span.End()

	span.SetAttributes(c.tracer.DatabaseAttributes("commit_offset")...)
	span.SetAttributes(c.tracer.PubAttributes(topic, partition)...)
	span.SetAttributes(attribute.Int64("pub.write_offset", int64(offset)))

	err := c.controller.CommitOffset(ctx, topic, partition, offset)

	if err != nil {
		c.tracer.RecordError(ctx, err)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.SetAttributes(c.tracer.ErrorAttributes(err)...)
	return err
}

// RecordExists implements pub.Controller.RecordExists with distributed tracing
func (c *TracedController) RecordExists(ctx context.Context, topic string, partition int, offset uint64) (bool, error) {
	ctx, span := c.tracer.StartSpan(ctx, "controller.record_exists")
	defer span.End()

	span.SetAttributes(c.tracer.DatabaseAttributes("record_exists")...)
	span.SetAttributes(c.tracer.PubAttributes(topic, partition)...)
	span.SetAttributes(attribute.Int64("pub.offset", int64(offset)))

	exists, err := c.controller.RecordExists(ctx, topic, partition, offset)

	if err != nil {
		c.tracer.RecordError(ctx, err)
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.Bool("pub.record_exists", exists))
	}

	span.SetAttributes(c.tracer.ErrorAttributes(err)...)
	return exists, err
}

// InsertRecord implements pub.Controller.InsertRecord with distributed tracing
func (c *TracedController) InsertRecord(ctx context.Context, rec pub.Record) error {
	ctx, span := c.tracer.StartSpan(ctx, "controller.insert_record")
	defer span.End()

	span.SetAttributes(c.tracer.DatabaseAttributes("insert_record")...)
	span.SetAttributes(c.tracer.PubAttributes(rec.Topic, rec.Partition)...)
	span.SetAttributes(
		attribute.String("pub.record_id", rec.ID),
		attribute.Int64("pub.offset", int64(rec.Offset)),
	)

	err := c.controller.InsertRecord(ctx, rec)

	if err != nil {
		c.tracer.RecordError(ctx, err)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.SetAttributes(c.tracer.ErrorAttributes(err)...)
	return err
}
