package producer

import (
	"context"

	"go.opentelemetry.io/otel/codes"

	"routedpub/internal/pub"
	"routedpub/internal/pub/tracing"
)

// TracedPartitionPublisher wraps a pub.PartitionPublisher with distributed tracing
// Layer order: TracedPartitionPublisher -> MetricsPartitionPublisher -> real publisher
type TracedPartitionPublisher struct {
	pub.PartitionPublisher

	tracer    *tracing.Tracer
	topic     string
	partition int
}

// NewTracedPartitionPublisher creates a new traced publisher that wraps a metrics publisher
func NewTracedPartitionPublisher(publisher pub.PartitionPublisher, tracer *tracing.Tracer, topic string, partition int) pub.PartitionPublisher {
	return &TracedPartitionPublisher{
		PartitionPublisher: publisher,
		tracer:             tracer,
		topic:              topic,
		partition:          partition,
	}
}

// Publish implements pub.Publisher.Publish. The span stays open until the
// result resolves.
func (p *TracedPartitionPublisher) Publish(ctx context.Context, msg pub.Message) *pub.PublishResult {
	ctx, span := p.tracer.StartSpan(ctx, "partition.publish")
	span.SetAttributes(p.tracer.PublishAttributes(p.topic, p.partition, len(msg.Data), msg.HasKey())...)

	r := p.PartitionPublisher.Publish(ctx, msg)
	r.AfterFunc(func() {
		defer span.End()

		md, err := r.Get(context.Background())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
			span.SetAttributes(p.tracer.AckAttributes(md.Offset)...)
		}

		span.SetAttributes(p.tracer.ErrorAttributes(err)...)
	})

	return r
}
