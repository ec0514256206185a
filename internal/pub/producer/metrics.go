package producer

import (
	"context"
	"time"

	"routedpub/internal/pub"
	"routedpub/internal/pub/metrics"
)

// MetricsPartitionPublisher wraps a pub.PartitionPublisher with metrics collection
type MetricsPartitionPublisher struct {
	pub.PartitionPublisher

	registry  *metrics.Registry
	topic     string
	partition int
}

// NewMetricsPartitionPublisher creates a new instrumented partition publisher
func NewMetricsPartitionPublisher(publisher pub.PartitionPublisher, registry *metrics.Registry, topic string, partition int) pub.PartitionPublisher {
	return &MetricsPartitionPublisher{
		PartitionPublisher: publisher,
		registry:           registry,
		topic:              topic,
		partition:          partition,
	}
}

// Publish implements pub.Publisher.Publish, recording the outcome once the result resolves
func (p *MetricsPartitionPublisher) Publish(ctx context.Context, msg pub.Message) *pub.PublishResult {
	start := time.Now()

	r := p.PartitionPublisher.Publish(ctx, msg)
	r.AfterFunc(func() {
		_, err := r.Get(context.Background())
		p.registry.RecordPartitionPublish(p.topic, p.partition, time.Since(start), err)
	})

	return r
}
