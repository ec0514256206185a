// Package kafka publishes to the partitions of a Kafka topic, one
// pub.PartitionPublisher per partition over a shared franz-go client.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"routedpub/internal/pub"
	"routedpub/internal/validator"
)

var ErrAlreadyStarted = errors.New("kafka: partition publisher already started")

// Producer is the part of *kgo.Client a partition publisher uses.
type Producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
}

// PartitionPublisher pins every record to one partition. Retriable errors
// fail only the call; anything else ends the partition stream.
type PartitionPublisher struct {
	producer  Producer
	topic     string
	partition int32
	logger    *zap.Logger

	failure *pub.Failure

	mu       sync.RWMutex
	started  bool
	closed   bool
	inflight sync.WaitGroup
}

func NewPartitionPublisher(producer Producer, topic string, partition int, logger *zap.Logger) (*PartitionPublisher, error) {
	p := PartitionPublisher{
		producer:  producer,
		topic:     topic,
		partition: int32(partition),
		logger:    logger,
		failure:   pub.NewFailure(),
	}

	if err := validator.Validate("kafka partition publisher", p.producer, p.topic, p.logger); err != nil {
		return nil, fmt.Errorf("failed to validate kafka partition publisher deps: %w", err)
	}
	p.logger = p.logger.With(zap.String("topic", topic), zap.Int("partition", partition))

	return &p, nil
}

// Start marks the publisher ready. The shared client connects lazily.
func (p *PartitionPublisher) Start(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.closed:
		return pub.ErrClosed
	case p.started:
		return ErrAlreadyStarted
	}

	p.started = true
	return nil
}

func (p *PartitionPublisher) Publish(ctx context.Context, msg pub.Message) *pub.PublishResult {
	if err := p.failure.Err(); err != nil {
		return pub.NewFailedResult(err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	switch {
	case p.closed:
		return pub.NewFailedResult(pub.ErrClosed)
	case !p.started:
		return pub.NewFailedResult(pub.ErrNotStarted)
	}

	r := pub.NewPublishResult()
	p.inflight.Add(1)
	p.producer.Produce(ctx, NewRecord(p.topic, p.partition, msg), func(rec *kgo.Record, err error) {
		defer p.inflight.Done()

		if err != nil {
			r.Set(pub.Metadata{}, p.produceFailed(err))
			return
		}

		r.Set(pub.Metadata{Partition: int(rec.Partition), Offset: rec.Offset}, nil)
	})

	return r
}

func (p *PartitionPublisher) Failed() <-chan struct{} {
	return p.failure.Done()
}

func (p *PartitionPublisher) Err() error {
	return p.failure.Err()
}

// Close stops admission and waits for every produced record's promise.
// The shared client stays open.
func (p *PartitionPublisher) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to drain partition %d: %w", p.partition, ctx.Err())
	}
}

func (p *PartitionPublisher) produceFailed(err error) error {
	pe := classify(err)
	if !pe.Terminal {
		return pe
	}

	if p.failure.Fail(pe) {
		p.logger.Error("partition stream failed", zap.Stringer("code", pe.Code), zap.Error(err))
	}

	return p.failure.Err()
}

// NewRecord builds the record for msg on a fixed partition. Attributes
// become headers in key order.
func NewRecord(topic string, partition int32, msg pub.Message) *kgo.Record {
	rec := kgo.Record{
		Topic:     topic,
		Partition: partition,
		Key:       msg.Key,
		Value:     msg.Data,
	}
	if !msg.EventTime.IsZero() {
		rec.Timestamp = msg.EventTime
	}
	keys := make([]string, 0, len(msg.Attributes))
	for k := range msg.Attributes {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(msg.Attributes[k])})
	}

	return &rec
}
