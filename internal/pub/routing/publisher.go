// Package routing implements a topic publisher that routes every message to
// one of a fixed set of partition publishers and isolates the terminal
// failure of one partition from the others.
package routing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"routedpub/internal/pub"
	"routedpub/internal/pub/metrics"
	"routedpub/internal/validator"
)

type state int

const (
	stateCreated state = iota
	stateStarting
	stateRunning
	stateClosing
	stateClosed
)

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("routing: publisher already started")

var errRouteOutOfRange = errors.New("routing: router returned partition out of range")

// PartitionPublisherFactory creates the publisher for one partition.
type PartitionPublisherFactory func(partition int) (pub.PartitionPublisher, error)

// Publisher routes messages across the partitions of one topic.
type Publisher struct {
	topic     string
	slots     []*slot
	router    Router
	lifecycle *lifecycle
	logger    *zap.Logger
	registry  *metrics.Registry

	admission sync.RWMutex
	state     state
	inflight  sync.WaitGroup

	failed  atomic.Int32
	failure *pub.Failure

	shutdownOnce sync.Once
	shutdownDone chan struct{}
	shutdownErr  error
}

// NewPublisher discovers the partition count of topic once and creates one
// partition publisher per partition through factory. The returned Publisher
// rejects publishes until Start succeeds.
func NewPublisher(
	ctx context.Context,
	topic string,
	counter pub.PartitionCounter,
	factory PartitionPublisherFactory,
	opts ...Option,
) (*Publisher, error) {
	if err := validator.Validate("routing publisher", topic, counter, factory); err != nil {
		return nil, fmt.Errorf("failed to validate routing publisher deps: %w", err)
	}

	o := newOptions(opts)

	count, err := counter.PartitionCount(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to get partition count for topic %s: %w", topic, err)
	}
	if count <= 0 {
		return nil, fmt.Errorf("invalid partition count %d for topic %s", count, topic)
	}

	slots := make([]*slot, count)
	for i := range slots {
		pp, err := factory(i)
		if err != nil {
			return nil, fmt.Errorf("failed to create publisher for partition %d: %w", i, err)
		}
		if pp == nil {
			return nil, fmt.Errorf("nil publisher for partition %d", i)
		}
		slots[i] = newSlot(topic, i, pp)
	}

	var router Router
	if o.router != nil {
		router = o.router(count)
	} else {
		router = NewDefaultRouter(count, o.keyless)
	}

	p := &Publisher{
		topic:        topic,
		slots:        slots,
		router:       router,
		logger:       o.logger.Named("routing").With(zap.String("topic", topic)),
		registry:     o.registry,
		failure:      pub.NewFailure(),
		shutdownDone: make(chan struct{}),
	}
	p.lifecycle = &lifecycle{
		slots:        slots,
		logger:       p.logger,
		closeTimeout: o.closeTimeout,
		onFailure:    p.partitionFailed,
	}

	if p.registry != nil {
		p.registry.SetPublisherHealthy(topic, true)
		p.registry.SetPartitionsFailed(topic, 0)
	}

	return p, nil
}

// Start starts every partition publisher. If any of them fails to start, all
// are closed and the Publisher stays unusable.
func (p *Publisher) Start(ctx context.Context) error {
	p.admission.Lock()
	switch p.state {
	case stateCreated:
		p.state = stateStarting
	case stateClosing, stateClosed:
		p.admission.Unlock()
		return pub.ErrClosed
	default:
		p.admission.Unlock()
		return ErrAlreadyStarted
	}
	p.admission.Unlock()

	if err := p.lifecycle.start(ctx); err != nil {
		p.admission.Lock()
		p.state = stateClosed
		p.admission.Unlock()
		return fmt.Errorf("failed to start partition publishers: %w", err)
	}

	p.admission.Lock()
	if p.state != stateStarting {
		p.admission.Unlock()
		return pub.ErrClosed
	}
	p.state = stateRunning
	p.admission.Unlock()

	p.logger.Info("routing publisher started", zap.Int("partitions", len(p.slots)))
	return nil
}

// Publish routes msg to its partition. The result carries either that
// partition's acknowledgment or an error attributable to that partition;
// publishes outside the running window resolve immediately with
// pub.ErrNotStarted or pub.ErrClosed.
func (p *Publisher) Publish(ctx context.Context, msg pub.Message) *pub.PublishResult {
	p.admission.RLock()
	switch p.state {
	case stateRunning:
	case stateCreated, stateStarting:
		p.admission.RUnlock()
		p.recordRejected("not_started")
		return pub.NewFailedResult(pub.ErrNotStarted)
	default:
		p.admission.RUnlock()
		p.recordRejected("closed")
		return pub.NewFailedResult(pub.ErrClosed)
	}
	p.inflight.Add(1)
	p.admission.RUnlock()

	partition := p.router.Route(msg)
	if partition < 0 || partition >= len(p.slots) {
		p.inflight.Done()
		return pub.NewFailedResult(fmt.Errorf("%w: %d", errRouteOutOfRange, partition))
	}

	result := p.slots[partition].trySubmit(ctx, msg)
	result.AfterFunc(p.inflight.Done)
	return result
}

// PartitionFor returns the partition msg would be routed to. Keyed messages
// always map to the same partition for the life of the Publisher. For
// keyless messages it reports the next pick of a round-robin policy without
// advancing it; a custom Router that does not implement Peeker is asked
// through Route.
func (p *Publisher) PartitionFor(msg pub.Message) int {
	return peek(p.router, msg)
}

// IsHealthy reports whether no partition has failed. Once false it stays false.
func (p *Publisher) IsHealthy() bool {
	return p.failed.Load() == 0
}

// Failed is closed when the first partition fails.
func (p *Publisher) Failed() <-chan struct{} {
	return p.failure.Done()
}

// Error returns the first partition failure, or nil while healthy.
func (p *Publisher) Error() error {
	return p.failure.Err()
}

// FailedPartitions lists the partitions whose publishers have failed.
func (p *Publisher) FailedPartitions() []int {
	var failed []int
	for _, s := range p.slots {
		if s.currentError() != nil {
			failed = append(failed, s.partition)
		}
	}

	return failed
}

func (p *Publisher) PartitionCount() int {
	return len(p.slots)
}

func (p *Publisher) Topic() string {
	return p.topic
}

// Shutdown stops admitting publishes, waits for every admitted publish to
// resolve and closes all partition publishers. Every call waits for the same
// shutdown and returns its result; ctx only bounds how long the caller waits.
func (p *Publisher) Shutdown(ctx context.Context) error {
	first := false
	p.shutdownOnce.Do(func() { first = true })
	if first {
		p.shutdownErr = p.shutdown(ctx)
		close(p.shutdownDone)
	}

	select {
	case <-p.shutdownDone:
		return p.shutdownErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once shutdown has completed.
func (p *Publisher) Done() <-chan struct{} {
	return p.shutdownDone
}

func (p *Publisher) shutdown(ctx context.Context) error {
	p.admission.Lock()
	p.state = stateClosing
	p.admission.Unlock()

	p.logger.Info("shutting down routing publisher")

	drained := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = fmt.Errorf("failed to drain in-flight publishes: %w", ctx.Err())
	}

	if lerr := p.lifecycle.shutdown(ctx); lerr != nil {
		err = multierr.Append(err, lerr)
	}

	p.admission.Lock()
	p.state = stateClosed
	p.admission.Unlock()

	if err != nil {
		p.logger.Error("routing publisher shutdown incomplete", zap.Error(err))
		return err
	}

	p.logger.Info("routing publisher stopped")
	return nil
}

func (p *Publisher) partitionFailed(partition int, err error) {
	p.failed.Add(1)

	if p.registry != nil {
		p.registry.RecordPartitionFailure(p.topic, partition)
		p.registry.SetPublisherHealthy(p.topic, false)
	}

	p.failure.Fail(err)
}

func (p *Publisher) recordRejected(reason string) {
	if p.registry != nil {
		p.registry.RecordPublishRejected(p.topic, reason)
	}
}
