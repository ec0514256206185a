package producer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/couchbase/gocb/v2"
	"go.uber.org/zap"

	"routedpub/internal/pub"
	"routedpub/internal/validator"
)

// ErrAlreadyStarted is returned when Start is called more than once.
var ErrAlreadyStarted = errors.New("producer: partition publisher already started")

// Config tunes a store-backed partition publisher.
type Config struct {
	BatchSize    int           `env:"PRODUCER_BATCH_SIZE" envDefault:"100"`
	QueueSize    int           `env:"PRODUCER_QUEUE_SIZE" envDefault:"1000"`
	WriteTimeout time.Duration `env:"PRODUCER_WRITE_TIMEOUT" envDefault:"10s"`
}

type pending struct {
	ctx    context.Context
	msg    pub.Message
	result *pub.PublishResult
}

// PartitionPublisher appends messages to one partition of a topic kept in a
// pub.Controller. A single loop assigns offsets in submission order, so
// results resolve in the order messages were accepted. Any storage error is
// terminal for the partition.
type PartitionPublisher struct {
	controller pub.Controller
	topic      string
	partition  int
	config     Config
	logger     *zap.Logger
	now        func() time.Time

	failure *pub.Failure

	mu      sync.RWMutex
	started bool
	closed  bool
	queue   chan *pending
	done    chan struct{}

	// owned by the loop
	next uint64
}

func NewPartitionPublisher(controller pub.Controller, topic string, partition int, config Config, logger *zap.Logger) (*PartitionPublisher, error) {
	p := PartitionPublisher{
		controller: controller,
		topic:      topic,
		partition:  partition,
		config:     config,
		logger:     logger,
		now:        time.Now,
		failure:    pub.NewFailure(),
		done:       make(chan struct{}),
	}

	if err := validator.Validate("partition publisher", p.controller, p.topic, p.logger); err != nil {
		return nil, fmt.Errorf("failed to validate partition publisher deps: %w", err)
	}
	if p.config.BatchSize <= 0 {
		p.config.BatchSize = 1
	}
	if p.config.QueueSize < 0 {
		p.config.QueueSize = 0
	}
	if p.config.WriteTimeout <= 0 {
		p.config.WriteTimeout = 10 * time.Second
	}
	p.queue = make(chan *pending, p.config.QueueSize)
	p.logger = p.logger.With(zap.String("topic", topic), zap.Int("partition", partition))

	return &p, nil
}

// Start loads the partition's committed write offset and starts the write loop.
func (p *PartitionPublisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.closed:
		return pub.ErrClosed
	case p.started:
		return ErrAlreadyStarted
	}

	offset, err := p.controller.GetOffset(ctx, p.topic, p.partition)
	switch {
	case err == nil:
	case errors.Is(err, gocb.ErrDocumentNotFound):
		offset = 0
	default:
		return fmt.Errorf("failed to get offset for topic %s partition %d: %w", p.topic, p.partition, err)
	}

	next, err := p.skipUncommitted(ctx, offset)
	if err != nil {
		return err
	}

	p.next = next
	p.started = true
	go p.loop()

	p.logger.Debug("partition publisher started", zap.Uint64("offset", next))
	return nil
}

// skipUncommitted moves past records written after the committed offset
// whose commit never happened, such as when a writer stopped between insert
// and commit. Those records are kept as they are.
func (p *PartitionPublisher) skipUncommitted(ctx context.Context, offset uint64) (uint64, error) {
	next := offset
	for {
		exists, err := p.controller.RecordExists(ctx, p.topic, p.partition, next)
		if err != nil {
			return 0, fmt.Errorf("failed to check record at offset %d for topic %s partition %d: %w", next, p.topic, p.partition, err)
		}
		if !exists {
			break
		}
		next++
	}

	if next != offset {
		p.logger.Warn("skipped uncommitted records",
			zap.Uint64("committed_offset", offset),
			zap.Uint64("next_offset", next),
		)
	}

	return next, nil
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
	select {
	case p.queue <- &pending{ctx: ctx, msg: msg, result: r}:
	case <-p.failure.Done():
		r.Set(pub.Metadata{}, p.failure.Err())
	case <-ctx.Done():
		r.Set(pub.Metadata{}, ctx.Err())
	}

	return r
}

func (p *PartitionPublisher) Failed() <-chan struct{} {
	return p.failure.Done()
}

func (p *PartitionPublisher) Err() error {
	return p.failure.Err()
}

// Close stops admission and waits until every queued message has resolved.
// It is safe to call more than once and without Start.
func (p *PartitionPublisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		if p.started {
			close(p.queue)
		} else {
			close(p.done)
		}
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to drain partition %d: %w", p.partition, ctx.Err())
	}
}

func (p *PartitionPublisher) loop() {
	defer close(p.done)

	for first := range p.queue {
		batch := []*pending{first}
	drain:
		for len(batch) < p.config.BatchSize {
			select {
			case pd, ok := <-p.queue:
				if !ok {
					break drain
				}
				batch = append(batch, pd)
			default:
				break drain
			}
		}

		p.publishBatch(batch)
	}
}

type written struct {
	pending *pending
	offset  uint64
}

func (p *PartitionPublisher) publishBatch(batch []*pending) {
	if err := p.failure.Err(); err != nil {
		resolveAll(batch, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.config.WriteTimeout)
	defer cancel()

	done := make([]written, 0, len(batch))
	for i, pd := range batch {
		if err := pd.ctx.Err(); err != nil {
			pd.result.Set(pub.Metadata{}, err)
			continue
		}

		rec := pub.NewRecord(p.topic, p.partition, p.next, pd.msg, p.now())
		if err := p.controller.InsertRecord(ctx, rec); err != nil {
			err = p.fail(fmt.Errorf("failed to insert record with ID %s: %w", rec.ID, err))
			resolveWritten(done, err)
			resolveAll(batch[i:], err)
			return
		}

		done = append(done, written{pending: pd, offset: p.next})
		p.next++
	}

	if len(done) == 0 {
		return
	}

	if err := p.controller.CommitOffset(ctx, p.topic, p.partition, p.next); err != nil {
		err = p.fail(fmt.Errorf("failed to commit offset for topic %s partition %d: %w", p.topic, p.partition, err))
		resolveWritten(done, err)
		return
	}

	for _, w := range done {
		w.pending.result.Set(pub.Metadata{Partition: p.partition, Offset: int64(w.offset)}, nil)
	}

	p.logger.Debug("published batch", zap.Int("count", len(done)), zap.Uint64("next_offset", p.next))
}

// fail fires the terminal signal and returns the error every pending and
// future publish resolves with.
func (p *PartitionPublisher) fail(err error) error {
	if p.failure.Fail(err) {
		p.logger.Error("partition publisher failed", zap.Error(err))
	}

	return p.failure.Err()
}

func resolveAll(batch []*pending, err error) {
	for _, pd := range batch {
		pd.result.Set(pub.Metadata{}, err)
	}
}

func resolveWritten(done []written, err error) {
	for _, w := range done {
		w.pending.result.Set(pub.Metadata{}, err)
	}
}
