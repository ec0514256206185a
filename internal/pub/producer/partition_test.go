package producer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/couchbase/gocb/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"routedpub/internal/pub"
)

// memController is an in-memory pub.Controller.
type memController struct {
	mu        sync.Mutex
	offsets   map[string]uint64
	records   map[string]pub.Record
	getErr    error
	existsErr error
	insertErr func(rec pub.Record) error
	commitErr error
}

func newMemController() *memController {
	return &memController{
		offsets: make(map[string]uint64),
		records: make(map[string]pub.Record),
	}
}

func (c *memController) GetOffset(_ context.Context, topic string, partition int) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.getErr != nil {
		return 0, c.getErr
	}
	n, ok := c.offsets[pub.OffsetKey(topic, partition)]
	if !ok {
		return 0, fmt.Errorf("failed to get offset: %w", gocb.ErrDocumentNotFound)
	}
	return n, nil
}

func (c *memController) CommitOffset(_ context.Context, topic string, partition int, offset uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.commitErr != nil {
		return c.commitErr
	}
	key := pub.OffsetKey(topic, partition)
	if offset > c.offsets[key] {
		c.offsets[key] = offset
	}
	return nil
}

func (c *memController) RecordExists(_ context.Context, topic string, partition int, offset uint64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.existsErr != nil {
		return false, c.existsErr
	}
	_, ok := c.records[pub.RecordKey(topic, partition, offset)]
	return ok, nil
}

func (c *memController) InsertRecord(_ context.Context, rec pub.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.insertErr != nil {
		if err := c.insertErr(rec); err != nil {
			return err
		}
	}
	if _, ok := c.records[rec.ID]; ok {
		return gocb.ErrDocumentExists
	}
	c.records[rec.ID] = rec
	return nil
}

func (c *memController) committed(topic string, partition int) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offsets[pub.OffsetKey(topic, partition)]
}

func newTestPartition(t *testing.T, ctl pub.Controller, cfg Config) *PartitionPublisher {
	t.Helper()

	p, err := NewPartitionPublisher(ctl, "orders", 2, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

func wait(t *testing.T, r *pub.PublishResult) (pub.Metadata, error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	md, err := r.Get(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "publish result never resolved")
	return md, err
}

func TestPartitionPublisherAssignsOffsetsInOrder(t *testing.T) {
	ctl := newMemController()
	p := newTestPartition(t, ctl, Config{BatchSize: 8, QueueSize: 16})
	require.NoError(t, p.Start(context.Background()))

	results := make([]*pub.PublishResult, 0, 50)
	for i := 0; i < 50; i++ {
		results = append(results, p.Publish(context.Background(), pub.Message{Data: []byte(fmt.Sprintf("m-%d", i))}))
	}

	for i, r := range results {
		md, err := wait(t, r)
		require.NoError(t, err)
		assert.Equal(t, pub.Metadata{Partition: 2, Offset: int64(i)}, md)
	}

	assert.Equal(t, uint64(50), ctl.committed("orders", 2))
	rec := ctl.records[pub.RecordKey("orders", 2, 7)]
	assert.Equal(t, []byte("m-7"), rec.Data)
	assert.Equal(t, 2, rec.Partition)
}

func TestPartitionPublisherResumesFromCommittedOffset(t *testing.T) {
	ctl := newMemController()
	ctl.offsets[pub.OffsetKey("orders", 2)] = 41
	p := newTestPartition(t, ctl, Config{BatchSize: 1})
	require.NoError(t, p.Start(context.Background()))

	md, err := wait(t, p.Publish(context.Background(), pub.Message{Key: []byte("k"), Data: []byte("x")}))
	require.NoError(t, err)
	assert.Equal(t, int64(41), md.Offset)
}

func TestPartitionPublisherStartError(t *testing.T) {
	ctl := newMemController()
	ctl.getErr = errors.New("timeout")
	p := newTestPartition(t, ctl, Config{})

	err := p.Start(context.Background())
	assert.ErrorContains(t, err, "timeout")
}

func TestPartitionPublisherInsertFailureIsTerminal(t *testing.T) {
	ctl := newMemController()
	cause := errors.New("bucket not found")
	ctl.insertErr = func(rec pub.Record) error {
		if rec.Offset == 3 {
			return cause
		}
		return nil
	}
	p := newTestPartition(t, ctl, Config{BatchSize: 1, QueueSize: 8})
	require.NoError(t, p.Start(context.Background()))

	var results []*pub.PublishResult
	for i := 0; i < 5; i++ {
		results = append(results, p.Publish(context.Background(), pub.Message{Data: []byte("x")}))
	}

	for i, r := range results {
		md, err := wait(t, r)
		if i < 3 {
			require.NoError(t, err)
			assert.Equal(t, int64(i), md.Offset)
			continue
		}
		assert.ErrorIs(t, err, cause)
	}

	select {
	case <-p.Failed():
	case <-time.After(5 * time.Second):
		t.Fatal("terminal failure not signalled")
	}
	assert.ErrorIs(t, p.Err(), cause)

	_, err := wait(t, p.Publish(context.Background(), pub.Message{Data: []byte("late")}))
	assert.ErrorIs(t, err, cause)
}

func TestPartitionPublisherSkipsUncommittedRecords(t *testing.T) {
	ctl := newMemController()
	for offset := uint64(0); offset < 3; offset++ {
		rec := pub.NewRecord("orders", 2, offset, pub.Message{Data: []byte("before crash")}, time.Now())
		ctl.records[rec.ID] = rec
	}
	p := newTestPartition(t, ctl, Config{BatchSize: 1})
	require.NoError(t, p.Start(context.Background()))

	md, err := wait(t, p.Publish(context.Background(), pub.Message{Data: []byte("after restart")}))
	require.NoError(t, err)
	assert.Equal(t, int64(3), md.Offset)
	assert.Equal(t, uint64(4), ctl.committed("orders", 2))
	assert.Equal(t, []byte("before crash"), ctl.records[pub.RecordKey("orders", 2, 0)].Data)
	assert.NoError(t, p.Err())
}

func TestPartitionPublisherSkipsPastCommittedOffset(t *testing.T) {
	ctl := newMemController()
	ctl.offsets[pub.OffsetKey("orders", 2)] = 5
	rec := pub.NewRecord("orders", 2, 5, pub.Message{Data: []byte("uncommitted")}, time.Now())
	ctl.records[rec.ID] = rec
	p := newTestPartition(t, ctl, Config{BatchSize: 1})
	require.NoError(t, p.Start(context.Background()))

	md, err := wait(t, p.Publish(context.Background(), pub.Message{Data: []byte("x")}))
	require.NoError(t, err)
	assert.Equal(t, int64(6), md.Offset)
}

func TestPartitionPublisherStartRecordCheckError(t *testing.T) {
	ctl := newMemController()
	ctl.existsErr = errors.New("kv timeout")
	p := newTestPartition(t, ctl, Config{})

	assert.ErrorContains(t, p.Start(context.Background()), "kv timeout")

	_, err := wait(t, p.Publish(context.Background(), pub.Message{}))
	assert.ErrorIs(t, err, pub.ErrNotStarted)
}

func TestPartitionPublisherConcurrentWriterIsTerminal(t *testing.T) {
	ctl := newMemController()
	p := newTestPartition(t, ctl, Config{BatchSize: 1})
	require.NoError(t, p.Start(context.Background()))

	// another writer takes offset 0 after this publisher started
	ctl.mu.Lock()
	ctl.records[pub.RecordKey("orders", 2, 0)] = pub.Record{}
	ctl.mu.Unlock()

	_, err := wait(t, p.Publish(context.Background(), pub.Message{Data: []byte("x")}))
	assert.ErrorIs(t, err, gocb.ErrDocumentExists)
	assert.ErrorIs(t, p.Err(), gocb.ErrDocumentExists)
}

func TestPartitionPublisherCommitFailureIsTerminal(t *testing.T) {
	ctl := newMemController()
	ctl.commitErr = errors.New("transaction expired")
	p := newTestPartition(t, ctl, Config{BatchSize: 4})
	require.NoError(t, p.Start(context.Background()))

	_, err := wait(t, p.Publish(context.Background(), pub.Message{Data: []byte("x")}))
	assert.ErrorContains(t, err, "transaction expired")
	<-p.Failed()
}

func TestPartitionPublisherLifecycle(t *testing.T) {
	ctl := newMemController()
	p := newTestPartition(t, ctl, Config{})

	_, err := wait(t, p.Publish(context.Background(), pub.Message{}))
	assert.ErrorIs(t, err, pub.ErrNotStarted)

	require.NoError(t, p.Start(context.Background()))
	assert.ErrorIs(t, p.Start(context.Background()), ErrAlreadyStarted)

	r := p.Publish(context.Background(), pub.Message{Data: []byte("x")})
	require.NoError(t, p.Close(context.Background()))

	// queued before close: drained, not dropped
	select {
	case <-r.Ready():
	default:
		t.Fatal("close returned before queued publish resolved")
	}
	_, err = r.Get(context.Background())
	assert.NoError(t, err)

	_, err = wait(t, p.Publish(context.Background(), pub.Message{}))
	assert.ErrorIs(t, err, pub.ErrClosed)
	assert.NoError(t, p.Close(context.Background()))
	assert.ErrorIs(t, p.Start(context.Background()), pub.ErrClosed)
}

func TestPartitionPublisherCloseWithoutStart(t *testing.T) {
	p := newTestPartition(t, newMemController(), Config{})
	assert.NoError(t, p.Close(context.Background()))
}

func TestPartitionPublisherCanceledContext(t *testing.T) {
	ctl := newMemController()
	p := newTestPartition(t, ctl, Config{QueueSize: 1})
	require.NoError(t, p.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := wait(t, p.Publish(ctx, pub.Message{Data: []byte("x")}))
	assert.ErrorIs(t, err, context.Canceled)

	// a caller's cancellation never fails the partition
	_, err = wait(t, p.Publish(context.Background(), pub.Message{Data: []byte("y")}))
	assert.NoError(t, err)
	assert.NoError(t, p.Err())
}
