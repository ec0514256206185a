package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"routedpub/internal/pub"
)

// fakeProducer records produced records and holds their promises until
// ack or reject is called.
type fakeProducer struct {
	mu       sync.Mutex
	records  []*kgo.Record
	promises []func(*kgo.Record, error)
	next     int64
}

func (f *fakeProducer) Produce(_ context.Context, r *kgo.Record, promise func(*kgo.Record, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, r)
	f.promises = append(f.promises, promise)
}

func (f *fakeProducer) pop() (*kgo.Record, func(*kgo.Record, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, promise := f.records[0], f.promises[0]
	f.records, f.promises = f.records[1:], f.promises[1:]
	return r, promise
}

func (f *fakeProducer) ack() {
	r, promise := f.pop()
	f.mu.Lock()
	r.Offset = f.next
	f.next++
	f.mu.Unlock()
	promise(r, nil)
}

func (f *fakeProducer) reject(err error) {
	r, promise := f.pop()
	promise(r, err)
}

func (f *fakeProducer) pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func newTestPublisher(t *testing.T, producer Producer) *PartitionPublisher {
	t.Helper()

	p, err := NewPartitionPublisher(producer, "orders", 1, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	return p
}

func get(t *testing.T, r *pub.PublishResult) (pub.Metadata, error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	md, err := r.Get(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "publish result never resolved")
	return md, err
}

func TestPartitionPublisherPinsPartition(t *testing.T) {
	producer := &fakeProducer{next: 100}
	p := newTestPublisher(t, producer)

	r := p.Publish(context.Background(), pub.Message{Key: []byte("k"), Data: []byte("v")})
	require.Equal(t, 1, producer.pending())
	assert.Equal(t, int32(1), producer.records[0].Partition)
	assert.Equal(t, "orders", producer.records[0].Topic)

	producer.ack()
	md, err := get(t, r)
	require.NoError(t, err)
	assert.Equal(t, pub.Metadata{Partition: 1, Offset: 100}, md)
}

func TestPartitionPublisherRetriableErrorFailsOnlyTheCall(t *testing.T) {
	producer := &fakeProducer{}
	p := newTestPublisher(t, producer)

	r := p.Publish(context.Background(), pub.Message{Data: []byte("v")})
	producer.reject(kerr.NotLeaderForPartition)

	_, err := get(t, r)
	assert.ErrorIs(t, err, kerr.NotLeaderForPartition)
	assert.Equal(t, codes.Unavailable, status.Code(err))
	assert.NoError(t, p.Err())

	r = p.Publish(context.Background(), pub.Message{Data: []byte("v")})
	producer.ack()
	_, err = get(t, r)
	assert.NoError(t, err)
}

func TestPartitionPublisherTerminalError(t *testing.T) {
	producer := &fakeProducer{}
	p := newTestPublisher(t, producer)

	first := p.Publish(context.Background(), pub.Message{Data: []byte("a")})
	second := p.Publish(context.Background(), pub.Message{Data: []byte("b")})
	producer.reject(kerr.TopicAuthorizationFailed)

	select {
	case <-p.Failed():
	default:
		t.Fatal("terminal error did not fail the partition")
	}
	assert.Equal(t, codes.PermissionDenied, status.Code(p.Err()))

	_, err := get(t, first)
	assert.ErrorIs(t, err, kerr.TopicAuthorizationFailed)

	// already produced records still resolve with their own outcome
	producer.ack()
	_, err = get(t, second)
	assert.NoError(t, err)

	_, err = get(t, p.Publish(context.Background(), pub.Message{Data: []byte("c")}))
	assert.ErrorIs(t, err, kerr.TopicAuthorizationFailed)
	assert.Equal(t, 0, producer.pending())
}

func TestPartitionPublisherCloseWaitsForPromises(t *testing.T) {
	producer := &fakeProducer{}
	p := newTestPublisher(t, producer)

	r := p.Publish(context.Background(), pub.Message{Data: []byte("a")})

	closed := make(chan error, 1)
	go func() { closed <- p.Close(context.Background()) }()

	select {
	case <-closed:
		t.Fatal("close returned with a record in flight")
	case <-time.After(50 * time.Millisecond):
	}

	producer.ack()
	require.NoError(t, <-closed)
	_, err := get(t, r)
	assert.NoError(t, err)

	_, err = get(t, p.Publish(context.Background(), pub.Message{}))
	assert.ErrorIs(t, err, pub.ErrClosed)
	assert.ErrorIs(t, p.Start(context.Background()), pub.ErrClosed)
}

func TestPartitionPublisherCloseTimeout(t *testing.T) {
	producer := &fakeProducer{}
	p := newTestPublisher(t, producer)
	p.Publish(context.Background(), pub.Message{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Close(ctx), context.DeadlineExceeded)

	producer.ack()
}

func TestPartitionPublisherNotStarted(t *testing.T) {
	p, err := NewPartitionPublisher(&fakeProducer{}, "orders", 0, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = get(t, p.Publish(context.Background(), pub.Message{}))
	assert.ErrorIs(t, err, pub.ErrNotStarted)
	require.NoError(t, p.Start(context.Background()))
	assert.ErrorIs(t, p.Start(context.Background()), ErrAlreadyStarted)
}

func TestNewPartitionPublisherValidatesDeps(t *testing.T) {
	_, err := NewPartitionPublisher(nil, "orders", 0, zaptest.NewLogger(t))
	assert.Error(t, err)

	_, err = NewPartitionPublisher(&fakeProducer{}, "", 0, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestNewRecord(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := NewRecord("orders", 3, pub.Message{
		Key:        []byte("customer-7"),
		Data:       []byte(`{"id":1}`),
		Attributes: map[string]string{"trace": "t", "message_id": "m"},
		EventTime:  at,
	})

	assert.Equal(t, "orders", rec.Topic)
	assert.Equal(t, int32(3), rec.Partition)
	assert.Equal(t, []byte("customer-7"), rec.Key)
	assert.Equal(t, []byte(`{"id":1}`), rec.Value)
	assert.Equal(t, at, rec.Timestamp)
	assert.Equal(t, []kgo.RecordHeader{
		{Key: "message_id", Value: []byte("m")},
		{Key: "trace", Value: []byte("t")},
	}, rec.Headers)

	bare := NewRecord("orders", 0, pub.Message{Data: []byte("x")})
	assert.True(t, bare.Timestamp.IsZero())
	assert.Empty(t, bare.Headers)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err      error
		code     codes.Code
		terminal bool
	}{
		{kerr.NotLeaderForPartition, codes.Unavailable, false},
		{kerr.RequestTimedOut, codes.Unavailable, false},
		{fmt.Errorf("wrapped: %w", kerr.LeaderNotAvailable), codes.Unavailable, false},
		{kgo.ErrRecordTimeout, codes.DeadlineExceeded, false},
		{kgo.ErrRecordRetries, codes.Unavailable, false},
		{kgo.ErrMaxBuffered, codes.ResourceExhausted, false},
		{context.Canceled, codes.Canceled, false},
		{context.DeadlineExceeded, codes.DeadlineExceeded, false},
		{kerr.MessageTooLarge, codes.InvalidArgument, false},
		{kerr.CorruptMessage, codes.InvalidArgument, false},
		{kgo.ErrClientClosed, codes.Unavailable, true},
		{kerr.TopicAuthorizationFailed, codes.PermissionDenied, true},
		{kerr.SaslAuthenticationFailed, codes.PermissionDenied, true},
		{kerr.InvalidTopicException, codes.Internal, true},
		{errors.New("boom"), codes.Internal, true},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			pe := classify(tt.err)
			assert.Equal(t, tt.code, pe.Code)
			assert.Equal(t, tt.terminal, pe.Terminal)
			assert.ErrorIs(t, pe, tt.err)
			assert.Equal(t, tt.code, status.Code(pe))
		})
	}
}
