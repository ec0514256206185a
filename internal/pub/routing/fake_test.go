package routing

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"routedpub/internal/pub"
)

// fakePartition is an in-memory pub.PartitionPublisher. When held, publishes
// stay pending until release is called.
type fakePartition struct {
	partition int
	failure   *pub.Failure
	startErr  error
	onStart   func()
	onClose   func(f *fakePartition)

	mu      sync.Mutex
	next    int64
	held    bool
	pending []*pub.PublishResult

	started    atomic.Bool
	closeCalls atomic.Int32
	published  atomic.Int32
}

func newFakePartition(partition int) *fakePartition {
	return &fakePartition{partition: partition, failure: pub.NewFailure()}
}

func (f *fakePartition) Start(context.Context) error {
	if f.onStart != nil {
		f.onStart()
	}
	if f.startErr != nil {
		return f.startErr
	}
	f.started.Store(true)
	return nil
}

func (f *fakePartition) Publish(_ context.Context, _ pub.Message) *pub.PublishResult {
	if err := f.failure.Err(); err != nil {
		return pub.NewFailedResult(err)
	}

	f.published.Add(1)
	r := pub.NewPublishResult()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held {
		f.pending = append(f.pending, r)
		return r
	}
	r.Set(pub.Metadata{Partition: f.partition, Offset: f.next}, nil)
	f.next++
	return r
}

func (f *fakePartition) Failed() <-chan struct{} { return f.failure.Done() }

func (f *fakePartition) Err() error { return f.failure.Err() }

func (f *fakePartition) Close(context.Context) error {
	f.closeCalls.Add(1)
	if f.onClose != nil {
		f.onClose(f)
	}
	return nil
}

func (f *fakePartition) hold() {
	f.mu.Lock()
	f.held = true
	f.mu.Unlock()
}

func (f *fakePartition) release() {
	f.mu.Lock()
	pending := f.pending
	f.pending = nil
	f.held = false
	f.mu.Unlock()

	for _, r := range pending {
		f.mu.Lock()
		offset := f.next
		f.next++
		f.mu.Unlock()
		r.Set(pub.Metadata{Partition: f.partition, Offset: offset}, nil)
	}
}

// fail fires the terminal signal and fails everything still pending.
func (f *fakePartition) fail(err error) {
	f.failure.Fail(err)

	f.mu.Lock()
	pending := f.pending
	f.pending = nil
	f.mu.Unlock()

	for _, r := range pending {
		r.Set(pub.Metadata{}, err)
	}
}

type fakeFleet struct {
	partitions []*fakePartition
}

func newFakeFleet(n int) *fakeFleet {
	f := &fakeFleet{}
	for i := 0; i < n; i++ {
		f.partitions = append(f.partitions, newFakePartition(i))
	}
	return f
}

func (f *fakeFleet) factory(partition int) (pub.PartitionPublisher, error) {
	return f.partitions[partition], nil
}

// routerFunc routes by a caller-supplied function.
type routerFunc func(pub.Message) int

func (r routerFunc) Route(msg pub.Message) int { return r(msg) }

// keyAsPartition routes a message whose key is a decimal partition index
// to that partition.
func keyAsPartition() RouterFactory {
	return func(int) Router {
		return routerFunc(func(msg pub.Message) int {
			n, err := strconv.Atoi(string(msg.Key))
			if err != nil {
				return 0
			}
			return n
		})
	}
}

func to(partition int) pub.Message {
	return pub.Message{Key: []byte(strconv.Itoa(partition)), Data: []byte("payload")}
}
