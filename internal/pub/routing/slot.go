package routing

import (
	"context"
	"sync"

	"routedpub/internal/pub"
)

// slot is the per-partition cell. It holds exactly one of a live partition
// publisher or the partition's terminal error, and moves from the former to
// the latter at most once.
type slot struct {
	topic     string
	partition int

	mu      sync.RWMutex
	live    pub.PartitionPublisher
	err     *pub.PartitionError
	closing bool

	closed    chan struct{}
	closeOnce sync.Once
}

func newSlot(topic string, partition int, pp pub.PartitionPublisher) *slot {
	return &slot{
		topic:     topic,
		partition: partition,
		live:      pp,
		closed:    make(chan struct{}),
	}
}

// trySubmit forwards msg to the live publisher or replays the captured error.
// The read lock is held across the forwarded call so a concurrent markFailed
// cannot release the handle while it is in use.
func (s *slot) trySubmit(ctx context.Context, msg pub.Message) *pub.PublishResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.err != nil {
		return pub.NewFailedResult(s.err)
	}

	return s.live.Publish(ctx, msg)
}

// markFailed moves the slot to its failed state. Only the first call has an
// effect; it returns the released handle unless shutdown already owns it.
func (s *slot) markFailed(cause error) (pub.PartitionPublisher, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, false
	}

	s.err = &pub.PartitionError{Topic: s.topic, Partition: s.partition, Cause: cause}
	released := s.live
	s.live = nil
	if s.closing {
		released = nil
	}

	return released, true
}

// currentError returns the captured terminal error, or nil while live.
func (s *slot) currentError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.err == nil {
		return nil
	}

	return s.err
}

func (s *slot) handle() pub.PartitionPublisher {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.live
}

// beginClose hands the live handle to shutdown. After it, markFailed still
// records failures but no longer releases the handle.
func (s *slot) beginClose() pub.PartitionPublisher {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closing = true
	return s.live
}

func (s *slot) markClosed() {
	s.closeOnce.Do(func() { close(s.closed) })
}
