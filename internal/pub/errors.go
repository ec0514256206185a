package pub

import (
	"errors"
	"fmt"
)

var (
	// ErrNotStarted is returned by publishes issued before startup completes.
	ErrNotStarted = errors.New("pub: publisher not started")

	// ErrClosed is returned by publishes issued after shutdown began.
	ErrClosed = errors.New("pub: publisher closed")

	// ErrPartitionFailed matches every *PartitionError via errors.Is.
	ErrPartitionFailed = errors.New("pub: partition failed")
)

// PartitionError is the terminal failure of one partition. It is captured
// once and replayed to every later publish addressed to that partition.
type PartitionError struct {
	Topic     string
	Partition int
	Cause     error
}

func (e *PartitionError) Error() string {
	return fmt.Sprintf("partition %d of topic %s failed: %v", e.Partition, e.Topic, e.Cause)
}

func (e *PartitionError) Unwrap() error {
	return e.Cause
}

func (e *PartitionError) Is(target error) bool {
	return target == ErrPartitionFailed
}
