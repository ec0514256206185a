package pub

import "context"

// Publisher accepts messages for a topic. Each call yields exactly one
// outcome through the returned PublishResult.
type Publisher interface {
	Publish(ctx context.Context, msg Message) *PublishResult
}

// PartitionPublisher owns the stream to exactly one partition of a topic.
type PartitionPublisher interface {
	Publisher

	// Start opens the stream. Publish must not be called before Start returns nil.
	Start(ctx context.Context) error

	// Failed is closed once the publisher has failed irrecoverably.
	Failed() <-chan struct{}

	// Err returns the terminal cause once Failed is closed, nil before.
	Err() error

	// Close stops accepting messages, waits for outstanding ones to resolve
	// and releases the stream.
	Close(ctx context.Context) error
}

// PartitionCounter discovers how many partitions a topic has.
type PartitionCounter interface {
	PartitionCount(ctx context.Context, topic string) (int, error)
}

// PartitionCounterFunc adapts a function to PartitionCounter.
type PartitionCounterFunc func(ctx context.Context, topic string) (int, error)

func (f PartitionCounterFunc) PartitionCount(ctx context.Context, topic string) (int, error) {
	return f(ctx, topic)
}

// FixedPartitions is a PartitionCounter for topics of known size.
type FixedPartitions int

func (n FixedPartitions) PartitionCount(context.Context, string) (int, error) {
	return int(n), nil
}
