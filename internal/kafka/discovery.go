package kafka

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// PartitionCounter reads a topic's partition count from the cluster metadata.
type PartitionCounter struct {
	admin *kadm.Client
}

func NewPartitionCounter(client *kgo.Client) *PartitionCounter {
	return &PartitionCounter{admin: kadm.NewClient(client)}
}

func (c *PartitionCounter) PartitionCount(ctx context.Context, topic string) (int, error) {
	topics, err := c.admin.ListTopics(ctx, topic)
	if err != nil {
		return 0, fmt.Errorf("failed to list topic %s: %w", topic, err)
	}

	return countPartitions(topics, topic)
}

func countPartitions(topics kadm.TopicDetails, topic string) (int, error) {
	td, ok := topics[topic]
	if !ok {
		return 0, status.Errorf(codes.NotFound, "topic %s not found", topic)
	}
	if td.Err != nil {
		return 0, fmt.Errorf("failed to describe topic %s: %w", topic, td.Err)
	}

	return len(td.Partitions), nil
}
