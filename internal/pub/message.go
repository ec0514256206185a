package pub

import (
	"fmt"
	"time"
)

// Message is the unit callers publish to a topic.
type Message struct {
	// Key is the optional ordering key. Messages sharing a key are routed to
	// the same partition.
	Key []byte
	// Data is the opaque payload.
	Data []byte
	// Attributes carries caller metadata alongside the payload.
	Attributes map[string]string
	// EventTime is an optional caller-assigned timestamp.
	EventTime time.Time
}

// HasKey reports whether the message carries an ordering key.
func (m Message) HasKey() bool {
	return len(m.Key) > 0
}

// Metadata is the acknowledgment token for a published message. Offsets are
// assigned by the partition and increase monotonically within it.
type Metadata struct {
	Partition int
	Offset    int64
}

func (m Metadata) String() string {
	return fmt.Sprintf("%d:%d", m.Partition, m.Offset)
}
