package pub

import (
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"

	"routedpub/internal/couchbase"
)

// Record is a message as stored in a partition log.
type Record struct {
	ID          string            `json:"id"`
	Topic       string            `json:"topic"`
	Partition   int               `json:"partition"`
	Offset      uint64            `json:"offset"`
	Key         []byte            `json:"key,omitempty"`
	Data        []byte            `json:"data"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	EventTime   *time.Time        `json:"eventTime,omitempty"`
	PublishTime time.Time         `json:"publishTime"`

	couchbase.Cas `json:"-"`
}

// NewRecord places msg at offset within a topic partition.
func NewRecord(topic string, partition int, offset uint64, msg Message, now time.Time) Record {
	rec := Record{
		ID:          RecordKey(topic, partition, offset),
		Topic:       topic,
		Partition:   partition,
		Offset:      offset,
		Key:         msg.Key,
		Data:        msg.Data,
		Attributes:  msg.Attributes,
		PublishTime: now.UTC(),
	}
	if !msg.EventTime.IsZero() {
		t := msg.EventTime.UTC()
		rec.EventTime = &t
	}

	return rec
}

func NewRecordsStore(bucket *gocb.Bucket, scope string) (*couchbase.Couchbase[Record], error) {
	collection := bucket.Scope(scope).Collection("records")
	store, err := couchbase.NewCouchbase[Record](collection)
	if err != nil {
		return nil, err
	}

	return store, nil
}

func RecordKey(topic string, partition int, offset uint64) string {
	return fmt.Sprintf("record::%s::%d::%d", topic, partition, offset)
}
