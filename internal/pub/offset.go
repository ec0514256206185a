package pub

import (
	"fmt"

	"github.com/couchbase/gocb/v2"

	"routedpub/internal/couchbase"
)

// Offset is the next write position of a topic partition.
type Offset struct {
	ID string `json:"id"`
	N  uint64 `json:"n"`

	couchbase.Cas `json:"-"`
}

func NewOffsetsStore(bucket *gocb.Bucket, scope string) (*couchbase.Couchbase[Offset], error) {
	collection := bucket.Scope(scope).Collection("offsets")
	store, err := couchbase.NewCouchbase[Offset](collection)
	if err != nil {
		return nil, err
	}

	return store, nil
}

func OffsetKey(topic string, partition int) string {
	return fmt.Sprintf("offset::%s::%d", topic, partition)
}
