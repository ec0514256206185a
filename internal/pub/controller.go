package pub

import "context"

// Controller defines the storage operations behind a store-backed partition log.
// Every partition keeps a write offset and an append-only set of records
// addressed by offset.
type Controller interface {
	// GetOffset retrieves the next write offset for a topic partition.
	// Returns an error wrapping gocb.ErrDocumentNotFound for partitions that
	// were never written.
	GetOffset(ctx context.Context, topic string, partition int) (uint64, error)

	// CommitOffset advances the write offset for a topic partition.
	// Offsets never move backwards; committing a lower value is a no-op.
	CommitOffset(ctx context.Context, topic string, partition int, offset uint64) error

	// RecordExists reports whether a record is stored at offset. It finds
	// records that were written but whose offset was never committed.
	RecordExists(ctx context.Context, topic string, partition int, offset uint64) (bool, error)

	// InsertRecord stores a record at its offset. Inserting an offset that
	// already exists returns an error wrapping gocb.ErrDocumentExists.
	InsertRecord(ctx context.Context, rec Record) error
}
