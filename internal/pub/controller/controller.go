package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"

	"routedpub/internal/couchbase"
	"routedpub/internal/pub"
	"routedpub/internal/validator"
)

const defaultRecordExpiry = 7 * 24 * time.Hour

// Controller is the concrete implementation of the pub.Controller interface.
// It keeps partition write offsets and records in Couchbase, committing
// offsets inside distributed transactions.
type Controller struct {
	records      *couchbase.Couchbase[pub.Record]
	offsets      *couchbase.Couchbase[pub.Offset]
	transactions *couchbase.Transactions
	recordExpiry time.Duration
}

// NewController creates a new Controller instance with the provided storage dependencies.
// All storage instances must be pre-configured with their respective Couchbase collections.
func NewController(
	records *couchbase.Couchbase[pub.Record],
	offsets *couchbase.Couchbase[pub.Offset],
	transactions *couchbase.Transactions,
	recordExpiry time.Duration,
) (*Controller, error) {
	c := Controller{
		records:      records,
		offsets:      offsets,
		transactions: transactions,
		recordExpiry: recordExpiry,
	}
	if c.recordExpiry == 0 {
		c.recordExpiry = defaultRecordExpiry
	}

	if err := validator.Validate(
		"storage",
		c.records,
		c.offsets,
		c.transactions,
	); err != nil {
		return nil, fmt.Errorf("failed to validate storage dependencies: %w", err)
	}

	return &c, nil
}

// GetOffset implements pub.Controller.GetOffset by retrieving the current write position.
func (c *Controller) GetOffset(ctx context.Context, topic string, partition int) (uint64, error) {
	offset, err := c.offsets.Get(ctx, pub.OffsetKey(topic, partition), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get offset: %w", err)
	}

	return offset.N, nil
}

// CommitOffset implements pub.Controller.CommitOffset using distributed transactions.
// Advances the write position for a topic partition.
func (c *Controller) CommitOffset(ctx context.Context, topic string, partition int, currentOffset uint64) error {
	offsetKey := pub.OffsetKey(topic, partition)

	_, err := c.transactions.Run(ctx, func(r couchbase.TransactionRunner) error {
		retry := true
		for retry {
			retry = false

			offsetRes, err := r.Get(c.offsets, offsetKey)
			switch {
			case err == nil:
			case errors.Is(err, gocb.ErrDocumentNotFound):
				_, err := r.Insert(c.offsets, offsetKey, pub.Offset{ID: offsetKey, N: currentOffset})
				switch {
				case err == nil:
					return nil
				case errors.Is(err, gocb.ErrDocumentExists):
					// allow retry if the document already exists
					retry = true
					continue
				default:
					return fmt.Errorf("failed to insert new offset: %w", err)
				}
			default:
				return fmt.Errorf("failed to get offset for topic %s partition %d: %w", topic, partition, err)
			}

			var existing pub.Offset
			if err := offsetRes.Content(&existing); err != nil {
				return fmt.Errorf("failed to decode offset: %w", err)
			}

			if currentOffset <= existing.N {
				return nil
			}

			existing.N = currentOffset
			if _, err := r.Replace(offsetRes, existing); err != nil {
				return fmt.Errorf("failed to replace offset: %w", err)
			}
		}

		return nil
	})

	if err != nil {
		return fmt.Errorf("failed to commit transaction for committing offset for topic %s partition %d: %w", topic, partition, err)
	}

	return nil
}

// RecordExists implements pub.Controller.RecordExists with a key lookup on the records collection.
func (c *Controller) RecordExists(ctx context.Context, topic string, partition int, offset uint64) (bool, error) {
	exists, err := c.records.Exists(ctx, pub.RecordKey(topic, partition, offset))
	if err != nil {
		return false, fmt.Errorf("failed to check record: %w", err)
	}

	return exists, nil
}

// InsertRecord implements pub.Controller.InsertRecord by persisting to the records collection.
func (c *Controller) InsertRecord(ctx context.Context, rec pub.Record) error {
	if err := c.records.Insert(
		ctx,
		rec.ID,
		rec,
		&gocb.InsertOptions{
			Expiry: c.recordExpiry,
		},
	); err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}

	return nil
}
