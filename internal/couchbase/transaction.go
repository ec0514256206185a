package couchbase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"
)

const defaultTransactionTimeout = 10 * time.Second

// Transactions runs distributed transactions on a cluster. Each run is
// bounded by the configured timeout or the caller's deadline, whichever
// comes first.
type Transactions struct {
	cluster *gocb.Cluster
	timeout time.Duration
}

func NewTransactions(cluster *gocb.Cluster, timeout time.Duration) (*Transactions, error) {
	if cluster == nil {
		return nil, errors.New("couchbase cluster cannot be nil")
	}
	if timeout <= 0 {
		timeout = defaultTransactionTimeout
	}

	return &Transactions{cluster: cluster, timeout: timeout}, nil
}

// Run executes fn inside a transaction and returns the transaction ID.
// gocb retries fn on conflicts, so fn must be safe to run more than once.
func (t *Transactions) Run(ctx context.Context, fn func(r TransactionRunner) error) (string, error) {
	timeout, err := t.budget(ctx)
	if err != nil {
		return "", err
	}

	opts := gocb.TransactionOptions{
		DurabilityLevel: gocb.DurabilityLevelNone,
		Timeout:         timeout,
	}
	run := func(actx *gocb.TransactionAttemptContext) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(&transactionRunner{actx: actx})
	}

	res, err := t.cluster.Transactions().Run(run, &opts)
	if err != nil {
		return "", fmt.Errorf("failed to run transaction: %w", err)
	}

	return res.TransactionID, nil
}

// budget is the time a transaction may take given ctx.
func (t *Transactions) budget(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("failed to run transaction: %w", err)
	}

	timeout := t.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	if timeout <= 0 {
		return 0, fmt.Errorf("failed to run transaction: %w", context.DeadlineExceeded)
	}

	return timeout, nil
}

// TransactionCollection is a store that can take part in a transaction.
type TransactionCollection interface {
	Collection() *gocb.Collection
}

// TransactionRunner is the set of document operations offset commits need
// inside one transaction attempt.
type TransactionRunner interface {
	Get(tc TransactionCollection, key string) (*gocb.TransactionGetResult, error)
	Insert(tc TransactionCollection, key string, value any) (*gocb.TransactionGetResult, error)
	Replace(doc *gocb.TransactionGetResult, value any) (*gocb.TransactionGetResult, error)
}

type transactionRunner struct {
	actx *gocb.TransactionAttemptContext
}

func (t *transactionRunner) Get(tc TransactionCollection, key string) (*gocb.TransactionGetResult, error) {
	return t.actx.Get(tc.Collection(), key)
}

func (t *transactionRunner) Insert(tc TransactionCollection, key string, value any) (*gocb.TransactionGetResult, error) {
	return t.actx.Insert(tc.Collection(), key, value)
}

func (t *transactionRunner) Replace(doc *gocb.TransactionGetResult, value any) (*gocb.TransactionGetResult, error) {
	return t.actx.Replace(doc, value)
}
