package pub

import (
	"context"
	"sync"
)

// PublishResult is the pending outcome of a single publish. It resolves
// exactly once, either with the partition's Metadata or with an error.
type PublishResult struct {
	done chan struct{}

	mu    sync.Mutex
	set   bool
	md    Metadata
	err   error
	after []func()
}

// NewPublishResult returns an unresolved result.
func NewPublishResult() *PublishResult {
	return &PublishResult{done: make(chan struct{})}
}

// NewFailedResult returns a result already resolved with err.
func NewFailedResult(err error) *PublishResult {
	r := NewPublishResult()
	r.Set(Metadata{}, err)
	return r
}

// Set resolves the result. Only the first call has any effect; it reports
// whether this call resolved the result.
func (r *PublishResult) Set(md Metadata, err error) bool {
	r.mu.Lock()
	if r.set {
		r.mu.Unlock()
		return false
	}
	r.set = true
	r.md = md
	r.err = err
	after := r.after
	r.after = nil
	close(r.done)
	r.mu.Unlock()

	for _, f := range after {
		f()
	}

	return true
}

// AfterFunc arranges for f to run once the result resolves. If it already
// has, f runs immediately on the calling goroutine.
func (r *PublishResult) AfterFunc(f func()) {
	r.mu.Lock()
	if !r.set {
		r.after = append(r.after, f)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	f()
}

// Ready is closed once the result resolves.
func (r *PublishResult) Ready() <-chan struct{} {
	return r.done
}

// Get waits for the result or for ctx to end, whichever comes first.
func (r *PublishResult) Get(ctx context.Context) (Metadata, error) {
	select {
	case <-r.done:
		return r.md, r.err
	case <-ctx.Done():
		return Metadata{}, ctx.Err()
	}
}
