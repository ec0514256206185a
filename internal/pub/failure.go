package pub

import (
	"errors"
	"sync"
)

var errUnknownFailure = errors.New("pub: terminal failure without cause")

// Failure is a one-shot terminal failure signal. The first Fail wins; later
// calls are ignored and leave the captured error unchanged.
type Failure struct {
	once sync.Once
	done chan struct{}
	err  error
}

func NewFailure() *Failure {
	return &Failure{done: make(chan struct{})}
}

// Fail records err and closes Done. It reports whether this call was the
// one that fired the signal.
func (f *Failure) Fail(err error) bool {
	if err == nil {
		err = errUnknownFailure
	}

	fired := false
	f.once.Do(func() {
		f.err = err
		close(f.done)
		fired = true
	})

	return fired
}

// Done is closed once the signal has fired.
func (f *Failure) Done() <-chan struct{} {
	return f.done
}

// Err returns the captured error, or nil if the signal has not fired.
func (f *Failure) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}
