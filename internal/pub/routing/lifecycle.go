package routing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"routedpub/internal/pub"
)

// lifecycle starts every partition publisher, watches each for its terminal
// failure and drives the shutdown of all of them.
type lifecycle struct {
	slots        []*slot
	logger       *zap.Logger
	closeTimeout time.Duration
	onFailure    func(partition int, err error)

	mu       sync.Mutex
	started  bool
	stopped  bool
	watchers sync.WaitGroup
}

func (l *lifecycle) start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return pub.ErrClosed
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range l.slots {
		s := s
		pp := s.handle()
		g.Go(func() error {
			if err := pp.Start(gctx); err != nil {
				return fmt.Errorf("failed to start partition %d: %w", s.partition, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		l.stopped = true
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.closeTimeout)
		defer cancel()
		if cerr := l.closeAll(closeCtx); cerr != nil {
			l.logger.Warn("failed to close partition publishers after start failure", zap.Error(cerr))
		}
		return err
	}

	l.started = true
	for _, s := range l.slots {
		l.watchers.Add(1)
		go l.watch(s, s.handle())
	}

	return nil
}

// watch waits for either the partition's terminal failure or the end of its
// shutdown. A failure that is already signalled when shutdown ends is still
// recorded.
func (l *lifecycle) watch(s *slot, pp pub.PartitionPublisher) {
	defer l.watchers.Done()

	select {
	case <-pp.Failed():
		l.fail(s, pp.Err())
	case <-s.closed:
		select {
		case <-pp.Failed():
			l.fail(s, pp.Err())
		default:
		}
	}
}

func (l *lifecycle) fail(s *slot, cause error) {
	released, ok := s.markFailed(cause)
	if !ok {
		return
	}

	l.logger.Error("partition publisher failed",
		zap.Int("partition", s.partition),
		zap.Error(cause),
	)
	l.onFailure(s.partition, s.currentError())

	if released == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.closeTimeout)
	defer cancel()
	if err := released.Close(ctx); err != nil {
		l.logger.Warn("failed to close failed partition publisher",
			zap.Int("partition", s.partition),
			zap.Error(err),
		)
	}
}

// shutdown closes every still-live partition publisher concurrently, then
// waits until every watcher has observed either a failure or its slot closing.
func (l *lifecycle) shutdown(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return nil
	}
	l.stopped = true

	err := l.closeAll(ctx)

	if l.started {
		done := make(chan struct{})
		go func() {
			l.watchers.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("failed to wait for partition watchers: %w", ctx.Err())
		}
	}

	return err
}

func (l *lifecycle) closeAll(ctx context.Context) error {
	var g errgroup.Group
	for _, s := range l.slots {
		s := s
		g.Go(func() error {
			defer s.markClosed()

			pp := s.beginClose()
			if pp == nil {
				return nil
			}
			if err := pp.Close(ctx); err != nil {
				return fmt.Errorf("failed to close partition %d: %w", s.partition, err)
			}
			return nil
		})
	}

	return g.Wait()
}
