package routing

import (
	"time"

	"go.uber.org/zap"

	"routedpub/internal/pub/metrics"
)

const defaultCloseTimeout = 30 * time.Second

type options struct {
	logger       *zap.Logger
	registry     *metrics.Registry
	router       RouterFactory
	keyless      RouterFactory
	closeTimeout time.Duration
}

// Option configures a Publisher.
type Option func(*options)

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithMetrics(registry *metrics.Registry) Option {
	return func(o *options) {
		o.registry = registry
	}
}

// WithRouter replaces the whole routing policy.
func WithRouter(factory RouterFactory) Option {
	return func(o *options) {
		o.router = factory
	}
}

// WithKeylessRouter sets the policy for messages without an ordering key
// while keeping key-hash routing for keyed messages.
func WithKeylessRouter(factory RouterFactory) Option {
	return func(o *options) {
		o.keyless = factory
	}
}

// WithCloseTimeout bounds how long closing a failed partition publisher may take.
func WithCloseTimeout(d time.Duration) Option {
	return func(o *options) {
		o.closeTimeout = d
	}
}

func newOptions(opts []Option) options {
	o := options{
		logger:       zap.NewNop(),
		closeTimeout: defaultCloseTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return o
}
