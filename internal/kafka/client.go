package kafka

import (
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"go.uber.org/zap"
)

type Config struct {
	Brokers        []string      `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	ClientID       string        `env:"KAFKA_CLIENT_ID" envDefault:"routedpub"`
	ProduceTimeout time.Duration `env:"KAFKA_PRODUCE_TIMEOUT" envDefault:"30s"`
	Linger         time.Duration `env:"KAFKA_LINGER" envDefault:"5ms"`
	MaxBuffered    int           `env:"KAFKA_MAX_BUFFERED" envDefault:"10000"`
}

// NewClient builds the client shared by every partition publisher of a
// topic. Records carry their partition, so the client never picks one.
func NewClient(config Config, mechanism sasl.Mechanism, logger *zap.Logger) (*kgo.Client, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(config.Brokers...),
		kgo.ClientID(config.ClientID),
		kgo.RecordPartitioner(kgo.ManualPartitioner()),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.RecordDeliveryTimeout(config.ProduceTimeout),
		kgo.ProducerLinger(config.Linger),
		kgo.MaxBufferedRecords(config.MaxBuffered),
		kgo.WithLogger(NewLogger(logger)),
	}
	if mechanism != nil {
		opts = append(opts, kgo.SASL(mechanism))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return client, nil
}

// Logger adapts zap to the kgo.Logger interface.
type Logger struct {
	sugar *zap.SugaredLogger
	level kgo.LogLevel
}

func NewLogger(logger *zap.Logger) *Logger {
	l := Logger{sugar: logger.Named("kafka").Sugar(), level: kgo.LogLevelWarn}
	if logger.Core().Enabled(zap.DebugLevel) {
		l.level = kgo.LogLevelDebug
	} else if logger.Core().Enabled(zap.InfoLevel) {
		l.level = kgo.LogLevelInfo
	}

	return &l
}

func (l *Logger) Level() kgo.LogLevel {
	return l.level
}

func (l *Logger) Log(level kgo.LogLevel, msg string, keyvals ...any) {
	switch level {
	case kgo.LogLevelError:
		l.sugar.Errorw(msg, keyvals...)
	case kgo.LogLevelWarn:
		l.sugar.Warnw(msg, keyvals...)
	case kgo.LogLevelInfo:
		l.sugar.Infow(msg, keyvals...)
	case kgo.LogLevelDebug:
		l.sugar.Debugw(msg, keyvals...)
	}
}
