package kafka

import (
	"context"
	"errors"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ProduceError is a failed produce with the status code it maps to. It
// unwraps to the client error, so errors.Is works against kerr and kgo
// sentinels, and status.Code reports Code.
type ProduceError struct {
	Code     codes.Code
	Terminal bool
	Err      error
}

func (e *ProduceError) Error() string {
	return e.Err.Error()
}

func (e *ProduceError) Unwrap() error {
	return e.Err
}

func (e *ProduceError) GRPCStatus() *status.Status {
	return status.New(e.Code, e.Err.Error())
}

// classify decides whether a produce error ends the partition stream or
// only the call that hit it.
func classify(err error) *ProduceError {
	pe := ProduceError{Err: err}

	switch {
	case errors.Is(err, context.Canceled):
		pe.Code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, kgo.ErrRecordTimeout):
		pe.Code = codes.DeadlineExceeded
	case errors.Is(err, kgo.ErrMaxBuffered):
		pe.Code = codes.ResourceExhausted
	case errors.Is(err, kgo.ErrRecordRetries):
		pe.Code = codes.Unavailable
	case errors.Is(err, kerr.MessageTooLarge),
		errors.Is(err, kerr.RecordListTooLarge),
		errors.Is(err, kerr.InvalidRecord),
		errors.Is(err, kerr.CorruptMessage):
		pe.Code = codes.InvalidArgument
	case errors.Is(err, kgo.ErrClientClosed):
		pe.Code = codes.Unavailable
		pe.Terminal = true
	case errors.Is(err, kerr.TopicAuthorizationFailed),
		errors.Is(err, kerr.ClusterAuthorizationFailed),
		errors.Is(err, kerr.SaslAuthenticationFailed):
		pe.Code = codes.PermissionDenied
		pe.Terminal = true
	case kerr.IsRetriable(err):
		pe.Code = codes.Unavailable
	default:
		pe.Code = codes.Internal
		pe.Terminal = true
	}

	return &pe
}
