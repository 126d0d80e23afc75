package providers

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

// FailureKind is the collapsed taxonomy of capability failures
type FailureKind string

const (
	FailurePermissionDenied FailureKind = "permission_denied"
	FailureUnavailable      FailureKind = "unavailable"
	FailureTimeout          FailureKind = "timeout"
	FailureUnknown          FailureKind = "unknown"
)

// Classify maps a bridge or device error to its failure kind
func Classify(err error) FailureKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	if errors.Is(err, ErrBridgeClosed) {
		return FailureUnavailable
	}

	var remote *RemoteError
	if errors.As(err, &remote) {
		switch remote.Code {
		case CodePermissionDenied:
			return FailurePermissionDenied
		case CodeUnavailable:
			return FailureUnavailable
		case CodeTimeout:
			return FailureTimeout
		}
	}

	return FailureUnknown
}

func logFailure(runtime, operation string, err error) {
	kind := Classify(err)
	entry := logrus.WithFields(logrus.Fields{
		"runtime":   runtime,
		"operation": operation,
		"failure":   kind,
		"error":     err.Error(),
	})

	// Denials and missing hardware are routine on the web runtime
	if kind == FailurePermissionDenied || kind == FailureUnavailable {
		entry.Info("Capability not available")
		return
	}
	entry.Warn("Capability call failed")
}
