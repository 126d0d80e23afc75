package providers

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Select probes the device runtime once and returns the matching provider.
// Any probe failure selects the web provider.
func Select(ctx context.Context, bridge Bridge, opts Options) Provider {
	opts = opts.withDefaults()

	probeCtx, cancel := context.WithTimeout(ctx, opts.ProbeTimeout)
	defer cancel()

	var result struct {
		IsNative bool `json:"isNative"`
	}
	if err := bridge.Invoke(probeCtx, MethodIsNativePlatform, nil, &result); err != nil {
		logrus.WithFields(logrus.Fields{
			"failure": Classify(err),
			"error":   err.Error(),
		}).Info("Runtime probe failed, using web capabilities")
		return NewWebProvider(bridge, opts)
	}

	if result.IsNative {
		return NewNativeProvider(bridge, opts)
	}
	return NewWebProvider(bridge, opts)
}
