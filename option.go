package tokenflow

import (
	"time"

	"github.com/veriteos/tokenflow/logger"
	"github.com/veriteos/tokenflow/metrics"
	"github.com/veriteos/tokenflow/types"
)

type Option func(*Flow)

func WithLogger(l logger.Logger) Option {
	return func(f *Flow) { f.log = l }
}

func WithMetrics(r metrics.Recorder) Option {
	return func(f *Flow) { f.met = r }
}

// WithConfirmTimeout overrides the configured confirmation bound. Zero
// disables the bound entirely.
func WithConfirmTimeout(d time.Duration) Option {
	return func(f *Flow) { f.confirmTimeout = d }
}

// WithStatusObserver receives every transfer status transition.
func WithStatusObserver(fn func(types.TransferStatus)) Option {
	return func(f *Flow) { f.onStatus = fn }
}

// WithResetHook is invoked after a wallet chain change tears the connection
// down, so the host can rebuild the Flow and dependent state from scratch.
func WithResetHook(fn func()) Option {
	return func(f *Flow) { f.onReset = fn }
}
