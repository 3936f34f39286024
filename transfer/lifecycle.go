// Package transfer drives exactly one token transfer through validation,
// submission and confirmation, exposing every phase as an observable status.
package transfer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/veriteos/tokenflow/contract"
	"github.com/veriteos/tokenflow/logger"
	"github.com/veriteos/tokenflow/metrics"
	"github.com/veriteos/tokenflow/types"
)

// Lifecycle owns one transfer's state machine. At most one submission is in
// flight per instance; re-submission while pending is rejected at the
// boundary without touching the pending transfer's status.
type Lifecycle struct {
	log            logger.Logger
	met            metrics.Recorder
	network        string
	confirmTimeout time.Duration
	onStatus       func(types.TransferStatus)

	mu       sync.Mutex
	inFlight bool
	status   types.TransferStatus
	request  types.TransferRequest
}

// Option customises a Lifecycle.
type Option func(*Lifecycle)

func WithLogger(l logger.Logger) Option {
	return func(t *Lifecycle) { t.log = l }
}

func WithMetrics(r metrics.Recorder) Option {
	return func(t *Lifecycle) { t.met = r }
}

// WithConfirmTimeout bounds the confirmation wait. Zero (the default) relies
// on the network's own behavior and the caller's context; when the bound
// elapses the status becomes Failed{TIMEOUT} rather than sticking in
// Submitted forever.
func WithConfirmTimeout(d time.Duration) Option {
	return func(t *Lifecycle) { t.confirmTimeout = d }
}

// WithStatusObserver registers a callback invoked on every status
// transition, in order. It runs on the submitting goroutine.
func WithStatusObserver(fn func(types.TransferStatus)) Option {
	return func(t *Lifecycle) { t.onStatus = fn }
}

// WithNetworkLabel sets the network name used in log fields and metric
// labels.
func WithNetworkLabel(name string) Option {
	return func(t *Lifecycle) { t.network = name }
}

// NewLifecycle builds an idle lifecycle.
func NewLifecycle(opts ...Option) *Lifecycle {
	t := &Lifecycle{
		log:    logger.NoopLogger{},
		met:    metrics.NoopRecorder{},
		status: types.StatusIdle(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Submit validates and executes one token transfer. Phases run strictly in
// order: validate (no network access), submit, confirm. Validation failures
// never escape as errors; every outcome is a terminal TransferStatus the
// caller can render inline. The in-flight flag is cleared on every exit path
// so input controls can be re-enabled.
func (t *Lifecycle) Submit(ctx context.Context, req types.TransferRequest, handle *contract.Handle) types.TransferStatus {
	t.mu.Lock()
	if t.inFlight {
		t.mu.Unlock()
		return types.StatusFailed(types.ErrInFlight, "a transfer is already in flight")
	}
	t.inFlight = true
	t.request = req
	t.mu.Unlock()

	// Cleared on every exit path so the caller can re-enable inputs.
	defer func() {
		t.mu.Lock()
		t.inFlight = false
		t.mu.Unlock()
	}()

	attempt := uuid.NewString()
	start := time.Now()
	t.transition(types.StatusValidating())

	// Validation is synchronous and touches nothing on the network. The
	// address check must come before any amount parsing or contract call.
	if handle == nil || handle.Stale() {
		return t.fail(attempt, types.StatusFailed(types.ErrNoContract, "no valid contract handle; reconnect the wallet"))
	}
	if !common.IsHexAddress(req.Recipient) {
		return t.fail(attempt, types.StatusFailed(types.ErrInvalidAddress, "recipient is not a well-formed address"))
	}
	amount, err := ToBaseUnits(req.Amount, TokenDecimals)
	if err != nil {
		return t.fail(attempt, types.FailedFrom(err))
	}

	txRef, err := handle.Transfer(ctx, common.HexToAddress(req.Recipient), amount)
	if err != nil {
		return t.fail(attempt, types.FailedFrom(err))
	}
	t.met.ObserveLatency("submit", time.Since(start), t.labels())
	t.transition(types.StatusSubmitted(txRef))
	t.log.Info("transfer submitted", map[string]any{
		"attempt": attempt, "tx": txRef.Hex(), "recipient": req.Recipient,
	})

	confirmCtx := ctx
	if t.confirmTimeout > 0 {
		var cancel context.CancelFunc
		confirmCtx, cancel = context.WithTimeout(ctx, t.confirmTimeout)
		defer cancel()
	}

	confirmStart := time.Now()
	if err := handle.WaitConfirmed(confirmCtx, txRef); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return t.fail(attempt, types.StatusFailed(types.ErrTimeout, "confirmation not observed within the configured bound"))
		}
		return t.fail(attempt, types.FailedFrom(err))
	}
	t.met.ObserveLatency("confirm", time.Since(confirmStart), t.labels())

	// Successful completion clears the stored inputs.
	t.mu.Lock()
	t.request = types.TransferRequest{}
	t.mu.Unlock()

	t.met.IncCounter("transfer_confirmed", t.labels())
	t.transition(types.StatusConfirmed())
	t.log.Info("transfer confirmed", map[string]any{"attempt": attempt, "tx": txRef.Hex()})
	return t.Status()
}

// Status returns the current transfer status.
func (t *Lifecycle) Status() types.TransferStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Request returns the stored user inputs; empty after a confirmed transfer.
func (t *Lifecycle) Request() types.TransferRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.request
}

// InFlight reports whether a submission is currently pending.
func (t *Lifecycle) InFlight() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inFlight
}

// Reset returns a terminal lifecycle to Idle so the instance can carry the
// next transfer. No-op while in flight.
func (t *Lifecycle) Reset() {
	t.mu.Lock()
	if !t.inFlight {
		t.status = types.StatusIdle()
		t.request = types.TransferRequest{}
	}
	t.mu.Unlock()
}

func (t *Lifecycle) fail(attempt string, status types.TransferStatus) types.TransferStatus {
	t.met.IncCounter("transfer_failed", t.labels())
	t.log.Warn("transfer failed", map[string]any{
		"attempt": attempt, "code": status.Code, "reason": status.Reason,
	})
	t.transition(status)
	return status
}

// transition replaces the status whole and notifies the observer outside
// the lock.
func (t *Lifecycle) transition(status types.TransferStatus) {
	t.mu.Lock()
	t.status = status
	fn := t.onStatus
	t.mu.Unlock()
	if fn != nil {
		fn(status)
	}
}

func (t *Lifecycle) labels() map[string]string {
	return map[string]string{"network": t.network}
}
