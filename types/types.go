package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SessionState classifies where a WalletSession sits in the connection
// state machine.
type SessionState string

const (
	// No injected provider has been attached yet.
	StateUnattached SessionState = "unattached"
	// Provider attached, no authorized account.
	StateAttached SessionState = "attached"
	// Provider attached and an account is authorized.
	StateConnected SessionState = "connected"
)

// WalletSession is the connection manager's view of the wallet.
// Invariant: ProviderAttached=false implies Account=nil.
type WalletSession struct {
	Account          *common.Address `json:"account"`
	ProviderAttached bool            `json:"providerAttached"`
	ChainID          *big.Int        `json:"chainId"`
}

// State derives the session state from the fields; there is no separate
// state variable that could drift out of sync.
func (s WalletSession) State() SessionState {
	switch {
	case !s.ProviderAttached:
		return StateUnattached
	case s.Account == nil:
		return StateAttached
	default:
		return StateConnected
	}
}

// Connected reports whether an account is authorized.
func (s WalletSession) Connected() bool {
	return s.State() == StateConnected
}

// TransferRequest is one user-entered transfer attempt. Amount is the
// display-unit decimal string as typed, not base units.
type TransferRequest struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

// TransferPhase enumerates the lifecycle phases of a single transfer.
type TransferPhase string

const (
	PhaseIdle       TransferPhase = "idle"
	PhaseValidating TransferPhase = "validating"
	PhaseSubmitted  TransferPhase = "submitted"
	PhaseConfirmed  TransferPhase = "confirmed"
	PhaseFailed     TransferPhase = "failed"
)

// TransferStatus is a tagged variant: exactly one value exists per in-flight
// transfer and it is replaced whole on every transition. TxRef is set only
// for Submitted, Code/Reason only for Failed.
type TransferStatus struct {
	Phase  TransferPhase `json:"phase"`
	TxRef  common.Hash   `json:"txRef,omitempty"`
	Code   string        `json:"code,omitempty"`
	Reason string        `json:"reason,omitempty"`
}

func StatusIdle() TransferStatus       { return TransferStatus{Phase: PhaseIdle} }
func StatusValidating() TransferStatus { return TransferStatus{Phase: PhaseValidating} }
func StatusConfirmed() TransferStatus  { return TransferStatus{Phase: PhaseConfirmed} }

// StatusSubmitted records the transaction reference returned by the
// broadcast acknowledgement, before confirmation.
func StatusSubmitted(txRef common.Hash) TransferStatus {
	return TransferStatus{Phase: PhaseSubmitted, TxRef: txRef}
}

// StatusFailed records a terminal failure with its error code and a
// human-readable reason (the contract revert reason when available).
func StatusFailed(code, reason string) TransferStatus {
	return TransferStatus{Phase: PhaseFailed, Code: code, Reason: reason}
}

// FailedFrom converts a typed error into a Failed status.
func FailedFrom(err error) TransferStatus {
	code := CodeOf(err)
	if code == "" {
		code = ErrContractExecution
	}
	return TransferStatus{Phase: PhaseFailed, Code: code, Reason: err.Error()}
}

// Terminal reports whether the transfer reached Confirmed or Failed.
func (s TransferStatus) Terminal() bool {
	return s.Phase == PhaseConfirmed || s.Phase == PhaseFailed
}

func (s TransferStatus) String() string {
	switch s.Phase {
	case PhaseSubmitted:
		return "submitted(" + s.TxRef.Hex() + ")"
	case PhaseFailed:
		return "failed(" + s.Code + ")"
	default:
		return string(s.Phase)
	}
}
