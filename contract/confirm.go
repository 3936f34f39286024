package contract

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/veriteos/tokenflow/types"
)

const receiptPollInterval = 2 * time.Second

// WaitConfirmed blocks until the broadcast transaction reaches finality.
// On a reverted execution it returns a CONTRACT_EXECUTION_FAILED error
// carrying the contract-supplied revert reason when one can be recovered.
// Cancellation and deadline come from ctx; there is no way to withdraw the
// transaction itself once broadcast.
func (h *Handle) WaitConfirmed(ctx context.Context, txRef common.Hash) error {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := h.backend.TransactionReceipt(ctx, txRef)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status == ethtypes.ReceiptStatusSuccessful {
				return nil
			}
			reason := h.revertReason(ctx, receipt.BlockNumber)
			return types.NewError(types.ErrContractExecution, reason, nil)
		case errors.Is(err, ethereum.NotFound):
			// still pending
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// transient RPC failure, keep polling
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// revertReason replays the failed call at the receipt block and decodes the
// Error(string) payload. Falls back to a generic message when the node gives
// nothing back.
func (h *Handle) revertReason(ctx context.Context, block *big.Int) string {
	h.mu.Lock()
	call := h.lastCall
	h.mu.Unlock()
	if call == nil {
		return "transaction reverted"
	}

	_, err := h.backend.CallContract(ctx, *call, block)
	if err == nil {
		// replay succeeded even though the tx reverted; state moved on
		return "transaction reverted"
	}
	if reason := DecodeRevert(err); reason != "" {
		return reason
	}
	return "transaction reverted: " + err.Error()
}

// DecodeRevert extracts a solidity Error(string) revert reason from an RPC
// error, if the node attached the return data.
func DecodeRevert(err error) string {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return ""
	}

	var raw []byte
	switch data := dataErr.ErrorData().(type) {
	case string:
		decoded, decErr := hex.DecodeString(strings.TrimPrefix(data, "0x"))
		if decErr != nil {
			return ""
		}
		raw = decoded
	case []byte:
		raw = data
	default:
		return ""
	}

	reason, unpackErr := abi.UnpackRevert(raw)
	if unpackErr != nil {
		return ""
	}
	return reason
}
