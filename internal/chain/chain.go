// Package chain submits wallet ownership transfers to the blockchain.
//
// The recovery engine treats the chain as an external collaborator: it
// hands over a wallet identity, the new owner, and the owner's
// authorization material, and gets back a transaction hash. Submission
// failures propagate verbatim so the caller can retry — the recovery
// request stays in its approved state until the transfer lands.
package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/keyward/keyward/internal/idgen"
)

var (
	ErrInvalidPrivateKey = errors.New("chain: invalid private key")
	ErrInvalidAddress    = errors.New("chain: invalid address")
	ErrRPCConnection     = errors.New("chain: RPC connection failed")
)

// TransferError wraps ownership-transfer failures with context.
type TransferError struct {
	Op     string // Operation that failed
	TxHash string // Transaction hash if available
	Err    error  // Underlying error
}

func (e *TransferError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("chain: %s failed (tx: %s): %v", e.Op, e.TxHash, e.Err)
	}
	return fmt.Sprintf("chain: %s failed: %v", e.Op, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// TransferResult contains details of a submitted ownership transfer.
type TransferResult struct {
	TxHash   string `json:"txHash"`
	Wallet   string `json:"wallet"`
	NewOwner string `json:"newOwner"`
	Nonce    uint64 `json:"nonce"`
}

// OwnershipTransferor performs the on-chain ownership change for a wallet.
type OwnershipTransferor interface {
	TransferOwnership(ctx context.Context, wallet, newOwner, authorization string) (*TransferResult, error)
}

// SimTransferor is an in-memory transferor for development and testing.
// It fabricates transaction hashes and records every call.
type SimTransferor struct {
	Transfers []TransferResult
	Err       error // if set, every call fails with this error
}

// NewSimTransferor creates a simulated transferor.
func NewSimTransferor() *SimTransferor {
	return &SimTransferor{}
}

func (s *SimTransferor) TransferOwnership(_ context.Context, wallet, newOwner, _ string) (*TransferResult, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	result := TransferResult{
		TxHash:   "0x" + idgen.Hex(32),
		Wallet:   wallet,
		NewOwner: newOwner,
		Nonce:    uint64(len(s.Transfers)),
	}
	s.Transfers = append(s.Transfers, result)
	return &result, nil
}
