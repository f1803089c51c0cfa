// Package chain talks to an EVM node over JSON-RPC: nonce and gas lookups,
// gas estimation, balance reads and raw-transaction broadcast.
package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CallMsg is the skeleton of a transaction used for gas estimation and
// read-only contract calls.
type CallMsg struct {
	From  common.Address
	To    *common.Address
	Value *big.Int
	Data  []byte
}

// Gateway abstracts the node RPC surface the wallet needs.
type Gateway interface {
	// PendingNonceAt returns the mempool-inclusive transaction count, so a
	// nonce already in flight is never reused.
	PendingNonceAt(ctx context.Context, address common.Address) (uint64, error)
	// GasPrice returns the node's suggested legacy gas price in wei.
	GasPrice(ctx context.Context) (*big.Int, error)
	// EstimateGas returns the gas limit estimate for the given call.
	EstimateGas(ctx context.Context, call CallMsg) (uint64, error)
	// SendRawTransaction broadcasts signed raw bytes and returns the tx hash.
	// RPC-level rejections surface as RejectionError.
	SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)
	// BalanceAt returns the native balance in wei.
	BalanceAt(ctx context.Context, address common.Address) (*big.Int, error)
	// TokenBalance returns an ERC-20 balance in the token's minor units.
	TokenBalance(ctx context.Context, owner, token common.Address) (*big.Int, error)
}
