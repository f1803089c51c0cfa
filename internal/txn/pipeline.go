// Package txn drives the transaction lifecycle: fetch nonce and gas, build,
// sign, broadcast. The pipeline is strictly linear with no backward
// transitions and no automatic retry — a failure at any stage kills the
// attempt, and the caller restarts from Fetch so every retry works from a
// fresh nonce and gas quote.
package txn

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/emberlabs/emberwallet/internal/chain"
	"github.com/emberlabs/emberwallet/internal/currency"
	"github.com/emberlabs/emberwallet/internal/hdwallet"
	"github.com/emberlabs/emberwallet/internal/log"
	"github.com/emberlabs/emberwallet/internal/session"
)

// Stage identifies how far a send attempt progressed before succeeding or
// failing.
type Stage string

const (
	StageFetch     Stage = "fetch"
	StageBuild     Stage = "build"
	StageSign      Stage = "sign"
	StageBroadcast Stage = "broadcast"
)

// PipelineError records the stage at which an attempt died.
type PipelineError struct {
	Stage Stage
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Request describes one transfer to attempt.
type Request struct {
	From     common.Address
	Path     string // derivation path of the sending account
	Currency currency.Currency
	To       common.Address // recipient; for tokens, the human recipient (contract comes from Currency)
	Amount   decimal.Decimal
	Estimate *GasEstimate // must be fresh, see EstimateTTL
}

// Pipeline executes send attempts against one chain.
type Pipeline struct {
	gw      chain.Gateway
	sess    *session.Session
	chainID *big.Int
}

// NewPipeline creates a pipeline bound to a gateway, an unlocked session
// and a chain ID for replay protection.
func NewPipeline(gw chain.Gateway, sess *session.Session, chainID *big.Int) *Pipeline {
	return &Pipeline{gw: gw, sess: sess, chainID: chainID}
}

// Send runs one attempt to completion. The gas estimate must be fresh; a
// stale quote fails with ErrStaleQuote before anything is fetched, so the
// caller re-estimates instead of signing against outdated numbers.
func (p *Pipeline) Send(ctx context.Context, req Request) (common.Hash, error) {
	if req.Estimate == nil || req.Estimate.Stale() {
		return common.Hash{}, &PipelineError{Stage: StageFetch, Err: ErrStaleQuote}
	}

	// Fetch: nonce and gas price concurrently; both must succeed before
	// build begins, and nothing is persisted on failure.
	var (
		wg       sync.WaitGroup
		nonce    uint64
		nonceErr error
		gasPrice *big.Int
		priceErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		nonce, nonceErr = p.gw.PendingNonceAt(ctx, req.From)
	}()
	go func() {
		defer wg.Done()
		gasPrice, priceErr = p.gw.GasPrice(ctx)
	}()
	wg.Wait()

	if nonceErr != nil {
		return common.Hash{}, &PipelineError{Stage: StageFetch, Err: fmt.Errorf("nonce: %w", nonceErr)}
	}
	if priceErr != nil {
		return common.Hash{}, &PipelineError{Stage: StageFetch, Err: fmt.Errorf("gas price: %w", priceErr)}
	}

	// Build.
	tx, err := buildTransfer(nonce, req.Estimate.GasLimit, gasPrice, req.From, req.Currency, req.To, req.Amount)
	if err != nil {
		return common.Hash{}, &PipelineError{Stage: StageBuild, Err: err}
	}

	// Sign: the key is derived inside the session callback and zeroed
	// before it returns.
	var signed *types.Transaction
	err = p.sess.WithSeed(func(seed []byte) error {
		priv, err := hdwallet.DerivePrivateKey(seed, req.Path)
		if err != nil {
			return err
		}
		defer priv.D.SetInt64(0)
		signed, err = types.SignTx(tx, types.NewEIP155Signer(p.chainID), priv)
		return err
	})
	if err != nil {
		return common.Hash{}, &PipelineError{Stage: StageSign, Err: err}
	}

	// Broadcast.
	raw, err := signed.MarshalBinary()
	if err != nil {
		return common.Hash{}, &PipelineError{Stage: StageBroadcast, Err: err}
	}
	hash, err := p.gw.SendRawTransaction(ctx, raw)
	if err != nil {
		return common.Hash{}, &PipelineError{Stage: StageBroadcast, Err: err}
	}

	log.Txn.Info().
		Str("tx_hash", hash.Hex()).
		Str("symbol", req.Currency.Symbol).
		Str("amount", req.Amount.String()).
		Uint64("nonce", nonce).
		Msg("transaction sent")

	return hash, nil
}
