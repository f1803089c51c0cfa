package txn

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/emberlabs/emberwallet/internal/chain"
	"github.com/emberlabs/emberwallet/internal/currency"
)

// ErrStaleQuote is returned when a gas estimate is older than its reuse
// window. Recoverable by re-estimating.
var ErrStaleQuote = errors.New("gas quote is stale")

// ErrInsufficientFunds is returned when amount plus fee exceeds the
// spendable balance.
var ErrInsufficientFunds = errors.New("insufficient funds")

// EstimateTTL is how long a gas quote may be reused before it must be
// refreshed.
const EstimateTTL = 5 * time.Second

// GasEstimate is a point-in-time gas quote for a prospective transfer.
type GasEstimate struct {
	GasLimit  uint64
	GasPrice  *big.Int // wei per gas
	Fee       *big.Int // GasLimit * GasPrice, wei
	FetchedAt time.Time
}

// Stale reports whether the quote has outlived its reuse window.
func (g *GasEstimate) Stale() bool {
	return time.Since(g.FetchedAt) > EstimateTTL
}

// FeeDecimal returns the fee in native units.
func (g *GasEstimate) FeeDecimal() decimal.Decimal {
	return currency.FromMinorUnits(g.Fee, currency.NativeDecimals)
}

// Estimate quotes gas for the given transfer: gas price from the node plus
// a gas-limit estimate for the exact call that would be sent.
func Estimate(ctx context.Context, gw chain.Gateway, from common.Address, cur currency.Currency, to common.Address, amount decimal.Decimal) (*GasEstimate, error) {
	gasPrice, err := gw.GasPrice(ctx)
	if err != nil {
		return nil, err
	}

	call, err := transferCall(from, cur, to, amount)
	if err != nil {
		return nil, err
	}
	gasLimit, err := gw.EstimateGas(ctx, call)
	if err != nil {
		return nil, err
	}

	fee := new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), gasPrice)
	return &GasEstimate{
		GasLimit:  gasLimit,
		GasPrice:  gasPrice,
		Fee:       fee,
		FetchedAt: time.Now(),
	}, nil
}

// CheckFunds verifies a transfer is affordable before it is signed.
// For native sends, amount + fee must fit in the native balance. For token
// sends, the fee must fit in the native balance and the amount in the token
// balance.
func CheckFunds(cur currency.Currency, nativeBalance, tokenBalance, amountMinor, fee *big.Int) error {
	if cur.IsNative() {
		total := new(big.Int).Add(amountMinor, fee)
		if total.Cmp(nativeBalance) > 0 {
			return ErrInsufficientFunds
		}
		return nil
	}
	if fee.Cmp(nativeBalance) > 0 {
		return ErrInsufficientFunds
	}
	if amountMinor.Cmp(tokenBalance) > 0 {
		return ErrInsufficientFunds
	}
	return nil
}
