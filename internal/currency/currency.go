// Package currency defines the assets the wallet tracks and the conversions
// between human amounts and on-chain minor units.
package currency

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// NativeDecimals is the chain-native precision (wei).
const NativeDecimals = 18

// Currency describes one tracked asset. An empty ContractAddress denotes
// the chain's native asset.
type Currency struct {
	Symbol          string `json:"symbol"`
	Name            string `json:"name"`
	Decimals        int32  `json:"decimals"`
	ContractAddress string `json:"contract_address,omitempty"`
}

// IsNative reports whether this is the chain's native asset.
func (c Currency) IsNative() bool {
	return c.ContractAddress == ""
}

// Native is the chain's native asset.
var Native = Currency{Symbol: "ETH", Name: "Ether", Decimals: NativeDecimals}

// AlwaysShown is the fixed allow-list of currencies shown even at zero
// balance: the native asset plus the designated stablecoins.
func AlwaysShown() []Currency {
	return []Currency{
		Native,
		{Symbol: "USDT", Name: "Tether USD", Decimals: 6, ContractAddress: "0xdAC17F958D2ee523a2206206994597C13D831ec7"},
		{Symbol: "USDC", Name: "USD Coin", Decimals: 6, ContractAddress: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"},
	}
}

// ToMinorUnits scales a human amount into on-chain minor units, truncating
// toward zero. Rounding up could send more than the user authorized, so it
// never happens.
func ToMinorUnits(amount decimal.Decimal, decimals int32) *big.Int {
	shifted := amount.Shift(decimals).Truncate(0)
	return shifted.BigInt()
}

// FromMinorUnits converts on-chain minor units back to a human amount.
func FromMinorUnits(units *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(units, 0).Shift(-decimals)
}
