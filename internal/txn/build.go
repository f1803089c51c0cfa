package txn

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/emberlabs/emberwallet/internal/chain"
	"github.com/emberlabs/emberwallet/internal/currency"
)

// transferSelector is the first four bytes of keccak("transfer(address,uint256)").
var transferSelector = crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]

// EncodeTokenTransfer ABI-encodes an ERC-20 transfer(to, amount) call:
// 4-byte selector plus two 32-byte left-padded arguments.
func EncodeTokenTransfer(to common.Address, amountMinor *big.Int) []byte {
	data := make([]byte, 0, 4+32+32)
	data = append(data, transferSelector...)
	data = append(data, common.LeftPadBytes(to.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amountMinor.Bytes(), 32)...)
	return data
}

// transferCall builds the call skeleton for a transfer, shared between gas
// estimation and transaction building so both describe the same call. The
// amount must be strictly positive: big.Int.Bytes encodes an absolute
// value, so a negative amount would otherwise sign as a positive transfer.
func transferCall(from common.Address, cur currency.Currency, to common.Address, amount decimal.Decimal) (chain.CallMsg, error) {
	if amount.Sign() <= 0 {
		return chain.CallMsg{}, fmt.Errorf("transfer amount must be positive, got %s", amount)
	}
	if cur.IsNative() {
		return chain.CallMsg{
			From:  from,
			To:    &to,
			Value: currency.ToMinorUnits(amount, currency.NativeDecimals),
		}, nil
	}

	if !common.IsHexAddress(cur.ContractAddress) {
		return chain.CallMsg{}, fmt.Errorf("invalid contract address %q for %s", cur.ContractAddress, cur.Symbol)
	}
	contract := common.HexToAddress(cur.ContractAddress)
	return chain.CallMsg{
		From:  from,
		To:    &contract,
		Value: big.NewInt(0),
		Data:  EncodeTokenTransfer(to, currency.ToMinorUnits(amount, cur.Decimals)),
	}, nil
}

// buildTransfer composes the unsigned legacy transaction for a transfer.
// Native sends pay the recipient directly; token sends call the contract
// with zero value.
func buildTransfer(nonce uint64, gasLimit uint64, gasPrice *big.Int, from common.Address, cur currency.Currency, to common.Address, amount decimal.Decimal) (*types.Transaction, error) {
	call, err := transferCall(from, cur, to, amount)
	if err != nil {
		return nil, err
	}
	return types.NewTransaction(nonce, *call.To, call.Value, gasLimit, gasPrice, call.Data), nil
}
