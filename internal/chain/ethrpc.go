package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/emberlabs/emberwallet/internal/log"
	"github.com/emberlabs/emberwallet/pkg/jsonrpc"
)

// balanceOfSelector is the first four bytes of keccak("balanceOf(address)").
var balanceOfSelector = crypto.Keccak256([]byte("balanceOf(address)"))[:4]

// EthRPC implements Gateway against a standard Ethereum JSON-RPC endpoint.
type EthRPC struct {
	rpc *jsonrpc.Client
}

// NewEthRPC creates a gateway for the given endpoint URL.
func NewEthRPC(endpoint string, timeout time.Duration) *EthRPC {
	return &EthRPC{rpc: jsonrpc.NewWithTimeout(endpoint, timeout)}
}

// callArg is the JSON form of a CallMsg.
type callArg struct {
	From  string `json:"from,omitempty"`
	To    string `json:"to,omitempty"`
	Value string `json:"value,omitempty"`
	Data  string `json:"data,omitempty"`
}

func toCallArg(call CallMsg) callArg {
	arg := callArg{From: call.From.Hex()}
	if call.To != nil {
		arg.To = call.To.Hex()
	}
	if call.Value != nil && call.Value.Sign() > 0 {
		arg.Value = hexutil.EncodeBig(call.Value)
	}
	if len(call.Data) > 0 {
		arg.Data = hexutil.Encode(call.Data)
	}
	return arg
}

// classify maps raw client errors to the gateway error taxonomy. broadcast
// controls whether JSON-RPC errors are treated as transaction rejections.
func classify(err error, broadcast bool) error {
	var httpErr *jsonrpc.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		return fmt.Errorf("%w: %v", ErrTransportFailure, err)
	}

	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		if strings.Contains(strings.ToLower(rpcErr.Message), "rate limit") {
			return fmt.Errorf("%w: %s", ErrRateLimited, rpcErr.Message)
		}
		if broadcast {
			return &RejectionError{Message: rpcErr.Message}
		}
		return fmt.Errorf("%w: %v", ErrTransportFailure, err)
	}

	return fmt.Errorf("%w: %v", ErrTransportFailure, err)
}

// PendingNonceAt returns the pending transaction count for an address.
func (e *EthRPC) PendingNonceAt(ctx context.Context, address common.Address) (uint64, error) {
	var result string
	err := e.rpc.Call(ctx, "eth_getTransactionCount", []string{address.Hex(), "pending"}, &result)
	if err != nil {
		return 0, classify(err, false)
	}
	nonce, err := hexutil.DecodeUint64(result)
	if err != nil {
		return 0, fmt.Errorf("%w: bad nonce %q: %v", ErrTransportFailure, result, err)
	}
	return nonce, nil
}

// GasPrice returns the suggested gas price in wei.
func (e *EthRPC) GasPrice(ctx context.Context) (*big.Int, error) {
	var result string
	if err := e.rpc.Call(ctx, "eth_gasPrice", nil, &result); err != nil {
		return nil, classify(err, false)
	}
	price, err := hexutil.DecodeBig(result)
	if err != nil {
		return nil, fmt.Errorf("%w: bad gas price %q: %v", ErrTransportFailure, result, err)
	}
	return price, nil
}

// EstimateGas returns the gas limit estimate for a call.
func (e *EthRPC) EstimateGas(ctx context.Context, call CallMsg) (uint64, error) {
	var result string
	if err := e.rpc.Call(ctx, "eth_estimateGas", []callArg{toCallArg(call)}, &result); err != nil {
		return 0, classify(err, false)
	}
	limit, err := hexutil.DecodeUint64(result)
	if err != nil {
		return 0, fmt.Errorf("%w: bad gas estimate %q: %v", ErrTransportFailure, result, err)
	}
	return limit, nil
}

// SendRawTransaction broadcasts signed raw transaction bytes.
func (e *EthRPC) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	var result string
	err := e.rpc.Call(ctx, "eth_sendRawTransaction", []string{hexutil.Encode(raw)}, &result)
	if err != nil {
		return common.Hash{}, classify(err, true)
	}
	hash := common.HexToHash(result)
	log.Chain.Info().Str("tx_hash", hash.Hex()).Msg("raw transaction broadcast")
	return hash, nil
}

// BalanceAt returns the native balance of an address in wei.
func (e *EthRPC) BalanceAt(ctx context.Context, address common.Address) (*big.Int, error) {
	var result string
	err := e.rpc.Call(ctx, "eth_getBalance", []string{address.Hex(), "latest"}, &result)
	if err != nil {
		return nil, classify(err, false)
	}
	balance, err := hexutil.DecodeBig(result)
	if err != nil {
		return nil, fmt.Errorf("%w: bad balance %q: %v", ErrTransportFailure, result, err)
	}
	return balance, nil
}

// TokenBalance reads an ERC-20 balance via eth_call of balanceOf(owner).
func (e *EthRPC) TokenBalance(ctx context.Context, owner, token common.Address) (*big.Int, error) {
	data := make([]byte, 0, 36)
	data = append(data, balanceOfSelector...)
	data = append(data, common.LeftPadBytes(owner.Bytes(), 32)...)

	params := []interface{}{
		callArg{To: token.Hex(), Data: hexutil.Encode(data)},
		"latest",
	}
	var result string
	if err := e.rpc.Call(ctx, "eth_call", params, &result); err != nil {
		return nil, classify(err, false)
	}

	raw := common.FromHex(result)
	if len(raw) == 0 {
		return big.NewInt(0), nil
	}
	return new(big.Int).SetBytes(raw), nil
}
