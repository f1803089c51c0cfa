// Package indexer queries an etherscan-compatible account indexer for
// balances and transfer history. The node answers "what is the state now";
// the indexer answers "what happened", which a bare JSON-RPC endpoint
// cannot do without scanning every block.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/emberlabs/emberwallet/internal/log"
)

// DefaultTimeout bounds every indexer request.
const DefaultTimeout = 10 * time.Second

// Transfer is one historical value movement, native or token.
type Transfer struct {
	Hash            string
	From            string
	To              string
	Value           *big.Int // minor units
	Timestamp       time.Time
	ContractAddress string // empty for native transfers
	TokenSymbol     string // empty for native transfers
	TokenDecimal    int32
	Input           string // hex call payload, native transfers only
	FunctionName    string // decoded method name when the indexer knows it
}

// Client talks to one etherscan-compatible API endpoint.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

// New creates a client for the given endpoint. apiKey may be empty for
// endpoints that allow anonymous access.
func New(endpoint, apiKey string) *Client {
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: DefaultTimeout},
	}
}

// envelope is the etherscan response wrapper. Result stays raw because its
// shape depends on the action: a quoted number for balances, an array for
// transfer lists, or an error string.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// txRecord mirrors the indexer's all-strings transfer encoding.
type txRecord struct {
	Hash            string `json:"hash"`
	From            string `json:"from"`
	To              string `json:"to"`
	Value           string `json:"value"`
	TimeStamp       string `json:"timeStamp"`
	ContractAddress string `json:"contractAddress"`
	TokenSymbol     string `json:"tokenSymbol"`
	TokenDecimal    string `json:"tokenDecimal"`
	Input           string `json:"input"`
	FunctionName    string `json:"functionName"`
}

// NativeBalance returns the address's native balance in wei.
func (c *Client) NativeBalance(ctx context.Context, address string) (*big.Int, error) {
	params := url.Values{
		"module":  {"account"},
		"action":  {"balance"},
		"address": {address},
		"tag":     {"latest"},
	}
	return c.balance(ctx, params)
}

// TokenBalance returns the address's balance of the given token contract,
// in the token's minor units.
func (c *Client) TokenBalance(ctx context.Context, address, contract string) (*big.Int, error) {
	params := url.Values{
		"module":          {"account"},
		"action":          {"tokenbalance"},
		"address":         {address},
		"contractaddress": {contract},
		"tag":             {"latest"},
	}
	return c.balance(ctx, params)
}

// NativeTxList returns the address's native transaction history, newest
// first.
func (c *Client) NativeTxList(ctx context.Context, address string) ([]Transfer, error) {
	return c.txList(ctx, "txlist", address)
}

// TokenTxList returns the address's ERC-20 transfer history, newest first.
func (c *Client) TokenTxList(ctx context.Context, address string) ([]Transfer, error) {
	return c.txList(ctx, "tokentx", address)
}

func (c *Client) balance(ctx context.Context, params url.Values) (*big.Int, error) {
	env, err := c.get(ctx, params)
	if err != nil {
		return nil, err
	}
	if env.Status != "1" {
		return nil, fmt.Errorf("indexer: %s", env.Message)
	}

	var raw string
	if err := json.Unmarshal(env.Result, &raw); err != nil {
		return nil, fmt.Errorf("decode balance result: %w", err)
	}
	bal, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("indexer returned malformed balance %q", raw)
	}
	return bal, nil
}

func (c *Client) txList(ctx context.Context, action, address string) ([]Transfer, error) {
	params := url.Values{
		"module":  {"account"},
		"action":  {action},
		"address": {address},
		"sort":    {"desc"},
	}
	env, err := c.get(ctx, params)
	if err != nil {
		return nil, err
	}
	if env.Status != "1" {
		// An empty history is reported as status 0, not as an empty array.
		if env.Message == "No transactions found" {
			return nil, nil
		}
		return nil, fmt.Errorf("indexer: %s", env.Message)
	}

	var records []txRecord
	if err := json.Unmarshal(env.Result, &records); err != nil {
		return nil, fmt.Errorf("decode transfer list: %w", err)
	}

	transfers := make([]Transfer, 0, len(records))
	for _, rec := range records {
		tr, err := rec.toTransfer()
		if err != nil {
			log.Resolver.Warn().Str("tx_hash", rec.Hash).Err(err).Msg("skipping malformed transfer record")
			continue
		}
		transfers = append(transfers, tr)
	}
	return transfers, nil
}

func (r txRecord) toTransfer() (Transfer, error) {
	value, ok := new(big.Int).SetString(r.Value, 10)
	if !ok {
		return Transfer{}, fmt.Errorf("malformed value %q", r.Value)
	}
	ts, err := strconv.ParseInt(r.TimeStamp, 10, 64)
	if err != nil {
		return Transfer{}, fmt.Errorf("malformed timestamp %q", r.TimeStamp)
	}

	var decimals int32
	if r.TokenDecimal != "" {
		d, err := strconv.ParseInt(r.TokenDecimal, 10, 32)
		if err != nil {
			return Transfer{}, fmt.Errorf("malformed token decimals %q", r.TokenDecimal)
		}
		decimals = int32(d)
	}

	return Transfer{
		Hash:            r.Hash,
		From:            r.From,
		To:              r.To,
		Value:           value,
		Timestamp:       time.Unix(ts, 0).UTC(),
		ContractAddress: r.ContractAddress,
		TokenSymbol:     r.TokenSymbol,
		TokenDecimal:    decimals,
		Input:           r.Input,
		FunctionName:    r.FunctionName,
	}, nil
}

func (c *Client) get(ctx context.Context, params url.Values) (*envelope, error) {
	if c.apiKey != "" {
		params.Set("apikey", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, data)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &env, nil
}
