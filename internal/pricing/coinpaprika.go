package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
)

const coinpaprikaURL = "https://api-pro.coinpaprika.com/v1/tickers"

// coinpaprikaIDs maps wallet symbols to coinpaprika coin IDs.
var coinpaprikaIDs = map[string]string{
	"ETH":  "eth-ethereum",
	"USDT": "usdt-tether",
	"USDC": "usdc-usd-coin",
}

// Coinpaprika quotes prices from the coinpaprika pro API. Requires an API
// key.
type Coinpaprika struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

func NewCoinpaprika(apiKey string) *Coinpaprika {
	return &Coinpaprika{
		apiKey:  apiKey,
		baseURL: coinpaprikaURL,
		http:    newHTTPClient(),
	}
}

func (p *Coinpaprika) Name() string { return "coinpaprika" }

func (p *Coinpaprika) QuoteUSD(ctx context.Context, symbol string) (decimal.Decimal, error) {
	id, ok := coinpaprikaIDs[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("coinpaprika: unknown symbol %s", symbol)
	}

	var body struct {
		Quotes struct {
			USD struct {
				Price json.Number `json:"price"`
			} `json:"USD"`
		} `json:"quotes"`
	}
	headers := map[string]string{"Authorization": p.apiKey}
	if err := fetchJSON(ctx, p.http, p.baseURL+"/"+id+"?quotes=USD", headers, &body); err != nil {
		return decimal.Zero, err
	}
	return parsePrice(body.Quotes.USD.Price)
}
