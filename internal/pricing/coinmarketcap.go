package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"
)

const coinMarketCapURL = "https://pro-api.coinmarketcap.com/v1/cryptocurrency/quotes/latest"

// CoinMarketCap quotes prices from the CoinMarketCap pro API. Requires an
// API key.
type CoinMarketCap struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

func NewCoinMarketCap(apiKey string) *CoinMarketCap {
	return &CoinMarketCap{
		apiKey:  apiKey,
		baseURL: coinMarketCapURL,
		http:    newHTTPClient(),
	}
}

func (p *CoinMarketCap) Name() string { return "coinmarketcap" }

func (p *CoinMarketCap) QuoteUSD(ctx context.Context, symbol string) (decimal.Decimal, error) {
	query := url.Values{
		"symbol":  {symbol},
		"convert": {"USD"},
	}

	var body struct {
		Data map[string]struct {
			Quote struct {
				USD struct {
					Price json.Number `json:"price"`
				} `json:"USD"`
			} `json:"quote"`
		} `json:"data"`
	}
	headers := map[string]string{"X-CMC_PRO_API_KEY": p.apiKey}
	if err := fetchJSON(ctx, p.http, p.baseURL+"?"+query.Encode(), headers, &body); err != nil {
		return decimal.Zero, err
	}

	entry, ok := body.Data[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("coinmarketcap: no quote for %s", symbol)
	}
	return parsePrice(entry.Quote.USD.Price)
}
