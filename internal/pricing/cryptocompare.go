package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"
)

const cryptoCompareURL = "https://min-api.cryptocompare.com/data/price"

// CryptoCompare quotes prices from the CryptoCompare min-api. Requires an
// API key.
type CryptoCompare struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

func NewCryptoCompare(apiKey string) *CryptoCompare {
	return &CryptoCompare{
		apiKey:  apiKey,
		baseURL: cryptoCompareURL,
		http:    newHTTPClient(),
	}
}

func (p *CryptoCompare) Name() string { return "cryptocompare" }

func (p *CryptoCompare) QuoteUSD(ctx context.Context, symbol string) (decimal.Decimal, error) {
	query := url.Values{
		"fsym":  {symbol},
		"tsyms": {"USD"},
	}

	var body map[string]json.Number
	headers := map[string]string{"Authorization": "Apikey " + p.apiKey}
	if err := fetchJSON(ctx, p.http, p.baseURL+"?"+query.Encode(), headers, &body); err != nil {
		return decimal.Zero, err
	}

	price, ok := body["USD"]
	if !ok {
		return decimal.Zero, fmt.Errorf("cryptocompare: no USD quote for %s", symbol)
	}
	return parsePrice(price)
}
