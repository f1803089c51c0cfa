package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"
)

const coinGeckoURL = "https://api.coingecko.com/api/v3/simple/price"

// coinGeckoIDs maps wallet symbols to coingecko coin IDs.
var coinGeckoIDs = map[string]string{
	"ETH":  "ethereum",
	"USDT": "tether",
	"USDC": "usd-coin",
}

// CoinGecko quotes prices from the free coingecko API. No credentials, so
// it serves as the backstop behind the metered venues.
type CoinGecko struct {
	baseURL string
	http    *http.Client
}

func NewCoinGecko() *CoinGecko {
	return &CoinGecko{
		baseURL: coinGeckoURL,
		http:    newHTTPClient(),
	}
}

func (p *CoinGecko) Name() string { return "coingecko" }

func (p *CoinGecko) QuoteUSD(ctx context.Context, symbol string) (decimal.Decimal, error) {
	id, ok := coinGeckoIDs[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("coingecko: unknown symbol %s", symbol)
	}

	query := url.Values{
		"ids":           {id},
		"vs_currencies": {"usd"},
	}

	var body map[string]map[string]json.Number
	if err := fetchJSON(ctx, p.http, p.baseURL+"?"+query.Encode(), nil, &body); err != nil {
		return decimal.Zero, err
	}

	price, ok := body[id]["usd"]
	if !ok {
		return decimal.Zero, fmt.Errorf("coingecko: no quote for %s", symbol)
	}
	return parsePrice(price)
}
