package pricing

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/emberlabs/emberwallet/internal/log"
)

// Credentials holds the API keys for the metered venues. Empty keys leave
// the corresponding venue out of the chain.
type Credentials struct {
	CoinMarketCapKey string
	CryptoCompareKey string
	CoinpaprikaKey   string
}

// Chain tries venues in order and remembers the last good quote per symbol
// so pricing degrades instead of failing.
type Chain struct {
	providers []Provider

	mu   sync.Mutex
	last map[string]decimal.Decimal
}

// NewChain builds a fallback chain from the configured credentials. Metered
// venues appear in a fixed precedence, each only when its key is set; the
// keyless backstop is always last.
func NewChain(creds Credentials) *Chain {
	var providers []Provider
	if creds.CoinMarketCapKey != "" {
		providers = append(providers, NewCoinMarketCap(creds.CoinMarketCapKey))
	}
	if creds.CryptoCompareKey != "" {
		providers = append(providers, NewCryptoCompare(creds.CryptoCompareKey))
	}
	if creds.CoinpaprikaKey != "" {
		providers = append(providers, NewCoinpaprika(creds.CoinpaprikaKey))
	}
	providers = append(providers, NewCoinGecko())
	return newChain(providers)
}

func newChain(providers []Provider) *Chain {
	return &Chain{
		providers: providers,
		last:      make(map[string]decimal.Decimal),
	}
}

// Providers returns the venues in query order.
func (c *Chain) Providers() []Provider {
	return c.providers
}

// QuoteUSD asks each venue in turn and returns the first quote. When every
// venue fails it returns the last good quote for the symbol, or zero. It
// never returns an error: a missing price degrades the display, nothing
// else.
func (c *Chain) QuoteUSD(ctx context.Context, symbol string) decimal.Decimal {
	for _, p := range c.providers {
		price, err := p.QuoteUSD(ctx, symbol)
		if err != nil {
			log.Resolver.Debug().Str("venue", p.Name()).Str("symbol", symbol).Err(err).Msg("price venue failed")
			continue
		}
		c.mu.Lock()
		c.last[symbol] = price
		c.mu.Unlock()
		return price
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if price, ok := c.last[symbol]; ok {
		log.Resolver.Warn().Str("symbol", symbol).Msg("all price venues failed, using last good quote")
		return price
	}
	log.Resolver.Warn().Str("symbol", symbol).Msg("all price venues failed, no quote available")
	return decimal.Zero
}
