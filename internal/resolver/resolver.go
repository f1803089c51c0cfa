// Package resolver turns raw indexer and pricing data into display-ready
// balances and history. Every external fetch degrades instead of failing:
// a dead indexer or price venue yields cached or last-known values plus a
// notice, never an error to the caller.
package resolver

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/emberlabs/emberwallet/internal/currency"
	"github.com/emberlabs/emberwallet/internal/indexer"
	"github.com/emberlabs/emberwallet/internal/log"
	"github.com/emberlabs/emberwallet/internal/storage"
)

// Cache TTLs. Balances move fastest, prices are venue-rate-limited, history
// only grows.
const (
	BalanceTTL = 20 * time.Second
	PriceTTL   = 60 * time.Second
	HistoryTTL = 90 * time.Second
)

// Balance is one asset position with its USD enrichment. USD is zero when
// no price was obtainable.
type Balance struct {
	Currency currency.Currency
	Amount   decimal.Decimal
	USD      decimal.Decimal
}

// BalanceSet is a balance listing plus any degrade notices accumulated
// while building it.
type BalanceSet struct {
	Balances []Balance
	Notices  []string
}

// PriceSource quotes USD prices without ever failing; zero means unknown.
// *pricing.Chain satisfies it.
type PriceSource interface {
	QuoteUSD(ctx context.Context, symbol string) decimal.Decimal
}

// Resolver resolves balances, prices and history for one network.
type Resolver struct {
	idx       *indexer.Client
	prices    PriceSource
	db        storage.DB
	networkID string

	balances *cache
	priceC   *cache
	history  *cache
}

// New creates a resolver. db persists last-known values so degrade survives
// restarts; networkID keeps keys from colliding across networks.
func New(idx *indexer.Client, prices PriceSource, db storage.DB, networkID string) *Resolver {
	return &Resolver{
		idx:       idx,
		prices:    prices,
		db:        db,
		networkID: networkID,
		balances:  newCache(BalanceTTL),
		priceC:    newCache(PriceTTL),
		history:   newCache(HistoryTTL),
	}
}

// Balances lists the address's positions. The allow-list assets are always
// present, zero or not; extra currencies appear only with a non-zero
// balance. Each position carries its USD value when a price is known.
func (r *Resolver) Balances(ctx context.Context, address string, extra []currency.Currency) BalanceSet {
	wanted := unionCurrencies(currency.AlwaysShown(), extra)
	allowed := make(map[string]bool, len(currency.AlwaysShown()))
	for _, c := range currency.AlwaysShown() {
		allowed[c.Symbol] = true
	}

	type slot struct {
		amount decimal.Decimal
		notice string
	}
	slots := make([]slot, len(wanted))

	var wg sync.WaitGroup
	for i, cur := range wanted {
		wg.Add(1)
		go func(i int, cur currency.Currency) {
			defer wg.Done()
			amount, notice := r.balanceOf(ctx, address, cur)
			slots[i] = slot{amount: amount, notice: notice}
		}(i, cur)
	}
	wg.Wait()

	var set BalanceSet
	for i, cur := range wanted {
		s := slots[i]
		if s.notice != "" {
			set.Notices = append(set.Notices, s.notice)
		}
		// Zero positions outside the allow-list are noise, drop them.
		if s.amount.IsZero() && !allowed[cur.Symbol] {
			continue
		}
		price := r.priceUSD(ctx, cur.Symbol)
		set.Balances = append(set.Balances, Balance{
			Currency: cur,
			Amount:   s.amount,
			USD:      s.amount.Mul(price),
		})
	}
	return set
}

// balanceOf fetches one position, falling back through the in-memory cache
// and the persisted last-known value. The returned notice is empty on a
// fresh fetch.
func (r *Resolver) balanceOf(ctx context.Context, address string, cur currency.Currency) (decimal.Decimal, string) {
	key := cacheKey(address, r.networkID, cur.Symbol)
	if v, fresh, ok := r.balances.get(key); ok && fresh {
		return v.(decimal.Decimal), ""
	}

	minor, err := r.fetchBalance(ctx, address, cur)
	if err == nil {
		amount := currency.FromMinorUnits(minor, cur.Decimals)
		r.balances.put(key, amount)
		r.persistBalance(address, cur.Symbol, amount)
		return amount, ""
	}

	log.Resolver.Warn().Str("symbol", cur.Symbol).Err(err).Msg("balance fetch failed")
	if v, _, ok := r.balances.get(key); ok {
		return v.(decimal.Decimal), fmt.Sprintf("%s balance is stale: %v", cur.Symbol, err)
	}
	if amount, ok := r.loadBalance(address, cur.Symbol); ok {
		return amount, fmt.Sprintf("%s balance is from a previous run: %v", cur.Symbol, err)
	}
	return decimal.Zero, fmt.Sprintf("%s balance unavailable: %v", cur.Symbol, err)
}

func (r *Resolver) fetchBalance(ctx context.Context, address string, cur currency.Currency) (*big.Int, error) {
	if cur.IsNative() {
		return r.idx.NativeBalance(ctx, address)
	}
	return r.idx.TokenBalance(ctx, address, cur.ContractAddress)
}

// priceUSD returns the cached USD price for a symbol, refreshing through
// the provider chain when the cache entry has expired. The chain itself
// never errors, so a zero result only overwrites a cached price when
// nothing better is held.
func (r *Resolver) priceUSD(ctx context.Context, symbol string) decimal.Decimal {
	if v, fresh, ok := r.priceC.get(symbol); ok && fresh {
		return v.(decimal.Decimal)
	}

	price := r.prices.QuoteUSD(ctx, symbol)
	if price.IsZero() {
		if v, _, ok := r.priceC.get(symbol); ok {
			return v.(decimal.Decimal)
		}
		return decimal.Zero
	}
	r.priceC.put(symbol, price)
	return price
}

func unionCurrencies(base, extra []currency.Currency) []currency.Currency {
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]currency.Currency, 0, len(base)+len(extra))
	for _, c := range append(append([]currency.Currency{}, base...), extra...) {
		if seen[c.Symbol] {
			continue
		}
		seen[c.Symbol] = true
		out = append(out, c)
	}
	return out
}

func cacheKey(address, networkID, symbol string) string {
	return address + "|" + networkID + "|" + symbol
}

func (r *Resolver) persistBalance(address, symbol string, amount decimal.Decimal) {
	key := []byte("last/balance/" + r.networkID + "/" + address + "/" + symbol)
	if err := r.db.Put(key, []byte(amount.String())); err != nil {
		log.Resolver.Warn().Err(err).Msg("persisting last-known balance failed")
	}
}

func (r *Resolver) loadBalance(address, symbol string) (decimal.Decimal, bool) {
	key := []byte("last/balance/" + r.networkID + "/" + address + "/" + symbol)
	raw, err := r.db.Get(key)
	if err != nil {
		return decimal.Zero, false
	}
	amount, err := decimal.NewFromString(string(raw))
	if err != nil {
		return decimal.Zero, false
	}
	return amount, true
}
