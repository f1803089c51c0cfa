package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/emberlabs/emberwallet/internal/currency"
	"github.com/emberlabs/emberwallet/internal/indexer"
	"github.com/emberlabs/emberwallet/internal/log"
)

// Transfer directions relative to the queried address.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// HistoryEntry is one display-ready transfer.
type HistoryEntry struct {
	Hash         string          `json:"hash"`
	Direction    string          `json:"direction"`
	Symbol       string          `json:"symbol"`
	Amount       decimal.Decimal `json:"amount"`
	Counterparty string          `json:"counterparty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// HistoryResult is the merged history plus any degrade notices.
type HistoryResult struct {
	Entries []HistoryEntry
	Notices []string
}

// History returns the address's merged native and token transfer history,
// newest first, at most limit entries.
func (r *Resolver) History(ctx context.Context, address string, limit int) HistoryResult {
	key := cacheKey(address, r.networkID, "history")
	if v, fresh, ok := r.history.get(key); ok && fresh {
		return HistoryResult{Entries: truncate(v.([]HistoryEntry), limit)}
	}

	entries, err := r.fetchHistory(ctx, address)
	if err == nil {
		r.history.put(key, entries)
		r.persistHistory(address, entries)
		return HistoryResult{Entries: truncate(entries, limit)}
	}

	log.Resolver.Warn().Err(err).Msg("history fetch failed")
	if v, _, ok := r.history.get(key); ok {
		return HistoryResult{
			Entries: truncate(v.([]HistoryEntry), limit),
			Notices: []string{fmt.Sprintf("history is stale: %v", err)},
		}
	}
	if entries, ok := r.loadHistory(address); ok {
		return HistoryResult{
			Entries: truncate(entries, limit),
			Notices: []string{fmt.Sprintf("history is from a previous run: %v", err)},
		}
	}
	return HistoryResult{Notices: []string{fmt.Sprintf("history unavailable: %v", err)}}
}

// fetchHistory pulls both transfer lists concurrently and merges them.
// Either list failing fails the whole fetch; a partial history would look
// like missing transactions.
func (r *Resolver) fetchHistory(ctx context.Context, address string) ([]HistoryEntry, error) {
	var (
		native, token []indexer.Transfer
		nativeErr     error
		tokenErr      error
		done          = make(chan struct{})
	)
	go func() {
		defer close(done)
		token, tokenErr = r.idx.TokenTxList(ctx, address)
	}()
	native, nativeErr = r.idx.NativeTxList(ctx, address)
	<-done

	if nativeErr != nil {
		return nil, fmt.Errorf("native transfers: %w", nativeErr)
	}
	if tokenErr != nil {
		return nil, fmt.Errorf("token transfers: %w", tokenErr)
	}

	entries := make([]HistoryEntry, 0, len(native)+len(token))
	for _, tr := range native {
		if isDisguisedTokenTransfer(tr) {
			continue
		}
		entries = append(entries, toEntry(tr, address, currency.Native.Symbol, currency.NativeDecimals))
	}
	for _, tr := range token {
		entries = append(entries, toEntry(tr, address, tr.TokenSymbol, tr.TokenDecimal))
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	return dedupe(entries), nil
}

// isDisguisedTokenTransfer reports whether a native list entry is really a
// token transfer call. Those carry zero native value and show up again in
// the token list, so keeping them would double-count the transaction.
func isDisguisedTokenTransfer(tr indexer.Transfer) bool {
	if tr.Value.Sign() != 0 {
		return false
	}
	if strings.HasPrefix(strings.TrimPrefix(tr.Input, "0x"), "a9059cbb") {
		return true
	}
	return strings.HasPrefix(tr.FunctionName, "transfer(")
}

func toEntry(tr indexer.Transfer, address, symbol string, decimals int32) HistoryEntry {
	direction := DirectionIn
	counterparty := tr.From
	if strings.EqualFold(tr.From, address) {
		direction = DirectionOut
		counterparty = tr.To
	}
	return HistoryEntry{
		Hash:         tr.Hash,
		Direction:    direction,
		Symbol:       symbol,
		Amount:       currency.FromMinorUnits(tr.Value, decimals),
		Counterparty: counterparty,
		Timestamp:    tr.Timestamp,
	}
}

// dedupe drops repeated (hash, direction, symbol) triples, keeping the
// first occurrence. The same transaction may legitimately appear twice with
// different directions (self-transfers) or assets, so the triple is the
// identity, not the hash alone.
func dedupe(entries []HistoryEntry) []HistoryEntry {
	seen := make(map[string]bool, len(entries))
	out := entries[:0]
	for _, e := range entries {
		k := e.Hash + "|" + e.Direction + "|" + e.Symbol
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, e)
	}
	return out
}

// truncate copies at most limit entries so callers never hold a slice
// aliasing the cache.
func truncate(entries []HistoryEntry, limit int) []HistoryEntry {
	n := len(entries)
	if limit > 0 && n > limit {
		n = limit
	}
	out := make([]HistoryEntry, n)
	copy(out, entries[:n])
	return out
}

func (r *Resolver) persistHistory(address string, entries []HistoryEntry) {
	raw, err := json.Marshal(entries)
	if err != nil {
		return
	}
	key := []byte("last/history/" + r.networkID + "/" + address)
	if err := r.db.Put(key, raw); err != nil {
		log.Resolver.Warn().Err(err).Msg("persisting last-known history failed")
	}
}

func (r *Resolver) loadHistory(address string) ([]HistoryEntry, bool) {
	key := []byte("last/history/" + r.networkID + "/" + address)
	raw, err := r.db.Get(key)
	if err != nil {
		return nil, false
	}
	var entries []HistoryEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false
	}
	return entries, true
}
