package hdwallet

import (
	"context"
	"sync"

	"github.com/emberlabs/emberwallet/internal/log"
)

// ActivityProbe reports whether an address has any on-chain activity
// (non-zero balance or at least one transaction).
type ActivityProbe interface {
	HasActivity(ctx context.Context, address string) (bool, error)
}

// DiscoveryConfig tunes the gap-limit account scan.
type DiscoveryConfig struct {
	// GapLimit is the number of indices probed per scan window.
	GapLimit int
	// StopAfterEmpty ends the scan once this many consecutive indices in a
	// fully collected window are inactive.
	StopAfterEmpty int
}

// DefaultDiscoveryConfig returns the standard gap-limit parameters.
func DefaultDiscoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{
		GapLimit:       20,
		StopAfterEmpty: 5,
	}
}

// Discover scans derived indices just past startIndex for on-chain activity
// and returns the active accounts found, newest index last.
//
// Probes within a window run concurrently, but the stop decision is made
// only after the whole window has been collected, so a late "active" result
// cannot be lost to an out-of-order response. A probe error counts the index
// as inactive for this scan; a later scan will revisit it.
func Discover(ctx context.Context, seed []byte, walletID string, startIndex uint32, probe ActivityProbe, cfg DiscoveryConfig) ([]Account, error) {
	if cfg.GapLimit <= 0 {
		cfg.GapLimit = 20
	}
	if cfg.StopAfterEmpty <= 0 {
		cfg.StopAfterEmpty = 5
	}

	type probed struct {
		account Account
		active  bool
	}

	window := make([]probed, cfg.GapLimit)
	var wg sync.WaitGroup

	for i := 0; i < cfg.GapLimit; i++ {
		index := startIndex + uint32(i)
		acct, err := DeriveAccount(seed, walletID, index)
		if err != nil {
			log.Wallet.Warn().Uint32("index", index).Err(err).
				Msg("skipping underivable index during discovery")
			continue
		}
		window[i].account = acct

		wg.Add(1)
		go func(slot int, addr string) {
			defer wg.Done()
			active, err := probe.HasActivity(ctx, addr)
			if err != nil {
				log.Wallet.Debug().Str("address", addr).Err(err).
					Msg("activity probe failed, treating index as inactive")
				return
			}
			window[slot].active = active
		}(i, acct.Address)
	}

	// Join the full batch before deciding anything.
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var found []Account
	consecutiveEmpty := 0
	for _, p := range window {
		if p.active {
			found = append(found, p.account)
			consecutiveEmpty = 0
			continue
		}
		consecutiveEmpty++
		if consecutiveEmpty >= cfg.StopAfterEmpty {
			break
		}
	}

	log.Wallet.Info().
		Str("wallet_id", walletID).
		Uint32("start_index", startIndex).
		Int("active", len(found)).
		Msg("account discovery scan complete")

	return found, nil
}
