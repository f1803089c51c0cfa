// Package session owns the decrypted seed for the currently unlocked
// wallet. The seed has exactly one owner: it lives here between Unlock and
// Lock and is zeroed the moment the session locks.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/emberlabs/emberwallet/internal/log"
	"github.com/emberlabs/emberwallet/internal/vault"
)

// ErrLocked is returned when seed access is attempted without an unlocked
// session.
var ErrLocked = errors.New("wallet is locked")

// DefaultAutoLock is how long a session stays unlocked without use.
const DefaultAutoLock = 5 * time.Minute

// Session holds the decrypted seed for at most one wallet at a time.
type Session struct {
	mu       sync.Mutex
	vault    *vault.Store
	autoLock time.Duration
	timer    *time.Timer

	walletID string
	seed     []byte
}

// New creates a locked session backed by the given vault store. autoLock <= 0
// disables the inactivity timer.
func New(vaultStore *vault.Store, autoLock time.Duration) *Session {
	return &Session{
		vault:    vaultStore,
		autoLock: autoLock,
	}
}

// Unlock decrypts the wallet's seed and makes this session its owner. Any
// previously unlocked wallet is locked first.
func (s *Session) Unlock(walletID string, password []byte) error {
	seed, err := s.vault.Unlock(walletID, password)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.clearLocked()
	s.walletID = walletID
	s.seed = seed
	s.resetTimerLocked()
	s.mu.Unlock()

	log.Vault.Info().Str("wallet_id", walletID).Msg("session unlocked")
	return nil
}

// WithSeed runs fn with the decrypted seed while holding the session lock.
// The seed must not be retained past the callback; each use resets the
// auto-lock timer.
func (s *Session) WithSeed(fn func(seed []byte) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seed == nil {
		return ErrLocked
	}
	s.resetTimerLocked()
	return fn(s.seed)
}

// WalletID returns the unlocked wallet's ID, if any.
func (s *Session) WalletID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.walletID, s.seed != nil
}

// Unlocked reports whether a seed is currently held.
func (s *Session) Unlocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seed != nil
}

// Lock zeroes and drops the held seed. Safe to call on a locked session.
func (s *Session) Lock() {
	s.mu.Lock()
	wasUnlocked := s.seed != nil
	walletID := s.walletID
	s.clearLocked()
	s.mu.Unlock()

	if wasUnlocked {
		log.Vault.Info().Str("wallet_id", walletID).Msg("session locked")
	}
}

// clearLocked zeroes the seed and stops the timer. Callers hold the mutex.
func (s *Session) clearLocked() {
	if s.seed != nil {
		vault.Zero(s.seed)
		s.seed = nil
	}
	s.walletID = ""
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// resetTimerLocked restarts the auto-lock countdown. Callers hold the mutex.
func (s *Session) resetTimerLocked() {
	if s.autoLock <= 0 {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.autoLock, s.Lock)
}
