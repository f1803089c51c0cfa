// Package walletindex maintains the persisted catalog of wallets known to
// the device: identity, active-wallet pointer and fingerprint lookup.
package walletindex

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/emberlabs/emberwallet/internal/log"
	"github.com/emberlabs/emberwallet/internal/storage"
)

// ErrDuplicateWallet is returned when an added wallet's fingerprint already
// belongs to a catalog entry. Callers recover by switching to the existing
// wallet instead of creating a second one.
var ErrDuplicateWallet = errors.New("wallet already exists")

// DuplicateError carries the ID of the existing wallet so import flows can
// redirect to it.
type DuplicateError struct {
	ExistingID string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("wallet already exists as %s", e.ExistingID)
}

func (e *DuplicateError) Unwrap() error { return ErrDuplicateWallet }

// Wallet is one catalog entry.
type Wallet struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Address     string    `json:"address"`
	Network     string    `json:"network"`
	CreatedAt   time.Time `json:"created_at"`
	Imported    bool      `json:"imported"`
	Fingerprint string    `json:"fingerprint"`
}

// EventType classifies index change notifications.
type EventType string

const (
	EventAdded    EventType = "added"
	EventUpdated  EventType = "updated"
	EventDeleted  EventType = "deleted"
	EventSwitched EventType = "switched"
)

// Event is pushed to subscribers after each successful mutation.
type Event struct {
	Type     EventType
	WalletID string
}

// Listener receives index change events.
type Listener func(Event)

const indexKey = "wallets"

// indexDoc is the persisted JSON form of the catalog.
type indexDoc struct {
	Wallets  []Wallet `json:"wallets"`
	ActiveID string   `json:"active_id"`
}

// Index is the serialized wallet catalog. All mutations go through its own
// API under a single mutex, and change notifications fire after a mutation
// has been persisted, never before.
type Index struct {
	mu        sync.Mutex
	db        storage.DB
	wallets   []Wallet // insertion order
	activeID  string   // empty only when wallets is empty
	listeners map[int]Listener
	nextSub   int
}

// New loads the catalog from db, starting empty if none is persisted.
func New(db storage.DB) (*Index, error) {
	idx := &Index{
		db:        db,
		listeners: make(map[int]Listener),
	}

	data, err := db.Get([]byte(indexKey))
	if errors.Is(err, storage.ErrNotFound) {
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load wallet index: %w", err)
	}

	var doc indexDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("corrupt wallet index: %w", err)
	}
	idx.wallets = doc.Wallets
	idx.activeID = doc.ActiveID
	return idx, nil
}

// persist writes the catalog as one document so a mutation is all-or-nothing.
// Callers hold the mutex.
func (idx *Index) persist() error {
	doc := indexDoc{Wallets: idx.wallets, ActiveID: idx.activeID}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal wallet index: %w", err)
	}
	if err := idx.db.Put([]byte(indexKey), data); err != nil {
		return fmt.Errorf("persist wallet index: %w", err)
	}
	return nil
}

// Subscribe registers a listener for index change events and returns an
// unsubscribe function.
func (idx *Index) Subscribe(fn Listener) func() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	id := idx.nextSub
	idx.nextSub++
	idx.listeners[id] = fn
	return func() {
		idx.mu.Lock()
		defer idx.mu.Unlock()
		delete(idx.listeners, id)
	}
}

// notify fires an event to all listeners. Called after the mutex is
// released so a listener can call back into the index.
func (idx *Index) notify(ev Event) {
	idx.mu.Lock()
	fns := make([]Listener, 0, len(idx.listeners))
	for _, fn := range idx.listeners {
		fns = append(fns, fn)
	}
	idx.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Add appends a wallet to the catalog. Adding an already-present ID is a
// no-op returning false. A wallet whose fingerprint already exists is not
// added; instead the existing wallet becomes active and a DuplicateError is
// returned. The first wallet added to an empty catalog becomes active.
func (idx *Index) Add(w Wallet) (bool, error) {
	idx.mu.Lock()

	for _, existing := range idx.wallets {
		if existing.ID == w.ID {
			idx.mu.Unlock()
			return false, nil
		}
	}

	if w.Fingerprint != "" {
		for _, existing := range idx.wallets {
			if existing.Fingerprint == w.Fingerprint {
				// Same seed already known: switch, don't duplicate.
				existingID := existing.ID
				switched := idx.activeID != existingID
				idx.activeID = existingID
				if err := idx.persist(); err != nil {
					idx.mu.Unlock()
					return false, err
				}
				idx.mu.Unlock()
				if switched {
					idx.notify(Event{Type: EventSwitched, WalletID: existingID})
				}
				return false, &DuplicateError{ExistingID: existingID}
			}
		}
	}

	idx.wallets = append(idx.wallets, w)
	becameActive := false
	if idx.activeID == "" {
		idx.activeID = w.ID
		becameActive = true
	}
	if err := idx.persist(); err != nil {
		// Roll back the in-memory append so state matches disk.
		idx.wallets = idx.wallets[:len(idx.wallets)-1]
		if becameActive {
			idx.activeID = ""
		}
		idx.mu.Unlock()
		return false, err
	}
	idx.mu.Unlock()

	log.Index.Info().Str("wallet_id", w.ID).Str("name", w.Name).Msg("wallet added")
	idx.notify(Event{Type: EventAdded, WalletID: w.ID})
	return true, nil
}

// Update replaces the entry with the same ID. Returns false if unknown.
func (idx *Index) Update(w Wallet) (bool, error) {
	idx.mu.Lock()
	pos := -1
	for i, existing := range idx.wallets {
		if existing.ID == w.ID {
			pos = i
			break
		}
	}
	if pos < 0 {
		idx.mu.Unlock()
		return false, nil
	}
	prev := idx.wallets[pos]
	idx.wallets[pos] = w
	if err := idx.persist(); err != nil {
		idx.wallets[pos] = prev
		idx.mu.Unlock()
		return false, err
	}
	idx.mu.Unlock()

	idx.notify(Event{Type: EventUpdated, WalletID: w.ID})
	return true, nil
}

// Delete removes a wallet. Deleting the active wallet atomically re-points
// the active pointer at the first remaining entry in insertion order, or
// clears it when the catalog becomes empty.
func (idx *Index) Delete(walletID string) (bool, error) {
	idx.mu.Lock()
	pos := -1
	for i, w := range idx.wallets {
		if w.ID == walletID {
			pos = i
			break
		}
	}
	if pos < 0 {
		idx.mu.Unlock()
		return false, nil
	}

	prevWallets := idx.wallets
	prevActive := idx.activeID

	idx.wallets = append(append([]Wallet{}, idx.wallets[:pos]...), idx.wallets[pos+1:]...)
	switched := false
	if idx.activeID == walletID {
		if len(idx.wallets) > 0 {
			idx.activeID = idx.wallets[0].ID
			switched = true
		} else {
			idx.activeID = ""
		}
	}
	if err := idx.persist(); err != nil {
		idx.wallets = prevWallets
		idx.activeID = prevActive
		idx.mu.Unlock()
		return false, err
	}
	newActive := idx.activeID
	idx.mu.Unlock()

	log.Index.Info().Str("wallet_id", walletID).Msg("wallet deleted")
	idx.notify(Event{Type: EventDeleted, WalletID: walletID})
	if switched {
		idx.notify(Event{Type: EventSwitched, WalletID: newActive})
	}
	return true, nil
}

// SetActive re-points the active wallet. Returns false for unknown IDs and
// never leaves the pointer at a non-existent entry.
func (idx *Index) SetActive(walletID string) (bool, error) {
	idx.mu.Lock()
	found := false
	for _, w := range idx.wallets {
		if w.ID == walletID {
			found = true
			break
		}
	}
	if !found {
		idx.mu.Unlock()
		return false, nil
	}
	if idx.activeID == walletID {
		idx.mu.Unlock()
		return true, nil
	}
	prev := idx.activeID
	idx.activeID = walletID
	if err := idx.persist(); err != nil {
		idx.activeID = prev
		idx.mu.Unlock()
		return false, err
	}
	idx.mu.Unlock()

	idx.notify(Event{Type: EventSwitched, WalletID: walletID})
	return true, nil
}

// Active returns the active wallet, if any.
func (idx *Index) Active() (Wallet, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.activeID == "" {
		return Wallet{}, false
	}
	for _, w := range idx.wallets {
		if w.ID == idx.activeID {
			return w, true
		}
	}
	return Wallet{}, false
}

// Get returns the wallet with the given ID.
func (idx *Index) Get(walletID string) (Wallet, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, w := range idx.wallets {
		if w.ID == walletID {
			return w, true
		}
	}
	return Wallet{}, false
}

// List returns all wallets in insertion order.
func (idx *Index) List() []Wallet {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	out := make([]Wallet, len(idx.wallets))
	copy(out, idx.wallets)
	return out
}

// ByFingerprint reports whether a seed fingerprint is already catalogued and
// returns the owning wallet's ID.
func (idx *Index) ByFingerprint(fingerprint string) (string, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, w := range idx.wallets {
		if w.Fingerprint == fingerprint {
			return w.ID, true
		}
	}
	return "", false
}
