package walletindex

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/emberlabs/emberwallet/internal/hdwallet"
	"github.com/emberlabs/emberwallet/internal/storage"
)

func accountsKey(walletID string) []byte {
	return []byte("accounts/" + walletID)
}

// loadAccounts reads the persisted account list. Callers hold the mutex.
func (idx *Index) loadAccounts(walletID string) ([]hdwallet.Account, error) {
	data, err := idx.db.Get(accountsKey(walletID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load accounts for %s: %w", walletID, err)
	}
	var accounts []hdwallet.Account
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, fmt.Errorf("corrupt accounts for %s: %w", walletID, err)
	}
	return accounts, nil
}

// Accounts returns the derived accounts recorded for a wallet, ordered by
// derivation index.
func (idx *Index) Accounts(walletID string) ([]hdwallet.Account, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.loadAccounts(walletID)
}

// AddAccounts records derived accounts for a wallet, skipping any index that
// is already present. Accounts are immutable once recorded. The whole
// read-modify-write runs under the index mutex so concurrent callers cannot
// lose records.
func (idx *Index) AddAccounts(walletID string, accounts []hdwallet.Account) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	existing, err := idx.loadAccounts(walletID)
	if err != nil {
		return err
	}

	known := make(map[uint32]bool, len(existing))
	for _, acct := range existing {
		known[acct.Index] = true
	}

	changed := false
	for _, acct := range accounts {
		if known[acct.Index] {
			continue
		}
		existing = append(existing, acct)
		known[acct.Index] = true
		changed = true
	}
	if !changed {
		return nil
	}

	data, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("marshal accounts: %w", err)
	}
	if err := idx.db.Put(accountsKey(walletID), data); err != nil {
		return fmt.Errorf("persist accounts for %s: %w", walletID, err)
	}
	return nil
}

// MaxAccountIndex returns the highest recorded derivation index for a
// wallet, or -1 when only the implicit default account exists.
func (idx *Index) MaxAccountIndex(walletID string) (int64, error) {
	accounts, err := idx.Accounts(walletID)
	if err != nil {
		return -1, err
	}
	max := int64(-1)
	for _, acct := range accounts {
		if int64(acct.Index) > max {
			max = int64(acct.Index)
		}
	}
	return max, nil
}

// DeleteAccounts removes all recorded accounts for a wallet. Called when the
// owning wallet is deleted.
func (idx *Index) DeleteAccounts(walletID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.db.Delete(accountsKey(walletID))
}
