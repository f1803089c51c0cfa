package vault

import (
	"fmt"

	"github.com/emberlabs/emberwallet/internal/storage"
)

// Store persists encrypted seed blobs keyed by wallet ID. Overwrites are
// atomic at the key-value layer (a single Put), so a wallet never has an
// observable partially-written blob.
type Store struct {
	db storage.DB
}

// NewStore creates a vault store on top of the given database. Callers
// typically pass a PrefixDB so vault keys live in their own namespace.
func NewStore(db storage.DB) *Store {
	return &Store{db: db}
}

func blobKey(walletID string) []byte {
	return []byte("seed/" + walletID)
}

// Put stores the encrypted blob for a wallet, replacing any previous one.
func (s *Store) Put(walletID string, blob []byte) error {
	if err := s.db.Put(blobKey(walletID), blob); err != nil {
		return fmt.Errorf("store encrypted seed for %s: %w", walletID, err)
	}
	return nil
}

// Get returns the encrypted blob for a wallet, or storage.ErrNotFound.
func (s *Store) Get(walletID string) ([]byte, error) {
	blob, err := s.db.Get(blobKey(walletID))
	if err != nil {
		return nil, fmt.Errorf("load encrypted seed for %s: %w", walletID, err)
	}
	return blob, nil
}

// Has reports whether a blob exists for the wallet.
func (s *Store) Has(walletID string) (bool, error) {
	return s.db.Has(blobKey(walletID))
}

// Delete removes the encrypted blob for a wallet.
func (s *Store) Delete(walletID string) error {
	if err := s.db.Delete(blobKey(walletID)); err != nil {
		return fmt.Errorf("delete encrypted seed for %s: %w", walletID, err)
	}
	return nil
}

// Unlock loads and decrypts the seed for a wallet.
func (s *Store) Unlock(walletID string, password []byte) ([]byte, error) {
	blob, err := s.Get(walletID)
	if err != nil {
		return nil, err
	}
	return DecryptSeed(blob, password)
}

// ChangePassword re-encrypts a wallet's seed under a new password. The old
// password must verify first; the swap is a single atomic Put.
func (s *Store) ChangePassword(walletID string, oldPassword, newPassword []byte, params Params) error {
	seed, err := s.Unlock(walletID, oldPassword)
	if err != nil {
		return err
	}
	defer Zero(seed)

	blob, err := EncryptSeed(seed, newPassword, params)
	if err != nil {
		return err
	}
	return s.Put(walletID, blob)
}
