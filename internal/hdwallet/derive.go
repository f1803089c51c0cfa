package hdwallet

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"

	"github.com/emberlabs/emberwallet/internal/log"
)

// ErrDerivation covers unsupported coin types and malformed paths. These are
// programmer or configuration errors and are fatal to the operation.
var ErrDerivation = errors.New("derivation error")

// BIP-44 path constants. Full path: m/44'/60'/account'/change/index
const (
	// CoinTypeEther is the SLIP-44 registered coin type for ether.
	CoinTypeEther = 60

	// ChangeExternal is the external (receiving) chain.
	ChangeExternal = 0
)

// Account is one address derived from a wallet's seed. Accounts are created
// on demand and never mutated.
type Account struct {
	WalletID string `json:"wallet_id"`
	Address  string `json:"address"`
	Path     string `json:"path"`
	Index    uint32 `json:"index"`
}

// DerivationPath builds the canonical BIP-44 path for the given coin type
// and account index. Only ether (60) is supported; anything else is rejected
// rather than silently defaulted.
func DerivationPath(coinType, accountIndex uint32) (string, error) {
	if coinType != CoinTypeEther {
		return "", fmt.Errorf("%w: unsupported coin type %d", ErrDerivation, coinType)
	}
	return fmt.Sprintf("m/44'/%d'/0'/%d/%d", coinType, ChangeExternal, accountIndex), nil
}

// ParsePath parses a BIP-32 path string ("m/44'/60'/0'/0/2") into child
// indices with the hardened bit applied.
func ParsePath(path string) ([]uint32, error) {
	segments := strings.Split(path, "/")
	if len(segments) == 0 || segments[0] != "m" {
		return nil, fmt.Errorf("%w: path %q must start with m/", ErrDerivation, path)
	}

	indices := make([]uint32, 0, len(segments)-1)
	for _, seg := range segments[1:] {
		hardened := strings.HasSuffix(seg, "'") || strings.HasSuffix(seg, "h")
		if hardened {
			seg = seg[:len(seg)-1]
		}
		n, err := strconv.ParseUint(seg, 10, 32)
		if err != nil || n >= uint64(bip32.FirstHardenedChild) {
			return nil, fmt.Errorf("%w: bad path segment %q in %q", ErrDerivation, seg, path)
		}
		idx := uint32(n)
		if hardened {
			idx += bip32.FirstHardenedChild
		}
		indices = append(indices, idx)
	}
	return indices, nil
}

// DerivePrivateKey walks the BIP-32 tree from seed along path and returns
// the secp256k1 private key at the leaf. Pure function of (seed, path).
func DerivePrivateKey(seed []byte, path string) (*ecdsa.PrivateKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("%w: seed must be %d bytes, got %d", ErrDerivation, SeedSize, len(seed))
	}

	indices, err := ParsePath(path)
	if err != nil {
		return nil, err
	}

	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("%w: create master key: %v", ErrDerivation, err)
	}
	for _, idx := range indices {
		key, err = key.NewChildKey(idx)
		if err != nil {
			return nil, fmt.Errorf("%w: derive child %d: %v", ErrDerivation, idx, err)
		}
	}

	priv, err := crypto.ToECDSA(privateKeyBytes(key))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid key at %s: %v", ErrDerivation, path, err)
	}
	return priv, nil
}

// privateKeyBytes extracts the raw 32-byte private key. bip32 stores private
// keys as 33 bytes with a leading 0x00.
func privateKeyBytes(key *bip32.Key) []byte {
	raw := key.Key
	if len(raw) == 33 && raw[0] == 0 {
		return raw[1:]
	}
	return raw
}

// DeriveAddress maps a private key to the address for the given coin type.
// Only ether (keccak of the uncompressed public key) is supported.
func DeriveAddress(priv *ecdsa.PrivateKey, coinType uint32) (common.Address, error) {
	if coinType != CoinTypeEther {
		return common.Address{}, fmt.Errorf("%w: unsupported coin type %d", ErrDerivation, coinType)
	}
	return crypto.PubkeyToAddress(priv.PublicKey), nil
}

// DeriveAccount derives the account at the given index.
func DeriveAccount(seed []byte, walletID string, index uint32) (Account, error) {
	path, err := DerivationPath(CoinTypeEther, index)
	if err != nil {
		return Account{}, err
	}
	priv, err := DerivePrivateKey(seed, path)
	if err != nil {
		return Account{}, err
	}
	addr, err := DeriveAddress(priv, CoinTypeEther)
	zeroKey(priv)
	if err != nil {
		return Account{}, err
	}
	return Account{
		WalletID: walletID,
		Address:  addr.Hex(),
		Path:     path,
		Index:    index,
	}, nil
}

// DeriveAccounts derives accounts for indices 0..maxIndex inclusive. A
// failure at a single index is logged and that index skipped; the batch
// continues.
func DeriveAccounts(seed []byte, walletID string, maxIndex uint32) []Account {
	accounts := make([]Account, 0, maxIndex+1)
	for i := uint32(0); i <= maxIndex; i++ {
		acct, err := DeriveAccount(seed, walletID, i)
		if err != nil {
			log.Wallet.Warn().
				Uint32("index", i).
				Str("wallet_id", walletID).
				Err(err).
				Msg("skipping underivable account index")
			continue
		}
		accounts = append(accounts, acct)
	}
	return accounts
}

// zeroKey clears the scalar of a derived private key.
func zeroKey(priv *ecdsa.PrivateKey) {
	if priv != nil && priv.D != nil {
		priv.D.SetInt64(0)
	}
}
