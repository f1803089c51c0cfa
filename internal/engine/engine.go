// Package engine is the composition root's facade over the wallet
// subsystems. Callers hold one Engine value wired with explicit
// dependencies; nothing in here is a package-level singleton.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/emberlabs/emberwallet/internal/chain"
	"github.com/emberlabs/emberwallet/internal/currency"
	"github.com/emberlabs/emberwallet/internal/hdwallet"
	"github.com/emberlabs/emberwallet/internal/indexer"
	"github.com/emberlabs/emberwallet/internal/log"
	"github.com/emberlabs/emberwallet/internal/resolver"
	"github.com/emberlabs/emberwallet/internal/session"
	"github.com/emberlabs/emberwallet/internal/storage"
	"github.com/emberlabs/emberwallet/internal/txn"
	"github.com/emberlabs/emberwallet/internal/vault"
	"github.com/emberlabs/emberwallet/internal/walletindex"
)

// ErrNoActiveWallet is returned by operations that need an active wallet
// when the catalog is empty.
var ErrNoActiveWallet = errors.New("no active wallet")

// ErrUnknownCurrency is returned when a symbol is not in the supported set.
var ErrUnknownCurrency = errors.New("unknown currency")

// ErrUnknownAccount is returned when an account index has not been derived
// for the active wallet.
var ErrUnknownAccount = errors.New("unknown account")

// RefreshTimeout caps every balance or history refresh. A slow indexer
// degrades the data; it must not hang the caller.
const RefreshTimeout = 12 * time.Second

// Deps are the collaborators an Engine is composed from. All fields are
// required except Indexer, which only account discovery uses.
type Deps struct {
	DB          storage.DB
	Vault       *vault.Store
	Index       *walletindex.Index
	Session     *session.Session
	Gateway     chain.Gateway
	Resolver    *resolver.Resolver
	Indexer     *indexer.Client
	ChainID     *big.Int
	Network     string
	VaultParams vault.Params
}

// Engine ties the wallet subsystems into the surface the UI talks to.
type Engine struct {
	db       storage.DB
	vault    *vault.Store
	index    *walletindex.Index
	sess     *session.Session
	gw       chain.Gateway
	res      *resolver.Resolver
	idx      *indexer.Client
	pipeline *txn.Pipeline
	chainID  *big.Int
	network  string
	params   vault.Params
}

// New composes an engine from its dependencies.
func New(deps Deps) (*Engine, error) {
	switch {
	case deps.DB == nil, deps.Vault == nil, deps.Index == nil, deps.Session == nil,
		deps.Gateway == nil, deps.Resolver == nil, deps.ChainID == nil:
		return nil, errors.New("engine: missing dependency")
	}
	return &Engine{
		db:       deps.DB,
		vault:    deps.Vault,
		index:    deps.Index,
		sess:     deps.Session,
		gw:       deps.Gateway,
		res:      deps.Resolver,
		idx:      deps.Indexer,
		pipeline: txn.NewPipeline(deps.Gateway, deps.Session, deps.ChainID),
		chainID:  deps.ChainID,
		network:  deps.Network,
		params:   deps.VaultParams,
	}, nil
}

// CreateWallet generates a fresh mnemonic, encrypts its seed under password
// and catalogs the wallet. The mnemonic is returned exactly once, for the
// user to back up; it is not stored anywhere.
func (e *Engine) CreateWallet(name string, password []byte) (walletindex.Wallet, string, error) {
	mnemonic, err := hdwallet.GenerateMnemonic()
	if err != nil {
		return walletindex.Wallet{}, "", err
	}
	w, err := e.addWallet(name, mnemonic, password, false)
	if err != nil {
		return walletindex.Wallet{}, "", err
	}
	return w, mnemonic, nil
}

// ImportWallet catalogs a wallet from an existing mnemonic. Importing a seed
// that is already catalogued does not create a second entry: the existing
// wallet becomes active and the returned error unwraps to
// walletindex.ErrDuplicateWallet with the existing wallet attached.
func (e *Engine) ImportWallet(name, mnemonic string, password []byte) (walletindex.Wallet, error) {
	return e.addWallet(name, mnemonic, password, true)
}

func (e *Engine) addWallet(name, mnemonic string, password []byte, imported bool) (walletindex.Wallet, error) {
	seed, err := hdwallet.SeedFromMnemonic(mnemonic, "")
	if err != nil {
		return walletindex.Wallet{}, err
	}
	defer vault.Zero(seed)

	walletID := uuid.NewString()
	account, err := hdwallet.DeriveAccount(seed, walletID, 0)
	if err != nil {
		return walletindex.Wallet{}, err
	}

	blob, err := vault.EncryptSeed(seed, password, e.params)
	if err != nil {
		return walletindex.Wallet{}, err
	}
	if err := e.vault.Put(walletID, blob); err != nil {
		return walletindex.Wallet{}, err
	}

	w := walletindex.Wallet{
		ID:          walletID,
		Name:        name,
		Address:     account.Address,
		Network:     e.network,
		CreatedAt:   time.Now().UTC(),
		Imported:    imported,
		Fingerprint: vault.Fingerprint(seed),
	}

	added, err := e.index.Add(w)
	if err != nil || !added {
		// The catalog rejected the wallet, so the blob written above is
		// orphaned and must go.
		if delErr := e.vault.Delete(walletID); delErr != nil {
			log.Vault.Warn().Str("wallet_id", walletID).Err(delErr).Msg("orphaned seed blob not cleaned up")
		}

		var dup *walletindex.DuplicateError
		if errors.As(err, &dup) {
			existing, _ := e.index.Get(dup.ExistingID)
			return existing, err
		}
		if err == nil {
			err = fmt.Errorf("wallet %s not added", walletID)
		}
		return walletindex.Wallet{}, err
	}

	if err := e.index.AddAccounts(walletID, []hdwallet.Account{account}); err != nil {
		log.Index.Warn().Str("wallet_id", walletID).Err(err).Msg("recording default account failed")
	}
	return w, nil
}

// RenameWallet changes a wallet's display name.
func (e *Engine) RenameWallet(walletID, name string) error {
	w, ok := e.index.Get(walletID)
	if !ok {
		return fmt.Errorf("rename: wallet %s not found", walletID)
	}
	w.Name = name
	if _, err := e.index.Update(w); err != nil {
		return err
	}
	return nil
}

// DeleteWallet removes a wallet, its encrypted seed and its recorded
// accounts. The session is locked first when it holds this wallet's seed.
func (e *Engine) DeleteWallet(walletID string) error {
	if id, unlocked := e.sess.WalletID(); unlocked && id == walletID {
		e.sess.Lock()
	}

	removed, err := e.index.Delete(walletID)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("delete: wallet %s not found", walletID)
	}

	if err := e.vault.Delete(walletID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if err := e.index.DeleteAccounts(walletID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}

// SwitchWallet makes another wallet active. The previous wallet's seed does
// not carry across a switch, so the session locks.
func (e *Engine) SwitchWallet(walletID string) error {
	ok, err := e.index.SetActive(walletID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("switch: wallet %s not found", walletID)
	}
	e.sess.Lock()
	return nil
}

// Wallets lists the catalog.
func (e *Engine) Wallets() []walletindex.Wallet {
	return e.index.List()
}

// ActiveWallet returns the active wallet.
func (e *Engine) ActiveWallet() (walletindex.Wallet, error) {
	w, ok := e.index.Active()
	if !ok {
		return walletindex.Wallet{}, ErrNoActiveWallet
	}
	return w, nil
}

// Unlock decrypts the active wallet's seed into the session.
func (e *Engine) Unlock(password []byte) error {
	w, err := e.ActiveWallet()
	if err != nil {
		return err
	}
	return e.sess.Unlock(w.ID, password)
}

// Lock drops the session seed.
func (e *Engine) Lock() {
	e.sess.Lock()
}

// Subscribe registers a listener for wallet catalog changes.
func (e *Engine) Subscribe(fn walletindex.Listener) func() {
	return e.index.Subscribe(fn)
}

// Accounts lists the active wallet's derived accounts.
func (e *Engine) Accounts() ([]hdwallet.Account, error) {
	w, err := e.ActiveWallet()
	if err != nil {
		return nil, err
	}
	return e.index.Accounts(w.ID)
}

// AddAccount derives and records the next account for the active wallet.
// Requires an unlocked session.
func (e *Engine) AddAccount() (hdwallet.Account, error) {
	w, err := e.ActiveWallet()
	if err != nil {
		return hdwallet.Account{}, err
	}
	maxIndex, err := e.index.MaxAccountIndex(w.ID)
	if err != nil {
		return hdwallet.Account{}, err
	}
	next := uint32(maxIndex + 1)

	var account hdwallet.Account
	err = e.sess.WithSeed(func(seed []byte) error {
		var derr error
		account, derr = hdwallet.DeriveAccount(seed, w.ID, next)
		return derr
	})
	if err != nil {
		return hdwallet.Account{}, err
	}
	if err := e.index.AddAccounts(w.ID, []hdwallet.Account{account}); err != nil {
		return hdwallet.Account{}, err
	}
	return account, nil
}

// DiscoverAccounts gap-scans past the highest recorded index for accounts
// with on-chain activity and records what it finds. Requires an unlocked
// session and a configured indexer.
func (e *Engine) DiscoverAccounts(ctx context.Context) ([]hdwallet.Account, error) {
	if e.idx == nil {
		return nil, errors.New("discovery needs an indexer endpoint")
	}
	w, err := e.ActiveWallet()
	if err != nil {
		return nil, err
	}
	maxIndex, err := e.index.MaxAccountIndex(w.ID)
	if err != nil {
		return nil, err
	}

	var found []hdwallet.Account
	err = e.sess.WithSeed(func(seed []byte) error {
		var derr error
		found, derr = hdwallet.Discover(ctx, seed, w.ID, uint32(maxIndex+1),
			&indexerProbe{idx: e.idx}, hdwallet.DefaultDiscoveryConfig())
		return derr
	})
	if err != nil {
		return nil, err
	}

	if len(found) > 0 {
		if err := e.index.AddAccounts(w.ID, found); err != nil {
			return nil, err
		}
	}
	return found, nil
}

// indexerProbe answers activity questions from the indexer: an address is
// active when it holds a balance or has any transaction history.
type indexerProbe struct {
	idx *indexer.Client
}

func (p *indexerProbe) HasActivity(ctx context.Context, address string) (bool, error) {
	bal, err := p.idx.NativeBalance(ctx, address)
	if err != nil {
		return false, err
	}
	if bal.Sign() > 0 {
		return true, nil
	}
	txs, err := p.idx.NativeTxList(ctx, address)
	if err != nil {
		return false, err
	}
	return len(txs) > 0, nil
}

// CurrencyBySymbol resolves a supported currency.
func CurrencyBySymbol(symbol string) (currency.Currency, error) {
	for _, c := range currency.AlwaysShown() {
		if c.Symbol == symbol {
			return c, nil
		}
	}
	return currency.Currency{}, fmt.Errorf("%w: %s", ErrUnknownCurrency, symbol)
}

// account resolves a recorded account of the active wallet by index.
func (e *Engine) account(accountIndex uint32) (hdwallet.Account, error) {
	accounts, err := e.Accounts()
	if err != nil {
		return hdwallet.Account{}, err
	}
	for _, acct := range accounts {
		if acct.Index == accountIndex {
			return acct, nil
		}
	}
	return hdwallet.Account{}, fmt.Errorf("%w: index %d", ErrUnknownAccount, accountIndex)
}

// PrepareTransaction quotes gas for a prospective transfer and verifies it
// is affordable. The returned estimate expires after txn.EstimateTTL; the
// context lets a superseded prepare be cancelled.
func (e *Engine) PrepareTransaction(ctx context.Context, accountIndex uint32, symbol, to string, amount decimal.Decimal) (*txn.GasEstimate, error) {
	cur, err := CurrencyBySymbol(symbol)
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(to) {
		return nil, fmt.Errorf("invalid recipient address %q", to)
	}
	acct, err := e.account(accountIndex)
	if err != nil {
		return nil, err
	}
	from := common.HexToAddress(acct.Address)

	est, err := txn.Estimate(ctx, e.gw, from, cur, common.HexToAddress(to), amount)
	if err != nil {
		return nil, err
	}

	nativeBalance, err := e.gw.BalanceAt(ctx, from)
	if err != nil {
		return nil, err
	}
	var tokenBalance *big.Int
	if !cur.IsNative() {
		tokenBalance, err = e.gw.TokenBalance(ctx, from, common.HexToAddress(cur.ContractAddress))
		if err != nil {
			return nil, err
		}
	}
	amountMinor := currency.ToMinorUnits(amount, cur.Decimals)
	if err := txn.CheckFunds(cur, nativeBalance, tokenBalance, amountMinor, est.Fee); err != nil {
		return nil, err
	}
	return est, nil
}

// SendTransaction signs and broadcasts a transfer using a fresh gas
// estimate from PrepareTransaction. Requires an unlocked session.
func (e *Engine) SendTransaction(ctx context.Context, accountIndex uint32, symbol, to string, amount decimal.Decimal, est *txn.GasEstimate) (common.Hash, error) {
	cur, err := CurrencyBySymbol(symbol)
	if err != nil {
		return common.Hash{}, err
	}
	if !common.IsHexAddress(to) {
		return common.Hash{}, fmt.Errorf("invalid recipient address %q", to)
	}
	acct, err := e.account(accountIndex)
	if err != nil {
		return common.Hash{}, err
	}

	return e.pipeline.Send(ctx, txn.Request{
		From:     common.HexToAddress(acct.Address),
		Path:     acct.Path,
		Currency: cur,
		To:       common.HexToAddress(to),
		Amount:   amount,
		Estimate: est,
	})
}

// Balances lists the active wallet's positions with USD enrichment. Fetch
// problems degrade to cached values and surface as notices on the result.
func (e *Engine) Balances(ctx context.Context) (resolver.BalanceSet, error) {
	w, err := e.ActiveWallet()
	if err != nil {
		return resolver.BalanceSet{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, RefreshTimeout)
	defer cancel()
	return e.res.Balances(ctx, w.Address, nil), nil
}

// History returns the active wallet's merged transfer history, newest
// first, at most limit entries.
func (e *Engine) History(ctx context.Context, limit int) (resolver.HistoryResult, error) {
	w, err := e.ActiveWallet()
	if err != nil {
		return resolver.HistoryResult{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, RefreshTimeout)
	defer cancel()
	return e.res.History(ctx, w.Address, limit), nil
}
