package engine

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/emberlabs/emberwallet/internal/chain"
	"github.com/emberlabs/emberwallet/internal/hdwallet"
	"github.com/emberlabs/emberwallet/internal/indexer"
	"github.com/emberlabs/emberwallet/internal/resolver"
	"github.com/emberlabs/emberwallet/internal/session"
	"github.com/emberlabs/emberwallet/internal/storage"
	"github.com/emberlabs/emberwallet/internal/txn"
	"github.com/emberlabs/emberwallet/internal/vault"
	"github.com/emberlabs/emberwallet/internal/walletindex"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

// fakeGateway serves canned chain answers for engine tests.
type fakeGateway struct {
	nonce          uint64
	gasPrice       *big.Int
	gasLimit       uint64
	nativeBalance  *big.Int
	tokenBalance   *big.Int
	broadcastCalls int
}

func (f *fakeGateway) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeGateway) GasPrice(context.Context) (*big.Int, error) {
	return f.gasPrice, nil
}

func (f *fakeGateway) EstimateGas(context.Context, chain.CallMsg) (uint64, error) {
	return f.gasLimit, nil
}

func (f *fakeGateway) SendRawTransaction(context.Context, []byte) (common.Hash, error) {
	f.broadcastCalls++
	return common.HexToHash("0x01"), nil
}

func (f *fakeGateway) BalanceAt(context.Context, common.Address) (*big.Int, error) {
	return f.nativeBalance, nil
}

func (f *fakeGateway) TokenBalance(context.Context, common.Address, common.Address) (*big.Int, error) {
	return f.tokenBalance, nil
}

type stubPrices struct{}

func (stubPrices) QuoteUSD(context.Context, string) decimal.Decimal { return decimal.Zero }

func newTestEngine(t *testing.T, gw chain.Gateway) *Engine {
	t.Helper()
	db := storage.NewMemory()
	vaultStore := vault.NewStore(storage.NewPrefixDB(db, []byte("vault/")))
	index, err := walletindex.New(storage.NewPrefixDB(db, []byte("index/")))
	if err != nil {
		t.Fatalf("walletindex.New() error: %v", err)
	}
	if gw == nil {
		gw = &fakeGateway{gasPrice: big.NewInt(1), gasLimit: 21000, nativeBalance: big.NewInt(0)}
	}
	res := resolver.New(indexer.New("http://127.0.0.1:0", ""), stubPrices{},
		storage.NewPrefixDB(db, []byte("resolver/")), "testnet")

	e, err := New(Deps{
		DB:          db,
		Vault:       vaultStore,
		Index:       index,
		Session:     session.New(vaultStore, 0),
		Gateway:     gw,
		Resolver:    res,
		ChainID:     big.NewInt(1),
		Network:     "testnet",
		VaultParams: vault.FastParams(),
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return e
}

func TestCreateWallet(t *testing.T) {
	e := newTestEngine(t, nil)

	w, mnemonic, err := e.CreateWallet("main", []byte("pw"))
	if err != nil {
		t.Fatalf("CreateWallet() error: %v", err)
	}
	if words := strings.Fields(mnemonic); len(words) != 12 {
		t.Errorf("mnemonic word count = %d, want 12", len(words))
	}
	if w.ID == "" || w.Address == "" || w.Fingerprint == "" {
		t.Errorf("wallet fields incomplete: %+v", w)
	}

	active, err := e.ActiveWallet()
	if err != nil || active.ID != w.ID {
		t.Errorf("first wallet must become active, got %+v, %v", active, err)
	}

	has, err := e.vault.Has(w.ID)
	if err != nil || !has {
		t.Errorf("vault blob missing for new wallet: %v", err)
	}

	accounts, err := e.Accounts()
	if err != nil || len(accounts) != 1 || accounts[0].Index != 0 {
		t.Errorf("default account not recorded: %+v, %v", accounts, err)
	}
	if accounts[0].Address != w.Address {
		t.Errorf("wallet address %s does not match account 0 address %s", w.Address, accounts[0].Address)
	}

	if err := e.Unlock([]byte("pw")); err != nil {
		t.Errorf("Unlock() with creation password failed: %v", err)
	}
}

func TestImportWallet_KnownVector(t *testing.T) {
	e := newTestEngine(t, nil)

	w, err := e.ImportWallet("imported", testMnemonic, []byte("pw"))
	if err != nil {
		t.Fatalf("ImportWallet() error: %v", err)
	}
	if !strings.EqualFold(w.Address, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94") {
		t.Errorf("address = %s, want the BIP-44 test vector address", w.Address)
	}
	if !w.Imported {
		t.Error("imported flag not set")
	}
}

func TestImportWallet_DuplicateRedirects(t *testing.T) {
	e := newTestEngine(t, nil)

	first, err := e.ImportWallet("one", testMnemonic, []byte("pw"))
	if err != nil {
		t.Fatalf("first import error: %v", err)
	}
	// Make another wallet active so the redirect is observable.
	if _, _, err := e.CreateWallet("two", []byte("pw")); err != nil {
		t.Fatalf("CreateWallet() error: %v", err)
	}
	if err := e.SwitchWallet(e.Wallets()[1].ID); err != nil {
		t.Fatalf("SwitchWallet() error: %v", err)
	}

	existing, err := e.ImportWallet("again", testMnemonic, []byte("pw"))
	if !errors.Is(err, walletindex.ErrDuplicateWallet) {
		t.Fatalf("second import = %v, want ErrDuplicateWallet", err)
	}
	if existing.ID != first.ID {
		t.Errorf("redirect returned %s, want existing wallet %s", existing.ID, first.ID)
	}

	active, _ := e.ActiveWallet()
	if active.ID != first.ID {
		t.Errorf("active = %s, want redirect to %s", active.ID, first.ID)
	}
	if len(e.Wallets()) != 2 {
		t.Errorf("wallet count = %d, want 2 (no duplicate entry)", len(e.Wallets()))
	}

	// The rejected wallet's blob must not linger.
	for _, w := range e.Wallets() {
		if w.Name == "again" {
			t.Error("duplicate wallet entry was catalogued")
		}
	}
}

func TestDeleteWallet_CleansUp(t *testing.T) {
	e := newTestEngine(t, nil)

	w, _, err := e.CreateWallet("one", []byte("pw"))
	if err != nil {
		t.Fatalf("CreateWallet() error: %v", err)
	}
	if _, _, err := e.CreateWallet("two", []byte("pw")); err != nil {
		t.Fatalf("CreateWallet() error: %v", err)
	}

	if err := e.Unlock([]byte("pw")); err != nil {
		t.Fatalf("Unlock() error: %v", err)
	}
	if err := e.DeleteWallet(w.ID); err != nil {
		t.Fatalf("DeleteWallet() error: %v", err)
	}

	if e.sess.Unlocked() {
		t.Error("session still unlocked after deleting the unlocked wallet")
	}
	if has, _ := e.vault.Has(w.ID); has {
		t.Error("vault blob survived wallet deletion")
	}
	if accounts, _ := e.index.Accounts(w.ID); len(accounts) != 0 {
		t.Error("accounts survived wallet deletion")
	}
	if active, err := e.ActiveWallet(); err != nil || active.Name != "two" {
		t.Errorf("active after delete = %+v, %v, want wallet two", active, err)
	}
}

func TestSwitchWallet_LocksSession(t *testing.T) {
	e := newTestEngine(t, nil)

	if _, _, err := e.CreateWallet("one", []byte("pw")); err != nil {
		t.Fatalf("CreateWallet() error: %v", err)
	}
	two, _, err := e.CreateWallet("two", []byte("pw"))
	if err != nil {
		t.Fatalf("CreateWallet() error: %v", err)
	}

	if err := e.Unlock([]byte("pw")); err != nil {
		t.Fatalf("Unlock() error: %v", err)
	}
	if err := e.SwitchWallet(two.ID); err != nil {
		t.Fatalf("SwitchWallet() error: %v", err)
	}
	if e.sess.Unlocked() {
		t.Error("session must lock on wallet switch")
	}
}

func TestRenameWallet(t *testing.T) {
	e := newTestEngine(t, nil)
	w, _, err := e.CreateWallet("old", []byte("pw"))
	if err != nil {
		t.Fatalf("CreateWallet() error: %v", err)
	}
	if err := e.RenameWallet(w.ID, "new"); err != nil {
		t.Fatalf("RenameWallet() error: %v", err)
	}
	got, _ := e.index.Get(w.ID)
	if got.Name != "new" {
		t.Errorf("name = %s, want new", got.Name)
	}
	if err := e.RenameWallet("missing", "x"); err == nil {
		t.Error("renaming an unknown wallet must fail")
	}
}

func TestAddAccount(t *testing.T) {
	e := newTestEngine(t, nil)
	if _, err := e.ImportWallet("w", testMnemonic, []byte("pw")); err != nil {
		t.Fatalf("ImportWallet() error: %v", err)
	}

	if _, err := e.AddAccount(); !errors.Is(err, session.ErrLocked) {
		t.Fatalf("AddAccount() while locked = %v, want ErrLocked", err)
	}

	if err := e.Unlock([]byte("pw")); err != nil {
		t.Fatalf("Unlock() error: %v", err)
	}
	acct, err := e.AddAccount()
	if err != nil {
		t.Fatalf("AddAccount() error: %v", err)
	}
	if acct.Index != 1 {
		t.Errorf("index = %d, want 1", acct.Index)
	}

	// Derivation must match a direct derivation at the same index.
	seed, _ := hdwallet.SeedFromMnemonic(testMnemonic, "")
	want, _ := hdwallet.DeriveAccount(seed, acct.WalletID, 1)
	if acct.Address != want.Address {
		t.Errorf("address = %s, want %s", acct.Address, want.Address)
	}
}

func TestPrepareAndSendTransaction(t *testing.T) {
	gw := &fakeGateway{
		nonce:         3,
		gasPrice:      big.NewInt(1_000_000_000),
		gasLimit:      21000,
		nativeBalance: big.NewInt(0).Mul(big.NewInt(10), big.NewInt(1e18)),
	}
	e := newTestEngine(t, gw)
	if _, err := e.ImportWallet("w", testMnemonic, []byte("pw")); err != nil {
		t.Fatalf("ImportWallet() error: %v", err)
	}
	if err := e.Unlock([]byte("pw")); err != nil {
		t.Fatalf("Unlock() error: %v", err)
	}

	est, err := e.PrepareTransaction(context.Background(), 0, "ETH",
		"0x2222222222222222222222222222222222222222", decimal.RequireFromString("1"))
	if err != nil {
		t.Fatalf("PrepareTransaction() error: %v", err)
	}
	if est.GasLimit != 21000 {
		t.Errorf("gas limit = %d, want 21000", est.GasLimit)
	}

	hash, err := e.SendTransaction(context.Background(), 0, "ETH",
		"0x2222222222222222222222222222222222222222", decimal.RequireFromString("1"), est)
	if err != nil {
		t.Fatalf("SendTransaction() error: %v", err)
	}
	if hash == (common.Hash{}) || gw.broadcastCalls != 1 {
		t.Errorf("broadcast calls = %d, hash = %s", gw.broadcastCalls, hash.Hex())
	}
}

func TestPrepareTransaction_InsufficientFunds(t *testing.T) {
	gw := &fakeGateway{
		gasPrice:      big.NewInt(1_000_000_000),
		gasLimit:      21000,
		nativeBalance: big.NewInt(100), // dust
	}
	e := newTestEngine(t, gw)
	if _, err := e.ImportWallet("w", testMnemonic, []byte("pw")); err != nil {
		t.Fatalf("ImportWallet() error: %v", err)
	}

	_, err := e.PrepareTransaction(context.Background(), 0, "ETH",
		"0x2222222222222222222222222222222222222222", decimal.RequireFromString("1"))
	if !errors.Is(err, txn.ErrInsufficientFunds) {
		t.Errorf("PrepareTransaction() = %v, want ErrInsufficientFunds", err)
	}
}

func TestPrepareTransaction_Validation(t *testing.T) {
	e := newTestEngine(t, nil)
	if _, err := e.ImportWallet("w", testMnemonic, []byte("pw")); err != nil {
		t.Fatalf("ImportWallet() error: %v", err)
	}

	if _, err := e.PrepareTransaction(context.Background(), 0, "DOGE", "0x04", decimal.New(1, 0)); !errors.Is(err, ErrUnknownCurrency) {
		t.Errorf("unknown symbol = %v, want ErrUnknownCurrency", err)
	}
	if _, err := e.PrepareTransaction(context.Background(), 0, "ETH", "not-an-address", decimal.New(1, 0)); err == nil {
		t.Error("invalid recipient accepted")
	}
	if _, err := e.PrepareTransaction(context.Background(), 9, "ETH",
		"0x2222222222222222222222222222222222222222", decimal.New(1, 0)); !errors.Is(err, ErrUnknownAccount) {
		t.Errorf("unknown account = %v, want ErrUnknownAccount", err)
	}
}

func TestPrepareTransaction_NegativeAmountRejected(t *testing.T) {
	gw := &fakeGateway{
		gasPrice:      big.NewInt(1_000_000_000),
		gasLimit:      60000,
		nativeBalance: big.NewInt(0),
		tokenBalance:  big.NewInt(0),
	}
	e := newTestEngine(t, gw)
	if _, err := e.ImportWallet("w", testMnemonic, []byte("pw")); err != nil {
		t.Fatalf("ImportWallet() error: %v", err)
	}

	// A negative token amount must never reach the funds check: it would
	// pass against any balance and then encode as a positive transfer.
	for _, symbol := range []string{"ETH", "USDT"} {
		_, err := e.PrepareTransaction(context.Background(), 0, symbol,
			"0x2222222222222222222222222222222222222222", decimal.RequireFromString("-1.5"))
		if err == nil {
			t.Errorf("PrepareTransaction(-1.5 %s) = nil error", symbol)
		}
	}
	if gw.broadcastCalls != 0 {
		t.Error("broadcast must never run from PrepareTransaction")
	}
}

func TestNoActiveWallet(t *testing.T) {
	e := newTestEngine(t, nil)

	if _, err := e.ActiveWallet(); !errors.Is(err, ErrNoActiveWallet) {
		t.Errorf("ActiveWallet() = %v, want ErrNoActiveWallet", err)
	}
	if _, err := e.Balances(context.Background()); !errors.Is(err, ErrNoActiveWallet) {
		t.Errorf("Balances() = %v, want ErrNoActiveWallet", err)
	}
	if _, err := e.History(context.Background(), 10); !errors.Is(err, ErrNoActiveWallet) {
		t.Errorf("History() = %v, want ErrNoActiveWallet", err)
	}
	if err := e.Unlock([]byte("pw")); !errors.Is(err, ErrNoActiveWallet) {
		t.Errorf("Unlock() = %v, want ErrNoActiveWallet", err)
	}
}

func TestSubscribe_ForwardsIndexEvents(t *testing.T) {
	e := newTestEngine(t, nil)

	var events []walletindex.Event
	unsub := e.Subscribe(func(ev walletindex.Event) { events = append(events, ev) })
	defer unsub()

	w, _, err := e.CreateWallet("w", []byte("pw"))
	if err != nil {
		t.Fatalf("CreateWallet() error: %v", err)
	}
	if len(events) == 0 || events[0].Type != walletindex.EventAdded || events[0].WalletID != w.ID {
		t.Errorf("events = %+v, want added event first", events)
	}
}
