package txn

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/emberlabs/emberwallet/internal/chain"
	"github.com/emberlabs/emberwallet/internal/currency"
	"github.com/emberlabs/emberwallet/internal/hdwallet"
	"github.com/emberlabs/emberwallet/internal/session"
	"github.com/emberlabs/emberwallet/internal/storage"
	"github.com/emberlabs/emberwallet/internal/vault"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

var testChainID = big.NewInt(1)

// fakeGateway records calls and serves canned values.
type fakeGateway struct {
	mu             sync.Mutex
	nonce          uint64
	nonceErr       error
	gasPrice       *big.Int
	gasPriceErr    error
	gasLimit       uint64
	broadcastErr   error
	broadcastCalls int
	lastRaw        []byte
}

func (f *fakeGateway) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce, f.nonceErr
}

func (f *fakeGateway) GasPrice(context.Context) (*big.Int, error) {
	if f.gasPriceErr != nil {
		return nil, f.gasPriceErr
	}
	return f.gasPrice, nil
}

func (f *fakeGateway) EstimateGas(context.Context, chain.CallMsg) (uint64, error) {
	return f.gasLimit, nil
}

func (f *fakeGateway) SendRawTransaction(_ context.Context, raw []byte) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcastCalls++
	if f.broadcastErr != nil {
		return common.Hash{}, f.broadcastErr
	}
	f.lastRaw = append([]byte(nil), raw...)
	return common.HexToHash("0x01"), nil
}

func (f *fakeGateway) BalanceAt(context.Context, common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (f *fakeGateway) TokenBalance(context.Context, common.Address, common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}

func newUnlockedSession(t *testing.T) (*session.Session, common.Address) {
	t.Helper()
	seed, err := hdwallet.SeedFromMnemonic(testMnemonic, "")
	if err != nil {
		t.Fatalf("SeedFromMnemonic() error: %v", err)
	}
	store := vault.NewStore(storage.NewMemory())
	blob, err := vault.EncryptSeed(seed, []byte("pass"), vault.FastParams())
	if err != nil {
		t.Fatalf("EncryptSeed() error: %v", err)
	}
	if err := store.Put("w1", blob); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	sess := session.New(store, 0)
	if err := sess.Unlock("w1", []byte("pass")); err != nil {
		t.Fatalf("Unlock() error: %v", err)
	}

	acct, err := hdwallet.DeriveAccount(seed, "w1", 0)
	if err != nil {
		t.Fatalf("DeriveAccount() error: %v", err)
	}
	return sess, common.HexToAddress(acct.Address)
}

func freshEstimate() *GasEstimate {
	price := big.NewInt(1_000_000_000)
	return &GasEstimate{
		GasLimit:  21000,
		GasPrice:  price,
		Fee:       new(big.Int).Mul(big.NewInt(21000), price),
		FetchedAt: time.Now(),
	}
}

func TestEncodeTokenTransfer(t *testing.T) {
	to := common.HexToAddress("0x1111111111111111111111111111111111111111")
	data := EncodeTokenTransfer(to, big.NewInt(1_500_000))

	if len(data) != 68 {
		t.Fatalf("payload length = %d, want 68", len(data))
	}
	if !bytes.Equal(data[:4], []byte{0xa9, 0x05, 0x9c, 0xbb}) {
		t.Errorf("selector = %x, want a9059cbb", data[:4])
	}
	if !bytes.Equal(data[4:36], common.LeftPadBytes(to.Bytes(), 32)) {
		t.Error("recipient argument not left-padded to 32 bytes")
	}
	amount := new(big.Int).SetBytes(data[36:])
	if amount.Int64() != 1_500_000 {
		t.Errorf("amount argument = %s, want 1500000", amount)
	}
}

func TestTokenAmountScaling(t *testing.T) {
	// 1.5 with 6 decimals encodes as 1500000.
	got := currency.ToMinorUnits(decimal.RequireFromString("1.5"), 6)
	if got.Int64() != 1_500_000 {
		t.Errorf("scaled amount = %s, want 1500000", got)
	}

	// Sub-minor amounts truncate to zero, never round up.
	got = currency.ToMinorUnits(decimal.RequireFromString("0.0000001"), 6)
	if got.Sign() != 0 {
		t.Errorf("scaled dust = %s, want 0", got)
	}
}

func TestCheckFunds_Native(t *testing.T) {
	eth := func(s string) *big.Int {
		return currency.ToMinorUnits(decimal.RequireFromString(s), 18)
	}

	// balance 0.01, amount 0.009, fee 0.002: rejected.
	err := CheckFunds(currency.Native, eth("0.01"), nil, eth("0.009"), eth("0.002"))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("CheckFunds(amount+fee > balance) = %v, want ErrInsufficientFunds", err)
	}

	// fee 0.0005: accepted.
	if err := CheckFunds(currency.Native, eth("0.01"), nil, eth("0.009"), eth("0.0005")); err != nil {
		t.Errorf("CheckFunds(affordable) = %v, want nil", err)
	}
}

func TestCheckFunds_Token(t *testing.T) {
	usdt := currency.AlwaysShown()[1]

	// Fee exceeds the native balance.
	err := CheckFunds(usdt, big.NewInt(100), big.NewInt(5_000_000), big.NewInt(1_000_000), big.NewInt(200))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("CheckFunds(fee > native) = %v, want ErrInsufficientFunds", err)
	}

	// Amount exceeds the token balance.
	err = CheckFunds(usdt, big.NewInt(1_000_000), big.NewInt(500_000), big.NewInt(1_000_000), big.NewInt(100))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("CheckFunds(amount > token balance) = %v, want ErrInsufficientFunds", err)
	}

	if err := CheckFunds(usdt, big.NewInt(1_000_000), big.NewInt(5_000_000), big.NewInt(1_000_000), big.NewInt(100)); err != nil {
		t.Errorf("CheckFunds(affordable token send) = %v, want nil", err)
	}
}

func TestGasEstimate_Stale(t *testing.T) {
	est := freshEstimate()
	if est.Stale() {
		t.Error("fresh estimate reported stale")
	}
	est.FetchedAt = time.Now().Add(-EstimateTTL - time.Second)
	if !est.Stale() {
		t.Error("old estimate not reported stale")
	}
}

func TestSend_NativeTransfer(t *testing.T) {
	sess, from := newUnlockedSession(t)
	gw := &fakeGateway{nonce: 7, gasPrice: big.NewInt(2_000_000_000), gasLimit: 21000}
	p := NewPipeline(gw, sess, testChainID)

	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	hash, err := p.Send(context.Background(), Request{
		From:     from,
		Path:     "m/44'/60'/0'/0/0",
		Currency: currency.Native,
		To:       to,
		Amount:   decimal.RequireFromString("0.5"),
		Estimate: freshEstimate(),
	})
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if hash == (common.Hash{}) {
		t.Error("Send() returned zero hash")
	}

	// Decode what was broadcast and verify the signed contents.
	var tx types.Transaction
	if err := tx.UnmarshalBinary(gw.lastRaw); err != nil {
		t.Fatalf("broadcast bytes do not decode: %v", err)
	}
	if tx.Nonce() != 7 {
		t.Errorf("nonce = %d, want 7", tx.Nonce())
	}
	if *tx.To() != to {
		t.Errorf("to = %s, want %s", tx.To().Hex(), to.Hex())
	}
	want := currency.ToMinorUnits(decimal.RequireFromString("0.5"), 18)
	if tx.Value().Cmp(want) != 0 {
		t.Errorf("value = %s, want %s", tx.Value(), want)
	}
	if len(tx.Data()) != 0 {
		t.Error("native transfer should have an empty payload")
	}

	sender, err := types.Sender(types.NewEIP155Signer(testChainID), &tx)
	if err != nil {
		t.Fatalf("Sender() error: %v", err)
	}
	if sender != from {
		t.Errorf("recovered sender = %s, want %s", sender.Hex(), from.Hex())
	}
}

func TestSend_TokenTransfer(t *testing.T) {
	sess, from := newUnlockedSession(t)
	gw := &fakeGateway{nonce: 1, gasPrice: big.NewInt(1_000_000_000), gasLimit: 60000}
	p := NewPipeline(gw, sess, testChainID)

	usdt := currency.AlwaysShown()[1]
	to := common.HexToAddress("0x3333333333333333333333333333333333333333")
	_, err := p.Send(context.Background(), Request{
		From:     from,
		Path:     "m/44'/60'/0'/0/0",
		Currency: usdt,
		To:       to,
		Amount:   decimal.RequireFromString("1.5"),
		Estimate: freshEstimate(),
	})
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	var tx types.Transaction
	if err := tx.UnmarshalBinary(gw.lastRaw); err != nil {
		t.Fatalf("broadcast bytes do not decode: %v", err)
	}
	// The wire recipient is the token contract, value is zero.
	if *tx.To() != common.HexToAddress(usdt.ContractAddress) {
		t.Errorf("to = %s, want token contract", tx.To().Hex())
	}
	if tx.Value().Sign() != 0 {
		t.Errorf("value = %s, want 0", tx.Value())
	}
	wantData := EncodeTokenTransfer(to, big.NewInt(1_500_000))
	if !bytes.Equal(tx.Data(), wantData) {
		t.Error("payload does not match ABI-encoded transfer(to, amount)")
	}
}

func TestSend_GasPriceFailureAbortsBeforeBroadcast(t *testing.T) {
	sess, from := newUnlockedSession(t)
	gw := &fakeGateway{nonce: 1, gasPriceErr: chain.ErrTransportFailure, gasLimit: 21000}
	p := NewPipeline(gw, sess, testChainID)

	_, err := p.Send(context.Background(), Request{
		From:     from,
		Path:     "m/44'/60'/0'/0/0",
		Currency: currency.Native,
		To:       common.HexToAddress("0x04"),
		Amount:   decimal.RequireFromString("1"),
		Estimate: freshEstimate(),
	})

	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Stage != StageFetch {
		t.Fatalf("Send() = %v, want PipelineError at fetch stage", err)
	}
	if gw.broadcastCalls != 0 {
		t.Errorf("broadcast called %d times after fetch failure, want 0", gw.broadcastCalls)
	}
}

func TestSend_NonPositiveAmountRejected(t *testing.T) {
	sess, from := newUnlockedSession(t)
	usdt := currency.AlwaysShown()[1]

	// big.Int.Bytes encodes an absolute value, so a negative token amount
	// that slipped through would sign as a positive transfer.
	for _, amount := range []string{"-1.5", "0"} {
		for _, cur := range []currency.Currency{currency.Native, usdt} {
			gw := &fakeGateway{nonce: 1, gasPrice: big.NewInt(1), gasLimit: 60000}
			p := NewPipeline(gw, sess, testChainID)

			_, err := p.Send(context.Background(), Request{
				From:     from,
				Path:     "m/44'/60'/0'/0/0",
				Currency: cur,
				To:       common.HexToAddress("0x04"),
				Amount:   decimal.RequireFromString(amount),
				Estimate: freshEstimate(),
			})
			var perr *PipelineError
			if !errors.As(err, &perr) || perr.Stage != StageBuild {
				t.Errorf("Send(%s %s) = %v, want PipelineError at build stage", amount, cur.Symbol, err)
			}
			if gw.broadcastCalls != 0 {
				t.Errorf("broadcast ran for a %s %s send", amount, cur.Symbol)
			}
		}
	}
}

func TestEstimate_NonPositiveAmountRejected(t *testing.T) {
	gw := &fakeGateway{gasPrice: big.NewInt(1), gasLimit: 60000}
	usdt := currency.AlwaysShown()[1]

	_, err := Estimate(context.Background(), gw, common.HexToAddress("0x01"), usdt,
		common.HexToAddress("0x02"), decimal.RequireFromString("-1.5"))
	if err == nil {
		t.Fatal("Estimate(negative amount) = nil error")
	}
}

func TestSend_StaleEstimateRejected(t *testing.T) {
	sess, from := newUnlockedSession(t)
	gw := &fakeGateway{nonce: 1, gasPrice: big.NewInt(1), gasLimit: 21000}
	p := NewPipeline(gw, sess, testChainID)

	stale := freshEstimate()
	stale.FetchedAt = time.Now().Add(-time.Minute)

	_, err := p.Send(context.Background(), Request{
		From:     from,
		Path:     "m/44'/60'/0'/0/0",
		Currency: currency.Native,
		To:       common.HexToAddress("0x04"),
		Amount:   decimal.RequireFromString("1"),
		Estimate: stale,
	})
	if !errors.Is(err, ErrStaleQuote) {
		t.Errorf("Send(stale estimate) = %v, want ErrStaleQuote", err)
	}
	if gw.broadcastCalls != 0 {
		t.Error("broadcast must not run for a stale quote")
	}
}

func TestSend_LockedSessionFailsAtSign(t *testing.T) {
	sess, from := newUnlockedSession(t)
	sess.Lock()
	gw := &fakeGateway{nonce: 1, gasPrice: big.NewInt(1), gasLimit: 21000}
	p := NewPipeline(gw, sess, testChainID)

	_, err := p.Send(context.Background(), Request{
		From:     from,
		Path:     "m/44'/60'/0'/0/0",
		Currency: currency.Native,
		To:       common.HexToAddress("0x04"),
		Amount:   decimal.RequireFromString("1"),
		Estimate: freshEstimate(),
	})
	if !errors.Is(err, session.ErrLocked) {
		t.Errorf("Send(locked) = %v, want ErrLocked", err)
	}
	if gw.broadcastCalls != 0 {
		t.Error("broadcast must not run when signing fails")
	}
}

func TestSend_BroadcastRejectionSurfacesMessage(t *testing.T) {
	sess, from := newUnlockedSession(t)
	gw := &fakeGateway{
		nonce:        1,
		gasPrice:     big.NewInt(1_000_000_000),
		gasLimit:     21000,
		broadcastErr: &chain.RejectionError{Message: "nonce too low"},
	}
	p := NewPipeline(gw, sess, testChainID)

	_, err := p.Send(context.Background(), Request{
		From:     from,
		Path:     "m/44'/60'/0'/0/0",
		Currency: currency.Native,
		To:       common.HexToAddress("0x04"),
		Amount:   decimal.RequireFromString("1"),
		Estimate: freshEstimate(),
	})
	if !errors.Is(err, chain.ErrTransactionRejected) {
		t.Fatalf("Send() = %v, want ErrTransactionRejected", err)
	}
	var rej *chain.RejectionError
	if !errors.As(err, &rej) || rej.Message != "nonce too low" {
		t.Errorf("provider message lost: %v", err)
	}
}
