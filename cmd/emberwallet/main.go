// emberwallet is a command-line non-custodial wallet for EVM networks.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/term"

	"github.com/emberlabs/emberwallet/config"
	"github.com/emberlabs/emberwallet/internal/chain"
	"github.com/emberlabs/emberwallet/internal/engine"
	"github.com/emberlabs/emberwallet/internal/indexer"
	"github.com/emberlabs/emberwallet/internal/log"
	"github.com/emberlabs/emberwallet/internal/pricing"
	"github.com/emberlabs/emberwallet/internal/resolver"
	"github.com/emberlabs/emberwallet/internal/session"
	"github.com/emberlabs/emberwallet/internal/storage"
	"github.com/emberlabs/emberwallet/internal/txn"
	"github.com/emberlabs/emberwallet/internal/vault"
	"github.com/emberlabs/emberwallet/internal/walletindex"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	// Parse global flags that appear before the subcommand.
	network := ""
	dataDir := ""
	confPath := ""

	args := os.Args[1:]
	for len(args) > 0 {
		switch {
		case args[0] == "--network" && len(args) > 1:
			network = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--network="):
			network = args[0][len("--network="):]
			args = args[1:]
		case args[0] == "--datadir" && len(args) > 1:
			dataDir = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--datadir="):
			dataDir = args[0][len("--datadir="):]
			args = args[1:]
		case args[0] == "--config" && len(args) > 1:
			confPath = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--config="):
			confPath = args[0][len("--config="):]
			args = args[1:]
		default:
			goto dispatch
		}
	}

dispatch:
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}
	cmd := args[0]
	cmdArgs := args[1:]

	if cmd == "help" || cmd == "--help" || cmd == "-h" {
		usage()
		return
	}

	cfg, err := loadConfig(network, dataDir, confPath)
	if err != nil {
		fatal("load configuration: %v", err)
	}
	if err := log.Init(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File); err != nil {
		fatal("initialize logging: %v", err)
	}

	app, cleanup, err := buildApp(cfg)
	if err != nil {
		fatal("%v", err)
	}
	defer cleanup()

	switch cmd {
	case "create":
		cmdCreate(app, cmdArgs)
	case "import":
		cmdImport(app, cmdArgs)
	case "list":
		cmdList(app)
	case "switch":
		cmdSwitch(app, cmdArgs)
	case "rename":
		cmdRename(app, cmdArgs)
	case "delete":
		cmdDelete(app, cmdArgs)
	case "accounts":
		cmdAccounts(app)
	case "discover":
		cmdDiscover(app)
	case "balance":
		cmdBalance(app)
	case "history":
		cmdHistory(app, cmdArgs)
	case "send":
		cmdSend(app, cmdArgs)
	case "fingerprint":
		cmdFingerprint(app)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func loadConfig(network, dataDir, confPath string) (*config.Config, error) {
	cfg := config.Default(config.NetworkType(network))
	if confPath == "" {
		confPath = filepath.Join(cfg.DataDir, "wallet.conf")
	}
	values, err := config.LoadFile(confPath)
	if err != nil {
		return nil, err
	}
	if err := config.ApplyFileConfig(cfg, values); err != nil {
		return nil, err
	}
	// Command line beats the file.
	if network != "" {
		cfg.Network = config.NetworkType(network)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

// buildApp is the composition root: every subsystem is constructed here and
// handed to the engine explicitly.
func buildApp(cfg *config.Config) (*engine.Engine, func(), error) {
	db, err := storage.NewBadger(cfg.DatabaseDir())
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	cleanup := func() {
		if err := db.Close(); err != nil {
			log.Storage.Warn().Err(err).Msg("closing database failed")
		}
	}

	vaultStore := vault.NewStore(storage.NewPrefixDB(db, []byte("vault/")))
	index, err := walletindex.New(storage.NewPrefixDB(db, []byte("index/")))
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	idxClient := indexer.New(cfg.Indexer.Endpoint, cfg.Indexer.APIKey)

	prices := pricing.NewChain(pricing.Credentials{
		CoinMarketCapKey: cfg.Prices.CoinMarketCapKey,
		CryptoCompareKey: cfg.Prices.CryptoCompareKey,
		CoinpaprikaKey:   cfg.Prices.CoinpaprikaKey,
	})
	res := resolver.New(idxClient, prices,
		storage.NewPrefixDB(db, []byte("resolver/")), string(cfg.Network))

	eng, err := engine.New(engine.Deps{
		DB:          db,
		Vault:       vaultStore,
		Index:       index,
		Session:     session.New(vaultStore, time.Duration(cfg.Vault.AutoLockSeconds)*time.Second),
		Gateway:     chain.NewEthRPC(cfg.Chain.Endpoint, 10*time.Second),
		Resolver:    res,
		Indexer:     idxClient,
		ChainID:     big.NewInt(cfg.Chain.ChainID),
		Network:     string(cfg.Network),
		VaultParams: vault.DefaultParams(),
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return eng, cleanup, nil
}

func cmdCreate(app *engine.Engine, args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	name := fs.String("name", "wallet", "display name for the new wallet")
	fs.Parse(args)

	password := mustPassword("Choose a password: ")
	confirm := mustPassword("Repeat password: ")
	if string(password) != string(confirm) {
		fatal("passwords do not match")
	}

	w, mnemonic, err := app.CreateWallet(*name, password)
	if err != nil {
		fatal("create wallet: %v", err)
	}

	fmt.Printf("Created wallet %s (%s)\n", w.Name, w.ID)
	fmt.Printf("Address: %s\n\n", w.Address)
	fmt.Println("Recovery phrase (write it down, it is shown only once):")
	fmt.Printf("\n    %s\n\n", mnemonic)
}

func cmdImport(app *engine.Engine, args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	name := fs.String("name", "imported", "display name for the wallet")
	fs.Parse(args)

	fmt.Fprint(os.Stderr, "Enter recovery phrase: ")
	mnemonic, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		fatal("read recovery phrase: %v", err)
	}

	password := mustPassword("Choose a password: ")
	w, err := app.ImportWallet(*name, strings.TrimSpace(string(mnemonic)), password)
	if errors.Is(err, walletindex.ErrDuplicateWallet) {
		fmt.Printf("This seed is already imported as %s (%s); switched to it.\n", w.Name, w.ID)
		return
	}
	if err != nil {
		fatal("import wallet: %v", err)
	}
	fmt.Printf("Imported wallet %s (%s)\nAddress: %s\n", w.Name, w.ID, w.Address)
}

func cmdList(app *engine.Engine) {
	wallets := app.Wallets()
	if len(wallets) == 0 {
		fmt.Println("No wallets. Run 'emberwallet create' to make one.")
		return
	}
	active, _ := app.ActiveWallet()
	for _, w := range wallets {
		marker := " "
		if w.ID == active.ID {
			marker = "*"
		}
		fmt.Printf("%s %-20s %s  %s\n", marker, w.Name, w.ID, w.Address)
	}
}

func cmdSwitch(app *engine.Engine, args []string) {
	if len(args) != 1 {
		fatal("usage: emberwallet switch <wallet-id>")
	}
	if err := app.SwitchWallet(args[0]); err != nil {
		fatal("switch wallet: %v", err)
	}
	fmt.Println("Switched.")
}

func cmdRename(app *engine.Engine, args []string) {
	if len(args) != 2 {
		fatal("usage: emberwallet rename <wallet-id> <new-name>")
	}
	if err := app.RenameWallet(args[0], args[1]); err != nil {
		fatal("rename wallet: %v", err)
	}
	fmt.Println("Renamed.")
}

func cmdDelete(app *engine.Engine, args []string) {
	if len(args) != 1 {
		fatal("usage: emberwallet delete <wallet-id>")
	}
	fmt.Fprintf(os.Stderr, "Delete wallet %s? Its seed blob is removed from this device. [y/N] ", args[0])
	var answer string
	fmt.Scanln(&answer)
	if !strings.EqualFold(answer, "y") {
		fmt.Println("Aborted.")
		return
	}
	if err := app.DeleteWallet(args[0]); err != nil {
		fatal("delete wallet: %v", err)
	}
	fmt.Println("Deleted.")
}

func cmdAccounts(app *engine.Engine) {
	accounts, err := app.Accounts()
	if err != nil {
		fatal("list accounts: %v", err)
	}
	for _, acct := range accounts {
		fmt.Printf("%3d  %s  %s\n", acct.Index, acct.Address, acct.Path)
	}
}

func cmdDiscover(app *engine.Engine) {
	unlock(app)
	defer app.Lock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	found, err := app.DiscoverAccounts(ctx)
	if err != nil {
		fatal("discover accounts: %v", err)
	}
	if len(found) == 0 {
		fmt.Println("No additional active accounts found.")
		return
	}
	for _, acct := range found {
		fmt.Printf("%3d  %s\n", acct.Index, acct.Address)
	}
}

func cmdBalance(app *engine.Engine) {
	set, err := app.Balances(context.Background())
	if err != nil {
		fatal("balances: %v", err)
	}
	for _, b := range set.Balances {
		fmt.Printf("%-6s %20s   $%s\n", b.Currency.Symbol, b.Amount.String(), b.USD.StringFixed(2))
	}
	for _, notice := range set.Notices {
		fmt.Fprintf(os.Stderr, "note: %s\n", notice)
	}
}

func cmdHistory(app *engine.Engine, args []string) {
	limit := 25
	if len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			fatal("usage: emberwallet history [limit]")
		}
		limit = n
	}

	res, err := app.History(context.Background(), limit)
	if err != nil {
		fatal("history: %v", err)
	}
	for _, e := range res.Entries {
		arrow := "<-"
		if e.Direction == resolver.DirectionOut {
			arrow = "->"
		}
		fmt.Printf("%s  %s %s %s %s  %s\n",
			e.Timestamp.Format("2006-01-02 15:04"), arrow, e.Amount.String(), e.Symbol, e.Counterparty, e.Hash)
	}
	for _, notice := range res.Notices {
		fmt.Fprintf(os.Stderr, "note: %s\n", notice)
	}
}

func cmdSend(app *engine.Engine, args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	symbol := fs.String("symbol", "ETH", "asset to send (ETH, USDT, USDC)")
	to := fs.String("to", "", "recipient address")
	amount := fs.String("amount", "", "amount in major units")
	account := fs.Uint("account", 0, "sending account index")
	fs.Parse(args)

	if *to == "" || *amount == "" {
		fatal("usage: emberwallet send --to <address> --amount <amount> [--symbol ETH] [--account 0]")
	}
	value, err := decimal.NewFromString(*amount)
	if err != nil {
		fatal("bad amount %q: %v", *amount, err)
	}

	unlock(app)
	defer app.Lock()

	ctx := context.Background()
	est, err := app.PrepareTransaction(ctx, uint32(*account), *symbol, *to, value)
	if err != nil {
		fatal("prepare transaction: %v", err)
	}

	fmt.Printf("Sending %s %s to %s\n", value.String(), *symbol, *to)
	fmt.Printf("Estimated fee: %s ETH (gas %d @ %s wei)\n", est.FeeDecimal().String(), est.GasLimit, est.GasPrice.String())
	fmt.Fprint(os.Stderr, "Confirm? [y/N] ")
	var answer string
	fmt.Scanln(&answer)
	if !strings.EqualFold(answer, "y") {
		fmt.Println("Aborted.")
		return
	}

	hash, err := app.SendTransaction(ctx, uint32(*account), *symbol, *to, value, est)
	if err != nil {
		if errors.Is(err, txn.ErrStaleQuote) {
			fatal("gas quote expired while waiting for confirmation, run send again")
		}
		fatal("send transaction: %v", err)
	}
	fmt.Printf("Broadcast: %s\n", hash.Hex())
}

func cmdFingerprint(app *engine.Engine) {
	w, err := app.ActiveWallet()
	if err != nil {
		fatal("%v", err)
	}
	fmt.Printf("%s  %s\n", w.Fingerprint, w.Name)
}

// unlock prompts for the active wallet's password and unlocks the session.
func unlock(app *engine.Engine) {
	password := mustPassword("Enter password: ")
	if err := app.Unlock(password); err != nil {
		fatal("unlock wallet: %v", err)
	}
}

func mustPassword(prompt string) []byte {
	password, err := readPassword(prompt)
	if err != nil {
		fatal("read password: %v", err)
	}
	return password
}

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return nil, err
	}
	return password, nil
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: emberwallet [global flags] <command> [flags]

Global flags:
  --network <net>     mainnet (default) or sepolia
  --datadir <path>    Data directory (default: ~/.emberwallet)
  --config <path>     Config file (default: <datadir>/wallet.conf)

Commands:
  create --name <name>            Create a wallet and show its recovery phrase
  import --name <name>            Import a wallet from a recovery phrase
  list                            List wallets (* marks the active one)
  switch <wallet-id>              Make another wallet active
  rename <wallet-id> <name>       Rename a wallet
  delete <wallet-id>              Remove a wallet from this device
  accounts                        List derived accounts of the active wallet
  discover                        Scan for active accounts past the known set
  balance                         Show balances with USD values
  history [limit]                 Show merged transfer history
  send --to <addr> --amount <amt> [--symbol ETH] [--account 0]
                                  Send a transfer
  fingerprint                     Show the active wallet's seed fingerprint
`)
}
