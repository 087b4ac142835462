// klingwallet-cli is a command-line client for a klingwalletd engine.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/Klingon-tech/klingwallet/internal/engine"
	"github.com/Klingon-tech/klingwallet/internal/rpcclient"
	"github.com/Klingon-tech/klingwallet/internal/txbuilder"
	"github.com/Klingon-tech/klingwallet/pkg/types"
)

// sendTimeout covers sends that wait for an approval receipt first.
const sendTimeout = 10 * time.Minute

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	// Parse global flags that appear before the subcommand.
	rpcURL := ""
	network := "mainnet"

	args := os.Args[1:]
	for len(args) > 0 {
		switch {
		case args[0] == "--rpc" && len(args) > 1:
			rpcURL = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--rpc="):
			rpcURL = args[0][len("--rpc="):]
			args = args[1:]
		case args[0] == "--network" && len(args) > 1:
			network = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--network="):
			network = args[0][len("--network="):]
			args = args[1:]
		case args[0] == "--testnet":
			network = "testnet"
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
	if rpcURL == "" {
		rpcURL = defaultRPCURL(network)
	}

	client := rpcclient.New(rpcURL)
	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "chains":
		cmdChains(client, cmdArgs)
	case "wallet":
		cmdWallet(client, cmdArgs)
	case "fee":
		cmdFee(client, cmdArgs)
	case "gas":
		cmdGas(client, cmdArgs)
	case "send":
		cmdSend(rpcclient.NewWithTimeout(rpcURL, sendTimeout), cmdArgs)
	case "approve":
		cmdApprove(rpcclient.NewWithTimeout(rpcURL, sendTimeout), cmdArgs)
	case "sendraw":
		cmdSendRaw(client, cmdArgs)
	case "history":
		cmdHistory(client, cmdArgs)
	case "price":
		cmdPrice(client, cmdArgs)
	case "portfolio":
		cmdPortfolio(client, cmdArgs)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: klingwallet-cli [global flags] <command> [flags]

Global flags:
  --rpc <url>         RPC endpoint (default: http://127.0.0.1:8645, testnet :8745)
  --network <net>     mainnet (default) or testnet
  --testnet           Shorthand for --network testnet

Commands:
  chains [--check]                List enabled chains, tokens and node health

  wallet create --family <bitcoin|evm> [--label <l>] [--words 12|24]
                                  Generate a mnemonic and import it
  wallet import --family <f> [--label <l>] [--key]
                                  Import a mnemonic (or private key) read from stdin
  wallet list [--family <f>]      List wallets with stored balances
  wallet show --wallet <id> [--refresh]
                                  Show balances (cached unless --refresh)
  wallet rename --wallet <id> --label <l>
  wallet export --wallet <id> [--kind mnemonic|private_key]
                                  Print a wallet's secret
  wallet delete --wallet <id> --yes
                                  Delete a wallet and its secret

  fee --chain <c> [--tier slow|avg|fast]
                                  Show fee tiers
  gas --chain <c> --to <addr> [--from <a>] [--asset <SYM>] [--amount <n>] [--data 0x..]
                                  Estimate gas for an EVM transfer or call
  send --wallet <id> --to <addr> --amount <n> [--chain <c>] [--asset <SYM>]
       [--all] [--tier t] [--fee-rate sat/vB] [--gas-price wei] [--gas-limit n]
       [--spender <addr> --data 0x..]
                                  Send an asset
  approve --wallet <id> --chain <c> --token <SYM> --spender <addr> (--amount <n> | --max)
                                  Set an ERC-20 allowance
  sendraw --wallet <id> --chain <c> --raw <0xhex>
                                  Broadcast a pre-signed transaction

  history fetch (--wallet <id> | --address <a>) [--chain <c>]
                                  Pull history from explorers
  history list [--wallet <id>] [--family <f>] [--limit n] [--offset n]
                                  List recorded transactions
  history refresh --wallet <id>   Re-check pending transactions

  price <SYM> [SYM...]            Show USD prices
  portfolio [--family <f>] [--refresh] [--recent n]
                                  Show totals, assets and recent transactions
`)
}

func defaultRPCURL(network string) string {
	if network == "testnet" {
		return "http://127.0.0.1:8745"
	}
	return "http://127.0.0.1:8645"
}

// ── chains ──────────────────────────────────────────────────────────────

func cmdChains(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("chains", flag.ExitOnError)
	check := fs.Bool("check", false, "Ask each EVM node for its head block first")
	fs.Parse(args)

	var chains []engine.ChainInfo
	if err := client.Call("chain_list", engine.ListChains{Check: *check}, &chains); err != nil {
		fatal("chain_list: %v", err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHAIN\tFAMILY\tCHAIN ID\tNATIVE\tNODE\tTOKENS")
	for _, c := range chains {
		symbols := make([]string, 0, len(c.Tokens))
		for _, t := range c.Tokens {
			symbols = append(symbols, t.Symbol)
		}
		id := "-"
		if c.ChainID != 0 {
			id = fmt.Sprintf("%d", c.ChainID)
		}
		name := c.Name
		if c.Testnet {
			name += " (testnet)"
		}
		node := "-"
		if h := c.Health; h != nil {
			node = fmt.Sprintf("ok %dms", h.AvgLatencyMs)
			if !h.Healthy {
				node = "down"
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", name, c.Family, id, c.Native.Symbol, node, strings.Join(symbols, ","))
	}
	tw.Flush()
}

// ── wallet ──────────────────────────────────────────────────────────────

func cmdWallet(client *rpcclient.Client, args []string) {
	const sub = "Usage: klingwallet-cli wallet <create|import|list|show|rename|export|delete> [flags]"
	if len(args) < 1 {
		fatal(sub)
	}

	switch args[0] {
	case "create":
		cmdWalletCreate(client, args[1:])
	case "import":
		cmdWalletImport(client, args[1:])
	case "list":
		cmdWalletList(client, args[1:])
	case "show":
		cmdWalletShow(client, args[1:])
	case "rename":
		cmdWalletRename(client, args[1:])
	case "export":
		cmdWalletExport(client, args[1:])
	case "delete":
		cmdWalletDelete(client, args[1:])
	default:
		fatal("Unknown wallet command: %s\n%s", args[0], sub)
	}
}

func cmdWalletCreate(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("wallet create", flag.ExitOnError)
	family := fs.String("family", "", "Chain family: bitcoin or evm")
	label := fs.String("label", "", "Wallet label")
	words := fs.Int("words", 12, "Mnemonic length: 12 or 24")
	fs.Parse(args)

	if *family == "" {
		fatal("Usage: klingwallet-cli wallet create --family <bitcoin|evm> [--label <l>] [--words 12|24]")
	}

	var gen engine.MnemonicResult
	if err := client.Call("wallet_generateMnemonic", engine.GenerateMnemonic{Words: *words}, &gen); err != nil {
		fatal("wallet_generateMnemonic: %v", err)
	}

	var w types.Wallet
	if err := client.Call("wallet_create", engine.CreateWallet{
		Family:   types.Family(*family),
		Mnemonic: gen.Mnemonic,
		Label:    *label,
	}, &w); err != nil {
		fatal("wallet_create: %v", err)
	}

	fmt.Println("Mnemonic (write this down!):")
	fmt.Printf("  %s\n\n", gen.Mnemonic)
	printWallet(w)
}

func cmdWalletImport(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("wallet import", flag.ExitOnError)
	family := fs.String("family", "", "Chain family: bitcoin or evm")
	label := fs.String("label", "", "Wallet label")
	isKey := fs.Bool("key", false, "Import a private key instead of a mnemonic")
	fs.Parse(args)

	if *family == "" {
		fatal("Usage: klingwallet-cli wallet import --family <bitcoin|evm> [--label <l>] [--key]")
	}

	prompt := "Mnemonic: "
	if *isKey {
		prompt = "Private key (hex or WIF): "
	}
	secret, err := readSecret(prompt)
	if err != nil {
		fatal("read secret: %v", err)
	}

	cmd := engine.CreateWallet{Family: types.Family(*family), Label: *label}
	if *isKey {
		cmd.PrivateKey = secret
	} else {
		cmd.Mnemonic = secret
	}

	var w types.Wallet
	if err := client.Call("wallet_create", cmd, &w); err != nil {
		fatal("wallet_create: %v", err)
	}
	printWallet(w)
}

func cmdWalletList(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("wallet list", flag.ExitOnError)
	family := fs.String("family", "", "Only list wallets of this family")
	fs.Parse(args)

	var wallets []types.WalletWithBalances
	if err := client.Call("wallet_list", engine.ListWallets{Family: types.Family(*family)}, &wallets); err != nil {
		fatal("wallet_list: %v", err)
	}
	if len(wallets) == 0 {
		fmt.Println("No wallets.")
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLABEL\tFAMILY\tADDRESS\tUSD")
	for _, w := range wallets {
		total := w.TotalUSD
		if total == "" {
			total = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", w.Wallet.ID, w.Wallet.Label, w.Wallet.Family, w.Wallet.Address, total)
	}
	tw.Flush()
}

func cmdWalletShow(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("wallet show", flag.ExitOnError)
	walletID := fs.String("wallet", "", "Wallet ID")
	refresh := fs.Bool("refresh", false, "Bypass the balance cache")
	fs.Parse(args)

	if *walletID == "" {
		fatal("Usage: klingwallet-cli wallet show --wallet <id> [--refresh]")
	}

	var w types.WalletWithBalances
	if err := client.Call("wallet_get", engine.GetWalletWithBalances{WalletID: *walletID, Force: *refresh}, &w); err != nil {
		fatal("wallet_get: %v", err)
	}

	printWallet(w.Wallet)
	fmt.Println()

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHAIN\tASSET\tBALANCE\tUSD\tPRICE")
	for _, c := range w.Chains {
		if c.Error != nil {
			fmt.Fprintf(tw, "%s\t-\terror: %s\t\t\n", c.Chain, c.Error.Reason)
			continue
		}
		for _, b := range c.Balances {
			usd := b.USDValue
			if usd == "" {
				usd = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.Chain, b.Asset.Symbol, b.Display, usd, b.PriceSource)
		}
	}
	tw.Flush()

	cached := ""
	if w.CacheHit {
		cached = " (cached)"
	}
	fmt.Printf("\nTotal: $%s  as of %s%s\n", w.TotalUSD, w.LastRefreshed.Local().Format(time.RFC3339), cached)
}

func cmdWalletRename(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("wallet rename", flag.ExitOnError)
	walletID := fs.String("wallet", "", "Wallet ID")
	label := fs.String("label", "", "New label")
	fs.Parse(args)

	if *walletID == "" {
		fatal("Usage: klingwallet-cli wallet rename --wallet <id> --label <l>")
	}

	var w types.Wallet
	if err := client.Call("wallet_rename", engine.RenameWallet{WalletID: *walletID, Label: *label}, &w); err != nil {
		fatal("wallet_rename: %v", err)
	}
	printWallet(w)
}

func cmdWalletExport(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("wallet export", flag.ExitOnError)
	walletID := fs.String("wallet", "", "Wallet ID")
	kind := fs.String("kind", string(types.SecretMnemonic), "Secret kind: mnemonic or private_key")
	fs.Parse(args)

	if *walletID == "" {
		fatal("Usage: klingwallet-cli wallet export --wallet <id> [--kind mnemonic|private_key]")
	}

	var res engine.SecretResult
	if err := client.Call("wallet_export", engine.ExportSecret{WalletID: *walletID, Kind: types.SecretKind(*kind)}, &res); err != nil {
		fatal("wallet_export: %v", err)
	}

	fmt.Fprintln(os.Stderr, "WARNING: anyone with this secret controls the wallet's funds.")
	fmt.Println(res.Secret)
}

func cmdWalletDelete(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("wallet delete", flag.ExitOnError)
	walletID := fs.String("wallet", "", "Wallet ID")
	yes := fs.Bool("yes", false, "Confirm deletion")
	fs.Parse(args)

	if *walletID == "" || !*yes {
		fatal("Usage: klingwallet-cli wallet delete --wallet <id> --yes\nDeletion removes the secret irreversibly; export it first.")
	}

	var res engine.DeleteResult
	if err := client.Call("wallet_delete", engine.DeleteWallet{WalletID: *walletID}, &res); err != nil {
		fatal("wallet_delete: %v", err)
	}
	if res.Deleted {
		fmt.Printf("Deleted wallet %s\n", res.WalletID)
	} else {
		fmt.Printf("Wallet %s did not exist\n", res.WalletID)
	}
}

func printWallet(w types.Wallet) {
	fmt.Printf("ID:      %s\n", w.ID)
	if w.Label != "" {
		fmt.Printf("Label:   %s\n", w.Label)
	}
	fmt.Printf("Family:  %s (%s)\n", w.Family, w.Kind)
	fmt.Printf("Address: %s\n", w.Address)
}

// ── fees ────────────────────────────────────────────────────────────────

func cmdFee(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("fee", flag.ExitOnError)
	chain := fs.String("chain", "bitcoin", "Chain name")
	tier := fs.String("tier", "", "Tier: slow, avg or fast")
	fs.Parse(args)

	var q engine.FeeResult
	if err := client.Call("fee_estimate", engine.EstimateFee{Chain: *chain, Tier: types.Tier(*tier)}, &q); err != nil {
		fatal("fee_estimate: %v", err)
	}
	printJSON(q)
}

func cmdGas(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("gas", flag.ExitOnError)
	chain := fs.String("chain", "", "EVM chain name")
	from := fs.String("from", "", "Sender address")
	to := fs.String("to", "", "Recipient or contract address")
	asset := fs.String("asset", "", "Asset symbol (default: native)")
	amount := fs.String("amount", "", "Amount (decimal)")
	data := fs.String("data", "", "Call data (0x hex)")
	tier := fs.String("tier", "", "Tier: slow, avg or fast")
	fs.Parse(args)

	if *chain == "" || *to == "" {
		fatal("Usage: klingwallet-cli gas --chain <c> --to <addr> [--from <a>] [--asset <SYM>] [--amount <n>] [--data 0x..]")
	}

	var est json.RawMessage
	if err := client.Call("gas_estimate", engine.EstimateGas{
		Chain:  *chain,
		From:   *from,
		To:     *to,
		Asset:  *asset,
		Amount: *amount,
		Data:   *data,
		Tier:   types.Tier(*tier),
	}, &est); err != nil {
		fatal("gas_estimate: %v", err)
	}
	printJSON(est)
}

// ── send ────────────────────────────────────────────────────────────────

func cmdSend(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	walletID := fs.String("wallet", "", "Wallet ID")
	chain := fs.String("chain", "", "Chain name (default: bitcoin for bitcoin wallets)")
	to := fs.String("to", "", "Recipient address")
	amount := fs.String("amount", "", "Amount (decimal)")
	asset := fs.String("asset", "", "Asset symbol (default: native)")
	all := fs.Bool("all", false, "Send the whole spendable balance")
	tier := fs.String("tier", "", "Fee tier: slow, avg or fast")
	feeRate := fs.Uint64("fee-rate", 0, "Bitcoin fee rate override (sat/vB)")
	gasPrice := fs.String("gas-price", "", "EVM gas price override (wei)")
	gasLimit := fs.Uint64("gas-limit", 0, "EVM gas limit override")
	spender := fs.String("spender", "", "Contract to approve and call")
	data := fs.String("data", "", "Call data for --spender (0x hex)")
	fs.Parse(args)

	if *walletID == "" || *to == "" || (*amount == "" && !*all) {
		fatal("Usage: klingwallet-cli send --wallet <id> --to <addr> --amount <n> [flags]")
	}

	var res txbuilder.Result
	if err := client.Call("tx_send", engine.Send{
		WalletID: *walletID,
		Chain:    *chain,
		To:       *to,
		Amount:   *amount,
		Asset:    *asset,
		SendAll:  *all,
		Tier:     types.Tier(*tier),
		FeeRate:  *feeRate,
		GasPrice: *gasPrice,
		GasLimit: *gasLimit,
		Spender:  *spender,
		Data:     *data,
	}, &res); err != nil {
		fatal("tx_send: %v", err)
	}

	if res.Approval != nil {
		fmt.Printf("Approved: %s\n", res.Approval.TxHash)
	}
	fmt.Printf("Submitted: %s\n", res.TxHash)
	fmt.Printf("Amount:    %s %s\n", res.Record.AmountDisplay, res.Record.Asset.Symbol)
}

func cmdApprove(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("approve", flag.ExitOnError)
	walletID := fs.String("wallet", "", "Wallet ID")
	chain := fs.String("chain", "", "EVM chain name")
	token := fs.String("token", "", "Token symbol")
	spender := fs.String("spender", "", "Spender address")
	amount := fs.String("amount", "", "Allowance (decimal)")
	maxAllowance := fs.Bool("max", false, "Approve the maximum uint256 allowance")
	tier := fs.String("tier", "", "Fee tier: slow, avg or fast")
	fs.Parse(args)

	if *walletID == "" || *chain == "" || *token == "" || *spender == "" || (*amount == "" && !*maxAllowance) {
		fatal("Usage: klingwallet-cli approve --wallet <id> --chain <c> --token <SYM> --spender <addr> (--amount <n> | --max)")
	}

	var res txbuilder.Result
	if err := client.Call("tx_approve", engine.Approve{
		WalletID: *walletID,
		Chain:    *chain,
		Token:    *token,
		Spender:  *spender,
		Amount:   *amount,
		Max:      *maxAllowance,
		Tier:     types.Tier(*tier),
	}, &res); err != nil {
		fatal("tx_approve: %v", err)
	}
	fmt.Printf("Submitted: %s\n", res.TxHash)
}

func cmdSendRaw(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("sendraw", flag.ExitOnError)
	walletID := fs.String("wallet", "", "Wallet ID")
	chain := fs.String("chain", "", "Chain name")
	raw := fs.String("raw", "", "Signed transaction (0x hex)")
	fs.Parse(args)

	if *walletID == "" || *chain == "" || *raw == "" {
		fatal("Usage: klingwallet-cli sendraw --wallet <id> --chain <c> --raw <0xhex>")
	}

	var res txbuilder.Result
	if err := client.Call("tx_sendRaw", engine.SendRaw{WalletID: *walletID, Chain: *chain, RawTx: *raw}, &res); err != nil {
		fatal("tx_sendRaw: %v", err)
	}
	fmt.Printf("Submitted: %s\n", res.TxHash)
}

// ── history ─────────────────────────────────────────────────────────────

func cmdHistory(client *rpcclient.Client, args []string) {
	const sub = "Usage: klingwallet-cli history <fetch|list|refresh> [flags]"
	if len(args) < 1 {
		fatal(sub)
	}

	fs := flag.NewFlagSet("history "+args[0], flag.ExitOnError)
	walletID := fs.String("wallet", "", "Wallet ID")
	address := fs.String("address", "", "Wallet address (fetch)")
	chain := fs.String("chain", "", "Only fetch this chain")
	family := fs.String("family", "", "Only list records of this family")
	limit := fs.Int("limit", 20, "Maximum records to list")
	offset := fs.Int("offset", 0, "Records to skip")
	fs.Parse(args[1:])

	switch args[0] {
	case "fetch":
		if *walletID == "" && *address == "" {
			fatal("Usage: klingwallet-cli history fetch (--wallet <id> | --address <a>) [--chain <c>]")
		}
		var res engine.HistoryResult
		cmd := engine.FetchHistory{WalletID: *walletID, Address: *address, Chain: *chain}
		if err := client.Call("tx_fetchHistory", cmd, &res); err != nil {
			fatal("tx_fetchHistory: %v", err)
		}
		for _, c := range res.Chains {
			if c.Error != nil {
				fmt.Printf("  %-10s error: %s\n", c.Chain, c.Error.Reason)
				continue
			}
			fmt.Printf("  %-10s %d records\n", c.Chain, c.Records)
		}
		fmt.Printf("Added %d new records\n", res.Added)

	case "list":
		var res engine.TransactionsResult
		if err := client.Call("tx_list", engine.GetAllTransactions{WalletID: *walletID, Family: types.Family(*family), Limit: *limit, Offset: *offset}, &res); err != nil {
			fatal("tx_list: %v", err)
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tCHAIN\tTYPE\tAMOUNT\tSTATUS\tCONF\tHASH")
		for _, r := range res.Transactions {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s %s\t%s\t%d\t%s\n",
				r.Timestamp.Local().Format("2006-01-02 15:04"), r.Chain, r.Type,
				r.AmountDisplay, r.Asset.Symbol, r.Status, r.Confirmations, r.TxHash)
		}
		tw.Flush()
		fmt.Printf("\n%d of %d records\n", len(res.Transactions), res.Total)

	case "refresh":
		if *walletID == "" {
			fatal("Usage: klingwallet-cli history refresh --wallet <id>")
		}
		var res engine.RefreshResult
		if err := client.Call("tx_refresh", engine.RefreshTransactions{WalletID: *walletID}, &res); err != nil {
			fatal("tx_refresh: %v", err)
		}
		fmt.Printf("Updated %d records\n", res.Updated)
		if res.Error != "" {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", res.Error)
		}

	default:
		fatal("Unknown history command: %s\n%s", args[0], sub)
	}
}

// ── price ───────────────────────────────────────────────────────────────

func cmdPrice(client *rpcclient.Client, args []string) {
	if len(args) == 0 {
		fatal("Usage: klingwallet-cli price <SYM> [SYM...]")
	}

	var quotes map[string]json.RawMessage
	if err := client.Call("price_get", engine.GetPrices{Symbols: args}, &quotes); err != nil {
		fatal("price_get: %v", err)
	}
	printJSON(quotes)
}

// ── portfolio ───────────────────────────────────────────────────────────

func cmdPortfolio(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("portfolio", flag.ExitOnError)
	family := fs.String("family", "", "Only include wallets of this family")
	refresh := fs.Bool("refresh", false, "Refresh expired balances first")
	recent := fs.Int("recent", 10, "Recent transactions to show")
	fs.Parse(args)

	var res engine.PortfolioResult
	cmd := engine.GetPortfolio{Family: types.Family(*family), Refresh: *refresh, RecentLimit: *recent}
	if err := client.Call("portfolio_get", cmd, &res); err != nil {
		fatal("portfolio_get: %v", err)
	}

	fmt.Printf("Total:   $%s", res.TotalUSD)
	if res.TotalBTC != "" {
		fmt.Printf("  (%s BTC)", res.TotalBTC)
	}
	fmt.Printf("\nWallets: %d\n\n", res.Wallets)

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ASSET\tBALANCE\tUSD\tSHARE\tCHAINS")
	for _, a := range res.Assets {
		usd, share := "-", "-"
		if a.USDValue != "" {
			usd = a.USDValue
		}
		if a.Share != "" {
			share = a.Share + "%"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", a.Symbol, a.Balance, usd, share, strings.Join(a.Chains, ","))
	}
	tw.Flush()

	if len(res.Recent) > 0 {
		fmt.Println()
		tw = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tCHAIN\tTYPE\tAMOUNT\tSTATUS")
		for _, r := range res.Recent {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s %s\t%s\n",
				r.Timestamp.Local().Format("2006-01-02 15:04"), r.Chain, r.Type,
				r.AmountDisplay, r.Asset.Symbol, r.Status)
		}
		tw.Flush()
	}
	for _, e := range res.Errors {
		fmt.Fprintf(os.Stderr, "Warning: wallet %s: %s\n", e.WalletID, e.Reason)
	}
}

// ── Helpers ─────────────────────────────────────────────────────────────

func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatal("encode: %v", err)
	}
	fmt.Println(string(out))
}

// readSecret reads one line without echo on a terminal, or from piped stdin.
func readSecret(prompt string) (string, error) {
	fd := int(syscall.Stdin)
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}
	fmt.Fprint(os.Stderr, prompt)
	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(secret)), nil
}

// ── Error helper ────────────────────────────────────────────────────────

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
