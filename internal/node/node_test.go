package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Klingon-tech/klingwallet/config"
	"github.com/Klingon-tech/klingwallet/internal/engine"
	klog "github.com/Klingon-tech/klingwallet/internal/log"
	"github.com/Klingon-tech/klingwallet/internal/metrics"
	"github.com/Klingon-tech/klingwallet/internal/rpcclient"
	"github.com/Klingon-tech/klingwallet/internal/txbuilder"
	"github.com/Klingon-tech/klingwallet/internal/wallet"
	"github.com/Klingon-tech/klingwallet/pkg/types"
)

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	tests := []struct {
		input, want string
	}{
		{"~/foo/bar", filepath.Join(home, "foo/bar")},
		{"~/.klingwallet/wallet.log", filepath.Join(home, ".klingwallet/wallet.log")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
		{"", ""},
	}
	for _, tt := range tests {
		got := expandHome(tt.input)
		if got != tt.want {
			t.Errorf("expandHome(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestBitcoinParams(t *testing.T) {
	if got := bitcoinParams(config.Mainnet); got != &chaincfg.MainNetParams {
		t.Errorf("mainnet params = %s", got.Name)
	}
	if got := bitcoinParams(config.Testnet); got != &chaincfg.TestNet3Params {
		t.Errorf("testnet params = %s", got.Name)
	}
}

func TestKDFParams_Defaults(t *testing.T) {
	p := kdfParams(config.VaultConfig{ArgonIterations: 7})
	def := wallet.DefaultKDFParams()
	if p.Iterations != 7 {
		t.Errorf("iterations = %d, want 7", p.Iterations)
	}
	if p.Memory != def.Memory || p.Parallelism != def.Parallelism {
		t.Errorf("unset fields not defaulted: %+v", p)
	}
}

func TestReadPasswordEnv(t *testing.T) {
	cfg := config.DefaultMainnet()
	cfg.Vault.PasswordEnv = "KLINGWALLET_TEST_PASSWORD"

	t.Setenv("KLINGWALLET_TEST_PASSWORD", "")
	if got := ReadPasswordEnv(cfg); got != nil {
		t.Errorf("empty env: got %q", got)
	}

	t.Setenv("KLINGWALLET_TEST_PASSWORD", "hunter2")
	if got := string(ReadPasswordEnv(cfg)); got != "hunter2" {
		t.Errorf("password = %q", got)
	}
}

// offlineConfig returns a config with every remote backend disabled.
func offlineConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultTestnet()
	cfg.DataDir = t.TempDir()
	cfg.RPC.Port = 0
	cfg.Bitcoin.EsploraURL = ""
	cfg.EVM.Chains = nil
	cfg.Etherscan.URL = ""
	cfg.Price.URL = ""
	cfg.Log.Level = "error"
	cfg.Vault.ArgonMemory = 64
	cfg.Vault.ArgonIterations = 1
	cfg.Vault.ArgonParallelism = 1
	if err := config.EnsureDataDirs(cfg); err != nil {
		t.Fatalf("EnsureDataDirs: %v", err)
	}
	return cfg
}

func TestNode_StartServeReopen(t *testing.T) {
	cfg := offlineConfig(t)

	n, err := New(cfg, []byte("correct horse"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := n.Start(); err != nil {
		n.Stop()
		t.Fatalf("Start: %v", err)
	}

	client := rpcclient.New("http://" + n.RPCAddr() + "/")
	var created types.Wallet
	err = client.Call("wallet_create", engine.CreateWallet{
		Family:   types.FamilyBitcoin,
		Mnemonic: "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about",
	}, &created)
	if err != nil {
		n.Stop()
		t.Fatalf("wallet_create: %v", err)
	}
	if created.Address != "tb1q6rz28mcfaxtmd6v789l9rrlrusdprr9pqcpvkl" {
		t.Errorf("testnet address = %s", created.Address)
	}

	var chains []engine.ChainInfo
	if err := client.Call("chain_list", nil, &chains); err != nil {
		t.Errorf("chain_list: %v", err)
	}
	if len(chains) != 0 {
		t.Errorf("offline node lists %d chains", len(chains))
	}

	n.Stop()
	n.Stop() // idempotent

	// Wrong password must not unlock the persisted vault.
	if _, err := New(cfg, []byte("wrong")); !errors.Is(err, wallet.ErrWrongPassword) {
		t.Fatalf("reopen with wrong password: err = %v", err)
	}

	n2, err := New(cfg, []byte("correct horse"))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer n2.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	out, err := n2.Engine().Execute(ctx, &engine.ListWallets{})
	if err != nil {
		t.Fatalf("ListWallets: %v", err)
	}
	if got := out.([]types.WalletWithBalances); len(got) != 1 || got[0].Wallet.ID != created.ID {
		t.Errorf("wallets after reopen = %+v", got)
	}
}

func TestNode_UnknownEVMChain(t *testing.T) {
	cfg := offlineConfig(t)
	cfg.EVM.Chains = []string{"dogechain"}

	if _, err := New(cfg, []byte("pw")); err == nil {
		t.Fatal("expected error for unknown evm chain")
	}
}

// chainIDServer answers eth_chainId with id.
// headerJSON is the smallest block header ethclient accepts.
const headerJSON = `{"parentHash":"0x` + zeroHash + `","sha3Uncles":"0x` + zeroHash + `",` +
	`"miner":"0x0000000000000000000000000000000000000000","stateRoot":"0x` + zeroHash + `",` +
	`"transactionsRoot":"0x` + zeroHash + `","receiptsRoot":"0x` + zeroHash + `",` +
	`"logsBloom":"0x` + zeroBloom + `","difficulty":"0x0","number":"0x64","gasLimit":"0x1c9c380",` +
	`"gasUsed":"0x0","timestamp":"0x6553f100","extraData":"0x"}`

const (
	zeroHash  = "0000000000000000000000000000000000000000000000000000000000000000"
	zeroBloom = zeroHash + zeroHash + zeroHash + zeroHash + zeroHash + zeroHash + zeroHash + zeroHash
)

// rpcNode serves eth_chainId and the head block header.
func rpcNode(t *testing.T, id uint64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch req.Method {
		case "eth_chainId":
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":"0x%x"}`, req.ID, id)
		case "eth_getBlockByNumber":
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":%s}`, req.ID, headerJSON)
		default:
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":{"code":-32601,"message":"not found"}}`, req.ID)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func chainIDServer(t *testing.T, id uint64) string {
	t.Helper()
	return rpcNode(t, id).URL
}

func TestDialEVM_SkipsWrongChainID(t *testing.T) {
	cfg := offlineConfig(t)
	cfg.EVM.Chains = []string{"polygon", "sepolia"}
	cfg.EVM.RPCURLs = map[string]string{
		"polygon": chainIDServer(t, 137),
		"sepolia": chainIDServer(t, 1), // mainnet behind a sepolia URL
	}

	reg, err := dialEVM(cfg, klog.WithComponent("node"))
	if err != nil {
		t.Fatalf("dialEVM: %v", err)
	}
	defer reg.Close()

	names := reg.Names()
	if len(names) != 1 || names[0] != "polygon" {
		t.Errorf("registered chains = %v, want [polygon]", names)
	}
}

func TestCheckEVM_ReportsDownNodes(t *testing.T) {
	cfg := offlineConfig(t)
	srv := rpcNode(t, 137)
	cfg.EVM.Chains = []string{"polygon"}
	cfg.EVM.RPCURLs = map[string]string{"polygon": srv.URL}

	logger := klog.WithComponent("node")
	reg, err := dialEVM(cfg, logger)
	if err != nil {
		t.Fatalf("dialEVM: %v", err)
	}
	defer reg.Close()
	client, err := reg.Get("polygon")
	if err != nil {
		t.Fatalf("polygon not registered: %v", err)
	}

	if down := checkEVM(context.Background(), reg, logger); len(down) != 0 {
		t.Fatalf("down = %v, want none", down)
	}
	if !client.Health().Healthy {
		t.Fatal("polygon should be healthy")
	}

	srv.Close()
	down := checkEVM(context.Background(), reg, logger)
	if len(down) != 1 || down[0] != "polygon" {
		t.Fatalf("down = %v, want [polygon]", down)
	}
	h := client.Health()
	if h.Healthy || h.Failures != 1 {
		t.Errorf("health = %+v, want unhealthy with one failure", h)
	}
}

func TestObserveSend_CountsTerminalStates(t *testing.T) {
	counter := metrics.SendOutcomes.WithLabelValues("polygon", string(txbuilder.StateSubmitted))
	before := testutil.ToFloat64(counter)

	observeSend(txbuilder.Transition{Chain: "polygon", From: txbuilder.StateReady, To: txbuilder.StateSigning})
	observeSend(txbuilder.Transition{Chain: "polygon", From: txbuilder.StateBroadcasting, To: txbuilder.StateSubmitted})

	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("submitted count delta = %v, want 1", got)
	}
}
