package rpc

import (
	"sort"

	"github.com/Klingon-tech/klingwallet/internal/engine"
)

// method binds a JSON-RPC method name to the command its params decode
// into.
type method struct {
	newCommand func() engine.Command
	// optional marks methods whose params may be omitted.
	optional bool
}

var methods = map[string]method{
	"wallet_create":           {newCommand: func() engine.Command { return &engine.CreateWallet{} }},
	"wallet_generateMnemonic": {newCommand: func() engine.Command { return &engine.GenerateMnemonic{} }, optional: true},
	"wallet_list":             {newCommand: func() engine.Command { return &engine.ListWallets{} }, optional: true},
	"wallet_get":              {newCommand: func() engine.Command { return &engine.GetWalletWithBalances{} }},
	"wallet_rename":           {newCommand: func() engine.Command { return &engine.RenameWallet{} }},
	"wallet_export":           {newCommand: func() engine.Command { return &engine.ExportSecret{} }},
	"wallet_delete":           {newCommand: func() engine.Command { return &engine.DeleteWallet{} }},
	"fee_estimate":            {newCommand: func() engine.Command { return &engine.EstimateFee{} }},
	"gas_estimate":            {newCommand: func() engine.Command { return &engine.EstimateGas{} }},
	"tx_send":                 {newCommand: func() engine.Command { return &engine.Send{} }},
	"tx_approve":              {newCommand: func() engine.Command { return &engine.Approve{} }},
	"tx_sendRaw":              {newCommand: func() engine.Command { return &engine.SendRaw{} }},
	"tx_fetchHistory":         {newCommand: func() engine.Command { return &engine.FetchHistory{} }},
	"tx_list":                 {newCommand: func() engine.Command { return &engine.GetAllTransactions{} }, optional: true},
	"tx_refresh":              {newCommand: func() engine.Command { return &engine.RefreshTransactions{} }},
	"chain_list":              {newCommand: func() engine.Command { return &engine.ListChains{} }, optional: true},
	"price_get":               {newCommand: func() engine.Command { return &engine.GetPrices{} }},
	"portfolio_get":           {newCommand: func() engine.Command { return &engine.GetPortfolio{} }, optional: true},
}

// Methods returns the served method names, sorted.
func Methods() []string {
	names := make([]string, 0, len(methods))
	for name := range methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
