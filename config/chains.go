package config

// =============================================================================
// Network definitions (fixed per build, not operator settings)
// =============================================================================

// Bitcoin denomination and policy constants.
const (
	SatsPerBTC  = 100_000_000
	BTCDecimals = 8

	// DustLimit is the smallest output the builder will create, in sats.
	// Change below this is merged into the fee.
	DustLimit = 546
)

// EVMDecimals is the decimals of every EVM native asset.
const EVMDecimals = 18

// TokenSpec is a well-known ERC-20 on one chain.
type TokenSpec struct {
	Symbol   string
	Name     string
	Decimals int32
	Contract string
}

// EVMChainSpec describes one supported EVM chain.
type EVMChainSpec struct {
	Name        string
	ChainID     uint64
	Native      string // native asset symbol
	NativeName  string
	RPCURL      string // default public endpoint, overridable via evm.rpc.<name>
	FallbackGas uint64 // legacy gas price in gwei used when the live oracle fails
	Tokens      []TokenSpec
	Testnet     bool
}

// BitcoinNetworkSpec holds the REST endpoints for one Bitcoin network.
type BitcoinNetworkSpec struct {
	EsploraURL string
	FeeURL     string
	CoinType   uint32 // BIP-44 coin type
	// FallbackFees are sat/vB rates used when the fee oracle fails.
	FallbackSlow uint64
	FallbackAvg  uint64
	FallbackFast uint64
}

var bitcoinNetworks = map[NetworkType]BitcoinNetworkSpec{
	Mainnet: {
		EsploraURL:   "https://blockstream.info/api",
		FeeURL:       "https://mempool.space/api",
		CoinType:     0,
		FallbackSlow: 2,
		FallbackAvg:  5,
		FallbackFast: 10,
	},
	Testnet: {
		EsploraURL:   "https://blockstream.info/testnet/api",
		FeeURL:       "https://mempool.space/testnet/api",
		CoinType:     1,
		FallbackSlow: 1,
		FallbackAvg:  1,
		FallbackFast: 2,
	},
}

// BitcoinNetwork returns the endpoint defaults for a network.
func BitcoinNetwork(network NetworkType) BitcoinNetworkSpec {
	if spec, ok := bitcoinNetworks[network]; ok {
		return spec
	}
	return bitcoinNetworks[Mainnet]
}

var evmChains = []EVMChainSpec{
	{
		Name: "ethereum", ChainID: 1, Native: "ETH", NativeName: "Ether",
		RPCURL: "https://eth.llamarpc.com", FallbackGas: 20,
		Tokens: []TokenSpec{
			{Symbol: "USDT", Name: "Tether USD", Decimals: 6, Contract: "0xdAC17F958D2ee523a2206206994597C13D831ec7"},
			{Symbol: "USDC", Name: "USD Coin", Decimals: 6, Contract: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"},
		},
	},
	{
		Name: "arbitrum", ChainID: 42161, Native: "ETH", NativeName: "Ether",
		RPCURL: "https://arb1.arbitrum.io/rpc", FallbackGas: 1,
		Tokens: []TokenSpec{
			{Symbol: "USDT", Name: "Tether USD", Decimals: 6, Contract: "0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9"},
			{Symbol: "USDC", Name: "USD Coin", Decimals: 6, Contract: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831"},
		},
	},
	{
		Name: "optimism", ChainID: 10, Native: "ETH", NativeName: "Ether",
		RPCURL: "https://mainnet.optimism.io", FallbackGas: 1,
		Tokens: []TokenSpec{
			{Symbol: "USDT", Name: "Tether USD", Decimals: 6, Contract: "0x94b008aA00579c1307B0EF2c499aD98a8ce58e58"},
			{Symbol: "USDC", Name: "USD Coin", Decimals: 6, Contract: "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85"},
		},
	},
	{
		Name: "polygon", ChainID: 137, Native: "MATIC", NativeName: "Polygon",
		RPCURL: "https://polygon-rpc.com", FallbackGas: 50,
		Tokens: []TokenSpec{
			{Symbol: "USDT", Name: "Tether USD", Decimals: 6, Contract: "0xc2132D05D31c914a87C6611C10748AEb04B58e8F"},
			{Symbol: "USDC", Name: "USD Coin", Decimals: 6, Contract: "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"},
		},
	},
	{
		Name: "bsc", ChainID: 56, Native: "BNB", NativeName: "BNB",
		RPCURL: "https://bsc-dataseed1.binance.org", FallbackGas: 3,
		Tokens: []TokenSpec{
			{Symbol: "USDT", Name: "Tether USD", Decimals: 18, Contract: "0x55d398326f99059fF775485246999027B3197955"},
			{Symbol: "USDC", Name: "USD Coin", Decimals: 18, Contract: "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d"},
		},
	},
	{
		Name: "sepolia", ChainID: 11155111, Native: "ETH", NativeName: "Sepolia Ether",
		RPCURL: "https://ethereum-sepolia-rpc.publicnode.com", FallbackGas: 2, Testnet: true,
		Tokens: []TokenSpec{
			{Symbol: "USDT", Name: "Tether USD", Decimals: 6, Contract: "0xE50d86c6dE38F9754f6777d2925377564Bf79482"},
			{Symbol: "USDC", Name: "USD Coin", Decimals: 6, Contract: "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"},
		},
	},
}

// EVMChains returns every supported EVM chain.
func EVMChains() []EVMChainSpec {
	out := make([]EVMChainSpec, len(evmChains))
	copy(out, evmChains)
	return out
}

// EVMChain looks up a chain by name.
func EVMChain(name string) (EVMChainSpec, bool) {
	for _, c := range evmChains {
		if c.Name == name {
			return c, true
		}
	}
	return EVMChainSpec{}, false
}

// EVMChainByID looks up a chain by its EIP-155 chain ID.
func EVMChainByID(id uint64) (EVMChainSpec, bool) {
	for _, c := range evmChains {
		if c.ChainID == id {
			return c, true
		}
	}
	return EVMChainSpec{}, false
}

// DefaultEVMChains returns the chain names enabled by default on a network.
func DefaultEVMChains(network NetworkType) []string {
	var names []string
	for _, c := range evmChains {
		if c.Testnet == (network == Testnet) {
			names = append(names, c.Name)
		}
	}
	return names
}
