package ports

import "context"

// ValidatorRequest asks the chain binary to create one validator in home.
type ValidatorRequest struct {
	Home    string
	ChainID string
	Moniker string
	Denom   string
	Coins   string
	Staked  string
}

// ValidatorFragment is what the chain binary returns for a validator:
// its identity plus the genesis transaction that makes it a validator.
type ValidatorFragment struct {
	NodeID  string
	Address string
	PubKey  string
	// GenTx is the signed genesis transaction (JSON).
	GenTx []byte
}

// GenesisAccount is an account funded in genesis.
type GenesisAccount struct {
	Address string
	Coins   string
}

// KeyInfo is a key created in a node keyring.
type KeyInfo struct {
	Name     string
	Address  string
	Mnemonic string
}

// ChainExecutor is the opaque boundary to the chain executable.
type ChainExecutor interface {
	// InitValidator initializes home and returns the validator fragment.
	InitValidator(ctx context.Context, req ValidatorRequest) (ValidatorFragment, error)

	// AddKey creates a key in the keyring of home.
	AddKey(ctx context.Context, home, name string) (KeyInfo, error)

	// AssembleGenesis funds accounts and collects gentxs into the genesis of
	// home, returning the resulting genesis.json contents.
	AssembleGenesis(ctx context.Context, home, chainID string, accounts []GenesisAccount, gentxs [][]byte) ([]byte, error)
}

// ChainExecutorFactory binds a ChainExecutor to a chain executable.
type ChainExecutorFactory func(command string) ChainExecutor
