package relayer

import "github.com/bft-labs/localnet/internal/domain"

// Hermes drives the informalsystems hermes relayer.
type Hermes struct{}

func (Hermes) Name() string { return "hermes" }

func (Hermes) ConfigFile(in Input) ([]byte, error) {
	return newHermesConfig(in).ToTOML()
}

func (Hermes) ImportKeyArgs(in Input, c ChainEndpoint) []string {
	return []string{
		"--config", in.ConfigPath,
		"keys", "add",
		"--chain", c.ChainID,
		"--key-name", c.KeyName,
		"--mnemonic-file", c.MnemonicFile,
		"--overwrite",
	}
}

func (Hermes) CreateChannelArgs(in Input, p domain.RelayerPath) []string {
	return []string{
		"--config", in.ConfigPath,
		"create", "channel",
		"--a-chain", p.A,
		"--b-chain", p.B,
		"--a-port", "transfer",
		"--b-port", "transfer",
		"--new-client-connection",
		"--yes",
	}
}

func (Hermes) StartArgs(in Input) []string {
	return []string{"--config", in.ConfigPath, "start"}
}
