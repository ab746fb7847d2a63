package relayer

import (
	"strings"

	"github.com/BurntSushi/toml"
)

// HermesConfig is the subset of the hermes configuration file localnet writes.
type HermesConfig struct {
	Global    HermesGlobal   `toml:"global"`
	Mode      HermesMode     `toml:"mode"`
	Rest      HermesEndpoint `toml:"rest"`
	Telemetry HermesEndpoint `toml:"telemetry"`
	Chains    []HermesChain  `toml:"chains"`
}

type HermesGlobal struct {
	LogLevel string `toml:"log_level"`
}

type HermesMode struct {
	Clients     HermesClients `toml:"clients"`
	Connections HermesToggle  `toml:"connections"`
	Channels    HermesToggle  `toml:"channels"`
	Packets     HermesPackets `toml:"packets"`
}

type HermesClients struct {
	Enabled      bool `toml:"enabled"`
	Refresh      bool `toml:"refresh"`
	Misbehaviour bool `toml:"misbehaviour"`
}

type HermesToggle struct {
	Enabled bool `toml:"enabled"`
}

type HermesPackets struct {
	Enabled      bool `toml:"enabled"`
	ClearOnStart bool `toml:"clear_on_start"`
}

// HermesEndpoint configures the REST and telemetry listeners.
type HermesEndpoint struct {
	Enabled bool   `toml:"enabled"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
}

// HermesChain is one [[chains]] entry.
type HermesChain struct {
	ID             string               `toml:"id"`
	Type           string               `toml:"type"`
	RPCAddr        string               `toml:"rpc_addr"`
	GRPCAddr       string               `toml:"grpc_addr"`
	EventSource    HermesEventSource    `toml:"event_source"`
	RPCTimeout     string               `toml:"rpc_timeout"`
	TrustedNode    bool                 `toml:"trusted_node"`
	AccountPrefix  string               `toml:"account_prefix"`
	KeyName        string               `toml:"key_name"`
	KeyStoreFolder string               `toml:"key_store_folder"`
	StorePrefix    string               `toml:"store_prefix"`
	DefaultGas     int                  `toml:"default_gas"`
	MaxGas         int                  `toml:"max_gas"`
	GasPrice       HermesGasPrice       `toml:"gas_price"`
	GasMultiplier  float64              `toml:"gas_multiplier"`
	MaxMsgNum      int                  `toml:"max_msg_num"`
	MaxTxSize      int                  `toml:"max_tx_size"`
	ClockDrift     string               `toml:"clock_drift"`
	MaxBlockTime   string               `toml:"max_block_time"`
	TrustingPeriod string               `toml:"trusting_period"`
	TrustThreshold HermesTrustThreshold `toml:"trust_threshold"`
	AddressType    HermesAddressType    `toml:"address_type"`
}

type HermesEventSource struct {
	Mode       string `toml:"mode"`
	URL        string `toml:"url"`
	BatchDelay string `toml:"batch_delay"`
}

type HermesGasPrice struct {
	Price float64 `toml:"price"`
	Denom string  `toml:"denom"`
}

type HermesTrustThreshold struct {
	Numerator   int `toml:"numerator"`
	Denominator int `toml:"denominator"`
}

type HermesAddressType struct {
	Derivation string `toml:"derivation"`
}

// newHermesConfig builds the configuration for the linked chains of in.
func newHermesConfig(in Input) *HermesConfig {
	chains := make([]HermesChain, len(in.Chains))
	for i, c := range in.Chains {
		chains[i] = HermesChain{
			ID:       c.ChainID,
			Type:     "CosmosSdk",
			RPCAddr:  c.RPCAddr,
			GRPCAddr: c.GRPCAddr,
			EventSource: HermesEventSource{
				Mode:       "push",
				URL:        c.WebsocketAddr,
				BatchDelay: "200ms",
			},
			RPCTimeout:     "10s",
			TrustedNode:    true,
			AccountPrefix:  c.AccountPrefix,
			KeyName:        c.KeyName,
			KeyStoreFolder: in.KeyStoreDir,
			StorePrefix:    "ibc",
			DefaultGas:     100000,
			MaxGas:         3000000,
			GasPrice:       HermesGasPrice{Price: 0, Denom: c.Denom},
			GasMultiplier:  1.2,
			MaxMsgNum:      30,
			MaxTxSize:      2097152,
			ClockDrift:     "5s",
			MaxBlockTime:   "30s",
			TrustingPeriod: "14days",
			TrustThreshold: HermesTrustThreshold{Numerator: 1, Denominator: 3},
			AddressType:    HermesAddressType{Derivation: "cosmos"},
		}
	}

	return &HermesConfig{
		Global: HermesGlobal{LogLevel: "info"},
		Mode: HermesMode{
			Clients:     HermesClients{Enabled: true, Refresh: true, Misbehaviour: true},
			Connections: HermesToggle{Enabled: true},
			Channels:    HermesToggle{Enabled: true},
			Packets:     HermesPackets{Enabled: true, ClearOnStart: true},
		},
		Rest:      HermesEndpoint{Enabled: true, Host: "127.0.0.1", Port: int(in.RESTPort)},
		Telemetry: HermesEndpoint{Enabled: true, Host: "127.0.0.1", Port: int(in.TelemetryPort)},
		Chains:    chains,
	}
}

// ToTOML encodes the configuration.
func (c *HermesConfig) ToTOML() ([]byte, error) {
	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return nil, err
	}
	return []byte(buf.String()), nil
}
