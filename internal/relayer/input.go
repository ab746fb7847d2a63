package relayer

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bft-labs/localnet/internal/adapters/fs"
	"github.com/bft-labs/localnet/internal/domain"
	"github.com/bft-labs/localnet/internal/portalloc"
)

// KeyName is the relayer key name on every linked chain.
const KeyName = "relayer"

const inputFileName = "input.json"

// ChainEndpoint is a linked chain as seen by the relayer.
type ChainEndpoint struct {
	ChainID       string `json:"chain_id"`
	Denom         string `json:"denom"`
	RPCAddr       string `json:"rpc_addr"`
	GRPCAddr      string `json:"grpc_addr"`
	WebsocketAddr string `json:"websocket_addr"`
	KeyName       string `json:"key_name"`
	AccountPrefix string `json:"account_prefix"`
	MnemonicFile  string `json:"mnemonic_file"`
}

// Input is everything a variant needs to configure and run the relayer. It
// is saved next to the relayer config so a later start can attach the
// relayer without the topology file.
type Input struct {
	Variant       string               `json:"variant"`
	Command       string               `json:"command"`
	Paths         []domain.RelayerPath `json:"paths"`
	Chains        []ChainEndpoint      `json:"chains"`
	Dir           string               `json:"dir"`
	ConfigPath    string               `json:"config_path"`
	KeyStoreDir   string               `json:"key_store_dir"`
	LogPath       string               `json:"log_path"`
	RESTPort      uint16               `json:"rest_port"`
	TelemetryPort uint16               `json:"telemetry_port"`
	Restart       domain.RestartPolicy `json:"restart"`
}

// NewInput derives the relayer input from the topology. addresses maps chain
// ids to the funded relayer account, used for the bech32 account prefix.
func NewInput(t domain.Topology, plan portalloc.Plan, layout domain.Layout, addresses map[string]string) (Input, error) {
	if t.Relayer == nil {
		return Input{}, fmt.Errorf("topology has no relayer")
	}
	sup := t.Supervisor.WithDefaults()
	in := Input{
		Variant:       t.Relayer.Variant,
		Command:       t.Relayer.Command,
		Paths:         t.Relayer.Paths,
		Dir:           layout.RelayerDir(),
		ConfigPath:    layout.RelayerConfig(),
		KeyStoreDir:   filepath.Join(layout.RelayerDir(), "keys"),
		LogPath:       layout.RelayerLog(),
		RESTPort:      plan.Global(portalloc.SlotRelayerREST),
		TelemetryPort: plan.Global(portalloc.SlotRelayerTelemetry),
		Restart: domain.RestartPolicy{
			AutoRestart:    true,
			MaxRetries:     sup.MaxRetries,
			BackoffInitial: sup.BackoffInitial,
			BackoffMax:     sup.BackoffMax,
		},
	}

	linked := map[string]bool{}
	for _, id := range t.LinkedChains() {
		linked[id] = true
	}
	for i, c := range t.Chains {
		if !linked[c.ID] {
			continue
		}
		ports := plan.Node(i, 0)
		addr := addresses[c.ID]
		prefix, err := bech32Prefix(addr)
		if err != nil {
			return Input{}, &domain.RelayerConfigError{Variant: in.Variant, Chain: c.ID, Reason: err.Error()}
		}
		in.Chains = append(in.Chains, ChainEndpoint{
			ChainID:       c.ID,
			Denom:         c.Denom,
			RPCAddr:       fmt.Sprintf("http://127.0.0.1:%d", ports.RPC),
			GRPCAddr:      fmt.Sprintf("http://127.0.0.1:%d", ports.GRPC),
			WebsocketAddr: fmt.Sprintf("ws://127.0.0.1:%d/websocket", ports.RPC),
			KeyName:       KeyName,
			AccountPrefix: prefix,
			MnemonicFile:  filepath.Join(layout.RelayerDir(), c.ID+".mnemonic"),
		})
	}
	return in, nil
}

func bech32Prefix(addr string) (string, error) {
	i := strings.LastIndexByte(addr, '1')
	if i < 1 {
		return "", fmt.Errorf("relayer address %q is not bech32", addr)
	}
	return addr[:i], nil
}

func (in Input) save() error {
	data, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return err
	}
	_, err = fs.WriteFileAtomic(filepath.Join(in.Dir, inputFileName), append(data, '\n'), 0o644)
	return err
}

// LoadInput reads the input saved by Configure or Refresh. It reports false
// when the cluster has no relayer.
func LoadInput(layout domain.Layout) (Input, bool, error) {
	data, err := os.ReadFile(filepath.Join(layout.RelayerDir(), inputFileName))
	if errors.Is(err, os.ErrNotExist) {
		return Input{}, false, nil
	}
	if err != nil {
		return Input{}, false, err
	}
	var in Input
	if err := json.Unmarshal(data, &in); err != nil {
		return Input{}, false, fmt.Errorf("decode relayer input: %w", err)
	}
	return in, true, nil
}
