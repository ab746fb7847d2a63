package cluster

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/bft-labs/localnet/internal/adapters/fs"
	"github.com/bft-labs/localnet/internal/domain"
)

const (
	configTOML = "config.toml"
	appTOML    = "app.toml"
	clientTOML = "client.toml"
)

// listenHost is the address every node service binds to.
const listenHost = "127.0.0.1"

// peerAddress renders a persistent peer entry.
func peerAddress(nodeID string, p2p uint16) string {
	return fmt.Sprintf("%s@%s:%d", nodeID, listenHost, p2p)
}

// persistentPeers returns the peers of node self: every other node of the chain.
func persistentPeers(self int, ids []string, ports []domain.PortSet) []string {
	peers := make([]string, 0, len(ids)-1)
	for i, id := range ids {
		if i == self {
			continue
		}
		peers = append(peers, peerAddress(id, ports[i].P2P))
	}
	return peers
}

// configOverrides returns the values localnet owns in config.toml, merged
// with the chain's own patch.
func configOverrides(chain domain.ChainSpec, node domain.NodeSpec) map[string]any {
	base := map[string]any{
		"moniker": node.Moniker,
		"rpc": map[string]any{
			"laddr":       fmt.Sprintf("tcp://%s:%d", listenHost, node.Ports.RPC),
			"pprof_laddr": fmt.Sprintf("%s:%d", listenHost, node.Ports.PProf),
		},
		"p2p": map[string]any{
			"laddr":              fmt.Sprintf("tcp://%s:%d", listenHost, node.Ports.P2P),
			"persistent_peers":   strings.Join(node.Peers, ","),
			"addr_book_strict":   false,
			"allow_duplicate_ip": true,
		},
	}
	return deepMerge(base, chain.Config)
}

func appOverrides(chain domain.ChainSpec, node domain.NodeSpec) map[string]any {
	base := map[string]any{
		"minimum-gas-prices": "0" + chain.Denom,
		"api": map[string]any{
			"enable":  true,
			"address": fmt.Sprintf("tcp://%s:%d", listenHost, node.Ports.API),
		},
		"grpc": map[string]any{
			"enable":  true,
			"address": fmt.Sprintf("%s:%d", listenHost, node.Ports.GRPC),
		},
	}
	return deepMerge(base, chain.AppConfig)
}

func clientOverrides(chain domain.ChainSpec, node domain.NodeSpec) map[string]any {
	return map[string]any{
		"chain-id":        chain.ID,
		"keyring-backend": "test",
		"node":            fmt.Sprintf("tcp://%s:%d", listenHost, node.Ports.RPC),
	}
}

// patchTOML merges overrides into the TOML file at path, creating it if it
// does not exist.
func patchTOML(path string, overrides map[string]any) error {
	doc := map[string]any{}
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(b, &doc); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return err
	}

	out, err := toml.Marshal(deepMerge(doc, overrides))
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	_, err = fs.WriteFileAtomic(path, out, 0o644)
	return err
}

// writeNodeConfig applies every override of node under home.
func writeNodeConfig(home string, chain domain.ChainSpec, node domain.NodeSpec) error {
	dir := filepath.Join(home, "config")
	files := []struct {
		name      string
		overrides map[string]any
	}{
		{configTOML, configOverrides(chain, node)},
		{appTOML, appOverrides(chain, node)},
		{clientTOML, clientOverrides(chain, node)},
	}
	for _, f := range files {
		if err := patchTOML(filepath.Join(dir, f.name), f.overrides); err != nil {
			return err
		}
	}
	return nil
}
