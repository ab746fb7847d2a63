package chaind

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bft-labs/localnet/internal/ports"
)

// writeNodeKey writes a node_key.json under home and returns the expected node id.
func writeNodeKey(t *testing.T, home string) string {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	var nk nodeKey
	nk.PrivKey.Type = "tendermint/PrivKeyEd25519"
	nk.PrivKey.Value = base64.StdEncoding.EncodeToString(priv)
	b, _ := json.Marshal(nk)

	require.NoError(t, os.MkdirAll(filepath.Join(home, ConfigDir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(home, ConfigDir, NodeKeyFileName), b, 0o644))

	sha := sha256.Sum256(pub)
	return hex.EncodeToString(sha[:20])
}

func TestReadNodeID(t *testing.T) {
	home := t.TempDir()
	want := writeNodeKey(t, home)

	got, err := ReadNodeID(home)
	require.NoError(t, err)
	require.Equal(t, want, got)

	_, err = ReadNodeID(t.TempDir())
	require.Error(t, err)
}

func TestReadChainID(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, ConfigDir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(home, ConfigDir, GenesisFileName), []byte(`{"chain_id":"chain-a"}`), 0o644))

	got, err := ReadChainID(home)
	require.NoError(t, err)
	require.Equal(t, "chain-a", got)
}

// fakeBinary emulates the subset of a chain CLI the executor drives.
type fakeBinary struct {
	t      *testing.T
	mu     sync.Mutex
	calls  [][]string
	nodeID string
}

func argValue(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func (f *fakeBinary) run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()

	home := argValue(args, "--home")
	switch {
	case args[0] == "init":
		f.nodeID = writeNodeKey(f.t, home)
		return nil, []byte(`{"moniker":"m"}`), nil
	case args[0] == "keys":
		return []byte(fmt.Sprintf(`{"name":%q,"address":"cosmos1%s","mnemonic":"word word"}`, args[2], args[2])), nil, nil
	case len(args) > 1 && args[1] == "gentx":
		out := argValue(args, "--output-document")
		require.NoError(f.t, os.MkdirAll(filepath.Dir(out), 0o755))
		return nil, nil, os.WriteFile(out, []byte(`{"body":{}}`), 0o644)
	case len(args) > 1 && args[1] == "collect-gentxs":
		return nil, nil, os.WriteFile(filepath.Join(home, ConfigDir, GenesisFileName), []byte(`{"chain_id":"c"}`), 0o644)
	case args[0] == "tendermint":
		return []byte(`{"@type":"/cosmos.crypto.ed25519.PubKey","key":"abc"}` + "\n"), nil, nil
	}
	return []byte("ok"), nil, nil
}

func TestInitValidator(t *testing.T) {
	fb := &fakeBinary{t: t}
	e := New("chaind", WithRunner(fb.run))
	home := t.TempDir()

	frag, err := e.InitValidator(context.Background(), ports.ValidatorRequest{
		Home: home, ChainID: "chain-a", Moniker: "node0", Denom: "stake", Coins: "10stake", Staked: "5stake",
	})
	require.NoError(t, err)
	require.Equal(t, fb.nodeID, frag.NodeID)
	require.Equal(t, "cosmos1validator", frag.Address)
	require.JSONEq(t, `{"body":{}}`, string(frag.GenTx))
	require.Contains(t, frag.PubKey, "ed25519")

	var subcommands []string
	for _, c := range fb.calls {
		require.Equal(t, "chaind", c[0])
		require.Equal(t, home, argValue(c, "--home"))
		subcommands = append(subcommands, strings.Join(c[1:3], " "))
	}
	require.Equal(t, []string{
		"init node0",
		"keys add",
		"genesis add-genesis-account",
		"genesis gentx",
		"tendermint show-validator",
	}, subcommands)
}

func TestAssembleGenesis(t *testing.T) {
	fb := &fakeBinary{t: t}
	e := New("chaind", WithRunner(fb.run))
	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, ConfigDir), 0o755))

	gen, err := e.AssembleGenesis(context.Background(), home, "c",
		[]ports.GenesisAccount{{Address: "cosmos1a", Coins: "1stake"}, {Address: "cosmos1b", Coins: "2stake"}},
		[][]byte{[]byte(`{"tx":1}`)})
	require.NoError(t, err)
	require.JSONEq(t, `{"chain_id":"c"}`, string(gen))

	written, err := os.ReadFile(filepath.Join(home, ConfigDir, "gentx", "gentx-peer0.json"))
	require.NoError(t, err)
	require.JSONEq(t, `{"tx":1}`, string(written))

	var accounts int
	for _, c := range fb.calls {
		if len(c) > 2 && c[2] == "add-genesis-account" {
			accounts++
		}
	}
	require.Equal(t, 2, accounts)
}

func TestExecErrorIncludesStderr(t *testing.T) {
	e := New("chaind", WithRunner(func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		return nil, []byte("boom\n"), errors.New("exit status 1")
	}))
	_, err := e.AddKey(context.Background(), t.TempDir(), "k")
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
	require.Contains(t, err.Error(), "add key k")
}
