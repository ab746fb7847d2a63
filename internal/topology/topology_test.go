package topology

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bft-labs/localnet/internal/domain"
)

const twoByTwo = `
cmd: chaind
chains:
  - chain_id: chain-a
    base_port: 26650
    validators:
      - moniker: alice
        coins: 5000stake
      - {}
    accounts:
      - name: community
        coins: 100stake
    genesis:
      app_state:
        staking:
          params:
            unbonding_time: 60s
    config:
      consensus:
        timeout_commit: 1s
    start_flags: "--trace --log_level 'info'"
    critical: true
  - chain_id: chain-b
    cmd: otherd
    denom: uatom
    validators: 2
relayer:
  paths:
    - [chain-a, chain-b]
supervisor:
  max_retries: 5
  backoff_initial: 200ms
`

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "topology.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadWithDefaults(t *testing.T) {
	path := writeFile(t, twoByTwo)
	topo, err := LoadWithDefaults(path, Defaults{Command: "fallbackd", BasePort: 30000})
	require.NoError(t, err)
	require.Len(t, topo.Chains, 2)

	a := topo.Chains[0]
	require.Equal(t, "chain-a", a.ID)
	require.Equal(t, "chaind", a.Command)
	require.Equal(t, uint16(26650), a.BasePort)
	require.Equal(t, DefaultDenom, a.Denom)
	require.Equal(t, "alice", a.Validators[0].MonikerFor(0))
	require.Equal(t, "5000stake", a.Validators[0].Coins)
	require.Equal(t, "node1", a.Validators[1].MonikerFor(1))
	require.Equal(t, defaultStaked+"stake", a.Validators[1].Staked)
	require.Equal(t, []string{"--trace", "--log_level", "info"}, a.StartFlags)
	require.True(t, a.Critical)
	require.Equal(t, []domain.AccountSpec{{Name: "community", Coins: "100stake"}}, a.Accounts)
	require.Contains(t, a.Genesis, "app_state")

	b := topo.Chains[1]
	require.Equal(t, "otherd", b.Command)
	require.Equal(t, uint16(30000), b.BasePort)
	require.Len(t, b.Validators, 2)
	require.Equal(t, defaultValidatorCoins+"uatom", b.Validators[0].Coins)

	require.NotNil(t, topo.Relayer)
	require.Equal(t, DefaultRelayerVariant, topo.Relayer.Variant)
	require.Equal(t, "hermes", topo.Relayer.Command)
	require.Equal(t, []domain.RelayerPath{{A: "chain-a", B: "chain-b"}}, topo.Relayer.Paths)

	require.Equal(t, 5, topo.Supervisor.MaxRetries)
	require.Equal(t, 200*time.Millisecond, topo.Supervisor.BackoffInitial)
	require.Equal(t, domain.DefaultBackoffMax, topo.Supervisor.BackoffMax)
	require.Equal(t, domain.DefaultGracePeriod, topo.Supervisor.GracePeriod)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"missing chain id", "cmd: d\nchains:\n  - base_port: 26650\n    validators: 1\n"},
		{"duplicate chain id", "cmd: d\nchains:\n  - {chain_id: a, base_port: 26650, validators: 1}\n  - {chain_id: a, base_port: 27650, validators: 1}\n"},
		{"zero validators", "cmd: d\nchains:\n  - {chain_id: a, base_port: 26650, validators: 0}\n"},
		{"too many validators", "cmd: d\nchains:\n  - {chain_id: a, base_port: 26650, validators: 17}\n"},
		{"no executable", "chains:\n  - {chain_id: a, base_port: 26650, validators: 1}\n"},
		{"no base port", "cmd: d\nchains:\n  - {chain_id: a, validators: 1}\n"},
		{"port overflow", "cmd: d\nchains:\n  - {chain_id: a, base_port: 65530, validators: 1}\n"},
		{"base port out of range", "cmd: d\nchains:\n  - {chain_id: a, base_port: 70000, validators: 1}\n"},
		{"overlapping ranges", "cmd: d\nchains:\n  - {chain_id: a, base_port: 26650, validators: 2}\n  - {chain_id: b, base_port: 26500, validators: 2}\n"},
		{"unknown relayer chain", "cmd: d\nchains:\n  - {chain_id: a, base_port: 26650, validators: 1}\nrelayer:\n  paths: [[a, z]]\n"},
		{"self linked", "cmd: d\nchains:\n  - {chain_id: a, base_port: 26650, validators: 1}\nrelayer:\n  paths: [[a, a]]\n"},
		{"bad start flags", "cmd: d\nchains:\n  - {chain_id: a, base_port: 26650, validators: 1, start_flags: \"'open\"}\n"},
		{"bad duration", "cmd: d\nchains:\n  - {chain_id: a, base_port: 26650, validators: 1}\nsupervisor:\n  grace_period: soon\n"},
		{"unknown field", "cmd: d\nchainz: []\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, tt.body)
			_, err := Load(path)
			require.Error(t, err)
			require.True(t, errors.Is(err, domain.ErrConfig), "got %v", err)

			var ce *domain.ConfigError
			require.ErrorAs(t, err, &ce)
			require.Equal(t, path, ce.Path)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorIs(t, err, domain.ErrConfig)
}
