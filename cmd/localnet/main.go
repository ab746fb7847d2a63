package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/localnet/internal/app"
	"github.com/bft-labs/localnet/internal/cliconfig"
	"github.com/bft-labs/localnet/internal/tailer"
	"github.com/bft-labs/localnet/internal/topology"
	"github.com/bft-labs/localnet/pkg/log"
)

const longHelp = `Run a local multi-chain, multi-validator devnet as supervised processes.

Every node gets its own home under the data directory, collision-free ports
and a supervised process; an optional relayer links the chains once they
answer on RPC. Configure via ~/.localnet/config.toml, LOCALNET_* environment
variables, or flags (later wins).`

var exampleUsage = strings.TrimSpace(`
  localnet serve --config ./config.yaml --data ./data
  localnet init --config ./config.yaml && localnet start --quiet
  localnet ctl restart chain-a-node1
  localnet chaind --chain-id chain-a --node 0 -- status
  localnet stop
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

// cli carries the resolved configuration to every subcommand.
type cli struct {
	cfg     cliconfig.Config
	cfgPath string
	logger  zerolog.Logger
}

// load layers the config file and LOCALNET_* variables under the flags that
// were set explicitly.
func (c *cli) load(cmd *cobra.Command) error {
	cfgFile := c.cfgPath
	if cfgFile == "" {
		cfgFile = cliconfig.DefaultConfigPath()
	}

	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if cfgFile != "" && cliconfig.FileExists(cfgFile) {
		fc, err := cliconfig.LoadFileConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(&c.cfg, fc, changed); err != nil {
			return err
		}
	}
	if err := cliconfig.ApplyEnvConfig(&c.cfg, changed); err != nil {
		return err
	}
	if err := c.cfg.Validate(); err != nil {
		return err
	}

	c.logger = cliconfig.Logger(c.cfg)
	c.logger.Debug().Interface("config", c.cfg).Msg("configuration")
	return nil
}

func (c *cli) orchestrator() *app.Orchestrator {
	color := !c.cfg.NoColor && tailer.IsTerminal(os.Stdout)
	return app.New(c.cfg.DataDir,
		app.WithLogger(log.NewZerologAdapterWithLogger(c.logger)),
		app.WithOutput(os.Stdout, color),
	)
}

func (c *cli) initOptions(resume bool) app.InitOptions {
	return app.InitOptions{
		TopologyPath:   c.cfg.Topology,
		Defaults:       topology.Defaults{Command: c.cfg.Command, BasePort: uint16(c.cfg.BasePort)},
		Resume:         resume,
		RelayerVariant: c.cfg.RelayerVariant,
	}
}

func (c *cli) startOptions() app.StartOptions {
	return app.StartOptions{Quiet: c.cfg.Quiet, Metrics: c.cfg.Metrics}
}

func main() {
	c := &cli{cfg: cliconfig.DefaultConfig()}
	c.logger = cliconfig.Logger(c.cfg)

	root := &cobra.Command{
		Use:           "localnet",
		Short:         "Run a local multi-chain devnet",
		Long:          longHelp,
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.cfgPath, "settings", "", "path to settings file (default: $HOME/.localnet/config.toml)")
	pf.StringVar(&c.cfg.DataDir, "data", c.cfg.DataDir, "data directory holding node homes, logs and cluster state")
	pf.StringVar(&c.cfg.Topology, "config", c.cfg.Topology, "topology file (YAML)")
	pf.StringVar(&c.cfg.Command, "cmd", c.cfg.Command, "chain executable for chains that do not set cmd")
	pf.IntVar(&c.cfg.BasePort, "base-port", c.cfg.BasePort, "port base for chains that do not set base_port")
	pf.StringVar(&c.cfg.RelayerVariant, "relayer", c.cfg.RelayerVariant, "relayer variant, overriding the topology")
	pf.BoolVar(&c.cfg.Quiet, "quiet", c.cfg.Quiet, "do not merge process logs into stdout")
	pf.BoolVar(&c.cfg.Metrics, "metrics", c.cfg.Metrics, "serve prometheus metrics on the allocated metrics port")
	pf.StringVar(&c.cfg.LogLevel, "log-level", c.cfg.LogLevel, "log level (debug, info, warn, error)")
	pf.BoolVar(&c.cfg.NoColor, "no-color", c.cfg.NoColor, "disable colored output")
	pf.DurationVar(&c.cfg.Timeout, "timeout", c.cfg.Timeout, "how long stop and terminate wait for the group to exit")

	root.AddCommand(
		initCmd(c),
		startCmd(c),
		serveCmd(c),
		stopCmd(c),
		terminateCmd(c),
		statusCmd(c),
		ctlCmd(c),
		chaindCmd(c),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		c.logger.Error().Err(err).Msg("localnet")
		os.Exit(1)
	}
}

func initCmd(c *cli) *cobra.Command {
	var resume bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the data directory from the topology",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := c.orchestrator().Initialize(cmd.Context(), c.initOptions(resume))
			if err != nil {
				return err
			}
			c.logger.Info().Str("state", string(state)).Str("data", c.cfg.DataDir).Msg("ready, run localnet start")
			return nil
		},
	}
	cmd.Flags().BoolVar(&resume, "resume", false, "keep keys and genesis of an initialized data directory")
	return cmd
}

func startCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the initialized cluster in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.orchestrator().Start(cmd.Context(), c.startOptions())
		},
	}
}

func serveCmd(c *cli) *cobra.Command {
	var resume bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Initialize and start in one step",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o := c.orchestrator()
			if _, err := o.Initialize(cmd.Context(), c.initOptions(resume)); err != nil {
				return err
			}
			return o.Start(cmd.Context(), c.startOptions())
		},
	}
	cmd.Flags().BoolVar(&resume, "resume", false, "keep keys and genesis of an initialized data directory")
	return cmd
}

func stopCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "stop [process]",
		Short: "Gracefully stop one process, or the whole cluster",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), c.cfg.Timeout)
			defer cancel()
			infos, err := c.orchestrator().Stop(ctx, firstArg(args))
			if err != nil {
				return err
			}
			if infos == nil {
				c.logger.Info().Str("data", c.cfg.DataDir).Msg("cluster stopped")
				return nil
			}
			return app.WriteProcessTable(cmd.OutOrStdout(), infos)
		},
	}
}

func terminateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "terminate [process]",
		Short: "Kill one process, or every process and the supervisor",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), c.cfg.Timeout)
			defer cancel()
			infos, err := c.orchestrator().Terminate(ctx, firstArg(args))
			if err != nil {
				return err
			}
			if infos == nil {
				c.logger.Info().Str("data", c.cfg.DataDir).Msg("cluster terminated")
				return nil
			}
			return app.WriteProcessTable(cmd.OutOrStdout(), infos)
		},
	}
}

func statusCmd(c *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show cluster state and process status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := c.orchestrator().Status(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(r)
			}
			fmt.Fprintf(out, "cluster: %s (%s)\n", r.State, c.cfg.DataDir)
			if !r.Running {
				fmt.Fprintln(out, "supervisor: not running")
				return nil
			}
			return app.WriteProcessTable(out, r.Processes)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func ctlCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "ctl [status | start|stop|restart|terminate <name> | shutdown]",
		Short: "Send a command to the running supervisor",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), c.cfg.Timeout)
			defer cancel()
			return c.orchestrator().Ctl(ctx, cmd.OutOrStdout(), args)
		},
	}
}

func chaindCmd(c *cli) *cobra.Command {
	var (
		chainID string
		node    int
	)
	cmd := &cobra.Command{
		Use:   "chaind --chain-id <id> [--node <n>] -- [args...]",
		Short: "Run the chain binary against a node home",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.orchestrator().Chaind(chainID, node, args)
		},
	}
	cmd.Flags().StringVar(&chainID, "chain-id", "", "chain of the node")
	cmd.Flags().IntVar(&node, "node", 0, "node ordinal within the chain")
	_ = cmd.MarkFlagRequired("chain-id")
	return cmd
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
