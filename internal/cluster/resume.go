package cluster

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bft-labs/localnet/internal/adapters/chaind"
	"github.com/bft-labs/localnet/internal/adapters/fs"
	"github.com/bft-labs/localnet/internal/descriptor"
	"github.com/bft-labs/localnet/internal/domain"
	"github.com/bft-labs/localnet/internal/portalloc"
	"github.com/bft-labs/localnet/internal/relayer"
	"github.com/bft-labs/localnet/pkg/log"
)

// nodeArtifacts are the files every node home must keep between runs.
var nodeArtifacts = []string{
	filepath.Join(chaind.ConfigDir, chaind.GenesisFileName),
	filepath.Join(chaind.ConfigDir, chaind.NodeKeyFileName),
	filepath.Join(chaind.ConfigDir, chaind.PrivValFileName),
	filepath.Join(chaind.ConfigDir, configTOML),
	filepath.Join(chaind.ConfigDir, appTOML),
}

// Resume verifies an existing data directory against t, re-applies config
// overrides and regenerates the descriptor without touching chain data.
func (in *Initializer) Resume(ctx context.Context, t domain.Topology) (domain.ClusterRecord, error) {
	plan, err := portalloc.NewPlan(t)
	if err != nil {
		return domain.ClusterRecord{}, err
	}

	if _, err := os.Stat(in.layout.DataDir); err != nil {
		return domain.ClusterRecord{}, &domain.ResumeError{Artifact: in.layout.DataDir, Reason: "data directory missing"}
	}
	lock, err := fs.AcquireLock(in.layout.LockFile(), "resume")
	if err != nil {
		return domain.ClusterRecord{}, err
	}
	defer lock.Release()

	rec, err := in.repo.Load(ctx)
	if err != nil {
		return domain.ClusterRecord{}, &domain.ResumeError{Artifact: in.layout.StateFile(), Reason: err.Error()}
	}
	switch rec.State {
	case domain.StateInitialized, domain.StateStopped:
	case domain.StateRunning:
		// Holding the lock means no supervisor owns this directory.
		in.logger.Warn("resuming a cluster that did not shut down cleanly", log.String("data", in.layout.DataDir))
	default:
		return domain.ClusterRecord{}, &domain.ResumeError{Artifact: in.layout.StateFile(), Reason: fmt.Sprintf("cannot resume from state %s", rec.State)}
	}
	if rec.Topology != Fingerprint(t) {
		return domain.ClusterRecord{}, &domain.ResumeError{Artifact: "topology", Reason: "chain/node layout differs from the initialized cluster"}
	}

	addresses := map[string]string{}
	for i, c := range t.Chains {
		cr, ok := rec.Chain(c.ID)
		if !ok || len(cr.Nodes) != len(c.Validators) {
			return domain.ClusterRecord{}, &domain.ResumeError{Artifact: in.layout.ChainDir(c.ID), Reason: "chain not recorded in cluster state"}
		}
		if err := in.verifyChain(c, cr); err != nil {
			return domain.ClusterRecord{}, err
		}

		ids := make([]string, len(cr.Nodes))
		for j, n := range cr.Nodes {
			ids[j] = n.NodeID
		}
		for _, node := range nodeSpecs(in.layout, c, i, plan, ids) {
			if err := writeNodeConfig(node.Home, c, node); err != nil {
				return domain.ClusterRecord{}, &domain.ResumeError{Node: node.Name(), Artifact: filepath.Join(node.Home, chaind.ConfigDir), Reason: err.Error()}
			}
		}
		addresses[c.ID] = cr.RelayerAddress
	}

	var relayerEntry *domain.ProcessEntry
	if t.Relayer != nil {
		rin, err := relayer.NewInput(t, plan, in.layout, addresses)
		if err != nil {
			return domain.ClusterRecord{}, err
		}
		for _, c := range rin.Chains {
			if _, err := os.Stat(c.MnemonicFile); err != nil {
				return domain.ClusterRecord{}, &domain.ResumeError{Node: domain.RelayerProcess, Artifact: c.MnemonicFile, Reason: "missing"}
			}
		}
		if _, err := in.relayer.Refresh(rin); err != nil {
			return domain.ClusterRecord{}, err
		}
		e, err := in.relayer.Entry(rin)
		if err != nil {
			return domain.ClusterRecord{}, err
		}
		relayerEntry = &e
	}

	changed, err := descriptor.Write(in.layout.DescriptorFile(), descriptor.Generate(t, plan, in.layout, relayerEntry))
	if err != nil {
		return domain.ClusterRecord{}, fmt.Errorf("write descriptor: %w", err)
	}
	in.logger.Debug("descriptor regenerated", log.Bool("changed", changed))

	if err := rec.Transition(domain.StateInitialized, in.now()); err != nil {
		return domain.ClusterRecord{}, err
	}
	if err := in.repo.Save(ctx, rec); err != nil {
		return domain.ClusterRecord{}, fmt.Errorf("save cluster state: %w", err)
	}
	in.logger.Info("cluster resumed", log.String("data", in.layout.DataDir))
	return rec, nil
}

func (in *Initializer) verifyChain(c domain.ChainSpec, cr domain.ChainRecord) error {
	for i, n := range cr.Nodes {
		name := domain.ProcessName(c.ID, i)
		home := in.layout.NodeHome(c.ID, i)
		for _, a := range nodeArtifacts {
			p := filepath.Join(home, a)
			if _, err := os.Stat(p); err != nil {
				return &domain.ResumeError{Node: name, Artifact: p, Reason: "missing"}
			}
		}

		genPath := filepath.Join(home, chaind.ConfigDir, chaind.GenesisFileName)
		gen, err := os.ReadFile(genPath)
		if err != nil {
			return &domain.ResumeError{Node: name, Artifact: genPath, Reason: err.Error()}
		}
		if checksum(gen) != cr.GenesisSHA256 {
			return &domain.ResumeError{Node: name, Artifact: genPath, Reason: "genesis checksum mismatch"}
		}

		id, err := chaind.ReadNodeID(home)
		if err != nil {
			return &domain.ResumeError{Node: name, Artifact: filepath.Join(home, chaind.ConfigDir, chaind.NodeKeyFileName), Reason: err.Error()}
		}
		if id != n.NodeID {
			return &domain.ResumeError{Node: name, Artifact: filepath.Join(home, chaind.ConfigDir, chaind.NodeKeyFileName), Reason: "node id changed"}
		}
	}
	return nil
}
