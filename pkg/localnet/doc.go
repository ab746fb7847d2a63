// Package localnet runs a local multi-chain devnet as supervised OS processes
// and can be embedded in other Go programs, typically integration test
// harnesses.
//
// # Basic Usage
//
//	cfg := localnet.Config{
//	    DataDir:  "/tmp/devnet",
//	    Topology: "testdata/config.yaml",
//	}
//
//	net, err := localnet.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := net.Init(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Start blocks until the group is shut down.
//	go func() { errCh <- net.Start(ctx) }()
//
//	// ... run tests against the nodes ...
//
//	_ = net.Stop(context.Background(), "")
//
// # Configuration
//
// A [Config] needs a DataDir and, for Init and Resume, a Topology file. The
// topology is YAML; see the internal topology package for its schema.
// Omitted fields get defaults from [Config.SetDefaults].
//
// # Event Handling
//
// Implement [EventHandler] and pass it via [WithEventHandler] to observe the
// process group. Events are delivered synchronously from supervisor
// goroutines and must return quickly.
//
// # Controlling a running group
//
// Stop, Terminate and Status talk to the running group through the control
// socket in the data directory, so they work from any process, not only the
// one that called Start.
package localnet
