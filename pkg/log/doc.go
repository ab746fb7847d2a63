// Package log provides the structured logging abstraction used across localnet.
//
// Libraries take a Logger and never talk to a concrete logging backend. The
// CLI wires the zerolog adapter; tests use the no-op logger.
//
//	logger := log.NewZerologAdapter()
//	logger.Info("cluster initialized", log.String("data", dataDir))
//
// Loggers can be scoped with additional fields:
//
//	procLog := logger.With(log.String("process", "chain-1/node0"))
package log
