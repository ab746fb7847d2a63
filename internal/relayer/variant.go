package relayer

import (
	"sort"
	"strings"

	"github.com/bft-labs/localnet/internal/domain"
)

// Variant knows how to drive one relayer implementation.
type Variant interface {
	Name() string
	// ConfigFile renders the relayer configuration file.
	ConfigFile(in Input) ([]byte, error)
	// ImportKeyArgs imports the relayer key of chain c.
	ImportKeyArgs(in Input, c ChainEndpoint) []string
	// CreateChannelArgs opens a transfer channel for path p, creating clients
	// and a connection as needed.
	CreateChannelArgs(in Input, p domain.RelayerPath) []string
	// StartArgs runs the relayer in the foreground.
	StartArgs(in Input) []string
}

// Registry maps variant names to implementations.
type Registry map[string]Variant

// DefaultRegistry returns a registry with the built-in variants.
func DefaultRegistry() Registry {
	r := Registry{}
	r.Register(Hermes{})
	return r
}

// Register adds or replaces v.
func (r Registry) Register(v Variant) {
	r[v.Name()] = v
}

// Lookup returns the named variant or a *domain.RelayerConfigError.
func (r Registry) Lookup(name string) (Variant, error) {
	v, ok := r[name]
	if !ok {
		return nil, &domain.RelayerConfigError{Variant: name, Reason: "unknown relayer variant (known: " + joinNames(r) + ")"}
	}
	return v, nil
}

func joinNames(r Registry) string {
	names := make([]string, 0, len(r))
	for n := range r {
		names = append(names, n)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
