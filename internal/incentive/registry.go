package incentive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bribemeter/internal/domain"
)

// Registry maps gauge addresses to the short names used as proposal choices.
type Registry struct {
	names map[common.Address]string
}

var _ domain.GaugeRegistry = (*Registry)(nil)

// NewRegistry builds a registry from address/name pairs.
func NewRegistry(names map[string]string) (*Registry, error) {
	r := &Registry{names: make(map[common.Address]string, len(names))}
	for addr, name := range names {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("incentive: registry: bad gauge address %q", addr)
		}
		r.names[common.HexToAddress(addr)] = name
	}
	return r, nil
}

// ParseRegistry reads the {"gauges": {"<address>": {"shortName": ...}}}
// document.
func ParseRegistry(rd io.Reader) (*Registry, error) {
	var doc struct {
		Gauges map[string]struct {
			ShortName string `json:"shortName"`
		} `json:"gauges"`
	}
	if err := json.NewDecoder(rd).Decode(&doc); err != nil {
		return nil, fmt.Errorf("incentive: registry: %w", err)
	}
	names := make(map[string]string, len(doc.Gauges))
	for addr, g := range doc.Gauges {
		names[addr] = g.ShortName
	}
	return NewRegistry(names)
}

// LoadRegistry reads a registry file.
func LoadRegistry(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("incentive: registry: %w", err)
	}
	defer f.Close()
	return ParseRegistry(f)
}

// Name returns the short name of gauge.
func (r *Registry) Name(gauge common.Address) (string, bool) {
	n, ok := r.names[gauge]
	return n, ok
}

// Len returns the number of gauges.
func (r *Registry) Len() int { return len(r.names) }
