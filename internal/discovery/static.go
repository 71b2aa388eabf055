package discovery

import (
	"fmt"
	"strings"

	"github.com/hkarim/crdtstore/internal/model"
)

// ParseStaticScheme parses seed entries of the form "id=host:port" into a
// fixed current scheme (no target, i.e. not rebalancing), for constant
// discovery. GossipConfig.SeedNodes do not use this convention: they are
// handed to memberlist.Join as given (plain host:port), so this parser is
// only used by the constant backend.
func ParseStaticScheme(entries []string) (model.Scheme[string], error) {
	current := make(map[string]model.Endpoint, len(entries))
	for _, entry := range entries {
		id, addr, err := parseSeedEntry(entry)
		if err != nil {
			return model.Scheme[string]{}, err
		}
		current[id] = model.Endpoint{ID: id, Addr: addr}
	}
	return model.Scheme[string]{Current: current}, nil
}

func parseSeedEntry(entry string) (id, addr string, err error) {
	parts := strings.SplitN(entry, "=", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("discovery: invalid seed entry %q, want \"id=host:port\"", entry)
	}
	return parts[0], parts[1], nil
}
