package relay

import (
	"fmt"
	"os"
	"strings"

	"github.com/dgnsrekt/watchrelay/internal/collection"
	"gopkg.in/yaml.v3"
)

// Policy restricts which collections a relay serves.
type Policy struct {
	// Allow lists collection URL prefixes. A collection is served when its
	// URL or its cluster-wide API base starts with one of them. An empty list
	// allows everything.
	Allow []string `yaml:"allow"`
}

// LoadPolicy reads and validates a relay policy YAML file.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("relay policy: %w", err)
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("relay policy: %w", err)
	}
	for i, prefix := range p.Allow {
		if !strings.HasPrefix(prefix, "/api/") && !strings.HasPrefix(prefix, "/apis/") {
			return nil, fmt.Errorf("relay policy: allow[%d] (%q) must start with /api/ or /apis/", i, prefix)
		}
	}
	return &p, nil
}

// Allows reports whether ref may be watched. A nil policy allows everything.
func (p *Policy) Allows(ref collection.Ref) bool {
	if p == nil || len(p.Allow) == 0 {
		return true
	}
	url := ref.URL()
	for _, prefix := range p.Allow {
		if strings.HasPrefix(url, prefix) || strings.HasPrefix(ref.APIBase, prefix) {
			return true
		}
	}
	return false
}
