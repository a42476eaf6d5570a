package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/watchrelay/internal/collection"
)

// CollectionEntry names one collection to watch: an API base such as
// /api/v1/pods and an optional namespace.
type CollectionEntry struct {
	API       string `yaml:"api"`
	Namespace string `yaml:"namespace,omitempty"`
}

// Subscriptions is the watchtail YAML subscription list.
type Subscriptions struct {
	Collections []CollectionEntry `yaml:"collections"`
}

// LoadSubscriptions reads and validates a subscription YAML file. Returns an
// os.ErrNotExist-wrapped error if the file is absent.
func LoadSubscriptions(path string) (*Subscriptions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("subscriptions config: %w", err)
	}
	var s Subscriptions
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("subscriptions config: %w", err)
	}
	if len(s.Collections) < 1 {
		return nil, fmt.Errorf("subscriptions config: at least one collection is required")
	}
	if _, err := s.Refs(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Refs returns the configured collections.
func (s *Subscriptions) Refs() ([]collection.Ref, error) {
	refs := make([]collection.Ref, 0, len(s.Collections))
	for i, c := range s.Collections {
		if c.API == "" {
			return nil, fmt.Errorf("subscriptions config: collections[%d] missing api", i)
		}
		ref, err := collection.New(c.API, c.Namespace)
		if err != nil {
			return nil, fmt.Errorf("subscriptions config: collections[%d]: %w", i, err)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}
