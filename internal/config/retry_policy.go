package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RetryOverride is a per-path retry setting read from the policy file.
// Zero fields inherit the client's default policy.
type RetryOverride struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	RetryAll     bool          `yaml:"retry_all"`
}

// RetryPolicyFile maps request path prefixes to overrides, e.g.
//
//	paths:
//	  /api/sales/complete:
//	    max_attempts: 1
//	  /api/products:
//	    initial_delay: 500ms
type RetryPolicyFile struct {
	Paths map[string]RetryOverride `yaml:"paths"`
}

// LoadRetryPolicies reads a YAML policy file. An empty path yields an empty set.
func LoadRetryPolicies(path string) (*RetryPolicyFile, error) {
	if path == "" {
		return &RetryPolicyFile{Paths: map[string]RetryOverride{}}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading retry policy file %s: %w", path, err)
	}
	return ParseRetryPolicies(data)
}

// ParseRetryPolicies decodes the YAML policy document.
func ParseRetryPolicies(data []byte) (*RetryPolicyFile, error) {
	var f RetryPolicyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parsing retry policy file: %w", err)
	}
	if f.Paths == nil {
		f.Paths = map[string]RetryOverride{}
	}
	for p, o := range f.Paths {
		if o.MaxAttempts < 0 {
			return nil, fmt.Errorf("config: retry policy for %s has negative max_attempts", p)
		}
	}
	return &f, nil
}
