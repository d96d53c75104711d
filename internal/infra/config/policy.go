package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/arklim/social-platform-growth/internal/core/domain"
)

// LoadPolicy reads an optional YAML policy document layered over domain.DefaultPolicy.
// An empty path returns the defaults.
func LoadPolicy(path string) (domain.Policy, error) {
	policy := domain.DefaultPolicy()
	if path == "" {
		return policy, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.Policy{}, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicy(raw)
}

// ParsePolicy decodes a YAML policy document layered over domain.DefaultPolicy and validates the result.
func ParsePolicy(raw []byte) (domain.Policy, error) {
	policy := domain.DefaultPolicy()

	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(&policy); err != nil && !errors.Is(err, io.EOF) {
		return domain.Policy{}, fmt.Errorf("decode policy: %w", err)
	}

	if err := policy.Validate(); err != nil {
		return domain.Policy{}, err
	}
	return policy, nil
}
