package vault

import (
	"context"
	"fmt"
	"os/exec"

	"gopkg.in/yaml.v3"
)

// SOPSSource reads secrets from a single SOPS-encrypted YAML file,
// decrypted on every fetch. Local fallback when no Consul is configured.
type SOPSSource struct {
	path string
}

func NewSOPSSource(path string) *SOPSSource {
	return &SOPSSource{path: path}
}

func (s *SOPSSource) Fetch(ctx context.Context, names []string) (*Bundle, error) {
	cmd := exec.CommandContext(ctx, "sops", "--decrypt", s.path)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("sops decrypt: %w", err)
	}

	var data map[string]string
	if err := yaml.Unmarshal(out, &data); err != nil {
		return nil, fmt.Errorf("unmarshal secrets: %w", err)
	}

	values := make(map[string][]byte, len(names))
	for _, name := range names {
		v, ok := data[name]
		if !ok {
			return nil, fmt.Errorf("secret %s not found in %s", name, s.path)
		}
		values[name] = []byte(v)
	}
	return newBundle(values), nil
}
