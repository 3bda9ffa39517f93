package vault

import (
	"context"
	"fmt"
	"path"

	consulapi "github.com/hashicorp/consul/api"
)

// ConsulSource reads secrets from the Consul KV store under a fixed
// prefix. Secrets are addressed by name: prefix/<name>.
type ConsulSource struct {
	kv     *consulapi.KV
	status *consulapi.Status
	prefix string
}

func NewConsulSource(addr, prefix string) (*ConsulSource, error) {
	cfg := consulapi.DefaultConfig()
	cfg.Address = addr

	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	return &ConsulSource{kv: client.KV(), status: client.Status(), prefix: prefix}, nil
}

// Healthy checks connectivity to Consul.
func (s *ConsulSource) Healthy() error {
	_, err := s.status.Leader()
	return err
}

func (s *ConsulSource) Fetch(ctx context.Context, names []string) (*Bundle, error) {
	values := make(map[string][]byte, len(names))
	opts := (&consulapi.QueryOptions{}).WithContext(ctx)

	for _, name := range names {
		pair, _, err := s.kv.Get(path.Join(s.prefix, name), opts)
		if err != nil {
			return nil, fmt.Errorf("consul kv get %s: %w", name, err)
		}
		if pair == nil {
			return nil, fmt.Errorf("secret %s not found", name)
		}
		// Copy out of the API response so Clear owns the only reference.
		v := make([]byte, len(pair.Value))
		copy(v, pair.Value)
		values[name] = v
	}
	return newBundle(values), nil
}
