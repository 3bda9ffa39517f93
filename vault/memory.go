package vault

import (
	"context"
	"fmt"
)

// MemorySource serves secrets from a fixed map. Test use only.
type MemorySource struct {
	Secrets map[string]string
}

func (s *MemorySource) Fetch(ctx context.Context, names []string) (*Bundle, error) {
	values := make(map[string][]byte, len(names))
	for _, name := range names {
		v, ok := s.Secrets[name]
		if !ok {
			return nil, fmt.Errorf("secret %s not found", name)
		}
		values[name] = []byte(v)
	}
	return newBundle(values), nil
}
