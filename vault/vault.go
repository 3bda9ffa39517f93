package vault

import (
	"context"
	"fmt"
	"sync"
)

// Source retrieves named secrets from an external store. Read-only:
// nothing in this package can write a secret back.
type Source interface {
	Fetch(ctx context.Context, names []string) (*Bundle, error)
}

// Bundle holds secret values for the lifetime of one pipeline run. Values
// exist only in process memory; Clear must be called on every exit path,
// including failures.
type Bundle struct {
	mu      sync.Mutex
	values  map[string][]byte
	cleared bool
}

func newBundle(values map[string][]byte) *Bundle {
	return &Bundle{values: values}
}

// Get returns the secret value for name. The returned slice is invalid
// after Clear.
func (b *Bundle) Get(name string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cleared {
		return nil, false
	}
	v, ok := b.values[name]
	return v, ok
}

// Clear zeroes every secret value. Safe to call more than once.
func (b *Bundle) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, v := range b.values {
		for i := range v {
			v[i] = 0
		}
		delete(b.values, k)
	}
	b.cleared = true
}

// String redacts the bundle so an accidental log never prints values.
func (b *Bundle) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fmt.Sprintf("vault.Bundle(%d secrets)", len(b.values))
}
