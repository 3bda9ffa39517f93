package vault

import (
	"context"
	"strings"
	"testing"
)

func TestFetchAndGet(t *testing.T) {
	src := &MemorySource{Secrets: map[string]string{
		"deploy/prod-1/key":  "PRIVATE KEY MATERIAL",
		"deploy/prod-1/user": "deploy",
	}}

	b, err := src.Fetch(context.Background(), []string{"deploy/prod-1/key", "deploy/prod-1/user"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	v, ok := b.Get("deploy/prod-1/user")
	if !ok || string(v) != "deploy" {
		t.Errorf("Get user = %q, %v", v, ok)
	}
	if _, ok := b.Get("deploy/prod-1/missing"); ok {
		t.Error("Get should miss for unknown name")
	}
}

func TestFetchMissingSecret(t *testing.T) {
	src := &MemorySource{Secrets: map[string]string{}}
	_, err := src.Fetch(context.Background(), []string{"nope"})
	if err == nil {
		t.Fatal("expected error for missing secret")
	}
}

func TestClearZeroesValues(t *testing.T) {
	src := &MemorySource{Secrets: map[string]string{"k": "hunter2"}}
	b, err := src.Fetch(context.Background(), []string{"k"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	v, _ := b.Get("k")
	b.Clear()

	for i, c := range v {
		if c != 0 {
			t.Fatalf("byte %d not zeroed after Clear", i)
		}
	}
	if _, ok := b.Get("k"); ok {
		t.Error("Get should miss after Clear")
	}
	// Double clear is safe
	b.Clear()
}

func TestBundleStringRedacts(t *testing.T) {
	src := &MemorySource{Secrets: map[string]string{"k": "hunter2"}}
	b, _ := src.Fetch(context.Background(), []string{"k"})

	if s := b.String(); strings.Contains(s, "hunter2") {
		t.Errorf("String() leaked a value: %q", s)
	}
}
