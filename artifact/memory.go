package artifact

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"skuld/model"
)

// MemoryStore is an in-process Store. Used in tests and for local
// single-node runs without object storage.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]memObject
}

type memObject struct {
	meta model.Artifact
	data []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memObject)}
}

func (s *MemoryStore) Put(ctx context.Context, version, revision string, r io.Reader, size int64) (*model.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[version]; ok {
		return nil, ErrVersionExists
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	meta := model.Artifact{
		Version:   version,
		Key:       "artifacts/" + version,
		Revision:  revision,
		SizeBytes: int64(len(data)),
		CreatedAt: time.Now(),
	}
	s.objects[version] = memObject{meta: meta, data: data}
	return &meta, nil
}

func (s *MemoryStore) Fetch(ctx context.Context, version string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[version]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *MemoryStore) Stat(ctx context.Context, version string) (*model.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[version]
	if !ok {
		return nil, ErrNotFound
	}
	meta := obj.meta
	return &meta, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]model.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var artifacts []model.Artifact
	for _, obj := range s.objects {
		artifacts = append(artifacts, obj.meta)
	}
	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].CreatedAt.After(artifacts[j].CreatedAt)
	})
	return artifacts, nil
}

func (s *MemoryStore) Prune(ctx context.Context, keep int, protected map[string]bool) (int, error) {
	artifacts, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for i, a := range artifacts {
		if i < keep || protected[a.Version] {
			continue
		}
		delete(s.objects, a.Version)
		removed++
	}
	return removed, nil
}
