package store

import (
	"context"
	"sort"
	"sync"

	"github.com/camaraproject/QualityOnDemand-PI3/pkg/provisioning"
)

// MemoryStore keeps records in process memory. Nothing survives a restart
// unless the caller snapshots the registry.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]provisioning.Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]provisioning.Record)}
}

func (s *MemoryStore) Put(_ context.Context, rec provisioning.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.AccessIdentifier] = rec.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, accessIdentifier string) (*provisioning.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[accessIdentifier]
	if !ok {
		return nil, nil
	}
	out := rec.Clone()
	return &out, nil
}

func (s *MemoryStore) Delete(_ context.Context, accessIdentifier string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[accessIdentifier]
	delete(s.records, accessIdentifier)
	return ok, nil
}

func (s *MemoryStore) List(_ context.Context) ([]provisioning.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]provisioning.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccessIdentifier < out[j].AccessIdentifier })
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
