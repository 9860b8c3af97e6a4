package contentstore

import (
	"context"
	"errors"
	"time"

	metrics "github.com/rcrowley/go-metrics"

	"srcsnap/internal/snap"
)

// Metric names registered by InstrumentedStore, per operation:
//
//	store.<op>.calls     counter
//	store.<op>.errors    counter (not found excluded)
//	store.<op>.latency   timer
//	store.put.bytes      counter of bytes passed to Put
//	store.get.not_found  counter
type InstrumentedStore struct {
	inner    snap.ContentStore
	registry metrics.Registry
}

// NewInstrumentedStore wraps inner, recording into registry. A nil registry
// gets a fresh private one.
func NewInstrumentedStore(inner snap.ContentStore, registry metrics.Registry) *InstrumentedStore {
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	return &InstrumentedStore{inner: inner, registry: registry}
}

func (s *InstrumentedStore) Name() string { return s.inner.Name() }

// Registry returns the registry the store records into.
func (s *InstrumentedStore) Registry() metrics.Registry { return s.registry }

// Count returns the current value of the counter store.<op>.<name>.
func (s *InstrumentedStore) Count(op, name string) int64 {
	return metrics.GetOrRegisterCounter("store."+op+"."+name, s.registry).Count()
}

func (s *InstrumentedStore) observe(op string, start time.Time, err error) {
	metrics.GetOrRegisterCounter("store."+op+".calls", s.registry).Inc(1)
	metrics.GetOrRegisterTimer("store."+op+".latency", s.registry).UpdateSince(start)
	switch {
	case err == nil:
	case errors.Is(err, snap.ErrNotFound):
		metrics.GetOrRegisterCounter("store."+op+".not_found", s.registry).Inc(1)
	default:
		metrics.GetOrRegisterCounter("store."+op+".errors", s.registry).Inc(1)
	}
}

func (s *InstrumentedStore) Put(ctx context.Context, hash string, data []byte) (snap.Pointer, error) {
	start := time.Now()
	ptr, err := s.inner.Put(ctx, hash, data)
	s.observe("put", start, err)
	if err == nil {
		metrics.GetOrRegisterCounter("store.put.bytes", s.registry).Inc(int64(len(data)))
	}
	return ptr, err
}

func (s *InstrumentedStore) Get(ctx context.Context, ptr snap.Pointer) ([]byte, error) {
	start := time.Now()
	data, err := s.inner.Get(ctx, ptr)
	s.observe("get", start, err)
	return data, err
}

func (s *InstrumentedStore) Delete(ctx context.Context, ptr snap.Pointer) (bool, error) {
	start := time.Now()
	existed, err := s.inner.Delete(ctx, ptr)
	s.observe("delete", start, err)
	return existed, err
}

var _ snap.ContentStore = (*InstrumentedStore)(nil)
