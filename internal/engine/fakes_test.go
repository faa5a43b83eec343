package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/truefoundry/capacity-scheduler/pkg/schedule"
	"github.com/truefoundry/capacity-scheduler/pkg/store"
)

type capacityCall struct {
	Cluster  string
	CPULimit int64
}

type fakeScaler struct {
	mu    sync.Mutex
	calls []capacityCall
	err   error
}

func (f *fakeScaler) SetClusterCapacity(_ context.Context, cluster string, cpuLimit int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, capacityCall{Cluster: cluster, CPULimit: cpuLimit})
	return f.err
}

func (f *fakeScaler) Calls() []capacityCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]capacityCall(nil), f.calls...)
}

type fakeReaper struct {
	mu       sync.Mutex
	clusters []string
	ids      []string
	err      error
}

func (f *fakeReaper) TerminateWorkers(_ context.Context, cluster string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clusters = append(f.clusters, cluster)
	return f.ids, f.err
}

func (f *fakeReaper) Clusters() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.clusters...)
}

type fakeResetter struct {
	events []schedule.Event
	result ResetResult
	err    error
}

func (f *fakeResetter) Reset(_ context.Context, ev schedule.Event) (ResetResult, error) {
	f.events = append(f.events, ev)
	return f.result, f.err
}

var errStoreDown = errors.New("connection refused")

// brokenStore fails every read
type brokenStore struct {
	store.Store
}

func (brokenStore) ListActive(context.Context) ([]schedule.Record, error) {
	return nil, errors.Join(store.ErrUnavailable, errStoreDown)
}

// racingStore applies an operator write between the pass reading the store and the reset
type racingStore struct {
	*store.Memory
	before func()
}

func (s *racingStore) CompareAndPut(ctx context.Context, record schedule.Record, expectedVersion int64) (schedule.Record, error) {
	if s.before != nil {
		s.before()
		s.before = nil
	}
	return s.Memory.CompareAndPut(ctx, record, expectedVersion)
}
