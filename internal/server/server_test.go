package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/truefoundry/capacity-scheduler/internal/engine"
	"github.com/truefoundry/capacity-scheduler/pkg/clusters"
	"github.com/truefoundry/capacity-scheduler/pkg/messages"
	"github.com/truefoundry/capacity-scheduler/pkg/schedule"
	"github.com/truefoundry/capacity-scheduler/pkg/store"
	"go.uber.org/zap"
	clocktesting "k8s.io/utils/clock/testing"
)

type recordingScaler struct {
	limits map[string]int64
}

func (r *recordingScaler) SetClusterCapacity(_ context.Context, cluster string, cpuLimit int64) error {
	if cluster == "unknown" {
		return errors.Join(clusters.ErrUnknownCluster, errors.New(cluster))
	}
	r.limits[cluster] = cpuLimit
	return nil
}

type staticReaper struct{}

func (staticReaper) TerminateWorkers(_ context.Context, cluster string) ([]string, error) {
	if cluster == "broken" {
		return nil, errors.New("terminate endpoint down")
	}
	return []string{"i-0aaa"}, nil
}

type downStore struct {
	store.Store
}

func (downStore) ListActive(context.Context) ([]schedule.Record, error) {
	return nil, store.ErrUnavailable
}

type fixture struct {
	handler http.Handler
	store   store.Store
	scaler  *recordingScaler
}

func newFixture(t *testing.T, st store.Store) *fixture {
	t.Helper()
	logger := zap.NewNop()
	scaler := &recordingScaler{limits: map[string]int64{}}
	clk := clocktesting.NewFakePassiveClock(time.Date(2024, 5, 1, 9, 0, 5, 0, time.UTC))
	registry, err := clusters.NewRegistry(clusters.Target{Name: "demo"}, clusters.Target{Name: "other", NodePool: "batch"})
	require.NoError(t, err)

	dispatcher := engine.NewDispatcher(&engine.DispatcherParams{
		Scaler:   scaler,
		Reaper:   staticReaper{},
		Resetter: engine.NewResetCoordinator(logger, st, clk),
		Logger:   logger,
	})
	runner := engine.NewRunner(&engine.RunnerParams{
		Store:      st,
		Dispatcher: dispatcher,
		Window:     schedule.NewWindow(time.UTC, time.Minute),
		Clock:      clk,
		Logger:     logger,
	})
	s := NewServer(&Params{
		Runner:      runner,
		Store:       st,
		Registry:    registry,
		Scaler:      scaler,
		Reaper:      staticReaper{},
		PassTimeout: 5 * time.Second,
		Logger:      logger,
	})
	return &fixture{handler: s.Handler(), store: st, scaler: scaler}
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestPassHandler(t *testing.T) {
	f := newFixture(t, store.NewMemory(schedule.Record{Cluster: "demo", Start: "09:00", End: "18:00", Kind: schedule.KindDefault}))

	rec := f.do(http.MethodPost, "/v1/passes", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report engine.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "api", report.Trigger)
	assert.Equal(t, 1, report.Fired)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, "start", report.Outcomes[0].EventType)
	assert.Equal(t, int64(1000), f.scaler.limits["demo"])

	rec = f.do(http.MethodGet, "/v1/passes", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPassHandlerStoreDown(t *testing.T) {
	f := newFixture(t, downStore{})

	rec := f.do(http.MethodPost, "/v1/passes", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, f.scaler.limits)
}

func TestSaveSchedule(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		expectedStatus int
	}{
		{"default record", `{"id":"demo_default","cluster":"demo","start":"09:00","end":"18:00","kind":"default"}`, http.StatusOK},
		{"custom record", `{"id":"demo_custom","cluster":"demo","start":"07:30","end":"21:00","kind":"custom"}`, http.StatusOK},
		{"id does not match", `{"id":"demo","cluster":"demo","start":"09:00","end":"18:00","kind":"default"}`, http.StatusBadRequest},
		{"unknown kind", `{"id":"demo_weekly","cluster":"demo","start":"09:00","end":"18:00","kind":"weekly"}`, http.StatusBadRequest},
		{"malformed time", `{"id":"demo_default","cluster":"demo","start":"9:00","end":"18:00","kind":"default"}`, http.StatusBadRequest},
		{"hours out of range", `{"id":"demo_default","cluster":"demo","start":"09:00","end":"24:00","kind":"default"}`, http.StatusBadRequest},
		{"missing cluster", `{"id":"_default","start":"09:00","end":"18:00","kind":"default"}`, http.StatusBadRequest},
		{"not json", `start=09:00`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, store.NewMemory())
			rec := f.do(http.MethodPut, "/v1/schedules", tt.body)
			assert.Equal(t, tt.expectedStatus, rec.Code, rec.Body.String())
		})
	}
}

func TestSaveScheduleState(t *testing.T) {
	f := newFixture(t, store.NewMemory())

	rec := f.do(http.MethodPut, "/v1/schedules", `{"id":"demo_custom","cluster":"demo","start":"07:30","end":"21:00","kind":"custom"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	saved, err := f.store.Get(context.Background(), "demo_custom")
	require.NoError(t, err)
	assert.Equal(t, schedule.StateOverride, saved.State)
	assert.Equal(t, int64(1), saved.Version)
}

func TestSaveScheduleWithVersion(t *testing.T) {
	f := newFixture(t, store.NewMemory(schedule.Record{Cluster: "demo", Start: "09:00", End: "18:00", Kind: schedule.KindDefault}))

	rec := f.do(http.MethodPut, "/v1/schedules", `{"id":"demo_default","cluster":"demo","start":"08:00","end":"18:00","kind":"default","version":1}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var saved schedule.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &saved))
	assert.Equal(t, int64(2), saved.Version)

	rec = f.do(http.MethodPut, "/v1/schedules", `{"id":"demo_default","cluster":"demo","start":"07:00","end":"18:00","kind":"default","version":1}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListSchedules(t *testing.T) {
	f := newFixture(t, store.NewMemory(
		schedule.Record{Cluster: "demo", Start: "09:00", End: "18:00", Kind: schedule.KindDefault},
		schedule.Record{Cluster: "idle", Start: "09:00", End: "18:00", Kind: schedule.KindDefault, Disabled: true},
	))

	rec := f.do(http.MethodGet, "/v1/schedules", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var records []schedule.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "demo_default", records[0].ID)
}

func TestListClusters(t *testing.T) {
	f := newFixture(t, store.NewMemory())

	rec := f.do(http.MethodGet, "/v1/clusters", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var targets []clusters.Target
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &targets))
	require.Len(t, targets, 2)
	assert.Equal(t, "demo", targets[0].Name)
	assert.Equal(t, "batch", targets[1].NodePool)
}

func TestCapacityHandler(t *testing.T) {
	f := newFixture(t, store.NewMemory())

	rec := f.do(http.MethodPost, "/v1/clusters/demo/capacity?cpu-limit=0", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp messages.CapacityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, messages.CapacityResponse{Cluster: "demo", CPULimit: 0}, resp)
	assert.Equal(t, int64(0), f.scaler.limits["demo"])

	for _, bad := range []string{"", "-1", "ten", "1.5"} {
		rec = f.do(http.MethodPost, "/v1/clusters/demo/capacity?cpu-limit="+bad, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}

	rec = f.do(http.MethodPost, "/v1/clusters/unknown/capacity?cpu-limit=10", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTerminateHandler(t *testing.T) {
	f := newFixture(t, store.NewMemory())

	rec := f.do(http.MethodPost, "/v1/clusters/demo/terminate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp messages.TerminateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"i-0aaa"}, resp.Instances)

	rec = f.do(http.MethodPost, "/v1/clusters/broken/terminate", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t, store.NewMemory())
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/readyz", "").Code)

	down := newFixture(t, downStore{})
	assert.Equal(t, http.StatusOK, down.do(http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusInternalServerError, down.do(http.MethodGet, "/readyz", "").Code)
}
