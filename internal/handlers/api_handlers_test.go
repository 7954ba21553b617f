package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autorenta/p2p-reconciler/internal/clock"
	"github.com/autorenta/p2p-reconciler/internal/entities"
	"github.com/autorenta/p2p-reconciler/internal/safety"
)

type fakeRecordStore struct {
	records  map[string]entities.ProcessingRecord
	resolved map[string]string
}

func (s *fakeRecordStore) Get(_ context.Context, orderID string) (entities.ProcessingRecord, error) {
	rec, ok := s.records[orderID]
	if !ok {
		return entities.ProcessingRecord{}, entities.ErrNotFound
	}
	return rec, nil
}

func (s *fakeRecordStore) List(_ context.Context, limit int) ([]entities.ProcessingRecord, error) {
	out := make([]entities.ProcessingRecord, 0, len(s.records))
	for _, rec := range s.records {
		if len(out) == limit {
			break
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *fakeRecordStore) ResolveManually(_ context.Context, orderID, note string) error {
	rec, ok := s.records[orderID]
	if !ok {
		return entities.ErrNotFound
	}
	if rec.State == entities.RecordSucceeded {
		return entities.ErrConflict
	}
	s.resolved[orderID] = note
	return nil
}

func newTestServer(t *testing.T, store *fakeRecordStore) (*httptest.Server, *safety.TransferRateLimiter, *safety.OrderProcessingLock) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	limiter := safety.NewTransferRateLimiter(safety.Limits{
		MaxPerMinute:   3,
		MaxPerHour:     20,
		MaxDailyAmount: 50_000_000,
	}, clock.NewSystem())
	locks := safety.NewOrderProcessingLock()

	router := mux.NewRouter()
	NewHTTPHandler(logger, store, limiter, locks).RegisterRoutes(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, limiter, locks
}

func TestHealth(t *testing.T) {
	server, _, _ := newTestServer(t, &fakeRecordStore{})

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetRecord(t *testing.T) {
	store := &fakeRecordStore{
		records: map[string]entities.ProcessingRecord{
			"order-1": {
				OrderID:      "order-1",
				Flow:         entities.FlowPayment,
				State:        entities.RecordSucceeded,
				AttemptCount: 1,
				FirstSeenAt:  time.Now().UTC(),
				ResultNote:   "transfer ref-1",
			},
		},
	}
	server, _, _ := newTestServer(t, store)

	resp, err := http.Get(server.URL + "/records/order-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body recordResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "order-1", body.OrderID)
	assert.Equal(t, "succeeded", body.State)
	require.NotNil(t, body.ResultNote)
	assert.Equal(t, "transfer ref-1", *body.ResultNote)
}

func TestGetRecord_NotFound(t *testing.T) {
	server, _, _ := newTestServer(t, &fakeRecordStore{records: map[string]entities.ProcessingRecord{}})

	resp, err := http.Get(server.URL + "/records/missing")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListRecords_BadLimit(t *testing.T) {
	server, _, _ := newTestServer(t, &fakeRecordStore{})

	resp, err := http.Get(server.URL + "/records?limit=zero")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestResolveRecord(t *testing.T) {
	store := &fakeRecordStore{
		records: map[string]entities.ProcessingRecord{
			"order-1": {OrderID: "order-1", State: entities.RecordFailed, ManualReview: true},
			"order-2": {OrderID: "order-2", State: entities.RecordSucceeded},
		},
		resolved: make(map[string]string),
	}
	server, _, _ := newTestServer(t, store)

	tests := []struct {
		name       string
		orderID    string
		body       string
		wantStatus int
	}{
		{"resolves failed record", "order-1", `{"note":"paid by hand"}`, http.StatusOK},
		{"rejects empty note", "order-1", `{}`, http.StatusBadRequest},
		{"conflict on succeeded record", "order-2", `{"note":"x"}`, http.StatusConflict},
		{"unknown record", "order-3", `{"note":"x"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(server.URL+"/records/"+tt.orderID+"/resolve",
				"application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}

	assert.Equal(t, "manual: paid by hand", store.resolved["order-1"])
}

func TestGetLimits(t *testing.T) {
	server, limiter, _ := newTestServer(t, &fakeRecordStore{})
	ok, _ := limiter.TryAcquire(1500)
	require.True(t, ok)

	resp, err := http.Get(server.URL + "/limits")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var usage safety.Usage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&usage))
	assert.Equal(t, 1, usage.UsedMinute)
	assert.Equal(t, 1500.0, usage.DailyAmount)
}

func TestGetLocks(t *testing.T) {
	server, _, locks := newTestServer(t, &fakeRecordStore{})
	_, err := locks.TryAcquire("order-9")
	require.NoError(t, err)

	resp, err := http.Get(server.URL + "/locks")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string][]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []string{"order-9"}, body["held"])
}
