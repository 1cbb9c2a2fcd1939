package v1_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meterline/meterline/internal/api"
	v1 "github.com/meterline/meterline/internal/api/v1"
	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/domain/partition"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/integration/plans"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/service"
	"github.com/meterline/meterline/internal/testutil"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()

	cfg := config.GetDefaultConfig()
	log, err := logger.NewLogger(cfg)
	require.NoError(t, err)

	params := service.ServiceParams{
		Logger:   log,
		Config:   cfg,
		Store:    testutil.NewInMemoryDocumentStore(),
		Plans:    plans.NewStaticLookup(),
		Sequence: partition.NewSequence(),
	}

	accumulator := service.NewAccumulatorService(params)
	aggregator := service.NewAggregatorService(params)
	query := service.NewUsageQueryService(params)
	ingestion := service.NewIngestionService(params, nil, accumulator, aggregator)

	handler := v1.NewUsageHandler(cfg, ingestion, aggregator, query, log)
	return api.NewRouter(cfg, log, handler)
}

func submitBody(value interface{}) []byte {
	end := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	body := map[string]interface{}{
		"event_id":             fmt.Sprintf("evt-%v", value),
		"organization_id":      "org1",
		"space_id":             "space1",
		"consumer_id":          "cons1",
		"resource_id":          "object-storage",
		"resource_instance_id": "inst1",
		"plan_id":              "basic",
		"start":                end.Add(-time.Hour).Format(time.RFC3339),
		"end":                  end.Format(time.RFC3339),
		"metrics":              map[string]interface{}{"storage": value},
	}
	data, _ := json.Marshal(body)
	return data
}

func TestSubmitUsage(t *testing.T) {
	server := newTestServer(t)

	t.Run("valid event is processed synchronously", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/usage/events", bytes.NewReader(submitBody(12)))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, true, resp["accepted"])
	})

	t.Run("missing fields are a 400", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/usage/events", bytes.NewReader([]byte(`{"organization_id":"org1"}`)))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("metric shape change is a 422 with the contract message", func(t *testing.T) {
		// prior value for the metric was a scalar, submit a rate
		rate := map[string]interface{}{"consumed": "0", "consuming": "1", "since": 1765000000000}
		req := httptest.NewRequest(http.MethodPost, "/v1/usage/events", bytes.NewReader(submitBody(rate)))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)

		require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())

		var resp ierr.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "Aggregation resulted in invalid value: NaN", resp.Error.Message)
	})

	t.Run("request id header is set", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	})
}

func TestGetUsage(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/usage/events", bytes.NewReader(submitBody(12)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	// processed at intake time, so the rollup lives in the current month
	t.Run("organization usage is readable", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/organizations/org1/usage", nil)
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "org1", resp["organization_id"])
	})

	t.Run("unknown organization is a 404", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/organizations/nobody/usage", nil)
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("bad at parameter is a 400", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/organizations/org1/usage?at=yesterday", nil)
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
