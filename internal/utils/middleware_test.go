package utils

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"ms-booking/internal/logger"
	"ms-booking/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func observed(t *testing.T, method, route, status string) uint64 {
	var m dto.Metric
	obs := metrics.HTTPDuration.WithLabelValues(method, route, status)
	require.NoError(t, obs.(prometheus.Metric).Write(&m))
	return m.GetHistogram().GetSampleCount()
}

func TestAccessLogRecordsRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(AccessLog(logger.NewDiscard()))
	r.Get("/bookings/{bookingID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := observed(t, http.MethodGet, "/bookings/{bookingID}", "418")
	for _, id := range []string{"bk1", "bk2"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bookings/"+id, nil))
		assert.Equal(t, http.StatusTeapot, rec.Code)
	}

	// both requests land in one series
	assert.Equal(t, before+2, observed(t, http.MethodGet, "/bookings/{bookingID}", "418"))
}
