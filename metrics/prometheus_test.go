package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCountsOutcomes(t *testing.T) {
	r, err := NewRecorder(Options{})
	require.NoError(t, err)

	r.RecordSuccess("submit")
	r.RecordSuccess("submit")
	r.RecordError("apply_transition", "FORMFLOW_VERSION_CONFLICT")
	r.RecordDuration("submit", 15*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.successes.WithLabelValues("submit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.failures.WithLabelValues("apply_transition", "FORMFLOW_VERSION_CONFLICT")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.durations))
}

func TestRecorderRequestMetrics(t *testing.T) {
	r, err := NewRecorder(Options{Namespace: "ff"})
	require.NoError(t, err)

	r.RecordRequest("POST", "/documents", 201, time.Millisecond)
	r.RecordRequest("POST", "/documents", 422, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.requests.WithLabelValues("POST", "/documents", "422")))
	assert.Equal(t, 2, testutil.CollectAndCount(r.requests))
}

func TestHandlerExposesMetrics(t *testing.T) {
	r, err := NewRecorder(Options{RuntimeCollectors: true})
	require.NoError(t, err)
	r.RecordSuccess("get")

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.Contains(text, `formflow_operation_success_total{operation="get"} 1`), text)
	assert.True(t, strings.Contains(text, "go_goroutines"))
}
