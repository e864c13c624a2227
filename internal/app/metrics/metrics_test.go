package metrics

import (
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	m := New()

	m.RecordRelay("submitted")
	m.RecordRelay("submitted")
	m.RecordRelay("")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.relaySubmissions.WithLabelValues("submitted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.relaySubmissions.WithLabelValues("unknown")))

	m.RecordWatcherRun(2, 1, 3)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.watcherRuns))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.watcherTransitions.WithLabelValues("CONFIRMED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.watcherTransitions.WithLabelValues("FAILED")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.watcherErrors))

	m.RecordRateLimitRejection("ip")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimitRejections.WithLabelValues("ip")))

	m.SetRelayerBalance(big.NewInt(1_000_000))
	m.SetRelayerBalance(nil)
	assert.Equal(t, 1e6, testutil.ToFloat64(m.relayerBalance))

	m.IncrementInFlight()
	m.DecrementInFlight()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.httpInFlight))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.RecordHTTPRequest("get", "/health", "200", 10*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `relayer_http_requests_total{method="GET",path="/health",status="200"} 1`))
}
