package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func probeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestReadyEndpoint_Gate(t *testing.T) {
	h := New()

	rec := httptest.NewRecorder()
	h.ReadyEndpoint(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "service starts not ready")

	h.SetReady(true)
	rec = httptest.NewRecorder()
	h.ReadyEndpoint(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, probeBody(t, rec)["ok"])

	h.SetReady(false)
	rec = httptest.NewRecorder()
	h.ReadyEndpoint(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "drained before shutdown")
}

func TestLiveEndpoint_HealthyByDefault(t *testing.T) {
	h := New()
	h.AddLivenessCheck("noop", time.Second, func(context.Context) error { return nil })

	rec := httptest.NewRecorder()
	h.LiveEndpoint(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCheck_FailureThreshold(t *testing.T) {
	c := newCheck("failing", time.Second, func(context.Context) error {
		return errors.New("unreachable")
	})

	ctx := context.Background()
	for range failureThreshold - 1 {
		c.run(ctx)
	}
	assert.True(t, c.healthy.Load(), "below the threshold a check stays healthy")

	c.run(ctx)
	assert.False(t, c.healthy.Load())
}

func TestCheck_RecoveryResetsCounter(t *testing.T) {
	var fail bool
	c := newCheck("flaky", time.Second, func(context.Context) error {
		if fail {
			return errors.New("unreachable")
		}
		return nil
	})

	ctx := context.Background()
	fail = true
	for range failureThreshold {
		c.run(ctx)
	}
	require.False(t, c.healthy.Load())

	fail = false
	c.run(ctx)
	assert.True(t, c.healthy.Load())

	// One success resets the streak; a single new failure is tolerated again.
	fail = true
	c.run(ctx)
	assert.True(t, c.healthy.Load())
}

func TestReadyEndpoint_ReportsCheckError(t *testing.T) {
	h := New()
	h.SetReady(true)
	h.AddReadinessCheck("infakt", time.Second, func(context.Context) error {
		return errors.New("dial tcp: connection refused")
	})

	h.Start(context.Background(), time.Hour)
	defer h.Stop()

	// The first run happens synchronously at start; wait until it lands.
	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		h.ReadyEndpoint(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		checks, _ := probeBody(t, rec)["checks"].(map[string]any)
		entry, _ := checks["infakt"].(map[string]any)
		errMsg, _ := entry["error"].(string)
		return errMsg != ""
	}, time.Second, 10*time.Millisecond)
}
