package health_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hkarim/crdtstore/internal/health"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCheckerReadyWithNoQuorumConfigured(t *testing.T) {
	dir := t.TempDir()
	c := health.New(health.Config{NodeID: "n1", DataDir: dir}, zap.NewNop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	c.ReadinessHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ready":true`)
}

func TestCheckerUnreadyWhenQuorumUnreachable(t *testing.T) {
	dir := t.TempDir()
	quorum := func() (int, int, int) { return 1, 3, 2 }
	c := health.New(health.Config{NodeID: "n1", DataDir: dir, Quorum: quorum}, zap.NewNop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)

	// ReadinessHandler reports the last computed status. Run performs one
	// check cycle before it looks at ctx, so a cancelled ctx runs exactly
	// one cycle synchronously.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.Run(ctx, time.Hour)
	c.ReadinessHandler(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ready":false`)
}

func TestCheckerAlwaysLive(t *testing.T) {
	c := health.New(health.Config{NodeID: "n1"}, zap.NewNop())
	assert.True(t, c.IsLive())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	c.LivenessHandler(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
