package health

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func static(status Status) Check {
	return func(ctx context.Context) CheckResult {
		return CheckResult{Status: status}
	}
}

func TestOverallStatus(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("loop", true, static(StatusHealthy))
	c.RegisterFunc("accessibility", false, static(StatusDegraded))

	assert.Equal(t, StatusUnknown, c.OverallStatus(), "critical component not yet checked")

	c.Check(context.Background())
	assert.Equal(t, StatusDegraded, c.OverallStatus())

	c.RegisterFunc("loop", true, static(StatusUnhealthy))
	c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, c.OverallStatus())
}

func TestNonCriticalFailureDegrades(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("loop", true, static(StatusHealthy))
	c.RegisterFunc("ipc", false, static(StatusUnhealthy))
	c.Check(context.Background())

	assert.Equal(t, StatusDegraded, c.OverallStatus())
	assert.Equal(t, []string{"ipc", "loop"}, c.Names())
}

func TestCheckRecoversPanicAndTimeout(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("panics", false, func(ctx context.Context) CheckResult { panic("boom") })
	c.Register(&Component{
		Name:    "slow",
		Timeout: 20 * time.Millisecond,
		Check: func(ctx context.Context) CheckResult {
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			return CheckResult{Status: StatusHealthy}
		},
	})

	results := c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, results["panics"].Status)
	assert.Equal(t, "boom", results["panics"].Error)
	assert.Equal(t, StatusUnhealthy, results["slow"].Status)
	assert.Equal(t, "check timed out", results["slow"].Message)

	assert.False(t, results["slow"].LastChecked.IsZero())
	assert.Equal(t, StatusDegraded, c.OverallStatus(), "non-critical failures only degrade")
}

func TestCheckComponent(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("loop", true, static(StatusHealthy))

	result, ok := c.CheckComponent(context.Background(), "loop")
	require.True(t, ok)
	assert.Equal(t, StatusHealthy, result.Status)

	_, ok = c.CheckComponent(context.Background(), "missing")
	assert.False(t, ok)
}

func TestLoopCheck(t *testing.T) {
	var last time.Time
	second := func() time.Duration { return time.Second }
	check := LoopCheck(func() time.Time { return last }, second, time.Hour)

	assert.Equal(t, StatusUnknown, check(context.Background()).Status)

	last = time.Now()
	assert.Equal(t, StatusHealthy, check(context.Background()).Status)

	last = time.Now().Add(-5 * time.Second)
	assert.Equal(t, StatusUnhealthy, check(context.Background()).Status)

	never := LoopCheck(func() time.Time { return time.Time{} }, second, 0)
	assert.Equal(t, StatusUnhealthy, never(context.Background()).Status)
}

func TestLoopCheckFollowsMaxAge(t *testing.T) {
	last := time.Now().Add(-1500 * time.Millisecond)
	maxAge := time.Second
	check := LoopCheck(func() time.Time { return last }, func() time.Duration { return maxAge }, 0)

	assert.Equal(t, StatusUnhealthy, check(context.Background()).Status)

	maxAge = 6 * time.Second
	r := check(context.Background())
	assert.Equal(t, StatusHealthy, r.Status)
	assert.Equal(t, int64(6000), r.Details["max_age_ms"])
}

func TestAccessibilityCheck(t *testing.T) {
	granted := AccessibilityCheck(func() (bool, string) { return true, "granted" })
	denied := AccessibilityCheck(func() (bool, string) { return false, "grant accessibility" })

	assert.Equal(t, StatusHealthy, granted(context.Background()).Status)
	r := denied(context.Background())
	assert.Equal(t, StatusDegraded, r.Status)
	assert.Equal(t, "grant accessibility", r.Message)
}

func TestSocketCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.sock")
	assert.Equal(t, StatusUnhealthy, SocketCheck(path)(context.Background()).Status)

	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	assert.Equal(t, StatusHealthy, SocketCheck(path)(context.Background()).Status)
}

func TestHandlers(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("loop", true, static(StatusHealthy))
	mux := http.NewServeMux()
	c.Mount(mux)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	assert.Equal(t, http.StatusOK, get("/livez").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz").Code)

	c.SetReady(true)
	assert.Equal(t, http.StatusOK, get("/readyz").Code)

	rec := get("/healthz?full=true")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.True(t, resp.Ready)
	assert.Contains(t, resp.Components, "loop")

	c.RegisterFunc("loop", true, static(StatusUnhealthy))
	assert.Equal(t, http.StatusServiceUnavailable, get("/healthz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz").Code)
}

func TestHealthHandlerSingleComponent(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("loop", true, static(StatusHealthy))
	c.RegisterFunc("ipc", false, static(StatusUnhealthy))
	h := c.HealthHandler()

	get := func(query string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz?"+query, nil))
		return rec
	}

	rec := get("component=loop")
	assert.Equal(t, http.StatusOK, rec.Code)
	var result CheckResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, StatusHealthy, result.Status)

	assert.Equal(t, http.StatusServiceUnavailable, get("component=ipc").Code)

	rec = get("component=nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ipc"`)
}
