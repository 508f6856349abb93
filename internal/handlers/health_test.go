package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"fieldflow/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type fakeGateway struct {
	err error
}

func (f *fakeGateway) HealthCheck(ctx context.Context) error { return f.err }

func TestHealthHandler_AllHealthy(t *testing.T) {
	db := newHandlerTestDB(t)
	handler := NewHealthHandler(config.GetDefaultConfig(), db, nil, &fakeGateway{}, &fakeGateway{})

	r := gin.New()
	r.GET("/health", handler.Health)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "healthy", resp.Services["database"].Status)
	assert.Equal(t, "healthy", resp.Services["telnyx"].Status)
	assert.Equal(t, "healthy", resp.Services["mailgun"].Status)
	_, hasRedis := resp.Services["redis"]
	assert.False(t, hasRedis, "redis not configured, not reported")
}

func TestHealthHandler_GatewayDownIsStillHealthy(t *testing.T) {
	db := newHandlerTestDB(t)
	handler := NewHealthHandler(config.GetDefaultConfig(), db, nil, &fakeGateway{err: errors.New("dns failure")}, &fakeGateway{})

	r := gin.New()
	r.GET("/health", handler.Health)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	// 网关故障不拉低整体状态，数据库才是硬依赖
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "unhealthy", resp.Services["telnyx"].Status)
	assert.Contains(t, resp.Services["telnyx"].Error, "dns failure")
}

func TestHealthHandler_GatewayDisabled(t *testing.T) {
	db := newHandlerTestDB(t)
	handler := NewHealthHandler(config.GetDefaultConfig(), db, nil, nil, nil)

	r := gin.New()
	r.GET("/health", handler.Health)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	assert.Equal(t, "disabled", resp.Services["telnyx"].Status)
	assert.Equal(t, "disabled", resp.Services["mailgun"].Status)
}

func TestHealthHandler_Ready(t *testing.T) {
	db := newHandlerTestDB(t)
	handler := NewHealthHandler(config.GetDefaultConfig(), db, nil, nil, nil)

	r := gin.New()
	r.GET("/ready", handler.Ready)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ready":true`)
}
