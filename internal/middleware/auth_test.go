package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fieldflow/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func makeToken(t *testing.T, secret string, claims map[string]interface{}) string {
	t.Helper()
	header, _ := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	payload, _ := json.Marshal(claims)
	enc := base64.RawURLEncoding.EncodeToString
	signing := enc(header) + "." + enc(payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signing))
	return signing + "." + enc(mac.Sum(nil))
}

func authTestRouter(cfg *config.Config) (*gin.Engine, *gin.Context) {
	r := gin.New()
	var captured gin.Context
	r.GET("/protected", AuthMiddleware(cfg), func(c *gin.Context) {
		captured = *c.Copy()
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r, &captured
}

func testCfg() *config.Config {
	cfg := config.GetDefaultConfig()
	cfg.JWT.Secret = "test-secret"
	return cfg
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	cfg := testCfg()
	r, captured := authTestRouter(cfg)

	token := makeToken(t, cfg.JWT.Secret, map[string]interface{}{
		"user_id": 7,
		"org_id":  3,
		"roles":   []string{"dispatcher"},
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, uint(3), OrgID(captured))

	perms, _ := captured.Get("permissions")
	assert.True(t, HasPermission(perms.([]string), "jobs.write"), "dispatcher can write jobs")
	assert.False(t, HasPermission(perms.([]string), "clients.write"), "dispatcher cannot write clients by default")
}

func TestAuthMiddleware_MissingOrgIDRejected(t *testing.T) {
	cfg := testCfg()
	r, _ := authTestRouter(cfg)

	token := makeToken(t, cfg.JWT.Secret, map[string]interface{}{
		"user_id": 7,
		"roles":   []string{"admin"},
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "org_id")
}

func TestAuthMiddleware_BadSignature(t *testing.T) {
	cfg := testCfg()
	r, _ := authTestRouter(cfg)

	token := makeToken(t, "wrong-secret", map[string]interface{}{
		"user_id": 1, "org_id": 1,
	})
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_ExpiredToken(t *testing.T) {
	cfg := testCfg()
	r, _ := authTestRouter(cfg)

	token := makeToken(t, cfg.JWT.Secret, map[string]interface{}{
		"user_id": 1, "org_id": 1,
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_MissingBearer(t *testing.T) {
	cfg := testCfg()
	r, _ := authTestRouter(cfg)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_RBACConfigExpansion(t *testing.T) {
	cfg := testCfg()
	cfg.Security.RBAC.Enabled = true
	cfg.Security.RBAC.Roles = map[string][]string{
		"auditor": {"communications.read", "executions.read"},
	}
	r, captured := authTestRouter(cfg)

	token := makeToken(t, cfg.JWT.Secret, map[string]interface{}{
		"user_id": 1, "org_id": 1,
		"roles": []string{"auditor"},
	})
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	perms, _ := captured.Get("permissions")
	assert.True(t, HasPermission(perms.([]string), "executions.read"))
	assert.False(t, HasPermission(perms.([]string), "executions.write"))
}

func TestHasPermission_Patterns(t *testing.T) {
	assert.True(t, HasPermission([]string{"*"}, "anything.at.all"))
	assert.True(t, HasPermission([]string{"jobs.*"}, "jobs.write"))
	assert.True(t, HasPermission([]string{"jobs.read"}, "jobs.read"))
	assert.False(t, HasPermission([]string{"jobs.read"}, "jobs.write"))
	assert.False(t, HasPermission(nil, "jobs.read"))
	assert.True(t, HasPermission(nil, ""), "empty requirement always passes")
}

func TestRequireResourcePermission_ReadWriteSplit(t *testing.T) {
	r := gin.New()
	inject := func(perms ...string) gin.HandlerFunc {
		return func(c *gin.Context) { c.Set("permissions", perms) }
	}
	r.GET("/jobs", inject("jobs.read"), RequireResourcePermission("jobs"), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/jobs", inject("jobs.read"), RequireResourcePermission("jobs"), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	assert.Equal(t, http.StatusOK, w.Code, "read permission covers GET")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/jobs", nil))
	assert.Equal(t, http.StatusForbidden, w.Code, "read permission does not cover POST")
}
