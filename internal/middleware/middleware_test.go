package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campuslink/matchmaker/internal/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(jwtService *auth.JWTService) *gin.Engine {
	r := gin.New()
	r.Use(Logger(zap.NewNop(), "/health"), CORS("http://localhost:3000"))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	admin := r.Group("/admin", JWT(jwtService), RequireRole(auth.RoleAdmin))
	admin.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextSubject))
	})
	return r
}

func do(r http.Handler, method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCORS(t *testing.T) {
	r := newRouter(auth.NewJWTService("s", 1))

	w := do(r, http.MethodGet, "/health", map[string]string{"Origin": "http://localhost:3000"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	w = do(r, http.MethodGet, "/health", map[string]string{"Origin": "http://evil.example"})
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	w = do(r, http.MethodOptions, "/health", map[string]string{"Origin": "http://localhost:3000"})
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestParseOrigins(t *testing.T) {
	assert.Equal(t, map[string]bool{"a": true, "b": true}, parseOrigins(" a, ,b "))
	assert.Empty(t, parseOrigins(""))
}

func TestAdminAuth(t *testing.T) {
	svc := auth.NewJWTService("s", 1)
	r := newRouter(svc)

	w := do(r, http.MethodGet, "/admin/whoami", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodGet, "/admin/whoami", map[string]string{"Authorization": "Token abc"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodGet, "/admin/whoami", map[string]string{"Authorization": "Bearer abc"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	viewer, err := svc.Generate("ops-2", "viewer")
	require.NoError(t, err)
	w = do(r, http.MethodGet, "/admin/whoami", map[string]string{"Authorization": "Bearer " + viewer})
	assert.Equal(t, http.StatusForbidden, w.Code)

	admin, err := svc.Generate("ops-1", auth.RoleAdmin)
	require.NoError(t, err)
	w = do(r, http.MethodGet, "/admin/whoami", map[string]string{"Authorization": "Bearer " + admin})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ops-1", w.Body.String())
}
