package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/onlyif/messaging/internal/auth"
	"github.com/onlyif/messaging/internal/logger"
	"github.com/onlyif/messaging/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func perform(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	jwt := auth.NewJWTService("test-secret", 1)
	valid, err := jwt.GenerateToken("a1", "agent")
	require.NoError(t, err)

	tests := []struct {
		name       string
		required   bool
		header     string
		wantStatus int
		wantUser   string
		wantToken  string
	}{
		{"optional without token", false, "", http.StatusOK, "", ""},
		{"optional forwards foreign token", false, "Bearer backend-issued", http.StatusOK, "", "backend-issued"},
		{"optional with valid token", false, "Bearer " + valid, http.StatusOK, "a1", valid},
		{"required without token", true, "", http.StatusUnauthorized, "", ""},
		{"required with bad token", true, "Bearer nope", http.StatusUnauthorized, "", ""},
		{"required with valid token", true, "bearer " + valid, http.StatusOK, "a1", valid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotUser, gotToken string
			r := gin.New()
			r.Use(AuthMiddleware(jwt, tt.required))
			r.GET("/x", func(c *gin.Context) {
				if claims, ok := auth.ClaimsFromContext(c.Request.Context()); ok {
					gotUser = claims.UserID
				}
				gotToken, _ = auth.TokenFromContext(c.Request.Context())
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := perform(r, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantUser, gotUser)
			assert.Equal(t, tt.wantToken, gotToken)
			if w.Code == http.StatusUnauthorized {
				assert.Contains(t, w.Body.String(), `"success":false`)
			}
		})
	}
}

func TestRateLimitMiddleware_Local(t *testing.T) {
	rl := NewRateLimiter(1, nil, logger.Nop())
	r := gin.New()
	r.POST("/api/messages", RateLimitMiddleware(rl, "send_message"), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})

	// burst is twice the rate
	for i := 0; i < 2; i++ {
		w := perform(r, httptest.NewRequest(http.MethodPost, "/api/messages", nil))
		assert.Equal(t, http.StatusCreated, w.Code)
	}
	w := perform(r, httptest.NewRequest(http.MethodPost, "/api/messages", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

type stubAllower struct {
	allow bool
	err   error
	calls int
}

func (s *stubAllower) AllowAction(context.Context, string, string, int, int) (bool, error) {
	s.calls++
	return s.allow, s.err
}

func TestRateLimiter_Shared(t *testing.T) {
	denying := &stubAllower{allow: false}
	rl := NewRateLimiter(5, denying, logger.Nop())
	assert.False(t, rl.Allow(context.Background(), "user:a1", "send_message"))
	assert.Equal(t, 1, denying.calls)

	broken := &stubAllower{err: errors.New("redis down")}
	rl = NewRateLimiter(5, broken, logger.Nop())
	assert.True(t, rl.Allow(context.Background(), "user:a1", "send_message"))
}

func TestRateLimiter_Prune(t *testing.T) {
	rl := NewRateLimiter(5, nil, logger.Nop())
	rl.getLimiter("user:a1")
	rl.prune(0)
	assert.Empty(t, rl.limiters)
}

func TestMetricsMiddleware(t *testing.T) {
	m := metrics.New()
	r := gin.New()
	r.Use(Metrics(m))
	r.GET("/api/conversations/:id/messages", func(c *gin.Context) { c.Status(http.StatusOK) })

	perform(r, httptest.NewRequest(http.MethodGet, "/api/conversations/c1/messages", nil))
	perform(r, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/api/conversations/:id/messages", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "unmatched", "404")))
}

func TestCORSMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(CORSMiddleware([]string{"http://localhost:3000"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := perform(r, req)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = perform(r, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequestLogger(t *testing.T) {
	r := gin.New()
	r.Use(RequestLogger(logger.Nop()))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusTeapot) })

	w := perform(r, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
}
