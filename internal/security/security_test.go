package security

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/idea-forge/internal/ratelimit"
)

type stubTokens map[string]string

func (s stubTokens) ValidateSessionToken(token string) (string, error) {
	if userID, ok := s[token]; ok {
		return userID, nil
	}
	return "", fmt.Errorf("invalid token")
}

func TestSecurityConfig(t *testing.T) {
	config := DefaultSecurityConfig()

	assert.Equal(t, 5000, config.MaxInputLength)
	assert.Equal(t, int64(1<<20), config.MaxBodyBytes)
	assert.Equal(t, 30*time.Second, config.RequestTimeout)
	assert.Empty(t, config.AdminToken)
}

func TestValidateInput(t *testing.T) {
	sm := NewSecurityMiddleware(DefaultSecurityConfig(), nil)

	tests := []struct {
		name     string
		input    string
		errorMsg string
	}{
		{name: "plain idea", input: "A marketplace for spare compute in dorm rooms"},
		{name: "korean idea", input: "동네 공구 대여 앱"},
		{name: "too long", input: strings.Repeat("a", 5001), errorMsg: "input exceeds maximum length"},
		{name: "null bytes", input: "idea\x00text", errorMsg: "input contains invalid characters"},
		{name: "invalid UTF-8", input: "idea\xff\xfetext", errorMsg: "input contains invalid UTF-8 encoding"},
		{name: "script tag", input: "<SCRIPT>alert(1)</SCRIPT>", errorMsg: "input contains suspicious patterns"},
		{name: "javascript url", input: "see javascript:void(0)", errorMsg: "input contains suspicious patterns"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sm.ValidateInput(tt.input)
			if tt.errorMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestSanitizeInput(t *testing.T) {
	sm := NewSecurityMiddleware(DefaultSecurityConfig(), nil)

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "trims whitespace", input: "  idea  ", expected: "idea"},
		{name: "strips tags", input: "<b>bold</b> idea", expected: "bold idea"},
		{name: "drops script blocks", input: "ok<script>alert('x')</script>", expected: "ok"},
		{name: "decodes entities", input: "fish &amp; chips &lt;3", expected: "fish & chips <3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, sm.SanitizeInput(tt.input))
		})
	}
}

func TestCleanText(t *testing.T) {
	sm := NewSecurityMiddleware(DefaultSecurityConfig(), nil)

	cleaned, err := sm.CleanText("<i>Solar</i> kiosks")
	require.NoError(t, err)
	assert.Equal(t, "Solar kiosks", cleaned)

	_, err = sm.CleanText("javascript:alert(1)")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input validation failed")
}

func TestSecurityHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sm := NewSecurityMiddleware(DefaultSecurityConfig(), nil)

	r := gin.New()
	r.Use(sm.SecurityHeaders)
	r.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "test"})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	headers := w.Header()
	assert.Equal(t, "nosniff", headers.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", headers.Get("X-Frame-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", headers.Get("Referrer-Policy"))
	assert.Empty(t, headers.Get("Strict-Transport-Security"), "plain HTTP gets no HSTS")
}

func TestValidateContentType(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sm := NewSecurityMiddleware(DefaultSecurityConfig(), nil)

	r := gin.New()
	r.Use(sm.ValidateContentType)
	r.POST("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "success"})
	})

	tests := []struct {
		name           string
		contentType    string
		expectedStatus int
	}{
		{name: "json", contentType: "application/json", expectedStatus: http.StatusOK},
		{name: "json with charset", contentType: "application/json; charset=utf-8", expectedStatus: http.StatusOK},
		{name: "plain text", contentType: "text/plain", expectedStatus: http.StatusUnsupportedMediaType},
		{name: "no content type", contentType: "", expectedStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/test", bytes.NewBufferString(`{"text": "idea"}`))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

func TestLimitBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	config := DefaultSecurityConfig()
	config.MaxBodyBytes = 16
	sm := NewSecurityMiddleware(config, nil)

	r := gin.New()
	r.Use(sm.LimitBody)
	r.POST("/test", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/test", strings.NewReader("short")))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(strings.Repeat("x", 64))))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestRequestTimeout(t *testing.T) {
	gin.SetMode(gin.TestMode)
	config := DefaultSecurityConfig()
	config.RequestTimeout = time.Millisecond
	sm := NewSecurityMiddleware(config, nil)

	r := gin.New()
	r.Use(sm.RequestTimeout)
	r.GET("/test", func(c *gin.Context) {
		select {
		case <-c.Request.Context().Done():
			c.Status(http.StatusGatewayTimeout)
		case <-time.After(time.Second):
			c.Status(http.StatusOK)
		}
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
}

func TestAuthenticate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sm := NewSecurityMiddleware(DefaultSecurityConfig(), stubTokens{"good": "user-1"})

	r := gin.New()
	r.Use(sm.Authenticate)
	r.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ratelimit.UserIDKey))
	})
	r.GET("/private", sm.RequireUser, func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	tests := []struct {
		name           string
		path           string
		header         string
		expectedStatus int
		expectedBody   string
	}{
		{name: "anonymous", path: "/whoami", expectedStatus: http.StatusOK, expectedBody: ""},
		{name: "bearer token", path: "/whoami", header: "Bearer good", expectedStatus: http.StatusOK, expectedBody: "user-1"},
		{name: "lowercase scheme", path: "/whoami", header: "bearer good", expectedStatus: http.StatusOK, expectedBody: "user-1"},
		{name: "query token", path: "/whoami?access_token=good", expectedStatus: http.StatusOK, expectedBody: "user-1"},
		{name: "bad token", path: "/whoami", header: "Bearer nope", expectedStatus: http.StatusUnauthorized},
		{name: "private without token", path: "/private", expectedStatus: http.StatusUnauthorized},
		{name: "private with token", path: "/private", header: "Bearer good", expectedStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus == http.StatusOK && tt.path == "/whoami" {
				assert.Equal(t, tt.expectedBody, w.Body.String())
			}
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newRouter := func(token string) *gin.Engine {
		config := DefaultSecurityConfig()
		config.AdminToken = token
		sm := NewSecurityMiddleware(config, nil)

		r := gin.New()
		r.GET("/admin", sm.RequireAdmin, func(c *gin.Context) { c.Status(http.StatusOK) })
		return r
	}

	tests := []struct {
		name           string
		configured     string
		given          string
		expectedStatus int
	}{
		{name: "matching token", configured: "s3cret", given: "s3cret", expectedStatus: http.StatusOK},
		{name: "wrong token", configured: "s3cret", given: "guess", expectedStatus: http.StatusUnauthorized},
		{name: "missing header", configured: "s3cret", expectedStatus: http.StatusUnauthorized},
		{name: "admin disabled", configured: "", given: "", expectedStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.given != "" {
				req.Header.Set(AdminTokenHeader, tt.given)
			}
			w := httptest.NewRecorder()
			newRouter(tt.configured).ServeHTTP(w, req)
			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}
