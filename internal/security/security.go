package security

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/ZanzyTHEbar/idea-forge/internal/errors"
	"github.com/ZanzyTHEbar/idea-forge/internal/ratelimit"
)

// AdminTokenHeader carries the admin token on /admin routes
const AdminTokenHeader = "X-Admin-Token"

// SecurityConfig holds security configuration
type SecurityConfig struct {
	MaxInputLength int           `json:"max_input_length"`
	MaxBodyBytes   int64         `json:"max_body_bytes"`
	RequestTimeout time.Duration `json:"request_timeout"`
	AdminToken     string        `json:"-"`
}

// DefaultSecurityConfig returns secure defaults
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		MaxInputLength: 5000,
		MaxBodyBytes:   1 << 20,
		RequestTimeout: 30 * time.Second,
	}
}

// TokenValidator resolves a bearer token to a user id
type TokenValidator interface {
	ValidateSessionToken(token string) (string, error)
}

// SecurityMiddleware provides request hardening and authentication
type SecurityMiddleware struct {
	config SecurityConfig
	tokens TokenValidator
}

// NewSecurityMiddleware creates a new security middleware instance
func NewSecurityMiddleware(config SecurityConfig, tokens TokenValidator) *SecurityMiddleware {
	return &SecurityMiddleware{config: config, tokens: tokens}
}

var (
	scriptPattern  = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	htmlTagPattern = regexp.MustCompile(`<[^>]+>`)
)

// ValidateInput rejects text that is too long, is not UTF-8, carries NUL
// bytes or embeds script.
func (sm *SecurityMiddleware) ValidateInput(input string) error {
	if !utf8.ValidString(input) {
		return fmt.Errorf("input contains invalid UTF-8 encoding")
	}
	if n := utf8.RuneCountInString(input); n > sm.config.MaxInputLength {
		return fmt.Errorf("input exceeds maximum length of %d characters", sm.config.MaxInputLength)
	}
	if strings.Contains(input, "\x00") {
		return fmt.Errorf("input contains invalid characters")
	}

	lower := strings.ToLower(input)
	for _, pattern := range []string{"<script", "javascript:", "vbscript:"} {
		if strings.Contains(lower, pattern) {
			return fmt.Errorf("input contains suspicious patterns")
		}
	}
	return nil
}

// SanitizeInput strips markup and decodes the common HTML entities
func (sm *SecurityMiddleware) SanitizeInput(input string) string {
	input = strings.TrimSpace(input)
	input = scriptPattern.ReplaceAllString(input, "")
	input = htmlTagPattern.ReplaceAllString(input, "")

	replacer := strings.NewReplacer(
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", "\"",
		"&#x27;", "'",
		"&#39;", "'",
		"&amp;", "&",
	)
	return replacer.Replace(input)
}

// CleanText sanitizes then validates free text from a request body
func (sm *SecurityMiddleware) CleanText(input string) (string, error) {
	cleaned := sm.SanitizeInput(input)
	if err := sm.ValidateInput(cleaned); err != nil {
		return "", errors.NewValidationError("input validation failed", err.Error())
	}
	return cleaned, nil
}

// SecurityHeaders adds security headers to responses
func (sm *SecurityMiddleware) SecurityHeaders(c *gin.Context) {
	c.Header("X-Content-Type-Options", "nosniff")
	c.Header("X-Frame-Options", "DENY")
	c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
	c.Header("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
	if c.Request.TLS != nil {
		c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}
	c.Next()
}

// ValidateContentType rejects bodies that are not JSON
func (sm *SecurityMiddleware) ValidateContentType(c *gin.Context) {
	if c.Request.Method == http.MethodGet || c.Request.ContentLength == 0 {
		c.Next()
		return
	}

	contentType := strings.ToLower(c.GetHeader("Content-Type"))
	if contentType != "" && !strings.Contains(contentType, "application/json") {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{
			"error": "unsupported content type",
		})
		c.Abort()
		return
	}
	c.Next()
}

// LimitBody caps request body size
func (sm *SecurityMiddleware) LimitBody(c *gin.Context) {
	if sm.config.MaxBodyBytes > 0 && c.Request.Body != nil {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, sm.config.MaxBodyBytes)
	}
	c.Next()
}

// RequestTimeout enforces request timeout
func (sm *SecurityMiddleware) RequestTimeout(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), sm.config.RequestTimeout)
	defer cancel()

	c.Request = c.Request.WithContext(ctx)
	c.Header("X-Timeout", strconv.Itoa(int(sm.config.RequestTimeout.Seconds())))
	c.Next()
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	// EventSource cannot set headers
	return c.Query("access_token")
}

// Authenticate stores the user id of a valid bearer token under
// ratelimit.UserIDKey. Requests without a token pass through anonymously;
// an invalid token is rejected.
func (sm *SecurityMiddleware) Authenticate(c *gin.Context) {
	token := bearerToken(c)
	if token == "" || sm.tokens == nil {
		c.Next()
		return
	}

	userID, err := sm.tokens.ValidateSessionToken(token)
	if err != nil {
		slog.Warn("Rejected session token", "ip", c.ClientIP(), "error", err)
		appErr := errors.NewUnauthorizedError("invalid or expired session token")
		c.AbortWithStatusJSON(appErr.HTTPStatus, appErr)
		return
	}
	c.Set(ratelimit.UserIDKey, userID)
	c.Next()
}

// RequireUser rejects anonymous requests
func (sm *SecurityMiddleware) RequireUser(c *gin.Context) {
	if c.GetString(ratelimit.UserIDKey) == "" {
		appErr := errors.NewUnauthorizedError("a session token is required")
		c.AbortWithStatusJSON(appErr.HTTPStatus, appErr)
		return
	}
	c.Next()
}

// RequireAdmin checks the admin token header. Admin routes are closed when
// no admin token is configured.
func (sm *SecurityMiddleware) RequireAdmin(c *gin.Context) {
	given := c.GetHeader(AdminTokenHeader)
	if sm.config.AdminToken == "" ||
		subtle.ConstantTimeCompare([]byte(given), []byte(sm.config.AdminToken)) != 1 {
		slog.Warn("Rejected admin request", "ip", c.ClientIP(), "path", c.Request.URL.Path)
		appErr := errors.NewUnauthorizedError("admin token required")
		c.AbortWithStatusJSON(appErr.HTTPStatus, appErr)
		return
	}
	c.Next()
}
