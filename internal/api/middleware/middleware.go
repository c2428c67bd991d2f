package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/bedrock-server-manager/internal/logging"
	"golang.org/x/time/rate"
)

// CORS answers preflight requests and echoes allowed origins. Requests
// without an Origin header pass untouched.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	policy := newCORSPolicy(allowedOrigins)

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			c.Header("Vary", "Origin")
			if policy.allows(origin) {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
				c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

type corsPolicy struct {
	any     bool
	origins map[string]bool
}

func newCORSPolicy(allowedOrigins []string) corsPolicy {
	policy := corsPolicy{origins: make(map[string]bool)}
	for _, origin := range allowedOrigins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		switch origin {
		case "":
		case "*":
			policy.any = true
		default:
			policy.origins[origin] = true
		}
	}
	return policy
}

func (p corsPolicy) allows(origin string) bool {
	return origin == "" || p.any || p.origins[origin]
}

// IsOriginAllowed matches an Origin header against the allow list. An empty
// origin is a non-browser client and is always allowed.
func IsOriginAllowed(origin string, allowedOrigins []string) bool {
	return newCORSPolicy(allowedOrigins).allows(origin)
}

// SecurityHeaders adds the usual API hardening headers
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		c.Next()
	}
}

// Logger writes one record per request. Health probes are only logged in
// debug mode; query strings are dropped since they may carry a token.
func Logger() gin.HandlerFunc {
	log := logging.Component("api")

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if c.Request.URL.Path == "/api/v1/health" && gin.Mode() != gin.DebugMode {
			return
		}

		status := c.Writer.Status()
		level := log.Info
		switch {
		case status >= 500:
			level = log.Error
		case status >= 400:
			level = log.Warn
		}
		level("http_request",
			"method", c.Request.Method,
			"route", c.FullPath(),
			"path", c.Request.URL.Path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"ip", c.ClientIP(),
			"operator", Operator(c),
		)
	}
}

// Audit records every state-changing request in the activity log
func Audit(activity *logging.ActivityLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if activity == nil || c.Request.Method == http.MethodGet || c.Request.Method == http.MethodOptions {
			return
		}

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		entry := &logging.Activity{
			ActivityType: logging.ActivityAPIRequest,
			Description:  c.Request.Method + " " + route,
			Metadata: map[string]interface{}{
				"operator": Operator(c),
				"status":   status,
				"ip":       c.ClientIP(),
			},
			Success: status < 400,
		}
		if len(c.Errors) > 0 {
			entry.ErrorMessage = c.Errors.String()
		}
		if err := activity.LogActivity(entry); err != nil {
			logging.Component("api").Warn("audit_failed", "error", err)
		}
	}
}

// RateLimit allows each client IP a burst of requestsPerMinute, refilled
// evenly over a minute. Zero or less disables the limit.
func RateLimit(requestsPerMinute int) gin.HandlerFunc {
	if requestsPerMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	limiter := newClientLimiter(requestsPerMinute)

	return func(c *gin.Context) {
		if !limiter.allow(c.ClientIP(), time.Now()) {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

type clientLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration

	mu          sync.Mutex
	clients     map[string]*clientBucket
	lastCleanup time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(requestsPerMinute int) *clientLimiter {
	return &clientLimiter{
		limit:   rate.Every(time.Minute / time.Duration(requestsPerMinute)),
		burst:   requestsPerMinute,
		idle:    3 * time.Minute,
		clients: make(map[string]*clientBucket),
	}
}

func (l *clientLimiter) allow(ip string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastCleanup) > l.idle {
		for key, bucket := range l.clients {
			if now.Sub(bucket.lastSeen) > l.idle {
				delete(l.clients, key)
			}
		}
		l.lastCleanup = now
	}

	bucket, ok := l.clients[ip]
	if !ok {
		bucket = &clientBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[ip] = bucket
	}
	bucket.lastSeen = now
	return bucket.limiter.AllowN(now, 1)
}
