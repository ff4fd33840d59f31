// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"crypto/subtle"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ============================================================================
// AUTH
// ============================================================================

// bearerAuth rejects requests without the configured bearer token. An empty
// token disables the check.
func bearerAuth(token string, log *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if token == "" {
				return next(c)
			}
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			given, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				// Browsers cannot set headers on websocket upgrades.
				given = c.QueryParam("token")
			}
			if !ValidateBearerToken(given, token) {
				log.Info("auth denied", zap.String("ip", c.RealIP()), zap.String("path", c.Path()))
				return c.JSON(http.StatusUnauthorized, errorBody("unauthorized", ""))
			}
			return next(c)
		}
	}
}

// ValidateBearerToken compares tokens in constant time. It returns false if
// either token is empty.
func ValidateBearerToken(token, expected string) bool {
	if token == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}

// ============================================================================
// ORIGIN CHECK
// ============================================================================

// originAllowed reports whether a websocket upgrade from r may proceed. With
// no allowlist only same-host origins (and non-browser clients, which send
// no Origin) are accepted.
func originAllowed(allowed []string, r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(allowed) == 0 {
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
		// "*.example.com" matches any subdomain.
		if strings.HasPrefix(a, "*.") && strings.HasSuffix(origin, a[1:]) {
			return true
		}
	}
	return false
}

// ============================================================================
// RATE LIMITER
// ============================================================================

// limiterTTL is how long an idle client's limiter is kept.
const limiterTTL = 10 * time.Minute

// clientLimiter holds one token bucket per client address.
type clientLimiter struct {
	perMinute int

	mu      sync.Mutex
	clients map[string]*clientEntry
	swept   time.Time
}

type clientEntry struct {
	limiter *rate.Limiter
	seen    time.Time
}

func newClientLimiter(perMinute int) *clientLimiter {
	return &clientLimiter{perMinute: perMinute, clients: make(map[string]*clientEntry)}
}

// allow spends a token for ip. Idle entries are swept lazily so the limiter
// needs no background goroutine.
func (l *clientLimiter) allow(ip string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.swept) > limiterTTL {
		for k, e := range l.clients {
			if now.Sub(e.seen) > limiterTTL {
				delete(l.clients, k)
			}
		}
		l.swept = now
	}

	e, ok := l.clients[ip]
	if !ok {
		e = &clientEntry{limiter: rate.NewLimiter(rate.Limit(float64(l.perMinute)/60), l.perMinute)}
		l.clients[ip] = e
	}
	e.seen = now
	return e.limiter.AllowN(now, 1)
}

// rateLimit answers 429 once a client exceeds perMinute requests. Zero
// disables limiting.
func rateLimit(perMinute int) echo.MiddlewareFunc {
	if perMinute <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	limiter := newClientLimiter(perMinute)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !limiter.allow(c.RealIP(), time.Now()) {
				c.Response().Header().Set("Retry-After", "60")
				return c.JSON(http.StatusTooManyRequests, errorBody("rate limit exceeded", "retry"))
			}
			return next(c)
		}
	}
}

// ============================================================================
// HEADERS AND LOGGING
// ============================================================================

// securityHeaders sets conservative response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Cache-Control", "no-store")
			return next(c)
		}
	}
}

// requestLogger logs one line per request.
func requestLogger(log *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			log.Debug("request",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Request().URL.Path),
				zap.Int("status", c.Response().Status),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", c.RealIP()),
			)
			return nil
		}
	}
}
