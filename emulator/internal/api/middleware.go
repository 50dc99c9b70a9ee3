package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shunichi-ikebuchi/exact-online-connector/emulator/internal/oauth"
)

type contextKey string

const (
	contextKeyToken contextKey = "token"
)

// AuthMiddleware is a middleware that validates OAuth2 access tokens.
func AuthMiddleware(tokenManager *oauth.TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeJSONError(w, http.StatusUnauthorized, "Missing Authorization header")
				return
			}

			// Parse Bearer token.
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeJSONError(w, http.StatusUnauthorized, "Invalid Authorization header format")
				return
			}

			token := parts[1]

			// Validate token.
			valid, err := tokenManager.ValidateToken(token)
			if err != nil {
				writeJSONError(w, http.StatusInternalServerError, "Failed to validate token")
				return
			}

			if !valid {
				writeJSONError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}

			// Store token in context.
			ctx := context.WithValue(r.Context(), contextKeyToken, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimiter enforces a per-token minutely request quota and reports it in
// the X-RateLimit-Minutely-* headers. A zero limit disables it.
type RateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*rateWindow
}

type rateWindow struct {
	start time.Time
	used  int
}

// NewRateLimiter creates a limiter allowing limit requests per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		windows: make(map[string]*rateWindow),
	}
}

// Middleware applies the quota. Requests over the quota get 429.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l == nil || l.limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		token, _ := r.Context().Value(contextKeyToken).(string)
		remaining, reset, allowed := l.take(token)

		h := w.Header()
		h.Set("X-RateLimit-Minutely-Limit", strconv.Itoa(l.limit))
		h.Set("X-RateLimit-Minutely-Remaining", strconv.Itoa(remaining))
		h.Set("X-RateLimit-Minutely-Reset", strconv.FormatInt(reset.UnixMilli(), 10))

		if !allowed {
			writeJSONError(w, http.StatusTooManyRequests, "Too many requests, minutely limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) take(token string) (remaining int, reset time.Time, allowed bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	win := l.windows[token]
	if win == nil || !now.Before(win.start.Add(l.window)) {
		win = &rateWindow{start: now}
		l.windows[token] = win
	}
	reset = win.start.Add(l.window)

	if win.used >= l.limit {
		return 0, reset, false
	}
	win.used++
	return l.limit - win.used, reset, true
}

// errorEnvelope is the OData error body.
type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message struct {
			Lang  string `json:"lang"`
			Value string `json:"value"`
		} `json:"message"`
	} `json:"error"`
}

// writeJSONError writes an OData error response.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	var body errorEnvelope
	body.Error.Message.Value = message

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeJSON writes an OData response.
func writeJSON(w http.ResponseWriter, status int, d any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"d": d})
}
