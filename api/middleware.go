package api

import (
	"context"
	"crypto/subtle"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/warp/commission-engine/commission"
	"golang.org/x/time/rate"
)

// AgentHeader carries the agent id resolved by the upstream auth gateway.
const AgentHeader = "X-Agent-ID"

type agentKey struct{}

// RequireAgent rejects requests without an agent identity and stores it on
// the request context.
func RequireAgent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agentID := strings.TrimSpace(r.Header.Get(AgentHeader))
		if agentID == "" {
			writeError(w, http.StatusUnauthorized, "Agent session required", nil)
			return
		}
		ctx := context.WithValue(r.Context(), agentKey{}, commission.AgentID(agentID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AgentFromContext returns the agent set by RequireAgent.
func AgentFromContext(ctx context.Context) (commission.AgentID, bool) {
	id, ok := ctx.Value(agentKey{}).(commission.AgentID)
	return id, ok && id != ""
}

// RequireOperator checks a bearer token when one is configured. An empty
// token leaves operator routes open (local development).
func RequireOperator(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		want := []byte(token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				writeError(w, http.StatusUnauthorized, "Operator credentials required", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Throttle answers 429 once limiter runs dry.
func Throttle(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", retryAfter(limiter))
				writeError(w, http.StatusTooManyRequests, "Too many lifecycle runs, try again later", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewTriggerLimiter allows perMinute runs per minute with a burst of one.
func NewTriggerLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

// RequestLogger logs one line per request through logrus.
func RequestLogger(logger logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.WithFields(logrus.Fields{
					"request_id":  middleware.GetReqID(r.Context()),
					"method":      r.Method,
					"path":        r.URL.Path,
					"status":      ww.Status(),
					"bytes":       ww.BytesWritten(),
					"duration_ms": time.Since(start).Milliseconds(),
				}).Info("http request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// retryAfter is the whole seconds until the limiter refills one token.
func retryAfter(limiter *rate.Limiter) string {
	secs := 1
	if l := float64(limiter.Limit()); l > 0 {
		secs = max(1, int(math.Round(1/l)))
	}
	return strconv.Itoa(secs)
}
