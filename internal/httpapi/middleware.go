package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"govqueue/internal/auth"
	"govqueue/internal/ids"
)

const maxBodyBytes = 1 << 20

type requestIDKey struct{}

// TokenParser turns a bearer token into the caller's identity.
type TokenParser interface {
	Parse(token string) (auth.User, error)
}

// RequestID takes X-Request-ID from the caller or assigns one, and echoes it
// on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" || len(requestID) > 64 {
			requestID = ids.New()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFromContext(ctx context.Context) string {
	requestID, _ := ctx.Value(requestIDKey{}).(string)
	return requestID
}

func MaxBodyBytes(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// LoggingMiddleware writes one line per request.
func LoggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			writer := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(writer, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", writer.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", requestIDFromContext(r.Context())),
			}
			if writer.status >= http.StatusInternalServerError {
				logger.Error("request", fields...)
				return
			}
			logger.Info("request", fields...)
		})
	}
}

// Identity refreshes a parsed caller, for example with the role currently on
// record.
type Identity interface {
	CurrentUser(ctx context.Context) (auth.User, error)
}

// AuthMiddleware attaches the caller's identity when a bearer token is sent.
// Requests without one continue anonymously; a bad token is rejected. When
// identity is set the caller is resolved through it after parsing.
func AuthMiddleware(parser TokenParser, identity Identity) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r.Header.Get("Authorization"))
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			user, err := parser.Parse(token)
			if err != nil {
				writeError(w, requestIDFromContext(r.Context()), http.StatusUnauthorized, "unauthorized", "invalid or expired token")
				return
			}
			ctx := auth.WithUser(r.Context(), user)
			if identity != nil {
				user, err = identity.CurrentUser(ctx)
				if errors.Is(err, auth.ErrUnauthenticated) {
					writeError(w, requestIDFromContext(ctx), http.StatusUnauthorized, "unauthorized", "unknown account")
					return
				}
				if err != nil {
					writeError(w, requestIDFromContext(ctx), http.StatusInternalServerError, "upstream_error", "identity unavailable")
					return
				}
				ctx = auth.WithUser(ctx, user)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireRole rejects anonymous callers, and callers outside roles when any
// are given.
func requireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := auth.UserFromContext(r.Context())
			if !ok {
				writeError(w, requestIDFromContext(r.Context()), http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			if len(roles) > 0 && !user.HasRole(roles...) {
				writeError(w, requestIDFromContext(r.Context()), http.StatusForbidden, "forbidden", "role not permitted")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}
