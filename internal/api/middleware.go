package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/darasahq/darasa-sync/internal/ability"
	"github.com/darasahq/darasa-sync/internal/tenant"
	"github.com/darasahq/darasa-sync/internal/types"
)

// Principal headers forwarded by the school management gateway after it
// has authenticated the end user. The service itself only authenticates
// the gateway (API key); user identity is taken on trust from these.
const (
	HeaderUserID   = "X-Sync-User-ID"
	HeaderSchoolID = "X-Sync-School-ID"
	HeaderRoles    = "X-Sync-Roles"
)

// extractBearerToken extracts the token from Authorization header.
// Returns empty string for missing/malformed headers.
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}

	// Must start with "Bearer " (case-sensitive per RFC 6750)
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}

	token := strings.TrimSpace(auth[len(prefix):])
	return token
}

// constantTimeEqual compares two strings using constant-time comparison
// to prevent timing attacks.
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// AuthMiddleware validates Bearer token using constant-time comparison.
// Returns 401 RFC 7807 Problem Details on auth failure.
// MUST NOT include expected API key in logs or responses.
func AuthMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if !constantTimeEqual(token, apiKey) {
				slog.Warn("auth failure",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_ip", r.RemoteAddr,
				)
				WriteProblem(w, r, http.StatusUnauthorized, "Missing or invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// PrincipalMiddleware reads the gateway-supplied principal headers and
// attaches the principal to the request context. The user id is
// mandatory; the school id is enforced later, by SchoolStoreMiddleware,
// so that school-administration routes work without one.
func PrincipalMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if userID == "" {
			WriteProblem(w, r, http.StatusUnauthorized, "Missing sync principal headers")
			return
		}

		p := types.Principal{
			UserID:   userID,
			SchoolID: strings.TrimSpace(r.Header.Get(HeaderSchoolID)),
		}
		if raw := r.Header.Get(HeaderRoles); raw != "" {
			for _, role := range strings.Split(raw, ",") {
				if role = strings.TrimSpace(role); role != "" {
					p.Roles = append(p.Roles, role)
				}
			}
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// SchoolStoreMiddleware resolves the principal's school store and
// attaches it to the request context. Every sync route runs behind this;
// handlers can assume the store is present.
func SchoolStoreMiddleware(manager *tenant.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if manager == nil {
				WriteProblem(w, r, http.StatusServiceUnavailable, "School storage unavailable")
				return
			}

			p, err := PrincipalFromContext(r.Context())
			if err != nil || p.SchoolID == "" {
				WriteProblem(w, r, http.StatusUnauthorized, "Missing school in sync principal")
				return
			}

			school, err := manager.GetSchool(r.Context(), p.SchoolID)
			if err != nil {
				MapSchoolError(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSchoolStore(r.Context(), school.Store)))
		})
	}
}

// RequireAbility rejects requests whose principal roles do not grant the
// action. A nil checker denies everything; wire ability.AllowAll to open
// the gate in development.
func RequireAbility(checker ability.Checker, action ability.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := PrincipalFromContext(r.Context())
			if err != nil {
				WriteProblem(w, r, http.StatusUnauthorized, "Missing sync principal headers")
				return
			}
			if checker == nil || !checker.Can(p, action) {
				WriteProblemForbidden(w, r, fmt.Sprintf("Caller roles do not permit %s", action))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetRequestID returns the request ID injected by chi's RequestID
// middleware, or an empty string when none is present.
func GetRequestID(ctx context.Context) string {
	return chiMiddleware.GetReqID(ctx)
}

// logLevelForStatus maps a response status to a log level: 5xx logs as
// error, 4xx as warn, everything else as info.
func logLevelForStatus(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// LoggingMiddleware logs one line per completed request. The Authorization
// header is never logged.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		slog.Log(r.Context(), logLevelForStatus(wrapped.statusCode), "request completed",
			"request_id", GetRequestID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RecoveryMiddleware catches panics and returns 500 Problem Details.
// Panic details are logged but never exposed to the client.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				slog.Error("panic recovered",
					"error", recovered,
					"stack", string(debug.Stack()),
					"path", r.URL.Path,
					"method", r.Method,
				)
				WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
