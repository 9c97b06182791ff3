package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/darasahq/darasa-sync/internal/store"
	darasasync "github.com/darasahq/darasa-sync/internal/sync"
	"github.com/darasahq/darasa-sync/internal/tenant"
)

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// problemTypes maps HTTP status codes to RFC 7807 type URIs and titles.
var problemTypes = map[int]struct {
	typeURI string
	title   string
}{
	http.StatusUnauthorized: {
		typeURI: "https://darasa.app/errors/unauthorized",
		title:   "Unauthorized",
	},
	http.StatusBadRequest: {
		typeURI: "https://darasa.app/errors/bad-request",
		title:   "Bad Request",
	},
	http.StatusNotFound: {
		typeURI: "https://darasa.app/errors/not-found",
		title:   "Not Found",
	},
	http.StatusInternalServerError: {
		typeURI: "https://darasa.app/errors/internal-error",
		title:   "Internal Server Error",
	},
	http.StatusUnprocessableEntity: {
		typeURI: "https://darasa.app/errors/validation-error",
		title:   "Validation Error",
	},
	http.StatusServiceUnavailable: {
		typeURI: "https://darasa.app/errors/service-unavailable",
		title:   "Service Unavailable",
	},
	http.StatusConflict: {
		typeURI: "https://darasa.app/errors/conflict",
		title:   "Conflict",
	},
	http.StatusForbidden: {
		typeURI: "https://darasa.app/errors/forbidden",
		title:   "Forbidden",
	},
	http.StatusTooManyRequests: {
		typeURI: "https://darasa.app/errors/rate-limit",
		title:   "Too Many Requests",
	},
}

// WriteProblem writes an RFC 7807 Problem Details response.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	pt, ok := problemTypes[status]
	if !ok {
		pt = struct {
			typeURI string
			title   string
		}{
			typeURI: "https://darasa.app/errors/unknown",
			title:   http.StatusText(status),
		}
	}

	p := Problem{
		Type:     pt.typeURI,
		Title:    pt.title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		slog.Error("failed to encode problem response", "error", err)
	}
}

// FieldError names one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ProblemWithErrors extends Problem with field-level error details.
type ProblemWithErrors struct {
	Problem
	Errors []FieldError `json:"errors,omitempty"`
}

// WriteProblemWithErrors writes a 422 Problem Details response with field errors.
func WriteProblemWithErrors(w http.ResponseWriter, r *http.Request, detail string, errs []FieldError) {
	pt := problemTypes[http.StatusUnprocessableEntity]

	p := ProblemWithErrors{
		Problem: Problem{
			Type:     pt.typeURI,
			Title:    pt.title,
			Status:   http.StatusUnprocessableEntity,
			Detail:   detail,
			Instance: r.URL.Path,
		},
		Errors: errs,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(http.StatusUnprocessableEntity)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		slog.Error("failed to encode problem response", "error", err)
	}
}

// WriteProblemConflict writes a 409 Conflict problem response.
func WriteProblemConflict(w http.ResponseWriter, r *http.Request, detail string) {
	WriteProblem(w, r, http.StatusConflict, detail)
}

// WriteProblemForbidden writes a 403 Forbidden problem response.
func WriteProblemForbidden(w http.ResponseWriter, r *http.Request, detail string) {
	WriteProblem(w, r, http.StatusForbidden, detail)
}

// MapSyncError converts sync and store taxonomy errors to Problem
// Details responses: validation 422, unknown resource 404, ownership 403,
// already-resolved and bad state transitions 409, everything else 500.
func MapSyncError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *darasasync.ValidationError
	switch {
	case errors.As(err, &ve):
		WriteProblemWithErrors(w, r, "Request contains invalid fields",
			[]FieldError{{Field: ve.Field, Message: ve.Message}})
	case errors.Is(err, store.ErrNotFound):
		WriteProblem(w, r, http.StatusNotFound, "Resource not found")
	case errors.Is(err, darasasync.ErrPermissionDenied):
		WriteProblemForbidden(w, r, "Conflict belongs to another user")
	case errors.Is(err, store.ErrConflictResolved):
		WriteProblemConflict(w, r, "Conflict already resolved")
	case errors.Is(err, store.ErrInvalidTransition):
		WriteProblemConflict(w, r, "Sync item state does not allow this change")
	default:
		// Never expose internal error details to client
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
	}
}

// MapSchoolError converts tenant errors to Problem Details responses.
func MapSchoolError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tenant.ErrSchoolNotFound):
		WriteProblem(w, r, http.StatusNotFound, "School not found")
	case errors.Is(err, tenant.ErrInvalidSchoolID):
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, tenant.ErrSchoolExists):
		WriteProblemConflict(w, r, "School already exists")
	default:
		// Never expose internal error details to client
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
	}
}
