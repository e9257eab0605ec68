package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/auth"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/database"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/logging"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/web/middleware"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

const (
	errRequestNotFound   = "Request not found"
	errAlreadyProcessed  = "Request already processed"
	errInternal          = "Internal server error"
	defaultRejectReason  = "Not specified"
	dateLayout           = "2006-01-02"
	maxRequestBodyBytes  = 32 << 20
	maxAttendanceStatDay = 90
)

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondInternal logs err and sends a generic 500.
func respondInternal(w http.ResponseWriter, r *http.Request, msg string, err error) {
	logging.Error(msg, "error", err, "path", r.URL.Path)
	respondError(w, http.StatusInternalServerError, errInternal)
}

// decodeJSON reads a JSON body of at most maxRequestBodyBytes. An empty body
// leaves v untouched.
// respondHashError maps a password hashing failure to a response.
func respondHashError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, auth.ErrPasswordTooLong) {
		respondError(w, http.StatusBadRequest, "Password is too long (max 72 bytes)")
		return
	}
	respondInternal(w, r, "hashing password failed", err)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return false
	}
	return true
}

// urlID parses a positive integer URL parameter.
func urlID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// queryInt reads a positive integer query parameter.
func queryInt(r *http.Request, name string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// pageFromQuery reads page and per_page, capping per_page at MaxPerPage.
func pageFromQuery(r *http.Request, perPage int) database.Page {
	return database.Page{
		Page:    queryInt(r, "page", 1),
		PerPage: min(queryInt(r, "per_page", perPage), database.MaxPerPage),
	}
}

// pagedResponse is the envelope of every paginated listing.
func pagedResponse(key string, items any, total int, page database.Page) map[string]any {
	return map[string]any{
		key:        items,
		"total":    total,
		"page":     page.Page,
		"per_page": page.PerPage,
		"pages":    page.Pages(total),
	}
}

func identity(r *http.Request) *auth.Identity {
	return middleware.GetIdentityFromContext(r.Context())
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// today returns the UTC calendar day attendance is recorded against.
func today(now time.Time) string {
	return now.UTC().Format(dateLayout)
}

// HealthHandler reports liveness for load balancers and Railway.
type HealthHandler struct {
	ping    func(ctx context.Context) error
	version string
}

// NewHealthHandler creates a health handler. ping may be nil when no
// database is configured.
func NewHealthHandler(ping func(ctx context.Context) error, version string) *HealthHandler {
	return &HealthHandler{ping: ping, version: version}
}

// Check answers 200 even when the database ping fails.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	db := "not_configured"
	if h.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		db = "connected"
		if err := h.ping(ctx); err != nil {
			logging.Warn("health check database ping failed", "error", err)
			db = "unavailable"
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"database":  db,
		"version":   h.version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
