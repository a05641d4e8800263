// Audit trail endpoints.
package api //nolint:revive // package name is intentional

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/blueberrycongee/supportgate/internal/auth"
	"github.com/blueberrycongee/supportgate/internal/httputil"
	"github.com/blueberrycongee/supportgate/internal/observability"
	gwerrors "github.com/blueberrycongee/supportgate/pkg/errors"
)

const (
	defaultAuditPageSize = 50
	maxAuditPageSize     = 500
	maxAuditRequestBody  = 4 << 10
)

// AuditLogHandler handles audit trail endpoints. Callers wrap it with the
// leadership capability.
type AuditLogHandler struct {
	store  auth.AuditStore
	logger *slog.Logger
	now    func() time.Time
}

// NewAuditLogHandler creates a new audit log handler.
func NewAuditLogHandler(store auth.AuditStore, logger *slog.Logger) *AuditLogHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogHandler{store: store, logger: logger, now: time.Now}
}

// ListAuditEvents handles GET /audit/events.
func (h *AuditLogHandler) ListAuditEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r)
	if err != nil {
		writeError(w, gwerrors.NewInvalidRequestError(err.Error()))
		return
	}

	query := r.URL.Query()
	filter.Limit = defaultAuditPageSize
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, gwerrors.NewInvalidRequestError("limit must be a positive integer"))
			return
		}
		filter.Limit = min(limit, maxAuditPageSize)
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			writeError(w, gwerrors.NewInvalidRequestError("offset must be a non-negative integer"))
			return
		}
		filter.Offset = offset
	}

	events, total, err := h.store.ListAuditEvents(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list audit events",
			"request_id", observability.RequestIDFromContext(r.Context()), "error", err)
		writeError(w, gwerrors.NewInternalError("failed to list audit events"))
		return
	}

	writeJSON(h.logger, w, http.StatusOK, map[string]any{
		"events": events,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// GetAuditStats handles GET /audit/stats. The window defaults to the last 24h.
func (h *AuditLogHandler) GetAuditStats(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r)
	if err != nil {
		writeError(w, gwerrors.NewInvalidRequestError(err.Error()))
		return
	}
	now := h.now().UTC()
	if filter.StartTime.IsZero() {
		filter.StartTime = now.Add(-24 * time.Hour)
	}
	if filter.EndTime.IsZero() {
		filter.EndTime = now
	}

	stats, err := h.store.GetAuditStats(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to compute audit stats",
			"request_id", observability.RequestIDFromContext(r.Context()), "error", err)
		writeError(w, gwerrors.NewInternalError("failed to get audit stats"))
		return
	}

	writeJSON(h.logger, w, http.StatusOK, map[string]any{
		"stats":      stats,
		"start_time": filter.StartTime.Format(time.RFC3339),
		"end_time":   filter.EndTime.Format(time.RFC3339),
	})
}

// DeleteAuditEventsRequest represents a request to delete old audit events.
type DeleteAuditEventsRequest struct {
	OlderThanDays int `json:"older_than_days"`
}

// DeleteAuditEvents handles POST /audit/delete.
func (h *AuditLogHandler) DeleteAuditEvents(w http.ResponseWriter, r *http.Request) {
	var req DeleteAuditEventsRequest
	if err := httputil.DecodeJSON(r.Body, maxAuditRequestBody, &req); err != nil {
		msg := "invalid request body"
		if errors.Is(err, httputil.ErrBodyTooLarge) {
			msg = "request body too large"
		}
		writeError(w, gwerrors.NewInvalidRequestError(msg))
		return
	}
	if req.OlderThanDays <= 0 {
		writeError(w, gwerrors.NewInvalidRequestError("older_than_days must be positive"))
		return
	}

	cutoff := h.now().UTC().Add(-time.Duration(req.OlderThanDays) * 24 * time.Hour)
	deleted, err := h.store.DeleteAuditEvents(r.Context(), cutoff)
	if err != nil {
		h.logger.Error("failed to delete audit events",
			"request_id", observability.RequestIDFromContext(r.Context()), "error", err)
		writeError(w, gwerrors.NewInternalError("failed to delete audit events"))
		return
	}

	writeJSON(h.logger, w, http.StatusOK, map[string]any{
		"deleted_count": deleted,
		"cutoff_date":   cutoff.Format(time.RFC3339),
	})
}

// RegisterAuditRoutes registers audit routes on mux, each wrapped by guard.
func (h *AuditLogHandler) RegisterAuditRoutes(mux *http.ServeMux, guard func(http.Handler) http.Handler) {
	if guard == nil {
		guard = func(next http.Handler) http.Handler { return next }
	}
	mux.Handle("GET /audit/events", guard(http.HandlerFunc(h.ListAuditEvents)))
	mux.Handle("GET /audit/stats", guard(http.HandlerFunc(h.GetAuditStats)))
	mux.Handle("POST /audit/delete", guard(http.HandlerFunc(h.DeleteAuditEvents)))
}

type auditFilterError string

func (e auditFilterError) Error() string { return string(e) }

func parseAuditFilter(r *http.Request) (auth.AuditFilter, error) {
	query := r.URL.Query()
	var filter auth.AuditFilter

	if actor := query.Get("actor_email"); actor != "" {
		filter.ActorEmail = &actor
	}
	if raw := query.Get("action"); raw != "" {
		action := auth.AuditAction(raw)
		filter.Action = &action
	}
	if raw := query.Get("success"); raw != "" {
		success, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, auditFilterError("success must be true or false")
		}
		filter.Success = &success
	}
	if raw := query.Get("start_time"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, auditFilterError("start_time must be RFC3339")
		}
		filter.StartTime = t
	}
	if raw := query.Get("end_time"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, auditFilterError("end_time must be RFC3339")
		}
		filter.EndTime = t
	}
	return filter, nil
}
