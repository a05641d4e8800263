package auth

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/blueberrycongee/supportgate/internal/observability"
	"github.com/blueberrycongee/supportgate/internal/ratelimit"
)

// AuditAction represents the type of event being audited.
type AuditAction string

const (
	AuditActionSignIn         AuditAction = "sign_in"
	AuditActionSignInFailed   AuditAction = "sign_in_failed"
	AuditActionSignOut        AuditAction = "sign_out"
	AuditActionTokenRefresh   AuditAction = "token_refresh"
	AuditActionRedirectDenied AuditAction = "redirect_denied"
	AuditActionRateLimited    AuditAction = "rate_limited"
	AuditActionAccessDenied   AuditAction = "access_denied"
)

// AuditEvent is one security-relevant event.
type AuditEvent struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	// Who
	ActorEmail string `json:"actor_email,omitempty"`
	ActorIP    string `json:"actor_ip,omitempty"`

	// What
	Action AuditAction `json:"action"`
	// Resource is the path, limiter class or capability the event concerns.
	Resource string `json:"resource,omitempty"`

	// Request context
	RequestID  string `json:"request_id,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	RequestURI string `json:"request_uri,omitempty"`

	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	Metadata Metadata `json:"metadata,omitempty"`
}

// AuditFilter contains filter options for querying audit events.
type AuditFilter struct {
	ActorEmail *string
	Action     *AuditAction
	StartTime  time.Time
	EndTime    time.Time
	Success    *bool
	Limit      int
	Offset     int
}

// AuditStats contains aggregated audit statistics.
type AuditStats struct {
	TotalEvents  int64            `json:"total_events"`
	SuccessCount int64            `json:"success_count"`
	FailureCount int64            `json:"failure_count"`
	UniqueActors int              `json:"unique_actors"`
	ActionCounts map[string]int64 `json:"action_counts"`
}

// AuditStore persists audit events.
type AuditStore interface {
	// CreateAuditEvent records a new event, assigning ID and Timestamp if unset.
	CreateAuditEvent(ctx context.Context, event *AuditEvent) error

	// ListAuditEvents returns events matching the filter, newest first, and
	// the total number of matches before pagination.
	ListAuditEvents(ctx context.Context, filter AuditFilter) ([]*AuditEvent, int64, error)

	// GetAuditStats returns aggregated statistics over matching events.
	GetAuditStats(ctx context.Context, filter AuditFilter) (*AuditStats, error)

	// DeleteAuditEvents deletes events older than the given time.
	DeleteAuditEvents(ctx context.Context, olderThan time.Time) (int64, error)
}

// AuditLogger records events without ever failing the request that caused
// them: store errors are logged and dropped. A nil *AuditLogger is a no-op.
type AuditLogger struct {
	store   AuditStore
	enabled bool
	logger  *slog.Logger
	now     func() time.Time
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(store AuditStore, enabled bool, logger *slog.Logger) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		store:   store,
		enabled: enabled,
		logger:  logger,
		now:     time.Now,
	}
}

// Store returns the underlying store.
func (al *AuditLogger) Store() AuditStore {
	if al == nil {
		return nil
	}
	return al.store
}

// Record stores event.
func (al *AuditLogger) Record(ctx context.Context, event *AuditEvent) {
	if al == nil || !al.enabled || al.store == nil || event == nil {
		return
	}
	if event.ID == "" {
		event.ID = generateAuditID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = al.now().UTC()
	}
	if err := al.store.CreateAuditEvent(ctx, event); err != nil {
		al.logger.Warn("failed to record audit event",
			"action", string(event.Action),
			"request_id", event.RequestID,
			"error", err,
		)
	}
}

// LogSignIn records a sign-in attempt.
func (al *AuditLogger) LogSignIn(r *http.Request, email string, success bool, errMsg string) {
	action := AuditActionSignIn
	if !success {
		action = AuditActionSignInFailed
	}
	event := eventFromRequest(r, action)
	event.ActorEmail = email
	event.Success = success
	event.Error = errMsg
	al.Record(requestContext(r), event)
}

// LogSignOut records an explicit sign-out.
func (al *AuditLogger) LogSignOut(r *http.Request, email string) {
	event := eventFromRequest(r, AuditActionSignOut)
	event.ActorEmail = email
	event.Success = true
	al.Record(requestContext(r), event)
}

// LogTokenRefresh records a reissued session.
func (al *AuditLogger) LogTokenRefresh(r *http.Request, email string, success bool, errMsg string) {
	event := eventFromRequest(r, AuditActionTokenRefresh)
	event.ActorEmail = email
	event.Success = success
	event.Error = errMsg
	al.Record(requestContext(r), event)
}

// LogRedirectDenied records a redirect target that fell back to the base URL.
func (al *AuditLogger) LogRedirectDenied(r *http.Request, email, target string) {
	event := eventFromRequest(r, AuditActionRedirectDenied)
	event.ActorEmail = email
	event.Resource = target
	al.Record(requestContext(r), event)
}

// LogRateLimited records a request rejected by the limiter.
func (al *AuditLogger) LogRateLimited(r *http.Request, identity, class string, retryAfter int) {
	event := eventFromRequest(r, AuditActionRateLimited)
	event.ActorEmail = identity
	event.Resource = class
	event.Metadata = Metadata{"retry_after": retryAfter}
	al.Record(requestContext(r), event)
}

// LogAccessDenied records a signed-in user lacking a capability.
func (al *AuditLogger) LogAccessDenied(r *http.Request, email, capability string) {
	event := eventFromRequest(r, AuditActionAccessDenied)
	event.ActorEmail = email
	event.Resource = capability
	al.Record(requestContext(r), event)
}

func eventFromRequest(r *http.Request, action AuditAction) *AuditEvent {
	event := &AuditEvent{Action: action}
	if r == nil {
		return event
	}
	event.ActorIP = ratelimit.ClientIP(r)
	event.RequestID = observability.RequestIDFromContext(r.Context())
	event.UserAgent = r.UserAgent()
	event.RequestURI = r.URL.Path
	return event
}

func requestContext(r *http.Request) context.Context {
	if r == nil {
		return context.Background()
	}
	// Recording outlives a cancelled client connection.
	return context.WithoutCancel(r.Context())
}

// generateAuditID generates a unique ID for audit events.
func generateAuditID() string {
	return uuid.New().String()
}
