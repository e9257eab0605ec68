package handlers

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/auth"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/database"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/logging"
)

// Auditor writes system log entries for state-changing actions. A failed
// write is logged and never reaches the client.
type Auditor struct {
	logs database.LogStore
}

// NewAuditor creates an auditor over logs.
func NewAuditor(logs database.LogStore) *Auditor {
	return &Auditor{logs: logs}
}

// clientIP returns the request address without its port. chi's RealIP
// middleware has already replaced RemoteAddr with the forwarded address.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// Record logs action for the authenticated caller of r.
func (a *Auditor) Record(r *http.Request, action, details string) {
	id := identity(r)
	if id == nil {
		a.RecordAs(r, "anonymous", nil, "", action, details)
		return
	}
	a.RecordFor(r, id, action, details)
}

// RecordFor logs action on behalf of id, which may differ from the caller
// when the request itself authenticates someone (login).
func (a *Auditor) RecordFor(r *http.Request, id *auth.Identity, action, details string) {
	userID := id.ID
	a.RecordAs(r, string(id.Type), &userID, id.Email, action, details)
}

// RecordAs logs action with an explicit actor.
func (a *Auditor) RecordAs(r *http.Request, userType string, userID *int64, email, action, details string) {
	if a == nil || a.logs == nil {
		return
	}
	entry := &database.SystemLog{
		Action:    action,
		UserType:  userType,
		UserID:    userID,
		UserEmail: email,
		Details:   details,
		IPAddress: clientIP(r),
		Timestamp: time.Now().UTC(),
	}
	// The request context may already be cancelled when the handler returns.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
	defer cancel()
	if err := a.logs.Write(ctx, entry); err != nil {
		logging.Warn("failed to write system log", "action", action, "error", err)
	}
}
