package auditlog

import (
	"context"
	"database/sql"
	"net"
	"strings"

	"github.com/datagate-labs/datagate-go/internal/platform/auth"
)

// InsertAuthDeny records a rejected request as an audit row. Denials happen
// before any resource is resolved, so the row targets the HTTP surface
// itself and carries no tenancy.
func InsertAuthDeny(ctx context.Context, db *sql.DB, service string, event auth.DenyEvent) error {
	actor := strings.TrimSpace(event.Subject)
	if actor == "" {
		actor = "anonymous"
	}

	var ip net.IP
	if host, _, err := net.SplitHostPort(event.RemoteAddr); err == nil {
		ip = net.ParseIP(host)
	}

	_, err := Insert(ctx, db, Event{
		OccurredAt:   event.Time,
		Actor:        actor,
		Action:       "auth." + strings.TrimSpace(event.Reason),
		ResourceType: "http",
		ResourceID:   event.Method + " " + event.Path,
		RequestID:    event.RequestID,
		IP:           ip,
		UserAgent:    event.UserAgent,
		Details: map[string]any{
			"service": service,
			"status":  event.Status,
			"reason":  event.Reason,
			"error":   event.Error,
			"subject": event.Subject,
			"email":   event.Email,
			"roles":   event.Roles,
		},
	})
	return err
}
