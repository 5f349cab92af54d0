// Package auditlog appends who-did-what rows for every mutation the
// registry accepts or denies. Each row carries a SHA-256 over a canonical
// rendering of itself, so exported trails can be checked for tampering
// offline.
package auditlog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// integritySchema versions the canonical rendering; verification tooling
// dispatches on it.
const integritySchema = "datagate.audit.v1"

// Event is one audit row. Tenancy is the tenancy of the touched resource
// when the handler knows it; auth denials and DOI operations leave it empty.
type Event struct {
	OccurredAt   time.Time
	Actor        string
	Action       string
	ResourceType string
	ResourceID   string
	Tenancy      string
	RequestID    string
	IP           net.IP
	UserAgent    string
	Details      any
}

type QueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (e Event) Validate() error {
	switch {
	case e.OccurredAt.IsZero():
		return errors.New("occurred_at is required")
	case strings.TrimSpace(e.Actor) == "":
		return errors.New("actor is required")
	case strings.TrimSpace(e.Action) == "":
		return errors.New("action is required")
	case strings.TrimSpace(e.ResourceType) == "":
		return errors.New("resource_type is required")
	case strings.TrimSpace(e.ResourceID) == "":
		return errors.New("resource_id is required")
	}
	return nil
}

func (e Event) ipString() string {
	s := e.IP.String()
	if s == "<nil>" {
		return ""
	}
	return s
}

// Insert appends the event and returns its row id. The caller passes its
// transaction when the audit row must commit atomically with the mutation.
func Insert(ctx context.Context, q QueryRower, event Event) (int64, error) {
	if q == nil {
		return 0, errors.New("queryer is required")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := event.Validate(); err != nil {
		return 0, err
	}

	details := event.Details
	if details == nil {
		details = map[string]any{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return 0, fmt.Errorf("marshal details: %w", err)
	}

	integrity, err := ComputeIntegritySHA256(event, detailsJSON)
	if err != nil {
		return 0, err
	}

	var id int64
	err = q.QueryRowContext(
		ctx,
		`INSERT INTO audit_events (
			occurred_at,
			actor,
			action,
			resource_type,
			resource_id,
			tenancy,
			request_id,
			ip,
			user_agent,
			details,
			integrity_sha256
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING event_id`,
		event.OccurredAt.UTC(),
		strings.TrimSpace(event.Actor),
		strings.TrimSpace(event.Action),
		strings.TrimSpace(event.ResourceType),
		strings.TrimSpace(event.ResourceID),
		nullable(event.Tenancy),
		nullable(event.RequestID),
		nullable(event.ipString()),
		nullable(event.UserAgent),
		detailsJSON,
		integrity,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert audit event: %w", err)
	}
	return id, nil
}

// ComputeIntegritySHA256 hashes the canonical JSON rendering of the event.
// Field order is fixed by the struct below; detailsJSON is embedded verbatim
// so re-marshalling differences cannot change the hash.
func ComputeIntegritySHA256(event Event, detailsJSON []byte) (string, error) {
	canonical := struct {
		Schema       string          `json:"schema"`
		OccurredAt   time.Time       `json:"occurred_at"`
		Actor        string          `json:"actor"`
		Action       string          `json:"action"`
		ResourceType string          `json:"resource_type"`
		ResourceID   string          `json:"resource_id"`
		Tenancy      string          `json:"tenancy,omitempty"`
		RequestID    string          `json:"request_id,omitempty"`
		IP           string          `json:"ip,omitempty"`
		UserAgent    string          `json:"user_agent,omitempty"`
		Details      json.RawMessage `json:"details"`
	}{
		Schema:       integritySchema,
		OccurredAt:   event.OccurredAt.UTC(),
		Actor:        strings.TrimSpace(event.Actor),
		Action:       strings.TrimSpace(event.Action),
		ResourceType: strings.TrimSpace(event.ResourceType),
		ResourceID:   strings.TrimSpace(event.ResourceID),
		Tenancy:      strings.TrimSpace(event.Tenancy),
		RequestID:    strings.TrimSpace(event.RequestID),
		IP:           strings.TrimSpace(event.ipString()),
		UserAgent:    strings.TrimSpace(event.UserAgent),
		Details:      detailsJSON,
	}

	blob, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}

func nullable(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
