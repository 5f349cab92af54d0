// Package lineageevent records provenance as subject/predicate/object edges:
// dataset has_version version, version has_doi doi. Each edge carries a
// SHA-256 over a canonical rendering of itself, mirroring the audit trail.
package lineageevent

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const integritySchema = "datagate.lineage.v1"

// Edge is one provenance edge. Metadata holds edge attributes (a version
// name, a DOI mode) and is stored verbatim.
type Edge struct {
	OccurredAt  time.Time
	Actor       string
	RequestID   string
	SubjectType string
	SubjectID   string
	Predicate   string
	ObjectType  string
	ObjectID    string
	Metadata    any
}

type QueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (e Edge) Validate() error {
	switch {
	case e.OccurredAt.IsZero():
		return errors.New("occurred_at is required")
	case strings.TrimSpace(e.Actor) == "":
		return errors.New("actor is required")
	case strings.TrimSpace(e.SubjectType) == "":
		return errors.New("subject_type is required")
	case strings.TrimSpace(e.SubjectID) == "":
		return errors.New("subject_id is required")
	case strings.TrimSpace(e.Predicate) == "":
		return errors.New("predicate is required")
	case strings.TrimSpace(e.ObjectType) == "":
		return errors.New("object_type is required")
	case strings.TrimSpace(e.ObjectID) == "":
		return errors.New("object_id is required")
	}
	return nil
}

// Insert appends the edge and returns its row id.
func Insert(ctx context.Context, q QueryRower, edge Edge) (int64, error) {
	if q == nil {
		return 0, errors.New("queryer is required")
	}
	if edge.OccurredAt.IsZero() {
		edge.OccurredAt = time.Now().UTC()
	}
	if err := edge.Validate(); err != nil {
		return 0, err
	}

	metadata := edge.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return 0, fmt.Errorf("marshal metadata: %w", err)
	}

	integrity, err := ComputeIntegritySHA256(edge, metadataJSON)
	if err != nil {
		return 0, err
	}

	var id int64
	err = q.QueryRowContext(
		ctx,
		`INSERT INTO lineage_events (
			occurred_at,
			actor,
			request_id,
			subject_type,
			subject_id,
			predicate,
			object_type,
			object_id,
			metadata,
			integrity_sha256
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING event_id`,
		edge.OccurredAt.UTC(),
		strings.TrimSpace(edge.Actor),
		nullable(edge.RequestID),
		strings.TrimSpace(edge.SubjectType),
		strings.TrimSpace(edge.SubjectID),
		strings.TrimSpace(edge.Predicate),
		strings.TrimSpace(edge.ObjectType),
		strings.TrimSpace(edge.ObjectID),
		metadataJSON,
		integrity,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert lineage edge: %w", err)
	}
	return id, nil
}

// ComputeIntegritySHA256 hashes the canonical JSON rendering of the edge;
// metadataJSON is embedded verbatim.
func ComputeIntegritySHA256(edge Edge, metadataJSON []byte) (string, error) {
	canonical := struct {
		Schema      string          `json:"schema"`
		OccurredAt  time.Time       `json:"occurred_at"`
		Actor       string          `json:"actor"`
		RequestID   string          `json:"request_id,omitempty"`
		SubjectType string          `json:"subject_type"`
		SubjectID   string          `json:"subject_id"`
		Predicate   string          `json:"predicate"`
		ObjectType  string          `json:"object_type"`
		ObjectID    string          `json:"object_id"`
		Metadata    json.RawMessage `json:"metadata"`
	}{
		Schema:      integritySchema,
		OccurredAt:  edge.OccurredAt.UTC(),
		Actor:       strings.TrimSpace(edge.Actor),
		RequestID:   strings.TrimSpace(edge.RequestID),
		SubjectType: strings.TrimSpace(edge.SubjectType),
		SubjectID:   strings.TrimSpace(edge.SubjectID),
		Predicate:   strings.TrimSpace(edge.Predicate),
		ObjectType:  strings.TrimSpace(edge.ObjectType),
		ObjectID:    strings.TrimSpace(edge.ObjectID),
		Metadata:    metadataJSON,
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
