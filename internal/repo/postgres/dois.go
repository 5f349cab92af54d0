package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/datagate-labs/datagate-go/internal/domain"
)

type DOIStore struct {
	db DB
}

func NewDOIStore(db DB) *DOIStore {
	if db == nil {
		return nil
	}
	return &DOIStore{db: db}
}

const doiColumns = `id, version_id, mode, state, identifier, prefix, suffix, url, doi, provider_response, created_at, updated_at`

func (s *DOIStore) Create(ctx context.Context, doi domain.DOI) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("doi store not initialized")
	}
	if err := doi.Validate(); err != nil {
		return err
	}
	attributesJSON, err := json.Marshal(doi.Attributes)
	if err != nil {
		return fmt.Errorf("encode doi attributes: %w", err)
	}
	createdAt := normalizeTime(doi.CreatedAt)
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO dois (
			id,
			version_id,
			mode,
			state,
			identifier,
			prefix,
			suffix,
			url,
			doi,
			provider_response,
			created_at,
			updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)`,
		strings.TrimSpace(doi.ID),
		strings.TrimSpace(doi.VersionID),
		string(doi.Mode),
		string(doi.State),
		strings.TrimSpace(doi.Identifier),
		strings.TrimSpace(doi.Prefix),
		strings.TrimSpace(doi.Suffix),
		strings.TrimSpace(doi.URL),
		attributesJSON,
		normalizeRaw(doi.ProviderResponse),
		createdAt,
	)
	return translateError(err)
}

func (s *DOIStore) GetByIdentifier(ctx context.Context, identifier string) (domain.DOI, error) {
	if s == nil || s.db == nil {
		return domain.DOI{}, fmt.Errorf("doi store not initialized")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+doiColumns+` FROM dois WHERE identifier = $1`,
		strings.TrimSpace(identifier),
	)
	return scanDOIRows(row)
}

func (s *DOIStore) GetByVersion(ctx context.Context, versionID string) (domain.DOI, error) {
	if s == nil || s.db == nil {
		return domain.DOI{}, fmt.Errorf("doi store not initialized")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+doiColumns+` FROM dois WHERE version_id = $1`,
		strings.TrimSpace(versionID),
	)
	return scanDOIRows(row)
}

func (s *DOIStore) Update(ctx context.Context, doi domain.DOI) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("doi store not initialized")
	}
	if err := doi.Validate(); err != nil {
		return err
	}
	attributesJSON, err := json.Marshal(doi.Attributes)
	if err != nil {
		return fmt.Errorf("encode doi attributes: %w", err)
	}
	return requireRow(s.db.ExecContext(
		ctx,
		`UPDATE dois SET
			state = $2,
			identifier = $3,
			prefix = $4,
			suffix = $5,
			url = $6,
			doi = $7,
			provider_response = $8,
			updated_at = now()
		WHERE id = $1`,
		strings.TrimSpace(doi.ID),
		string(doi.State),
		strings.TrimSpace(doi.Identifier),
		strings.TrimSpace(doi.Prefix),
		strings.TrimSpace(doi.Suffix),
		strings.TrimSpace(doi.URL),
		attributesJSON,
		normalizeRaw(doi.ProviderResponse),
	))
}

func (s *DOIStore) Delete(ctx context.Context, identifier string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("doi store not initialized")
	}
	return requireRow(s.db.ExecContext(
		ctx,
		`DELETE FROM dois WHERE identifier = $1`,
		strings.TrimSpace(identifier),
	))
}

func scanDOIRows(row rowScanner) (domain.DOI, error) {
	var (
		doi            domain.DOI
		attributesJSON []byte
		providerJSON   []byte
	)
	err := row.Scan(
		&doi.ID,
		&doi.VersionID,
		&doi.Mode,
		&doi.State,
		&doi.Identifier,
		&doi.Prefix,
		&doi.Suffix,
		&doi.URL,
		&attributesJSON,
		&providerJSON,
		&doi.CreatedAt,
		&doi.UpdatedAt,
	)
	if err != nil {
		return domain.DOI{}, translateError(err)
	}
	if len(attributesJSON) > 0 {
		if err := json.Unmarshal(attributesJSON, &doi.Attributes); err != nil {
			return domain.DOI{}, fmt.Errorf("decode doi attributes: %w", err)
		}
	}
	if len(providerJSON) > 0 {
		doi.ProviderResponse = json.RawMessage(providerJSON)
	}
	return doi, nil
}

func normalizeRaw(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}
