package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/datagate-labs/datagate-go/internal/domain"
	"github.com/datagate-labs/datagate-go/internal/repo"
	"github.com/datagate-labs/datagate-go/internal/searchtext"
)

type DatasetStore struct {
	db DB
}

func NewDatasetStore(db DB) *DatasetStore {
	if db == nil {
		return nil
	}
	return &DatasetStore{db: db}
}

const datasetColumns = `id, name, data, tenancy, owner_id, is_enabled, design_state, visibility, file_collocation_status, created_at, updated_at`

const versionColumns = `id, dataset_id, name, design_state, is_enabled, created_at, updated_at, created_by`

// indexDocument builds the accent-folded text the search vector is computed
// from. The vector is maintained write-through: every insert or update of a
// dataset recomputes it in the same statement.
func indexDocument(dataset domain.Dataset) string {
	return searchtext.Document(
		dataset.Name,
		dataset.Data.StringField("category"),
		dataset.Data.StringField("data_type"),
		dataset.Data.StringField("level"),
		dataset.Data.StringField("description"),
	)
}

func (s *DatasetStore) Create(ctx context.Context, dataset domain.Dataset) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("dataset store not initialized")
	}
	if err := dataset.Validate(); err != nil {
		return err
	}
	dataJSON, err := encodeMetadata(dataset.Data)
	if err != nil {
		return fmt.Errorf("encode data: %w", err)
	}
	createdAt := normalizeTime(dataset.CreatedAt)
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO datasets (
			id,
			name,
			data,
			tenancy,
			owner_id,
			is_enabled,
			design_state,
			visibility,
			file_collocation_status,
			search_vector,
			created_at,
			updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,to_tsvector('simple', $10),$11,$11)`,
		strings.TrimSpace(dataset.ID),
		strings.TrimSpace(dataset.Name),
		dataJSON,
		strings.TrimSpace(dataset.Tenancy),
		strings.TrimSpace(dataset.OwnerID),
		dataset.IsEnabled,
		string(dataset.DesignState),
		string(dataset.Visibility),
		nullStatus(dataset.CollocationStatus),
		indexDocument(dataset),
		createdAt,
	)
	if err != nil {
		return translateError(err)
	}
	for _, version := range dataset.Versions {
		if err := s.CreateVersion(ctx, version); err != nil {
			return err
		}
	}
	return nil
}

func (s *DatasetStore) Get(ctx context.Context, id string, opts repo.DatasetGetOpts) (domain.Dataset, error) {
	if s == nil || s.db == nil {
		return domain.Dataset{}, fmt.Errorf("dataset store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Dataset{}, fmt.Errorf("dataset id is required")
	}

	clauses := []string{"d.id = $1"}
	args := []any{id}
	if len(opts.Tenancies) > 0 {
		args = append(args, opts.Tenancies)
		clauses = append(clauses, fmt.Sprintf("d.tenancy = ANY($%d)", len(args)))
	}
	if opts.IsEnabled != nil {
		args = append(args, *opts.IsEnabled)
		clauses = append(clauses, fmt.Sprintf("d.is_enabled = $%d", len(args)))
	}
	if !opts.AnyEnablement && !opts.LatestVersion {
		clauses = append(clauses, "EXISTS (SELECT 1 FROM dataset_versions v WHERE v.dataset_id = d.id AND v.is_enabled)")
	}

	query := `SELECT ` + datasetColumns + ` FROM datasets d WHERE ` + strings.Join(clauses, " AND ")
	dataset, err := scanDataset(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return domain.Dataset{}, err
	}

	if opts.LatestVersion {
		version, err := s.latestVersion(ctx, dataset.ID, opts)
		if err != nil {
			return domain.Dataset{}, err
		}
		dataset.Versions = []domain.DatasetVersion{version}
	} else {
		versions, err := s.ListVersions(ctx, dataset.ID)
		if err != nil {
			return domain.Dataset{}, err
		}
		dataset.Versions = versions
	}
	if err := s.attachDOIs(ctx, dataset.Versions); err != nil {
		return domain.Dataset{}, err
	}
	return dataset, nil
}

func (s *DatasetStore) latestVersion(ctx context.Context, datasetID string, opts repo.DatasetGetOpts) (domain.DatasetVersion, error) {
	clauses := []string{"dataset_id = $1"}
	args := []any{datasetID}
	if opts.VersionDesignState != "" {
		args = append(args, string(opts.VersionDesignState))
		clauses = append(clauses, fmt.Sprintf("design_state = $%d", len(args)))
	}
	if opts.VersionEnabled != nil {
		args = append(args, *opts.VersionEnabled)
		clauses = append(clauses, fmt.Sprintf("is_enabled = $%d", len(args)))
	}
	query := `SELECT ` + versionColumns + ` FROM dataset_versions WHERE ` +
		strings.Join(clauses, " AND ") +
		` ORDER BY created_at DESC LIMIT 1`
	return scanVersion(s.db.QueryRowContext(ctx, query, args...))
}

func (s *DatasetStore) Update(ctx context.Context, dataset domain.Dataset) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("dataset store not initialized")
	}
	if err := dataset.Validate(); err != nil {
		return err
	}
	dataJSON, err := encodeMetadata(dataset.Data)
	if err != nil {
		return fmt.Errorf("encode data: %w", err)
	}
	return requireRow(s.db.ExecContext(
		ctx,
		`UPDATE datasets SET
			name = $2,
			data = $3,
			tenancy = $4,
			owner_id = $5,
			search_vector = to_tsvector('simple', $6),
			updated_at = now()
		WHERE id = $1`,
		strings.TrimSpace(dataset.ID),
		strings.TrimSpace(dataset.Name),
		dataJSON,
		strings.TrimSpace(dataset.Tenancy),
		strings.TrimSpace(dataset.OwnerID),
		indexDocument(dataset),
	))
}

func (s *DatasetStore) SetEnabled(ctx context.Context, id string, enabled bool) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("dataset store not initialized")
	}
	return requireRow(s.db.ExecContext(
		ctx,
		`UPDATE datasets SET is_enabled = $2, updated_at = now() WHERE id = $1`,
		strings.TrimSpace(id),
		enabled,
	))
}

func (s *DatasetStore) UpdateDesignState(ctx context.Context, id string, state domain.DesignState) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("dataset store not initialized")
	}
	return requireRow(s.db.ExecContext(
		ctx,
		`UPDATE datasets SET design_state = $2, updated_at = now() WHERE id = $1`,
		strings.TrimSpace(id),
		string(state),
	))
}

func (s *DatasetStore) CreateVersion(ctx context.Context, version domain.DatasetVersion) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("dataset store not initialized")
	}
	if err := version.Validate(); err != nil {
		return err
	}
	createdAt := normalizeTime(version.CreatedAt)
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO dataset_versions (
			id,
			dataset_id,
			name,
			design_state,
			is_enabled,
			created_at,
			updated_at,
			created_by
		) VALUES ($1,$2,$3,$4,$5,$6,$6,$7)`,
		strings.TrimSpace(version.ID),
		strings.TrimSpace(version.DatasetID),
		strings.TrimSpace(version.Name),
		string(version.DesignState),
		version.IsEnabled,
		createdAt,
		strings.TrimSpace(version.CreatedBy),
	)
	return translateError(err)
}

func (s *DatasetStore) GetVersion(ctx context.Context, versionID string) (domain.DatasetVersion, error) {
	if s == nil || s.db == nil {
		return domain.DatasetVersion{}, fmt.Errorf("dataset store not initialized")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+versionColumns+` FROM dataset_versions WHERE id = $1`,
		strings.TrimSpace(versionID),
	)
	return scanVersion(row)
}

func (s *DatasetStore) GetVersionByName(ctx context.Context, datasetID, name string) (domain.DatasetVersion, error) {
	if s == nil || s.db == nil {
		return domain.DatasetVersion{}, fmt.Errorf("dataset store not initialized")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+versionColumns+` FROM dataset_versions WHERE dataset_id = $1 AND name = $2`,
		strings.TrimSpace(datasetID),
		strings.TrimSpace(name),
	)
	return scanVersion(row)
}

func (s *DatasetStore) ListVersions(ctx context.Context, datasetID string) ([]domain.DatasetVersion, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("dataset store not initialized")
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+versionColumns+` FROM dataset_versions WHERE dataset_id = $1 ORDER BY created_at`,
		strings.TrimSpace(datasetID),
	)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	versions := make([]domain.DatasetVersion, 0)
	for rows.Next() {
		version, err := scanVersionRows(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	return versions, nil
}

func (s *DatasetStore) CountVersions(ctx context.Context, datasetID string) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("dataset store not initialized")
	}
	var count int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM dataset_versions WHERE dataset_id = $1`,
		strings.TrimSpace(datasetID),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count versions: %w", err)
	}
	return count, nil
}

func (s *DatasetStore) UpdateVersionDesignState(ctx context.Context, versionID string, state domain.DesignState) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("dataset store not initialized")
	}
	return requireRow(s.db.ExecContext(
		ctx,
		`UPDATE dataset_versions SET design_state = $2, updated_at = now() WHERE id = $1`,
		strings.TrimSpace(versionID),
		string(state),
	))
}

func (s *DatasetStore) SetVersionEnabled(ctx context.Context, versionID string, enabled bool) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("dataset store not initialized")
	}
	return requireRow(s.db.ExecContext(
		ctx,
		`UPDATE dataset_versions SET is_enabled = $2, updated_at = now() WHERE id = $1`,
		strings.TrimSpace(versionID),
		enabled,
	))
}

func (s *DatasetStore) ListPendingCollocation(ctx context.Context) ([]domain.Dataset, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("dataset store not initialized")
	}
	// NULL status is the legacy equivalent of pending.
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+datasetColumns+` FROM datasets d
		 WHERE d.is_enabled
		   AND (d.file_collocation_status IS NULL OR d.file_collocation_status = $1)
		 ORDER BY d.created_at`,
		string(domain.CollocationPending),
	)
	if err != nil {
		return nil, fmt.Errorf("list pending collocation: %w", err)
	}
	defer rows.Close()

	datasets := make([]domain.Dataset, 0)
	for rows.Next() {
		dataset, err := scanDatasetRows(rows)
		if err != nil {
			return nil, err
		}
		datasets = append(datasets, dataset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pending collocation: %w", err)
	}
	return datasets, nil
}

func (s *DatasetStore) UpdateCollocationStatus(ctx context.Context, datasetID string, status domain.CollocationStatus) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("dataset store not initialized")
	}
	return requireRow(s.db.ExecContext(
		ctx,
		`UPDATE datasets SET file_collocation_status = $2, updated_at = now() WHERE id = $1`,
		strings.TrimSpace(datasetID),
		string(status),
	))
}

func (s *DatasetStore) attachDOIs(ctx context.Context, versions []domain.DatasetVersion) error {
	if len(versions) == 0 {
		return nil
	}
	ids := make([]string, 0, len(versions))
	for _, v := range versions {
		ids = append(ids, v.ID)
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+doiColumns+` FROM dois WHERE version_id = ANY($1)`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("load dois: %w", err)
	}
	defer rows.Close()

	byVersion := make(map[string]domain.DOI)
	for rows.Next() {
		doi, err := scanDOIRows(rows)
		if err != nil {
			return err
		}
		byVersion[doi.VersionID] = doi
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load dois: %w", err)
	}
	for i := range versions {
		if doi, ok := byVersion[versions[i].ID]; ok {
			attached := doi
			versions[i].DOI = &attached
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDataset(row rowScanner) (domain.Dataset, error) {
	return scanDatasetRows(row)
}

func scanDatasetRows(row rowScanner) (domain.Dataset, error) {
	var (
		dataset  domain.Dataset
		dataJSON []byte
		status   *string
	)
	err := row.Scan(
		&dataset.ID,
		&dataset.Name,
		&dataJSON,
		&dataset.Tenancy,
		&dataset.OwnerID,
		&dataset.IsEnabled,
		&dataset.DesignState,
		&dataset.Visibility,
		&status,
		&dataset.CreatedAt,
		&dataset.UpdatedAt,
	)
	if err != nil {
		return domain.Dataset{}, translateError(err)
	}
	data, err := decodeMetadata(dataJSON)
	if err != nil {
		return domain.Dataset{}, fmt.Errorf("decode data: %w", err)
	}
	dataset.Data = data
	if status != nil {
		dataset.CollocationStatus = domain.CollocationStatus(*status)
	}
	return dataset, nil
}

func scanVersion(row rowScanner) (domain.DatasetVersion, error) {
	return scanVersionRows(row)
}

func scanVersionRows(row rowScanner) (domain.DatasetVersion, error) {
	var version domain.DatasetVersion
	err := row.Scan(
		&version.ID,
		&version.DatasetID,
		&version.Name,
		&version.DesignState,
		&version.IsEnabled,
		&version.CreatedAt,
		&version.UpdatedAt,
		&version.CreatedBy,
	)
	if err != nil {
		return domain.DatasetVersion{}, translateError(err)
	}
	return version, nil
}

func nullStatus(status domain.CollocationStatus) *string {
	if status == "" {
		return nil
	}
	s := string(status)
	return &s
}
