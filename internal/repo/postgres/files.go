package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/datagate-labs/datagate-go/internal/domain"
)

type FileStore struct {
	db DB
}

func NewFileStore(db DB) *FileStore {
	if db == nil {
		return nil
	}
	return &FileStore{db: db}
}

const fileColumns = `id, version_id, name, size_bytes, extension, format, storage_bucket, storage_path, storage_file_name, created_by, created_at, updated_at`

func (s *FileStore) Create(ctx context.Context, file domain.DataFile) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("file store not initialized")
	}
	if err := file.Validate(); err != nil {
		return err
	}
	createdAt := normalizeTime(file.CreatedAt)
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO data_files (
			id,
			version_id,
			name,
			size_bytes,
			extension,
			format,
			storage_bucket,
			storage_path,
			storage_file_name,
			created_by,
			created_at,
			updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)`,
		strings.TrimSpace(file.ID),
		nullString(file.VersionID),
		strings.TrimSpace(file.Name),
		file.SizeBytes,
		strings.TrimSpace(file.Extension),
		strings.TrimSpace(file.Format),
		strings.TrimSpace(file.StorageBucket),
		strings.TrimSpace(file.StoragePath),
		strings.TrimSpace(file.StorageFileName),
		strings.TrimSpace(file.CreatedBy),
		createdAt,
	)
	return translateError(err)
}

func (s *FileStore) Get(ctx context.Context, id string) (domain.DataFile, error) {
	if s == nil || s.db == nil {
		return domain.DataFile{}, fmt.Errorf("file store not initialized")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+fileColumns+` FROM data_files WHERE id = $1`,
		strings.TrimSpace(id),
	)
	return scanFileRows(row)
}

func (s *FileStore) ListByDataset(ctx context.Context, datasetID string) ([]domain.DataFile, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("file store not initialized")
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+fileColumns+` FROM data_files f
		 WHERE f.version_id IN (SELECT id FROM dataset_versions WHERE dataset_id = $1)
		 ORDER BY f.created_at`,
		strings.TrimSpace(datasetID),
	)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	files := make([]domain.DataFile, 0)
	for rows.Next() {
		file, err := scanFileRows(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return files, nil
}

func (s *FileStore) UpdatePath(ctx context.Context, fileID, newPath string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("file store not initialized")
	}
	return requireRow(s.db.ExecContext(
		ctx,
		`UPDATE data_files SET storage_path = $2, updated_at = now() WHERE id = $1`,
		strings.TrimSpace(fileID),
		strings.TrimSpace(newPath),
	))
}

func scanFileRows(row rowScanner) (domain.DataFile, error) {
	var (
		file      domain.DataFile
		versionID *string
	)
	err := row.Scan(
		&file.ID,
		&versionID,
		&file.Name,
		&file.SizeBytes,
		&file.Extension,
		&file.Format,
		&file.StorageBucket,
		&file.StoragePath,
		&file.StorageFileName,
		&file.CreatedBy,
		&file.CreatedAt,
		&file.UpdatedAt,
	)
	if err != nil {
		return domain.DataFile{}, translateError(err)
	}
	if versionID != nil {
		file.VersionID = *versionID
	}
	return file, nil
}

func nullString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
