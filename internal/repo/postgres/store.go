package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/datagate-labs/datagate-go/internal/repo"
)

// Store is the postgres-backed repo.Store. A Store built with NewStore runs
// each call on the pool; WithinTx hands the callback a Store bound to a
// single transaction.
type Store struct {
	db    DB
	sqlDB *sql.DB
}

func NewStore(db *sql.DB) *Store {
	if db == nil {
		return nil
	}
	return &Store{db: db, sqlDB: db}
}

func (s *Store) Datasets() repo.DatasetRepository {
	return &DatasetStore{db: s.db}
}

func (s *Store) DOIs() repo.DOIRepository {
	return &DOIStore{db: s.db}
}

func (s *Store) Files() repo.FileRepository {
	return &FileStore{db: s.db}
}

func (s *Store) WithinTx(ctx context.Context, fn func(repo.Store) error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	// Nested calls reuse the already-open transaction.
	if s.sqlDB == nil {
		return fn(s)
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&Store{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
