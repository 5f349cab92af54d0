// Package collocation tracks the migration of dataset files from the legacy
// storage layout to the canonical one. A single external archivist worker
// drives the pending -> processing -> completed sequence; the tracker itself
// does not enforce ordering.
package collocation

import (
	"context"
	"strings"

	"github.com/datagate-labs/datagate-go/internal/domain"
	"github.com/datagate-labs/datagate-go/internal/repo"
)

type Service struct {
	store repo.Store
}

func New(store repo.Store) *Service {
	if store == nil {
		return nil
	}
	return &Service{store: store}
}

// ListPending returns enabled datasets awaiting collocation. A NULL status
// is the legacy equivalent of pending and is never surfaced as distinct.
func (s *Service) ListPending(ctx context.Context) ([]domain.Dataset, error) {
	datasets, err := s.store.Datasets().ListPendingCollocation(ctx)
	if err != nil {
		return nil, err
	}
	for i := range datasets {
		if datasets[i].CollocationStatus == "" {
			datasets[i].CollocationStatus = domain.CollocationPending
		}
	}
	return datasets, nil
}

// ListFiles returns every file across every version of a dataset, whether
// the dataset is enabled or not.
func (s *Service) ListFiles(ctx context.Context, datasetID string) ([]domain.DataFile, error) {
	if _, err := s.store.Datasets().Get(ctx, datasetID, repo.DatasetGetOpts{AnyEnablement: true}); err != nil {
		return nil, err
	}
	return s.store.Files().ListByDataset(ctx, datasetID)
}

// UpdateFilePath overwrites a file's storage path after the worker relocated
// the object.
func (s *Service) UpdateFilePath(ctx context.Context, fileID, newPath string) error {
	if strings.TrimSpace(newPath) == "" {
		return domain.BadRequest("missing_field", "path")
	}
	return s.store.WithinTx(ctx, func(tx repo.Store) error {
		return tx.Files().UpdatePath(ctx, fileID, newPath)
	})
}

// UpdateStatus advances the dataset's collocation status.
func (s *Service) UpdateStatus(ctx context.Context, datasetID, rawStatus string) error {
	status, err := domain.ParseCollocationStatus(rawStatus)
	if err != nil {
		return err
	}
	return s.store.WithinTx(ctx, func(tx repo.Store) error {
		return tx.Datasets().UpdateCollocationStatus(ctx, datasetID, status)
	})
}
