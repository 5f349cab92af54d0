// Package datasets owns the dataset and version lifecycle: creation with a
// bootstrap version, draft/published design-state derivation, and
// enable/disable semantics for both levels.
package datasets

import (
	"context"
	"strings"
	"time"

	"github.com/datagate-labs/datagate-go/internal/domain"
	"github.com/datagate-labs/datagate-go/internal/repo"
	"github.com/google/uuid"
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

// CreateInput carries the caller-supplied fields for a new dataset. The
// tenancy has already been vetted by the tenancy guard.
type CreateInput struct {
	Name       string
	Data       domain.Metadata
	Tenancy    string
	Visibility domain.Visibility
}

// Create persists a dataset in draft state together with its bootstrap
// version "1", in one transaction.
func (s *Service) Create(ctx context.Context, input CreateInput, userID string) (domain.Dataset, error) {
	missing := make([]string, 0, 2)
	if strings.TrimSpace(input.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(input.Tenancy) == "" {
		missing = append(missing, "tenancy")
	}
	if len(missing) > 0 {
		return domain.Dataset{}, domain.BadRequest("missing_field", missing...)
	}

	visibility := input.Visibility
	if visibility == "" {
		visibility = domain.VisibilityPrivate
	}

	now := time.Now().UTC()
	dataset := domain.Dataset{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(input.Name),
		Data:        input.Data.Clone(),
		Tenancy:     strings.TrimSpace(input.Tenancy),
		OwnerID:     strings.TrimSpace(userID),
		IsEnabled:   true,
		DesignState: domain.DesignStateDraft,
		Visibility:  visibility,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	dataset.Versions = []domain.DatasetVersion{{
		ID:          uuid.NewString(),
		DatasetID:   dataset.ID,
		Name:        domain.FirstVersionName,
		DesignState: domain.DesignStateDraft,
		IsEnabled:   true,
		CreatedAt:   now,
		UpdatedAt:   now,
		CreatedBy:   strings.TrimSpace(userID),
	}}

	err := s.store.WithinTx(ctx, func(tx repo.Store) error {
		return tx.Datasets().Create(ctx, dataset)
	})
	if err != nil {
		return domain.Dataset{}, err
	}
	return dataset, nil
}

// FetchOpts narrows a read. LatestVersion returns only the newest version
// matching the optional design-state/enabled filters; by default the dataset
// must have at least one enabled version to resolve.
type FetchOpts struct {
	LatestVersion      bool
	VersionDesignState domain.DesignState
	VersionEnabled     *bool
}

// Fetch returns a dataset restricted to the effective tenancy set. Absence
// and out-of-tenancy are indistinguishable: both are NotFound. An empty set
// matches nothing; the guard only produces one for callers with no
// memberships, and the tenancy intersection is never optional.
func (s *Service) Fetch(ctx context.Context, id string, tenancies []string, opts FetchOpts) (domain.Dataset, error) {
	if len(tenancies) == 0 {
		return domain.Dataset{}, domain.ErrNotFound
	}
	return s.store.Datasets().Get(ctx, id, repo.DatasetGetOpts{
		Tenancies:          tenancies,
		LatestVersion:      opts.LatestVersion,
		VersionDesignState: opts.VersionDesignState,
		VersionEnabled:     opts.VersionEnabled,
	})
}

// UpdateInput is a partial patch; nil pointers leave the field untouched.
type UpdateInput struct {
	Name    *string
	Data    domain.Metadata
	Tenancy *string
	OwnerID *string
}

// Update mutates the dataset and, when no enabled draft version exists,
// opens a new one: editing a dataset without an open draft implicitly starts
// the next version.
func (s *Service) Update(ctx context.Context, id string, patch UpdateInput, userID string, tenancies []string) error {
	if len(tenancies) == 0 {
		return domain.ErrNotFound
	}
	return s.store.WithinTx(ctx, func(tx repo.Store) error {
		dataset, err := tx.Datasets().Get(ctx, id, repo.DatasetGetOpts{
			Tenancies:     tenancies,
			AnyEnablement: true,
		})
		if err != nil {
			return err
		}

		if patch.Name != nil {
			dataset.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Data != nil {
			dataset.Data = patch.Data.Clone()
		}
		if patch.Tenancy != nil {
			dataset.Tenancy = strings.TrimSpace(*patch.Tenancy)
		}
		if patch.OwnerID != nil {
			dataset.OwnerID = strings.TrimSpace(*patch.OwnerID)
		}
		if err := tx.Datasets().Update(ctx, dataset); err != nil {
			return err
		}

		if hasOpenDraft(dataset.Versions) {
			return nil
		}
		now := time.Now().UTC()
		return tx.Datasets().CreateVersion(ctx, domain.DatasetVersion{
			ID:          uuid.NewString(),
			DatasetID:   dataset.ID,
			Name:        domain.NextVersionName(dataset.Versions),
			DesignState: domain.DesignStateDraft,
			IsEnabled:   true,
			CreatedAt:   now,
			UpdatedAt:   now,
			CreatedBy:   strings.TrimSpace(userID),
		})
	})
}

func hasOpenDraft(versions []domain.DatasetVersion) bool {
	for _, v := range versions {
		if v.DesignState == domain.DesignStateDraft && v.IsEnabled {
			return true
		}
	}
	return false
}

// Enable re-enables a disabled dataset. The precondition is existence under
// the disabled filter; an already-enabled dataset is NotFound.
func (s *Service) Enable(ctx context.Context, id string, tenancies []string) error {
	return s.setEnabled(ctx, id, tenancies, true)
}

// Disable soft-deletes an enabled dataset.
func (s *Service) Disable(ctx context.Context, id string, tenancies []string) error {
	return s.setEnabled(ctx, id, tenancies, false)
}

func (s *Service) setEnabled(ctx context.Context, id string, tenancies []string, enabled bool) error {
	if len(tenancies) == 0 {
		return domain.ErrNotFound
	}
	current := !enabled
	return s.store.WithinTx(ctx, func(tx repo.Store) error {
		dataset, err := tx.Datasets().Get(ctx, id, repo.DatasetGetOpts{
			Tenancies:     tenancies,
			IsEnabled:     &current,
			AnyEnablement: true,
		})
		if err != nil {
			return err
		}
		return tx.Datasets().SetEnabled(ctx, dataset.ID, enabled)
	})
}

// PublishVersion marks a version published; the first published version
// promotes the dataset itself to published. Publishing further versions
// never reverts the dataset state.
func (s *Service) PublishVersion(ctx context.Context, datasetID, versionName, userID string, tenancies []string) error {
	if len(tenancies) == 0 {
		return domain.ErrNotFound
	}
	return s.store.WithinTx(ctx, func(tx repo.Store) error {
		dataset, err := tx.Datasets().Get(ctx, datasetID, repo.DatasetGetOpts{
			Tenancies:     tenancies,
			AnyEnablement: true,
		})
		if err != nil {
			return err
		}
		version, err := tx.Datasets().GetVersionByName(ctx, dataset.ID, versionName)
		if err != nil {
			return err
		}
		if err := tx.Datasets().UpdateVersionDesignState(ctx, version.ID, domain.DesignStatePublished); err != nil {
			return err
		}
		if dataset.DesignState == domain.DesignStatePublished {
			return nil
		}
		return tx.Datasets().UpdateDesignState(ctx, dataset.ID, domain.DesignStatePublished)
	})
}

// EnableVersion re-enables a version.
func (s *Service) EnableVersion(ctx context.Context, datasetID, versionName string, tenancies []string) error {
	return s.setVersionEnabled(ctx, datasetID, versionName, tenancies, true)
}

// DisableVersion soft-deletes a version. A dataset must always retain at
// least one version row, so disabling fails when exactly one version exists,
// regardless of that version's enabled flag.
func (s *Service) DisableVersion(ctx context.Context, datasetID, versionName string, tenancies []string) error {
	return s.setVersionEnabled(ctx, datasetID, versionName, tenancies, false)
}

func (s *Service) setVersionEnabled(ctx context.Context, datasetID, versionName string, tenancies []string, enabled bool) error {
	if len(tenancies) == 0 {
		return domain.ErrNotFound
	}
	return s.store.WithinTx(ctx, func(tx repo.Store) error {
		dataset, err := tx.Datasets().Get(ctx, datasetID, repo.DatasetGetOpts{
			Tenancies:     tenancies,
			AnyEnablement: true,
		})
		if err != nil {
			return err
		}
		version, err := tx.Datasets().GetVersionByName(ctx, dataset.ID, versionName)
		if err != nil {
			return err
		}
		if !enabled {
			count, err := tx.Datasets().CountVersions(ctx, dataset.ID)
			if err != nil {
				return err
			}
			if count <= 1 {
				return domain.IllegalState("dataset_has_only_one_version")
			}
		}
		return tx.Datasets().SetVersionEnabled(ctx, version.ID, enabled)
	})
}
