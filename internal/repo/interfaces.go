// Package repo defines the persistence contracts consumed by the service
// layer. Implementations translate storage failures into the domain error
// taxonomy: absent rows surface as domain.ErrNotFound, uniqueness violations
// as domain.ErrConflict.
package repo

import (
	"context"
	"time"

	"github.com/datagate-labs/datagate-go/internal/domain"
)

// DatasetGetOpts narrows a dataset lookup. Tenancies is the effective set
// resolved by the tenancy guard and is always applied as an intersection.
type DatasetGetOpts struct {
	Tenancies []string

	// IsEnabled filters the dataset's own enablement flag; nil matches both.
	IsEnabled *bool

	// LatestVersion joins only the newest version matching the version
	// filters below. When false the dataset is returned with all versions
	// and must have at least one enabled version to resolve.
	LatestVersion      bool
	VersionDesignState domain.DesignState
	VersionEnabled     *bool

	// AnyEnablement bypasses version-existence requirements entirely; used
	// by the collocation tracker, which must see disabled datasets too.
	AnyEnablement bool
}

// SearchQuery is the fully-resolved search input: tenancies come from the
// guard, full text is already accent-folded, page bounds are already clamped.
type SearchQuery struct {
	Tenancies       []string
	Category        string
	DataType        string
	Level           string
	DateFrom        *time.Time
	DateTo          *time.Time
	IncludeDisabled bool
	DesignState     domain.DesignState
	Visibility      domain.Visibility
	VersionName     string
	FullText        string
	Page            int
	PageSize        int
}

// DatasetRepository manages datasets, their versions, and collocation state.
type DatasetRepository interface {
	Create(ctx context.Context, dataset domain.Dataset) error
	Get(ctx context.Context, id string, opts DatasetGetOpts) (domain.Dataset, error)
	Update(ctx context.Context, dataset domain.Dataset) error
	SetEnabled(ctx context.Context, id string, enabled bool) error
	UpdateDesignState(ctx context.Context, id string, state domain.DesignState) error

	CreateVersion(ctx context.Context, version domain.DatasetVersion) error
	GetVersion(ctx context.Context, versionID string) (domain.DatasetVersion, error)
	GetVersionByName(ctx context.Context, datasetID, name string) (domain.DatasetVersion, error)
	ListVersions(ctx context.Context, datasetID string) ([]domain.DatasetVersion, error)
	CountVersions(ctx context.Context, datasetID string) (int, error)
	UpdateVersionDesignState(ctx context.Context, versionID string, state domain.DesignState) error
	SetVersionEnabled(ctx context.Context, versionID string, enabled bool) error

	ListPendingCollocation(ctx context.Context) ([]domain.Dataset, error)
	UpdateCollocationStatus(ctx context.Context, datasetID string, status domain.CollocationStatus) error

	Search(ctx context.Context, query SearchQuery) ([]domain.Dataset, int64, error)
}

// DOIRepository manages persistent identifiers.
type DOIRepository interface {
	Create(ctx context.Context, doi domain.DOI) error
	GetByIdentifier(ctx context.Context, identifier string) (domain.DOI, error)
	GetByVersion(ctx context.Context, versionID string) (domain.DOI, error)
	Update(ctx context.Context, doi domain.DOI) error
	Delete(ctx context.Context, identifier string) error
}

// FileRepository manages stored data files.
type FileRepository interface {
	Create(ctx context.Context, file domain.DataFile) error
	Get(ctx context.Context, id string) (domain.DataFile, error)
	ListByDataset(ctx context.Context, datasetID string) ([]domain.DataFile, error)
	UpdatePath(ctx context.Context, fileID, newPath string) error
}

// Store bundles the repositories touched by one logical operation. WithinTx
// runs fn against a store bound to a single database transaction, committing
// on nil and rolling back otherwise; every service mutation runs inside one
// WithinTx call.
type Store interface {
	Datasets() DatasetRepository
	DOIs() DOIRepository
	Files() FileRepository
	WithinTx(ctx context.Context, fn func(Store) error) error
}
