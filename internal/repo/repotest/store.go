// Package repotest provides an in-memory repo.Store with the same observable
// semantics as the postgres implementation: NotFound for absent rows,
// Conflict for uniqueness violations, tenancy intersections, and the search
// filter set. Service and API tests run against it instead of a database.
package repotest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/datagate-labs/datagate-go/internal/domain"
	"github.com/datagate-labs/datagate-go/internal/repo"
	"github.com/datagate-labs/datagate-go/internal/searchtext"
)

type datasetRow struct {
	dataset domain.Dataset
	seq     int
}

type versionRow struct {
	version domain.DatasetVersion
	seq     int
}

// Store is the in-memory repo.Store. The zero value is not usable; call
// NewStore.
type Store struct {
	mu       sync.Mutex
	seq      int
	datasets map[string]*datasetRow
	versions map[string]*versionRow
	dois     map[string]*domain.DOI
	files    map[string]*domain.DataFile
}

func NewStore() *Store {
	return &Store{
		datasets: make(map[string]*datasetRow),
		versions: make(map[string]*versionRow),
		dois:     make(map[string]*domain.DOI),
		files:    make(map[string]*domain.DataFile),
	}
}

func (s *Store) Datasets() repo.DatasetRepository { return (*datasetRepo)(s) }
func (s *Store) DOIs() repo.DOIRepository         { return (*doiRepo)(s) }
func (s *Store) Files() repo.FileRepository       { return (*fileRepo)(s) }

// WithinTx runs fn against the same store. The in-memory store offers no
// rollback; tests that need failure-path atomicity assert on behavior, not
// on storage internals.
func (s *Store) WithinTx(ctx context.Context, fn func(repo.Store) error) error {
	return fn(s)
}

func (s *Store) nextSeq() int {
	s.seq++
	return s.seq
}

// AddFile seeds a stored file directly, bypassing validation, for tests.
func (s *Store) AddFile(file domain.DataFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := file
	s.files[file.ID] = &copied
}

type datasetRepo Store

func (r *datasetRepo) Create(ctx context.Context, dataset domain.Dataset) error {
	r.mu.Lock()
	if _, ok := r.datasets[dataset.ID]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: datasets_pkey", domain.ErrConflict)
	}
	stored := dataset
	stored.Versions = nil
	r.datasets[dataset.ID] = &datasetRow{dataset: stored, seq: (*Store)(r).nextSeq()}
	r.mu.Unlock()

	for _, version := range dataset.Versions {
		if err := r.CreateVersion(ctx, version); err != nil {
			return err
		}
	}
	return nil
}

func (r *datasetRepo) Get(ctx context.Context, id string, opts repo.DatasetGetOpts) (domain.Dataset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.datasets[id]
	if !ok {
		return domain.Dataset{}, domain.ErrNotFound
	}
	dataset := row.dataset
	if len(opts.Tenancies) > 0 && !contains(opts.Tenancies, dataset.Tenancy) {
		return domain.Dataset{}, domain.ErrNotFound
	}
	if opts.IsEnabled != nil && dataset.IsEnabled != *opts.IsEnabled {
		return domain.Dataset{}, domain.ErrNotFound
	}

	versions := r.versionsOf(id)
	if opts.LatestVersion {
		latest, ok := latestMatching(versions, opts)
		if !ok {
			return domain.Dataset{}, domain.ErrNotFound
		}
		dataset.Versions = []domain.DatasetVersion{latest.version}
	} else {
		if !opts.AnyEnablement && !hasEnabled(versions) {
			return domain.Dataset{}, domain.ErrNotFound
		}
		dataset.Versions = make([]domain.DatasetVersion, 0, len(versions))
		for _, v := range versions {
			dataset.Versions = append(dataset.Versions, v.version)
		}
	}
	for i := range dataset.Versions {
		if doi, ok := r.doiByVersion(dataset.Versions[i].ID); ok {
			attached := doi
			dataset.Versions[i].DOI = &attached
		}
	}
	return dataset, nil
}

func (r *datasetRepo) versionsOf(datasetID string) []*versionRow {
	rows := make([]*versionRow, 0)
	for _, row := range r.versions {
		if row.version.DatasetID == datasetID {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].version.CreatedAt.Equal(rows[j].version.CreatedAt) {
			return rows[i].seq < rows[j].seq
		}
		return rows[i].version.CreatedAt.Before(rows[j].version.CreatedAt)
	})
	return rows
}

func (r *datasetRepo) doiByVersion(versionID string) (domain.DOI, bool) {
	for _, doi := range r.dois {
		if doi.VersionID == versionID {
			return *doi, true
		}
	}
	return domain.DOI{}, false
}

func latestMatching(rows []*versionRow, opts repo.DatasetGetOpts) (*versionRow, bool) {
	for i := len(rows) - 1; i >= 0; i-- {
		v := rows[i].version
		if opts.VersionDesignState != "" && v.DesignState != opts.VersionDesignState {
			continue
		}
		if opts.VersionEnabled != nil && v.IsEnabled != *opts.VersionEnabled {
			continue
		}
		return rows[i], true
	}
	return nil, false
}

func hasEnabled(rows []*versionRow) bool {
	for _, row := range rows {
		if row.version.IsEnabled {
			return true
		}
	}
	return false
}

func (r *datasetRepo) Update(ctx context.Context, dataset domain.Dataset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.datasets[dataset.ID]
	if !ok {
		return domain.ErrNotFound
	}
	row.dataset.Name = dataset.Name
	row.dataset.Data = dataset.Data.Clone()
	row.dataset.Tenancy = dataset.Tenancy
	row.dataset.OwnerID = dataset.OwnerID
	row.dataset.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *datasetRepo) SetEnabled(ctx context.Context, id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.datasets[id]
	if !ok {
		return domain.ErrNotFound
	}
	row.dataset.IsEnabled = enabled
	return nil
}

func (r *datasetRepo) UpdateDesignState(ctx context.Context, id string, state domain.DesignState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.datasets[id]
	if !ok {
		return domain.ErrNotFound
	}
	row.dataset.DesignState = state
	return nil
}

func (r *datasetRepo) CreateVersion(ctx context.Context, version domain.DatasetVersion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.versions {
		if row.version.DatasetID == version.DatasetID && row.version.Name == version.Name {
			return fmt.Errorf("%w: dataset_versions_dataset_id_name_key", domain.ErrConflict)
		}
	}
	stored := version
	stored.DOI = nil
	stored.Files = nil
	r.versions[version.ID] = &versionRow{version: stored, seq: (*Store)(r).nextSeq()}
	return nil
}

func (r *datasetRepo) GetVersion(ctx context.Context, versionID string) (domain.DatasetVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.versions[versionID]
	if !ok {
		return domain.DatasetVersion{}, domain.ErrNotFound
	}
	return row.version, nil
}

func (r *datasetRepo) GetVersionByName(ctx context.Context, datasetID, name string) (domain.DatasetVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.versions {
		if row.version.DatasetID == datasetID && row.version.Name == name {
			return row.version, nil
		}
	}
	return domain.DatasetVersion{}, domain.ErrNotFound
}

func (r *datasetRepo) ListVersions(ctx context.Context, datasetID string) ([]domain.DatasetVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows := r.versionsOf(datasetID)
	versions := make([]domain.DatasetVersion, 0, len(rows))
	for _, row := range rows {
		versions = append(versions, row.version)
	}
	return versions, nil
}

func (r *datasetRepo) CountVersions(ctx context.Context, datasetID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.versionsOf(datasetID)), nil
}

func (r *datasetRepo) UpdateVersionDesignState(ctx context.Context, versionID string, state domain.DesignState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.versions[versionID]
	if !ok {
		return domain.ErrNotFound
	}
	row.version.DesignState = state
	return nil
}

func (r *datasetRepo) SetVersionEnabled(ctx context.Context, versionID string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.versions[versionID]
	if !ok {
		return domain.ErrNotFound
	}
	row.version.IsEnabled = enabled
	return nil
}

func (r *datasetRepo) ListPendingCollocation(ctx context.Context) ([]domain.Dataset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows := make([]*datasetRow, 0)
	for _, row := range r.datasets {
		d := row.dataset
		if !d.IsEnabled {
			continue
		}
		if d.CollocationStatus != "" && d.CollocationStatus != domain.CollocationPending {
			continue
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	datasets := make([]domain.Dataset, 0, len(rows))
	for _, row := range rows {
		datasets = append(datasets, row.dataset)
	}
	return datasets, nil
}

func (r *datasetRepo) UpdateCollocationStatus(ctx context.Context, datasetID string, status domain.CollocationStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.datasets[datasetID]
	if !ok {
		return domain.ErrNotFound
	}
	row.dataset.CollocationStatus = status
	return nil
}

func (r *datasetRepo) Search(ctx context.Context, query repo.SearchQuery) ([]domain.Dataset, int64, error) {
	if len(query.Tenancies) == 0 {
		return nil, 0, fmt.Errorf("tenancies are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := make([]*datasetRow, 0)
	for _, row := range r.datasets {
		if r.matches(row, query) {
			matched = append(matched, row)
		}
	}

	queryWords := strings.Fields(searchtext.Fold(query.FullText))
	sort.Slice(matched, func(i, j int) bool {
		if len(queryWords) > 0 {
			ri := rank(r.document(matched[i].dataset), queryWords)
			rj := rank(r.document(matched[j].dataset), queryWords)
			if ri != rj {
				return ri > rj
			}
		}
		if !matched[i].dataset.CreatedAt.Equal(matched[j].dataset.CreatedAt) {
			return matched[i].dataset.CreatedAt.After(matched[j].dataset.CreatedAt)
		}
		return matched[i].seq > matched[j].seq
	})

	total := int64(len(matched))
	start := (query.Page - 1) * query.PageSize
	if start > len(matched) {
		start = len(matched)
	}
	end := start + query.PageSize
	if end > len(matched) {
		end = len(matched)
	}

	items := make([]domain.Dataset, 0, end-start)
	for _, row := range matched[start:end] {
		items = append(items, row.dataset)
	}
	return items, total, nil
}

func (r *datasetRepo) matches(row *datasetRow, query repo.SearchQuery) bool {
	d := row.dataset
	if !contains(query.Tenancies, d.Tenancy) {
		return false
	}
	if !query.IncludeDisabled && !d.IsEnabled {
		return false
	}
	if query.DesignState != "" && d.DesignState != query.DesignState {
		return false
	}
	if query.Visibility != "" && d.Visibility != query.Visibility {
		return false
	}
	if !substringMatch(d.Data.StringField("category"), query.Category) {
		return false
	}
	if !substringMatch(d.Data.StringField("data_type"), query.DataType) {
		return false
	}
	if !substringMatch(d.Data.StringField("level"), query.Level) {
		return false
	}
	if query.DateFrom != nil && d.CreatedAt.Before(*query.DateFrom) {
		return false
	}
	if query.DateTo != nil && d.CreatedAt.After(*query.DateTo) {
		return false
	}
	if strings.TrimSpace(query.VersionName) != "" {
		found := false
		for _, vr := range r.versionsOf(d.ID) {
			if vr.version.Name == strings.TrimSpace(query.VersionName) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if strings.TrimSpace(query.FullText) != "" {
		doc := r.document(d)
		for _, word := range strings.Fields(searchtext.Fold(query.FullText)) {
			if !strings.Contains(doc, word) {
				return false
			}
		}
	}
	return true
}

func (r *datasetRepo) document(d domain.Dataset) string {
	return searchtext.Document(
		d.Name,
		d.Data.StringField("category"),
		d.Data.StringField("data_type"),
		d.Data.StringField("level"),
		d.Data.StringField("description"),
	)
}

func rank(doc string, words []string) int {
	hits := 0
	for _, word := range words {
		hits += strings.Count(doc, word)
	}
	return hits
}

func substringMatch(value, filter string) bool {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(value), strings.ToLower(filter))
}

func contains(set []string, value string) bool {
	for _, s := range set {
		if s == value {
			return true
		}
	}
	return false
}

type doiRepo Store

func (r *doiRepo) Create(ctx context.Context, doi domain.DOI) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.dois {
		if existing.Identifier == doi.Identifier {
			return fmt.Errorf("%w: dois_identifier_key", domain.ErrConflict)
		}
		if existing.VersionID == doi.VersionID {
			return fmt.Errorf("%w: dois_version_id_key", domain.ErrConflict)
		}
	}
	stored := doi
	r.dois[doi.ID] = &stored
	return nil
}

func (r *doiRepo) GetByIdentifier(ctx context.Context, identifier string) (domain.DOI, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	identifier = strings.TrimSpace(identifier)
	for _, doi := range r.dois {
		if doi.Identifier == identifier {
			return *doi, nil
		}
	}
	return domain.DOI{}, domain.ErrNotFound
}

func (r *doiRepo) GetByVersion(ctx context.Context, versionID string) (domain.DOI, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, doi := range r.dois {
		if doi.VersionID == versionID {
			return *doi, nil
		}
	}
	return domain.DOI{}, domain.ErrNotFound
}

func (r *doiRepo) Update(ctx context.Context, doi domain.DOI) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.dois[doi.ID]
	if !ok {
		return domain.ErrNotFound
	}
	*existing = doi
	return nil
}

func (r *doiRepo) Delete(ctx context.Context, identifier string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, doi := range r.dois {
		if doi.Identifier == strings.TrimSpace(identifier) {
			delete(r.dois, id)
			return nil
		}
	}
	return domain.ErrNotFound
}

type fileRepo Store

func (r *fileRepo) Create(ctx context.Context, file domain.DataFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.files[file.ID]; ok {
		return fmt.Errorf("%w: data_files_pkey", domain.ErrConflict)
	}
	stored := file
	r.files[file.ID] = &stored
	return nil
}

func (r *fileRepo) Get(ctx context.Context, id string) (domain.DataFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	file, ok := r.files[id]
	if !ok {
		return domain.DataFile{}, domain.ErrNotFound
	}
	return *file, nil
}

func (r *fileRepo) ListByDataset(ctx context.Context, datasetID string) ([]domain.DataFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	versionIDs := make(map[string]struct{})
	for _, row := range r.versions {
		if row.version.DatasetID == datasetID {
			versionIDs[row.version.ID] = struct{}{}
		}
	}
	files := make([]domain.DataFile, 0)
	for _, file := range r.files {
		if _, ok := versionIDs[file.VersionID]; ok {
			files = append(files, *file)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })
	return files, nil
}

func (r *fileRepo) UpdatePath(ctx context.Context, fileID, newPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	file, ok := r.files[fileID]
	if !ok {
		return domain.ErrNotFound
	}
	file.StoragePath = strings.TrimSpace(newPath)
	return nil
}
