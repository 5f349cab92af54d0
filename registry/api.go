package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/datagate-labs/datagate-go/internal/domain"
	"github.com/datagate-labs/datagate-go/internal/platform/auditlog"
	"github.com/datagate-labs/datagate-go/internal/platform/auth"
	"github.com/datagate-labs/datagate-go/internal/platform/lineageevent"
	"github.com/datagate-labs/datagate-go/internal/platform/objectstore"
	"github.com/datagate-labs/datagate-go/internal/platform/policy"
	"github.com/datagate-labs/datagate-go/internal/repo"
	"github.com/datagate-labs/datagate-go/internal/service/collocation"
	"github.com/datagate-labs/datagate-go/internal/service/datasets"
	"github.com/datagate-labs/datagate-go/internal/service/doi"
	"github.com/datagate-labs/datagate-go/internal/service/search"
	"github.com/datagate-labs/datagate-go/internal/tenancy"
	"github.com/minio/minio-go/v7"
)

// eventDB is satisfied by *sql.DB; audit and lineage rows are written at the
// API edge after the service transaction commits.
type eventDB interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type registryAPI struct {
	logger      *slog.Logger
	store       repo.Store
	guard       *tenancy.Guard
	datasets    *datasets.Service
	dois        *doi.Service
	collocation *collocation.Service
	search      *search.Service

	// Optional collaborators; nil disables the corresponding edge concern.
	db        eventDB
	policy    *policy.Spec
	objects   *minio.Client
	objectCfg objectstore.Config
}

func newRegistryAPI(logger *slog.Logger, store repo.Store, guard *tenancy.Guard, gateway doi.Gateway) *registryAPI {
	return &registryAPI{
		logger:      logger,
		store:       store,
		guard:       guard,
		datasets:    datasets.New(store),
		dois:        doi.New(store, gateway),
		collocation: collocation.New(store),
		search:      search.New(store),
	}
}

func (api *registryAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /datasets", api.handleCreateDataset)
	mux.HandleFunc("GET /datasets/{dataset_id}", api.handleGetDataset)
	mux.HandleFunc("PATCH /datasets/{dataset_id}", api.handleUpdateDataset)
	mux.HandleFunc("POST /datasets/{dataset_id}/enable", api.handleEnableDataset)
	mux.HandleFunc("POST /datasets/{dataset_id}/disable", api.handleDisableDataset)
	mux.HandleFunc("POST /datasets/{dataset_id}/versions/{version_name}/publish", api.handlePublishVersion)
	mux.HandleFunc("POST /datasets/{dataset_id}/versions/{version_name}/enable", api.handleEnableVersion)
	mux.HandleFunc("POST /datasets/{dataset_id}/versions/{version_name}/disable", api.handleDisableVersion)
	mux.HandleFunc("GET /datasets/{dataset_id}/files", api.handleListDatasetFiles)
	mux.HandleFunc("GET /files/{file_id}/download", api.handleFileDownloadURL)

	mux.HandleFunc("GET /search", api.handleSearch)

	mux.HandleFunc("POST /dois", api.handleCreateDOI)
	mux.HandleFunc("GET /dois/{identifier...}", api.handleGetDOI)
	mux.HandleFunc("PATCH /dois/{identifier...}", api.handleChangeDOIState)
	mux.HandleFunc("DELETE /dois/{identifier...}", api.handleDeleteDOI)
}

// registerInternal mounts the routes driven by the archivist worker. They
// sit behind the signed internal-headers authenticator, not OIDC.
func (api *registryAPI) registerInternal(mux *http.ServeMux) {
	mux.HandleFunc("GET /internal/collocation/pending", api.handleListPendingCollocation)
	mux.HandleFunc("GET /internal/collocation/datasets/{dataset_id}/files", api.handleInternalListFiles)
	mux.HandleFunc("PATCH /internal/collocation/datasets/{dataset_id}", api.handleUpdateCollocationStatus)
	mux.HandleFunc("PATCH /internal/collocation/files/{file_id}", api.handleUpdateFilePath)
}

type datasetResponse struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Data              domain.Metadata   `json:"data"`
	Tenancy           string            `json:"tenancy"`
	OwnerID           string            `json:"owner_id,omitempty"`
	IsEnabled         bool              `json:"is_enabled"`
	DesignState       string            `json:"design_state"`
	Visibility        string            `json:"visibility"`
	CollocationStatus string            `json:"collocation_status,omitempty"`
	Versions          []versionResponse `json:"versions,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

type versionResponse struct {
	ID          string       `json:"id"`
	DatasetID   string       `json:"dataset_id"`
	Name        string       `json:"name"`
	DesignState string       `json:"design_state"`
	IsEnabled   bool         `json:"is_enabled"`
	DOI         *doiResponse `json:"doi,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	CreatedBy   string       `json:"created_by,omitempty"`
}

type doiResponse struct {
	ID         string               `json:"id"`
	VersionID  string               `json:"version_id"`
	Mode       string               `json:"mode"`
	State      string               `json:"state"`
	Identifier string               `json:"identifier"`
	Prefix     string               `json:"prefix,omitempty"`
	Suffix     string               `json:"suffix,omitempty"`
	URL        string               `json:"url,omitempty"`
	Attributes domain.DOIAttributes `json:"attributes"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

type fileResponse struct {
	ID              string    `json:"id"`
	VersionID       string    `json:"version_id,omitempty"`
	Name            string    `json:"name"`
	SizeBytes       int64     `json:"size_bytes"`
	Extension       string    `json:"extension,omitempty"`
	Format          string    `json:"format,omitempty"`
	StorageBucket   string    `json:"storage_bucket,omitempty"`
	StoragePath     string    `json:"storage_path,omitempty"`
	StorageFileName string    `json:"storage_file_name,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type searchPageResponse struct {
	Items       []datasetResponse `json:"items"`
	TotalCount  int64             `json:"total_count"`
	Page        int               `json:"page"`
	PageSize    int               `json:"page_size"`
	TotalPages  int               `json:"total_pages"`
	HasNext     bool              `json:"has_next"`
	HasPrevious bool              `json:"has_previous"`
}

func toDatasetResponse(d domain.Dataset) datasetResponse {
	out := datasetResponse{
		ID:                d.ID,
		Name:              d.Name,
		Data:              d.Data,
		Tenancy:           d.Tenancy,
		OwnerID:           d.OwnerID,
		IsEnabled:         d.IsEnabled,
		DesignState:       string(d.DesignState),
		Visibility:        string(d.Visibility),
		CollocationStatus: string(d.CollocationStatus),
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
	for _, v := range d.Versions {
		out.Versions = append(out.Versions, toVersionResponse(v))
	}
	return out
}

func toVersionResponse(v domain.DatasetVersion) versionResponse {
	out := versionResponse{
		ID:          v.ID,
		DatasetID:   v.DatasetID,
		Name:        v.Name,
		DesignState: string(v.DesignState),
		IsEnabled:   v.IsEnabled,
		CreatedAt:   v.CreatedAt,
		UpdatedAt:   v.UpdatedAt,
		CreatedBy:   v.CreatedBy,
	}
	if v.DOI != nil {
		doiOut := toDOIResponse(*v.DOI)
		out.DOI = &doiOut
	}
	return out
}

func toDOIResponse(d domain.DOI) doiResponse {
	return doiResponse{
		ID:         d.ID,
		VersionID:  d.VersionID,
		Mode:       string(d.Mode),
		State:      string(d.State),
		Identifier: d.Identifier,
		Prefix:     d.Prefix,
		Suffix:     d.Suffix,
		URL:        d.URL,
		Attributes: d.Attributes,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

func toFileResponse(f domain.DataFile) fileResponse {
	return fileResponse{
		ID:              f.ID,
		VersionID:       f.VersionID,
		Name:            f.Name,
		SizeBytes:       f.SizeBytes,
		Extension:       f.Extension,
		Format:          f.Format,
		StorageBucket:   f.StorageBucket,
		StoragePath:     f.StoragePath,
		StorageFileName: f.StorageFileName,
		CreatedAt:       f.CreatedAt,
		UpdatedAt:       f.UpdatedAt,
	}
}

type createDatasetRequest struct {
	Name       string         `json:"name"`
	Data       map[string]any `json:"data,omitempty"`
	Tenancy    string         `json:"tenancy"`
	Visibility string         `json:"visibility,omitempty"`
}

func (api *registryAPI) handleCreateDataset(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.identity(w, r)
	if !ok {
		return
	}

	var req createDatasetRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	visibility := domain.Visibility(strings.ToLower(strings.TrimSpace(req.Visibility)))
	if visibility != "" && !visibility.Valid() {
		api.writeError(w, r, http.StatusBadRequest, "invalid_visibility")
		return
	}

	var requested []string
	if t := strings.TrimSpace(req.Tenancy); t != "" {
		requested = []string{t}
	}
	if _, ok := api.resolveTenancies(w, r, identity, requested); !ok {
		return
	}

	if !api.allowPolicy(w, r, identity, "dataset.create", policy.DatasetContext{
		Tenancy:     strings.TrimSpace(req.Tenancy),
		Visibility:  string(visibility),
		DesignState: string(domain.DesignStateDraft),
	}) {
		return
	}

	created, err := api.datasets.Create(r.Context(), datasets.CreateInput{
		Name:       req.Name,
		Data:       domain.Metadata(req.Data),
		Tenancy:    req.Tenancy,
		Visibility: visibility,
	}, identity.Subject)
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}

	api.recordAudit(r, "dataset.create", "dataset", created.ID, created.Tenancy, map[string]any{
		"name": created.Name,
	})
	if len(created.Versions) > 0 {
		api.recordLineage(r, "dataset", created.ID, "has_version", "dataset_version", created.Versions[0].ID, map[string]any{
			"version_name": created.Versions[0].Name,
		})
	}

	w.Header().Set("Location", "/datasets/"+created.ID)
	api.writeJSON(w, http.StatusCreated, toDatasetResponse(created))
}

func (api *registryAPI) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.identity(w, r)
	if !ok {
		return
	}
	datasetID := strings.TrimSpace(r.PathValue("dataset_id"))

	tenancies, ok := api.resolveTenancies(w, r, identity, r.URL.Query()["tenancy"])
	if !ok {
		return
	}

	opts := datasets.FetchOpts{}
	query := r.URL.Query()
	if parseBoolQuery(query.Get("latest")) {
		opts.LatestVersion = true
	}
	if raw := strings.TrimSpace(query.Get("version_state")); raw != "" {
		state, err := domain.ParseDesignState(raw)
		if err != nil {
			api.writeDomainError(w, r, err)
			return
		}
		opts.VersionDesignState = state
	}
	if raw := strings.TrimSpace(query.Get("version_enabled")); raw != "" {
		enabled := parseBoolQuery(raw)
		opts.VersionEnabled = &enabled
	}

	dataset, err := api.datasets.Fetch(r.Context(), datasetID, tenancies, opts)
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, toDatasetResponse(dataset))
}

type updateDatasetRequest struct {
	Name    *string        `json:"name,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Tenancy *string        `json:"tenancy,omitempty"`
	OwnerID *string        `json:"owner_id,omitempty"`
}

func (api *registryAPI) handleUpdateDataset(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.identity(w, r)
	if !ok {
		return
	}
	datasetID := strings.TrimSpace(r.PathValue("dataset_id"))

	var req updateDatasetRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	tenancies, ok := api.resolveTenancies(w, r, identity, r.URL.Query()["tenancy"])
	if !ok {
		return
	}
	// Moving a dataset requires membership in the target tenancy too.
	if req.Tenancy != nil {
		if _, ok := api.resolveTenancies(w, r, identity, []string{*req.Tenancy}); !ok {
			return
		}
	}

	if !api.allowPolicy(w, r, identity, "dataset.update", policy.DatasetContext{DatasetID: datasetID}) {
		return
	}

	var data domain.Metadata
	if req.Data != nil {
		data = domain.Metadata(req.Data)
	}
	err := api.datasets.Update(r.Context(), datasetID, datasets.UpdateInput{
		Name:    req.Name,
		Data:    data,
		Tenancy: req.Tenancy,
		OwnerID: req.OwnerID,
	}, identity.Subject, tenancies)
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}

	api.recordAudit(r, "dataset.update", "dataset", datasetID, "", nil)
	w.WriteHeader(http.StatusNoContent)
}

func (api *registryAPI) handleEnableDataset(w http.ResponseWriter, r *http.Request) {
	api.setDatasetEnabled(w, r, true)
}

func (api *registryAPI) handleDisableDataset(w http.ResponseWriter, r *http.Request) {
	api.setDatasetEnabled(w, r, false)
}

func (api *registryAPI) setDatasetEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	identity, ok := api.identity(w, r)
	if !ok {
		return
	}
	datasetID := strings.TrimSpace(r.PathValue("dataset_id"))

	tenancies, ok := api.resolveTenancies(w, r, identity, r.URL.Query()["tenancy"])
	if !ok {
		return
	}

	action := "dataset.disable"
	if enabled {
		action = "dataset.enable"
	}
	if !api.allowPolicy(w, r, identity, action, policy.DatasetContext{DatasetID: datasetID}) {
		return
	}

	var err error
	if enabled {
		err = api.datasets.Enable(r.Context(), datasetID, tenancies)
	} else {
		err = api.datasets.Disable(r.Context(), datasetID, tenancies)
	}
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}

	api.recordAudit(r, action, "dataset", datasetID, "", nil)
	w.WriteHeader(http.StatusNoContent)
}

func (api *registryAPI) handlePublishVersion(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.identity(w, r)
	if !ok {
		return
	}
	datasetID := strings.TrimSpace(r.PathValue("dataset_id"))
	versionName := strings.TrimSpace(r.PathValue("version_name"))

	tenancies, ok := api.resolveTenancies(w, r, identity, r.URL.Query()["tenancy"])
	if !ok {
		return
	}

	if !api.allowPolicy(w, r, identity, "dataset.publish_version", policy.DatasetContext{DatasetID: datasetID}) {
		return
	}

	err := api.datasets.PublishVersion(r.Context(), datasetID, versionName, identity.Subject, tenancies)
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}

	api.recordAudit(r, "dataset.publish_version", "dataset", datasetID, "", map[string]any{
		"version_name": versionName,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (api *registryAPI) handleEnableVersion(w http.ResponseWriter, r *http.Request) {
	api.setVersionEnabled(w, r, true)
}

func (api *registryAPI) handleDisableVersion(w http.ResponseWriter, r *http.Request) {
	api.setVersionEnabled(w, r, false)
}

func (api *registryAPI) setVersionEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	identity, ok := api.identity(w, r)
	if !ok {
		return
	}
	datasetID := strings.TrimSpace(r.PathValue("dataset_id"))
	versionName := strings.TrimSpace(r.PathValue("version_name"))

	tenancies, ok := api.resolveTenancies(w, r, identity, r.URL.Query()["tenancy"])
	if !ok {
		return
	}

	action := "dataset.disable_version"
	if enabled {
		action = "dataset.enable_version"
	}
	if !api.allowPolicy(w, r, identity, action, policy.DatasetContext{DatasetID: datasetID}) {
		return
	}

	var err error
	if enabled {
		err = api.datasets.EnableVersion(r.Context(), datasetID, versionName, tenancies)
	} else {
		err = api.datasets.DisableVersion(r.Context(), datasetID, versionName, tenancies)
	}
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}

	api.recordAudit(r, action, "dataset", datasetID, "", map[string]any{
		"version_name": versionName,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (api *registryAPI) handleListDatasetFiles(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.identity(w, r)
	if !ok {
		return
	}
	datasetID := strings.TrimSpace(r.PathValue("dataset_id"))

	tenancies, ok := api.resolveTenancies(w, r, identity, r.URL.Query()["tenancy"])
	if !ok {
		return
	}

	if _, err := api.datasets.Fetch(r.Context(), datasetID, tenancies, datasets.FetchOpts{}); err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	files, err := api.collocation.ListFiles(r.Context(), datasetID)
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}

	out := make([]fileResponse, 0, len(files))
	for _, f := range files {
		out = append(out, toFileResponse(f))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"files": out})
}

func (api *registryAPI) handleFileDownloadURL(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.identity(w, r)
	if !ok {
		return
	}
	fileID := strings.TrimSpace(r.PathValue("file_id"))

	tenancies, ok := api.resolveTenancies(w, r, identity, r.URL.Query()["tenancy"])
	if !ok {
		return
	}

	file, err := api.store.Files().Get(r.Context(), fileID)
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	// A file is only reachable through its version's dataset: an upload not
	// yet attached to a version has no tenancy and stays invisible here.
	if file.VersionID == "" {
		api.writeDomainError(w, r, domain.ErrNotFound)
		return
	}
	version, err := api.store.Datasets().GetVersion(r.Context(), file.VersionID)
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	if _, err := api.datasets.Fetch(r.Context(), version.DatasetID, tenancies, datasets.FetchOpts{}); err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	if api.objects == nil {
		api.writeError(w, r, http.StatusBadGateway, "object_store_unavailable")
		return
	}

	url, err := objectstore.PresignDownload(r.Context(), api.objects, api.objectCfg, file)
	if err != nil {
		api.writeError(w, r, http.StatusBadGateway, "object_store_error")
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{
		"url":                url,
		"expires_in_seconds": int(api.objectCfg.PresignTTL.Seconds()),
	})
}

func (api *registryAPI) handleSearch(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.identity(w, r)
	if !ok {
		return
	}

	tenancies, ok := api.resolveTenancies(w, r, identity, r.URL.Query()["tenancy"])
	if !ok {
		return
	}

	query := r.URL.Query()
	sq := search.Query{
		Category:        strings.TrimSpace(query.Get("category")),
		DataType:        strings.TrimSpace(query.Get("data_type")),
		Level:           strings.TrimSpace(query.Get("level")),
		IncludeDisabled: parseBoolQuery(query.Get("include_disabled")),
		VersionName:     strings.TrimSpace(query.Get("version")),
		FullText:        strings.TrimSpace(query.Get("q")),
		Page:            parseIntQuery(r, "page", 0),
		PageSize:        parseIntQuery(r, "page_size", 0),
	}
	if raw := strings.TrimSpace(query.Get("design_state")); raw != "" {
		state, err := domain.ParseDesignState(raw)
		if err != nil {
			api.writeDomainError(w, r, err)
			return
		}
		sq.DesignState = state
	}
	if raw := strings.TrimSpace(query.Get("visibility")); raw != "" {
		visibility := domain.Visibility(strings.ToLower(raw))
		if !visibility.Valid() {
			api.writeError(w, r, http.StatusBadRequest, "invalid_visibility")
			return
		}
		sq.Visibility = visibility
	}
	var err error
	if sq.DateFrom, err = parseDateQuery(query.Get("date_from")); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_date")
		return
	}
	if sq.DateTo, err = parseDateQuery(query.Get("date_to")); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_date")
		return
	}

	page, err := api.search.Search(r.Context(), sq, tenancies)
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}

	items := make([]datasetResponse, 0, len(page.Items))
	for _, d := range page.Items {
		items = append(items, toDatasetResponse(d))
	}
	api.writeJSON(w, http.StatusOK, searchPageResponse{
		Items:       items,
		TotalCount:  page.TotalCount,
		Page:        page.PageNumber,
		PageSize:    page.PageSize,
		TotalPages:  page.TotalPages,
		HasNext:     page.HasNext,
		HasPrevious: page.HasPrevious,
	})
}

type createDOIRequest struct {
	VersionID  string               `json:"version_id"`
	Mode       string               `json:"mode"`
	Identifier string               `json:"identifier,omitempty"`
	Attributes domain.DOIAttributes `json:"attributes,omitempty"`
}

func (api *registryAPI) handleCreateDOI(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.identity(w, r)
	if !ok {
		return
	}

	var req createDOIRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	if !api.allowPolicy(w, r, identity, "doi.create", policy.DatasetContext{VersionID: strings.TrimSpace(req.VersionID)}) {
		return
	}

	created, err := api.dois.Create(r.Context(), doi.CreateInput{
		VersionID:  req.VersionID,
		Mode:       domain.DOIMode(strings.ToLower(strings.TrimSpace(req.Mode))),
		Identifier: req.Identifier,
		Attributes: req.Attributes,
	})
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}

	api.recordAudit(r, "doi.create", "doi", created.ID, "", map[string]any{
		"version_id": created.VersionID,
		"mode":       string(created.Mode),
		"identifier": created.Identifier,
	})
	api.recordLineage(r, "dataset_version", created.VersionID, "has_doi", "doi", created.ID, map[string]any{
		"identifier": created.Identifier,
	})

	w.Header().Set("Location", "/dois/"+created.Identifier)
	api.writeJSON(w, http.StatusCreated, toDOIResponse(created))
}

func (api *registryAPI) handleGetDOI(w http.ResponseWriter, r *http.Request) {
	if _, ok := api.identity(w, r); !ok {
		return
	}
	identifier := strings.TrimSpace(r.PathValue("identifier"))

	record, err := api.dois.Fetch(r.Context(), identifier)
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, toDOIResponse(record))
}

type changeDOIStateRequest struct {
	State string `json:"state"`
}

func (api *registryAPI) handleChangeDOIState(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.identity(w, r)
	if !ok {
		return
	}
	identifier := strings.TrimSpace(r.PathValue("identifier"))

	var req changeDOIStateRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	if !api.allowPolicy(w, r, identity, "doi.change_state", policy.DatasetContext{}) {
		return
	}

	record, err := api.dois.ChangeState(r.Context(), identifier, req.State)
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}

	api.recordAudit(r, "doi.state_change", "doi", record.ID, "", map[string]any{
		"identifier": record.Identifier,
		"state":      string(record.State),
	})
	api.writeJSON(w, http.StatusOK, toDOIResponse(record))
}

func (api *registryAPI) handleDeleteDOI(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.identity(w, r)
	if !ok {
		return
	}
	identifier := strings.TrimSpace(r.PathValue("identifier"))

	if !api.allowPolicy(w, r, identity, "doi.delete", policy.DatasetContext{}) {
		return
	}

	if err := api.dois.Delete(r.Context(), identifier); err != nil {
		api.writeDomainError(w, r, err)
		return
	}

	api.recordAudit(r, "doi.delete", "doi", identifier, "", nil)
	w.WriteHeader(http.StatusNoContent)
}

func (api *registryAPI) handleListPendingCollocation(w http.ResponseWriter, r *http.Request) {
	pending, err := api.collocation.ListPending(r.Context())
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	out := make([]datasetResponse, 0, len(pending))
	for _, d := range pending {
		out = append(out, toDatasetResponse(d))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"datasets": out})
}

func (api *registryAPI) handleInternalListFiles(w http.ResponseWriter, r *http.Request) {
	datasetID := strings.TrimSpace(r.PathValue("dataset_id"))

	files, err := api.collocation.ListFiles(r.Context(), datasetID)
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	out := make([]fileResponse, 0, len(files))
	for _, f := range files {
		out = append(out, toFileResponse(f))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"files": out})
}

type updateCollocationStatusRequest struct {
	Status string `json:"status"`
}

func (api *registryAPI) handleUpdateCollocationStatus(w http.ResponseWriter, r *http.Request) {
	datasetID := strings.TrimSpace(r.PathValue("dataset_id"))

	var req updateCollocationStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	if err := api.collocation.UpdateStatus(r.Context(), datasetID, req.Status); err != nil {
		api.writeDomainError(w, r, err)
		return
	}

	api.recordAudit(r, "collocation.update_status", "dataset", datasetID, "", map[string]any{
		"status": strings.ToLower(strings.TrimSpace(req.Status)),
	})
	w.WriteHeader(http.StatusNoContent)
}

type updateFilePathRequest struct {
	Path string `json:"path"`
}

func (api *registryAPI) handleUpdateFilePath(w http.ResponseWriter, r *http.Request) {
	fileID := strings.TrimSpace(r.PathValue("file_id"))

	var req updateFilePathRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	if err := api.collocation.UpdateFilePath(r.Context(), fileID, req.Path); err != nil {
		api.writeDomainError(w, r, err)
		return
	}

	api.recordAudit(r, "collocation.update_file_path", "data_file", fileID, "", map[string]any{
		"path": strings.TrimSpace(req.Path),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (api *registryAPI) identity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || identity.IsAnonymous() {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return auth.Identity{}, false
	}
	return identity, true
}

func (api *registryAPI) resolveTenancies(w http.ResponseWriter, r *http.Request, identity auth.Identity, requested []string) ([]string, bool) {
	tenancies, err := api.guard.Resolve(r.Context(), identity.Subject, requested)
	if err != nil {
		api.writeDomainError(w, r, err)
		return nil, false
	}
	return tenancies, true
}

// allowPolicy evaluates the loaded policy spec; a nil spec allows everything.
func (api *registryAPI) allowPolicy(w http.ResponseWriter, r *http.Request, identity auth.Identity, action string, dataset policy.DatasetContext) bool {
	if api.policy == nil {
		return true
	}
	decision, err := policy.Evaluate(*api.policy, policy.Context{
		Actor: policy.ActorContext{
			Subject:   identity.Subject,
			Email:     identity.Email,
			Roles:     identity.Roles,
			Tenancies: identity.Tenancies,
		},
		Action:  action,
		Dataset: dataset,
	})
	if err != nil {
		api.logger.Error("policy evaluation failed", "action", action, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return false
	}
	if decision.Effect != policy.EffectAllow {
		api.writeError(w, r, http.StatusForbidden, "policy_denied")
		return false
	}
	return true
}

func (api *registryAPI) recordAudit(r *http.Request, action, resourceType, resourceID, resourceTenancy string, details map[string]any) {
	if api.db == nil {
		return
	}
	identity, _ := auth.IdentityFromContext(r.Context())
	_, err := auditlog.Insert(r.Context(), api.db, auditlog.Event{
		OccurredAt:   time.Now().UTC(),
		Actor:        identity.Subject,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Tenancy:      resourceTenancy,
		RequestID:    r.Header.Get("X-Request-Id"),
		IP:           requestIP(r.RemoteAddr),
		UserAgent:    r.UserAgent(),
		Details:      details,
	})
	if err != nil {
		api.logger.Error("audit write failed", "action", action, "resource_id", resourceID, "error", err)
	}
}

func (api *registryAPI) recordLineage(r *http.Request, subjectType, subjectID, predicate, objectType, objectID string, metadata map[string]any) {
	if api.db == nil {
		return
	}
	identity, _ := auth.IdentityFromContext(r.Context())
	_, err := lineageevent.Insert(r.Context(), api.db, lineageevent.Edge{
		OccurredAt:  time.Now().UTC(),
		Actor:       identity.Subject,
		RequestID:   r.Header.Get("X-Request-Id"),
		SubjectType: subjectType,
		SubjectID:   subjectID,
		Predicate:   predicate,
		ObjectType:  objectType,
		ObjectID:    objectID,
		Metadata:    metadata,
	})
	if err != nil {
		api.logger.Error("lineage write failed", "predicate", predicate, "subject_id", subjectID, "error", err)
	}
}

func (api *registryAPI) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.ErrorCode(err)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		api.writeError(w, r, http.StatusNotFound, "not_found")
	case errors.Is(err, domain.ErrConflict):
		api.writeError(w, r, http.StatusConflict, "conflict")
	case errors.Is(err, domain.ErrIllegalState):
		if code == "" {
			code = "illegal_state"
		}
		api.writeError(w, r, http.StatusConflict, code)
	case errors.Is(err, domain.ErrBadRequest):
		if code == "" {
			code = "bad_request"
		}
		api.writeErrorFields(w, r, http.StatusBadRequest, code, requestFields(err))
	case errors.Is(err, domain.ErrUnauthorized):
		if code == "" {
			code = "unauthorized_tenancy"
		}
		api.writeError(w, r, http.StatusForbidden, code)
	case errors.Is(err, domain.ErrUpstream):
		api.writeError(w, r, http.StatusBadGateway, "upstream_failure")
	default:
		api.logger.Error("request failed", "path", r.URL.Path, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
	}
}

func requestFields(err error) []string {
	var reqErr *domain.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Fields
	}
	return nil
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func (api *registryAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *registryAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeErrorFields(w, r, status, code, nil)
}

func (api *registryAPI) writeErrorFields(w http.ResponseWriter, r *http.Request, status int, code string, fields []string) {
	body := map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	}
	if len(fields) > 0 {
		body["fields"] = fields
	}
	api.writeJSON(w, status, body)
}

func requestIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

func parseBoolQuery(raw string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return v
}

func parseIntQuery(r *http.Request, key string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return parsed
}

func parseDateQuery(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}
