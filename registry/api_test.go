package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/datagate-labs/datagate-go/internal/domain"
	"github.com/datagate-labs/datagate-go/internal/platform/auth"
	"github.com/datagate-labs/datagate-go/internal/platform/policy"
	"github.com/datagate-labs/datagate-go/internal/repo/repotest"
	"github.com/datagate-labs/datagate-go/internal/service/doi"
	"github.com/datagate-labs/datagate-go/internal/tenancy"
)

type fakeUserDirectory map[string][]string

func (d fakeUserDirectory) FetchUser(ctx context.Context, id string) (tenancy.User, error) {
	return tenancy.User{ID: id, Tenancies: d[id]}, nil
}

type stubGateway struct {
	identifier string
}

func (g *stubGateway) Create(ctx context.Context, payload doi.Payload) (doi.Registration, error) {
	return doi.Registration{Identifier: g.identifier, Raw: json.RawMessage(`{"id":"` + g.identifier + `"}`)}, nil
}

func (g *stubGateway) Update(ctx context.Context, identifier string, payload doi.Payload) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (g *stubGateway) Delete(ctx context.Context, prefix, suffix string) error {
	return nil
}

func (g *stubGateway) Get(ctx context.Context, prefix, suffix string) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func newTestAPI(t *testing.T) (*registryAPI, *repotest.Store, *http.ServeMux) {
	t.Helper()
	store := repotest.NewStore()
	guard := tenancy.NewGuard(fakeUserDirectory{
		"user-1":    {"lab-a", "lab-b"},
		"user-2":    {"lab-z"},
		"archivist": nil,
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	api := newRegistryAPI(logger, store, guard, &stubGateway{identifier: "10.5555/auto.1"})

	mux := http.NewServeMux()
	api.register(mux)
	api.registerInternal(mux)
	return api, store, mux
}

func testIdentity() auth.Identity {
	return auth.Identity{
		Subject:   "user-1",
		Email:     "user-1@lab.example",
		Roles:     []string{"admin"},
		Tenancies: []string{"lab-a", "lab-b"},
	}
}

func doRequest(t *testing.T, mux *http.ServeMux, identity auth.Identity, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.RemoteAddr = "192.0.2.10:51234"
	if identity.Subject != "" {
		req = req.WithContext(auth.ContextWithIdentity(req.Context(), identity))
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response: %v (body %s)", err, rec.Body.String())
	}
}

func TestCreateDatasetEndpoint(t *testing.T) {
	_, _, mux := newTestAPI(t)

	rec := doRequest(t, mux, testIdentity(), http.MethodPost, "/datasets",
		`{"name":"Ice Cores","tenancy":"lab-a","data":{"category":"glaciology"}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var got datasetResponse
	decodeBody(t, rec, &got)
	if got.Name != "Ice Cores" || got.Tenancy != "lab-a" {
		t.Fatalf("dataset = %+v", got)
	}
	if got.DesignState != "draft" || !got.IsEnabled {
		t.Fatalf("state = %s enabled = %v", got.DesignState, got.IsEnabled)
	}
	if len(got.Versions) != 1 || got.Versions[0].Name != "1" {
		t.Fatalf("versions = %+v", got.Versions)
	}
	if loc := rec.Header().Get("Location"); loc != "/datasets/"+got.ID {
		t.Fatalf("location = %q", loc)
	}
}

func TestCreateDatasetForeignTenancy(t *testing.T) {
	_, _, mux := newTestAPI(t)

	rec := doRequest(t, mux, testIdentity(), http.MethodPost, "/datasets",
		`{"name":"Ice Cores","tenancy":"lab-z"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["error"] != "unauthorized_tenancy" {
		t.Fatalf("error = %v", body["error"])
	}
}

func TestCreateDatasetMissingName(t *testing.T) {
	_, _, mux := newTestAPI(t)

	rec := doRequest(t, mux, testIdentity(), http.MethodPost, "/datasets", `{"tenancy":"lab-a"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Error  string   `json:"error"`
		Fields []string `json:"fields"`
	}
	decodeBody(t, rec, &body)
	if body.Error != "missing_field" {
		t.Fatalf("error = %q", body.Error)
	}
	if len(body.Fields) != 1 || body.Fields[0] != "name" {
		t.Fatalf("fields = %v", body.Fields)
	}
}

func TestGetDatasetNotFound(t *testing.T) {
	_, _, mux := newTestAPI(t)

	rec := doRequest(t, mux, testIdentity(), http.MethodGet, "/datasets/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestPublishVersionFlow(t *testing.T) {
	_, _, mux := newTestAPI(t)

	rec := doRequest(t, mux, testIdentity(), http.MethodPost, "/datasets",
		`{"name":"Soil Survey","tenancy":"lab-b"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	var created datasetResponse
	decodeBody(t, rec, &created)

	rec = doRequest(t, mux, testIdentity(), http.MethodPost,
		"/datasets/"+created.ID+"/versions/1/publish", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("publish status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, mux, testIdentity(), http.MethodGet, "/datasets/"+created.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var fetched datasetResponse
	decodeBody(t, rec, &fetched)
	if fetched.DesignState != "published" {
		t.Fatalf("design state = %s, want published", fetched.DesignState)
	}
	if len(fetched.Versions) != 1 || fetched.Versions[0].DesignState != "published" {
		t.Fatalf("versions = %+v", fetched.Versions)
	}
}

func TestSearchEndpoint(t *testing.T) {
	_, _, mux := newTestAPI(t)

	for _, body := range []string{
		`{"name":"Glacier Mass Balance","tenancy":"lab-a","data":{"category":"glaciology"}}`,
		`{"name":"Soil Survey","tenancy":"lab-a","data":{"category":"pedology"}}`,
	} {
		if rec := doRequest(t, mux, testIdentity(), http.MethodPost, "/datasets", body); rec.Code != http.StatusCreated {
			t.Fatalf("seed status = %d", rec.Code)
		}
	}

	rec := doRequest(t, mux, testIdentity(), http.MethodGet, "/search?q=glacier", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var page searchPageResponse
	decodeBody(t, rec, &page)
	if page.TotalCount != 1 || len(page.Items) != 1 {
		t.Fatalf("page = %+v", page)
	}
	if page.Items[0].Name != "Glacier Mass Balance" {
		t.Fatalf("item = %+v", page.Items[0])
	}
	if page.Page != 1 || page.PageSize != 20 {
		t.Fatalf("page bounds = %d/%d", page.Page, page.PageSize)
	}
}

func TestCreateDOIAutoValidation(t *testing.T) {
	_, _, mux := newTestAPI(t)

	rec := doRequest(t, mux, testIdentity(), http.MethodPost, "/dois",
		`{"version_id":"v-1","mode":"auto","attributes":{"title":"T"}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Error  string   `json:"error"`
		Fields []string `json:"fields"`
	}
	decodeBody(t, rec, &body)
	if body.Error != "missing_field" {
		t.Fatalf("error = %q", body.Error)
	}
	if len(body.Fields) < 5 {
		t.Fatalf("fields = %v", body.Fields)
	}
}

func TestManualDOILifecycle(t *testing.T) {
	_, _, mux := newTestAPI(t)

	rec := doRequest(t, mux, testIdentity(), http.MethodPost, "/datasets",
		`{"name":"Ice Cores","tenancy":"lab-a"}`)
	var created datasetResponse
	decodeBody(t, rec, &created)
	versionID := created.Versions[0].ID

	rec = doRequest(t, mux, testIdentity(), http.MethodPost, "/dois",
		`{"version_id":"`+versionID+`","mode":"manual","identifier":"10.5555/ice.1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var record doiResponse
	decodeBody(t, rec, &record)
	if record.State != "draft" || record.Prefix != "10.5555" || record.Suffix != "ice.1" {
		t.Fatalf("doi = %+v", record)
	}

	// Identifiers contain slashes; the wildcard route must capture them.
	rec = doRequest(t, mux, testIdentity(), http.MethodGet, "/dois/10.5555/ice.1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, mux, testIdentity(), http.MethodPatch, "/dois/10.5555/ice.1",
		`{"state":"registered"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("change state status = %d, body %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["error"] != "manual_doi_cannot_change_state" {
		t.Fatalf("error = %v", body["error"])
	}

	rec = doRequest(t, mux, testIdentity(), http.MethodDelete, "/dois/10.5555/ice.1", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, mux, testIdentity(), http.MethodGet, "/dois/10.5555/ice.1", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", rec.Code)
	}
}

func TestPolicyDeniesMutation(t *testing.T) {
	api, _, mux := newTestAPI(t)

	spec, err := policy.ParseSpec([]byte(`
schema: datagate.policy.v1
default_effect: allow
rules:
  - id: freeze-creates
    effect: deny
    when:
      all:
        - field: action
          op: eq
          value: dataset.create
`))
	if err != nil {
		t.Fatalf("ParseSpec: %v", err)
	}
	api.policy = &spec

	rec := doRequest(t, mux, testIdentity(), http.MethodPost, "/datasets",
		`{"name":"Ice Cores","tenancy":"lab-a"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["error"] != "policy_denied" {
		t.Fatalf("error = %v", body["error"])
	}

	// Reads stay open under the same spec.
	rec = doRequest(t, mux, testIdentity(), http.MethodGet, "/search", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("search status = %d", rec.Code)
	}
}

func TestInternalCollocationEndpoints(t *testing.T) {
	_, store, mux := newTestAPI(t)
	archivist := auth.Identity{Subject: "archivist", Roles: []string{"service"}}

	rec := doRequest(t, mux, testIdentity(), http.MethodPost, "/datasets",
		`{"name":"Ice Cores","tenancy":"lab-a"}`)
	var created datasetResponse
	decodeBody(t, rec, &created)

	rec = doRequest(t, mux, archivist, http.MethodGet, "/internal/collocation/pending", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("pending status = %d, body %s", rec.Code, rec.Body.String())
	}
	var pending struct {
		Datasets []datasetResponse `json:"datasets"`
	}
	decodeBody(t, rec, &pending)
	if len(pending.Datasets) != 1 || pending.Datasets[0].CollocationStatus != "pending" {
		t.Fatalf("pending = %+v", pending.Datasets)
	}

	store.AddFile(domain.DataFile{
		ID:              "file-1",
		VersionID:       created.Versions[0].ID,
		Name:            "core_depths.csv",
		SizeBytes:       1024,
		StoragePath:     "legacy/lab-a",
		StorageFileName: "core_depths.csv",
		CreatedAt:       time.Now().UTC(),
	})

	rec = doRequest(t, mux, archivist, http.MethodGet,
		"/internal/collocation/datasets/"+created.ID+"/files", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("files status = %d, body %s", rec.Code, rec.Body.String())
	}
	var files struct {
		Files []fileResponse `json:"files"`
	}
	decodeBody(t, rec, &files)
	if len(files.Files) != 1 || files.Files[0].ID != "file-1" {
		t.Fatalf("files = %+v", files.Files)
	}

	rec = doRequest(t, mux, archivist, http.MethodPatch,
		"/internal/collocation/files/file-1", `{"path":"datasets/`+created.ID+`"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("file path status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, mux, archivist, http.MethodPatch,
		"/internal/collocation/datasets/"+created.ID, `{"status":"archived"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, mux, archivist, http.MethodPatch,
		"/internal/collocation/datasets/"+created.ID, `{"status":"completed"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status update = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, mux, archivist, http.MethodGet, "/internal/collocation/pending", "")
	decodeBody(t, rec, &pending)
	if len(pending.Datasets) != 0 {
		t.Fatalf("pending after completion = %+v", pending.Datasets)
	}
}

func TestFileDownloadScopedToTenancy(t *testing.T) {
	_, store, mux := newTestAPI(t)

	rec := doRequest(t, mux, testIdentity(), http.MethodPost, "/datasets",
		`{"name":"Ice Cores","tenancy":"lab-a"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var created datasetResponse
	decodeBody(t, rec, &created)

	store.AddFile(domain.DataFile{
		ID:              "file-7",
		VersionID:       created.Versions[0].ID,
		Name:            "cores.csv",
		SizeBytes:       512,
		StoragePath:     "datasets/" + created.ID,
		StorageFileName: "cores.csv",
		CreatedAt:       time.Now().UTC(),
	})

	outsider := auth.Identity{
		Subject:   "user-2",
		Roles:     []string{"admin"},
		Tenancies: []string{"lab-z"},
	}
	rec = doRequest(t, mux, outsider, http.MethodGet, "/files/file-7/download", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("outsider status = %d, body %s", rec.Code, rec.Body.String())
	}

	nobody := auth.Identity{Subject: "archivist", Roles: []string{"admin"}}
	rec = doRequest(t, mux, nobody, http.MethodGet, "/files/file-7/download", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("no-membership status = %d, body %s", rec.Code, rec.Body.String())
	}

	// A member clears the tenancy check; without an object store configured
	// the handler then fails at the presign step.
	rec = doRequest(t, mux, testIdentity(), http.MethodGet, "/files/file-7/download", "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("member status = %d, body %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["error"] != "object_store_unavailable" {
		t.Fatalf("error = %v", body["error"])
	}
}

func TestFileDownloadUnattachedUpload(t *testing.T) {
	_, store, mux := newTestAPI(t)

	store.AddFile(domain.DataFile{
		ID:              "file-8",
		Name:            "staging.parquet",
		SizeBytes:       128,
		StorageFileName: "staging.parquet",
		CreatedAt:       time.Now().UTC(),
	})

	rec := doRequest(t, mux, testIdentity(), http.MethodGet, "/files/file-8/download", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}
