package search

import (
	"context"
	"testing"
	"time"

	"github.com/datagate-labs/datagate-go/internal/domain"
	"github.com/datagate-labs/datagate-go/internal/repo/repotest"
)

func seed(t *testing.T, store *repotest.Store, id, name, tenancy string, enabled bool, data domain.Metadata, createdAt time.Time) {
	t.Helper()
	err := store.Datasets().Create(context.Background(), domain.Dataset{
		ID:          id,
		Name:        name,
		Data:        data,
		Tenancy:     tenancy,
		IsEnabled:   enabled,
		DesignState: domain.DesignStateDraft,
		Visibility:  domain.VisibilityPrivate,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
		Versions: []domain.DatasetVersion{{
			ID:          id + "-v1",
			DatasetID:   id,
			Name:        "1",
			DesignState: domain.DesignStateDraft,
			IsEnabled:   true,
			CreatedAt:   createdAt,
			UpdatedAt:   createdAt,
		}},
	})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestSearchEmptyTenancySet(t *testing.T) {
	store := repotest.NewStore()
	svc := New(store)
	seed(t, store, "ds-1", "Buoys", "lab-a", true, nil, time.Now().UTC())

	page, err := svc.Search(context.Background(), Query{}, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(page.Items) != 0 || page.TotalCount != 0 {
		t.Fatalf("page = %+v, want empty", page)
	}
	if page.PageNumber != 1 || page.PageSize != DefaultPageSize {
		t.Fatalf("page bounds = %d/%d", page.PageNumber, page.PageSize)
	}
}

func TestSearchScopesToTenancies(t *testing.T) {
	store := repotest.NewStore()
	svc := New(store)
	now := time.Now().UTC()
	seed(t, store, "ds-a", "Buoys A", "lab-a", true, nil, now)
	seed(t, store, "ds-b", "Buoys B", "lab-b", true, nil, now)
	seed(t, store, "ds-c", "Buoys C", "lab-c", true, nil, now)

	page, err := svc.Search(context.Background(), Query{}, []string{"lab-a", "lab-c"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if page.TotalCount != 2 {
		t.Fatalf("total = %d, want 2", page.TotalCount)
	}
	for _, d := range page.Items {
		if d.Tenancy == "lab-b" {
			t.Fatal("lab-b must never leak into a lab-a/lab-c search")
		}
	}
}

func TestSearchExcludesDisabledByDefault(t *testing.T) {
	store := repotest.NewStore()
	svc := New(store)
	now := time.Now().UTC()
	seed(t, store, "ds-on", "Buoys", "lab-a", true, nil, now)
	seed(t, store, "ds-off", "Buoys retired", "lab-a", false, nil, now)

	page, err := svc.Search(context.Background(), Query{}, []string{"lab-a"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if page.TotalCount != 1 || page.Items[0].ID != "ds-on" {
		t.Fatalf("page = %+v", page.Items)
	}

	page, err = svc.Search(context.Background(), Query{IncludeDisabled: true}, []string{"lab-a"})
	if err != nil {
		t.Fatalf("search include disabled: %v", err)
	}
	if page.TotalCount != 2 {
		t.Fatalf("total = %d, want 2", page.TotalCount)
	}
}

func TestSearchFullTextFoldsAccents(t *testing.T) {
	store := repotest.NewStore()
	svc := New(store)
	now := time.Now().UTC()
	seed(t, store, "ds-1", "Glaciación Andina", "lab-a", true, domain.Metadata{"description": "series climatológicas"}, now)
	seed(t, store, "ds-2", "Urban noise", "lab-a", true, nil, now)

	page, err := svc.Search(context.Background(), Query{FullText: "glaciacion"}, []string{"lab-a"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if page.TotalCount != 1 || page.Items[0].ID != "ds-1" {
		t.Fatalf("items = %+v", page.Items)
	}

	// The accented form matches too: query folding mirrors index folding.
	page, err = svc.Search(context.Background(), Query{FullText: "CLIMATOLÓGICAS"}, []string{"lab-a"})
	if err != nil {
		t.Fatalf("search accented: %v", err)
	}
	if page.TotalCount != 1 || page.Items[0].ID != "ds-1" {
		t.Fatalf("items = %+v", page.Items)
	}
}

func TestSearchMetadataFilters(t *testing.T) {
	store := repotest.NewStore()
	svc := New(store)
	now := time.Now().UTC()
	seed(t, store, "ds-1", "Buoys", "lab-a", true, domain.Metadata{"category": "oceanography", "level": "raw"}, now)
	seed(t, store, "ds-2", "Stations", "lab-a", true, domain.Metadata{"category": "meteorology", "level": "derived"}, now)

	page, err := svc.Search(context.Background(), Query{Category: "ocean"}, []string{"lab-a"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if page.TotalCount != 1 || page.Items[0].ID != "ds-1" {
		t.Fatalf("items = %+v", page.Items)
	}

	page, err = svc.Search(context.Background(), Query{Level: "derived"}, []string{"lab-a"})
	if err != nil {
		t.Fatalf("search level: %v", err)
	}
	if page.TotalCount != 1 || page.Items[0].ID != "ds-2" {
		t.Fatalf("items = %+v", page.Items)
	}
}

func TestSearchDateRangeIsInclusive(t *testing.T) {
	store := repotest.NewStore()
	svc := New(store)
	day := func(d int) time.Time { return time.Date(2024, 3, d, 12, 0, 0, 0, time.UTC) }
	seed(t, store, "ds-1", "Early", "lab-a", true, nil, day(1))
	seed(t, store, "ds-2", "Edge", "lab-a", true, nil, day(10))
	seed(t, store, "ds-3", "Late", "lab-a", true, nil, day(20))

	from := day(10)
	to := day(10)
	page, err := svc.Search(context.Background(), Query{DateFrom: &from, DateTo: &to}, []string{"lab-a"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if page.TotalCount != 1 || page.Items[0].ID != "ds-2" {
		t.Fatalf("items = %+v", page.Items)
	}
}

func TestSearchPagination(t *testing.T) {
	store := repotest.NewStore()
	svc := New(store)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 25; i++ {
		seed(t, store, datasetID(i), "Buoys", "lab-a", true, nil, base.Add(time.Duration(i)*time.Hour))
	}

	page, err := svc.Search(context.Background(), Query{Page: 1, PageSize: 10}, []string{"lab-a"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if page.TotalCount != 25 || page.TotalPages != 3 {
		t.Fatalf("total = %d pages = %d", page.TotalCount, page.TotalPages)
	}
	if !page.HasNext || page.HasPrevious {
		t.Fatalf("page 1 flags = next %v prev %v", page.HasNext, page.HasPrevious)
	}
	if len(page.Items) != 10 {
		t.Fatalf("items = %d", len(page.Items))
	}
	// Ordered newest first.
	if page.Items[0].ID != datasetID(24) {
		t.Fatalf("first = %s", page.Items[0].ID)
	}

	last, err := svc.Search(context.Background(), Query{Page: 3, PageSize: 10}, []string{"lab-a"})
	if err != nil {
		t.Fatalf("search page 3: %v", err)
	}
	if len(last.Items) != 5 || last.HasNext || !last.HasPrevious {
		t.Fatalf("page 3 = %d items, next %v prev %v", len(last.Items), last.HasNext, last.HasPrevious)
	}

	beyond, err := svc.Search(context.Background(), Query{Page: 9, PageSize: 10}, []string{"lab-a"})
	if err != nil {
		t.Fatalf("search beyond: %v", err)
	}
	if len(beyond.Items) != 0 || beyond.TotalCount != 25 {
		t.Fatalf("beyond = %d items, total %d", len(beyond.Items), beyond.TotalCount)
	}
}

func TestSearchClampsPageBounds(t *testing.T) {
	store := repotest.NewStore()
	svc := New(store)
	seed(t, store, "ds-1", "Buoys", "lab-a", true, nil, time.Now().UTC())

	page, err := svc.Search(context.Background(), Query{Page: -3, PageSize: 1000}, []string{"lab-a"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if page.PageNumber != 1 {
		t.Fatalf("page = %d, want 1", page.PageNumber)
	}
	if page.PageSize != 100 {
		t.Fatalf("page size = %d, want 100", page.PageSize)
	}

	page, err = svc.Search(context.Background(), Query{}, []string{"lab-a"})
	if err != nil {
		t.Fatalf("search defaults: %v", err)
	}
	if page.PageSize != DefaultPageSize {
		t.Fatalf("page size = %d, want %d", page.PageSize, DefaultPageSize)
	}
}

func datasetID(i int) string {
	return "ds-" + string(rune('a'+i/10)) + string(rune('0'+i%10))
}
