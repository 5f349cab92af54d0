package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/datagate-labs/datagate-go/internal/domain"
	"github.com/datagate-labs/datagate-go/internal/repo"
)

func baseQuery() repo.SearchQuery {
	return repo.SearchQuery{
		Tenancies: []string{"org/polar"},
		Page:      1,
		PageSize:  25,
	}
}

func TestBuildSearchQueryRequiresTenancies(t *testing.T) {
	q := baseQuery()
	q.Tenancies = nil
	if _, _, _, err := buildSearchQuery(q); err == nil {
		t.Fatalf("expected error for missing tenancies")
	}
}

func TestBuildSearchQueryRequiresClampedBounds(t *testing.T) {
	q := baseQuery()
	q.Page = 0
	if _, _, _, err := buildSearchQuery(q); err == nil {
		t.Fatalf("expected error for unclamped page")
	}
}

func TestBuildSearchQueryTenancyAlwaysFirst(t *testing.T) {
	items, count, args, err := buildSearchQuery(baseQuery())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(items, "d.tenancy = ANY($1)") {
		t.Fatalf("expected tenancy clause in items query: %s", items)
	}
	if !strings.Contains(count, "d.tenancy = ANY($1)") {
		t.Fatalf("expected tenancy clause in count query: %s", count)
	}
	tenancies, ok := args[0].([]string)
	if !ok || len(tenancies) != 1 || tenancies[0] != "org/polar" {
		t.Fatalf("expected tenancies as first arg, got %v", args[0])
	}
}

func TestBuildSearchQueryDefaultsToEnabledOnly(t *testing.T) {
	items, _, _, err := buildSearchQuery(baseQuery())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(items, "d.is_enabled") {
		t.Fatalf("expected enabled filter by default: %s", items)
	}

	q := baseQuery()
	q.IncludeDisabled = true
	items, _, _, err = buildSearchQuery(q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(items, "d.is_enabled") {
		t.Fatalf("expected no enabled filter with IncludeDisabled: %s", items)
	}
}

func TestBuildSearchQueryMetadataFilters(t *testing.T) {
	q := baseQuery()
	q.Category = "climate"
	q.DataType = "timeseries"
	q.Level = "raw"
	items, _, args, err := buildSearchQuery(q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, clause := range []string{
		"d.data->>'category' ILIKE $2",
		"d.data->>'data_type' ILIKE $3",
		"d.data->>'level' ILIKE $4",
	} {
		if !strings.Contains(items, clause) {
			t.Fatalf("expected clause %q in query: %s", clause, items)
		}
	}
	if args[1] != "%climate%" {
		t.Fatalf("expected wrapped pattern, got %v", args[1])
	}
}

func TestBuildSearchQueryDateRangeInclusive(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	q := baseQuery()
	q.DateFrom = &from
	q.DateTo = &to
	items, _, _, err := buildSearchQuery(q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(items, "d.created_at >= $2") || !strings.Contains(items, "d.created_at <= $3") {
		t.Fatalf("expected inclusive date range clauses: %s", items)
	}
}

func TestBuildSearchQueryVersionNameExistential(t *testing.T) {
	q := baseQuery()
	q.VersionName = "2"
	items, _, _, err := buildSearchQuery(q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(items, "EXISTS (SELECT 1 FROM dataset_versions v WHERE v.dataset_id = d.id AND v.name = $2)") {
		t.Fatalf("expected existential version clause: %s", items)
	}
}

func TestBuildSearchQueryFullTextOrdersByRank(t *testing.T) {
	q := baseQuery()
	q.FullText = "glaciacion"
	items, _, _, err := buildSearchQuery(q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(items, "d.search_vector @@ plainto_tsquery('simple', $2)") {
		t.Fatalf("expected full text clause: %s", items)
	}
	if !strings.Contains(items, "ORDER BY ts_rank(d.search_vector, plainto_tsquery('simple', $2)) DESC, d.created_at DESC") {
		t.Fatalf("expected rank-then-recency ordering: %s", items)
	}
}

func TestBuildSearchQueryRecencyOrderWithoutFullText(t *testing.T) {
	items, _, _, err := buildSearchQuery(baseQuery())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(items, "ORDER BY d.created_at DESC") {
		t.Fatalf("expected recency ordering: %s", items)
	}
}

func TestBuildSearchQueryPagination(t *testing.T) {
	q := baseQuery()
	q.Page = 3
	q.PageSize = 10
	items, count, args, err := buildSearchQuery(q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(items, "LIMIT $2 OFFSET $3") {
		t.Fatalf("expected limit/offset placeholders: %s", items)
	}
	if args[len(args)-2] != 10 || args[len(args)-1] != 20 {
		t.Fatalf("expected limit 10 offset 20, got %v", args)
	}
	if strings.Contains(count, "LIMIT") {
		t.Fatalf("count query must not page: %s", count)
	}
}

func TestBuildSearchQueryDesignStateAndVisibility(t *testing.T) {
	q := baseQuery()
	q.DesignState = domain.DesignStatePublished
	q.Visibility = domain.VisibilityPublic
	items, _, args, err := buildSearchQuery(q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(items, "d.design_state = $2") || !strings.Contains(items, "d.visibility = $3") {
		t.Fatalf("expected state and visibility clauses: %s", items)
	}
	if args[1] != "published" || args[2] != "public" {
		t.Fatalf("unexpected args: %v", args)
	}
}
