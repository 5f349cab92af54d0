// Package search builds tenancy-scoped, paginated dataset queries. Full-text
// input is accent-folded with the same normalization used when the index
// vector is written, so query and index always agree.
package search

import (
	"context"
	"time"

	"github.com/datagate-labs/datagate-go/internal/domain"
	"github.com/datagate-labs/datagate-go/internal/repo"
	"github.com/datagate-labs/datagate-go/internal/searchtext"
)

const (
	// DefaultPageSize applies when a caller does not ask for a size.
	DefaultPageSize = 20
	maxPageSize     = 100
)

// Query enumerates every recognized filter. Zero values mean "not filtered";
// IncludeDisabled defaults to searching enabled datasets only.
type Query struct {
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

// Page is one page of ranked results.
type Page struct {
	Items       []domain.Dataset
	TotalCount  int64
	PageNumber  int
	PageSize    int
	TotalPages  int
	HasNext     bool
	HasPrevious bool
}

type Service struct {
	store repo.Store
}

func New(store repo.Store) *Service {
	if store == nil {
		return nil
	}
	return &Service{store: store}
}

// Search runs a query restricted to the effective tenancy set. An empty set
// yields an empty page without touching the store: the tenancy intersection
// is mandatory, never optional.
func (s *Service) Search(ctx context.Context, query Query, tenancies []string) (Page, error) {
	page := clampPage(query.Page)
	pageSize := clampPageSize(query.PageSize)

	if len(tenancies) == 0 {
		return Page{
			Items:      []domain.Dataset{},
			PageNumber: page,
			PageSize:   pageSize,
		}, nil
	}

	items, total, err := s.store.Datasets().Search(ctx, repo.SearchQuery{
		Tenancies:       tenancies,
		Category:        query.Category,
		DataType:        query.DataType,
		Level:           query.Level,
		DateFrom:        query.DateFrom,
		DateTo:          query.DateTo,
		IncludeDisabled: query.IncludeDisabled,
		DesignState:     query.DesignState,
		Visibility:      query.Visibility,
		VersionName:     query.VersionName,
		FullText:        searchtext.Fold(query.FullText),
		Page:            page,
		PageSize:        pageSize,
	})
	if err != nil {
		return Page{}, err
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Page{
		Items:       items,
		TotalCount:  total,
		PageNumber:  page,
		PageSize:    pageSize,
		TotalPages:  totalPages,
		HasNext:     page < totalPages,
		HasPrevious: page > 1,
	}, nil
}

func clampPage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

func clampPageSize(size int) int {
	if size == 0 {
		return DefaultPageSize
	}
	if size < 1 {
		return 1
	}
	if size > maxPageSize {
		return maxPageSize
	}
	return size
}
