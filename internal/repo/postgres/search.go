package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/datagate-labs/datagate-go/internal/domain"
	"github.com/datagate-labs/datagate-go/internal/repo"
)

// buildSearchQuery renders a repo.SearchQuery into the items query, the
// count query, and the shared argument list. The tenancy intersection is
// mandatory; the caller guarantees page bounds are clamped and full text is
// already folded.
func buildSearchQuery(q repo.SearchQuery) (string, string, []any, error) {
	if len(q.Tenancies) == 0 {
		return "", "", nil, fmt.Errorf("tenancies are required")
	}
	if q.Page < 1 || q.PageSize < 1 {
		return "", "", nil, fmt.Errorf("page bounds must be clamped before querying")
	}

	args := []any{q.Tenancies}
	clauses := []string{"d.tenancy = ANY($1)"}

	metadataField := func(field, value string) {
		args = append(args, "%"+strings.TrimSpace(value)+"%")
		clauses = append(clauses, fmt.Sprintf("d.data->>'%s' ILIKE $%d", field, len(args)))
	}
	if strings.TrimSpace(q.Category) != "" {
		metadataField("category", q.Category)
	}
	if strings.TrimSpace(q.DataType) != "" {
		metadataField("data_type", q.DataType)
	}
	if strings.TrimSpace(q.Level) != "" {
		metadataField("level", q.Level)
	}
	if q.DateFrom != nil {
		args = append(args, q.DateFrom.UTC())
		clauses = append(clauses, fmt.Sprintf("d.created_at >= $%d", len(args)))
	}
	if q.DateTo != nil {
		args = append(args, q.DateTo.UTC())
		clauses = append(clauses, fmt.Sprintf("d.created_at <= $%d", len(args)))
	}
	if !q.IncludeDisabled {
		clauses = append(clauses, "d.is_enabled")
	}
	if q.DesignState != "" {
		args = append(args, string(q.DesignState))
		clauses = append(clauses, fmt.Sprintf("d.design_state = $%d", len(args)))
	}
	if q.Visibility != "" {
		args = append(args, string(q.Visibility))
		clauses = append(clauses, fmt.Sprintf("d.visibility = $%d", len(args)))
	}
	if strings.TrimSpace(q.VersionName) != "" {
		args = append(args, strings.TrimSpace(q.VersionName))
		clauses = append(clauses, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM dataset_versions v WHERE v.dataset_id = d.id AND v.name = $%d)", len(args)))
	}

	orderBy := "d.created_at DESC"
	fullText := strings.TrimSpace(q.FullText)
	if fullText != "" {
		args = append(args, fullText)
		rankArg := len(args)
		clauses = append(clauses, fmt.Sprintf("d.search_vector @@ plainto_tsquery('simple', $%d)", rankArg))
		orderBy = fmt.Sprintf("ts_rank(d.search_vector, plainto_tsquery('simple', $%d)) DESC, d.created_at DESC", rankArg)
	}

	where := strings.Join(clauses, " AND ")
	countQuery := `SELECT COUNT(*) FROM datasets d WHERE ` + where

	args = append(args, q.PageSize)
	limitArg := len(args)
	args = append(args, (q.Page-1)*q.PageSize)
	offsetArg := len(args)

	itemsQuery := `SELECT ` + datasetColumns + ` FROM datasets d WHERE ` + where +
		` ORDER BY ` + orderBy +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", limitArg, offsetArg)

	return itemsQuery, countQuery, args, nil
}

func (s *DatasetStore) Search(ctx context.Context, query repo.SearchQuery) ([]domain.Dataset, int64, error) {
	if s == nil || s.db == nil {
		return nil, 0, fmt.Errorf("dataset store not initialized")
	}
	itemsQuery, countQuery, args, err := buildSearchQuery(query)
	if err != nil {
		return nil, 0, err
	}

	// The count query shares the argument list minus LIMIT/OFFSET.
	var total int64
	if err := s.db.QueryRowContext(ctx, countQuery, args[:len(args)-2]...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count datasets: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, itemsQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search datasets: %w", err)
	}
	defer rows.Close()

	datasets := make([]domain.Dataset, 0, query.PageSize)
	for rows.Next() {
		dataset, err := scanDatasetRows(rows)
		if err != nil {
			return nil, 0, err
		}
		datasets = append(datasets, dataset)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("search datasets: %w", err)
	}
	return datasets, total, nil
}
