// Package postgres implements the repository layer (§4.10) on top of the
// raw-pgx RDBPool: a where-builder with a field whitelist, an order-by
// builder with a column allowlist, and a pagination binder, shared by the
// user and item repositories.
package postgres

import (
	"fmt"
	"strings"

	"github.com/fairyhunter13/runtime-core/internal/domain"
)

// PredicateKind is one of the filter shapes supported across the domain.
type PredicateKind int

const (
	// Exact matches a column exactly.
	Exact PredicateKind = iota
	// Like matches a column with `LIKE '%value%'`.
	Like
	// GreaterThan matches `column > value`.
	GreaterThan
	// LessThan matches `column < value`.
	LessThan
)

// FieldSpec binds a filterable field name to its column and predicate kind.
type FieldSpec struct {
	Column string
	Kind   PredicateKind
}

// WhereBuilder builds a `WHERE` clause from a field whitelist; any filter
// key not in the whitelist fails with InvalidFilter (InvalidArgument).
type WhereBuilder struct {
	fields map[string]FieldSpec
}

// NewWhereBuilder builds a WhereBuilder from an explicit field whitelist.
func NewWhereBuilder(fields map[string]FieldSpec) *WhereBuilder {
	return &WhereBuilder{fields: fields}
}

// Build turns filters into a SQL fragment (without the leading "WHERE")
// and its bound parameters, starting placeholder numbering at startArg.
func (b *WhereBuilder) Build(filters map[string]string, startArg int) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}
	// deterministic order: sort keys so generated SQL and its cache hash are stable
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sortStrings(keys)

	var clauses []string
	var args []any
	arg := startArg
	for _, k := range keys {
		spec, ok := b.fields[k]
		if !ok {
			return "", nil, fmt.Errorf("op=postgres.where: %w: unknown filter %q", domain.ErrInvalidArgument, k)
		}
		v := filters[k]
		switch spec.Kind {
		case Exact:
			clauses = append(clauses, fmt.Sprintf("%s = $%d", spec.Column, arg))
			args = append(args, v)
		case Like:
			clauses = append(clauses, fmt.Sprintf("%s LIKE $%d", spec.Column, arg))
			args = append(args, "%"+v+"%")
		case GreaterThan:
			clauses = append(clauses, fmt.Sprintf("%s > $%d", spec.Column, arg))
			args = append(args, v)
		case LessThan:
			clauses = append(clauses, fmt.Sprintf("%s < $%d", spec.Column, arg))
			args = append(args, v)
		default:
			return "", nil, fmt.Errorf("op=postgres.where: %w: unsupported predicate for %q", domain.ErrInvalidArgument, k)
		}
		arg++
	}
	return strings.Join(clauses, " AND "), args, nil
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// OrderByBuilder accepts only an allowlist of sortable columns; direction
// is coerced to ASC or DESC, defaulting to DESC.
type OrderByBuilder struct {
	allowed map[string]string // sort key -> column
}

// NewOrderByBuilder builds an OrderByBuilder from a sort-key-to-column allowlist.
func NewOrderByBuilder(allowed map[string]string) *OrderByBuilder {
	return &OrderByBuilder{allowed: allowed}
}

// Build resolves sortBy/sortDir into an `ORDER BY` fragment, using the
// allowlisted column for fallback when sortBy is empty.
func (b *OrderByBuilder) Build(sortBy, sortDir, fallback string) (string, error) {
	column, ok := b.allowed[sortBy]
	if sortBy == "" {
		column, ok = b.allowed[fallback], true
	}
	if !ok {
		return "", fmt.Errorf("op=postgres.order_by: %w: unknown sort column %q", domain.ErrInvalidArgument, sortBy)
	}
	dir := strings.ToUpper(sortDir)
	if dir != "ASC" {
		dir = "DESC"
	}
	return fmt.Sprintf("%s %s", column, dir), nil
}

// BindPagination replaces a limit below 1 with the default of 20, caps it
// at 100, and clamps offset to ≥0.
func BindPagination(limit, offset int) (int, int) {
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// PageInfo computes the pagination envelope for a page result.
func PageInfo(total, count, limit, offset int) domain.PageInfo {
	currentPage := offset/limit + 1
	totalPages := (total + limit - 1) / limit
	if totalPages < 1 {
		totalPages = 1
	}
	return domain.PageInfo{
		Total:       total,
		Count:       count,
		PerPage:     limit,
		CurrentPage: currentPage,
		TotalPages:  totalPages,
	}
}
