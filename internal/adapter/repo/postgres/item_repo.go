package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fairyhunter13/runtime-core/internal/domain"
	"github.com/fairyhunter13/runtime-core/internal/pool"
)

var itemWhere = NewWhereBuilder(map[string]FieldSpec{
	"sku":            {Column: "sku", Kind: Exact},
	"name":           {Column: "name", Kind: Like},
	"created_after":  {Column: "created_at", Kind: GreaterThan},
	"created_before": {Column: "created_at", Kind: LessThan},
})

var itemOrderBy = NewOrderByBuilder(map[string]string{
	"id":         "id",
	"sku":        "sku",
	"name":       "name",
	"price":      "price",
	"created_at": "created_at",
})

// ItemRepo implements domain.ItemRepository over the RDBPool.
type ItemRepo struct {
	rdb *pool.RDBPool
}

// NewItemRepo builds an ItemRepo.
func NewItemRepo(rdb *pool.RDBPool) *ItemRepo {
	return &ItemRepo{rdb: rdb}
}

func scanItem(row pgx.Row) (domain.Item, error) {
	var i domain.Item
	err := row.Scan(&i.ID, &i.SKU, &i.Name, &i.Price, &i.CreatedAt, &i.UpdatedAt)
	return i, err
}

// Create inserts an item and returns its generated id.
func (r *ItemRepo) Create(ctx context.Context, i domain.Item) (int64, error) {
	var id int64
	err := r.rdb.WithConnectionAndRetry(ctx, func(c *pgx.Conn) error {
		row := c.QueryRow(ctx, `INSERT INTO items (sku, name, price, created_at, updated_at) VALUES ($1, $2, $3, now(), now()) RETURNING id`, i.SKU, i.Name, i.Price)
		if err := row.Scan(&id); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("op=postgres.item.create: %w", domain.ErrConflict)
			}
			return fmt.Errorf("op=postgres.item.create: %w", err)
		}
		return nil
	})
	return id, err
}

// Find reads an item by id.
func (r *ItemRepo) Find(ctx context.Context, id int64) (domain.Item, error) {
	var i domain.Item
	err := r.rdb.WithConnectionAndRetry(ctx, func(c *pgx.Conn) error {
		row := c.QueryRow(ctx, `SELECT id, sku, name, price, created_at, updated_at FROM items WHERE id = $1`, id)
		var scanErr error
		i, scanErr = scanItem(row)
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return fmt.Errorf("op=postgres.item.find: %w", domain.ErrNotFound)
		}
		if scanErr != nil {
			return fmt.Errorf("op=postgres.item.find: %w", scanErr)
		}
		return nil
	})
	return i, err
}

// FindByColumn reads an item by a whitelisted secondary column (e.g. sku).
func (r *ItemRepo) FindByColumn(ctx context.Context, column, value string) (domain.Item, error) {
	spec, ok := itemWhere.fields[column]
	if !ok {
		return domain.Item{}, fmt.Errorf("op=postgres.item.find_by_column: %w: %s", domain.ErrInvalidArgument, column)
	}
	var i domain.Item
	err := r.rdb.WithConnectionAndRetry(ctx, func(c *pgx.Conn) error {
		row := c.QueryRow(ctx, fmt.Sprintf(`SELECT id, sku, name, price, created_at, updated_at FROM items WHERE %s = $1`, spec.Column), value)
		var scanErr error
		i, scanErr = scanItem(row)
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return fmt.Errorf("op=postgres.item.find_by_column: %w", domain.ErrNotFound)
		}
		if scanErr != nil {
			return fmt.Errorf("op=postgres.item.find_by_column: %w", scanErr)
		}
		return nil
	})
	return i, err
}

// List returns a page of items matching p.
func (r *ItemRepo) List(ctx context.Context, p domain.Pagination) ([]domain.Item, error) {
	limit, offset := BindPagination(p.Limit, p.Offset)
	where, args, err := itemWhere.Build(p.Filters, 1)
	if err != nil {
		return nil, err
	}
	orderBy, err := itemOrderBy.Build(p.SortBy, p.SortDir, "id")
	if err != nil {
		return nil, err
	}

	query := `SELECT id, sku, name, price, created_at, updated_at FROM items`
	if where != "" {
		query += " WHERE " + where
	}
	query += fmt.Sprintf(" ORDER BY %s LIMIT $%d OFFSET $%d", orderBy, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	var items []domain.Item
	err = r.rdb.WithConnectionAndRetry(ctx, func(c *pgx.Conn) error {
		rows, qerr := c.Query(ctx, query, args...)
		if qerr != nil {
			return fmt.Errorf("op=postgres.item.list: %w", qerr)
		}
		defer rows.Close()
		for rows.Next() {
			i, serr := scanItem(rows)
			if serr != nil {
				return fmt.Errorf("op=postgres.item.list.scan: %w", serr)
			}
			items = append(items, i)
		}
		return rows.Err()
	})
	return items, err
}

// FilteredCount counts items matching filters.
func (r *ItemRepo) FilteredCount(ctx context.Context, filters map[string]string) (int, error) {
	where, args, err := itemWhere.Build(filters, 1)
	if err != nil {
		return 0, err
	}
	query := `SELECT count(*) FROM items`
	if where != "" {
		query += " WHERE " + where
	}
	var total int
	err = r.rdb.WithConnectionAndRetry(ctx, func(c *pgx.Conn) error {
		return c.QueryRow(ctx, query, args...).Scan(&total)
	})
	return total, err
}

// Count returns the total number of items.
func (r *ItemRepo) Count(ctx context.Context) (int, error) {
	return r.FilteredCount(ctx, nil)
}

// Update replaces an item's mutable fields; it returns false if no row matched.
func (r *ItemRepo) Update(ctx context.Context, id int64, i domain.Item) (bool, error) {
	var matched bool
	err := r.rdb.WithConnectionAndRetry(ctx, func(c *pgx.Conn) error {
		tag, err := c.Exec(ctx, `UPDATE items SET sku = $1, name = $2, price = $3, updated_at = now() WHERE id = $4`, i.SKU, i.Name, i.Price, id)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("op=postgres.item.update: %w", domain.ErrConflict)
			}
			return fmt.Errorf("op=postgres.item.update: %w", err)
		}
		matched = tag.RowsAffected() > 0
		return nil
	})
	return matched, err
}

// Delete removes an item; it returns false if no row matched.
func (r *ItemRepo) Delete(ctx context.Context, id int64) (bool, error) {
	var matched bool
	err := r.rdb.WithConnectionAndRetry(ctx, func(c *pgx.Conn) error {
		tag, err := c.Exec(ctx, `DELETE FROM items WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("op=postgres.item.delete: %w", err)
		}
		matched = tag.RowsAffected() > 0
		return nil
	})
	return matched, err
}
