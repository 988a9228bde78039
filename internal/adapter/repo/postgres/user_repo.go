package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fairyhunter13/runtime-core/internal/domain"
	"github.com/fairyhunter13/runtime-core/internal/pool"
)

var userWhere = NewWhereBuilder(map[string]FieldSpec{
	"name":       {Column: "name", Kind: Like},
	"email":      {Column: "email", Kind: Exact},
	"created_after": {Column: "created_at", Kind: GreaterThan},
	"created_before": {Column: "created_at", Kind: LessThan},
})

var userOrderBy = NewOrderByBuilder(map[string]string{
	"id":         "id",
	"name":       "name",
	"email":      "email",
	"created_at": "created_at",
})

// UserRepo implements domain.UserRepository over the RDBPool.
type UserRepo struct {
	rdb *pool.RDBPool
}

// NewUserRepo builds a UserRepo.
func NewUserRepo(rdb *pool.RDBPool) *UserRepo {
	return &UserRepo{rdb: rdb}
}

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// Create inserts a user and returns its generated id.
func (r *UserRepo) Create(ctx context.Context, u domain.User) (int64, error) {
	var id int64
	err := r.rdb.WithConnectionAndRetry(ctx, func(c *pgx.Conn) error {
		row := c.QueryRow(ctx, `INSERT INTO users (name, email, created_at, updated_at) VALUES ($1, $2, now(), now()) RETURNING id`, u.Name, u.Email)
		if err := row.Scan(&id); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("op=postgres.user.create: %w", domain.ErrConflict)
			}
			return fmt.Errorf("op=postgres.user.create: %w", err)
		}
		return nil
	})
	return id, err
}

// Find reads a user by id.
func (r *UserRepo) Find(ctx context.Context, id int64) (domain.User, error) {
	var u domain.User
	err := r.rdb.WithConnectionAndRetry(ctx, func(c *pgx.Conn) error {
		row := c.QueryRow(ctx, `SELECT id, name, email, created_at, updated_at FROM users WHERE id = $1`, id)
		var scanErr error
		u, scanErr = scanUser(row)
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return fmt.Errorf("op=postgres.user.find: %w", domain.ErrNotFound)
		}
		if scanErr != nil {
			return fmt.Errorf("op=postgres.user.find: %w", scanErr)
		}
		return nil
	})
	return u, err
}

// FindByColumn reads a user by a whitelisted secondary column.
func (r *UserRepo) FindByColumn(ctx context.Context, column, value string) (domain.User, error) {
	spec, ok := userWhere.fields[column]
	if !ok {
		return domain.User{}, fmt.Errorf("op=postgres.user.find_by_column: %w: %s", domain.ErrInvalidArgument, column)
	}
	var u domain.User
	err := r.rdb.WithConnectionAndRetry(ctx, func(c *pgx.Conn) error {
		row := c.QueryRow(ctx, fmt.Sprintf(`SELECT id, name, email, created_at, updated_at FROM users WHERE %s = $1`, spec.Column), value)
		var scanErr error
		u, scanErr = scanUser(row)
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return fmt.Errorf("op=postgres.user.find_by_column: %w", domain.ErrNotFound)
		}
		if scanErr != nil {
			return fmt.Errorf("op=postgres.user.find_by_column: %w", scanErr)
		}
		return nil
	})
	return u, err
}

// List returns a page of users matching p.
func (r *UserRepo) List(ctx context.Context, p domain.Pagination) ([]domain.User, error) {
	limit, offset := BindPagination(p.Limit, p.Offset)
	where, args, err := userWhere.Build(p.Filters, 1)
	if err != nil {
		return nil, err
	}
	orderBy, err := userOrderBy.Build(p.SortBy, p.SortDir, "id")
	if err != nil {
		return nil, err
	}

	query := `SELECT id, name, email, created_at, updated_at FROM users`
	if where != "" {
		query += " WHERE " + where
	}
	query += fmt.Sprintf(" ORDER BY %s LIMIT $%d OFFSET $%d", orderBy, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	var users []domain.User
	err = r.rdb.WithConnectionAndRetry(ctx, func(c *pgx.Conn) error {
		rows, qerr := c.Query(ctx, query, args...)
		if qerr != nil {
			return fmt.Errorf("op=postgres.user.list: %w", qerr)
		}
		defer rows.Close()
		for rows.Next() {
			u, serr := scanUser(rows)
			if serr != nil {
				return fmt.Errorf("op=postgres.user.list.scan: %w", serr)
			}
			users = append(users, u)
		}
		return rows.Err()
	})
	return users, err
}

// FilteredCount counts users matching filters.
func (r *UserRepo) FilteredCount(ctx context.Context, filters map[string]string) (int, error) {
	where, args, err := userWhere.Build(filters, 1)
	if err != nil {
		return 0, err
	}
	query := `SELECT count(*) FROM users`
	if where != "" {
		query += " WHERE " + where
	}
	var total int
	err = r.rdb.WithConnectionAndRetry(ctx, func(c *pgx.Conn) error {
		return c.QueryRow(ctx, query, args...).Scan(&total)
	})
	return total, err
}

// Count returns the total number of users.
func (r *UserRepo) Count(ctx context.Context) (int, error) {
	return r.FilteredCount(ctx, nil)
}

// Update replaces a user's mutable fields; it returns false if no row matched.
func (r *UserRepo) Update(ctx context.Context, id int64, u domain.User) (bool, error) {
	var matched bool
	err := r.rdb.WithConnectionAndRetry(ctx, func(c *pgx.Conn) error {
		tag, err := c.Exec(ctx, `UPDATE users SET name = $1, email = $2, updated_at = now() WHERE id = $3`, u.Name, u.Email, id)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("op=postgres.user.update: %w", domain.ErrConflict)
			}
			return fmt.Errorf("op=postgres.user.update: %w", err)
		}
		matched = tag.RowsAffected() > 0
		return nil
	})
	return matched, err
}

// Delete removes a user; it returns false if no row matched.
func (r *UserRepo) Delete(ctx context.Context, id int64) (bool, error) {
	var matched bool
	err := r.rdb.WithConnectionAndRetry(ctx, func(c *pgx.Conn) error {
		tag, err := c.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("op=postgres.user.delete: %w", err)
		}
		matched = tag.RowsAffected() > 0
		return nil
	})
	return matched, err
}
