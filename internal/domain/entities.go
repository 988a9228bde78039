// Package domain defines core entities, ports, and domain-specific errors.
package domain

import (
	"context"
	"time"
)

// Context is a type alias to stdlib context.Context for convenience across layers.
type Context = context.Context

// User is a domain entity managed through the Users CRUD surface.
type User struct {
	ID        int64
	Name      string
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Item is a domain entity managed through the Items CRUD surface.
type Item struct {
	ID        int64
	SKU       string
	Name      string
	Price     int64 // minor currency units
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Pagination describes a page request resolved from the query string.
type Pagination struct {
	Limit   int
	Offset  int
	SortBy  string
	SortDir string
	Filters map[string]string
}

// PageInfo is the envelope returned alongside a page of records.
type PageInfo struct {
	Total       int
	Count       int
	PerPage     int
	CurrentPage int
	TotalPages  int
}

//go:generate mockery --name=UserRepository --with-expecter --filename=user_repository_mock.go
//go:generate mockery --name=ItemRepository --with-expecter --filename=item_repository_mock.go

// UserRepository is the storage port for User entities (§4.10).
type UserRepository interface {
	Create(ctx Context, u User) (int64, error)
	Find(ctx Context, id int64) (User, error)
	FindByColumn(ctx Context, column, value string) (User, error)
	List(ctx Context, p Pagination) ([]User, error)
	FilteredCount(ctx Context, filters map[string]string) (int, error)
	Count(ctx Context) (int, error)
	Update(ctx Context, id int64, u User) (bool, error)
	Delete(ctx Context, id int64) (bool, error)
}

// ItemRepository is the storage port for Item entities (§4.10).
type ItemRepository interface {
	Create(ctx Context, i Item) (int64, error)
	Find(ctx Context, id int64) (Item, error)
	FindByColumn(ctx Context, column, value string) (Item, error)
	List(ctx Context, p Pagination) ([]Item, error)
	FilteredCount(ctx Context, filters map[string]string) (int, error)
	Count(ctx Context) (int, error)
	Update(ctx Context, id int64, i Item) (bool, error)
	Delete(ctx Context, id int64) (bool, error)
}
