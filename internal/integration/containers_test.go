//go:build integration

// Package integration holds testcontainers-backed tests for the repository
// layer and the cache service: both intentionally hold a concrete pool
// (*pool.RDBPool, *pool.KVPool) rather than a stub-friendly interface, so
// the elastic-pool contract in §4.1 is exercised end-to-end rather than
// bypassed. Run with: go test -tags=integration ./internal/integration/...
package integration

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/fairyhunter13/runtime-core/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/runtime-core/internal/cacheservice"
	"github.com/fairyhunter13/runtime-core/internal/domain"
	"github.com/fairyhunter13/runtime-core/internal/pool"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS items (
	id BIGSERIAL PRIMARY KEY,
	sku TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	price BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// startPostgres boots a disposable Postgres container and returns a ready,
// prewarmed RDBPool against it plus a teardown func.
func startPostgres(t *testing.T, ctx context.Context) (*pool.RDBPool, func()) {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16",
		Env:          map[string]string{"POSTGRES_PASSWORD": "postgres", "POSTGRES_USER": "postgres", "POSTGRES_DB": "app"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithStartupTimeout(90 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)

	host, err := c.Host(ctx)
	require.NoError(t, err)
	mapped, err := c.MappedPort(ctx, "5432")
	require.NoError(t, err)
	dsn := "postgres://postgres:postgres@" + host + ":" + mapped.Port() + "/app?sslmode=disable"

	rdb := pool.NewRDBPool(dsn, 2, 5, 0.05, 0.05, time.Second)
	require.NoError(t, rdb.Prewarm(ctx))
	require.NoError(t, rdb.WithConnection(ctx, func(conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, schema)
		return err
	}))

	return rdb, func() {
		rdb.Close()
		_ = c.Terminate(ctx)
	}
}

// startRedis boots a disposable Redis container and returns a ready,
// prewarmed KVPool against it plus a teardown func.
func startRedis(t *testing.T, ctx context.Context) (*pool.KVPool, func()) {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "redis:7",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)

	host, err := c.Host(ctx)
	require.NoError(t, err)
	mapped, err := c.MappedPort(ctx, "6379")
	require.NoError(t, err)

	kv, err := pool.NewKVPool("redis://"+host+":"+mapped.Port()+"/0", 2, 5, 0.05, 0.05, time.Second)
	require.NoError(t, err)
	require.NoError(t, kv.Prewarm(ctx))

	return kv, func() {
		kv.Close()
		_ = c.Terminate(ctx)
	}
}

func TestUserRepo_CreateFindListAgainstRealPostgres(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rdb, teardown := startPostgres(t, ctx)
	defer teardown()

	repo := postgres.NewUserRepo(rdb)

	id, err := repo.Create(ctx, domain.User{Name: "ann", Email: "ann@example.com"})
	require.NoError(t, err)
	require.Positive(t, id)

	u, err := repo.Find(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "ann@example.com", u.Email)

	_, err = repo.Create(ctx, domain.User{Name: "ann2", Email: "ann@example.com"})
	require.ErrorIs(t, err, domain.ErrConflict)

	users, err := repo.List(ctx, domain.Pagination{Limit: 10})
	require.NoError(t, err)
	require.Len(t, users, 1)

	ok, err := repo.Update(ctx, id, domain.User{Name: "ann renamed", Email: "ann@example.com"})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.Delete(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = repo.Find(ctx, id)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestItemRepo_FindBySKUAgainstRealPostgres(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rdb, teardown := startPostgres(t, ctx)
	defer teardown()

	repo := postgres.NewItemRepo(rdb)
	id, err := repo.Create(ctx, domain.Item{SKU: "sku-1", Name: "widget", Price: 999})
	require.NoError(t, err)
	require.Positive(t, id)

	it, err := repo.FindByColumn(ctx, "sku", "sku-1")
	require.NoError(t, err)
	require.Equal(t, "widget", it.Name)
}

func TestCacheService_ReadThroughAndListInvalidationAgainstRealRedis(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv, teardown := startRedis(t, ctx)
	defer teardown()

	svc := cacheservice.New(kv, "user", 300*time.Second, 10*time.Second)

	_, hit, err := svc.GetRecord(ctx, "1")
	require.NoError(t, err)
	require.False(t, hit)

	require.NoError(t, svc.PutRecord(ctx, "1", []byte(`{"id":1}`), map[string]string{"email": "a@b.com"}))
	v, hit, err := svc.GetRecord(ctx, "1")
	require.NoError(t, err)
	require.True(t, hit)
	require.JSONEq(t, `{"id":1}`, string(v))

	require.NoError(t, svc.PutList(ctx, "hash-1", []byte(`{"data":[]}`)))
	_, hit, err = svc.GetList(ctx, "hash-1")
	require.NoError(t, err)
	require.True(t, hit)

	require.NoError(t, svc.InvalidateLists(ctx))
	_, hit, err = svc.GetList(ctx, "hash-1")
	require.NoError(t, err)
	require.False(t, hit, "list key stored under the prior tag must miss after the tag bumps")
}

func TestRedisPool_PingAfterPrewarm(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv, teardown := startRedis(t, ctx)
	defer teardown()
	require.NoError(t, kv.Ping(ctx))

	var c *redis.Client
	require.NoError(t, kv.WithConnection(ctx, func(conn *redis.Client) error {
		c = conn
		return nil
	}))
	require.NotNil(t, c)
}
