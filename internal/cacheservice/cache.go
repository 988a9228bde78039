// Package cacheservice implements the read-through cache fronting the KV
// store (§4.9): per-record keys, per-column lookup keys, and tag-versioned
// list keys so that a single write invalidates every cached list page
// without a key scan.
package cacheservice

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/runtime-core/internal/domain"
	"github.com/fairyhunter13/runtime-core/internal/pool"
)

// Service is the read-through cache. One Service instance fronts one
// entity's record/list caching (e.g. "user", "item").
type Service struct {
	kv         *pool.KVPool
	entity     string
	recordTTL  time.Duration
	listTTL    time.Duration
	incrScript *redis.Script
}

// New builds a Service scoped to a single entity name.
func New(kv *pool.KVPool, entity string, recordTTL, listTTL time.Duration) *Service {
	return &Service{
		kv:         kv,
		entity:     entity,
		recordTTL:  recordTTL,
		listTTL:    listTTL,
		incrScript: redis.NewScript(incrScript),
	}
}

// incrScript atomically increments the list generation tag for an entity,
// creating it at 0 if absent, mirroring the atomic redis.Script pattern
// used by the token-bucket limiter.
const incrScript = `
local v = redis.call("INCR", KEYS[1])
return v
`

func (s *Service) recordKey(id string) string { return fmt.Sprintf("record:%s:%s", s.entity, id) }

func (s *Service) recordColKey(column, value string) string {
	return fmt.Sprintf("record-col:%s:%s:%s", s.entity, column, value)
}

func (s *Service) listTagKey() string { return fmt.Sprintf("list-tag:%s", s.entity) }

func (s *Service) listKey(tag int64, hash string) string {
	return fmt.Sprintf("list:%s:%d:%s", s.entity, tag, hash)
}

// HashArgs canonicalizes a set of list arguments (pagination, filters, sort)
// into a stable cache-key fragment.
func HashArgs(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("op=cacheservice.hash_args: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func (s *Service) currentTag(ctx context.Context) (int64, error) {
	var tag int64
	err := s.kv.WithConnection(ctx, func(c *redis.Client) error {
		v, err := c.Get(ctx, s.listTagKey()).Result()
		if err == redis.Nil {
			tag = 0
			return nil
		}
		if err != nil {
			return fmt.Errorf("op=cacheservice.current_tag: %w: %v", domain.ErrBackendUnreachable, err)
		}
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			tag = 0
			return nil
		}
		tag = n
		return nil
	})
	return tag, err
}

// GetRecord reads a cached record by id.
func (s *Service) GetRecord(ctx context.Context, id string) ([]byte, bool, error) {
	var val []byte
	var hit bool
	err := s.kv.WithConnection(ctx, func(c *redis.Client) error {
		v, err := c.Get(ctx, s.recordKey(id)).Bytes()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("op=cacheservice.get_record: %w: %v", domain.ErrBackendUnreachable, err)
		}
		val, hit = v, true
		return nil
	})
	return val, hit, err
}

// PutRecord writes a record's cache entry, keyed both by id and, if column
// lookups are given, by each secondary column value.
func (s *Service) PutRecord(ctx context.Context, id string, value []byte, columns map[string]string) error {
	return s.kv.WithConnection(ctx, func(c *redis.Client) error {
		pipe := c.TxPipeline()
		pipe.Set(ctx, s.recordKey(id), value, s.recordTTL)
		for col, colVal := range columns {
			pipe.Set(ctx, s.recordColKey(col, colVal), value, s.recordTTL)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("op=cacheservice.put_record: %w", domain.ErrCacheSet)
		}
		return nil
	})
}

// GetRecordByColumn reads a cached record addressed by a secondary column
// (e.g. email lookup).
func (s *Service) GetRecordByColumn(ctx context.Context, column, value string) ([]byte, bool, error) {
	var val []byte
	var hit bool
	err := s.kv.WithConnection(ctx, func(c *redis.Client) error {
		v, err := c.Get(ctx, s.recordColKey(column, value)).Bytes()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("op=cacheservice.get_record_col: %w: %v", domain.ErrBackendUnreachable, err)
		}
		val, hit = v, true
		return nil
	})
	return val, hit, err
}

// InvalidateRecord drops a record's cache entries. Secondary column keys
// are best-effort — they expire naturally via TTL if not explicitly known.
func (s *Service) InvalidateRecord(ctx context.Context, id string, columns map[string]string) error {
	return s.kv.WithConnection(ctx, func(c *redis.Client) error {
		keys := []string{s.recordKey(id)}
		for col, colVal := range columns {
			keys = append(keys, s.recordColKey(col, colVal))
		}
		if err := c.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("op=cacheservice.invalidate_record: %w: %v", domain.ErrBackendUnreachable, err)
		}
		return nil
	})
}

// GetList reads a cached list page addressed by the current generation tag
// and the hash of its query arguments.
func (s *Service) GetList(ctx context.Context, argsHash string) ([]byte, bool, error) {
	tag, err := s.currentTag(ctx)
	if err != nil {
		return nil, false, err
	}
	var val []byte
	var hit bool
	err = s.kv.WithConnection(ctx, func(c *redis.Client) error {
		v, gerr := c.Get(ctx, s.listKey(tag, argsHash)).Bytes()
		if gerr == redis.Nil {
			return nil
		}
		if gerr != nil {
			return fmt.Errorf("op=cacheservice.get_list: %w: %v", domain.ErrBackendUnreachable, gerr)
		}
		val, hit = v, true
		return nil
	})
	return val, hit, err
}

// PutList writes a list page under the current generation tag.
func (s *Service) PutList(ctx context.Context, argsHash string, value []byte) error {
	tag, err := s.currentTag(ctx)
	if err != nil {
		return err
	}
	return s.kv.WithConnection(ctx, func(c *redis.Client) error {
		if err := c.Set(ctx, s.listKey(tag, argsHash), value, s.listTTL).Err(); err != nil {
			return fmt.Errorf("op=cacheservice.put_list: %w", domain.ErrCacheSet)
		}
		return nil
	})
}

// InvalidateLists bumps the entity's list generation tag atomically,
// orphaning every previously cached list page in one O(1) write instead of
// scanning and deleting each `list:{entity}:*` key.
func (s *Service) InvalidateLists(ctx context.Context) error {
	return s.kv.WithConnection(ctx, func(c *redis.Client) error {
		if err := s.incrScript.Run(ctx, c, []string{s.listTagKey()}).Err(); err != nil {
			return fmt.Errorf("op=cacheservice.invalidate_lists: %w: %v", domain.ErrBackendUnreachable, err)
		}
		return nil
	})
}

// Invalidate is the write-path hook: drop the record and bump the list tag.
// If dropping the record fails, the list tag is not bumped.
func (s *Service) Invalidate(ctx context.Context, id string, columns map[string]string) error {
	if err := s.InvalidateRecord(ctx, id, columns); err != nil {
		return err
	}
	return s.InvalidateLists(ctx)
}
