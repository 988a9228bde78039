package httpserver

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fairyhunter13/runtime-core/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/runtime-core/internal/cacheservice"
	"github.com/fairyhunter13/runtime-core/internal/config"
	"github.com/fairyhunter13/runtime-core/internal/domain"
	"github.com/fairyhunter13/runtime-core/internal/service/ratelimiter"
	"github.com/fairyhunter13/runtime-core/internal/task/channelqueue"
	"github.com/fairyhunter13/runtime-core/internal/task/envelope"
)

// Handlers groups every domain HTTP handler with the dependencies they
// close over: repositories, the per-entity read-through cache, and the
// in-process channel queue for the async surface (§6).
type Handlers struct {
	Cfg       config.Config
	Users     domain.UserRepository
	Items     domain.ItemRepository
	UserCache *cacheservice.Service
	ItemCache *cacheservice.Service
	Queue     *channelqueue.Queue
	Limiter   *ratelimiter.RedisLuaLimiter
	StartedAt time.Time
}

const (
	userCacheCols = "email"
	itemCacheCols = "sku"
)

// --- Users ---

// CreateUser handles POST /users.
func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req userCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.Cfg, err)
		return
	}
	if err := validate().Struct(req); err != nil {
		writeError(w, r, h.Cfg, fmt.Errorf("op=httpserver.create_user: %w: %v", domain.ErrInvalidArgument, err))
		return
	}

	id, err := h.Users.Create(r.Context(), domain.User{Name: req.Name, Email: req.Email})
	if err != nil {
		writeError(w, r, h.Cfg, err)
		return
	}
	if h.UserCache != nil {
		_ = h.UserCache.InvalidateLists(r.Context())
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

// GetUser handles GET /users/{id}, read-through the cache service.
func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request, id string) {
	if h.UserCache != nil {
		if v, hit, err := h.UserCache.GetRecord(r.Context(), id); err == nil && hit {
			w.Header().Set("X-Cache-Type", "record")
			writeJSON(w, http.StatusOK, json.RawMessage(v))
			return
		}
	}

	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		writeError(w, r, h.Cfg, fmt.Errorf("op=httpserver.get_user: %w", domain.ErrInvalidArgument))
		return
	}
	u, err := h.Users.Find(r.Context(), n)
	if err != nil {
		writeError(w, r, h.Cfg, err)
		return
	}
	h.cacheUser(r, u)
	writeJSON(w, http.StatusOK, u)
}

// GetUserByEmail handles GET /users/email/{email}.
func (h *Handlers) GetUserByEmail(w http.ResponseWriter, r *http.Request, email string) {
	if h.UserCache != nil {
		if v, hit, err := h.UserCache.GetRecordByColumn(r.Context(), userCacheCols, email); err == nil && hit {
			w.Header().Set("X-Cache-Type", "record-col")
			writeJSON(w, http.StatusOK, json.RawMessage(v))
			return
		}
	}
	u, err := h.Users.FindByColumn(r.Context(), "email", email)
	if err != nil {
		writeError(w, r, h.Cfg, err)
		return
	}
	h.cacheUser(r, u)
	writeJSON(w, http.StatusOK, u)
}

// ListUsers handles GET /users.
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	p := paginationFromQuery(r)
	hash, _ := cacheservice.HashArgs(p)

	if h.UserCache != nil && hash != "" {
		if v, hit, err := h.UserCache.GetList(r.Context(), hash); err == nil && hit {
			w.Header().Set("X-Cache-Type", "list")
			writeJSON(w, http.StatusOK, json.RawMessage(v))
			return
		}
	}

	users, err := h.Users.List(r.Context(), p)
	if err != nil {
		writeError(w, r, h.Cfg, err)
		return
	}
	total, err := h.Users.FilteredCount(r.Context(), p.Filters)
	if err != nil {
		writeError(w, r, h.Cfg, err)
		return
	}
	resp := listResponse{Data: users, Page: postgres.PageInfo(total, len(users), p.Limit, p.Offset)}

	if h.UserCache != nil && hash != "" {
		if b, err := json.Marshal(resp); err == nil {
			_ = h.UserCache.PutList(r.Context(), hash, b)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// UpdateUser handles PUT /users/{id}.
func (h *Handlers) UpdateUser(w http.ResponseWriter, r *http.Request, id string) {
	var req userCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.Cfg, err)
		return
	}
	if err := validate().Struct(req); err != nil {
		writeError(w, r, h.Cfg, fmt.Errorf("op=httpserver.update_user: %w: %v", domain.ErrInvalidArgument, err))
		return
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		writeError(w, r, h.Cfg, fmt.Errorf("op=httpserver.update_user: %w", domain.ErrInvalidArgument))
		return
	}
	ok, err := h.Users.Update(r.Context(), n, domain.User{Name: req.Name, Email: req.Email})
	if err != nil {
		writeError(w, r, h.Cfg, err)
		return
	}
	if !ok {
		writeError(w, r, h.Cfg, fmt.Errorf("op=httpserver.update_user: %w", domain.ErrNotFound))
		return
	}
	if h.UserCache != nil {
		_ = h.UserCache.Invalidate(r.Context(), id, nil)
	}
	writeNoContent(w)
}

// DeleteUser handles DELETE /users/{id}.
func (h *Handlers) DeleteUser(w http.ResponseWriter, r *http.Request, id string) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		writeError(w, r, h.Cfg, fmt.Errorf("op=httpserver.delete_user: %w", domain.ErrInvalidArgument))
		return
	}
	ok, err := h.Users.Delete(r.Context(), n)
	if err != nil {
		writeError(w, r, h.Cfg, err)
		return
	}
	if !ok {
		writeError(w, r, h.Cfg, fmt.Errorf("op=httpserver.delete_user: %w", domain.ErrNotFound))
		return
	}
	if h.UserCache != nil {
		_ = h.UserCache.Invalidate(r.Context(), id, nil)
	}
	writeNoContent(w)
}

func (h *Handlers) cacheUser(r *http.Request, u domain.User) {
	if h.UserCache == nil {
		return
	}
	b, err := json.Marshal(u)
	if err != nil {
		return
	}
	_ = h.UserCache.PutRecord(r.Context(), strconv.FormatInt(u.ID, 10), b, map[string]string{userCacheCols: u.Email})
}

// --- Items ---

// CreateItem handles POST /items.
func (h *Handlers) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req itemCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.Cfg, err)
		return
	}
	if err := validate().Struct(req); err != nil {
		writeError(w, r, h.Cfg, fmt.Errorf("op=httpserver.create_item: %w: %v", domain.ErrInvalidArgument, err))
		return
	}
	id, err := h.Items.Create(r.Context(), domain.Item{SKU: req.SKU, Name: req.Name, Price: req.Price})
	if err != nil {
		writeError(w, r, h.Cfg, err)
		return
	}
	if h.ItemCache != nil {
		_ = h.ItemCache.InvalidateLists(r.Context())
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

// GetItem handles GET /items/{id}.
func (h *Handlers) GetItem(w http.ResponseWriter, r *http.Request, id string) {
	if h.ItemCache != nil {
		if v, hit, err := h.ItemCache.GetRecord(r.Context(), id); err == nil && hit {
			w.Header().Set("X-Cache-Type", "record")
			writeJSON(w, http.StatusOK, json.RawMessage(v))
			return
		}
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		writeError(w, r, h.Cfg, fmt.Errorf("op=httpserver.get_item: %w", domain.ErrInvalidArgument))
		return
	}
	it, err := h.Items.Find(r.Context(), n)
	if err != nil {
		writeError(w, r, h.Cfg, err)
		return
	}
	h.cacheItem(r, it)
	writeJSON(w, http.StatusOK, it)
}

// GetItemBySKU handles GET /items/sku/{sku}.
func (h *Handlers) GetItemBySKU(w http.ResponseWriter, r *http.Request, sku string) {
	if h.ItemCache != nil {
		if v, hit, err := h.ItemCache.GetRecordByColumn(r.Context(), itemCacheCols, sku); err == nil && hit {
			w.Header().Set("X-Cache-Type", "record-col")
			writeJSON(w, http.StatusOK, json.RawMessage(v))
			return
		}
	}
	it, err := h.Items.FindByColumn(r.Context(), "sku", sku)
	if err != nil {
		writeError(w, r, h.Cfg, err)
		return
	}
	h.cacheItem(r, it)
	writeJSON(w, http.StatusOK, it)
}

// ListItems handles GET /items.
func (h *Handlers) ListItems(w http.ResponseWriter, r *http.Request) {
	p := paginationFromQuery(r)
	hash, _ := cacheservice.HashArgs(p)

	if h.ItemCache != nil && hash != "" {
		if v, hit, err := h.ItemCache.GetList(r.Context(), hash); err == nil && hit {
			w.Header().Set("X-Cache-Type", "list")
			writeJSON(w, http.StatusOK, json.RawMessage(v))
			return
		}
	}

	items, err := h.Items.List(r.Context(), p)
	if err != nil {
		writeError(w, r, h.Cfg, err)
		return
	}
	total, err := h.Items.FilteredCount(r.Context(), p.Filters)
	if err != nil {
		writeError(w, r, h.Cfg, err)
		return
	}
	resp := listResponse{Data: items, Page: postgres.PageInfo(total, len(items), p.Limit, p.Offset)}

	if h.ItemCache != nil && hash != "" {
		if b, err := json.Marshal(resp); err == nil {
			_ = h.ItemCache.PutList(r.Context(), hash, b)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// UpdateItem handles PUT /items/{id}.
func (h *Handlers) UpdateItem(w http.ResponseWriter, r *http.Request, id string) {
	var req itemCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.Cfg, err)
		return
	}
	if err := validate().Struct(req); err != nil {
		writeError(w, r, h.Cfg, fmt.Errorf("op=httpserver.update_item: %w: %v", domain.ErrInvalidArgument, err))
		return
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		writeError(w, r, h.Cfg, fmt.Errorf("op=httpserver.update_item: %w", domain.ErrInvalidArgument))
		return
	}
	ok, err := h.Items.Update(r.Context(), n, domain.Item{SKU: req.SKU, Name: req.Name, Price: req.Price})
	if err != nil {
		writeError(w, r, h.Cfg, err)
		return
	}
	if !ok {
		writeError(w, r, h.Cfg, fmt.Errorf("op=httpserver.update_item: %w", domain.ErrNotFound))
		return
	}
	if h.ItemCache != nil {
		_ = h.ItemCache.Invalidate(r.Context(), id, nil)
	}
	writeNoContent(w)
}

// DeleteItem handles DELETE /items/{id}.
func (h *Handlers) DeleteItem(w http.ResponseWriter, r *http.Request, id string) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		writeError(w, r, h.Cfg, fmt.Errorf("op=httpserver.delete_item: %w", domain.ErrInvalidArgument))
		return
	}
	ok, err := h.Items.Delete(r.Context(), n)
	if err != nil {
		writeError(w, r, h.Cfg, err)
		return
	}
	if !ok {
		writeError(w, r, h.Cfg, fmt.Errorf("op=httpserver.delete_item: %w", domain.ErrNotFound))
		return
	}
	if h.ItemCache != nil {
		_ = h.ItemCache.Invalidate(r.Context(), id, nil)
	}
	writeNoContent(w)
}

func (h *Handlers) cacheItem(r *http.Request, it domain.Item) {
	if h.ItemCache == nil {
		return
	}
	b, err := json.Marshal(it)
	if err != nil {
		return
	}
	_ = h.ItemCache.PutRecord(r.Context(), strconv.FormatInt(it.ID, 10), b, map[string]string{itemCacheCols: it.SKU})
}

// --- Async users ---

// CreateUserTaskClass is the container id the async-users surface
// dispatches to (mirrors the finish-log class name in §8 scenario 5).
const CreateUserTaskClass = "task.create_user"

// AsyncCreateUser handles POST /async-users*: it enqueues a CreateUserTask
// envelope onto the in-process channel queue and responds 202 immediately.
func (h *Handlers) AsyncCreateUser(w http.ResponseWriter, r *http.Request) {
	var req userCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.Cfg, err)
		return
	}
	if err := validate().Struct(req); err != nil {
		writeError(w, r, h.Cfg, fmt.Errorf("op=httpserver.async_create_user: %w: %v", domain.ErrInvalidArgument, err))
		return
	}

	if allowed, retryAfter, _ := h.Limiter.Allow(r.Context(), "async_create_user:"+req.Email, 1); !allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
		writeError(w, r, h.Cfg, fmt.Errorf("op=httpserver.async_create_user: %w", domain.ErrRateLimited))
		return
	}

	id := ulid.Make()
	jobID := hex.EncodeToString(id[8:])
	env := envelope.New(CreateUserTaskClass, jobID, req.Name, req.Email)
	if !h.Queue.Push(env) {
		writeError(w, r, h.Cfg, fmt.Errorf("op=httpserver.async_create_user: queue full: %w", domain.ErrInternal))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"message": "accepted",
		"jobId":   jobID,
		"result":  nil,
	})
}

// --- helpers ---

type listResponse struct {
	Data any             `json:"data"`
	Page domain.PageInfo `json:"page"`
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("op=httpserver.decode_json: %w: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}

func paginationFromQuery(r *http.Request) domain.Pagination {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit == 0 {
		limit = 20
	}
	offset, hasOffset := 0, q.Has("offset")
	if hasOffset {
		offset, _ = strconv.Atoi(q.Get("offset"))
	} else if page, _ := strconv.Atoi(q.Get("page")); page > 1 {
		offset = (page - 1) * limit
	}

	filters := map[string]string{}
	for _, key := range []string{"name", "email", "sku"} {
		if v := q.Get(key); v != "" {
			filters[key] = v
		}
	}

	limit, offset = postgres.BindPagination(limit, offset)

	return domain.Pagination{
		Limit:   limit,
		Offset:  offset,
		SortBy:  q.Get("sortBy"),
		SortDir: q.Get("sortDirection"),
		Filters: filters,
	}
}
