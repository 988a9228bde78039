package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fairyhunter13/runtime-core/internal/adapter/observability"
	"github.com/fairyhunter13/runtime-core/internal/config"
	"github.com/fairyhunter13/runtime-core/internal/pool"
	"github.com/fairyhunter13/runtime-core/internal/sharedtable"
	"github.com/fairyhunter13/runtime-core/internal/worker"
)

// ReadinessCheck probes one backend dependency and reports whether it is
// reachable; built by app.BuildReadinessChecks and threaded in here so
// this package doesn't import app (which itself imports httpserver).
type ReadinessCheck func(ctx context.Context) error

// HealthHandlers serves the banner, health, and health.html endpoints
// (§6): they read the shared worker registry and cache table directly,
// since both are process-wide state any worker may report on.
type HealthHandlers struct {
	Cfg       config.Config
	Registry  *worker.Registry
	Cache     *sharedtable.Table
	RDB       *pool.RDBPool
	KV        *pool.KVPool
	DBCheck   ReadinessCheck
	KVCheck   ReadinessCheck
	StartedAt time.Time
}

type healthBody struct {
	OK           bool              `json:"ok"`
	Uptime       string            `json:"uptime"`
	Ts           int64             `json:"ts"`
	Pid          int               `json:"pid"`
	WorkersCount int               `json:"workers_count"`
	Workers      []workerView      `json:"workers"`
	Cache        cacheOverview     `json:"cache"`
	CacheCount   int               `json:"cacheCount"`
	CacheData    []cacheRowView    `json:"cacheData"`
	Dependencies map[string]string `json:"dependencies"`
	Server       serverView        `json:"server"`
}

type workerView struct {
	ID             string `json:"id"`
	Pid            int    `json:"pid"`
	FirstHeartbeat string `json:"first_heartbeat"`
	LastHeartbeat  string `json:"last_heartbeat"`
	Alive          bool   `json:"alive"`
}

type cacheOverview struct {
	Capacity  int `json:"capacity"`
	Available int `json:"available"`
}

type cacheRowView struct {
	Key       string `json:"key"`
	ExpiresAt string `json:"expires_at"`
	Usage     int64  `json:"usage"`
}

type serverView struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Env  string `json:"env"`
}

// Banner handles GET /.
func (h *HealthHandlers) Banner(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "runtime-core",
		"ok":      true,
	})
}

// Health handles GET /health.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.build())
}

// HealthHTML handles GET /health.html.
func (h *HealthHandlers) HealthHTML(w http.ResponseWriter, r *http.Request) {
	b := h.build()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "<html><body><h1>%s</h1><p>ok=%v uptime=%s workers=%d</p></body></html>",
		"service health", b.OK, b.Uptime, b.WorkersCount)
}

// DebugPools handles GET /debug/pools: per-pool capacity/available/created/
// in-use accounting beyond what /health summarizes, guarded to non-production
// environments since it exposes internal sizing detail.
func (h *HealthHandlers) DebugPools(w http.ResponseWriter, r *http.Request) {
	if h.Cfg.IsProd() {
		http.NotFound(w, r)
		return
	}
	breakers := make(map[string]string)
	for name, cb := range observability.GetAll() {
		breakers[name] = cb.GetState().String()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rdb":              h.RDB.Stats(),
		"kv":               h.KV.Stats(),
		"circuit_breakers": breakers,
	})
}

// DebugCache handles GET /debug/cache: the full shared cache table snapshot
// (key, expiry, hit count), guarded to non-production environments.
func (h *HealthHandlers) DebugCache(w http.ResponseWriter, r *http.Request) {
	if h.Cfg.IsProd() {
		http.NotFound(w, r)
		return
	}
	var rows []cacheRowView
	if h.Cache != nil {
		for k, e := range h.Cache.Snapshot() {
			rows = append(rows, cacheRowView{Key: k, ExpiresAt: e.ExpiresAt.Format(time.RFC3339), Usage: e.Usage})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"capacity": h.Cfg.CacheTableCapacity,
		"count":    len(rows),
		"entries":  rows,
	})
}

func depStatus(err error) string {
	if err != nil {
		return "error: " + err.Error()
	}
	return "ok"
}

func (h *HealthHandlers) build() healthBody {
	now := time.Now()
	rows := h.Registry.List()
	views := make([]workerView, 0, len(rows))
	for _, row := range rows {
		views = append(views, workerView{
			ID:             row.ID,
			Pid:            row.PID,
			FirstHeartbeat: row.FirstHeartbeat.Format(time.RFC3339),
			LastHeartbeat:  row.LastHeartbeat.Format(time.RFC3339),
			Alive:          row.Alive(now, h.Cfg.HeartbeatAliveWindow),
		})
	}

	cache := cacheOverview{Capacity: h.Cfg.CacheTableCapacity}
	var cacheRows []cacheRowView
	if h.Cache != nil {
		snap := h.Cache.Snapshot()
		cache.Available = len(snap)
		for k, e := range snap {
			cacheRows = append(cacheRows, cacheRowView{Key: k, ExpiresAt: e.ExpiresAt.Format(time.RFC3339), Usage: e.Usage})
		}
	}

	deps := map[string]string{}
	checkCtx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if h.DBCheck != nil {
		deps["db"] = depStatus(h.DBCheck(checkCtx))
	}
	if h.KVCheck != nil {
		deps["kv"] = depStatus(h.KVCheck(checkCtx))
	}

	return healthBody{
		OK:           true,
		Uptime:       now.Sub(h.StartedAt).String(),
		Ts:           now.Unix(),
		Pid:          os.Getpid(),
		WorkersCount: len(views),
		Workers:      views,
		Cache:        cache,
		CacheCount:   len(cacheRows),
		CacheData:    cacheRows,
		Dependencies: deps,
		Server: serverView{
			Host: h.Cfg.Host,
			Port: h.Cfg.Port,
			Env:  h.Cfg.AppEnv,
		},
	}
}
