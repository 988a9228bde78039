// Package app wires application components and startup helpers: config,
// pools, the DI container, the worker lifecycle, and the request pipeline.
package app

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/fairyhunter13/runtime-core/internal/adapter/httpserver"
	"github.com/fairyhunter13/runtime-core/internal/adapter/observability"
	"github.com/fairyhunter13/runtime-core/internal/config"
	"github.com/fairyhunter13/runtime-core/internal/domain"
	"github.com/fairyhunter13/runtime-core/internal/pipeline/container"
	"github.com/fairyhunter13/runtime-core/internal/pipeline/middleware"
	"github.com/fairyhunter13/runtime-core/internal/pipeline/router"
	"github.com/fairyhunter13/runtime-core/internal/worker"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming
// spaces. If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// buildDomainRoutes registers every §6 HTTP route against the
// regex-compiled router, action strings resolved by dispatch against h.
func buildDomainRoutes() *router.Router {
	r := router.New()

	r.Add("GET", "/users/email/{email}", "users.get_by_email")
	r.Add("GET", "/items/sku/{sku}", "items.get_by_sku")

	r.Add("GET", "/users", "users.list")
	r.Add("POST", "/users", "users.create")
	r.Add("GET", "/users/{id}", "users.get")
	r.Add("PUT", "/users/{id}", "users.update")
	r.Add("DELETE", "/users/{id}", "users.delete")

	r.Add("GET", "/items", "items.list")
	r.Add("POST", "/items", "items.create")
	r.Add("GET", "/items/{id}", "items.get")
	r.Add("PUT", "/items/{id}", "items.update")
	r.Add("DELETE", "/items/{id}", "items.delete")

	r.Add("POST", "/async-users", "users.async_create")
	r.Add("PUT", "/async-users", "users.async_create")
	r.Add("DELETE", "/async-users", "users.async_create")

	return r
}

// dispatchTable maps action strings to handlers that take path params.
func dispatchTable(h *httpserver.Handlers) map[string]func(w http.ResponseWriter, r *http.Request, params map[string]string) {
	return map[string]func(w http.ResponseWriter, r *http.Request, params map[string]string){
		"users.list":          func(w http.ResponseWriter, r *http.Request, p map[string]string) { h.ListUsers(w, r) },
		"users.create":        func(w http.ResponseWriter, r *http.Request, p map[string]string) { h.CreateUser(w, r) },
		"users.get":           func(w http.ResponseWriter, r *http.Request, p map[string]string) { h.GetUser(w, r, p["id"]) },
		"users.get_by_email":  func(w http.ResponseWriter, r *http.Request, p map[string]string) { h.GetUserByEmail(w, r, p["email"]) },
		"users.update":        func(w http.ResponseWriter, r *http.Request, p map[string]string) { h.UpdateUser(w, r, p["id"]) },
		"users.delete":        func(w http.ResponseWriter, r *http.Request, p map[string]string) { h.DeleteUser(w, r, p["id"]) },
		"users.async_create":  func(w http.ResponseWriter, r *http.Request, p map[string]string) { h.AsyncCreateUser(w, r) },
		"items.list":          func(w http.ResponseWriter, r *http.Request, p map[string]string) { h.ListItems(w, r) },
		"items.create":        func(w http.ResponseWriter, r *http.Request, p map[string]string) { h.CreateItem(w, r) },
		"items.get":           func(w http.ResponseWriter, r *http.Request, p map[string]string) { h.GetItem(w, r, p["id"]) },
		"items.get_by_sku":    func(w http.ResponseWriter, r *http.Request, p map[string]string) { h.GetItemBySKU(w, r, p["sku"]) },
		"items.update":        func(w http.ResponseWriter, r *http.Request, p map[string]string) { h.UpdateItem(w, r, p["id"]) },
		"items.delete":        func(w http.ResponseWriter, r *http.Request, p map[string]string) { h.DeleteItem(w, r, p["id"]) },
	}
}

// Dispatcher is the terminal handler of the global middleware chain
// (§4.3): it gates on worker readiness, matches the compiled router, and
// invokes the resolved action. No route-scoped chain runs between the match and the action; a route's
// Middleware ids are stored but not executed.
type Dispatcher struct {
	Routes   *router.Router
	Actions  map[string]func(w http.ResponseWriter, r *http.Request, params map[string]string)
	Lifecycle *worker.Lifecycle
	Cfg      config.Config
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := worker.ReadyChecker(r.Context(), d.Lifecycle, d.Cfg.WorkerReadyTimeout, d.Cfg.WorkerReadyPoll); err != nil {
		httpWriteSimpleError(w, err)
		return
	}

	route, params, err := d.Routes.Lookup(r.Method, r.URL.Path)
	if err != nil {
		httpWriteSimpleError(w, err)
		return
	}
	if holder := observability.RouteTemplateFrom(r.Context()); holder != nil {
		holder.Template = route.Template
	}
	action, ok := d.Actions[route.Action]
	if !ok {
		httpWriteSimpleError(w, fmt.Errorf("app: unregistered action %q", route.Action))
		return
	}
	action(w, r, params)
}

// httpWriteSimpleError is used only for pipeline-gate failures (not-ready,
// route-not-found) that occur before a *httpserver.Handlers-scoped error
// writer (which needs config for prod/non-prod detail) is reachable; it
// mirrors the same §7 envelope shape using sane defaults.
func httpWriteSimpleError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	status := domain.StatusCode(err)
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q,"code":%d}`, err.Error(), status)
}

// BuildPipeline constructs the full request pipeline (§4.3 → §4.2 → §4.4)
// on top of the domain handlers: a global middleware chain terminating in
// the router match, and a route-scoped chain terminating in the
// dispatcher.
func BuildPipeline(cfg config.Config, c *container.Container, lc *worker.Lifecycle, h *httpserver.Handlers, health *httpserver.HealthHandlers) http.Handler {
	routes := buildDomainRoutes()
	routes.Add("GET", "/", "sys.banner")
	routes.Add("GET", "/health", "sys.health")
	routes.Add("GET", "/health.html", "sys.health_html")
	routes.Add("GET", "/metrics", "sys.metrics")
	routes.Add("GET", "/debug/pools", "sys.debug_pools")
	routes.Add("GET", "/debug/cache", "sys.debug_cache")

	actions := dispatchTable(h)
	actions["sys.banner"] = func(w http.ResponseWriter, r *http.Request, p map[string]string) { health.Banner(w, r) }
	actions["sys.health"] = func(w http.ResponseWriter, r *http.Request, p map[string]string) { health.Health(w, r) }
	actions["sys.health_html"] = func(w http.ResponseWriter, r *http.Request, p map[string]string) { health.HealthHTML(w, r) }
	actions["sys.metrics"] = func(w http.ResponseWriter, r *http.Request, p map[string]string) {
		promhttp.Handler().ServeHTTP(w, r)
	}
	actions["sys.debug_pools"] = func(w http.ResponseWriter, r *http.Request, p map[string]string) { health.DebugPools(w, r) }
	actions["sys.debug_cache"] = func(w http.ResponseWriter, r *http.Request, p map[string]string) { health.DebugCache(w, r) }

	dispatcher := &Dispatcher{Routes: routes, Actions: actions, Lifecycle: lc, Cfg: cfg}

	global := middleware.Global(ParseOrigins(cfg.CORSAllowOrigins), cfg.RateLimitPerMin)

	pipeline := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		global.Handle(w, r, c, dispatcher)
	})

	// Ambient stack outside the domain pipeline: panic recovery, request id
	// / tracing correlation, a hard per-request deadline, and metrics.
	var handler http.Handler = pipeline
	handler = observability.HTTPMetricsMiddleware(handler)
	handler = httpserver.RequestID()(handler)
	handler = httpserver.TimeoutMiddleware(30 * time.Second)(handler)
	handler = httpserver.TraceMiddleware(handler)
	handler = httpserver.Recoverer()(handler)
	return handler
}
