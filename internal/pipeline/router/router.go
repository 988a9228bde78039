// Package router implements the regex-compiled HTTP router (§4.2): routes
// are registered in order, matched by iterating that method's list, and the
// first matching regex wins, with named parameters extracted into a map.
package router

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/fairyhunter13/runtime-core/internal/domain"
)

var paramPattern = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// Route is a compiled route descriptor.
type Route struct {
	Method     string
	Template   string
	Action     string
	Middleware []string
	regex      *regexp.Regexp
	paramNames []string
}

// Match is the result of a successful match: the descriptor plus extracted
// path parameters.
type Match struct {
	Route  *Route
	Params map[string]string
}

// Router holds the compiled route table, grouped by upper-cased method.
type Router struct {
	routes map[string][]*Route
}

// New builds an empty Router.
func New() *Router {
	return &Router{routes: make(map[string][]*Route)}
}

// Add compiles path (a template like "/users/{id}") into a regex and
// appends it to method's route list. Registration order is preserved, so
// static prefixes registered before parametric fragments match first.
func (r *Router) Add(method, path, action string, mw ...string) *Route {
	method = strings.ToUpper(method)
	names := []string{}
	pattern := paramPattern.ReplaceAllStringFunc(path, func(seg string) string {
		name := seg[1 : len(seg)-1]
		names = append(names, name)
		return fmt.Sprintf("(?P<%s>[^/]+)", name)
	})
	re := regexp.MustCompile("^" + pattern + "$")

	route := &Route{
		Method:     method,
		Template:   path,
		Action:     action,
		Middleware: mw,
		regex:      re,
		paramNames: names,
	}
	r.routes[method] = append(r.routes[method], route)
	return route
}

// Match extracts the path from uri (stripping any query string), iterates
// method's routes in registration order and returns the first matching
// descriptor with its extracted named parameters. Matching is case-sensitive
// on path but the method is upper-cased before lookup.
func (r *Router) Match(method, uri string) (*Match, error) {
	method = strings.ToUpper(method)
	path := uri
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}

	for _, route := range r.routes[method] {
		m := route.regex.FindStringSubmatch(path)
		if m == nil {
			continue
		}
		params := make(map[string]string, len(route.paramNames))
		for _, name := range route.paramNames {
			idx := route.regex.SubexpIndex(name)
			if idx >= 0 && idx < len(m) {
				params[name] = m[idx]
			}
		}
		return &Match{Route: route, Params: params}, nil
	}
	return nil, fmt.Errorf("op=router.match: %w: %s %s", domain.ErrRouteNotFound, method, path)
}

// Lookup is like Match but intended for metrics labeling: it returns the
// matched descriptor (carrying the template path) without any handler
// invocation implied by the caller.
func (r *Router) Lookup(method, uri string) (*Route, map[string]string, error) {
	m, err := r.Match(method, uri)
	if err != nil {
		return nil, nil, err
	}
	return m.Route, m.Params, nil
}

// MethodNotAllowed reports whether uri matches some route under a
// different method, useful for producing a 405 instead of a bare 404.
func (r *Router) MethodNotAllowed(method, uri string) bool {
	method = strings.ToUpper(method)
	path := uri
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	for m, routes := range r.routes {
		if m == method {
			continue
		}
		for _, route := range routes {
			if route.regex.MatchString(path) {
				return true
			}
		}
	}
	return false
}

// StatusForErr maps a router-produced error to its HTTP status, matching
// domain.StatusCode for RouteNotFound.
func StatusForErr(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return domain.StatusCode(err)
}
