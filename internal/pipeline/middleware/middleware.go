// Package middleware implements the composable request pipeline (§4.3): an
// ordered chain of middleware, each of which may short-circuit by not
// calling next. app.BuildPipeline runs a single global chain whose
// terminal handler is the dispatcher (route match, then action); no
// route-scoped chain is built.
package middleware

import (
	"net/http"

	"github.com/fairyhunter13/runtime-core/internal/pipeline/container"
)

// Middleware is one link in the chain. next advances the chain; if it is
// never called, the chain short-circuits at this link.
type Middleware func(w http.ResponseWriter, r *http.Request, c *container.Container, next http.Handler)

// Chain is an ordered sequence of middleware.
type Chain struct {
	links []Middleware
}

// New builds a Chain from an ordered list of middleware.
func New(links ...Middleware) *Chain {
	return &Chain{links: links}
}

// Append returns a new Chain with extra appended after the receiver's links.
// The receiver is left unchanged.
func (ch *Chain) Append(extra ...Middleware) *Chain {
	out := make([]Middleware, 0, len(ch.links)+len(extra))
	out = append(out, ch.links...)
	out = append(out, extra...)
	return &Chain{links: out}
}

// Handle runs the chain against a single request, invoking final after
// every middleware has called next.
func (ch *Chain) Handle(w http.ResponseWriter, r *http.Request, c *container.Container, final http.Handler) {
	var run func(i int) http.Handler
	run = func(i int) http.Handler {
		if i >= len(ch.links) {
			return final
		}
		link := ch.links[i]
		nextHandler := run(i + 1)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			link(w, r, c, nextHandler)
		})
	}
	run(0).ServeHTTP(w, r)
}
