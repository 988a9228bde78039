package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fairyhunter13/runtime-core/internal/pipeline/container"
	"github.com/fairyhunter13/runtime-core/internal/pipeline/middleware"
)

func TestChain_ShortCircuitSkipsFinal(t *testing.T) {
	var calledFinal bool
	short := func(w http.ResponseWriter, r *http.Request, c *container.Container, next http.Handler) {
		w.WriteHeader(http.StatusForbidden)
	}
	chain := middleware.New(short)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	chain.Handle(rec, req, container.New(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calledFinal = true
	}))

	assert.False(t, calledFinal)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestChain_RunsInOrderThenFinal(t *testing.T) {
	var order []string
	m1 := func(w http.ResponseWriter, r *http.Request, c *container.Container, next http.Handler) {
		order = append(order, "m1")
		next.ServeHTTP(w, r)
	}
	m2 := func(w http.ResponseWriter, r *http.Request, c *container.Container, next http.Handler) {
		order = append(order, "m2")
		next.ServeHTTP(w, r)
	}
	chain := middleware.New(m1, m2)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	chain.Handle(rec, req, container.New(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "final")
	}))

	assert.Equal(t, []string{"m1", "m2", "final"}, order)
}

func TestCORS_OptionsShortCircuitsWith204(t *testing.T) {
	chain := middleware.New(middleware.NewCORS([]string{"*"}))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")

	var calledFinal bool
	chain.Handle(rec, req, container.New(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calledFinal = true
	}))

	assert.False(t, calledFinal)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAppend_BuildsRouteScopedChainOnTopOfGlobal(t *testing.T) {
	var order []string
	g := middleware.New(func(w http.ResponseWriter, r *http.Request, c *container.Container, next http.Handler) {
		order = append(order, "global")
		next.ServeHTTP(w, r)
	})
	scoped := g.Append(func(w http.ResponseWriter, r *http.Request, c *container.Container, next http.Handler) {
		order = append(order, "route")
		next.ServeHTTP(w, r)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	scoped.Handle(rec, req, container.New(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "final")
	}))

	assert.Equal(t, []string{"global", "route", "final"}, order)
}
