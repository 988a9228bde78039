package router_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/runtime-core/internal/domain"
	"github.com/fairyhunter13/runtime-core/internal/pipeline/router"
)

func TestRouter_MatchesStaticBeforeParametric(t *testing.T) {
	r := router.New()
	r.Add("GET", "/users/email/{email}", "users.byEmail")
	r.Add("GET", "/users/{id}", "users.byID")

	m, err := r.Match("GET", "/users/email/a@b.com")
	require.NoError(t, err)
	assert.Equal(t, "users.byEmail", m.Route.Action)
	assert.Equal(t, "a@b.com", m.Params["email"])
}

func TestRouter_ExtractsParams(t *testing.T) {
	r := router.New()
	r.Add("GET", "/items/{id}", "items.get")

	m, err := r.Match("GET", "/items/42")
	require.NoError(t, err)
	assert.Equal(t, "42", m.Params["id"])
}

func TestRouter_StripsQueryString(t *testing.T) {
	r := router.New()
	r.Add("GET", "/users", "users.list")

	m, err := r.Match("GET", "/users?limit=10&offset=0")
	require.NoError(t, err)
	assert.Equal(t, "users.list", m.Route.Action)
}

func TestRouter_CaseInsensitiveMethod(t *testing.T) {
	r := router.New()
	r.Add("get", "/users", "users.list")

	_, err := r.Match("GET", "/users")
	require.NoError(t, err)
}

func TestRouter_NoMatchFails(t *testing.T) {
	r := router.New()
	r.Add("GET", "/users", "users.list")

	_, err := r.Match("GET", "/nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRouteNotFound))
	assert.Equal(t, 404, domain.StatusCode(err))
}

func TestRouter_FirstRegisteredWins(t *testing.T) {
	r := router.New()
	r.Add("GET", "/users/{id}", "first")
	r.Add("GET", "/users/{slug}", "second")

	m, err := r.Match("GET", "/users/abc")
	require.NoError(t, err)
	assert.Equal(t, "first", m.Route.Action)
}
