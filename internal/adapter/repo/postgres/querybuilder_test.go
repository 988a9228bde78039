package postgres

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/runtime-core/internal/domain"
)

func TestWhereBuilder_BuildsDeterministicFragment(t *testing.T) {
	wb := NewWhereBuilder(map[string]FieldSpec{
		"name":  {Column: "name", Kind: Like},
		"email": {Column: "email", Kind: Exact},
	})

	frag, args, err := wb.Build(map[string]string{"email": "a@b.com", "name": "ann"}, 1)
	require.NoError(t, err)
	assert.Equal(t, "email = $1 AND name LIKE $2", frag)
	assert.Equal(t, []any{"a@b.com", "%ann%"}, args)
}

func TestWhereBuilder_UnknownFieldFails(t *testing.T) {
	wb := NewWhereBuilder(map[string]FieldSpec{"name": {Column: "name", Kind: Exact}})
	_, _, err := wb.Build(map[string]string{"bogus": "x"}, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
}

func TestOrderByBuilder_DefaultsToDESC(t *testing.T) {
	ob := NewOrderByBuilder(map[string]string{"id": "id"})
	frag, err := ob.Build("id", "", "id")
	require.NoError(t, err)
	assert.Equal(t, "id DESC", frag)
}

func TestOrderByBuilder_CoercesAscDirection(t *testing.T) {
	ob := NewOrderByBuilder(map[string]string{"id": "id"})
	frag, err := ob.Build("id", "asc", "id")
	require.NoError(t, err)
	assert.Equal(t, "id ASC", frag)
}

func TestOrderByBuilder_UnknownColumnFails(t *testing.T) {
	ob := NewOrderByBuilder(map[string]string{"id": "id"})
	_, err := ob.Build("bogus", "ASC", "id")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
}

func TestBindPagination_ClampsLimitAndOffset(t *testing.T) {
	limit, offset := BindPagination(0, -5)
	assert.Equal(t, 20, limit)
	assert.Equal(t, 0, offset)

	limit, offset = BindPagination(500, 10)
	assert.Equal(t, 100, limit)
	assert.Equal(t, 10, offset)
}

func TestPageInfo_ComputesTotalPages(t *testing.T) {
	pi := PageInfo(101, 10, 10, 0)
	assert.Equal(t, 11, pi.TotalPages)
	assert.Equal(t, 1, pi.CurrentPage)

	pi = PageInfo(101, 10, 10, 20)
	assert.Equal(t, 3, pi.CurrentPage)
}
