package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessage(t *testing.T) {
	err := NotFound("project", "abc123")
	assert.Equal(t, "project abc123 not found", err.Error())

	wrapped := Storage("insert log", errors.New("disk full")).WithCause(errors.New("disk full"))
	assert.Contains(t, wrapped.Error(), "disk full")
}

func TestCategoryHTTPStatus(t *testing.T) {
	assert.Equal(t, 404, NotFound("session", "x").HTTPStatus())
	assert.Equal(t, 409, Conflict("sync already enabled").HTTPStatus())
	assert.Equal(t, 503, Spawn("spawn failed", nil).HTTPStatus())
	assert.Equal(t, 400, Parse("bad yaml", nil).HTTPStatus())
	assert.Equal(t, 500, Wrap(errors.New("boom"), "unexpected").HTTPStatus())
}

func TestAsUnwraps(t *testing.T) {
	base := NotFound("group", "g1")
	wrapped := errors.New("context: " + base.Error())
	var target *Error
	require.False(t, As(wrapped, &target))

	var target2 *Error
	require.True(t, As(error(base), &target2))
	assert.Equal(t, CodeNotFound, target2.Code)

	var target3 *Error
	require.True(t, As(fmt.Errorf("context: %w", base), &target3))
	assert.Equal(t, CodeNotFound, target3.Code)
}

func TestIsMatchesByCode(t *testing.T) {
	a := NotFound("project", "p1")
	b := NotFound("project", "p2")
	assert.True(t, a.Is(b))
	assert.False(t, a.Is(Conflict("x")))
}
