package pagination

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseParams(t *testing.T) {
	p := ParseParams(httptest.NewRequest("GET", "/x?page=3&per_page=10", nil))
	assert.Equal(t, Params{Page: 3, PerPage: 10, Limit: 10, Offset: 20}, p)

	p = ParseParams(httptest.NewRequest("GET", "/x?page=-1&per_page=1000", nil))
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, MaxPerPage, p.PerPage)
	assert.Equal(t, 0, p.Offset)

	p = ParseParams(httptest.NewRequest("GET", "/x", nil))
	assert.Equal(t, DefaultPerPage, p.PerPage)
}

func TestNewResponse(t *testing.T) {
	p := Params{Page: 1, PerPage: 2, Limit: 2}
	assert.True(t, NewResponse([]int{1, 2}, p).HasMore)
	assert.False(t, NewResponse([]int{1}, p).HasMore)

	empty := NewResponse[int](nil, p)
	assert.NotNil(t, empty.Results)
	assert.False(t, empty.HasMore)
}
