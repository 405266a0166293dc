// Package pagination parses page/per_page query parameters for the admin
// API list endpoints and shapes their responses.
package pagination

import (
	"net/http"
	"strconv"
)

// Params represents pagination parameters
type Params struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Limit   int `json:"-"` // Calculated from PerPage
	Offset  int `json:"-"` // Calculated from Page and PerPage
}

// Response is one page of results. Stores do not count rows, so HasMore is
// inferred from a full page.
type Response[T any] struct {
	Page    int  `json:"page"`
	PerPage int  `json:"per_page"`
	HasMore bool `json:"has_more"`
	Results []T  `json:"results"`
}

// DefaultPerPage is the default number of items per page
const DefaultPerPage = 20

// MaxPerPage is the maximum allowed items per page
const MaxPerPage = 100

// ParseParams extracts pagination parameters from HTTP request
func ParseParams(r *http.Request) Params {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}

	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}

	return Params{
		Page:    page,
		PerPage: perPage,
		Limit:   perPage,
		Offset:  (page - 1) * perPage,
	}
}

// NewResponse wraps results fetched with p. A nil slice is reported as empty.
func NewResponse[T any](results []T, p Params) Response[T] {
	if results == nil {
		results = []T{}
	}
	return Response[T]{
		Page:    p.Page,
		PerPage: p.PerPage,
		HasMore: len(results) >= p.PerPage,
		Results: results,
	}
}
