package server

import (
	"fmt"
	"net/url"

	"github.com/polisai/ogis/pkg/domain"
)

// Params is one render request. URL fields left empty leave their slot
// without an image.
type Params struct {
	Title       string
	Description string
	Subtitle    string
	Logo        string
	Image       string
	// Supplied reports whether the request named any field at all.
	Supplied bool
}

// Defaults are the texts used when a request supplies no fields.
type Defaults struct {
	Title       string
	Description string
	Subtitle    string
}

var queryKeys = []string{"title", "description", "subtitle", "logo", "image"}

// ParamsFromQuery reads render parameters from a query string.
func ParamsFromQuery(q url.Values) Params {
	p := Params{
		Title:       q.Get("title"),
		Description: q.Get("description"),
		Subtitle:    q.Get("subtitle"),
		Logo:        q.Get("logo"),
		Image:       q.Get("image"),
	}
	for _, key := range queryKeys {
		if q.Has(key) {
			p.Supplied = true
			break
		}
	}
	return p
}

// Validate rejects any field longer than maxLength bytes.
func (p Params) Validate(maxLength int) error {
	fields := []struct {
		label string
		value string
	}{
		{"Title", p.Title},
		{"Description", p.Description},
		{"Subtitle", p.Subtitle},
		{"Logo URL", p.Logo},
		{"Image URL", p.Image},
	}
	for _, f := range fields {
		if len(f.value) > maxLength {
			return &domain.DomainError{
				Err:     domain.ErrInvalidInput,
				Code:    CodeInvalidInput,
				Message: fmt.Sprintf("%s exceeds maximum length of %d", f.label, maxLength),
			}
		}
	}
	return nil
}

// WithDefaults fills the text fields from d when the request supplied
// nothing. A request naming any field keeps its missing texts empty.
func (p Params) WithDefaults(d Defaults) Params {
	if p.Supplied {
		return p
	}
	p.Title = d.Title
	p.Description = d.Description
	p.Subtitle = d.Subtitle
	return p
}
