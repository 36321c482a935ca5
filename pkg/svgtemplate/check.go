package svgtemplate

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"golang.org/x/net/html"

	"github.com/polisai/ogis/pkg/domain"
)

// CheckStructure verifies the contract the engine relies on for the given
// image slots: each slot element holds exactly one geometry shape, slots never
// nest, and every slot is closed.
func CheckStructure(template []byte, slots ...string) error {
	isSlot := make(map[string]struct{}, len(slots))
	for _, id := range slots {
		isSlot[id] = struct{}{}
	}

	var (
		open   string
		depth  int
		shapes int
	)

	z := html.NewTokenizer(bytes.NewReader(template))
	z.AllowCDATA(true)
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if !errors.Is(z.Err(), io.EOF) {
				return fmt.Errorf("svgtemplate: tokenize: %v: %w", z.Err(), domain.ErrMalformedTemplate)
			}
			if open != "" {
				return fmt.Errorf("svgtemplate: slot %q is not closed: %w", open, domain.ErrMalformedTemplate)
			}
			return nil

		case html.StartTagToken, html.SelfClosingTagToken:
			tag := readTag(z, tt == html.SelfClosingTagToken)
			_, slot := isSlot[tag.id]

			if open != "" {
				if slot {
					return fmt.Errorf("svgtemplate: slot %q nested inside %q: %w", tag.id, open, domain.ErrMalformedTemplate)
				}
				if tag.name == geometryShape {
					shapes++
					if _, err := parseGeometry(tag.attrs); err != nil {
						return fmt.Errorf("svgtemplate: slot %q: %w", open, err)
					}
				}
				if !tag.selfClosing {
					depth++
				}
				continue
			}

			if !slot {
				continue
			}
			if tag.selfClosing {
				if tag.name != geometryShape {
					return fmt.Errorf("svgtemplate: slot %q has no %s: %w", tag.id, geometryShape, domain.ErrMalformedTemplate)
				}
				if _, err := parseGeometry(tag.attrs); err != nil {
					return fmt.Errorf("svgtemplate: slot %q: %w", tag.id, err)
				}
				continue
			}
			open, depth, shapes = tag.id, 1, 0

		case html.EndTagToken:
			if open == "" {
				continue
			}
			depth--
			if depth > 0 {
				continue
			}
			if shapes != 1 {
				return fmt.Errorf("svgtemplate: slot %q has %d %s elements, want 1: %w", open, shapes, geometryShape, domain.ErrMalformedTemplate)
			}
			open = ""
		}
	}
}
