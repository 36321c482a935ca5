package svgtemplate

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"

	"golang.org/x/net/html"

	"github.com/polisai/ogis/pkg/domain"
)

// Element ids of the default template.
const (
	IDTitle       = "ogis_title"
	IDDescription = "ogis_description"
	IDSubtitle    = "ogis_subtitle"
	IDLogo        = "ogis_logo"
	IDImage       = "ogis_image"
)

// DefaultImageSlots are the image groups of the default template.
var DefaultImageSlots = []string{IDLogo, IDImage}

// geometryShape is the element whose attributes define an image group's box.
const geometryShape = "rect"

//go:embed templates/twilight.svg
var defaultTemplate []byte

// Engine rewrites a fixed SVG template according to a directive table. An
// Engine is immutable and safe for concurrent use; each Render owns its state.
type Engine struct {
	name     string
	template []byte
	slots    map[string]struct{}
}

// Option customizes an Engine.
type Option func(*Engine)

// WithImageSlots declares the ids of image groups. A slot without a directive
// is removed from the output.
func WithImageSlots(ids ...string) Option {
	return func(e *Engine) {
		e.slots = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			e.slots[id] = struct{}{}
		}
	}
}

// WithName labels the engine for logs and metrics.
func WithName(name string) Option {
	return func(e *Engine) {
		e.name = name
	}
}

// New builds an engine over template after checking that every image slot
// holds exactly one geometry shape and that slots do not nest.
func New(template []byte, opts ...Option) (*Engine, error) {
	e := &Engine{name: "custom", template: bytes.Clone(template)}
	WithImageSlots(DefaultImageSlots...)(e)
	for _, opt := range opts {
		opt(e)
	}
	if err := CheckStructure(e.template, e.slotIDs()...); err != nil {
		return nil, err
	}
	return e, nil
}

// Default returns the engine for the embedded template.
func Default() *Engine {
	e, err := New(defaultTemplate, WithName("twilight"))
	if err != nil {
		panic(fmt.Sprintf("svgtemplate: embedded template: %v", err))
	}
	return e
}

// Name returns the engine label.
func (e *Engine) Name() string { return e.name }

func (e *Engine) slotIDs() []string {
	ids := make([]string, 0, len(e.slots))
	for id := range e.slots {
		ids = append(ids, id)
	}
	return ids
}

func (e *Engine) isSlot(id string) bool {
	_, ok := e.slots[id]
	return ok
}

// Render streams the template once and returns the rewritten markup. Unknown
// ids pass through untouched. On error no output is returned.
func (e *Engine) Render(table domain.DirectiveTable) ([]byte, error) {
	r := &renderer{engine: e, table: table}
	r.out.Grow(len(e.template) + 1024)

	z := html.NewTokenizer(bytes.NewReader(e.template))
	z.AllowCDATA(true)

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if errors.Is(z.Err(), io.EOF) {
				break
			}
			return nil, fmt.Errorf("svgtemplate: tokenize: %v: %w", z.Err(), domain.ErrMalformedTemplate)
		}

		var err error
		switch tt {
		case html.StartTagToken:
			err = r.start(readTag(z, false))
		case html.SelfClosingTagToken:
			err = r.selfClosing(readTag(z, true))
		case html.EndTagToken:
			r.end(z.Raw())
		default:
			r.other(z.Raw())
		}
		if err != nil {
			return nil, err
		}
	}

	if r.state.Suppressing() {
		if id := r.state.Pending(); id != "" {
			return nil, fmt.Errorf("svgtemplate: group %q is not closed: %w", id, domain.ErrMalformedTemplate)
		}
		return nil, fmt.Errorf("svgtemplate: replaced element is not closed: %w", domain.ErrMalformedTemplate)
	}
	return r.out.Bytes(), nil
}

type renderer struct {
	engine *Engine
	table  domain.DirectiveTable
	state  ReplacementState
	out    bytes.Buffer
}

func (r *renderer) start(tag tagInfo) error {
	switch r.state.Phase() {
	case PhaseSkipping:
		r.state.Open()
		return nil
	case PhaseAwaiting:
		if err := r.checkNested(tag); err != nil {
			return err
		}
		if tag.name == geometryShape {
			if err := r.substitute(r.state.Pending(), tag); err != nil {
				return err
			}
			r.state.Resolve()
		}
		r.state.Open()
		return nil
	}

	if tag.id != "" {
		d, ok := r.table.Lookup(tag.id)
		switch {
		case ok && d.Kind == domain.DirectiveText:
			if err := writeText(&r.out, tag, d); err != nil {
				return err
			}
			r.state.Skip()
			return nil
		case ok || r.engine.isSlot(tag.id):
			r.state.Await(tag.id)
			return nil
		}
	}
	r.out.Write(tag.raw)
	return nil
}

func (r *renderer) selfClosing(tag tagInfo) error {
	switch r.state.Phase() {
	case PhaseSkipping:
		return nil
	case PhaseAwaiting:
		if err := r.checkNested(tag); err != nil {
			return err
		}
		if tag.name == geometryShape {
			if err := r.substitute(r.state.Pending(), tag); err != nil {
				return err
			}
			r.state.Resolve()
		}
		return nil
	}

	if tag.id != "" {
		d, ok := r.table.Lookup(tag.id)
		switch {
		case ok && d.Kind == domain.DirectiveText:
			return writeText(&r.out, tag, d)
		case ok || r.engine.isSlot(tag.id):
			// The element is its own group: a bare shape is replaced in place,
			// anything else has no geometry and is dropped.
			if tag.name == geometryShape {
				return r.substitute(tag.id, tag)
			}
			return nil
		}
	}
	r.out.Write(tag.raw)
	return nil
}

func (r *renderer) end(raw []byte) {
	if r.state.Suppressing() {
		r.state.Close()
		return
	}
	r.out.Write(raw)
}

func (r *renderer) other(raw []byte) {
	if r.state.Suppressing() {
		return
	}
	r.out.Write(raw)
}

// substitute emits the image for group id using the geometry of shape. Remove
// directives and slots without a directive emit nothing.
func (r *renderer) substitute(id string, shape tagInfo) error {
	d, ok := r.table.Lookup(id)
	if !ok || d.Kind != domain.DirectiveImage {
		return nil
	}
	if err := writeImage(&r.out, shape, d); err != nil {
		return fmt.Errorf("svgtemplate: group %q: %w", id, err)
	}
	return nil
}

// checkNested rejects an image group opened inside another one.
func (r *renderer) checkNested(tag tagInfo) error {
	if tag.id == "" {
		return nil
	}
	d, ok := r.table.Lookup(tag.id)
	if r.engine.isSlot(tag.id) || (ok && d.Kind != domain.DirectiveText) {
		return fmt.Errorf("svgtemplate: group %q nested inside %q: %w", tag.id, r.state.Pending(), domain.ErrMalformedTemplate)
	}
	return nil
}
