package domain

import "fmt"

// DirectiveKind selects the substitution strategy for a marked template region.
type DirectiveKind int

const (
	// DirectiveRemove drops the region and all of its children.
	DirectiveRemove DirectiveKind = iota
	// DirectiveText replaces the region's content with escaped text.
	DirectiveText
	// DirectiveImage replaces the region with an embedded image sized to its geometry shape.
	DirectiveImage
)

func (k DirectiveKind) String() string {
	switch k {
	case DirectiveText:
		return "text"
	case DirectiveImage:
		return "image"
	case DirectiveRemove:
		return "remove"
	default:
		return fmt.Sprintf("DirectiveKind(%d)", int(k))
	}
}

// Directive tells the template engine what to do with the element carrying ID.
type Directive struct {
	ID    string
	Kind  DirectiveKind
	Text  string
	Image ValidatedImage
}

// Text returns a directive that replaces the content of id with value.
func Text(id, value string) Directive {
	return Directive{ID: id, Kind: DirectiveText, Text: value}
}

// Image returns a directive that replaces the group id with img.
func Image(id string, img ValidatedImage) Directive {
	return Directive{ID: id, Kind: DirectiveImage, Image: img}
}

// Remove returns a directive that drops the element id entirely.
func Remove(id string) Directive {
	return Directive{ID: id, Kind: DirectiveRemove}
}

// DirectiveTable maps element ids to their directive for a single request.
type DirectiveTable map[string]Directive

// NewDirectiveTable builds a table, rejecting empty or repeated ids.
func NewDirectiveTable(directives ...Directive) (DirectiveTable, error) {
	table := make(DirectiveTable, len(directives))
	for _, d := range directives {
		if d.ID == "" {
			return nil, fmt.Errorf("directive table: empty id: %w", ErrInvalidInput)
		}
		if _, exists := table[d.ID]; exists {
			return nil, fmt.Errorf("directive table: id %q: %w", d.ID, ErrDuplicateDirective)
		}
		table[d.ID] = d
	}
	return table, nil
}

// Lookup returns the directive for id, if any.
func (t DirectiveTable) Lookup(id string) (Directive, bool) {
	d, ok := t[id]
	return d, ok
}
