package svgtemplate

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/polisai/ogis/pkg/domain"
)

// imageStrategy writes an image into the box described by g.
type imageStrategy func(out *bytes.Buffer, g geometry, img domain.ValidatedImage)

// imageStrategies is keyed by whether the geometry shape has rounded corners.
var imageStrategies = map[bool]imageStrategy{
	false: writePlainImage,
	true:  writeRoundedImage,
}

// writeText emits the original start tag, the escaped value and a matching
// end tag. Self-closing elements are reopened so they can carry content.
func writeText(out *bytes.Buffer, tag tagInfo, d domain.Directive) error {
	start := tag.raw
	if tag.selfClosing {
		start = bytes.TrimRight(bytes.TrimSuffix(start, []byte("/>")), " \t\r\n")
		out.Write(start)
		out.WriteByte('>')
	} else {
		out.Write(start)
	}
	writeEscaped(out, d.Text)
	out.WriteString("</")
	out.WriteString(tag.rawName)
	out.WriteByte('>')
	return nil
}

// writeImage picks the image strategy for the geometry shape in tag.
func writeImage(out *bytes.Buffer, tag tagInfo, d domain.Directive) error {
	g, err := parseGeometry(tag.attrs)
	if err != nil {
		return err
	}
	imageStrategies[g.rounded()](out, g, d.Image)
	return nil
}

func writePlainImage(out *bytes.Buffer, g geometry, img domain.ValidatedImage) {
	writeImageElement(out, g, img, "")
}

func writeRoundedImage(out *bytes.Buffer, g geometry, img domain.ValidatedImage) {
	id := clipID(g.x, g.y)

	out.WriteString(`<g><defs><clipPath id="`)
	out.WriteString(id)
	out.WriteString(`"><rect`)
	writeAttr(out, "x", g.x)
	writeAttr(out, "y", g.y)
	writeAttr(out, "width", g.width)
	writeAttr(out, "height", g.height)
	writeAttr(out, "rx", g.rx)
	if g.ry != "" {
		writeAttr(out, "ry", g.ry)
	}
	out.WriteString(`/></clipPath></defs>`)
	writeImageElement(out, g, img, "url(#"+id+")")
	out.WriteString(`</g>`)
}

func writeImageElement(out *bytes.Buffer, g geometry, img domain.ValidatedImage, clipPath string) {
	out.WriteString(`<image`)
	writeAttr(out, "x", g.x)
	writeAttr(out, "y", g.y)
	writeAttr(out, "width", g.width)
	writeAttr(out, "height", g.height)
	writeAttr(out, "preserveAspectRatio", "xMidYMid meet")
	if clipPath != "" {
		writeAttr(out, "clip-path", clipPath)
	}
	out.WriteString(` href="`)
	out.WriteString(img.DataURI())
	out.WriteString(`"/>`)
}

func writeAttr(out *bytes.Buffer, name, value string) {
	out.WriteByte(' ')
	out.WriteString(name)
	out.WriteString(`="`)
	writeEscaped(out, value)
	out.WriteByte('"')
}

// writeEscaped writes s as XML character data. Invalid UTF-8 and characters
// outside the XML Char range are replaced with U+FFFD.
func writeEscaped(out *bytes.Buffer, s string) {
	_ = xml.EscapeText(out, []byte(s))
}

// geometry holds a shape's attribute values verbatim so the replacement
// occupies exactly the same box.
type geometry struct {
	x, y, width, height string
	rx, ry              string
}

func parseGeometry(attrs map[string]string) (geometry, error) {
	g := geometry{
		x:      attrs["x"],
		y:      attrs["y"],
		width:  attrs["width"],
		height: attrs["height"],
		rx:     attrs["rx"],
		ry:     attrs["ry"],
	}
	for _, required := range []struct{ name, value string }{
		{"x", g.x}, {"y", g.y}, {"width", g.width}, {"height", g.height},
	} {
		if strings.TrimSpace(required.value) == "" {
			return geometry{}, fmt.Errorf("svgtemplate: geometry shape missing %q: %w", required.name, domain.ErrMalformedTemplate)
		}
	}
	return g, nil
}

// rounded reports whether rx describes a positive corner radius.
func (g geometry) rounded() bool {
	v := strings.TrimSpace(g.rx)
	v = strings.TrimSuffix(v, "px")
	v = strings.TrimSuffix(v, "%")
	r, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return err == nil && r > 0
}

// clipID derives a stable identifier from the shape position. Replaceable
// regions in a template never share a position.
func clipID(x, y string) string {
	return "ogis-clip-" + sanitizeID(x) + "-" + sanitizeID(y)
}

func sanitizeID(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
