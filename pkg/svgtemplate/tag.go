package svgtemplate

import (
	"bytes"

	"golang.org/x/net/html"
)

// tagInfo describes a start or self-closing tag. raw is the tag exactly as it
// appears in the template; name and attribute keys are lowercased.
type tagInfo struct {
	raw         []byte
	rawName     string
	name        string
	id          string
	attrs       map[string]string
	selfClosing bool
}

// readTag captures the current tag. The raw bytes are copied first because
// the tokenizer lowercases names and unescapes values in its buffer.
//
// The tokenizer enters raw-text mode after title, style, script and the like
// even when the tag is self-closing, which in SVG it often is. A self-closing
// tag has no content, so raw-text mode is switched off again.
func readTag(z *html.Tokenizer, selfClosing bool) tagInfo {
	if selfClosing {
		z.NextIsNotRawText()
	}
	raw := bytes.Clone(z.Raw())
	tag := tagInfo{
		raw:         raw,
		rawName:     rawTagName(raw),
		selfClosing: selfClosing,
	}

	name, hasAttr := z.TagName()
	tag.name = string(name)
	for hasAttr {
		var key, val []byte
		key, val, hasAttr = z.TagAttr()
		if tag.attrs == nil {
			tag.attrs = make(map[string]string, 4)
		}
		k := string(key)
		if _, dup := tag.attrs[k]; dup {
			continue
		}
		tag.attrs[k] = string(val)
	}
	tag.id = tag.attrs["id"]
	return tag
}

// rawTagName returns the element name as written, preserving case such as
// linearGradient or clipPath.
func rawTagName(raw []byte) string {
	s := bytes.TrimPrefix(raw, []byte("<"))
	end := bytes.IndexAny(s, " \t\r\n\f/>")
	if end < 0 {
		return string(s)
	}
	return string(s[:end])
}
