// Package svgtemplate rewrites a fixed SVG template in a single forward pass
// over its token stream, without building a document tree.
//
// Elements are addressed by id through a domain.DirectiveTable:
//
//   - Text keeps the element's original start tag, replaces its content with
//     escaped text and drops the original children.
//   - Image targets a group that contains one <rect>. The group is dropped and
//     an <image> with the rect's box is emitted in its place, clipped to the
//     rect's corner radius when it has one.
//   - Remove drops the element and everything inside it.
//
// Ids declared as image slots are removed when the table has no directive for
// them. Every other id passes through unchanged.
//
// The engine performs no I/O. Given the same template and table, Render
// returns the same bytes.
package svgtemplate
