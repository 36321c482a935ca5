// Package domain defines the core types shared by the image acquisition pipeline,
// the template engine and the HTTP surface.
//
// This package has no dependencies outside the Go standard library. Other
// packages depend on it, never the other way around:
//
//	netguard, imagefetch, svgtemplate, server → domain
//
// The types split into two groups:
//
//   - Acquisition: FetchedImage (raw bytes as downloaded) and ValidatedImage
//     (bytes proven by content sniffing to be an allowed image format). Only a
//     ValidatedImage is ever cached or handed to the template engine.
//   - Substitution: Directive and DirectiveTable, the per-request instructions
//     that tell the template engine which marked regions receive text, receive
//     an image, or disappear.
//
// Failures are reported with the sentinel errors in errors.go so callers can
// branch with errors.Is regardless of how deeply a cause is wrapped.
package domain
