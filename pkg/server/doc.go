// Package server exposes image rendering over HTTP.
//
// GET / reads title, description, subtitle, logo and image from the query
// string, fetches both images concurrently through the SSRF-safe pipeline
// and answers with SVG markup. /health and /metrics serve probes and
// Prometheus scrapes. The same Service backs the one-shot CLI renderer.
package server
