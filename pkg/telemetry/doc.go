// Package telemetry wires OpenTelemetry tracing and render metrics for the
// image service.
//
// It centralises trace provider setup, exposes the service tracer, and offers
// helpers that attach security outcomes to spans and strip secrets from URLs
// before they are exported.
package telemetry
