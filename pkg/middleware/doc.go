// Package middleware provides HTTP middleware for the live document
// endpoints: OpenTelemetry request tracing and Prometheus request
// instrumentation.
package middleware
