// Package monitoring provides Prometheus metrics for the extension host.
//
// Metrics cover extension lifecycle (known/active gauges, activation
// outcomes), the supervisor/runtime protocol (message counters by
// direction and type, pending queue depth, crashes), the installer, and
// the control API HTTP surface. All collectors are registered through
// promauto and exposed on /metrics.
package monitoring
