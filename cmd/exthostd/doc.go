// Package main is the entry point for the extension host daemon.
//
// The daemon supervises an isolated runtime process in which
// third-party extension code executes, and exposes the control API the
// editor shell consumes.
//
// Architecture:
//
//	Editor shell → exthostd (supervisor) → extruntime (plugin sandbox)
//
// The daemon provides:
//   - REST control API for extension lifecycle and packages
//   - WebSocket event feed for observers
//   - Prometheus metrics
//
// Configuration:
//   - Environment variables with the EXTHOST_ prefix
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	./exthostd -port 7420 -extensions ./extensions -runtime ./extruntime
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
