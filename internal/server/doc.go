// Package server assembles the extension host daemon: supervisor,
// download client, control API routes, WebSocket event feed, and the
// Prometheus endpoint, with graceful shutdown ordering (listener first,
// then runtime process).
package server
