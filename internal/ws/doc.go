// Package ws exposes the supervisor's observer notifications over
// WebSocket: extension activated, extension deactivated, plugin
// show-message, and host commands. The feed is one-way and
// fire-and-forget; slow clients are disconnected rather than buffered.
package ws
