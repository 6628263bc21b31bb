// Package protocol defines the typed message vocabulary and wire framing
// shared by the supervisor and the extension runtime process.
//
// The two processes exchange newline-delimited JSON envelopes over the
// runtime's stdin/stdout. Delivery is FIFO per direction. Most request
// types are fire-and-forget; only execute-command round trips carry a
// correlation id linking the request to its command-result.
package protocol
