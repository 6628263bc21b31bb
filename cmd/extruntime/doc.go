// Package main is the entry point for the extension runtime process.
//
// The runtime is spawned by the extension host daemon and speaks the
// message protocol over stdin/stdout: newline-delimited JSON envelopes,
// readiness signaled first. Extension entry modules execute in
// per-extension JavaScript VMs; a fault in any single extension is
// reported upstream without terminating the process.
package main
