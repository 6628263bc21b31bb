// Package runtime implements the isolated process that executes
// extension code.
//
// The Service loop reads protocol messages from stdin and writes
// events to stdout, signaling readiness before anything else. Each
// extension activates into its own goja VM; reactivation builds a
// fresh VM so no stale module state survives a reload. Plugin code
// talks back through a fixed capability surface (host.commands,
// host.window, host.workspace, host.EventEmitter, host.subscriptions)
// scoped to the owning extension id.
//
// Failure isolation: a fault while handling any single message is
// caught and reported as an error message. Only a fault in the loop
// itself terminates the process, which the supervisor observes as a
// crash.
package runtime
