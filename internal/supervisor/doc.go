// Package supervisor owns the privileged side of the extension host:
// the runtime process lifecycle, the extension registry, the command
// table, message queuing, and the control API the outer surfaces call.
//
// The supervisor and the runtime are two single-threaded loops joined
// by one ordered, bidirectional message channel. There is no shared
// memory between them; the supervisor's maps cache runtime truth.
// Messages sent before the runtime signals readiness queue in FIFO
// order and flush on the ready transition.
//
// Concurrency discipline: operations that touch one extension
// (activate, deactivate) serialize per extension id through a keyed
// mutex, so interleaved calls for the same id cannot race across the
// message channel. Only command execution is correlated by message id;
// activation is confirmed by observing the extension-activated event.
package supervisor
