// Package http implements the control API consumed by the UI and
// other subsystems. Handlers are a thin shell over the supervisor;
// every route maps to one supervisor operation and errors translate
// from the host's error taxonomy to HTTP statuses.
package http
