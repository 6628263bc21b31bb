package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/lattice-editor/exthost/internal/shared/id"
)

// Type names a message crossing the process boundary.
type Type string

// Supervisor -> runtime requests. TypeInvokeAPI is reserved for a
// supervisor-initiated API bridge and is not dispatched yet; the runtime
// answers it with an unknown-type error like any other unhandled type.
const (
	TypeLoadExtension       Type = "load-extension"
	TypeActivateExtension   Type = "activate-extension"
	TypeDeactivateExtension Type = "deactivate-extension"
	TypeCommandResult       Type = "command-result"
	TypeInvokeAPI           Type = "invoke-api"
	TypeDispose             Type = "dispose"
)

// Runtime -> supervisor events and requests. TypeAPIResult is the
// reserved reply shape for invoke-api and is not emitted yet.
const (
	TypeReady                Type = "ready"
	TypeExtensionLoaded      Type = "extension-loaded"
	TypeExtensionActivated   Type = "extension-activated"
	TypeExtensionDeactivated Type = "extension-deactivated"
	TypeRegisterCommand      Type = "register-command"
	TypeUnregisterCommand    Type = "unregister-command"
	TypeShowMessage          Type = "show-message"
	TypeAPIResult            Type = "api-result"
	TypeDisposed             Type = "disposed"
	TypeError                Type = "error"
)

// Bidirectional: a command execution request carries a correlation id;
// the matching command-result carries the same id.
const TypeExecuteCommand Type = "execute-command"

// Message is the envelope exchanged between supervisor and runtime.
// Delivery is FIFO per direction; only execute-command round trips are
// correlated by ID.
type Message struct {
	ID      string          `json:"id,omitempty"`
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// New builds a message with the payload marshaled in place.
func New(t Type, payload interface{}) (*Message, error) {
	msg := &Message{Type: t}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		msg.Payload = data
	}
	return msg, nil
}

// NewCorrelated builds a message carrying a fresh correlation id.
func NewCorrelated(t Type, payload interface{}) (*Message, error) {
	msg, err := New(t, payload)
	if err != nil {
		return nil, err
	}
	msg.ID = id.NewMessageID().String()
	return msg, nil
}

// NewError builds an error report, optionally tied to a request id.
func NewError(requestID string, err error) *Message {
	return &Message{ID: requestID, Type: TypeError, Error: err.Error()}
}

// Decode unmarshals the payload into out.
func (m *Message) Decode(out interface{}) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("message %s has no payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, out); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", m.Type, err)
	}
	return nil
}

// LoadPayload asks the runtime to record an extension for later activation.
type LoadPayload struct {
	ExtensionID string `json:"extension_id"`
	Path        string `json:"path"`
}

// ActivatePayload asks the runtime to execute an extension's entry module.
type ActivatePayload struct {
	ExtensionID string `json:"extension_id"`
}

// ActivatedPayload reports a completed activation with the module exports.
type ActivatedPayload struct {
	ExtensionID string                 `json:"extension_id"`
	Exports     map[string]interface{} `json:"exports,omitempty"`
}

// DeactivatePayload asks the runtime to tear an extension down.
type DeactivatePayload struct {
	ExtensionID string `json:"extension_id"`
}

// DeactivatedPayload confirms a completed deactivation.
type DeactivatedPayload struct {
	ExtensionID string `json:"extension_id"`
}

// CommandPayload registers, unregisters, or executes a command.
type CommandPayload struct {
	ExtensionID string        `json:"extension_id,omitempty"`
	Command     string        `json:"command"`
	Args        []interface{} `json:"args,omitempty"`
}

// CommandResultPayload carries the outcome of a correlated execution.
type CommandResultPayload struct {
	Command string      `json:"command"`
	Result  interface{} `json:"result,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ShowMessagePayload is a plugin-originated user-facing notification.
type ShowMessagePayload struct {
	ExtensionID string `json:"extension_id,omitempty"`
	Level       string `json:"level"`
	Message     string `json:"message"`
}

// ErrorPayload adds structure to error reports that concern one extension.
type ErrorPayload struct {
	ExtensionID string `json:"extension_id,omitempty"`
	Operation   string `json:"operation,omitempty"`
	Detail      string `json:"detail"`
}
