package supervisor

import (
	"fmt"
	"time"

	"github.com/lattice-editor/exthost/internal/protocol"
	"go.uber.org/zap"
)

// HostCommandFunc is a command implemented by the host process itself
// rather than by an extension.
type HostCommandFunc func(args []interface{}) (interface{}, error)

// commandRegistration records which extension owns a command name.
type commandRegistration struct {
	extensionID string
}

// RegisterHostCommand installs a host-level command. The table is
// extensible; re-registering a name replaces the previous handler, the
// same overwrite policy the extension command table follows.
func (s *Supervisor) RegisterHostCommand(name string, fn HostCommandFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hostCommands[name] = fn
}

// Commands returns the names of all registered extension commands.
func (s *Supervisor) Commands() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(s.commands))
	for name, reg := range s.commands {
		out[name] = reg.extensionID
	}
	return out
}

// ExecuteCommand runs a command by name. Extension-owned commands round
// trip to the runtime with a correlation id; host commands run locally.
func (s *Supervisor) ExecuteCommand(name string, args []interface{}) (interface{}, error) {
	s.mu.Lock()
	_, owned := s.commands[name]
	hostFn, hosted := s.hostCommands[name]
	s.mu.Unlock()

	if owned {
		result, err := s.executeExtensionCommand(name, args)
		if err != nil {
			s.metrics.RecordCommandCall("extension", "error")
			return nil, err
		}
		s.metrics.RecordCommandCall("extension", "ok")
		return result, nil
	}

	if hosted {
		result, err := hostFn(args)
		if err != nil {
			s.metrics.RecordCommandCall("host", "error")
			return nil, err
		}
		s.metrics.RecordCommandCall("host", "ok")
		return result, nil
	}

	s.metrics.RecordCommandCall("none", "not_found")
	return nil, fmt.Errorf("command not found: %s", name)
}

// executeExtensionCommand sends a correlated execute-command request and
// waits for the matching command-result.
func (s *Supervisor) executeExtensionCommand(name string, args []interface{}) (interface{}, error) {
	msg, err := protocol.NewCorrelated(protocol.TypeExecuteCommand, &protocol.CommandPayload{
		Command: name,
		Args:    args,
	})
	if err != nil {
		return nil, err
	}

	reply := make(chan *protocol.CommandResultPayload, 1)
	s.mu.Lock()
	s.pendingReplies[msg.ID] = reply
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pendingReplies, msg.ID)
		s.mu.Unlock()
	}()

	if err := s.send(msg); err != nil {
		return nil, err
	}

	select {
	case result := <-reply:
		if result.Error != "" {
			return nil, fmt.Errorf("command %s failed: %s", name, result.Error)
		}
		return result.Result, nil
	case <-time.After(s.opts.CommandTimeout):
		return nil, fmt.Errorf("command %s timed out after %s", name, s.opts.CommandTimeout)
	}
}

// purgeCommands drops every command owned by an extension. Caller holds
// s.mu.
func (s *Supervisor) purgeCommands(extID string) {
	for name, reg := range s.commands {
		if reg.extensionID == extID {
			delete(s.commands, name)
		}
	}
}

// registerBuiltinCommands installs the default host command table.
func (s *Supervisor) registerBuiltinCommands() {
	s.RegisterHostCommand("workbench.reload", func(args []interface{}) (interface{}, error) {
		s.log.Info("host reload requested")
		s.events.publish(Event{Type: EventHostCommand, Command: "workbench.reload"})
		return map[string]interface{}{"reloading": true}, nil
	})
}

// handleRegisterCommand records a runtime-reported command registration.
// A name maps to at most one owner; re-registration silently overwrites,
// matching the runtime-side table.
func (s *Supervisor) handleRegisterCommand(payload *protocol.CommandPayload) {
	s.mu.Lock()
	if prev, ok := s.commands[payload.Command]; ok && prev.extensionID != payload.ExtensionID {
		s.log.Warn("command re-registered by another extension",
			zap.String("command", payload.Command),
			zap.String("previous", prev.extensionID),
			zap.String("owner", payload.ExtensionID))
	}
	s.commands[payload.Command] = commandRegistration{extensionID: payload.ExtensionID}
	s.mu.Unlock()
}

// handleUnregisterCommand removes a command if the reporting extension
// still owns it.
func (s *Supervisor) handleUnregisterCommand(payload *protocol.CommandPayload) {
	s.mu.Lock()
	if reg, ok := s.commands[payload.Command]; ok && reg.extensionID == payload.ExtensionID {
		delete(s.commands, payload.Command)
	}
	s.mu.Unlock()
}
