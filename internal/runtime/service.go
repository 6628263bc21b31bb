package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/lattice-editor/exthost/internal/infrastructure/logging"
	"github.com/lattice-editor/exthost/internal/protocol"
	"go.uber.org/zap"
)

// Service is the runtime-side message loop. It owns the loaded and
// active extension state exclusively; all cross-boundary state is
// explicit in messages. The loop is single-threaded, so extension VMs
// are never entered concurrently.
type Service struct {
	codec *protocol.Codec
	log   *logging.Logger

	loaded map[string]*loadedExtension
	active map[string]*activeExtension

	// byName maps command names to owners; pending holds executeCommand
	// callbacks keyed by message id.
	byName  map[string]*commandEntry
	pending map[string]func(result interface{}, errDetail string)

	sendMu sync.Mutex
}

type commandEntry struct {
	extensionID string
	ext         *activeExtension
	name        string
}

// NewService builds a runtime service speaking the protocol over the
// given reader/writer pair, normally stdin/stdout.
func NewService(r io.Reader, w io.Writer, log *logging.Logger) *Service {
	return &Service{
		codec:   protocol.NewCodec(r, w),
		log:     log.Named("runtime"),
		loaded:  make(map[string]*loadedExtension),
		active:  make(map[string]*activeExtension),
		byName:  make(map[string]*commandEntry),
		pending: make(map[string]func(interface{}, string)),
	}
}

// Run signals readiness and processes messages until dispose or stream
// close. Per-message faults are reported as error messages; only a
// failure of the loop itself returns an error.
func (s *Service) Run(ctx context.Context) error {
	if err := s.send(&protocol.Message{Type: protocol.TypeReady}); err != nil {
		return fmt.Errorf("ready signal: %w", err)
	}
	s.log.Info("runtime ready")

	for {
		msg, err := s.codec.Decode()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				s.log.Info("supervisor stream closed")
				return nil
			}
			return fmt.Errorf("decode: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if done := s.dispatch(msg); done {
			return nil
		}
	}
}

// dispatch handles one message, converting any panic into a structured
// error report instead of crashing the process.
func (s *Service) dispatch(msg *protocol.Message) (done bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("message handler panic",
				zap.String("type", string(msg.Type)), zap.Any("panic", r))
			s.reportError("", string(msg.Type), fmt.Sprintf("internal fault: %v", r))
		}
	}()

	switch msg.Type {
	case protocol.TypeLoadExtension:
		var payload protocol.LoadPayload
		if err := msg.Decode(&payload); err != nil {
			s.reportError("", "load", err.Error())
			return false
		}
		s.handleLoad(&payload)

	case protocol.TypeActivateExtension:
		var payload protocol.ActivatePayload
		if err := msg.Decode(&payload); err != nil {
			s.reportError("", "activate", err.Error())
			return false
		}
		s.handleActivate(payload.ExtensionID)

	case protocol.TypeDeactivateExtension:
		var payload protocol.DeactivatePayload
		if err := msg.Decode(&payload); err != nil {
			s.reportError("", "deactivate", err.Error())
			return false
		}
		s.handleDeactivate(payload.ExtensionID)

	case protocol.TypeExecuteCommand:
		var payload protocol.CommandPayload
		if err := msg.Decode(&payload); err != nil {
			s.reportError("", "execute-command", err.Error())
			return false
		}
		s.handleExecuteCommand(msg.ID, &payload)

	case protocol.TypeCommandResult:
		var payload protocol.CommandResultPayload
		if err := msg.Decode(&payload); err != nil {
			return false
		}
		s.handleCommandResult(msg.ID, &payload)

	case protocol.TypeDispose:
		s.handleDispose()
		return true

	default:
		s.log.Warn("unknown supervisor message", zap.String("type", string(msg.Type)))
		s.reportError("", string(msg.Type), fmt.Sprintf("unknown message type: %s", msg.Type))
	}
	return false
}

// handleExecuteCommand runs a locally registered command and replies
// with the request's correlation id.
func (s *Service) handleExecuteCommand(requestID string, payload *protocol.CommandPayload) {
	result := &protocol.CommandResultPayload{Command: payload.Command}

	entry, ok := s.byName[payload.Command]
	if !ok {
		result.Error = fmt.Sprintf("command not registered: %s", payload.Command)
	} else {
		value, err := entry.ext.invokeCommand(payload.Command, payload.Args)
		if err != nil {
			result.Error = err.Error()
		} else {
			result.Result = value
		}
	}

	reply, err := protocol.New(protocol.TypeCommandResult, result)
	if err != nil {
		return
	}
	reply.ID = requestID
	if err := s.send(reply); err != nil {
		s.log.Warn("command result not delivered", zap.Error(err))
	}
}

// handleCommandResult resolves a plugin-initiated executeCommand call.
func (s *Service) handleCommandResult(requestID string, payload *protocol.CommandResultPayload) {
	callback, ok := s.pending[requestID]
	if !ok {
		return
	}
	delete(s.pending, requestID)
	callback(payload.Result, payload.Error)
}

// handleDispose deactivates everything in sequence, clears state, and
// reports disposed.
func (s *Service) handleDispose() {
	for _, extID := range s.activeIDs() {
		s.handleDeactivate(extID)
	}

	s.loaded = make(map[string]*loadedExtension)
	s.active = make(map[string]*activeExtension)
	s.byName = make(map[string]*commandEntry)
	s.pending = make(map[string]func(interface{}, string))

	if err := s.send(&protocol.Message{Type: protocol.TypeDisposed}); err != nil {
		s.log.Warn("disposed signal not delivered", zap.Error(err))
	}
	s.log.Info("runtime disposed")
}

func (s *Service) activeIDs() []string {
	ids := make([]string, 0, len(s.active))
	for extID := range s.active {
		ids = append(ids, extID)
	}
	return ids
}

func (s *Service) send(msg *protocol.Message) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.codec.Encode(msg)
}

func (s *Service) sendEvent(t protocol.Type, payload interface{}) {
	msg, err := protocol.New(t, payload)
	if err != nil {
		s.log.Error("event marshal failed", zap.String("type", string(t)), zap.Error(err))
		return
	}
	if err := s.send(msg); err != nil {
		s.log.Warn("event not delivered", zap.String("type", string(t)), zap.Error(err))
	}
}

func (s *Service) reportError(extID, operation, detail string) {
	s.sendEvent(protocol.TypeError, &protocol.ErrorPayload{
		ExtensionID: extID,
		Operation:   operation,
		Detail:      detail,
	})
}
