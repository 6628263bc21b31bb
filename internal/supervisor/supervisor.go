package supervisor

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/lattice-editor/exthost/internal/contributions"
	"github.com/lattice-editor/exthost/internal/download"
	"github.com/lattice-editor/exthost/internal/infrastructure/logging"
	"github.com/lattice-editor/exthost/internal/infrastructure/monitoring"
	"github.com/lattice-editor/exthost/internal/installer"
	"github.com/lattice-editor/exthost/internal/protocol"
	"github.com/lattice-editor/exthost/internal/shared/types"
	"go.uber.org/zap"
)

// State is the runtime process handle lifecycle state.
type State string

const (
	StateNotStarted State = "not_started"
	StateStarting   State = "starting"
	StateReady      State = "ready"
	StateStopping   State = "stopping"
	StateStopped    State = "stopped"
	StateError      State = "error"
)

// Options configures a Supervisor.
type Options struct {
	ExtensionsDir string
	BuiltinDir    string

	// RuntimeBinary is checked for existence before each start. Empty
	// disables the check (in-memory transports).
	RuntimeBinary string

	// NewTransport builds a fresh channel for each start. A restart
	// after a crash needs a new transport instance.
	NewTransport func() Transport

	StartupTimeout    time.Duration
	ShutdownGrace     time.Duration
	ActivationTimeout time.Duration
	SettleDelay       time.Duration
	PollInterval      time.Duration
	CommandTimeout    time.Duration

	Logger     *logging.Logger
	Metrics    *monitoring.Metrics
	Downloader *download.Client
}

// activeRecord tracks one confirmed activation.
type activeRecord struct {
	meta    *types.ExtensionMetadata
	exports map[string]interface{}
}

// Supervisor owns the runtime process lifecycle, the extension registry,
// the command table, message queuing, and the control API consumed by
// everything outside this core.
//
// Its in-memory maps cache runtime-side truth: load and deactivate are
// optimistic and do not wait for confirmation, activation is confirmed
// by observing a subsequent extension-activated event.
type Supervisor struct {
	opts      Options
	log       *logging.Logger
	metrics   *monitoring.Metrics
	installer *installer.Installer

	mu             sync.Mutex
	state          State
	transport      Transport
	pendingSends   []*protocol.Message
	registry       map[string]*types.ExtensionMetadata
	loaded         map[string]bool
	active         map[string]*activeRecord
	activated      map[string]bool   // set by extension-activated, cleared per attempt
	activationErrs map[string]string // plugin exceptions reported during activation
	commands       map[string]commandRegistration
	hostCommands   map[string]HostCommandFunc
	pendingReplies map[string]chan *protocol.CommandResultPayload
	readyCh        chan struct{}
	disposedCh     chan struct{}

	idLocks *keyedMutex
	events  *broadcaster
}

// New creates a Supervisor with defaults filled in.
func New(opts Options) *Supervisor {
	if opts.Logger == nil {
		opts.Logger = logging.NewDefault()
	}
	if opts.Metrics == nil {
		opts.Metrics = monitoring.NewMetrics()
	}
	if opts.StartupTimeout == 0 {
		opts.StartupTimeout = 10 * time.Second
	}
	if opts.ShutdownGrace == 0 {
		opts.ShutdownGrace = 5 * time.Second
	}
	if opts.ActivationTimeout == 0 {
		opts.ActivationTimeout = 30 * time.Second
	}
	if opts.SettleDelay == 0 {
		opts.SettleDelay = 100 * time.Millisecond
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	if opts.CommandTimeout == 0 {
		opts.CommandTimeout = 10 * time.Second
	}

	s := &Supervisor{
		opts:           opts,
		log:            opts.Logger.Named("supervisor"),
		metrics:        opts.Metrics,
		installer:      installer.New(opts.ExtensionsDir, opts.Logger),
		state:          StateNotStarted,
		registry:       make(map[string]*types.ExtensionMetadata),
		loaded:         make(map[string]bool),
		active:         make(map[string]*activeRecord),
		activated:      make(map[string]bool),
		activationErrs: make(map[string]string),
		commands:       make(map[string]commandRegistration),
		hostCommands:   make(map[string]HostCommandFunc),
		pendingReplies: make(map[string]chan *protocol.CommandResultPayload),
		idLocks:        newKeyedMutex(),
		events:         newBroadcaster(),
	}
	s.registerBuiltinCommands()
	return s
}

// State returns the current runtime handle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers an observer for outbound notifications.
func (s *Supervisor) Subscribe() (<-chan Event, func()) {
	return s.events.subscribe()
}

// Start launches the runtime process if not already running and waits
// for its ready signal. Idempotent: calling while started is a no-op.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateReady, StateStarting:
		s.mu.Unlock()
		return nil
	}

	if s.opts.RuntimeBinary != "" {
		if _, err := os.Stat(s.opts.RuntimeBinary); err != nil {
			s.mu.Unlock()
			return &types.StartupError{Reason: "runtime binary missing", Err: err}
		}
	}

	transport := s.opts.NewTransport()
	s.transport = transport
	s.state = StateStarting
	s.readyCh = make(chan struct{})
	s.disposedCh = make(chan struct{})
	readyCh := s.readyCh
	s.mu.Unlock()

	if err := transport.Start(ctx); err != nil {
		s.mu.Lock()
		s.state = StateError
		s.mu.Unlock()
		return &types.StartupError{Reason: "spawn failed", Err: err}
	}

	go s.receiveLoop(transport)
	go s.watchExit(transport)

	select {
	case <-readyCh:
		s.log.Info("runtime ready")
		return nil
	case <-ctx.Done():
		transport.Kill()
		s.setState(StateError)
		return &types.StartupError{Reason: "start cancelled", Err: ctx.Err()}
	case <-time.After(s.opts.StartupTimeout):
		transport.Kill()
		s.setState(StateError)
		return &types.StartupError{Reason: fmt.Sprintf("no ready signal within %s", s.opts.StartupTimeout)}
	}
}

// Stop deactivates all active extensions, asks the runtime to dispose,
// and waits up to the grace period before force-terminating. Always
// returns nil.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.state != StateReady && s.state != StateStarting && s.state != StateError {
		s.mu.Unlock()
		return nil
	}
	transport := s.transport
	disposedCh := s.disposedCh
	s.mu.Unlock()

	// Snapshot of active ids, each torn down through the normal path.
	for _, meta := range s.ActiveExtensions() {
		if err := s.Deactivate(meta.ID); err != nil {
			s.log.Warn("deactivation during stop failed",
				zap.String("extension", meta.ID), zap.Error(err))
		}
	}

	s.setState(StateStopping)

	if msg, err := protocol.New(protocol.TypeDispose, nil); err == nil {
		if err := transport.Send(msg); err != nil {
			s.log.Debug("dispose send failed", zap.Error(err))
		}
	}

	select {
	case <-disposedCh:
	case <-transport.Exited():
	case <-time.After(s.opts.ShutdownGrace):
		s.log.Warn("runtime did not exit within grace period, killing")
		transport.Kill()
	}

	s.mu.Lock()
	s.state = StateStopped
	s.loaded = make(map[string]bool)
	s.active = make(map[string]*activeRecord)
	s.activated = make(map[string]bool)
	s.commands = make(map[string]commandRegistration)
	s.pendingSends = nil
	s.mu.Unlock()
	s.metrics.ExtensionsActive.Set(0)

	s.log.Info("runtime stopped")
	return nil
}

// Load registers an extension with the runtime. Idempotent for an
// already-loaded id; otherwise optimistic, marking the id loaded without
// waiting for runtime confirmation.
func (s *Supervisor) Load(extID string) error {
	s.mu.Lock()
	if s.loaded[extID] {
		s.mu.Unlock()
		return nil
	}
	meta, ok := s.registry[extID]
	if !ok {
		s.mu.Unlock()
		return &types.LoadError{ExtensionID: extID, Err: fmt.Errorf("unknown extension")}
	}
	path := meta.Path
	s.mu.Unlock()

	msg, err := protocol.New(protocol.TypeLoadExtension, &protocol.LoadPayload{
		ExtensionID: extID,
		Path:        path,
	})
	if err != nil {
		return &types.LoadError{ExtensionID: extID, Err: err}
	}
	if err := s.send(msg); err != nil {
		return &types.LoadError{ExtensionID: extID, Err: err}
	}

	s.mu.Lock()
	s.loaded[extID] = true
	s.mu.Unlock()
	return nil
}

// Activate executes an extension's entry module in the runtime and
// returns its exports. Already-active extensions return cached exports
// immediately. Confirmation is observed via the extension-activated
// event, polled at a fixed interval up to the activation timeout.
//
// Calls are serialized per extension id, so two concurrent activations
// of the same id produce exactly one activation side effect.
func (s *Supervisor) Activate(extID string) (map[string]interface{}, error) {
	unlock := s.idLocks.lock(extID)
	defer unlock()

	s.mu.Lock()
	if rec, ok := s.active[extID]; ok {
		exports := rec.exports
		s.mu.Unlock()
		return exports, nil
	}
	if s.state != StateReady {
		state := s.state
		s.mu.Unlock()
		s.metrics.RecordActivation("unavailable")
		return nil, &types.ActivationError{ExtensionID: extID,
			Reason: fmt.Sprintf("runtime not ready (state %s)", state)}
	}
	if _, known := s.registry[extID]; !known {
		s.mu.Unlock()
		s.metrics.RecordActivation("unknown")
		return nil, &types.ActivationError{ExtensionID: extID, Reason: "unknown extension"}
	}
	wasLoaded := s.loaded[extID]
	delete(s.activated, extID)
	delete(s.activationErrs, extID)
	s.mu.Unlock()

	if !wasLoaded {
		if err := s.Load(extID); err != nil {
			s.metrics.RecordActivation("load_failed")
			return nil, &types.ActivationError{ExtensionID: extID, Reason: err.Error()}
		}
		// Give the runtime a moment to process the load before the
		// activation request lands.
		time.Sleep(s.opts.SettleDelay)
	}

	msg, err := protocol.New(protocol.TypeActivateExtension, &protocol.ActivatePayload{ExtensionID: extID})
	if err != nil {
		return nil, &types.ActivationError{ExtensionID: extID, Reason: err.Error()}
	}
	if err := s.send(msg); err != nil {
		s.metrics.RecordActivation("send_failed")
		return nil, &types.ActivationError{ExtensionID: extID, Reason: err.Error()}
	}

	deadline := time.Now().Add(s.opts.ActivationTimeout)
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for range ticker.C {
		s.mu.Lock()
		if reason, failed := s.activationErrs[extID]; failed {
			delete(s.activationErrs, extID)
			s.mu.Unlock()
			s.metrics.RecordActivation("error")
			return nil, &types.ActivationError{ExtensionID: extID, Reason: reason}
		}
		if s.activated[extID] {
			rec := s.active[extID]
			s.mu.Unlock()
			s.metrics.RecordActivation("ok")
			return rec.exports, nil
		}
		state := s.state
		s.mu.Unlock()

		if state != StateReady {
			s.metrics.RecordActivation("process_lost")
			return nil, &types.ActivationError{ExtensionID: extID, Reason: "runtime process lost"}
		}
		if time.Now().After(deadline) {
			break
		}
	}

	s.metrics.RecordActivation("timeout")
	return nil, &types.ActivationError{ExtensionID: extID,
		Reason: fmt.Sprintf("no confirmation within %s", s.opts.ActivationTimeout)}
}

// Deactivate tears an extension down. No-op when not active. The
// extension is marked inactive and its commands purged immediately,
// without waiting for runtime confirmation.
func (s *Supervisor) Deactivate(extID string) error {
	unlock := s.idLocks.lock(extID)
	defer unlock()

	s.mu.Lock()
	if _, ok := s.active[extID]; !ok {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	msg, err := protocol.New(protocol.TypeDeactivateExtension, &protocol.DeactivatePayload{ExtensionID: extID})
	if err == nil {
		if sendErr := s.send(msg); sendErr != nil {
			s.log.Warn("deactivate request not delivered",
				zap.String("extension", extID), zap.Error(sendErr))
		}
	}

	s.mu.Lock()
	delete(s.active, extID)
	delete(s.activated, extID)
	delete(s.loaded, extID)
	s.purgeCommands(extID)
	if meta, ok := s.registry[extID]; ok {
		meta.IsActive = false
	}
	activeCount := len(s.active)
	s.mu.Unlock()

	s.metrics.Deactivations.Inc()
	s.metrics.ExtensionsActive.Set(float64(activeCount))
	return nil
}

// Install validates and extracts an extension archive, replacing any
// existing install of the same id, then re-scans and returns the new
// metadata. Operates independently of runtime liveness.
func (s *Supervisor) Install(archivePath string) (*types.ExtensionMetadata, error) {
	manifest, _, err := s.installer.Install(archivePath, func(extID string) {
		if err := s.Deactivate(extID); err != nil {
			s.log.Warn("deactivation before replace failed",
				zap.String("extension", extID), zap.Error(err))
		}
	})
	if err != nil {
		s.metrics.RecordInstall("error")
		return nil, err
	}

	if _, err := s.Scan(); err != nil {
		s.metrics.RecordInstall("error")
		return nil, err
	}

	meta, ok := s.Metadata(manifest.ID())
	if !ok {
		s.metrics.RecordInstall("error")
		return nil, &types.InstallError{Archive: archivePath,
			Reason: fmt.Sprintf("installed package %s missing after re-scan", manifest.ID())}
	}

	s.metrics.RecordInstall("ok")
	s.log.Info("extension installed",
		zap.String("extension", meta.ID), zap.String("version", meta.Version))
	return meta, nil
}

// Uninstall deactivates an extension if active, removes its on-disk
// directory, and purges its registry entries.
func (s *Supervisor) Uninstall(extID string) error {
	if err := s.Deactivate(extID); err != nil {
		return err
	}

	s.mu.Lock()
	meta, known := s.registry[extID]
	var path string
	if known {
		path = meta.Path
	}
	s.mu.Unlock()

	if !known {
		return fmt.Errorf("unknown extension: %s", extID)
	}

	if err := s.installer.Remove(path); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.registry, extID)
	delete(s.loaded, extID)
	registered := len(s.registry)
	s.mu.Unlock()

	s.metrics.Uninstalls.Inc()
	s.metrics.ExtensionsKnown.Set(float64(registered))
	s.log.Info("extension uninstalled", zap.String("extension", extID))
	return nil
}

// Contributions aggregates declarative contribution points across all
// known extensions, not only active ones.
func (s *Supervisor) Contributions() *types.AggregateContributions {
	return contributions.Aggregate(s.Extensions())
}

// DownloadToPath fetches a URL into a local file through the host's
// download client.
func (s *Supervisor) DownloadToPath(ctx context.Context, url, destPath string) error {
	if s.opts.Downloader == nil {
		return &types.DownloadError{URL: url, Reason: "no download client configured"}
	}
	return s.opts.Downloader.FetchToFile(ctx, url, destPath)
}

// send delivers a message now if the channel is ready, or enqueues it
// for a FIFO flush once readiness is reached.
func (s *Supervisor) send(msg *protocol.Message) error {
	s.mu.Lock()
	switch s.state {
	case StateReady:
		transport := s.transport
		s.mu.Unlock()
		s.metrics.RecordMessage("out", string(msg.Type))
		return transport.Send(msg)
	case StateStarting, StateNotStarted:
		s.pendingSends = append(s.pendingSends, msg)
		depth := len(s.pendingSends)
		s.mu.Unlock()
		s.metrics.QueuedDepth.Set(float64(depth))
		return nil
	default:
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("runtime not available (state %s)", state)
	}
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// receiveLoop consumes runtime messages until the channel closes.
func (s *Supervisor) receiveLoop(transport Transport) {
	for msg := range transport.Messages() {
		s.metrics.RecordMessage("in", string(msg.Type))
		s.handleIncoming(transport, msg)
	}
}

// watchExit observes the runtime process exiting. An exit outside of an
// orderly stop invalidates the subsystem until restarted.
func (s *Supervisor) watchExit(transport Transport) {
	err := <-transport.Exited()

	s.mu.Lock()
	orderly := s.state == StateStopping || s.state == StateStopped
	if !orderly {
		s.state = StateError
	}
	s.mu.Unlock()

	if !orderly {
		s.metrics.RuntimeCrashes.Inc()
		procErr := &types.ProcessError{ExitCode: ExitCode(err), Err: err}
		s.log.Error("runtime process exited unexpectedly", zap.Error(procErr))
	}
}

func (s *Supervisor) handleIncoming(transport Transport, msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeReady:
		s.handleReady(transport)

	case protocol.TypeExtensionLoaded:
		var payload protocol.LoadPayload
		if err := msg.Decode(&payload); err == nil {
			s.log.Debug("extension loaded", zap.String("extension", payload.ExtensionID))
		}

	case protocol.TypeExtensionActivated:
		var payload protocol.ActivatedPayload
		if err := msg.Decode(&payload); err != nil {
			s.log.Warn("bad activation report", zap.Error(err))
			return
		}
		s.handleActivated(&payload)

	case protocol.TypeExtensionDeactivated:
		var payload protocol.DeactivatedPayload
		if err := msg.Decode(&payload); err == nil {
			s.events.publish(Event{Type: EventExtensionDeactivated, ExtensionID: payload.ExtensionID})
		}

	case protocol.TypeRegisterCommand:
		var payload protocol.CommandPayload
		if err := msg.Decode(&payload); err == nil {
			s.handleRegisterCommand(&payload)
		}

	case protocol.TypeUnregisterCommand:
		var payload protocol.CommandPayload
		if err := msg.Decode(&payload); err == nil {
			s.handleUnregisterCommand(&payload)
		}

	case protocol.TypeExecuteCommand:
		// A plugin asked the host to run a command. Execute off-loop and
		// reply with the same correlation id.
		var payload protocol.CommandPayload
		if err := msg.Decode(&payload); err != nil {
			return
		}
		go s.replyToCommandRequest(transport, msg.ID, &payload)

	case protocol.TypeCommandResult:
		var payload protocol.CommandResultPayload
		if err := msg.Decode(&payload); err != nil {
			return
		}
		s.mu.Lock()
		reply, ok := s.pendingReplies[msg.ID]
		s.mu.Unlock()
		if ok {
			reply <- &payload
		}

	case protocol.TypeShowMessage:
		var payload protocol.ShowMessagePayload
		if err := msg.Decode(&payload); err == nil {
			s.events.publish(Event{
				Type:        EventShowMessage,
				ExtensionID: payload.ExtensionID,
				Level:       payload.Level,
				Message:     payload.Message,
			})
		}

	case protocol.TypeError:
		s.handleRuntimeError(msg)

	case protocol.TypeDisposed:
		s.mu.Lock()
		disposedCh := s.disposedCh
		s.mu.Unlock()
		if disposedCh != nil {
			close(disposedCh)
		}

	default:
		s.log.Warn("unknown runtime message", zap.String("type", string(msg.Type)))
	}
}

func (s *Supervisor) handleReady(transport Transport) {
	s.mu.Lock()
	if s.state != StateStarting {
		s.mu.Unlock()
		return
	}
	s.state = StateReady
	queued := s.pendingSends
	s.pendingSends = nil
	readyCh := s.readyCh
	s.mu.Unlock()

	// Flush in FIFO order before any new sends observe the ready state
	// through their own path; both funnel through the same transport so
	// ordering holds.
	for _, pending := range queued {
		s.metrics.RecordMessage("out", string(pending.Type))
		if err := transport.Send(pending); err != nil {
			s.log.Warn("queued message flush failed",
				zap.String("type", string(pending.Type)), zap.Error(err))
		}
	}
	s.metrics.QueuedDepth.Set(0)

	close(readyCh)
}

func (s *Supervisor) handleActivated(payload *protocol.ActivatedPayload) {
	s.mu.Lock()
	meta := s.registry[payload.ExtensionID]
	if meta != nil {
		meta.IsActive = true
	}
	s.active[payload.ExtensionID] = &activeRecord{meta: meta, exports: payload.Exports}
	s.activated[payload.ExtensionID] = true
	activeCount := len(s.active)
	s.mu.Unlock()

	s.metrics.ExtensionsActive.Set(float64(activeCount))
	s.events.publish(Event{Type: EventExtensionActivated, ExtensionID: payload.ExtensionID})
	s.log.Info("extension activated", zap.String("extension", payload.ExtensionID))
}

func (s *Supervisor) handleRuntimeError(msg *protocol.Message) {
	var payload protocol.ErrorPayload
	if err := msg.Decode(&payload); err != nil {
		s.log.Error("runtime error", zap.String("detail", msg.Error))
		return
	}

	if payload.Operation == "activate" && payload.ExtensionID != "" {
		s.mu.Lock()
		s.activationErrs[payload.ExtensionID] = payload.Detail
		s.mu.Unlock()
	}

	s.log.Error("runtime error",
		zap.String("extension", payload.ExtensionID),
		zap.String("operation", payload.Operation),
		zap.String("detail", payload.Detail))
}

func (s *Supervisor) replyToCommandRequest(transport Transport, requestID string, payload *protocol.CommandPayload) {
	result, err := s.ExecuteCommand(payload.Command, payload.Args)

	resultPayload := &protocol.CommandResultPayload{Command: payload.Command, Result: result}
	if err != nil {
		resultPayload.Error = err.Error()
	}

	reply, buildErr := protocol.New(protocol.TypeCommandResult, resultPayload)
	if buildErr != nil {
		return
	}
	reply.ID = requestID
	if sendErr := transport.Send(reply); sendErr != nil {
		s.log.Warn("command reply not delivered", zap.Error(sendErr))
	}
}

// keyedMutex serializes operations per extension id: an activate and a
// deactivate for the same id issued concurrently take turns instead of
// racing across the message channel.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*entryLock)}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &entryLock{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
