package runtime

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dop251/goja"
	"github.com/lattice-editor/exthost/internal/protocol"
	"github.com/lattice-editor/exthost/internal/shared/types"
	"go.uber.org/zap"
)

const (
	defaultEntry = "main.js"

	// Budgets interrupt runaway plugin code. Activation gets the larger
	// budget since entry modules may do real setup work.
	activationBudget = 30 * time.Second
	invocationBudget = 10 * time.Second
)

// loadedExtension is a recorded, not yet executed, extension.
type loadedExtension struct {
	id       string
	path     string
	manifest *types.Manifest
}

// activeExtension holds one extension's VM and everything it registered.
// A fresh VM is built per activation, so reactivation never observes
// stale module state.
type activeExtension struct {
	id         string
	svc        *Service
	vm         *goja.Runtime
	exports    map[string]interface{}
	exportsVal goja.Value

	commands      map[string]goja.Callable
	subscriptions []goja.Value // auto-tracked disposables
	subsArray     *goja.Object // plugin-visible host.subscriptions
}

// handleLoad validates the extension directory and records it for later
// activation. No plugin code runs here. The manifest is re-read on every
// load, never served from the record: an install may have replaced the
// directory since the last one, and a reload must see the new entry
// point and pass compatibility checks again.
func (s *Service) handleLoad(payload *protocol.LoadPayload) {
	if _, err := os.Stat(payload.Path); err != nil {
		s.reportError(payload.ExtensionID, "load", fmt.Sprintf("path unreadable: %v", err))
		return
	}

	manifest, err := readManifest(payload.Path)
	if err != nil {
		s.reportError(payload.ExtensionID, "load", err.Error())
		return
	}
	if !manifest.Compatible() {
		s.reportError(payload.ExtensionID, "load", "manifest missing compatibility marker")
		return
	}

	s.loaded[payload.ExtensionID] = &loadedExtension{
		id:       payload.ExtensionID,
		path:     payload.Path,
		manifest: manifest,
	}
	s.log.Info("extension loaded",
		zap.String("extension", payload.ExtensionID), zap.String("path", payload.Path))
	s.sendEvent(protocol.TypeExtensionLoaded, payload)
}

func readManifest(dir string) (*types.Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, types.ManifestFileName))
	if err != nil {
		return nil, &types.ManifestError{Path: dir, Err: err}
	}
	var manifest types.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, &types.ManifestError{Path: dir, Err: err}
	}
	if err := manifest.Validate(); err != nil {
		return nil, &types.ManifestError{Path: dir, Err: err}
	}
	return &manifest, nil
}

// handleActivate executes the entry module and reports the exports.
// Idempotent: an already active extension re-reports its cached exports
// without re-executing anything.
func (s *Service) handleActivate(extID string) {
	if act, ok := s.active[extID]; ok {
		s.sendEvent(protocol.TypeExtensionActivated, &protocol.ActivatedPayload{
			ExtensionID: extID,
			Exports:     act.exports,
		})
		return
	}

	loadedExt, ok := s.loaded[extID]
	if !ok {
		s.reportError(extID, "activate", "extension not loaded")
		return
	}

	act, err := s.activateExtension(loadedExt)
	if err != nil {
		s.reportError(extID, "activate", err.Error())
		return
	}

	s.active[extID] = act
	s.log.Info("extension activated", zap.String("extension", extID))
	s.sendEvent(protocol.TypeExtensionActivated, &protocol.ActivatedPayload{
		ExtensionID: extID,
		Exports:     act.exports,
	})
}

// activateExtension builds a fresh VM, runs the entry module through a
// CommonJS-style wrapper, and invokes the activate hook if exported.
func (s *Service) activateExtension(loadedExt *loadedExtension) (*activeExtension, error) {
	entry := loadedExt.manifest.MainEntry
	if entry == "" {
		entry = defaultEntry
	}
	entryPath := filepath.Join(loadedExt.path, entry)

	source, err := os.ReadFile(entryPath)
	if err != nil {
		return nil, fmt.Errorf("entry module unreadable: %v", err)
	}

	act := &activeExtension{
		id:       loadedExt.id,
		svc:      s,
		vm:       goja.New(),
		commands: make(map[string]goja.Callable),
	}
	act.setupGlobals()

	host, err := act.buildHostAPI()
	if err != nil {
		return nil, fmt.Errorf("capability surface: %v", err)
	}

	wrapped := "(function(module, exports, host) {\n" + string(source) + "\n})"

	factoryVal, err := act.withBudget(activationBudget, func() (goja.Value, error) {
		return act.vm.RunScript(entryPath, wrapped)
	})
	if err != nil {
		return nil, fmt.Errorf("entry module: %v", err)
	}
	factory, ok := goja.AssertFunction(factoryVal)
	if !ok {
		return nil, fmt.Errorf("entry module did not compile to a module function")
	}

	moduleObj := act.vm.NewObject()
	exportsObj := act.vm.NewObject()
	if err := moduleObj.Set("exports", exportsObj); err != nil {
		return nil, err
	}

	_, err = act.withBudget(activationBudget, func() (goja.Value, error) {
		return factory(goja.Undefined(), moduleObj, exportsObj, host)
	})
	if err != nil {
		return nil, fmt.Errorf("entry module threw: %v", err)
	}

	exportsVal := moduleObj.Get("exports")
	if hook, ok := hookFunction(act.vm, exportsVal, "activate"); ok {
		_, err = act.withBudget(activationBudget, func() (goja.Value, error) {
			return hook(exportsVal, host)
		})
		if err != nil {
			return nil, fmt.Errorf("activate hook threw: %v", err)
		}
	}

	act.exportsVal = exportsVal
	act.exports = sanitizeExports(act.vm, exportsVal)
	return act, nil
}

// handleDeactivate tears an active extension down. The deactivate hook
// and every subscription disposal run under catch-and-log; teardown
// always completes and the extension always leaves the active set.
func (s *Service) handleDeactivate(extID string) {
	act, ok := s.active[extID]
	if !ok {
		s.log.Debug("deactivate for inactive extension", zap.String("extension", extID))
		return
	}

	if hook, ok := hookFunction(act.vm, act.exportsVal, "deactivate"); ok {
		if _, err := act.withBudget(invocationBudget, func() (goja.Value, error) {
			return hook(act.exportsVal)
		}); err != nil {
			s.log.Warn("deactivate hook threw",
				zap.String("extension", extID), zap.Error(err))
		}
	}

	act.disposeSubscriptions()

	for name := range act.commands {
		delete(s.byName, name)
	}
	delete(s.active, extID)

	s.log.Info("extension deactivated", zap.String("extension", extID))
	s.sendEvent(protocol.TypeExtensionDeactivated, &protocol.DeactivatedPayload{ExtensionID: extID})
}

// invokeCommand runs one registered command callback.
func (e *activeExtension) invokeCommand(name string, args []interface{}) (interface{}, error) {
	fn, ok := e.commands[name]
	if !ok {
		return nil, fmt.Errorf("command not registered: %s", name)
	}

	jsArgs := make([]goja.Value, len(args))
	for i, arg := range args {
		jsArgs[i] = e.vm.ToValue(arg)
	}

	result, err := e.withBudget(invocationBudget, func() (goja.Value, error) {
		return fn(goja.Undefined(), jsArgs...)
	})
	if err != nil {
		return nil, fmt.Errorf("command %s threw: %v", name, err)
	}
	return sanitizeValue(result.Export()), nil
}

// disposeSubscriptions disposes auto-tracked disposables and everything
// the plugin pushed onto host.subscriptions, newest first. Individual
// failures are logged, never propagated.
func (e *activeExtension) disposeSubscriptions() {
	items := append([]goja.Value{}, e.subscriptions...)
	if e.subsArray != nil {
		length := int(e.subsArray.Get("length").ToInteger())
		for i := 0; i < length; i++ {
			items = append(items, e.subsArray.Get(fmt.Sprintf("%d", i)))
		}
	}

	for i := len(items) - 1; i >= 0; i-- {
		e.disposeOne(items[i])
	}
	e.subscriptions = nil
}

func (e *activeExtension) disposeOne(item goja.Value) {
	defer func() {
		if r := recover(); r != nil {
			e.svc.log.Warn("subscription disposal panic",
				zap.String("extension", e.id), zap.Any("panic", r))
		}
	}()

	if item == nil || goja.IsUndefined(item) || goja.IsNull(item) {
		return
	}

	var err error
	if fn, ok := goja.AssertFunction(item); ok {
		_, err = fn(goja.Undefined())
	} else if obj := item.ToObject(e.vm); obj != nil {
		if fn, ok := goja.AssertFunction(obj.Get("dispose")); ok {
			_, err = fn(obj)
		}
	}
	if err != nil {
		e.svc.log.Warn("subscription disposal threw",
			zap.String("extension", e.id), zap.Error(err))
	}
}

// withBudget runs fn with an interrupt timer so runaway plugin code
// cannot hang the loop.
func (e *activeExtension) withBudget(budget time.Duration, fn func() (goja.Value, error)) (goja.Value, error) {
	timer := time.AfterFunc(budget, func() {
		e.vm.Interrupt("execution budget exceeded")
	})
	defer timer.Stop()
	defer e.vm.ClearInterrupt()
	return fn()
}

// hookFunction looks up an exported lifecycle hook.
func hookFunction(vm *goja.Runtime, exports goja.Value, name string) (goja.Callable, bool) {
	if exports == nil || goja.IsUndefined(exports) || goja.IsNull(exports) {
		return nil, false
	}
	obj := exports.ToObject(vm)
	if obj == nil {
		return nil, false
	}
	return goja.AssertFunction(obj.Get(name))
}

// sanitizeExports flattens a module's exports into a JSON-safe map.
// Functions and other non-serializable values are dropped; they stay
// callable inside the VM but cannot cross the process boundary.
func sanitizeExports(vm *goja.Runtime, exports goja.Value) map[string]interface{} {
	out := make(map[string]interface{})
	if exports == nil || goja.IsUndefined(exports) || goja.IsNull(exports) {
		return out
	}
	obj := exports.ToObject(vm)
	if obj == nil {
		return out
	}

	for _, key := range obj.Keys() {
		exported := obj.Get(key).Export()
		data, err := json.Marshal(exported)
		if err != nil {
			continue
		}
		var value interface{}
		if err := json.Unmarshal(data, &value); err != nil {
			continue
		}
		out[key] = value
	}
	return out
}

// sanitizeValue round-trips a value through JSON so only serializable
// data crosses the boundary.
func sanitizeValue(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
