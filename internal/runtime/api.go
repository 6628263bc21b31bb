package runtime

import (
	"strings"

	"github.com/dop251/goja"
	"github.com/lattice-editor/exthost/internal/protocol"
	"go.uber.org/zap"
)

// eventEmitterJS is the minimal emitter primitive handed to plugins.
// Listeners subscribe through .event(fn) and receive a disposable.
const eventEmitterJS = `(function() {
	function EventEmitter() {
		this._listeners = [];
		var self = this;
		this.event = function(listener) {
			self._listeners.push(listener);
			return { dispose: function() {
				var i = self._listeners.indexOf(listener);
				if (i >= 0) self._listeners.splice(i, 1);
			}};
		};
	}
	EventEmitter.prototype.fire = function(data) {
		var snapshot = this._listeners.slice();
		for (var i = 0; i < snapshot.length; i++) snapshot[i](data);
	};
	EventEmitter.prototype.dispose = function() { this._listeners = []; };
	return EventEmitter;
})()`

// setupGlobals strips module-system globals and wires console output
// into the runtime's structured log stream.
func (e *activeExtension) setupGlobals() {
	vm := e.vm

	vm.Set("require", goja.Undefined())
	vm.Set("process", goja.Undefined())

	console := vm.NewObject()
	console.Set("log", e.makeConsoleFunc("info"))
	console.Set("info", e.makeConsoleFunc("info"))
	console.Set("warn", e.makeConsoleFunc("warn"))
	console.Set("error", e.makeConsoleFunc("error"))
	vm.Set("console", console)

	// Timers are deliberately inert; the loop is single-threaded.
	vm.Set("setTimeout", func(call goja.FunctionCall) goja.Value { return goja.Undefined() })
	vm.Set("setInterval", func(call goja.FunctionCall) goja.Value { return goja.Undefined() })
}

func (e *activeExtension) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		msg := strings.Join(parts, " ")

		switch level {
		case "warn":
			e.svc.log.Warn(msg, zap.String("extension", e.id), zap.String("source", "console"))
		case "error":
			e.svc.log.Error(msg, zap.String("extension", e.id), zap.String("source", "console"))
		default:
			e.svc.log.Info(msg, zap.String("extension", e.id), zap.String("source", "console"))
		}
		return goja.Undefined()
	}
}

// buildHostAPI assembles the capability surface scoped to this
// extension id. Namespaces are fixed: commands, window, workspace, an
// EventEmitter constructor, and the subscriptions array.
func (e *activeExtension) buildHostAPI() (*goja.Object, error) {
	vm := e.vm
	host := vm.NewObject()

	commands := vm.NewObject()
	commands.Set("registerCommand", e.registerCommand)
	commands.Set("executeCommand", e.executeCommand)
	host.Set("commands", commands)

	window := vm.NewObject()
	window.Set("showMessage", e.makeShowMessage(""))
	window.Set("showInformationMessage", e.makeShowMessage("info"))
	window.Set("showWarningMessage", e.makeShowMessage("warn"))
	window.Set("showErrorMessage", e.makeShowMessage("error"))
	host.Set("window", window)

	workspace := vm.NewObject()
	workspace.Set("getConfiguration", e.getConfiguration)
	host.Set("workspace", workspace)

	emitterCtor, err := vm.RunString(eventEmitterJS)
	if err != nil {
		return nil, err
	}
	host.Set("EventEmitter", emitterCtor)

	e.subsArray = vm.NewArray()
	host.Set("subscriptions", e.subsArray)

	return host, nil
}

// makeShowMessage builds a window notification function pinned to one
// level. Arguments are joined with spaces, matching console semantics.
func (e *activeExtension) makeShowMessage(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		e.svc.sendEvent(protocol.TypeShowMessage, &protocol.ShowMessagePayload{
			ExtensionID: e.id,
			Level:       level,
			Message:     strings.Join(parts, " "),
		})
		return goja.Undefined()
	}
}

// registerCommand records a command callback, notifies the supervisor,
// and returns a disposable. The disposable is also auto-tracked so the
// registration dies with the extension.
func (e *activeExtension) registerCommand(call goja.FunctionCall) goja.Value {
	vm := e.vm

	name := call.Argument(0).String()
	fn, ok := goja.AssertFunction(call.Argument(1))
	if name == "" || !ok {
		panic(vm.NewTypeError("registerCommand requires a name and a function"))
	}

	e.commands[name] = fn
	e.svc.byName[name] = &commandEntry{extensionID: e.id, ext: e, name: name}
	e.svc.sendEvent(protocol.TypeRegisterCommand, &protocol.CommandPayload{
		ExtensionID: e.id,
		Command:     name,
	})

	disposable := vm.NewObject()
	disposable.Set("dispose", func(goja.FunctionCall) goja.Value {
		if _, still := e.commands[name]; !still {
			return goja.Undefined()
		}
		delete(e.commands, name)
		if entry, ok := e.svc.byName[name]; ok && entry.extensionID == e.id {
			delete(e.svc.byName, name)
		}
		e.svc.sendEvent(protocol.TypeUnregisterCommand, &protocol.CommandPayload{
			ExtensionID: e.id,
			Command:     name,
		})
		return goja.Undefined()
	})

	e.subscriptions = append(e.subscriptions, disposable)
	return disposable
}

// executeCommand sends a correlated execution request to the host. The
// optional trailing function argument is invoked as callback(result,
// error) when the matching command-result arrives; delivery happens on
// the message loop, so the callback runs in this extension's VM safely.
func (e *activeExtension) executeCommand(call goja.FunctionCall) goja.Value {
	vm := e.vm

	name := call.Argument(0).String()
	if name == "" {
		panic(vm.NewTypeError("executeCommand requires a command name"))
	}

	rest := call.Arguments[1:]
	var callback goja.Callable
	if len(rest) > 0 {
		if fn, ok := goja.AssertFunction(rest[len(rest)-1]); ok {
			callback = fn
			rest = rest[:len(rest)-1]
		}
	}

	args := make([]interface{}, len(rest))
	for i, arg := range rest {
		args[i] = sanitizeValue(arg.Export())
	}

	msg, err := protocol.NewCorrelated(protocol.TypeExecuteCommand, &protocol.CommandPayload{
		ExtensionID: e.id,
		Command:     name,
		Args:        args,
	})
	if err != nil {
		panic(vm.NewGoError(err))
	}

	if callback != nil {
		e.svc.pending[msg.ID] = func(result interface{}, errDetail string) {
			var errVal goja.Value = goja.Null()
			if errDetail != "" {
				errVal = vm.ToValue(errDetail)
			}
			if _, err := callback(goja.Undefined(), vm.ToValue(result), errVal); err != nil {
				e.svc.log.Warn("command callback threw",
					zap.String("extension", e.id), zap.Error(err))
			}
		}
	}

	if err := e.svc.send(msg); err != nil {
		delete(e.svc.pending, msg.ID)
		panic(vm.NewGoError(err))
	}
	return goja.Undefined()
}

// getConfiguration is a stub: settings storage lives host-side, so
// plugins get defaults back until a settings channel exists.
func (e *activeExtension) getConfiguration(call goja.FunctionCall) goja.Value {
	vm := e.vm

	section := vm.NewObject()
	section.Set("get", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) > 1 {
			return call.Argument(1)
		}
		return goja.Undefined()
	})
	section.Set("has", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(false)
	})
	return section
}
