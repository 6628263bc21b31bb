package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/lattice-editor/exthost/internal/infrastructure/logging"
	"github.com/lattice-editor/exthost/internal/protocol"
	"go.uber.org/zap"
)

// Transport is the asynchronous, ordered, bidirectional message channel
// between the supervisor and the runtime process. Implementations must
// preserve per-direction FIFO delivery.
type Transport interface {
	// Start brings the channel up. For a process transport this spawns
	// the runtime binary.
	Start(ctx context.Context) error
	// Send delivers one message to the runtime.
	Send(msg *protocol.Message) error
	// Messages yields incoming runtime messages in arrival order. The
	// channel closes when the transport shuts down.
	Messages() <-chan *protocol.Message
	// Exited fires once with the transport's terminal error (nil for a
	// clean exit).
	Exited() <-chan error
	// Kill force-terminates the runtime side.
	Kill() error
}

// ProcessTransport runs the extension runtime as a child process and
// frames protocol messages over its stdin/stdout. The child's stderr is
// passed through so runtime logs reach the host's log stream.
type ProcessTransport struct {
	binary string
	args   []string
	log    *logging.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	codec  *protocol.Codec
	stdin  io.WriteCloser
	msgs   chan *protocol.Message
	exited chan error
}

// NewProcessTransport builds a transport for the given runtime binary.
func NewProcessTransport(binary string, log *logging.Logger, args ...string) *ProcessTransport {
	return &ProcessTransport{
		binary: binary,
		args:   args,
		log:    log,
		msgs:   make(chan *protocol.Message, 64),
		exited: make(chan error, 1),
	}
}

// Start spawns the runtime process and begins decoding its output.
func (t *ProcessTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cmd != nil {
		return fmt.Errorf("transport already started")
	}

	cmd := exec.CommandContext(ctx, t.binary, t.args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn runtime: %w", err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.codec = protocol.NewCodec(stdout, stdin)

	go t.readLoop()
	go t.waitLoop()

	return nil
}

func (t *ProcessTransport) readLoop() {
	for {
		msg, err := t.codec.Decode()
		if err != nil {
			if err != io.EOF {
				t.log.Warn("runtime stream closed", zap.Error(err))
			}
			close(t.msgs)
			return
		}
		t.msgs <- msg
	}
}

func (t *ProcessTransport) waitLoop() {
	err := t.cmd.Wait()
	t.exited <- err
}

// Send encodes one message onto the runtime's stdin.
func (t *ProcessTransport) Send(msg *protocol.Message) error {
	t.mu.Lock()
	codec := t.codec
	t.mu.Unlock()

	if codec == nil {
		return fmt.Errorf("transport not started")
	}
	return codec.Encode(msg)
}

// Messages yields runtime messages in arrival order.
func (t *ProcessTransport) Messages() <-chan *protocol.Message {
	return t.msgs
}

// Exited fires when the runtime process exits.
func (t *ProcessTransport) Exited() <-chan error {
	return t.exited
}

// Kill force-terminates the runtime process.
func (t *ProcessTransport) Kill() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cmd == nil || t.cmd.Process == nil {
		return nil
	}
	if err := t.cmd.Process.Kill(); err != nil && err != os.ErrProcessDone {
		return err
	}
	return nil
}

// ExitCode extracts a process exit code from a wait error, -1 if unknown.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			return status.ExitStatus()
		}
	}
	return -1
}

// PipeTransport connects the supervisor to an in-process runtime over
// io.Pipe pairs. Used by tests to exercise the full protocol without
// spawning a child process.
type PipeTransport struct {
	codec  *protocol.Codec
	msgs   chan *protocol.Message
	exited chan error
	runner func(ctx context.Context)

	closeOnce sync.Once
	closeFn   func()
}

// NewPipeTransport wires two pipe pairs and returns the transport plus
// the runtime-side reader/writer for the peer loop.
func NewPipeTransport(runner func(ctx context.Context, r io.Reader, w io.Writer)) *PipeTransport {
	hostIn, runtimeOut := io.Pipe()
	runtimeIn, hostOut := io.Pipe()

	t := &PipeTransport{
		codec:  protocol.NewCodec(hostIn, hostOut),
		msgs:   make(chan *protocol.Message, 64),
		exited: make(chan error, 1),
	}
	t.closeFn = func() {
		hostOut.Close()
		runtimeOut.Close()
	}
	t.runner = func(ctx context.Context) {
		runner(ctx, runtimeIn, runtimeOut)
		runtimeOut.Close()
		t.exited <- nil
	}
	return t
}

// Start launches the peer loop and the host-side reader.
func (t *PipeTransport) Start(ctx context.Context) error {
	go t.runner(ctx)
	go func() {
		for {
			msg, err := t.codec.Decode()
			if err != nil {
				close(t.msgs)
				return
			}
			t.msgs <- msg
		}
	}()
	return nil
}

// Send delivers one message to the peer loop.
func (t *PipeTransport) Send(msg *protocol.Message) error {
	return t.codec.Encode(msg)
}

// Messages yields peer messages in arrival order.
func (t *PipeTransport) Messages() <-chan *protocol.Message {
	return t.msgs
}

// Exited fires when the peer loop returns.
func (t *PipeTransport) Exited() <-chan error {
	return t.exited
}

// Kill tears the pipes down, unblocking both sides.
func (t *PipeTransport) Kill() error {
	t.closeOnce.Do(t.closeFn)
	return nil
}
