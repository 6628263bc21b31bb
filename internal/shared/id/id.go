// Package id provides centralized ID generation for the extension host.
//
// This package offers type-safe ULID generation with:
//   - Lexicographic sortability: message ids sort by send time
//   - Prefixed types: msg_*, cmd_*, inst_* for readable logs
//   - Type safety: separate types prevent ID misuse across maps
//
// Correlation ids generated here are unique while pending, which is the
// invariant the supervisor's pending-reply table depends on.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// MessageID correlates a request envelope with its eventual response.
type MessageID string

// CommandID identifies a single command invocation.
type CommandID string

// InstallID names an install scratch directory.
type InstallID string

const (
	MessagePrefix = "msg"
	CommandPrefix = "cmd"
	InstallPrefix = "inst"
)

// Generator generates ULIDs with optional prefixes.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator with secure entropy.
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// NewGeneratorWithEntropy creates a generator with custom entropy source.
// Useful for testing with deterministic entropy.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string.
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// NewMessageID generates a correlation id for a protocol message.
func NewMessageID() MessageID {
	return MessageID(Default().GenerateWithPrefix(MessagePrefix))
}

// NewCommandID generates an id for a command invocation.
func NewCommandID() CommandID {
	return CommandID(Default().GenerateWithPrefix(CommandPrefix))
}

// NewInstallID generates an id for an install scratch directory.
func NewInstallID() InstallID {
	return InstallID(Default().GenerateWithPrefix(InstallPrefix))
}

func (id MessageID) String() string { return string(id) }
func (id CommandID) String() string { return string(id) }
func (id InstallID) String() string { return string(id) }

// IsValid checks if an ID string is a valid ULID.
func IsValid(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}
