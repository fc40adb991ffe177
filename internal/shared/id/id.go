// Package id provides identifier types for the software bus.
//
// Two families live here:
//   - Task identifiers: prefixed ULIDs (task_*) naming the publishers and
//     pipe owners that talk over the bus. Sortable and readable in logs.
//   - Resource identifiers: compact generation-checked handles for slots in
//     fixed-capacity tables (pipes, routes). See resource.go.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// TaskID identifies a task using the bus. Pipes record their owner by TaskID
// and transmits carry the sender's TaskID.
type TaskID string

// NoTask is the zero TaskID. It never owns a pipe.
const NoTask TaskID = ""

const (
	TaskPrefix = "task"
)

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator
func NewGenerator() *Generator {
	return &Generator{
		entropy: rand.Reader,
	}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: entropy,
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// NewTaskID generates a new task ID.
func NewTaskID() TaskID {
	return TaskID(Default().GenerateWithPrefix(TaskPrefix))
}

// NamedTaskID builds a well-known task ID such as "task_sb". Used for
// tasks that must be recognisable across restarts.
func NamedTaskID(name string) TaskID {
	return TaskID(TaskPrefix + "_" + name)
}

func (t TaskID) String() string { return string(t) }

// Valid reports whether t carries the task prefix and a non-empty suffix.
func (t TaskID) Valid() bool {
	rest, ok := strings.CutPrefix(string(t), TaskPrefix+"_")
	return ok && rest != ""
}

// IsValid checks if an ID string is a valid ULID
func IsValid(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}

// Parse parses a ULID string
func Parse(id string) (ulid.ULID, error) {
	return ulid.Parse(id)
}

// Timestamp extracts the creation time of a generated TaskID. Named task IDs
// carry no timestamp and return an error.
func Timestamp(t TaskID) (time.Time, error) {
	rest, ok := strings.CutPrefix(string(t), TaskPrefix+"_")
	if !ok {
		return time.Time{}, fmt.Errorf("task id %q has no %s prefix", t, TaskPrefix)
	}
	parsed, err := Parse(rest)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
