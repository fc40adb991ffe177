package pipe

import (
	"errors"
	"fmt"

	"github.com/flightcore/softbus/internal/domain/buffer"
	"github.com/flightcore/softbus/internal/shared/id"
)

// Opts is the pipe option bit-field.
type Opts uint8

const (
	// OptIgnoreMine drops messages whose sender owns the pipe.
	OptIgnoreMine Opts = 1 << 0

	validOpts = OptIgnoreMine
)

// Valid reports whether only known bits are set.
func (o Opts) Valid() bool { return o&^validOpts == 0 }

func (o Opts) Has(flag Opts) bool { return o&flag != 0 }

var ErrInvalidName = errors.New("invalid pipe name")

// ValidateName checks that a pipe name is non-empty, fits maxLen bytes and
// holds printable ASCII only.
func ValidateName(name string, maxLen int) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if len(name) > maxLen {
		return fmt.Errorf("%w: %q longer than %d bytes", ErrInvalidName, name, maxLen)
	}
	for i := 0; i < len(name); i++ {
		if c := name[i]; c < 0x21 || c > 0x7E {
			return fmt.Errorf("%w: %q has byte 0x%02x at %d", ErrInvalidName, name, c, i)
		}
	}
	return nil
}

// Pipe is one task's inbox. All fields except Queue are guarded by the
// bus routing lock.
type Pipe struct {
	ID    id.ResourceID
	Name  string
	Owner id.TaskID
	Opts  Opts
	Queue *Queue

	CurrentDepth int
	PeakDepth    int
	SendErrors   int

	// LastBuffer is the buffer handed out by the previous receive. It is
	// released by the next receive or when the pipe is deleted.
	LastBuffer *buffer.Buffer
}

// New creates a pipe with a queue of the given depth.
func New(name string, owner id.TaskID, depth int) *Pipe {
	return &Pipe{
		Name:  name,
		Owner: owner,
		Queue: NewQueue(depth),
	}
}

// Enqueue puts b on the queue without blocking and updates occupancy.
func (p *Pipe) Enqueue(b *buffer.Buffer) error {
	if err := p.Queue.TryPut(b); err != nil {
		return err
	}
	p.CurrentDepth++
	if p.CurrentDepth > p.PeakDepth {
		p.PeakDepth = p.CurrentDepth
	}
	return nil
}

// Dequeued records that one item left the queue.
func (p *Pipe) Dequeued() {
	if p.CurrentDepth > 0 {
		p.CurrentDepth--
	}
}

// ResetStats clears error counts and sets the peak to the current depth.
func (p *Pipe) ResetStats() {
	p.SendErrors = 0
	p.PeakDepth = p.CurrentDepth
}

// Info is a copy of a pipe's state for diagnostics.
type Info struct {
	ID           id.ResourceID `json:"id"`
	Name         string        `json:"name"`
	Owner        id.TaskID     `json:"owner"`
	Opts         Opts          `json:"opts"`
	Depth        int           `json:"depth"`
	CurrentDepth int           `json:"current_depth"`
	PeakDepth    int           `json:"peak_depth"`
	SendErrors   int           `json:"send_errors"`
}

// Info snapshots the pipe.
func (p *Pipe) Info() Info {
	return Info{
		ID:           p.ID,
		Name:         p.Name,
		Owner:        p.Owner,
		Opts:         p.Opts,
		Depth:        p.Queue.Depth(),
		CurrentDepth: p.CurrentDepth,
		PeakDepth:    p.PeakDepth,
		SendErrors:   p.SendErrors,
	}
}
