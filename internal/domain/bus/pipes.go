package bus

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/flightcore/softbus/internal/domain/buffer"
	"github.com/flightcore/softbus/internal/domain/pipe"
	"github.com/flightcore/softbus/internal/domain/routing"
	"github.com/flightcore/softbus/internal/shared/id"
)

// CreatePipe creates a pipe of the given depth owned by owner.
func (b *Bus) CreatePipe(owner id.TaskID, depth int, name string) (id.ResourceID, error) {
	pid, err := b.createPipe(owner, depth, name)
	if err != nil {
		b.counters.createPipeError.Add(1)
		b.events.emit(EventPipeCreateErr, zap.ErrorLevel, "CreatePipe failed",
			zap.String("task", owner.String()),
			zap.String("pipe_name", name),
			zap.Int("depth", depth),
			zap.Error(err),
		)
		return id.Undefined, err
	}

	b.events.emit(EventPipeCreated, zap.DebugLevel, "Pipe created",
		zap.String("task", owner.String()),
		zap.String("pipe_name", name),
		zap.Stringer("pipe", pid),
		zap.Int("depth", depth),
	)
	return pid, nil
}

func (b *Bus) createPipe(owner id.TaskID, depth int, name string) (id.ResourceID, error) {
	if !owner.Valid() {
		return id.Undefined, fmt.Errorf("%w: invalid owner %q", ErrBadArgument, owner)
	}
	if depth <= 0 || depth > b.cfg.MaxPipeDepth {
		return id.Undefined, fmt.Errorf("%w: depth %d not in [1, %d]", ErrBadArgument, depth, b.cfg.MaxPipeDepth)
	}
	if err := pipe.ValidateName(name, b.cfg.MaxPipeNameLen); err != nil {
		return id.Undefined, fmt.Errorf("%w: %w", ErrBadArgument, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return id.Undefined, ErrClosed
	}
	if _, taken := b.names[name]; taken {
		return id.Undefined, fmt.Errorf("%w: name %q in use", ErrPipeCreate, name)
	}

	p := pipe.New(name, owner, depth)
	pid, _, ok := b.pipes.Alloc(p)
	if !ok {
		return id.Undefined, fmt.Errorf("%w: %d pipes", ErrMaxPipesMet, b.pipes.Cap())
	}
	p.ID = pid
	b.names[name] = pid
	b.trackPeaksLocked()
	return pid, nil
}

// DeletePipe deletes a pipe owned by caller. Its subscriptions are removed,
// queued buffers are released and blocked receivers return ErrPipeRead.
func (b *Bus) DeletePipe(caller id.TaskID, pid id.ResourceID) error {
	b.mu.Lock()
	p, err := b.ownedPipeLocked(caller, pid)
	if err != nil {
		b.mu.Unlock()
		b.events.emit(EventPipeDeleteErr, zap.ErrorLevel, "DeletePipe failed",
			zap.String("task", caller.String()),
			zap.Stringer("pipe", pid),
			zap.Error(err),
		)
		return err
	}
	d := b.detachLocked(p)
	b.mu.Unlock()

	b.drain(d)
	b.events.emit(EventPipeDeleted, zap.DebugLevel, "Pipe deleted",
		zap.String("task", caller.String()),
		zap.String("pipe_name", d.pipe.Name),
		zap.Stringer("pipe", pid),
		zap.Int("subscriptions_removed", len(d.removed)),
	)
	return nil
}

// CleanUpApp deletes every pipe owned by task and releases its outstanding
// zero-copy buffers. It is the path used when a task exits.
func (b *Bus) CleanUpApp(task id.TaskID) (pipes int, buffers int) {
	b.mu.Lock()
	var detached []detachedPipe
	b.pipes.Each(func(_ id.ResourceID, pp **pipe.Pipe) bool {
		if (*pp).Owner == task {
			detached = append(detached, b.detachLocked(*pp))
		}
		return true
	})
	orphans := b.takeZeroCopyLocked(func(e zeroCopyEntry) bool { return e.owner == task })
	b.mu.Unlock()

	for _, d := range detached {
		b.drain(d)
	}
	for _, buf := range orphans {
		b.release(buf)
	}

	b.events.emit(EventCleanUp, zap.InfoLevel, "Task resources released",
		zap.String("task", task.String()),
		zap.Int("pipes", len(detached)),
		zap.Int("zero_copy_buffers", len(orphans)),
	)
	return len(detached), len(orphans)
}

// SetPipeOpts replaces the option bits of a pipe owned by caller.
func (b *Bus) SetPipeOpts(caller id.TaskID, pid id.ResourceID, opts pipe.Opts) error {
	err := func() error {
		if !opts.Valid() {
			return fmt.Errorf("%w: unknown option bits 0x%02x", ErrBadArgument, uint8(opts))
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		p, err := b.ownedPipeLocked(caller, pid)
		if err != nil {
			return err
		}
		p.Opts = opts
		return nil
	}()
	if err != nil {
		b.counters.pipeOptsError.Add(1)
		b.events.emit(EventPipeOptsErr, zap.ErrorLevel, "SetPipeOpts failed",
			zap.String("task", caller.String()),
			zap.Stringer("pipe", pid),
			zap.Error(err),
		)
		return err
	}
	b.events.emit(EventPipeOptsSet, zap.DebugLevel, "Pipe options set",
		zap.Stringer("pipe", pid),
		zap.Uint8("opts", uint8(opts)),
	)
	return nil
}

// GetPipeOpts returns a pipe's option bits.
func (b *Bus) GetPipeOpts(pid id.ResourceID) (pipe.Opts, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pipes.Get(pid)
	if !ok {
		b.counters.pipeOptsError.Add(1)
		return 0, fmt.Errorf("%w: unknown pipe %s", ErrBadArgument, pid)
	}
	return (*p).Opts, nil
}

// GetPipeName returns a pipe's name.
func (b *Bus) GetPipeName(pid id.ResourceID) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pipes.Get(pid)
	if !ok {
		return "", fmt.Errorf("%w: unknown pipe %s", ErrBadArgument, pid)
	}
	return (*p).Name, nil
}

// GetPipeIDByName looks a pipe up by name.
func (b *Bus) GetPipeIDByName(name string) (id.ResourceID, error) {
	if name == "" {
		return id.Undefined, fmt.Errorf("%w: empty pipe name", ErrBadArgument)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	pid, ok := b.names[name]
	if !ok {
		return id.Undefined, fmt.Errorf("%w: no pipe named %q", ErrBadArgument, name)
	}
	return pid, nil
}

// PipeInfo returns a snapshot of one pipe.
func (b *Bus) PipeInfo(pid id.ResourceID) (pipe.Info, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pipes.Get(pid)
	if !ok {
		return pipe.Info{}, fmt.Errorf("%w: unknown pipe %s", ErrBadArgument, pid)
	}
	return (*p).Info(), nil
}

func (b *Bus) ownedPipeLocked(caller id.TaskID, pid id.ResourceID) (*pipe.Pipe, error) {
	pp, ok := b.pipes.Get(pid)
	if !ok {
		return nil, fmt.Errorf("%w: unknown pipe %s", ErrBadArgument, pid)
	}
	p := *pp
	if p.Owner != caller {
		return nil, fmt.Errorf("%w: pipe %s owned by %s, caller %s", ErrNotOwner, p.Name, p.Owner, caller)
	}
	return p, nil
}

type detachedPipe struct {
	pipe    *pipe.Pipe
	last    *buffer.Buffer
	removed []routing.Removal
}

// detachLocked unlinks p from the routing and pipe tables and closes its
// queue. The caller drains it after releasing the lock.
func (b *Bus) detachLocked(p *pipe.Pipe) detachedPipe {
	d := detachedPipe{
		pipe:    p,
		last:    p.LastBuffer,
		removed: b.routes.RemovePipe(p.ID),
	}
	p.LastBuffer = nil
	delete(b.names, p.Name)
	b.pipes.Free(p.ID)
	p.Queue.Close()
	return d
}

func (b *Bus) drain(d detachedPipe) {
	if d.last != nil {
		b.release(d.last)
	}
	for _, buf := range d.pipe.Queue.Drain() {
		b.release(buf)
	}
}
