package bus

import (
	"context"
	"time"

	"github.com/flightcore/softbus/internal/domain/buffer"
	"github.com/flightcore/softbus/internal/domain/msg"
	"github.com/flightcore/softbus/internal/domain/pipe"
	"github.com/flightcore/softbus/internal/domain/routing"
	"github.com/flightcore/softbus/internal/shared/id"
)

// Client is the bus as seen by one task. Every call is made on behalf of
// that task, so ownership checks and ignore-mine filtering apply.
type Client struct {
	bus  *Bus
	task id.TaskID
}

// Client binds task to the bus.
func (b *Bus) Client(task id.TaskID) *Client {
	return &Client{bus: b, task: task}
}

// Task is the task this client acts for.
func (c *Client) Task() id.TaskID { return c.task }

// Bus returns the underlying bus.
func (c *Client) Bus() *Bus { return c.bus }

// CreatePipe creates a pipe owned by the client's task.
func (c *Client) CreatePipe(depth int, name string) (id.ResourceID, error) {
	return c.bus.CreatePipe(c.task, depth, name)
}

// DeletePipe deletes one of the task's pipes.
func (c *Client) DeletePipe(pid id.ResourceID) error {
	return c.bus.DeletePipe(c.task, pid)
}

// SetPipeOpts replaces the options of one of the task's pipes.
func (c *Client) SetPipeOpts(pid id.ResourceID, opts pipe.Opts) error {
	return c.bus.SetPipeOpts(c.task, pid, opts)
}

// GetPipeOpts returns the options of any pipe.
func (c *Client) GetPipeOpts(pid id.ResourceID) (pipe.Opts, error) {
	return c.bus.GetPipeOpts(pid)
}

// GetPipeName returns the name of any pipe.
func (c *Client) GetPipeName(pid id.ResourceID) (string, error) {
	return c.bus.GetPipeName(pid)
}

// GetPipeIDByName looks a pipe up by name.
func (c *Client) GetPipeIDByName(name string) (id.ResourceID, error) {
	return c.bus.GetPipeIDByName(name)
}

// Subscribe routes m to pid with the default msg limit.
func (c *Client) Subscribe(m msg.MsgID, pid id.ResourceID) error {
	return c.bus.Subscribe(c.task, m, pid)
}

// SubscribeEx routes m to pid with an explicit QoS and msg limit.
func (c *Client) SubscribeEx(m msg.MsgID, pid id.ResourceID, qos routing.QoS, limit int) error {
	return c.bus.SubscribeEx(c.task, m, pid, qos, limit)
}

// SubscribeLocal is SubscribeEx without a subscription report.
func (c *Client) SubscribeLocal(m msg.MsgID, pid id.ResourceID, limit int) error {
	return c.bus.SubscribeLocal(c.task, m, pid, limit)
}

// Unsubscribe removes m from pid.
func (c *Client) Unsubscribe(m msg.MsgID, pid id.ResourceID) error {
	return c.bus.Unsubscribe(c.task, m, pid)
}

// UnsubscribeLocal is Unsubscribe without a subscription report.
func (c *Client) UnsubscribeLocal(m msg.MsgID, pid id.ResourceID) error {
	return c.bus.UnsubscribeLocal(c.task, m, pid)
}

// TransmitMsg copies data into a bus buffer and publishes it.
func (c *Client) TransmitMsg(data []byte, incSeq bool) (TransmitResult, error) {
	return c.bus.TransmitMsg(c.task, data, incSeq)
}

// ReceiveBuffer waits up to timeout for the next buffer on pid.
func (c *Client) ReceiveBuffer(ctx context.Context, pid id.ResourceID, timeout time.Duration) (*buffer.Buffer, error) {
	return c.bus.ReceiveBuffer(ctx, pid, timeout)
}

// ZeroCopyGetPtr lends the task a buffer to fill in place.
func (c *Client) ZeroCopyGetPtr(size int) (*buffer.Buffer, ZeroCopyHandle, error) {
	return c.bus.ZeroCopyGetPtr(c.task, size)
}

// ZeroCopyReleasePtr returns an unsent zero-copy buffer.
func (c *Client) ZeroCopyReleasePtr(buf *buffer.Buffer, h ZeroCopyHandle) error {
	return c.bus.ZeroCopyReleasePtr(buf, h)
}

// TransmitBuffer publishes a filled zero-copy buffer.
func (c *Client) TransmitBuffer(buf *buffer.Buffer, incSeq bool) (TransmitResult, error) {
	return c.bus.TransmitBuffer(c.task, buf, incSeq)
}

// CleanUp releases everything the task holds on the bus.
func (c *Client) CleanUp() (pipes int, buffers int) {
	return c.bus.CleanUpApp(c.task)
}
