// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tagservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bureau-foundation/tagbus/lib/codec"
	"github.com/bureau-foundation/tagbus/lib/tag"
)

// dialTimeout bounds the connect phase only.
const dialTimeout = 5 * time.Second

// ErrDisconnected is returned by every pending and future call once
// the connection to tagd is lost.
var ErrDisconnected = errors.New("tagservice: disconnected from tagd")

// ServiceError is returned when tagd answers ok=false. It unwraps to
// the tag sentinel named by Code, so callers test it with errors.Is.
type ServiceError struct {
	Action  string
	Code    string
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("tagd error on %q: %s", e.Action, e.Message)
}

func (e *ServiceError) Unwrap() error {
	if e.Code == "" {
		return nil
	}
	return tag.FromCode(e.Code, "")
}

// Client is one process's session with tagd. It implements
// tag.Directory; handles it opens implement tag.Handle.
type Client struct {
	conn   net.Conn
	logger *slog.Logger

	encodeMu sync.Mutex
	encoder  *codec.Encoder

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan Message
	handles map[uint64]*Handle
	err     error

	done chan struct{}
}

var _ tag.Directory = (*Client)(nil)

// Dial connects to the tagd socket at socketPath.
func Dial(ctx context.Context, socketPath string, logger *slog.Logger) (*Client, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", socketPath, err)
	}
	c := &Client{
		conn:    conn,
		logger:  logger,
		encoder: codec.NewEncoder(conn),
		pending: make(map[uint64]chan Message),
		handles: make(map[uint64]*Handle),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Done is closed when the connection is lost or closed.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close drops the connection. tagd releases every handle and the
// creation session held by this client.
func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}

func (c *Client) readLoop() {
	decoder := codec.NewDecoder(c.conn)
	var loopErr error
	for {
		var message Message
		if err := decoder.Decode(&message); err != nil {
			loopErr = err
			break
		}
		if message.Notify != nil {
			c.notify(message.Notify)
			continue
		}
		c.mu.Lock()
		reply, exists := c.pending[message.ID]
		delete(c.pending, message.ID)
		c.mu.Unlock()
		if exists {
			reply <- message
		}
	}

	c.mu.Lock()
	c.err = fmt.Errorf("%w: %v", ErrDisconnected, loopErr)
	pending := c.pending
	c.pending = make(map[uint64]chan Message)
	handles := c.handles
	c.mu.Unlock()

	for _, reply := range pending {
		close(reply)
	}
	for _, handle := range handles {
		handle.disconnect()
	}
	close(c.done)
}

func (c *Client) notify(notification *Notification) {
	c.mu.Lock()
	handle, exists := c.handles[notification.Handle]
	c.mu.Unlock()
	if exists {
		handle.advance(notification.Timestamp)
	}
}

// call sends request and waits for its reply. If ctx ends first, the
// server is asked to abandon the request and ctx.Err() is returned.
func (c *Client) call(ctx context.Context, request Request, result any) error {
	reply := make(chan Message, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.nextID++
	request.ID = c.nextID
	c.pending[request.ID] = reply
	c.mu.Unlock()

	if err := c.send(request); err != nil {
		c.forget(request.ID)
		return fmt.Errorf("%w: writing %q: %v", ErrDisconnected, request.Action, err)
	}

	select {
	case message, ok := <-reply:
		if !ok {
			return c.disconnectErr()
		}
		if !message.OK {
			return &ServiceError{Action: request.Action, Code: message.Code, Message: message.Error}
		}
		if result != nil && len(message.Data) > 0 {
			if err := codec.Unmarshal(message.Data, result); err != nil {
				return fmt.Errorf("decoding %q response: %w", request.Action, err)
			}
		}
		return nil
	case <-ctx.Done():
		c.forget(request.ID)
		c.abandon(request.ID)
		return ctx.Err()
	}
}

func (c *Client) send(request Request) error {
	c.encodeMu.Lock()
	defer c.encodeMu.Unlock()
	return c.encoder.Encode(request)
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// abandon sends a fire-and-forget cancel for target. Its reply is
// dropped by the read loop.
func (c *Client) abandon(target uint64) {
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return
	}
	c.nextID++
	id := c.nextID
	c.mu.Unlock()
	if err := c.send(Request{ID: id, Action: ActionCancel, Target: target}); err != nil {
		c.logger.Debug("failed to send cancel", "target", target, "error", err)
	}
}

func (c *Client) disconnectErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	return ErrDisconnected
}

// List returns every registered tag in index order.
func (c *Client) List(ctx context.Context) ([]tag.Info, error) {
	var infos []tag.Info
	if err := c.call(ctx, Request{Action: ActionList}, &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

// Open opens a handle on name.
func (c *Client) Open(ctx context.Context, name string) (tag.Handle, error) {
	handle, err := c.OpenHandle(ctx, name)
	if err != nil {
		return nil, err
	}
	return handle, nil
}

// OpenHandle is Open returning the concrete type.
func (c *Client) OpenHandle(ctx context.Context, name string) (*Handle, error) {
	var result OpenResult
	if err := c.call(ctx, Request{Action: ActionOpen, Name: name}, &result); err != nil {
		return nil, err
	}
	handle := &Handle{
		client:  c,
		id:      result.Handle,
		name:    name,
		index:   result.Index,
		dtype:   result.DType,
		latest:  result.Timestamp,
		changed: make(chan struct{}),
	}
	c.mu.Lock()
	if c.err != nil {
		handle.closed = true
	} else {
		c.handles[handle.id] = handle
	}
	c.mu.Unlock()
	return handle, nil
}

// Admin opens the creation session. Returns an error wrapping
// tag.ErrBusy while another client holds it.
func (c *Client) Admin(ctx context.Context) (*AdminSession, error) {
	if err := c.call(ctx, Request{Action: ActionAdminOpen}, nil); err != nil {
		return nil, err
	}
	return &AdminSession{client: c}, nil
}

// AdminSession is a client's hold on the creation channel.
type AdminSession struct {
	client *Client
}

// Create registers name with dtype.
func (a *AdminSession) Create(ctx context.Context, name string, dtype tag.DType) (tag.Info, error) {
	data, err := tag.NewCreateRequest(name, dtype).MarshalBinary()
	if err != nil {
		return tag.Info{}, err
	}
	return a.Submit(ctx, data)
}

// Submit sends a raw 258-byte creation request.
func (a *AdminSession) Submit(ctx context.Context, data []byte) (tag.Info, error) {
	var info tag.Info
	if err := a.client.call(ctx, Request{Action: ActionCreate, Create: data}, &info); err != nil {
		return tag.Info{}, err
	}
	return info, nil
}

// Close releases the creation channel.
func (a *AdminSession) Close(ctx context.Context) error {
	return a.client.call(ctx, Request{Action: ActionAdminClose}, nil)
}
