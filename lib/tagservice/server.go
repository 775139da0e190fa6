// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tagservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/tagbus/lib/codec"
	"github.com/bureau-foundation/tagbus/lib/tag"
	"github.com/bureau-foundation/tagbus/lib/tagstore"
)

// writeTimeout bounds a single message write. A client that stops
// reading for this long is disconnected.
const writeTimeout = 10 * time.Second

// actionFunc processes one request on a connection. A nil result
// produces {ok: true}; a non-nil result is encoded into "data".
type actionFunc func(c *connection, ctx context.Context, request *Request) (any, error)

// Server exposes a tagstore.Store on a Unix socket. Each client keeps
// one connection open for its lifetime and multiplexes every handle
// over it.
type Server struct {
	socketPath string
	store      *tagstore.Store
	logger     *slog.Logger
	handlers   map[string]actionFunc

	// activeConnections lets Serve wait for connection teardown, so
	// every handle and admin session is released before it returns.
	activeConnections sync.WaitGroup
}

// NewServer creates a server for store that will listen on
// socketPath.
func NewServer(socketPath string, store *tagstore.Store, logger *slog.Logger) *Server {
	s := &Server{
		socketPath: socketPath,
		store:      store,
		logger:     logger,
		handlers:   make(map[string]actionFunc),
	}
	s.handle(ActionOpen, (*connection).open)
	s.handle(ActionClose, (*connection).close)
	s.handle(ActionRead, (*connection).read)
	s.handle(ActionTryRead, (*connection).tryRead)
	s.handle(ActionWrite, (*connection).write)
	s.handle(ActionList, (*connection).list)
	s.handle(ActionCancel, (*connection).cancel)
	s.handle(ActionAdminOpen, (*connection).adminOpen)
	s.handle(ActionCreate, (*connection).create)
	s.handle(ActionAdminClose, (*connection).adminClose)
	return s
}

func (s *Server) handle(action string, handler actionFunc) {
	if _, exists := s.handlers[action]; exists {
		panic(fmt.Sprintf("tagservice.Server: duplicate handler for action %q", action))
	}
	s.handlers[action] = handler
}

// Serve accepts connections until ctx is cancelled, then closes every
// connection and waits for their handles to be released.
//
// Any existing socket file at the configured path is removed before
// listening. The socket file is removed on return.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("tag socket listening", "path", s.socketPath, "capacity", s.store.Capacity())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.serveConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

// connection is the server side of one client session.
type connection struct {
	server *Server
	conn   net.Conn
	logger *slog.Logger
	ctx    context.Context

	encodeMu sync.Mutex
	encoder  *codec.Encoder

	mu         sync.Mutex
	handles    map[uint64]*openHandle
	nextHandle uint64
	inflight   map[uint64]context.CancelFunc
	admin      *tagstore.AdminSession

	requests sync.WaitGroup
}

type openHandle struct {
	handle      *tagstore.Handle
	stopWatcher context.CancelFunc
}

func (s *Server) serveConnection(ctx context.Context, conn net.Conn) {
	ctx, cancel := context.WithCancel(ctx)

	logger := s.logger.With("session", uuid.NewString())
	if pid, err := peerPID(conn); err == nil {
		logger = logger.With("peer_pid", pid)
	}

	c := &connection{
		server:   s,
		conn:     conn,
		logger:   logger,
		ctx:      ctx,
		encoder:  codec.NewEncoder(conn),
		handles:  make(map[uint64]*openHandle),
		inflight: make(map[uint64]context.CancelFunc),
	}
	logger.Debug("client connected")

	// Unblock the decoder when the server shuts down.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	c.readLoop()

	cancel()
	c.releaseAll()
	c.requests.Wait()
	conn.Close()
	logger.Debug("client disconnected")
}

// peerPID returns the process ID of the socket's peer.
func peerPID(conn net.Conn) (int32, error) {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return 0, fmt.Errorf("not a unix socket: %T", conn)
	}
	raw, err := unixConn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var credentials *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		credentials, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return 0, err
	}
	if credErr != nil {
		return 0, credErr
	}
	return credentials.Pid, nil
}

func (c *connection) readLoop() {
	decoder := codec.NewDecoder(c.conn)
	for {
		var request Request
		if err := decoder.Decode(&request); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && c.ctx.Err() == nil {
				c.logger.Warn("dropping client after undecodable request", "error", err)
			}
			return
		}
		if request.ID == 0 {
			c.logger.Warn("dropping client after request without id", "action", request.Action)
			return
		}

		handler, exists := c.server.handlers[request.Action]
		if !exists {
			c.reply(request.ID, nil, fmt.Errorf("unknown action %q", request.Action))
			continue
		}

		// Cancel runs inline: every request read after it sees the
		// target already cancelled, so an abandoned read can never
		// consume a record written by a later request.
		if request.Action == ActionCancel {
			result, err := handler(c, c.ctx, &request)
			c.reply(request.ID, result, err)
			continue
		}

		// Register the request before it runs so that a cancel
		// arriving right behind it always finds it.
		requestCtx, cancel := context.WithCancel(c.ctx)
		c.mu.Lock()
		c.inflight[request.ID] = cancel
		c.mu.Unlock()

		c.requests.Add(1)
		go func() {
			defer c.requests.Done()
			defer func() {
				c.mu.Lock()
				delete(c.inflight, request.ID)
				c.mu.Unlock()
				cancel()
			}()
			result, err := handler(c, requestCtx, &request)
			c.respond(request.ID, request.Action, result, err)
		}()
	}
}

// releaseAll closes every handle and the admin session. A closed
// handle unblocks any read still running for this client.
func (c *connection) releaseAll() {
	c.mu.Lock()
	handles := c.handles
	c.handles = make(map[uint64]*openHandle)
	admin := c.admin
	c.admin = nil
	c.mu.Unlock()

	for _, open := range handles {
		open.stopWatcher()
		open.handle.Close()
	}
	if admin != nil {
		admin.Close()
	}
}

func (c *connection) send(message Message) error {
	c.encodeMu.Lock()
	defer c.encodeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.encoder.Encode(message)
}

// respond replies to a request that ran in its own goroutine. Once the
// connection is shutting down nothing is sent: the request failed
// because the session ended, and the client reports that as a
// disconnect rather than as the cancellation seen here.
func (c *connection) respond(id uint64, action string, result any, err error) {
	if c.ctx.Err() != nil {
		c.logger.Debug("dropping response after disconnect", "action", action, "id", id)
		return
	}
	if err != nil {
		c.logger.Debug("action failed", "action", action, "id", id, "error", err)
	}
	c.reply(id, result, err)
}

func (c *connection) reply(id uint64, result any, err error) {
	message := Message{ID: id, OK: err == nil}
	if err != nil {
		message.Error = err.Error()
		message.Code = tag.Code(err)
	} else if result != nil {
		data, marshalErr := codec.Marshal(result)
		if marshalErr != nil {
			message = Message{ID: id, Error: fmt.Sprintf("internal: marshaling response: %v", marshalErr)}
		} else {
			message.Data = data
		}
	}
	if err := c.send(message); err != nil {
		c.logger.Debug("failed to write response", "id", id, "error", err)
		c.conn.Close()
	}
}

// watch pushes a notification each time the tag's timestamp moves
// past since.
func (c *connection) watch(ctx context.Context, id uint64, handle *tagstore.Handle, since uint64) {
	for {
		timestamp, err := handle.WaitNewer(ctx, since)
		if err != nil {
			return
		}
		since = timestamp
		if err := c.send(Message{Notify: &Notification{Handle: id, Timestamp: timestamp}}); err != nil {
			c.logger.Debug("failed to write notification", "handle", id, "error", err)
			c.conn.Close()
			return
		}
	}
}

func (c *connection) lookupHandle(id uint64) (*tagstore.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	open, exists := c.handles[id]
	if !exists {
		return nil, fmt.Errorf("%w: no handle %d on this connection", tag.ErrClosed, id)
	}
	return open.handle, nil
}

func (c *connection) open(ctx context.Context, request *Request) (any, error) {
	handle, err := c.server.store.OpenHandle(request.Name)
	if err != nil {
		return nil, err
	}
	current, err := c.server.store.Snapshot(request.Name)
	if err != nil {
		handle.Close()
		return nil, err
	}

	watchCtx, stopWatcher := context.WithCancel(c.ctx)
	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		stopWatcher()
		handle.Close()
		return nil, tag.ErrClosed
	}
	c.nextHandle++
	id := c.nextHandle
	c.handles[id] = &openHandle{handle: handle, stopWatcher: stopWatcher}
	c.mu.Unlock()

	c.requests.Add(1)
	go func() {
		defer c.requests.Done()
		c.watch(watchCtx, id, handle, current.Timestamp)
	}()

	return OpenResult{
		Handle:    id,
		Index:     handle.Index(),
		DType:     handle.DType(),
		Timestamp: current.Timestamp,
	}, nil
}

func (c *connection) close(ctx context.Context, request *Request) (any, error) {
	c.mu.Lock()
	open, exists := c.handles[request.Handle]
	delete(c.handles, request.Handle)
	c.mu.Unlock()
	if exists {
		open.stopWatcher()
		open.handle.Close()
	}
	return nil, nil
}

func (c *connection) read(ctx context.Context, request *Request) (any, error) {
	handle, err := c.lookupHandle(request.Handle)
	if err != nil {
		return nil, err
	}
	record, err := handle.Read(ctx)
	if err != nil {
		return nil, err
	}
	return encodeRecord(record)
}

func (c *connection) tryRead(ctx context.Context, request *Request) (any, error) {
	handle, err := c.lookupHandle(request.Handle)
	if err != nil {
		return nil, err
	}
	record, err := handle.TryRead()
	if err != nil {
		return nil, err
	}
	return encodeRecord(record)
}

func encodeRecord(record tag.Record) (any, error) {
	data, err := record.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return ReadResult{Record: data}, nil
}

func (c *connection) write(ctx context.Context, request *Request) (any, error) {
	handle, err := c.lookupHandle(request.Handle)
	if err != nil {
		return nil, err
	}
	var record tag.Record
	if err := record.UnmarshalBinary(request.Record); err != nil {
		return nil, err
	}
	return nil, handle.Write(ctx, record)
}

func (c *connection) list(ctx context.Context, request *Request) (any, error) {
	return c.server.store.List(ctx)
}

// cancel abandons an in-flight request. Cancelling a request that has
// already completed is not an error.
func (c *connection) cancel(ctx context.Context, request *Request) (any, error) {
	c.mu.Lock()
	cancelTarget, exists := c.inflight[request.Target]
	c.mu.Unlock()
	if exists {
		cancelTarget()
	}
	return nil, nil
}

func (c *connection) adminOpen(ctx context.Context, request *Request) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.admin != nil {
		return nil, nil
	}
	admin, err := c.server.store.OpenAdmin()
	if err != nil {
		return nil, err
	}
	c.admin = admin
	c.logger.Info("creation session opened")
	return nil, nil
}

func (c *connection) create(ctx context.Context, request *Request) (any, error) {
	c.mu.Lock()
	admin := c.admin
	c.mu.Unlock()
	if admin == nil {
		return nil, fmt.Errorf("%w: no creation session on this connection", tag.ErrClosed)
	}
	info, err := admin.Submit(request.Create)
	if err != nil {
		return nil, err
	}
	c.logger.Info("tag created", "name", info.Name, "index", info.Index, "dtype", info.DType)
	return info, nil
}

func (c *connection) adminClose(ctx context.Context, request *Request) (any, error) {
	c.mu.Lock()
	admin := c.admin
	c.admin = nil
	c.mu.Unlock()
	if admin != nil {
		admin.Close()
		c.logger.Info("creation session closed")
	}
	return nil, nil
}
