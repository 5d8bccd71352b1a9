package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tyrowin/roomrelay/internal/chat"
	"github.com/Tyrowin/roomrelay/internal/logger"
)

// Hub owns the room registry and serializes every change to it through its
// Run loop. Sessions talk to the loop over channels and never touch the
// registry directly.
type Hub struct {
	defaultRoom  string
	historySize  int
	pollInterval time.Duration
	now          func() time.Time
	logger       *slog.Logger

	registry *Registry

	register   chan joinRequest
	unregister chan leaveRequest
	broadcast  chan broadcastRequest
	inspect    chan func(*Registry)

	running atomic.Bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

type joinRequest struct {
	hello chat.Message
	reply chan joinResult
}

type joinResult struct {
	session *Session
	err     error
}

type leaveRequest struct {
	session *Session
	reply   chan bool
}

type broadcastRequest struct {
	roomID  string
	msg     chat.Message
	exclude string
	// sender marks a client message that is stamped and stored before fan-out.
	sender *Session
	reply  chan int
}

// NewHub creates a hub. Call Run in its own goroutine before serving
// connections.
func NewHub(opts ...Option) *Hub {
	h := defaultHub()
	for _, opt := range opts {
		opt(h)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.registry = NewRegistry(h.historySize)
	h.register = make(chan joinRequest)
	h.unregister = make(chan leaveRequest)
	h.broadcast = make(chan broadcastRequest)
	h.inspect = make(chan func(*Registry))
	h.ctx = ctx
	h.cancel = cancel
	h.done = make(chan struct{})
	return h
}

// Run processes registry operations until Shutdown is called.
func (h *Hub) Run() {
	if !h.running.CompareAndSwap(false, true) {
		h.logger.Warn("hub already running")
		return
	}
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.closeSessions()
			return

		case req := <-h.register:
			s, err := h.handleJoin(req.hello)
			req.reply <- joinResult{session: s, err: err}

		case req := <-h.unregister:
			req.reply <- h.evict(req.session, true)

		case req := <-h.broadcast:
			if req.sender != nil {
				req.reply <- h.store(req.sender, req.msg)
				continue
			}
			req.reply <- h.deliver(req.roomID, req.msg, req.exclude)

		case fn := <-h.inspect:
			fn(h.registry)
		}
	}
}

func (h *Hub) handleJoin(hello chat.Message) (*Session, error) {
	s, err := h.registry.Register(hello.UserID, hello.Username, hello.RoomID)
	if err != nil {
		return nil, err
	}

	h.replay(s)
	s.setState(StateJoined)
	// Released by Serve when the session's stream returns.
	h.wg.Add(1)

	h.logger.Info("session registered",
		logger.UserID(s.userID),
		logger.Username(s.username),
		logger.RoomID(s.roomID),
		logger.Count("sessions", h.registry.Len()),
	)

	h.deliver(s.roomID, chat.Joined(s.roomID, s.username, h.now()), s.userID)

	if hello.Kind == chat.KindText {
		h.store(s, hello)
	}
	return s, nil
}

// closeSessions ends every live session without announcements.
func (h *Hub) closeSessions() {
	h.logger.Info("closing all sessions")

	count := 0
	for _, id := range h.sessionIDs() {
		dep, ok := h.registry.Unregister(id)
		if !ok {
			continue
		}
		dep.Session.queue.Close()
		count++
	}

	h.logger.Info("closed sessions", logger.Count("sessions", count))
}

func (h *Hub) sessionIDs() []string {
	ids := make([]string, 0, len(h.registry.clients))
	for id := range h.registry.clients {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown stops the run loop, closes every session queue, and waits up to
// timeout for the sessions' streams to return.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")
	h.cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.done:
	case <-timer.C:
		h.logger.Warn("hub shutdown timed out waiting for run loop")
		return context.DeadlineExceeded
	}

	waited := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-timer.C:
		h.logger.Warn("hub shutdown timed out, some sessions may still be running")
		return context.DeadlineExceeded
	}
}

// Done is closed once the run loop has exited.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Serve runs one client connection to completion. The first event received
// on conn is the handshake that binds the session's identity and room.
//
// A connection that closes before sending anything returns nil with nothing
// registered.
func (h *Hub) Serve(ctx context.Context, conn Conn) (err error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("recovered panic while serving connection",
				slog.Any("panic", r),
				logger.Stack(),
			)
			err = fmt.Errorf("%w: %v", ErrSessionPanic, r)
		}
	}()

	hello, err := conn.Recv(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
			h.logger.Debug("connection closed before handshake")
			return nil
		}
		return fmt.Errorf("%w: %w", ErrHandshake, err)
	}

	s, err := h.join(ctx, hello)
	if err != nil {
		h.logger.Info("rejected session",
			logger.UserID(hello.UserID),
			logger.RoomID(hello.RoomID),
			logger.Error(err),
		)
		return err
	}
	defer h.wg.Done()

	st := newStream(h, s, conn)
	defer st.finish("serve returned")
	return st.run(ctx)
}

func (h *Hub) join(ctx context.Context, hello chat.Message) (*Session, error) {
	hello.UserID = strings.TrimSpace(hello.UserID)
	switch {
	case hello.UserID == "":
		return nil, fmt.Errorf("%w: missing user_id", ErrHandshake)
	case hello.UserID == chat.SystemUserID:
		return nil, ErrReservedUser
	}
	if hello.Username == "" {
		hello.Username = hello.UserID
	}
	if hello.RoomID == "" {
		hello.RoomID = h.defaultRoom
	}

	req := joinRequest{hello: hello, reply: make(chan joinResult, 1)}
	if err := submit(ctx, h, h.register, req); err != nil {
		return nil, err
	}
	res := <-req.reply
	return res.session, res.err
}

// leave removes s if it is still registered and announces the departure. It
// reports whether this call performed the removal.
func (h *Hub) leave(s *Session) bool {
	req := leaveRequest{session: s, reply: make(chan bool, 1)}
	if err := submit(context.Background(), h, h.unregister, req); err != nil {
		return false
	}
	return <-req.reply
}

func (h *Hub) publish(ctx context.Context, sender *Session, msg chat.Message) error {
	req := broadcastRequest{sender: sender, msg: msg, reply: make(chan int, 1)}
	if err := submit(ctx, h, h.broadcast, req); err != nil {
		return err
	}
	<-req.reply
	return nil
}

// Broadcast enqueues msg for every member of roomID except exclude, which may
// be empty. It returns the number of sessions that accepted the message.
func (h *Hub) Broadcast(ctx context.Context, roomID string, msg chat.Message, exclude string) (int, error) {
	req := broadcastRequest{roomID: roomID, msg: msg, exclude: exclude, reply: make(chan int, 1)}
	if err := submit(ctx, h, h.broadcast, req); err != nil {
		return 0, err
	}
	return <-req.reply, nil
}

// Members returns the sorted user ids currently in roomID.
func (h *Hub) Members(roomID string) []string {
	var ids []string
	h.view(func(r *Registry) { ids, _ = r.Members(roomID) })
	return ids
}

// History returns a copy of roomID's stored messages, oldest first.
func (h *Hub) History(roomID string) []chat.Message {
	var msgs []chat.Message
	h.view(func(r *Registry) { msgs = r.History(roomID) })
	return msgs
}

// Rooms summarises every room the hub has seen.
func (h *Hub) Rooms() []RoomInfo {
	var rooms []RoomInfo
	h.view(func(r *Registry) { rooms = r.Rooms() })
	return rooms
}

// SessionCount returns the number of registered sessions.
func (h *Hub) SessionCount() int {
	var n int
	h.view(func(r *Registry) { n = r.Len() })
	return n
}

// Lookup returns the live session for userID.
func (h *Hub) Lookup(userID string) (*Session, bool) {
	var (
		s  *Session
		ok bool
	)
	h.view(func(r *Registry) { s, ok = r.Session(userID) })
	return s, ok
}

// view runs fn on the hub loop. It is a no-op once the hub has stopped.
func (h *Hub) view(fn func(*Registry)) {
	finished := make(chan struct{})
	wrapped := func(r *Registry) {
		defer close(finished)
		fn(r)
	}
	if err := submit(context.Background(), h, h.inspect, wrapped); err != nil {
		return
	}
	<-finished
}

func submit[T any](ctx context.Context, h *Hub, ch chan<- T, req T) error {
	select {
	case ch <- req:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
