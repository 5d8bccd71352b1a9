package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/roomrelay/internal/chat"
	"github.com/Tyrowin/roomrelay/internal/logger"
)

// State is a session's lifecycle position.
type State int32

// Session states, in lifecycle order.
const (
	StateConnecting State = iota
	StateJoined
	StateStreaming
	StateClosing
	StateClosed
)

// String returns the upper-case state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateJoined:
		return "JOINED"
	case StateStreaming:
		return "STREAMING"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Session is one connected client bound to a single room.
type Session struct {
	userID   string
	username string
	roomID   string
	queue    *Queue
	state    atomic.Int32
}

func newSession(userID, username, roomID string) *Session {
	return &Session{
		userID:   userID,
		username: username,
		roomID:   roomID,
		queue:    NewQueue(),
	}
}

// UserID returns the id the session registered under.
func (s *Session) UserID() string { return s.userID }

// Username returns the display name announced to the room.
func (s *Session) Username() string { return s.username }

// RoomID returns the room the session is bound to for its lifetime.
func (s *Session) RoomID() string { return s.roomID }

// Queue returns the session's delivery queue.
func (s *Session) Queue() *Queue { return s.queue }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// accepts filters the outbound stream to the session's room plus server
// announcements.
func (s *Session) accepts(msg chat.Message) bool {
	return msg.RoomID == s.roomID || msg.IsSystem()
}

// stream runs a registered session's inbound and outbound duties over conn.
type stream struct {
	hub     *Hub
	session *Session
	conn    Conn
	log     *slog.Logger
	once    sync.Once
}

func newStream(h *Hub, s *Session, conn Conn) *stream {
	return &stream{
		hub:     h,
		session: s,
		conn:    conn,
		log: h.logger.With(
			logger.UserID(s.userID),
			logger.RoomID(s.roomID),
		),
	}
}

func (st *stream) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	st.session.setState(StateStreaming)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer st.finish("inbound closed")
		return st.guard("inbound", func() error { return st.readLoop(gctx) })
	})
	g.Go(func() error {
		// Stop the reader once nothing more can be delivered.
		defer cancel()
		defer st.finish("outbound closed")
		return st.guard("outbound", func() error { return st.writeLoop(gctx) })
	})
	return g.Wait()
}

func (st *stream) readLoop(ctx context.Context) error {
	for {
		msg, err := st.conn.Recv(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}

		switch msg.Kind {
		case chat.KindText:
			if err := st.hub.publish(ctx, st.session, msg); err != nil {
				if errors.Is(err, ErrHubClosed) || ctx.Err() != nil {
					return nil
				}
				return err
			}
		case chat.KindLeave:
			st.log.Debug("client requested leave")
			return nil
		default:
			st.log.Debug("ignoring inbound event", slog.String("type", msg.Kind.String()))
		}
	}
}

func (st *stream) writeLoop(ctx context.Context) error {
	q := st.session.queue
	for {
		msg, err := q.Get(ctx, st.hub.pollInterval)
		switch {
		case err == nil:
		case errors.Is(err, ErrQueueClosed):
			return nil
		case errors.Is(err, ErrQueueEmpty):
			if st.conn.Context().Err() != nil {
				st.log.Debug("connection gone")
				return nil
			}
			continue
		default:
			// Context canceled: the inbound side is done.
			return nil
		}

		if !st.session.accepts(msg) {
			continue
		}
		if err := st.conn.Send(msg); err != nil {
			return fmt.Errorf("send: %w", err)
		}
	}
}

// finish tears the session down exactly once, whichever duty ends first.
func (st *stream) finish(reason string) {
	st.once.Do(func() {
		st.session.setState(StateClosing)
		announced := st.hub.leave(st.session)
		st.session.setState(StateClosed)
		st.log.Info("session closed",
			slog.String("reason", reason),
			slog.Bool("announced", announced),
			logger.Count("undelivered", st.session.queue.Len()),
		)
	})
}

func (st *stream) guard(duty string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			st.log.Error("recovered panic in session",
				slog.String("duty", duty),
				slog.Any("panic", r),
				logger.Stack(),
			)
			err = fmt.Errorf("%w: %v", ErrSessionPanic, r)
		}
	}()
	return fn()
}
