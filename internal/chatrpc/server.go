package chatrpc

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/Tyrowin/roomrelay/internal/chat"
	"github.com/Tyrowin/roomrelay/internal/logger"
	"github.com/Tyrowin/roomrelay/internal/relay"
)

// Service serves JoinChat streams from a relay hub.
type Service struct {
	hub *relay.Hub
	log *slog.Logger
}

// NewService returns a Service backed by hub.
func NewService(hub *relay.Hub, log *slog.Logger) *Service {
	return &Service{
		hub: hub,
		log: log.With(logger.Transport("grpc")),
	}
}

// JoinChat runs one client session for the lifetime of the stream.
func (s *Service) JoinChat(stream grpc.BidiStreamingServer[chat.Message, chat.Message]) error {
	ctx := stream.Context()

	log := s.log
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		log = log.With(logger.Addr(p.Addr.String()))
	}
	log.Debug("stream opened")

	err := s.hub.Serve(ctx, newStreamConn(stream))
	if err != nil {
		log.Info("stream ended with error", logger.Error(err))
	}
	return toStatus(err)
}

// toStatus maps relay errors onto gRPC status codes.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, relay.ErrHandshake):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, relay.ErrDuplicateUser):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, relay.ErrReservedUser):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, relay.ErrHubClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, relay.ErrSessionPanic):
		return status.Error(codes.Internal, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	if st, ok := status.FromError(err); ok {
		return st.Err()
	}
	return status.Error(codes.Unknown, err.Error())
}

type recvResult struct {
	msg *chat.Message
	err error
}

// streamConn adapts a server stream to relay.Conn. stream.Recv cannot be
// interrupted, so a pump goroutine feeds an inbox that Recv selects on.
type streamConn struct {
	stream grpc.BidiStreamingServer[chat.Message, chat.Message]
	inbox  chan recvResult
}

func newStreamConn(stream grpc.BidiStreamingServer[chat.Message, chat.Message]) *streamConn {
	c := &streamConn{
		stream: stream,
		inbox:  make(chan recvResult),
	}
	go c.pump()
	return c
}

func (c *streamConn) pump() {
	ctx := c.stream.Context()
	for {
		msg, err := c.stream.Recv()
		select {
		case c.inbox <- recvResult{msg: msg, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (c *streamConn) Recv(ctx context.Context) (chat.Message, error) {
	select {
	case r := <-c.inbox:
		if r.err != nil {
			return chat.Message{}, r.err
		}
		return *r.msg, nil
	case <-ctx.Done():
		return chat.Message{}, ctx.Err()
	case <-c.stream.Context().Done():
		return chat.Message{}, io.EOF
	}
}

func (c *streamConn) Send(msg chat.Message) error {
	return c.stream.Send(&msg)
}

func (c *streamConn) Context() context.Context {
	return c.stream.Context()
}
