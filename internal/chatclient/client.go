// Package chatclient is the interactive console client for the relay's gRPC
// chat stream.
package chatclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/Tyrowin/roomrelay/internal/chat"
	"github.com/Tyrowin/roomrelay/internal/chatrpc"
	"github.com/Tyrowin/roomrelay/internal/logger"
)

// DefaultAddr is the relay's default gRPC address.
const DefaultAddr = "localhost:50051"

// ErrUsage is returned by ParseArgs when the username is missing.
var ErrUsage = errors.New("usage: client <username> [room_id] [server_address]")

// Config identifies the user and the relay to join.
type Config struct {
	UserID   string
	Username string
	RoomID   string
	Addr     string
}

// ParseArgs reads <username> [room_id] [server_address] and assigns a fresh
// user id.
func ParseArgs(args []string) (Config, error) {
	if len(args) < 1 || strings.TrimSpace(args[0]) == "" {
		return Config{}, ErrUsage
	}

	cfg := Config{
		UserID:   uuid.NewString(),
		Username: args[0],
		RoomID:   chat.DefaultRoom,
		Addr:     DefaultAddr,
	}
	if len(args) > 1 && args[1] != "" {
		cfg.RoomID = args[1]
	}
	if len(args) > 2 && args[2] != "" {
		cfg.Addr = args[2]
	}
	return cfg, nil
}

// Option configures a Client.
type Option func(*Client)

// WithDialOptions appends gRPC dial options, e.g. a custom dialer in tests.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *Client) {
		c.dialOpts = append(c.dialOpts, opts...)
	}
}

// WithLogger sets the logger used for transport errors.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// Client runs one chat session, reading commands from an input stream and
// rendering server messages to an output stream.
type Client struct {
	cfg      Config
	out      io.Writer
	log      *slog.Logger
	now      func() time.Time
	dialOpts []grpc.DialOption
}

// New returns a client for cfg that writes rendered messages to out.
func New(cfg Config, out io.Writer, opts ...Option) *Client {
	c := &Client{
		cfg: cfg,
		out: out,
		log: slog.Default(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(logger.UserID(cfg.UserID))
	return c
}

// Run joins the room and relays lines from in until the user quits, in is
// exhausted, the server ends the stream, or ctx is canceled.
func (c *Client) Run(ctx context.Context, in io.Reader) error {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, c.dialOpts...)

	cc, err := grpc.NewClient(c.cfg.Addr, dialOpts...)
	if err != nil {
		return fmt.Errorf("create client for %s: %w", c.cfg.Addr, err)
	}
	defer func() { _ = cc.Close() }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := chatrpc.NewChatServiceClient(cc).JoinChat(ctx)
	if err != nil {
		return fmt.Errorf("open chat stream: %w", err)
	}

	c.printf("Connecting to %s as %s\n", c.cfg.Addr, c.cfg.Username)
	c.printf("Joining room: %s\n", c.cfg.RoomID)
	c.printf("Type messages and press Enter. Type '/quit' to exit.\n")
	c.printf("%s\n", strings.Repeat("-", 50))

	if err := stream.Send(c.message(chat.KindJoin, "")); err != nil {
		return fmt.Errorf("send join: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// The session is over once the server stops sending.
		defer cancel()
		return c.receiveLoop(stream)
	})
	g.Go(func() error {
		return c.sendLoop(gctx, stream, scanLines(gctx, in))
	})

	err = g.Wait()
	c.printf("\nDisconnected from chat server\n")
	return err
}

func (c *Client) receiveLoop(stream grpc.BidiStreamingClient[chat.Message, chat.Message]) error {
	for {
		msg, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
				return nil
			}
			c.log.Error("receive failed", logger.Error(err))
			return fmt.Errorf("receive: %w", err)
		}
		c.printf("%s\n", Format(*msg))
	}
}

func (c *Client) sendLoop(ctx context.Context, stream grpc.BidiStreamingClient[chat.Message, chat.Message], lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return closeSend(stream)
			}

			text := strings.TrimSpace(line)
			if IsQuit(text) {
				if err := stream.Send(c.message(chat.KindLeave, "")); err != nil {
					return fmt.Errorf("send leave: %w", err)
				}
				return closeSend(stream)
			}
			if text == "" {
				continue
			}
			if err := stream.Send(c.message(chat.KindText, line)); err != nil {
				// The receive side reports why the stream broke.
				c.log.Debug("send failed", logger.Error(err))
				return nil
			}
		}
	}
}

func closeSend(stream grpc.BidiStreamingClient[chat.Message, chat.Message]) error {
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("close send: %w", err)
	}
	return nil
}

func (c *Client) message(kind chat.Kind, text string) *chat.Message {
	return &chat.Message{
		UserID:    c.cfg.UserID,
		Username:  c.cfg.Username,
		Text:      text,
		Timestamp: chat.Millis(c.now()),
		Kind:      kind,
		RoomID:    c.cfg.RoomID,
	}
}

func (c *Client) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.out, format, args...)
}

// scanLines feeds lines from r until it is exhausted or ctx ends.
func scanLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}
