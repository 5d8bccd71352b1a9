package server

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Tyrowin/roomrelay/internal/chatrpc"
	"github.com/Tyrowin/roomrelay/internal/logger"
	"github.com/Tyrowin/roomrelay/internal/relay"
)

func newGRPCServer(hub *relay.Hub, log *slog.Logger) *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainStreamInterceptor(
			recoverStream(log),
			logStream(log),
		),
	)
	chatrpc.RegisterChatServiceServer(srv, chatrpc.NewService(hub, log))
	return srv
}

// recoverStream turns a panic in a stream handler into codes.Internal so
// one bad stream never takes the listener down.
func recoverStream(log *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("recovered panic in stream handler",
					slog.String("method", info.FullMethod),
					slog.Any("panic", r),
					logger.Stack(),
				)
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(srv, ss)
	}
}

func logStream(log *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)

		level := slog.LevelInfo
		if code := status.Code(err); code != codes.OK && code != codes.Canceled {
			level = slog.LevelWarn
		}
		log.Log(context.Background(), level, "stream finished",
			slog.String("method", info.FullMethod),
			slog.String("code", status.Code(err).String()),
			slog.Duration("duration", time.Since(start)),
		)
		return err
	}
}
