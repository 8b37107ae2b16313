// Package grpcapi serves the slarm.v1.Node service. Messages are
// google.protobuf.Struct so the service needs no generated code; field names
// match the JSON API.
package grpcapi

import (
	"context"
	"errors"
	"log"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/slarm-iot/slarm/internal/slarm/console"
	"github.com/slarm-iot/slarm/internal/slarm/service"
)

const ServiceName = "slarm.v1.Node"

// NodeServer is the server side of slarm.v1.Node.
type NodeServer interface {
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// Exec takes {"command": "..."} and returns {"output": "..."}.
	Exec(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// ListAudit takes {"limit": n} and returns {"entries": [...]}.
	ListAudit(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type Dependencies struct {
	Logger  *log.Logger
	Status  *service.StatusService
	Console *console.Console // optional
}

type Server struct {
	logger  *log.Logger
	status  *service.StatusService
	console *console.Console
	grpc    *grpc.Server
}

func NewServer(d Dependencies) *Server {
	s := &Server{
		logger:  d.Logger,
		status:  d.Status,
		console: d.Console,
	}
	s.grpc = grpc.NewServer(grpc.UnaryInterceptor(s.logUnary))
	s.grpc.RegisterService(&serviceDesc, s)
	return s
}

// Serve blocks until lis fails or Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop drains in-flight calls until ctx ends, then closes every connection.
func (s *Server) Stop(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
	}
}

func (s *Server) GetStatus(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	msg, err := s.status.Status().Struct()
	if err != nil {
		s.logger.Printf("grpc status: %v", err)
		return nil, status.Error(codes.Internal, "unexpected server error")
	}
	return msg, nil
}

func (s *Server) Exec(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.console == nil {
		return nil, status.Error(codes.Unimplemented, "console disabled on this node")
	}
	cmd := in.GetFields()["command"].GetStringValue()

	out, err := s.console.Exec(cmd)
	if err != nil {
		msg := err.Error()
		if out != "" {
			msg = out
		}
		switch {
		case errors.Is(err, console.ErrUsage):
			return nil, status.Error(codes.InvalidArgument, msg)
		case errors.Is(err, console.ErrUnknownCommand):
			return nil, status.Error(codes.NotFound, msg)
		case errors.Is(err, console.ErrNoActuator):
			return nil, status.Error(codes.PermissionDenied, msg)
		default:
			s.logger.Printf("grpc exec %q: %v", cmd, err)
			return nil, status.Error(codes.Internal, msg)
		}
	}
	return structpb.NewStruct(map[string]any{"output": out})
}

func (s *Server) ListAudit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	limit := int(in.GetFields()["limit"].GetNumberValue())
	if limit < 0 {
		return nil, status.Error(codes.InvalidArgument, "limit must be a non-negative integer")
	}
	resp, err := s.status.Audit(ctx, limit)
	if err != nil {
		s.logger.Printf("grpc audit: %v", err)
		return nil, status.Error(codes.Internal, "unexpected server error")
	}
	return resp.Struct()
}

func (s *Server) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.logger.Printf("%s code=%s dur=%s", info.FullMethod, status.Code(err), time.Since(start))
	return resp, err
}
