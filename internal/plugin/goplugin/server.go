// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package goplugin

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/hashicorp/go-hclog"
	hashiplug "github.com/hashicorp/go-plugin"
	"github.com/samber/oops"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/holomush/plugbox/internal/plugin/domain"
)

// Compile-time interface check.
var _ BoundaryServer = (*Server)(nil)

// Server serves one domain over the boundary service. It runs in the
// boundary process; the process exiting is what releases the domain.
type Server struct {
	mu     sync.Mutex
	domain *domain.Domain
}

// NewServer creates a server around a fresh domain labelled label.
func NewServer(label string, logger *slog.Logger) (*Server, error) {
	d, err := domain.New(label, domain.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return &Server{domain: d}, nil
}

// SetData implements BoundaryServer.
func (s *Server) SetData(_ context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	key, value, err := decodeData(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.domain.SetData(key, value); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// RunInside implements BoundaryServer.
func (s *Server) RunInside(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rep, err := s.domain.Run(ctx, domain.Unit(in.GetValue()))
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeReport(rep), nil
}

// Modules implements BoundaryServer.
func (s *Server) Modules(_ context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return encodeStrings(s.domain.Modules()), nil
}

// Close releases the domain.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.domain.Close()
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrUnknownUnit):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrMissingData), errors.Is(err, domain.ErrClosed):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// Serve runs the boundary side in the current process and blocks until the
// host disconnects. It is the entry point of the hidden boundary command.
func Serve(logger *slog.Logger) error {
	label := os.Getenv(LabelEnv)
	if label == "" {
		return oops.In("goplugin").Hint("started outside a plugbox host").Errorf("%s is not set", LabelEnv)
	}

	srv, err := NewServer(label, logger)
	if err != nil {
		return err
	}
	defer func() { _ = srv.Close() }()

	hashiplug.Serve(&hashiplug.ServeConfig{
		HandshakeConfig: HandshakeConfig,
		Plugins: map[string]hashiplug.Plugin{
			PluginName: &GRPCPlugin{Impl: srv},
		},
		GRPCServer: hashiplug.DefaultGRPCServer,
		Logger: hclog.New(&hclog.LoggerOptions{
			Name:       "boundary",
			Level:      hclog.Warn,
			Output:     os.Stderr,
			JSONFormat: true,
		}),
	})
	return nil
}
