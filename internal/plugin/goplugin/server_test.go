// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package goplugin

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/holomush/plugbox/internal/plugin/domain"
	"github.com/holomush/plugbox/pkg/capability"
)

const greeter = `
Greeter = {}
Greeter.__index = Greeter
function Greeter.new() return setmetatable({}, Greeter) end
function Greeter:init() host.log("info", "hello") end
function Greeter:terminate() end
`

// startBoundary serves a fresh domain over an in-memory listener and returns
// a client connected to it.
func startBoundary(t *testing.T) BoundaryClient {
	t.Helper()
	srv, err := NewServer("domain_test", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	RegisterBoundaryServer(s, srv)
	go func() { _ = s.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		s.Stop()
		_ = srv.Close()
	})
	return NewBoundaryClient(conn)
}

func writeModule(t *testing.T, name, src string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".lua"), []byte(src), 0o600))
	return dir
}

func TestServer_LoadAndInvoke(t *testing.T) {
	dir := writeModule(t, "PluginA", greeter)
	bc := startBoundary(t)
	ctx := context.Background()

	_, err := bc.SetData(ctx, encodeData(capability.KeyModuleDir, dir))
	require.NoError(t, err)
	_, err = bc.SetData(ctx, encodeData(capability.KeyModuleName, "PluginA"))
	require.NoError(t, err)

	out, err := bc.RunInside(ctx, wrapperspb.String(string(domain.UnitLoadModule)))
	require.NoError(t, err)
	rep, err := decodeReport(out)
	require.NoError(t, err)
	assert.Equal(t, string(domain.UnitLoadModule), rep.Unit)
	assert.Equal(t, []string{"PluginA"}, rep.Loaded)
	assert.Empty(t, rep.Failures)

	_, err = bc.SetData(ctx, encodeData(capability.KeyAction, capability.Initialize.Encode()))
	require.NoError(t, err)
	out, err = bc.RunInside(ctx, wrapperspb.String(string(domain.UnitInvoke)))
	require.NoError(t, err)
	rep, err = decodeReport(out)
	require.NoError(t, err)
	assert.Equal(t, []string{"PluginA.Greeter"}, rep.Invoked)

	mods, err := bc.Modules(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	names, err := decodeStrings(mods)
	require.NoError(t, err)
	assert.Equal(t, []string{"PluginA"}, names)
}

func TestServer_ReportCarriesFailures(t *testing.T) {
	bc := startBoundary(t)
	ctx := context.Background()

	_, err := bc.SetData(ctx, encodeData(capability.KeyModuleDir, t.TempDir()))
	require.NoError(t, err)
	_, err = bc.SetData(ctx, encodeData(capability.KeyModuleName, "Ghost"))
	require.NoError(t, err)

	out, err := bc.RunInside(ctx, wrapperspb.String(string(domain.UnitLoadModule)))
	require.NoError(t, err)
	rep, err := decodeReport(out)
	require.NoError(t, err)
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, "Ghost", rep.Failures[0].Module)
	assert.NotEmpty(t, rep.Failures[0].Message)
}

func TestServer_ErrorCodes(t *testing.T) {
	bc := startBoundary(t)
	ctx := context.Background()

	_, err := bc.RunInside(ctx, wrapperspb.String("no-such-unit"))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = bc.RunInside(ctx, wrapperspb.String(string(domain.UnitLoadModule)))
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = bc.SetData(ctx, &structpb.Struct{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestServer_ClosedDomain(t *testing.T) {
	srv, err := NewServer("domain_test", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.NoError(t, srv.Close())

	_, err = srv.SetData(context.Background(), encodeData("k", "v"))
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestDecodeReport_RejectsMalformedMessages(t *testing.T) {
	_, err := decodeReport(&structpb.Struct{Fields: map[string]*structpb.Value{
		fieldLoaded: structpb.NewListValue(&structpb.ListValue{Values: []*structpb.Value{structpb.NewNumberValue(1)}}),
	}})
	assert.Error(t, err)

	_, err = decodeReport(&structpb.Struct{Fields: map[string]*structpb.Value{
		fieldFailures: structpb.NewListValue(&structpb.ListValue{Values: []*structpb.Value{structpb.NewStringValue("x")}}),
	}})
	assert.Error(t, err)
}

func TestDecodeData_RequiresStringKey(t *testing.T) {
	_, _, err := decodeData(&structpb.Struct{Fields: map[string]*structpb.Value{
		fieldKey: structpb.NewBoolValue(true),
	}})
	assert.Error(t, err)

	key, value, err := decodeData(encodeData("a", ""))
	require.NoError(t, err)
	assert.Equal(t, "a", key)
	assert.Empty(t, value)
}

func TestServe_RequiresLabel(t *testing.T) {
	t.Setenv(LabelEnv, "")
	err := Serve(slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}
