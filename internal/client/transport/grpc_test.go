package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type stubHandler struct {
	mu         sync.Mutex
	requestIDs []string
}

func first(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

func (h *stubHandler) Handle(ctx context.Context, action string, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	h.mu.Lock()
	h.requestIDs = append(h.requestIDs, first(md, common.RequestIDHeaderName))
	h.mu.Unlock()
	token := first(md, common.AccessTokenHeaderName)

	switch action {
	case wire.ActionLogin:
		var c wire.Credentials
		if err := wire.Unpack(in, &c); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		if c.Password != "secret" {
			return nil, status.Error(codes.Unauthenticated, "bad credentials")
		}
		return wire.Pack(wire.TokenPair{AccessToken: "a1", RefreshToken: "r1"})
	case wire.ActionRefreshToken:
		var r wire.RefreshRequest
		if err := wire.Unpack(in, &r); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		if r.RefreshToken != "r1" {
			return nil, status.Error(codes.Unauthenticated, common.ErrRefreshTokenExpired.Error())
		}
		return wire.Pack(wire.TokenPair{AccessToken: "a2", RefreshToken: "r2"})
	case wire.ActionPing:
		return wire.Pack(wire.PingResponse{Status: "OK", Version: 7})
	case wire.ActionGetList:
		switch token {
		case "a1":
			return nil, status.Error(codes.Unauthenticated, common.ErrTokenExpired.Error())
		case "a2":
		default:
			return nil, status.Error(codes.Unauthenticated, common.ErrInvalidToken.Error())
		}
		var r wire.ListRequest
		if err := wire.Unpack(in, &r); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return wire.Pack(wire.ListResponse{Type: r.Type, Data: "[]", Version: 3})
	case wire.ActionSaveEntity:
		return nil, status.Error(codes.Unavailable, "maintenance")
	case wire.ActionDeleteEntity:
		return nil, status.Error(codes.InvalidArgument, "bad id")
	}
	return nil, status.Error(codes.Unimplemented, action)
}

func startServer(t *testing.T) (*stubHandler, *bufconn.Listener) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	h := &stubHandler{}
	s := grpc.NewServer()
	wire.Register(s, h)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)
	return h, lis
}

func dialBuf(t *testing.T, lis *bufconn.Listener, opts ...Option) *GRPC {
	t.Helper()
	g, err := Dial("passthrough:///bufnet", opts,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func TestLoginThenRefreshOnExpiredToken(t *testing.T) {
	h, lis := startServer(t)
	var issued []wire.TokenPair
	g := dialBuf(t, lis, OnTokens(func(p wire.TokenPair) { issued = append(issued, p) }))
	ctx := context.Background()

	require.NoError(t, g.Login(ctx, "ann", "secret"))
	assert.Equal(t, wire.TokenPair{AccessToken: "a1", RefreshToken: "r1"}, g.Tokens())

	var resp wire.ListResponse
	require.NoError(t, g.Call(ctx, wire.ActionGetList, wire.ListRequest{Type: "Contact"}, &resp))
	assert.Equal(t, "Contact", resp.Type)
	assert.Equal(t, int64(3), resp.Version)

	assert.Equal(t, wire.TokenPair{AccessToken: "a2", RefreshToken: "r2"}, g.Tokens())
	assert.Len(t, issued, 2)

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range h.requestIDs {
		assert.NotEmpty(t, id)
	}
}

func TestFailedRefreshReturnsOriginalError(t *testing.T) {
	_, lis := startServer(t)
	g := dialBuf(t, lis, WithTokens(wire.TokenPair{AccessToken: "a1", RefreshToken: "stale"}))

	err := g.Call(context.Background(), wire.ActionGetList, wire.ListRequest{Type: "Contact"}, &wire.ListResponse{})
	assert.ErrorIs(t, err, common.ErrUnauthorized)
	assert.Equal(t, "a1", g.Tokens().AccessToken)
}

func TestPing(t *testing.T) {
	_, lis := startServer(t)
	g := dialBuf(t, lis)

	v, err := g.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)
}

func TestErrorMapping(t *testing.T) {
	_, lis := startServer(t)
	g := dialBuf(t, lis)
	ctx := context.Background()

	err := g.Call(ctx, wire.ActionSaveEntity, wire.SaveEntityRequest{Type: "Contact"}, &wire.EntityResult{})
	assert.ErrorIs(t, err, common.ErrOffline)

	err = g.Call(ctx, wire.ActionDeleteEntity, wire.DeleteEntityRequest{Type: "Contact", ID: 1}, &wire.EntityResult{})
	assert.ErrorIs(t, err, common.ErrValidation)

	err = g.Login(ctx, "ann", "wrong")
	assert.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestUnreachableServerIsOffline(t *testing.T) {
	lis := bufconn.Listen(1 << 10)
	require.NoError(t, lis.Close())
	g := dialBuf(t, lis, WithTimeout(time.Second))

	_, err := g.Ping(context.Background())
	assert.ErrorIs(t, err, common.ErrOffline)
}
