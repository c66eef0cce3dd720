// Package transport carries sync actions to the server: a gRPC Transport for
// request/response calls and a websocket Watcher for change notices.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/dmitrijs2005/gophsync/internal/wire"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

var ErrBadStatus = errors.New("server reported bad status")

// DefaultTimeout bounds a single call when the caller's context has no
// deadline.
const DefaultTimeout = 15 * time.Second

// GRPC implements remote.Transport over a gRPC connection. It attaches the
// access token to every call and refreshes it once when the server says it
// expired.
type GRPC struct {
	conn    *grpc.ClientConn
	timeout time.Duration
	log     logging.Logger

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	onTokens     func(wire.TokenPair)
}

type Option func(*GRPC)

func WithTimeout(d time.Duration) Option {
	return func(g *GRPC) { g.timeout = d }
}

func WithLogger(l logging.Logger) Option {
	return func(g *GRPC) { g.log = l }
}

// WithTokens starts the transport with previously issued tokens.
func WithTokens(p wire.TokenPair) Option {
	return func(g *GRPC) {
		g.accessToken = p.AccessToken
		g.refreshToken = p.RefreshToken
	}
}

// OnTokens is called whenever a login or refresh yields new tokens, so the
// caller can persist them.
func OnTokens(fn func(wire.TokenPair)) Option {
	return func(g *GRPC) { g.onTokens = fn }
}

// Dial connects to addr with insecure credentials. Extra dial options are
// appended, which is how tests inject a bufconn dialer.
func Dial(addr string, opts []Option, dialOpts ...grpc.DialOption) (*GRPC, error) {
	g := &GRPC{timeout: DefaultTimeout, log: logging.Nop()}
	for _, o := range opts {
		o(g)
	}
	g.log = g.log.With("module", "transport")

	all := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(g.accessTokenInterceptor),
	}, dialOpts...)
	conn, err := grpc.NewClient(addr, all...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	g.conn = conn
	return g, nil
}

func (g *GRPC) Close() error {
	return g.conn.Close()
}

// Tokens returns the current token pair.
func (g *GRPC) Tokens() wire.TokenPair {
	g.mu.Lock()
	defer g.mu.Unlock()
	return wire.TokenPair{AccessToken: g.accessToken, RefreshToken: g.refreshToken}
}

func (g *GRPC) setTokens(p wire.TokenPair) {
	g.mu.Lock()
	g.accessToken = p.AccessToken
	g.refreshToken = p.RefreshToken
	cb := g.onTokens
	g.mu.Unlock()
	if cb != nil {
		cb(p)
	}
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Delete(common.AccessTokenHeaderName)
	if token != "" {
		md.Set(common.AccessTokenHeaderName, token)
	}
	if len(md.Get(common.RequestIDHeaderName)) == 0 {
		md.Set(common.RequestIDHeaderName, uuid.NewString())
	}
	return metadata.NewOutgoingContext(ctx, md)
}

func (g *GRPC) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	access := g.Tokens().AccessToken
	err := invoker(withAccessToken(ctx, access), method, req, reply, cc, opts...)
	if err == nil {
		return nil
	}

	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Unauthenticated || st.Message() != common.ErrTokenExpired.Error() {
		return err
	}
	refresh := g.Tokens().RefreshToken
	if refresh == "" {
		return err
	}

	in, perr := wire.Pack(wire.RefreshRequest{RefreshToken: refresh})
	if perr != nil {
		return perr
	}
	out := new(wrapperspb.BytesValue)
	if rerr := invoker(withAccessToken(ctx, ""), wire.FullMethod(wire.ActionRefreshToken), in, out, cc, opts...); rerr != nil {
		g.log.Warn(ctx, "token refresh failed", "error", rerr)
		return err
	}
	var pair wire.TokenPair
	if uerr := wire.Unpack(out, &pair); uerr != nil {
		return uerr
	}
	g.setTokens(pair)
	g.log.Debug(ctx, "access token refreshed")

	return invoker(withAccessToken(ctx, pair.AccessToken), method, req, reply, cc, opts...)
}

// Call implements remote.Transport.
func (g *GRPC) Call(ctx context.Context, action string, req, resp any) error {
	if _, ok := ctx.Deadline(); !ok && g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	in, err := wire.Pack(req)
	if err != nil {
		return err
	}
	out := new(wrapperspb.BytesValue)
	if err := g.conn.Invoke(ctx, wire.FullMethod(action), in, out); err != nil {
		return mapError(err)
	}
	if resp == nil {
		return nil
	}
	return wire.Unpack(out, resp)
}

// Register creates an account and keeps the returned tokens.
func (g *GRPC) Register(ctx context.Context, username, password string) error {
	var pair wire.TokenPair
	if err := g.Call(ctx, wire.ActionRegister, wire.Credentials{Username: username, Password: password}, &pair); err != nil {
		return err
	}
	g.setTokens(pair)
	return nil
}

func (g *GRPC) Login(ctx context.Context, username, password string) error {
	var pair wire.TokenPair
	if err := g.Call(ctx, wire.ActionLogin, wire.Credentials{Username: username, Password: password}, &pair); err != nil {
		return err
	}
	g.setTokens(pair)
	return nil
}

// Ping checks reachability and returns the server's current version.
func (g *GRPC) Ping(ctx context.Context) (int64, error) {
	var resp wire.PingResponse
	if err := g.Call(ctx, wire.ActionPing, wire.Empty{}, &resp); err != nil {
		return 0, err
	}
	if resp.Status != "OK" {
		return 0, fmt.Errorf("%w: %q", ErrBadStatus, resp.Status)
	}
	return resp.Version, nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", common.ErrOffline, st.Message())
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %s", common.ErrUnauthorized, st.Message())
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", common.ErrValidation, st.Message())
	case codes.NotFound:
		return fmt.Errorf("%w: %s", common.ErrNotFound, st.Message())
	case codes.AlreadyExists:
		return fmt.Errorf("%w: %s", common.ErrAlreadyExists, st.Message())
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}
