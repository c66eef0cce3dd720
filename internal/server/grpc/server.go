// Package grpc exposes the sync and account services over gRPC. There are
// no generated stubs: every action is a unary BytesValue method described by
// wire.ServiceDesc.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/gophsync/internal/entity"
	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
	"github.com/dmitrijs2005/gophsync/internal/server/services"
	"github.com/dmitrijs2005/gophsync/internal/wire"
	"google.golang.org/grpc"
)

type UserService interface {
	Register(ctx context.Context, username, password string) (*models.User, error)
	Login(ctx context.Context, username, password string) (*services.TokenPair, error)
	RefreshToken(ctx context.Context, refreshToken string) (*services.TokenPair, error)
}

type SyncService interface {
	SaveEntity(ctx context.Context, userID, typ string, e *entity.Entity) (wire.EntityResult, int64, error)
	DeleteEntities(ctx context.Context, userID, typ string, ids []int64) ([]wire.EntityResult, int64, error)
	UpdateServer(ctx context.Context, userID string, toSave map[string][]*entity.Entity, toDelete map[string][]int64) ([]wire.EntityResult, int64, error)
	GetChangesSince(ctx context.Context, userID string, since int64, types []string) (map[string][]*entity.Entity, map[string][]int64, int64, error)
	GetList(ctx context.Context, userID, typ string) ([]*entity.Entity, int64, error)
	Version(ctx context.Context, userID string) (int64, error)
}

type GRPCServer struct {
	address   string
	users     UserService
	sync      SyncService
	logger    logging.Logger
	jwtSecret []byte
}

func NewGRPCServer(a string, l logging.Logger, us UserService, ss SyncService, secretKey string) *GRPCServer {
	return &GRPCServer{
		address:   a,
		logger:    l.With("module", "grpc_server"),
		users:     us,
		sync:      ss,
		jwtSecret: []byte(secretKey),
	}
}

// NewServer builds the grpc.Server with the interceptor chain and the sync
// service registered.
func (s *GRPCServer) NewServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(s.requestLogInterceptor, s.accessTokenInterceptor),
	}, opts...)
	srv := grpc.NewServer(opts...)
	wire.Register(srv, s)
	return srv
}

// Run listens on the configured address until ctx is done.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis and stops gracefully when ctx ends.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.NewServer()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil {
		return err
	}
	<-stopped
	return nil
}
