package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/entity"
	"github.com/dmitrijs2005/gophsync/internal/wire"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Handle implements wire.Handler.
func (s *GRPCServer) Handle(ctx context.Context, action string, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	var (
		resp any
		err  error
	)
	switch action {
	case wire.ActionPing:
		resp, err = s.ping(ctx)
	case wire.ActionRegister:
		resp, err = s.register(ctx, in)
	case wire.ActionLogin:
		resp, err = s.login(ctx, in)
	case wire.ActionRefreshToken:
		resp, err = s.refreshToken(ctx, in)
	default:
		userID, ok := userIDFromContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "unauthorized")
		}
		resp, err = s.handleSync(ctx, userID, action, in)
	}
	if err != nil {
		return nil, s.toStatus(ctx, action, err)
	}
	return wire.Pack(resp)
}

func (s *GRPCServer) handleSync(ctx context.Context, userID, action string, in *wrapperspb.BytesValue) (any, error) {
	switch action {
	case wire.ActionSaveEntity:
		var req wire.SaveEntityRequest
		if err := unpack(in, &req); err != nil {
			return nil, err
		}
		if req.Entity != nil {
			req.Entity.Type = req.Type
		}
		res, _, err := s.sync.SaveEntity(ctx, userID, req.Type, req.Entity)
		return res, err

	case wire.ActionSaveEntities:
		var req wire.SaveEntitiesRequest
		if err := unpack(in, &req); err != nil {
			return nil, err
		}
		toSave, err := parsePackage(req.Data)
		if err != nil {
			return nil, err
		}
		return results(s.sync.UpdateServer(ctx, userID, toSave, nil))

	case wire.ActionDeleteEntity:
		var req wire.DeleteEntityRequest
		if err := unpack(in, &req); err != nil {
			return nil, err
		}
		res, _, err := s.sync.DeleteEntities(ctx, userID, req.Type, []int64{req.ID})
		if err != nil {
			return nil, err
		}
		return res[0], nil

	case wire.ActionDeleteEntities:
		var req wire.DeleteEntitiesRequest
		if err := unpack(in, &req); err != nil {
			return nil, err
		}
		return results(s.sync.DeleteEntities(ctx, userID, req.Type, req.IDs))

	case wire.ActionUpdateServer:
		var req wire.UpdateServerRequest
		if err := unpack(in, &req); err != nil {
			return nil, err
		}
		toSave, err := parsePackage(req.ToSave)
		if err != nil {
			return nil, err
		}
		return results(s.sync.UpdateServer(ctx, userID, toSave, req.ToDelete))

	case wire.ActionGetChangesSince:
		var req wire.ChangesRequest
		if err := unpack(in, &req); err != nil {
			return nil, err
		}
		changes, deleted, version, err := s.sync.GetChangesSince(ctx, userID, req.Since, req.Types)
		if err != nil {
			return nil, err
		}
		pkg, err := wire.ConvertToPolymorphicablePackage(changes)
		if err != nil {
			return nil, err
		}
		return wire.ChangesResponse{Changes: pkg, Deleted: deleted, Version: version}, nil

	case wire.ActionGetList:
		var req wire.ListRequest
		if err := unpack(in, &req); err != nil {
			return nil, err
		}
		list, version, err := s.sync.GetList(ctx, userID, req.Type)
		if err != nil {
			return nil, err
		}
		data, err := entity.EncodeList(list)
		if err != nil {
			return nil, err
		}
		return wire.ListResponse{Type: req.Type, Data: string(data), Version: version}, nil
	}
	return nil, status.Errorf(codes.Unimplemented, "unknown action %q", action)
}

func results(res []wire.EntityResult, version int64, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = []wire.EntityResult{}
	}
	return wire.ResultsResponse{Results: res, Version: version}, nil
}

// ping reports the caller's version when the call carried a valid token.
func (s *GRPCServer) ping(ctx context.Context) (any, error) {
	resp := wire.PingResponse{Status: "OK"}
	if userID, ok := userIDFromContext(ctx); ok {
		v, err := s.sync.Version(ctx, userID)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return nil, err
		}
		resp.Version = v
	}
	return resp, nil
}

// register creates the account and logs it in right away.
func (s *GRPCServer) register(ctx context.Context, in *wrapperspb.BytesValue) (any, error) {
	var req wire.Credentials
	if err := unpack(in, &req); err != nil {
		return nil, err
	}
	if _, err := s.users.Register(ctx, req.Username, req.Password); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "Registered", "username", req.Username)
	return s.login(ctx, in)
}

func (s *GRPCServer) login(ctx context.Context, in *wrapperspb.BytesValue) (any, error) {
	var req wire.Credentials
	if err := unpack(in, &req); err != nil {
		return nil, err
	}
	tokens, err := s.users.Login(ctx, req.Username, req.Password)
	if err != nil {
		return nil, err
	}
	return wire.TokenPair{AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken}, nil
}

func (s *GRPCServer) refreshToken(ctx context.Context, in *wrapperspb.BytesValue) (any, error) {
	var req wire.RefreshRequest
	if err := unpack(in, &req); err != nil {
		return nil, err
	}
	tokens, err := s.users.RefreshToken(ctx, req.RefreshToken)
	if err != nil {
		return nil, err
	}
	return wire.TokenPair{AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken}, nil
}

func unpack(in *wrapperspb.BytesValue, v any) error {
	if err := wire.Unpack(in, v); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return nil
}

func parsePackage(pkg map[string]string) (map[string][]*entity.Entity, error) {
	out, err := wire.ParsePolymorphicablePackage(pkg)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return out, nil
}

// toStatus maps service errors onto gRPC codes. Unexpected errors are
// logged and hidden behind a generic message.
func (s *GRPCServer) toStatus(ctx context.Context, action string, err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, common.ErrUnauthorized),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrRefreshTokenExpired):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, common.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, common.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, common.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	}
	s.logger.Error(ctx, "action failed", "action", action, "error", err)
	return status.Error(codes.Internal, "internal error")
}
