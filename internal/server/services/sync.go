package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/dbx"
	"github.com/dmitrijs2005/gophsync/internal/entity"
	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/dmitrijs2005/gophsync/internal/server/config"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophsync/internal/wire"
)

// Messages reported back to clients in EntityResult.Errors.
const (
	MsgReservedType = "reserved type"
	MsgUnknownType  = "unknown type"
	MsgUnknownID    = "unknown id"
	MsgDeleted      = "deleted on server"
	MsgLocalID      = "not a server id"
)

// Notifier learns about every committed write.
type Notifier interface {
	Notify(userID string, n wire.ChangeNotice)
}

// Validator returns the problems that make the server reject e.
type Validator func(typ string, e *entity.Entity) []string

type SyncOption func(*SyncService)

func WithNotifier(n Notifier) SyncOption {
	return func(s *SyncService) { s.notifier = n }
}

func WithValidator(v Validator) SyncOption {
	return func(s *SyncService) { s.validators = append(s.validators, v) }
}

func WithLogger(l logging.Logger) SyncOption {
	return func(s *SyncService) { s.log = l }
}

// SyncService owns the authoritative entity store. Every accepted write
// in one request shares a single new version of the user's counter.
type SyncService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	types       map[string]bool
	validators  []Validator
	notifier    Notifier
	log         logging.Logger
}

func NewSyncService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, opts ...SyncOption) *SyncService {
	s := &SyncService{db: db, repomanager: m, log: logging.Nop()}
	if len(cfg.Types) > 0 {
		s.types = make(map[string]bool, len(cfg.Types))
		for _, t := range cfg.Types {
			s.types[t] = true
		}
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *SyncService) validate(typ string, e *entity.Entity) []string {
	switch {
	case typ == "" || strings.HasPrefix(typ, "__"):
		return []string{MsgReservedType}
	case s.types != nil && !s.types[typ]:
		return []string{MsgUnknownType}
	}
	var errs []string
	for _, v := range s.validators {
		errs = append(errs, v(typ, e)...)
	}
	return errs
}

// SaveEntity stores one entity and reports the server's verdict.
func (s *SyncService) SaveEntity(ctx context.Context, userID, typ string, e *entity.Entity) (wire.EntityResult, int64, error) {
	if e == nil {
		return wire.EntityResult{}, 0, fmt.Errorf("missing entity: %w", common.ErrValidation)
	}
	results, version, err := s.UpdateServer(ctx, userID, map[string][]*entity.Entity{typ: {e}}, nil)
	if err != nil {
		return wire.EntityResult{}, 0, err
	}
	return results[0], version, nil
}

func (s *SyncService) DeleteEntities(ctx context.Context, userID, typ string, ids []int64) ([]wire.EntityResult, int64, error) {
	return s.UpdateServer(ctx, userID, nil, map[string][]int64{typ: ids})
}

// UpdateServer applies saves then deletes in one transaction. Rejected
// entities get Errors in their result and do not abort the rest.
func (s *SyncService) UpdateServer(ctx context.Context, userID string, toSave map[string][]*entity.Entity, toDelete map[string][]int64) ([]wire.EntityResult, int64, error) {
	var (
		results []wire.EntityResult
		version int64
		changed = map[string]bool{}
	)

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		results, version = nil, 0
		clear(changed)

		usersRepo := s.repomanager.Users(tx)
		entityRepo := s.repomanager.Entities(tx)

		bump := func() (int64, error) {
			if version == 0 {
				v, err := usersRepo.IncrementCurrentVersion(ctx, userID)
				if err != nil {
					return 0, err
				}
				version = v
			}
			return version, nil
		}

		for _, typ := range wire.SortedTypes(toSave) {
			for _, e := range toSave[typ] {
				res := wire.EntityResult{Type: typ, ClientID: e.ID}
				if errs := s.validate(typ, e); len(errs) > 0 {
					res.Errors = errs
					results = append(results, res)
					continue
				}

				id := e.ID
				if id <= 0 {
					next, err := usersRepo.NextEntityID(ctx, userID)
					if err != nil {
						return err
					}
					id = next
				} else {
					row, err := entityRepo.Get(ctx, userID, typ, id)
					switch {
					case errors.Is(err, common.ErrNotFound):
						res.Errors = []string{MsgUnknownID}
					case err != nil:
						return err
					case row.Deleted:
						res.Errors = []string{MsgDeleted}
					}
					if len(res.Errors) > 0 {
						results = append(results, res)
						continue
					}
				}

				v, err := bump()
				if err != nil {
					return err
				}
				stored := e.Clone()
				stored.ID = id
				data, err := json.Marshal(stored)
				if err != nil {
					return fmt.Errorf("encode %s/%d: %w", typ, id, err)
				}
				if err := entityRepo.Upsert(ctx, &models.Entity{
					UserID: userID, Type: typ, ID: id, Data: string(data), Version: v,
				}); err != nil {
					return err
				}
				res.ID = id
				changed[typ] = true
				results = append(results, res)
			}
		}

		for _, typ := range wire.SortedTypes(toDelete) {
			for _, id := range toDelete[typ] {
				res := wire.EntityResult{Type: typ, ClientID: id, ID: id}
				if id <= 0 {
					res.ID = 0
					res.Errors = []string{MsgLocalID}
					results = append(results, res)
					continue
				}
				v, err := bump()
				if err != nil {
					return err
				}
				// deleting what is already gone is not an error
				if _, err := entityRepo.MarkDeleted(ctx, userID, typ, id, v); err != nil {
					return err
				}
				changed[typ] = true
				results = append(results, res)
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	if version == 0 {
		version, err = s.repomanager.Users(s.db).GetCurrentVersion(ctx, userID)
		if err != nil {
			return nil, 0, err
		}
		return results, version, nil
	}

	s.log.Debug(ctx, "entities written", "user", userID, "version", version, "results", len(results))
	if s.notifier != nil {
		s.notifier.Notify(userID, wire.ChangeNotice{Version: version, Types: wire.SortedTypes(changed)})
	}
	return results, version, nil
}

// GetChangesSince returns every entity and tombstone written after since.
//
// The version is read before the rows, so a concurrent write is either
// included or left for the next pull, never skipped.
func (s *SyncService) GetChangesSince(ctx context.Context, userID string, since int64, types []string) (map[string][]*entity.Entity, map[string][]int64, int64, error) {
	version, err := s.repomanager.Users(s.db).GetCurrentVersion(ctx, userID)
	if err != nil {
		return nil, nil, 0, err
	}
	rows, err := s.repomanager.Entities(s.db).SelectUpdated(ctx, userID, types, since)
	if err != nil {
		return nil, nil, 0, err
	}

	changes := map[string][]*entity.Entity{}
	deleted := map[string][]int64{}
	for _, row := range rows {
		if row.Deleted {
			deleted[row.Type] = append(deleted[row.Type], row.ID)
			continue
		}
		e, err := decode(row)
		if err != nil {
			return nil, nil, 0, err
		}
		changes[row.Type] = append(changes[row.Type], e)
	}
	return changes, deleted, version, nil
}

// GetList returns the live entities of typ.
func (s *SyncService) GetList(ctx context.Context, userID, typ string) ([]*entity.Entity, int64, error) {
	version, err := s.Version(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	rows, err := s.repomanager.Entities(s.db).SelectLive(ctx, userID, typ)
	if err != nil {
		return nil, 0, err
	}
	list := make([]*entity.Entity, 0, len(rows))
	for _, row := range rows {
		e, err := decode(row)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, e)
	}
	return list, version, nil
}

func (s *SyncService) Version(ctx context.Context, userID string) (int64, error) {
	return s.repomanager.Users(s.db).GetCurrentVersion(ctx, userID)
}

func decode(row *models.Entity) (*entity.Entity, error) {
	e := &entity.Entity{}
	if err := json.Unmarshal([]byte(row.Data), e); err != nil {
		return nil, fmt.Errorf("decode %s/%d: %w", row.Type, row.ID, err)
	}
	e.Type = row.Type
	e.ID = row.ID
	return e, nil
}
