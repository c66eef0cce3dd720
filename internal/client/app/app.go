// Package app assembles the sync engine from configuration: logging,
// storage backend, transport, remote provider and facade.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/client/cache"
	"github.com/dmitrijs2005/gophsync/internal/client/config"
	"github.com/dmitrijs2005/gophsync/internal/client/facade"
	"github.com/dmitrijs2005/gophsync/internal/client/query"
	"github.com/dmitrijs2005/gophsync/internal/client/remote"
	"github.com/dmitrijs2005/gophsync/internal/client/repository"
	"github.com/dmitrijs2005/gophsync/internal/client/transport"
	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/entity"
	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/dmitrijs2005/gophsync/internal/wire"
)

// Engine is the facade surface shared by the eager and the lazy facade.
type Engine interface {
	Types() []string
	Create(ctx context.Context, e *entity.Entity) (*entity.Entity, error)
	Update(ctx context.Context, e *entity.Entity) (*entity.Entity, error)
	Delete(ctx context.Context, typ string, id int64) error
	Get(ctx context.Context, typ string, id int64) (*entity.Entity, error)
	List(ctx context.Context, typ string) ([]*entity.Entity, error)
	Query(ctx context.Context, typ string, filter query.Filter) ([]*entity.Entity, error)
	Sync(ctx context.Context) (*facade.SyncReport, error)
	Pending(ctx context.Context) (map[string][]*entity.Entity, map[string][]int64, error)
	Watermark() int64
	ClearLocal(ctx context.Context) error
}

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type App struct {
	Config *config.Config
	Log    logging.Logger
	Engine Engine

	repo      repository.Repository
	transport *transport.GRPC
	lists     *cache.ReadThroughCache
	level     *slog.LevelVar

	mu   sync.Mutex
	mode Mode
}

// New builds an App. Nothing is sent to the server yet.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log, level, err := logging.Setup(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return nil, err
	}
	cfg.Watch(func(l string) {
		level.Set(logging.ParseLevel(l))
		log.Info(context.Background(), "log level changed", "level", l)
	})

	repo, err := OpenRepository(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	tokens, err := loadTokens(cfg.TokenFile())
	if err != nil {
		log.Warn(ctx, "ignoring stored tokens", "error", err)
	}
	tr, err := transport.Dial(cfg.ServerEndpointAddr, []transport.Option{
		transport.WithLogger(log),
		transport.WithTokens(tokens),
		transport.OnTokens(func(p wire.TokenPair) {
			if err := saveTokens(cfg.TokenFile(), p); err != nil {
				log.Warn(context.Background(), "tokens not saved", "error", err)
			}
		}),
	})
	if err != nil {
		_ = repo.Close()
		return nil, err
	}

	lists := cache.NewReadThroughCache(cfg.CacheTTL, cache.WithLogger(log))
	rp := remote.New(tr, remote.WithListCache(lists), remote.WithLogger(log))

	engine, err := newEngine(ctx, cfg, repo, rp, log)
	if err != nil {
		_ = tr.Close()
		_ = repo.Close()
		return nil, err
	}

	return &App{
		Config:    cfg,
		Log:       log,
		Engine:    engine,
		repo:      repo,
		transport: tr,
		lists:     lists,
		level:     level,
		mode:      ModeOffline,
	}, nil
}

func newEngine(ctx context.Context, cfg *config.Config, repo repository.Repository, rp facade.Remote, log logging.Logger) (Engine, error) {
	if cfg.Lazy {
		return facade.NewLazy(ctx, repo, rp, cfg.Types, facade.WithLogger(log))
	}
	return facade.New(ctx, repo, rp, cfg.Types, facade.WithLogger(log))
}

// Login signs in with the configured credentials unless a session exists.
func (a *App) Login(ctx context.Context) error {
	if a.transport.Tokens().AccessToken != "" {
		return nil
	}
	if a.Config.Username == "" {
		return fmt.Errorf("no credentials configured: %w", common.ErrUnauthorized)
	}
	return a.transport.Login(ctx, a.Config.Username, a.Config.Password)
}

// Relogin signs in with the configured credentials even when tokens are
// already held.
func (a *App) Relogin(ctx context.Context) error {
	if a.Config.Username == "" {
		return fmt.Errorf("no credentials configured: %w", common.ErrUnauthorized)
	}
	return a.transport.Login(ctx, a.Config.Username, a.Config.Password)
}

func (a *App) Register(ctx context.Context, username, password string) error {
	return a.transport.Register(ctx, username, password)
}

// Start runs the background loops until ctx ends: cache sweeping and
// online status checks.
func (a *App) Start(ctx context.Context) {
	go a.lists.Run(ctx)
	go a.StartOnlineStatusWatcher(ctx, a.Config.OnlineCheckInterval)
}

func (a *App) Mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

// setMode reports whether the mode changed.
func (a *App) setMode(mode Mode) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mode == mode {
		return false
	}
	a.mode = mode
	return true
}

// StartOnlineStatusWatcher pings the server every interval. Coming back
// online triggers a sync so queued changes are pushed.
func (a *App) StartOnlineStatusWatcher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			_, err := a.transport.Ping(pctx)
			cancel()

			if err != nil {
				if a.setMode(ModeOffline) {
					a.Log.Info(ctx, "switched mode", "mode", ModeOffline)
				}
				continue
			}
			if a.setMode(ModeOnline) {
				a.Log.Info(ctx, "switched mode", "mode", ModeOnline)
				a.syncQuietly(ctx)
			}

		case <-ctx.Done():
			return
		}
	}
}

// Watch follows the server's change stream and syncs on every notice.
func (a *App) Watch(ctx context.Context, onSynced func(*facade.SyncReport)) error {
	w := &transport.Watcher{
		URL:   a.Config.ChangesURL,
		Token: func() string { return a.transport.Tokens().AccessToken },
		OnChange: func(ctx context.Context, n wire.ChangeNotice) {
			if n.Version <= a.Engine.Watermark() {
				return
			}
			if r := a.syncQuietly(ctx); r != nil && onSynced != nil {
				onSynced(r)
			}
		},
		Log: a.Log,
	}
	return w.Run(ctx)
}

func (a *App) syncQuietly(ctx context.Context) *facade.SyncReport {
	r, err := a.Engine.Sync(ctx)
	if err != nil && !errors.Is(err, common.ErrOffline) {
		a.Log.Warn(ctx, "background sync failed", "error", err)
	}
	return r
}

func (a *App) Close() error {
	return errors.Join(a.transport.Close(), a.repo.Close())
}
