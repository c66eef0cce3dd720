// Package notify pushes change notices to connected clients over websocket.
package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/dmitrijs2005/gophsync/internal/server/auth"
	"github.com/dmitrijs2005/gophsync/internal/wire"
)

// Path is where the change stream is served.
const Path = "/v1/changes"

const (
	queueSize    = 8
	writeTimeout = 5 * time.Second
)

type subscriber struct {
	userID string
	queue  chan wire.ChangeNotice
}

// Hub fans change notices out to every connection of the affected user.
type Hub struct {
	jwtSecret []byte
	logger    logging.Logger

	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
}

func NewHub(secretKey string, l logging.Logger) *Hub {
	return &Hub{
		jwtSecret: []byte(secretKey),
		logger:    l.With("module", "notify"),
		subs:      make(map[string]map[*subscriber]struct{}),
	}
}

// Notify queues n for userID's connections without blocking. A slow
// connection loses its oldest queued notice.
func (h *Hub) Notify(userID string, n wire.ChangeNotice) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[userID] {
		for {
			select {
			case sub.queue <- n:
			default:
				select {
				case <-sub.queue:
				default:
				}
				continue
			}
			break
		}
	}
}

// Subscribers returns the number of open connections for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[sub.userID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[sub.userID] = set
	}
	set[sub] = struct{}{}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[sub.userID], sub)
	if len(h.subs[sub.userID]) == 0 {
		delete(h.subs, sub.userID)
	}
}

// ServeHTTP authenticates the access token header and streams notices
// until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(common.AccessTokenHeaderName)
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	userID, err := auth.GetUserIDFromToken(token, h.jwtSecret)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.CloseNow()

	sub := &subscriber{userID: userID, queue: make(chan wire.ChangeNotice, queueSize)}
	h.add(sub)
	defer h.remove(sub)
	h.logger.Debug(r.Context(), "subscriber connected", "user", userID)

	// clients never send; CloseRead reports their disconnect
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug(r.Context(), "subscriber gone", "user", userID)
			return
		case n := <-sub.queue:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, n)
			cancel()
			if err != nil {
				h.logger.Debug(r.Context(), "notice write failed", "user", userID, "error", err)
				return
			}
		}
	}
}

// Handler returns the HTTP routes of the notification server.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(Path, h)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	return mux
}
