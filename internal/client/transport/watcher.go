package transport

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/dmitrijs2005/gophsync/internal/wire"
)

// Watcher listens on the server's change socket and reports every notice.
// It reconnects with exponential backoff until its context ends.
type Watcher struct {
	URL        string
	Token      func() string
	OnChange   func(ctx context.Context, n wire.ChangeNotice)
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Log        logging.Logger
}

func (w *Watcher) backoff() (time.Duration, time.Duration) {
	lo, hi := w.MinBackoff, w.MaxBackoff
	if lo <= 0 {
		lo = 500 * time.Millisecond
	}
	if hi < lo {
		hi = 30 * time.Second
	}
	return lo, hi
}

// Run blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	log := w.Log
	if log == nil {
		log = logging.Nop()
	}
	log = log.With("module", "watcher")
	lo, hi := w.backoff()
	delay := lo

	for {
		connected, err := w.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			delay = lo
		}
		log.Warn(ctx, "change stream interrupted", "error", err, "retry_in", delay)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay *= 2
		if delay > hi {
			delay = hi
		}
	}
}

// session holds one connection open. connected reports whether the dial
// succeeded, which resets the backoff.
func (w *Watcher) session(ctx context.Context) (connected bool, err error) {
	header := http.Header{}
	if w.Token != nil {
		if tok := w.Token(); tok != "" {
			header.Set(common.AccessTokenHeaderName, tok)
		}
	}
	conn, _, err := websocket.Dial(ctx, w.URL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return false, err
	}
	defer conn.CloseNow()

	for {
		var n wire.ChangeNotice
		if err := wsjson.Read(ctx, conn, &n); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return true, errors.New("closed by server")
			}
			return true, err
		}
		if w.OnChange != nil {
			w.OnChange(ctx, n)
		}
	}
}
