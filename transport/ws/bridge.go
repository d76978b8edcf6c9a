// Package ws connects dApp pages to the wallet over WebSocket. Each socket
// is one tab served by its own relay.
package ws

import (
	"context"
	"net/http"
	neturl "net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/layer-3/walletlink/core"
	"github.com/layer-3/walletlink/ports"
	"github.com/layer-3/walletlink/relay"
)

const writeTimeout = 10 * time.Second

// Tabs registers connected pages.
type Tabs interface {
	Open(url, favicon string) int
	Remove(id int)
}

// TabNotifier is told when a tab needs its bridge.
type TabNotifier interface {
	TabUpdated(ctx context.Context, tabID int) error
}

type Bridge struct {
	bus      ports.Bus
	tabs     Tabs
	notifier TabNotifier
	upgrader websocket.Upgrader
}

func NewBridge(bus ports.Bus, tabs Tabs, notifier TabNotifier) *Bridge {
	return &Bridge{
		bus:      bus,
		tabs:     tabs,
		notifier: notifier,
		upgrader: websocket.Upgrader{
			// any site may connect; requests are gated by authorization
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// page is the socket end of a relay.
type page struct {
	conn     *websocket.Conn
	tabID    int
	streamID string

	mu     sync.Mutex
	bridge bool
}

func (p *page) HasBridge() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bridge
}

// InjectBridge tells the page its tab and stream ids; from then on it may
// send requests.
func (p *page) InjectBridge(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.write(core.Envelope{Tag: core.TagInit, TabID: p.tabID, StreamID: p.streamID}); err != nil {
		return err
	}
	p.bridge = true
	return nil
}

func (p *page) Post(_ context.Context, env core.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.write(env)
}

func (p *page) write(env core.Envelope) error {
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return p.conn.WriteJSON(env)
}

func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	url := tabURL(r.Header.Get("Origin"), r.URL.Query().Get("url"))
	tabID := b.tabs.Open(url, r.URL.Query().Get("favicon"))
	defer b.tabs.Remove(tabID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	p := &page{conn: conn, tabID: tabID, streamID: uuid.NewString()}
	rel := relay.New(b.bus, p, tabID)
	inbox, err := rel.Subscribe(ctx)
	if err != nil {
		log.Error().Err(err).Int("tab", tabID).Msg("relay unavailable")
		return
	}
	go func() {
		if err := rel.Serve(ctx, inbox); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Int("tab", tabID).Msg("relay stopped")
		}
	}()

	if err := b.notifier.TabUpdated(ctx, tabID); err != nil {
		log.Warn().Err(err).Int("tab", tabID).Msg("failed to announce tab")
	}
	log.Debug().Int("tab", tabID).Str("url", url).Msg("page connected")

	for {
		var env core.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Int("tab", tabID).Msg("page read failed")
			}
			return
		}
		if env.StreamID == "" {
			env.StreamID = p.streamID
		}
		if err := rel.FromPage(ctx, env); err != nil {
			log.Warn().Err(err).Int("tab", tabID).Msg("failed to forward request")
		}
	}
}

// tabURL is the browser-asserted origin. The page may only name a more
// specific URL on that same origin.
func tabURL(origin, claimed string) string {
	o, err := neturl.Parse(origin)
	if err != nil || o.Scheme == "" || o.Host == "" {
		return ""
	}
	if claimed == "" {
		return origin
	}
	c, err := neturl.Parse(claimed)
	if err != nil || !strings.EqualFold(c.Scheme, o.Scheme) || !strings.EqualFold(c.Host, o.Host) {
		return origin
	}
	return claimed
}
