// Package live implements the /ws/metrics live-push channel: one goroutine
// per connection polling the store and forwarding new rows as they land,
// with a bounded send buffer and a heartbeat the client must answer.
package live

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/krishnamouli8/vantage/internal/store"
	"github.com/krishnamouli8/vantage/pkg/config"
	"github.com/krishnamouli8/vantage/pkg/logger"
	"github.com/krishnamouli8/vantage/pkg/metrics"
)

const (
	defaultPollInterval = time.Second
	defaultBufferSize   = 256
	defaultHeartbeat    = 30 * time.Second
	missedHeartbeatMax  = 2
	writeWait           = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Frame is one message sent down the socket: either a row or a control
// frame reporting how many rows were dropped because the client fell
// behind.
type Frame struct {
	Row     *store.Row `json:"row,omitempty"`
	Dropped int        `json:"dropped,omitempty"`
}

// Hub serves /ws/metrics connections against st.
type Hub struct {
	store       store.Store
	cfg         config.QueryConfig
	connections int64
}

// NewHub builds a Hub over st using cfg's poll/buffer/heartbeat knobs.
func NewHub(st store.Store, cfg config.QueryConfig) *Hub {
	if cfg.LivePollInterval <= 0 {
		cfg.LivePollInterval = defaultPollInterval
	}
	if cfg.LiveBufferSize <= 0 {
		cfg.LiveBufferSize = defaultBufferSize
	}
	if cfg.LiveHeartbeat <= 0 {
		cfg.LiveHeartbeat = defaultHeartbeat
	}
	return &Hub{store: st, cfg: cfg}
}

// ServeHTTP upgrades the request to a WebSocket and streams rows matching
// the query parameters (service_name, metric_name) until the client
// disconnects or misses too many heartbeats.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Warn("live: upgrade failed", "error", err)
		return
	}

	filter := store.Filter{
		ServiceName: r.URL.Query().Get("service_name"),
		MetricName:  r.URL.Query().Get("metric_name"),
	}

	c := &connection{
		ws:     ws,
		send:   make(chan Frame, h.cfg.LiveBufferSize),
		hub:    h,
		filter: filter,
	}

	metrics.Get().SetLiveConnections(int(atomic.AddInt64(&h.connections, 1)))
	defer metrics.Get().SetLiveConnections(int(atomic.AddInt64(&h.connections, -1)))

	c.run(r.Context())
}
