package live

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/krishnamouli8/vantage/internal/store"
	"github.com/krishnamouli8/vantage/pkg/logger"
)

// connection is one live /ws/metrics client. cursor is a monotonically
// increasing "last seen" timestamp: at-least-once delivery across polls is
// acceptable (the client orders by row timestamp), exactly-once is not
// attempted.
type connection struct {
	ws     *websocket.Conn
	send   chan Frame
	hub    *Hub
	filter store.Filter

	cursor      time.Time
	missedPongs int32
	dropped     int64
}

// run drives the connection until ctx is cancelled, the client
// disconnects, or the heartbeat deadline is missed twice in a row. It
// blocks the calling goroutine (the HTTP handler's), which does the socket
// writes itself, and spawns a poller, a heartbeat and a reader goroutine.
func (c *connection) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.ws.Close()

	c.cursor = time.Now()

	c.ws.SetPongHandler(func(string) error {
		atomic.StoreInt32(&c.missedPongs, 0)
		return nil
	})

	go c.pollLoop(ctx)
	go c.heartbeatLoop(ctx, cancel)

	// Drain client frames (pings/pongs/close) so the read deadline and
	// close handshake progress; the protocol has no client-to-server data
	// frames for this channel.
	go func() {
		for {
			if _, _, err := c.ws.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	c.writeLoop(ctx)
}

func (c *connection) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(c.hub.cfg.LivePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.poll(ctx)
		}
	}
}

func (c *connection) poll(ctx context.Context) {
	window := store.TimeWindow{Start: c.cursor, End: time.Now()}
	rows, err := c.hub.store.QueryRange(ctx, c.filter, window, 1000)
	if err != nil {
		logger.Log.Warn("live: poll failed", "error", err)
		return
	}
	if len(rows) == 0 {
		return
	}
	c.cursor = window.End

	for i := range rows {
		c.enqueue(Frame{Row: &rows[i]})
	}
}

// enqueue offers f to the send buffer without blocking: if the buffer is
// full the client is behind, so the oldest frame is discarded to make room
// and the running drop count is reported to the client on the next
// successful send rather than closing the connection.
func (c *connection) enqueue(f Frame) {
	select {
	case c.send <- f:
	default:
		select {
		case <-c.send:
			atomic.AddInt64(&c.dropped, 1)
		default:
		}
		select {
		case c.send <- f:
		default:
		}
	}
}

func (c *connection) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-c.send:
			if d := atomic.SwapInt64(&c.dropped, 0); d > 0 {
				f.Dropped = int(d)
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(f); err != nil {
				return
			}
		}
	}
}

func (c *connection) heartbeatLoop(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(c.hub.cfg.LiveHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if atomic.AddInt32(&c.missedPongs, 1) > missedHeartbeatMax {
				cancel()
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				cancel()
				return
			}
		}
	}
}
