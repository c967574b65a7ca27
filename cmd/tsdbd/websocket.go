package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nicktill/tinyseries/pkg/adapter"
	"github.com/nicktill/tinyseries/pkg/config"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
}

// seriesUpdate is one message broadcast over a subscribed connection.
type seriesUpdate struct {
	Key string  `json:"key"`
	TS  int64   `json:"ts"`
	Val float64 `json:"val"`
}

// client is one subscribed connection; an empty key means "every key".
type client struct {
	conn *websocket.Conn
	key  string
}

// SeriesHub pushes live sample updates to WebSocket subscribers,
// generalizing ingest.MetricsHub's broadcast-to-everyone shape to
// per-key subscriptions: a client connecting with ?key=cpu only
// receives updates for that key, one connecting with no key receives
// every update.
type SeriesHub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]*client

	register   chan *client
	unregister chan *websocket.Conn
	publish    chan seriesUpdate
}

// NewSeriesHub creates an empty hub; call Run to start its loop.
func NewSeriesHub() *SeriesHub {
	return &SeriesHub{
		clients:    make(map[*websocket.Conn]*client),
		register:   make(chan *client, config.WSChannelBuffer),
		unregister: make(chan *websocket.Conn, config.WSChannelBuffer),
		publish:    make(chan seriesUpdate, config.WSBroadcastBuffer),
	}
}

// Run is the hub's main loop; it blocks until ctx is cancelled.
func (h *SeriesHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
			}
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.conn] = c
			h.mu.Unlock()
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()
		case upd := <-h.publish:
			h.deliver(upd)
		}
	}
}

func (h *SeriesHub) deliver(upd seriesUpdate) {
	data, err := json.Marshal(upd)
	if err != nil {
		return
	}
	h.mu.RLock()
	var failed []*websocket.Conn
	for conn, c := range h.clients {
		if c.key != "" && c.key != upd.Key {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			failed = append(failed, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range failed {
		h.unregister <- conn
	}
}

// Publish queues an update for every subscriber whose filter matches
// key, dropping it if the hub's internal buffer is full rather than
// blocking the command path on a slow websocket fan-out.
func (h *SeriesHub) Publish(key string, sample adapter.Sample) {
	h.mu.RLock()
	empty := len(h.clients) == 0
	h.mu.RUnlock()
	if empty {
		return
	}
	select {
	case h.publish <- seriesUpdate{Key: key, TS: sample.TS, Val: sample.Val}:
	default:
		log.Printf("tsdbd: websocket publish buffer full, dropping update for %q", key)
	}
}

// HandleSubscribe upgrades /v1/ws, registering the connection under an
// optional ?key= filter.
func (h *SeriesHub) HandleSubscribe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("tsdbd: websocket upgrade failed: %v", err)
			return
		}

		c := &client{conn: conn, key: r.URL.Query().Get("key")}
		h.register <- c

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		go func() {
			ticker := time.NewTicker(config.WSPingInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
					if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
						return
					}
				}
			}
		}()

		defer func() {
			cancel()
			h.unregister <- conn
		}()

		conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
			return nil
		})

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("tsdbd: websocket error: %v", err)
				}
				break
			}
		}
	}
}
