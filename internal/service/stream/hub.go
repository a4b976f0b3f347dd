// Package stream pushes completed fits to websocket subscribers.
package stream

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"ChargeFit/internal/domain/models"
	applogger "ChargeFit/pkg/logger"
)

var (
	metricsOnce sync.Once

	subscribersGauge prometheus.Gauge
	droppedTotal     prometheus.Counter
)

func initMetrics() {
	metricsOnce.Do(func() {
		subscribersGauge = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chargefit_stream_subscribers",
			Help: "Connected fit stream subscribers",
		})
		droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "chargefit_stream_dropped_total",
			Help: "Fit records dropped for slow subscribers",
		})
	})
}

// Config controls per-subscriber buffering and keepalive.
type Config struct {
	BufferSize   int
	PingInterval time.Duration
	WriteTimeout time.Duration
}

// Hub fans fit records out to every connected subscriber. A subscriber may
// narrow its feed with the kind and event_id query parameters.
type Hub struct {
	cfg      Config
	upgrader websocket.Upgrader
	l        *applogger.Logger

	mu      sync.RWMutex
	clients map[*subscriber]struct{}
	closed  bool
}

type subscriber struct {
	send    chan []byte
	kind    models.FitKind
	eventID string
	once    sync.Once
}

func (s *subscriber) wants(rec models.FitRecord) bool {
	return (s.kind == "" || s.kind == rec.Kind) && (s.eventID == "" || s.eventID == rec.EventID)
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.send) })
}

func NewHub(cfg Config, l *applogger.Logger) *Hub {
	initMetrics()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &Hub{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		l:       l,
		clients: make(map[*subscriber]struct{}),
	}
}

// ServeHTTP upgrades the request and streams records until the peer leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.l.Warn("stream upgrade", applogger.Error(err))
		return
	}
	sub := &subscriber{
		send:    make(chan []byte, h.cfg.BufferSize),
		kind:    models.FitKind(r.URL.Query().Get("kind")),
		eventID: r.URL.Query().Get("event_id"),
	}
	if !h.add(sub) {
		_ = conn.Close()
		return
	}
	go h.writePump(conn, sub)
	h.readPump(conn, sub)
}

func (h *Hub) add(sub *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[sub] = struct{}{}
	subscribersGauge.Inc()
	return true
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.clients[sub]; ok {
		delete(h.clients, sub)
		subscribersGauge.Dec()
	}
	h.mu.Unlock()
	sub.close()
}

// readPump discards inbound frames and keeps the read deadline moving on pongs.
func (h *Hub) readPump(conn *websocket.Conn, sub *subscriber) {
	defer h.remove(sub)
	wait := 2 * h.cfg.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(wait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, sub *subscriber) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case b, ok := <-sub.send:
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Broadcast queues rec for every interested subscriber. Full queues drop.
func (h *Hub) Broadcast(rec models.FitRecord) {
	b, err := json.Marshal(rec)
	if err != nil {
		h.l.Error("stream marshal", applogger.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.clients {
		if !sub.wants(rec) {
			continue
		}
		select {
		case sub.send <- b:
		default:
			droppedTotal.Inc()
		}
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*subscriber, 0, len(h.clients))
	for sub := range h.clients {
		subs = append(subs, sub)
	}
	h.mu.Unlock()
	for _, sub := range subs {
		h.remove(sub)
	}
}
