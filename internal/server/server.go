// Package server bridges the transport hub to remote clients over
// WebSocket, with health and metrics endpoints alongside.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"deskmate/internal/agent"
	"deskmate/internal/logging"
	"deskmate/internal/memory"
	"deskmate/internal/transport"
)

var (
	turnsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deskmate_turns_total",
		Help: "Turns started over the websocket relay.",
	})
	wsConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "deskmate_ws_connections",
		Help: "Currently connected websocket clients.",
	})
)

// Frame is the websocket wire format: one JSON object per message.
type Frame struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Frame types.
const (
	frameResponseChunk = "response_chunk"
	frameResponseEnd   = "response_end"
	frameResponseImage = "response_image"
	frameStatsUpdate   = "stats_update"
	frameUserMessage   = "user_message"
	frameClearChat     = "clear_chat"
)

// Server exposes the agent over HTTP/WebSocket. Each connection gets its
// own Driver and its own Hub, so concurrent turns on different connections
// never interleave on the wire; turns on one connection are serialized.
type Server struct {
	host       string
	port       int
	buffer     int
	newDriver  func(hub *transport.Hub) *agent.Driver
	memory     *memory.Store
	engine     *gin.Engine
	httpServer *http.Server
	upgrader   websocket.Upgrader
	logger     logging.Logger
}

// Config wires a Server.
type Config struct {
	Host      string
	Port      int
	Buffer    int // per-subscriber event buffer
	NewDriver func(hub *transport.Hub) *agent.Driver
	Memory    *memory.Store
}

func New(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowWebSockets = true
	engine.Use(cors.New(corsConfig))

	s := &Server{
		host:      cfg.Host,
		port:      cfg.Port,
		buffer:    cfg.Buffer,
		newDriver: cfg.NewDriver,
		memory:    cfg.Memory,
		engine:    engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logging.NewComponentLogger("server"),
	}

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/ws", s.handleWebSocket)
	return s
}

// Handler exposes the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.host, s.port),
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed: %v", err)
		return
	}
	wsConnections.Inc()
	defer wsConnections.Dec()
	defer func() { _ = conn.Close() }()

	hub := transport.NewHub(s.buffer)
	client := &wsClient{
		conn:   conn,
		hub:    hub,
		driver: s.newDriver(hub),
		server: s,
	}
	client.run(c.Request.Context())
}

// wsClient owns one connection: a reader goroutine for inbound frames and
// a relay goroutine mirroring this connection's hub events out. The hub is
// private to the connection, so other clients' turns never appear here.
type wsClient struct {
	conn    *websocket.Conn
	hub     *transport.Hub
	driver  *agent.Driver
	server  *Server
	writeMu sync.Mutex
	turnMu  sync.Mutex
}

func (w *wsClient) send(frame Frame) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteJSON(frame)
}

func (w *wsClient) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, unsubscribe := w.hub.Subscribe()
	defer unsubscribe()

	go w.relay(ctx, events)

	for {
		var frame Frame
		if err := w.conn.ReadJSON(&frame); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.server.logger.Debug("websocket read ended: %v", err)
			}
			return
		}
		switch frame.Type {
		case frameUserMessage:
			if frame.Text == "" {
				continue
			}
			turnsTotal.Inc()
			go w.runTurn(ctx, frame.Text)
		case frameClearChat:
			w.server.memory.Clear()
			_ = w.send(Frame{Type: frameClearChat})
		default:
			w.server.logger.Debug("ignoring frame type %q", frame.Type)
		}
	}
}

// runTurn serializes turns per connection; a second user_message queues
// behind the running one. The end-of-turn marker goes through the hub so
// it cannot overtake chunks still queued in the relay.
func (w *wsClient) runTurn(ctx context.Context, text string) {
	w.turnMu.Lock()
	defer w.turnMu.Unlock()
	w.driver.Chat(ctx, text)
	w.hub.TurnEnd()
}

// relay mirrors hub events onto the socket. Control tokens travel inside
// response_chunk text; the remote end parses them to switch rendering.
func (w *wsClient) relay(ctx context.Context, events <-chan transport.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, open := <-events:
			if !open {
				return
			}
			var frame Frame
			switch event.Kind {
			case transport.KindProgress, transport.KindFinal:
				frame = Frame{Type: frameResponseChunk, Text: event.Text}
			case transport.KindImage:
				frame = Frame{Type: frameResponseImage, Data: event.Data}
			case transport.KindStats:
				frame = Frame{Type: frameStatsUpdate, Data: event.Data}
			case transport.KindTurnEnd:
				frame = Frame{Type: frameResponseEnd}
			default:
				continue
			}
			if err := w.send(frame); err != nil {
				w.server.logger.Debug("websocket write failed: %v", err)
				return
			}
		}
	}
}
