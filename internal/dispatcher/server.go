package dispatcher

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/corvidlabs/corvid-core/internal/errs"
	"github.com/corvidlabs/corvid-core/internal/idgen"
	"github.com/corvidlabs/corvid-core/internal/metrics"
)

// ServerConfig configures the WebSocket transport wrapping a Dispatcher.
// Grounded on streamspace-dev-streamspace's websocket.go hub (upgrader +
// per-connection read/write pumps with a buffered send channel), adapted
// from its gin-based hub to the teacher's plain net/http server idiom
// (internal/server/main_handlers.go).
type ServerConfig struct {
	Addr        string
	RequireAuth bool
	JWTSecret   string
	TLS         *TLSServerConfig
	Metrics     *metrics.Registry
}

// TLSServerConfig is the resolved TLS material a Server listens with.
type TLSServerConfig struct {
	CertFile string
	KeyFile  string
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// client is one connected WebSocket session.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	authed bool
}

// Server wraps a Dispatcher with a WebSocket listener, an optional JWT auth
// gate, and a /metrics endpoint.
type Server struct {
	cfg ServerConfig
	d   *Dispatcher
	log zerolog.Logger

	mu      sync.Mutex
	clients map[string]*client
	seq     uint64
}

// NewServer builds a Server around an already-constructed Dispatcher.
func NewServer(cfg ServerConfig, d *Dispatcher, log zerolog.Logger) *Server {
	return &Server{cfg: cfg, d: d, log: log, clients: make(map[string]*client)}
}

// Mux builds the HTTP handler: the WebSocket upgrade endpoint plus,
// when cfg.Metrics is set, a /metrics endpoint for Prometheus scraping.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)
	if s.cfg.Metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.cfg.Metrics.Reg, promhttp.HandlerOpts{}))
	}
	return mux
}

// ListenAndServe blocks serving the dispatcher over ws:// or wss://
// depending on cfg.TLS. While it runs, every event published on the
// components' bus is broadcast to connected clients as a "event" frame.
func (s *Server) ListenAndServe() error {
	if s.d.Components != nil && s.d.Components.Bus != nil {
		events, cancel := s.d.Components.Bus.Subscribe(256)
		defer cancel()
		go func() {
			for evt := range events {
				s.Broadcast("event", map[string]any{"kind": evt.Kind, "data": evt.Data})
			}
		}()
	}
	httpServer := &http.Server{Addr: s.cfg.Addr, Handler: s.Mux()}
	if s.cfg.TLS != nil {
		return httpServer.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	}
	return httpServer.ListenAndServe()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("dispatcher: websocket upgrade failed")
		return
	}

	s.mu.Lock()
	s.seq++
	id := idgen.ClientID(s.seq)
	c := &client{id: id, conn: conn, send: make(chan []byte, 32), authed: !s.cfg.RequireAuth}
	s.clients[id] = c
	s.mu.Unlock()

	c.send <- BroadcastFrame("status", map[string]any{"message": "connected", "clientId": id})

	go s.writePump(c)
	s.readPump(c)
}

func (s *Server) readPump(c *client) {
	defer s.disconnect(c)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if s.cfg.RequireAuth && !c.authed {
			if s.tryAuthenticate(c, raw) {
				continue
			}
			c.send <- errorFrameUnauthorized()
			continue
		}
		resp := s.d.HandleMessage(context.Background(), c.id, raw)
		c.send <- resp
	}
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) disconnect(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	close(c.send)
	_ = c.conn.Close()
}

// tryAuthenticate consumes one frame as an authenticate command when the
// client hasn't yet authenticated. Returns true if the frame was consumed
// as an auth attempt (whether or not it succeeded).
func (s *Server) tryAuthenticate(c *client, raw []byte) bool {
	req, err := ParseRequest(raw)
	if err != nil || req.Command != "authenticate" {
		return false
	}
	token, _ := req.Args["token"].(string)
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil || !parsed.Valid {
		c.send <- successFrame(req.ID, map[string]any{"success": false, "authenticated": false})
		return true
	}
	c.authed = true
	c.send <- successFrame(req.ID, map[string]any{"authenticated": true})
	return true
}

func errorFrameUnauthorized() []byte {
	return BroadcastFrame("error", map[string]any{"error": "authenticate first", "kind": string(errs.Unauthorized)})
}

// Broadcast pushes a server-initiated frame to every connected client.
func (s *Server) Broadcast(kind string, fields map[string]any) {
	frame := BroadcastFrame(kind, fields)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		select {
		case c.send <- frame:
		default:
		}
	}
}
