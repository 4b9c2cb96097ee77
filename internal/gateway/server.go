package gateway

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bowerhall/parley/internal/chat"
	"github.com/bowerhall/parley/internal/logger"
)

// Server upgrades websocket connections and bridges them to the engine. It
// is the engine's Emitter: events addressed to a connection id land on that
// client's send queue.
type Server struct {
	engine   *chat.Engine
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
}

func NewServer() *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// local single-user service, same-origin checks add nothing
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
}

// Bind attaches the engine. Done after construction because the engine needs
// the server as its emitter.
func (s *Server) Bind(engine *chat.Engine) {
	s.engine = engine
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade", "error", err)
		return
	}

	c := &client{
		id:     uuid.NewString(),
		server: s,
		conn:   conn,
		send:   make(chan outboundMessage, 256),
	}

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	s.engine.Connect(c.id)
	logger.Info("client connected", "connection", c.id, "remote", r.RemoteAddr)

	go c.writePump()
	go c.readPump()
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	if existing, ok := s.clients[c.id]; ok && existing == c {
		delete(s.clients, c.id)
		close(c.send)
	}
	s.mu.Unlock()

	s.engine.Disconnect(c.id)
	logger.Info("client disconnected", "connection", c.id)
}

// Emit implements chat.Emitter. Events for connections that already dropped
// are discarded; the engine does not care. The send stays under the lock so
// it cannot race unregister closing the channel.
func (s *Server) Emit(connectionID string, ev chat.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[connectionID]
	if !ok {
		return
	}
	select {
	case c.send <- outboundMessage{Type: ev.Name, Data: ev.Data}:
	default:
		// a client that cannot keep up loses the whole connection, never
		// individual events; readPump unregisters it on the closed socket
		logger.Warn("client too slow, closing connection", "connection", c.id)
		c.conn.Close()
	}
}
