// internal/websocket/server.go
package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The editor frontend is served from its own dev origin; REST-style
	// origin checks happen in the authorize hook instead.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server accepts WebSocket clients, routes their RPC requests onto the
// bound surface and fans hub events out to every connected tab. It
// satisfies eventhub.Broadcaster.
type Server struct {
	authorize func(*http.Request) bool
	router    *Router
	log       *slog.Logger

	clients   map[string]*Client
	clientsMu sync.RWMutex
}

// NewServer binds the RPC surface. authorize runs before the upgrade; nil
// allows every request.
func NewServer(surface interface{}, authorize func(*http.Request) bool, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		authorize: authorize,
		router:    NewRouter(surface),
		log:       log,
		clients:   make(map[string]*Client),
	}
}

// Handler returns the upgrade endpoint for mounting on the HTTP router.
func (s *Server) Handler() http.HandlerFunc {
	return s.handleWebSocket
}

// Close disconnects every client.
func (s *Server) Close() {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	for id, client := range s.clients {
		client.Close()
		delete(s.clients, id)
	}
}

// ClientCount reports how many tabs are connected.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.authorize != nil && !s.authorize(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	clientID := uuid.New().String()
	client := NewClient(clientID, conn)

	s.clientsMu.Lock()
	s.clients[clientID] = client
	s.clientsMu.Unlock()

	s.log.Debug("websocket client connected", "client_id", clientID)

	go client.WritePump()

	s.readPump(client)
}

func (s *Server) readPump(client *Client) {
	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, client.ID)
		s.clientsMu.Unlock()
		client.Conn.Close()
		s.log.Debug("websocket client disconnected", "client_id", client.ID)
	}()

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Warn("websocket read failed", "client_id", client.ID, "error", err)
			}
			break
		}

		s.handleMessage(client, message)
	}
}

func (s *Server) handleMessage(client *Client, message []byte) {
	var msg WSMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		s.log.Warn("invalid websocket message", "client_id", client.ID, "error", err)
		return
	}

	if msg.Kind == "rpc_request" && msg.Request != nil {
		// Long calls (chat completion, restore replay) must not stall
		// the read loop.
		go s.handleRPCRequest(client, msg.Request)
	}
}

func (s *Server) handleRPCRequest(client *Client, req *RPCRequest) {
	result, err := s.router.Call(req.Method, req.Params)

	var errMsg string
	if err != nil {
		errMsg = err.Error()
	}

	if err := client.SendResponse(req.ID, result, errMsg); err != nil {
		s.log.Warn("websocket response dropped", "client_id", client.ID, "method", req.Method, "error", err)
	}
}

// BroadcastEvent pushes one event to every connected client.
func (s *Server) BroadcastEvent(eventType string, payload interface{}) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, client := range s.clients {
		if err := client.SendEvent(eventType, payload); err != nil {
			s.log.Warn("websocket event dropped", "client_id", client.ID, "type", eventType)
		}
	}
}
