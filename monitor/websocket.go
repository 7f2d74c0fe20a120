package monitor

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/john/beeprint/printer"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// jsonRPCRequest represents an incoming JSON-RPC 2.0 request.
type jsonRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      interface{} `json:"id"`
}

// jsonRPCResponse represents an outgoing JSON-RPC 2.0 response.
type jsonRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// jsonRPCNotification is a server-to-client message without an id.
type jsonRPCNotification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// client is one connected WebSocket peer. Writes are serialized.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// Hub manages all WebSocket clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]bool
	server  *Server
}

// NewHub creates a hub answering requests from s.
func NewHub(s *Server) *Hub {
	return &Hub{
		clients: make(map[*client]bool),
		server:  s,
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close()
		delete(h.clients, c)
	}
}

// BroadcastStatusUpdate sends notify_status_update to every client.
func (h *Hub) BroadcastStatusUpdate(snap printer.StateData) {
	h.BroadcastNotification("notify_status_update", []interface{}{snap})
}

// BroadcastNotification sends a notification to all connected clients.
func (h *Hub) BroadcastNotification(method string, params interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	notification := jsonRPCNotification{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	}
	for c := range h.clients {
		if err := c.send(notification); err != nil {
			log.Debug().Err(err).Str("method", method).Msg("WebSocket broadcast failed")
		}
	}
}

// HandleWebSocket upgrades the connection and serves JSON-RPC on it.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &client{conn: conn}
	h.register(c)
	defer func() {
		h.unregister(c)
		conn.Close()
	}()

	log.Debug().Str("remote", r.RemoteAddr).Msg("WebSocket client connected")

	// New clients get the current state right away.
	c.send(jsonRPCNotification{
		JSONRPC: "2.0",
		Method:  "notify_status_update",
		Params:  []interface{}{h.server.state.Snapshot()},
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}

		var req jsonRPCRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.send(jsonRPCResponse{
				JSONRPC: "2.0",
				Error:   &rpcError{Code: -32700, Message: "Parse error"},
			})
			continue
		}
		h.handleRPC(c, &req)
	}
}

func (h *Hub) handleRPC(c *client, req *jsonRPCRequest) {
	resp := jsonRPCResponse{JSONRPC: "2.0", ID: req.ID}

	switch req.Method {
	case "printer.status":
		resp.Result = h.server.state.Snapshot()

	case "server.history.list":
		if h.server.history == nil {
			resp.Error = &rpcError{Code: -32601, Message: "History disabled"}
			break
		}
		jobs, total := h.server.history.ListJobs(0, extractIntParam(req.Params, "limit", 50), "")
		resp.Result = map[string]interface{}{"count": total, "jobs": jobs}

	case "server.history.totals":
		if h.server.history == nil {
			resp.Error = &rpcError{Code: -32601, Message: "History disabled"}
			break
		}
		resp.Result = map[string]interface{}{"job_totals": h.server.history.GetTotals()}

	default:
		resp.Error = &rpcError{Code: -32601, Message: "Method not found: " + req.Method}
	}

	if err := c.send(resp); err != nil {
		log.Debug().Err(err).Msg("WebSocket response send failed")
	}
}

// extractIntParam pulls a numeric field from params.
func extractIntParam(params interface{}, key string, def int) int {
	if p, ok := params.(map[string]interface{}); ok {
		if v, ok := p[key].(float64); ok {
			return int(v)
		}
	}
	return def
}
