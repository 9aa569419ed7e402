package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tos-network/poolwatch/internal/alerts"
	"github.com/tos-network/poolwatch/internal/util"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Frames queued per client; a client that falls further behind loses
	// alerts instead of stalling the broadcaster.
	sendBuffer = 64
)

// Hub streams alert events to WebSocket clients.
type Hub struct {
	upgrader  websocket.Upgrader
	clients   sync.Map // clientID -> *WSClient
	clientSeq uint64

	quit     chan struct{}
	quitOnce sync.Once
	wg       sync.WaitGroup
}

// WSClient represents a WebSocket client
type WSClient struct {
	ID          uint64
	Conn        *websocket.Conn
	RemoteAddr  string
	ConnectedAt time.Time

	// Wallet ids the client subscribed to, unless all is set.
	mu      sync.RWMutex
	all     bool
	wallets map[string]bool

	out  chan []byte
	quit chan struct{}
}

// WSRequest is a JSON-RPC request from client
type WSRequest struct {
	ID     interface{}   `json:"id"`
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

// WSResponse is a JSON-RPC response to client
type WSResponse struct {
	ID     interface{} `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  interface{} `json:"error,omitempty"`
}

// WSNotify is a server notification
type WSNotify struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

// NewHub creates a hub accepting connections from the given origins.
// "*" or an empty list allows any origin.
func NewHub(origins []string) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(origins),
		},
		quit: make(chan struct{}),
	}
}

func originChecker(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || len(allowed) == 0 || allowed[origin]
	}
}

// ServeWS upgrades the request and registers the client. Without a
// "wallet" query parameter the client receives every wallet's alerts.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.quit:
		http.Error(w, "Shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.Warnf("WebSocket upgrade error: %v", err)
		return
	}

	client := &WSClient{
		ID:          atomic.AddUint64(&h.clientSeq, 1),
		Conn:        conn,
		RemoteAddr:  r.RemoteAddr,
		ConnectedAt: time.Now(),
		wallets:     make(map[string]bool),
		out:         make(chan []byte, sendBuffer),
		quit:        make(chan struct{}),
	}
	if id := r.URL.Query().Get("wallet"); id != "" {
		client.wallets[id] = true
	} else {
		client.all = true
	}

	h.clients.Store(client.ID, client)
	util.Debugf("WebSocket client %d connected from %s", client.ID, client.RemoteAddr)

	h.wg.Add(2)
	go h.readLoop(client)
	go h.writeLoop(client)
}

func (h *Hub) readLoop(client *WSClient) {
	defer h.wg.Done()
	defer func() {
		client.Conn.Close()
		h.clients.Delete(client.ID)
		close(client.quit)
		util.Debugf("WebSocket client %d disconnected", client.ID)
	}()

	client.Conn.SetReadLimit(4096)
	client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		return client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			return
		}

		var req WSRequest
		if err := json.Unmarshal(message, &req); err != nil {
			h.sendError(client, nil, -32700, "Parse error")
			continue
		}
		h.handleRequest(client, &req)
	}
}

// writeLoop is the only writer on the connection. It drains the client's
// queue and sends pings.
func (h *Hub) writeLoop(client *WSClient) {
	defer h.wg.Done()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-client.quit:
			return
		case data := <-client.out:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				util.Debugf("WebSocket write to client %d failed: %v", client.ID, err)
				client.Conn.Close()
				return
			}
		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				client.Conn.Close()
				return
			}
		}
	}
}

func (h *Hub) handleRequest(client *WSClient, req *WSRequest) {
	switch req.Method {
	case "subscribe":
		// No ids subscribes to every wallet; ids narrow the stream to them.
		ids := stringParams(req.Params)
		client.mu.Lock()
		client.all = len(ids) == 0
		for _, id := range ids {
			client.wallets[id] = true
		}
		client.mu.Unlock()
		h.sendResult(client, req.ID, ids)
	case "unsubscribe":
		// No ids unsubscribes from everything.
		ids := stringParams(req.Params)
		client.mu.Lock()
		if len(ids) == 0 {
			client.all = false
			client.wallets = make(map[string]bool)
		}
		for _, id := range ids {
			delete(client.wallets, id)
		}
		client.mu.Unlock()
		h.sendResult(client, req.ID, true)
	case "ping":
		h.sendResult(client, req.ID, "pong")
	default:
		h.sendError(client, req.ID, -32601, "Method not found")
	}
}

func stringParams(params []interface{}) []string {
	out := make([]string, 0, len(params))
	for _, p := range params {
		if s, ok := p.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *WSClient) wants(walletID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.all || c.wallets[walletID]
}

// Notify queues each event for the clients subscribed to its wallet. It
// never blocks on a slow client.
func (h *Hub) Notify(events []alerts.Event) {
	h.clients.Range(func(key, value interface{}) bool {
		client := value.(*WSClient)
		for _, ev := range events {
			if client.wants(ev.WalletID) {
				h.sendNotify(client, "alert", []interface{}{ev})
			}
		}
		return true
	})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	n := 0
	h.clients.Range(func(key, value interface{}) bool {
		n++
		return true
	})
	return n
}

// Close disconnects every client and waits for their goroutines.
func (h *Hub) Close() {
	h.quitOnce.Do(func() { close(h.quit) })

	h.clients.Range(func(key, value interface{}) bool {
		client := value.(*WSClient)
		client.Conn.Close()
		return true
	})

	h.wg.Wait()
	util.Info("WebSocket hub stopped")
}

func (h *Hub) sendResult(client *WSClient, id interface{}, result interface{}) {
	h.send(client, WSResponse{ID: id, Result: result})
}

func (h *Hub) sendError(client *WSClient, id interface{}, code int, message string) {
	h.send(client, WSResponse{
		ID:    id,
		Error: map[string]interface{}{"code": code, "message": message},
	})
}

func (h *Hub) sendNotify(client *WSClient, method string, params []interface{}) {
	h.send(client, WSNotify{Method: method, Params: params})
}

func (h *Hub) send(client *WSClient, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	select {
	case <-client.quit:
	case client.out <- data:
	default:
		util.Warnf("WebSocket client %d send queue full, dropping message", client.ID)
	}
}
