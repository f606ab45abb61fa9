package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 30 * time.Second

	// Pending reload markers per client before it is dropped.
	clientBuffer = 8
)

// client is one live reload connection.
type client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func (c *client) close(code websocket.StatusCode, reason string) {
	c.once.Do(func() {
		c.cancel()
		_ = c.conn.Close(code, reason)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.done:
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Debug(r.Context(), "WebSocket upgrade failed", "error", err.Error())
		return
	}

	// Browsers never send anything; CloseRead handles control frames and
	// cancels ctx once the peer goes away.
	ctx := conn.CloseRead(context.Background())
	ctx, cancel := context.WithCancel(ctx)

	c := &client{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, clientBuffer),
		ctx:    ctx,
		cancel: cancel,
	}

	if !s.register(c) {
		c.close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer s.unregister(c)

	s.writeLoop(c)
}

func (s *Server) register(c *client) bool {
	s.clientsMutex.Lock()
	select {
	case <-s.done:
		s.clientsMutex.Unlock()
		return false
	default:
	}
	s.clients[c.id] = c
	count := len(s.clients)
	s.clientsMutex.Unlock()

	s.metrics.SetLiveClients(count)
	s.logger.Debug(c.ctx, "Live reload client connected", "client", c.id, "clients", count)
	return true
}

func (s *Server) unregister(c *client) {
	s.clientsMutex.Lock()
	_, ok := s.clients[c.id]
	delete(s.clients, c.id)
	count := len(s.clients)
	s.clientsMutex.Unlock()

	c.close(websocket.StatusNormalClosure, "")
	if ok {
		s.metrics.SetLiveClients(count)
		s.logger.Debug(context.Background(), "Live reload client disconnected", "client", c.id, "clients", count)
	}
}

// writeLoop delivers queued messages and keeps the connection alive until
// the peer disconnects or the client is dropped.
func (s *Server) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case message := <-c.send:
			writeCtx, cancel := context.WithTimeout(c.ctx, writeWait)
			err := c.conn.Write(writeCtx, websocket.MessageText, message)
			cancel()
			if err != nil {
				s.logger.Debug(c.ctx, "WebSocket write failed", "client", c.id, "error", err.Error())
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, writeWait)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// broadcast queues message for every registered client. Clients whose
// queue is full are dropped.
func (s *Server) broadcast(message []byte) {
	var stalled []*client

	s.clientsMutex.RLock()
	for _, c := range s.clients {
		select {
		case c.send <- message:
		default:
			stalled = append(stalled, c)
		}
	}
	s.clientsMutex.RUnlock()

	for _, c := range stalled {
		s.logger.Debug(context.Background(), "Dropping stalled live reload client", "client", c.id)
		c.close(websocket.StatusPolicyViolation, "client too slow")
	}
	s.metrics.IncReloadBroadcast()
}

// ClientCount returns the number of registered live reload connections.
func (s *Server) ClientCount() int {
	s.clientsMutex.RLock()
	defer s.clientsMutex.RUnlock()
	return len(s.clients)
}

// closeAllClients runs the close handshake with every client at once.
// Handshakes still pending when ctx ends are cut short.
func (s *Server) closeAllClients(ctx context.Context) {
	s.clientsMutex.Lock()
	clients := make([]*client, 0, len(s.clients))
	for id, c := range s.clients {
		clients = append(clients, c)
		delete(s.clients, id)
	}
	s.clientsMutex.Unlock()

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.close(websocket.StatusGoingAway, "server shutting down")
		}()
	}

	closed := make(chan struct{})
	go func() {
		wg.Wait()
		close(closed)
	}()

	select {
	case <-closed:
	case <-ctx.Done():
		for _, c := range clients {
			_ = c.conn.CloseNow()
		}
		<-closed
	}
	s.metrics.SetLiveClients(0)
}
