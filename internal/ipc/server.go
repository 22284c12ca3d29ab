package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fuelsh/fuel/pkg/models"
)

// Handler processes one client command. Events it wants delivered go back
// through the server's broadcast or reply methods.
type Handler func(clientID string, cmd *Command)

// client is one connected IPC consumer with a bounded outgoing queue.
// mu guards the queue state including closure, so a broadcast can never
// race a disconnect onto a closed channel.
type client struct {
	id      string
	conn    net.Conn
	send    chan []byte
	pending int
	dropped int
	closed  bool
	mu      sync.Mutex
}

// shutdown closes the outgoing queue exactly once. Returns true on the
// first call.
func (c *client) shutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	return true
}

// Server owns the unix socket and all connected clients. Slow clients drop
// output chunks rather than stalling the daemon; snapshots and command
// responses are never dropped, the connection is closed instead.
type Server struct {
	path       string
	instanceID string
	maxPending int
	log        *zap.Logger
	handler    Handler

	// OnConnect, when set before Listen, runs for each new client after its
	// hello so the daemon can push an initial snapshot.
	OnConnect func(clientID string)

	mu       sync.Mutex
	listener net.Listener
	clients  map[string]*client
	closed   bool
}

// NewServer creates a Server for the socket path. maxPending bounds the
// bytes queued per client before backpressure kicks in.
func NewServer(path, instanceID string, maxPending int, handler Handler, log *zap.Logger) *Server {
	return &Server{
		path:       path,
		instanceID: instanceID,
		maxPending: maxPending,
		handler:    handler,
		log:        log,
		clients:    make(map[string]*client),
	}
}

// Listen binds the socket, replacing a stale file from a dead daemon, and
// serves until the context is cancelled.
func (s *Server) Listen(ctx context.Context) error {
	// The PID file is authoritative for liveness; a leftover socket file
	// from a crash would otherwise block the bind.
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.path, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("ipc accept", zap.Error(err))
			continue
		}
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 256),
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[c.id] = c
	s.mu.Unlock()

	s.log.Info("ipc client connected", zap.String("client", c.id))

	hello := NewEvent(EventHello, s.instanceID)
	if data, err := Encode(hello); err == nil {
		c.enqueue(data, false, s.maxPending)
	}

	go s.writeLoop(c)
	if s.OnConnect != nil {
		s.OnConnect(c.id)
	}
	s.readLoop(c)
	s.disconnect(c)
}

func (s *Server) readLoop(c *client) {
	scanner := bufio.NewScanner(c.conn)
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		cmd, err := DecodeCommand(line)
		if err != nil {
			ev := NewEvent(EventError, s.instanceID)
			ev.Error = err.Error()
			s.Reply(c.id, ev)
			continue
		}
		s.handler(c.id, cmd)
	}
}

func (s *Server) writeLoop(c *client) {
	for data := range c.send {
		if _, err := c.conn.Write(data); err != nil {
			c.conn.Close()
			return
		}
		c.mu.Lock()
		c.pending -= len(data)
		c.mu.Unlock()
	}
	c.conn.Close()
}

// enqueue queues data for a client. Droppable messages are discarded under
// backpressure and counted; for critical messages the client is declared
// dead instead. Returns false when the client should be disconnected.
func (c *client) enqueue(data []byte, droppable bool, maxPending int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		// A departing client silently swallows the message.
		return true
	}
	if maxPending > 0 && c.pending+len(data) > maxPending {
		if droppable {
			c.dropped++
			return true
		}
		return false
	}
	select {
	case c.send <- data:
		c.pending += len(data)
		return true
	default:
		if droppable {
			c.dropped++
		}
		return droppable
	}
}

// Broadcast delivers an event to every client. Output chunks are droppable;
// everything else closes clients that cannot keep up.
func (s *Server) Broadcast(ev *Event) {
	data, err := Encode(ev)
	if err != nil {
		s.log.Error("encode broadcast", zap.Error(err))
		return
	}
	droppable := ev.Type == EventOutputChunk || ev.Type == EventStatusLine

	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		if !c.enqueue(data, droppable, s.maxPending) {
			s.log.Warn("ipc client too slow, disconnecting", zap.String("client", c.id))
			s.disconnect(c)
		}
	}
}

// Reply delivers an event to one client.
func (s *Server) Reply(clientID string, ev *Event) {
	data, err := Encode(ev)
	if err != nil {
		s.log.Error("encode reply", zap.Error(err))
		return
	}
	s.mu.Lock()
	c, ok := s.clients[clientID]
	s.mu.Unlock()
	if !ok {
		return
	}
	if !c.enqueue(data, false, s.maxPending) {
		s.disconnect(c)
	}
}

// ClientStats reports per-client drop counters for snapshot composition.
func (s *Server) ClientStats() map[string]*models.ClientStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*models.ClientStats, len(s.clients))
	for id, c := range s.clients {
		c.mu.Lock()
		out[id] = &models.ClientStats{DroppedChunks: c.dropped}
		c.mu.Unlock()
	}
	return out
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) disconnect(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	if c.shutdown() {
		s.log.Info("ipc client disconnected", zap.String("client", c.id))
	}
}

// Close shuts the listener and all clients down and removes the socket file.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	listener := s.listener
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clients = make(map[string]*client)
	s.mu.Unlock()

	if listener != nil {
		listener.Close()
	}
	for _, c := range clients {
		c.shutdown()
	}
	os.Remove(s.path)
}
