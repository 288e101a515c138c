package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"imehud/internal/security"
	"imehud/internal/sink"
)

// Server errors
var (
	ErrServerStopped  = errors.New("ipc server is not running")
	ErrAlreadyRunning = errors.New("another daemon is listening on the socket")
)

// StatusFunc supplies the daemon-side fields of a status response.
type StatusFunc func() StatusResponse

// Server is the IPC server that manages client connections. It implements
// sink.Sink: every presented update is broadcast to subscribers.
type Server struct {
	mu       sync.RWMutex
	listener net.Listener
	clients  map[string]*Client
	last     *sink.Update

	cfg       ServerConfig
	logger    *slog.Logger
	startedAt time.Time
	updates   atomic.Uint64
	dropped   atomic.Uint64

	// Shutdown coordination
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	nextRequestID atomic.Uint32
	nextClientID  atomic.Uint64
}

// Client represents a connected client
type Client struct {
	mu           sync.Mutex
	ID           string
	conn         net.Conn
	Initialized  bool
	Version      string
	Name         string
	ConnectedAt  time.Time
	LastActivity time.Time

	events  map[EventType]bool
	outbox  chan *Message
	limiter *security.RateLimiter

	// Write serialization
	writeMu sync.Mutex
}

func (c *Client) subscribed(t EventType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[t]
}

// ServerConfig configures the IPC server
type ServerConfig struct {
	SocketPath     string      // Unix socket path
	Version        string      // Server version
	Permissions    os.FileMode // socket file mode
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxConnections int
	OutboxSize     int     // per-subscriber event queue
	RequestRate    float64 // sustained requests per second per client
	RequestBurst   int
	Logger         *slog.Logger
	Status         StatusFunc
}

// DefaultServerConfig returns sensible defaults
func DefaultServerConfig(socketPath string) ServerConfig {
	return ServerConfig{
		SocketPath:     socketPath,
		Version:        "dev",
		Permissions:    0600,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   2 * time.Second,
		MaxConnections: 16,
		OutboxSize:     64,
		RequestRate:    20,
		RequestBurst:   40,
	}
}

// NewServer creates a new IPC server
func NewServer(cfg ServerConfig) *Server {
	defaults := DefaultServerConfig(cfg.SocketPath)
	if cfg.Permissions == 0 {
		cfg.Permissions = defaults.Permissions
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = defaults.MaxConnections
	}
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = defaults.OutboxSize
	}
	if cfg.RequestRate <= 0 {
		cfg.RequestRate = defaults.RequestRate
	}
	if cfg.RequestBurst <= 0 {
		cfg.RequestBurst = defaults.RequestBurst
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		logger:  logger.With("component", "ipc"),
		clients: make(map[string]*Client),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins listening for connections
func (s *Server) Start() error {
	if s.running.Load() {
		return nil
	}

	socketDir := filepath.Dir(s.cfg.SocketPath)
	if err := security.EnsurePrivateDir(socketDir); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}
	if err := security.CheckPrivate(socketDir); err != nil {
		s.logger.Warn("socket directory is writable by other users", "dir", socketDir, "error", err)
	}

	if IsSocketListening(s.cfg.SocketPath) {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, s.cfg.SocketPath)
	}
	if err := CleanupSocket(s.cfg.SocketPath); err != nil {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on socket: %w", err)
	}

	if err := SetSocketPermissions(s.cfg.SocketPath, s.cfg.Permissions); err != nil {
		listener.Close()
		return fmt.Errorf("set socket permissions: %w", err)
	}

	s.listener = listener
	s.startedAt = time.Now()
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()

	s.logger.Info("ipc server listening", "socket", s.cfg.SocketPath)
	return nil
}

// Stop notifies subscribers and shuts the server down.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.broadcast(&Event{Type: EventDaemonShutdown, Timestamp: time.Now()})

	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	for id, client := range s.clients {
		delete(s.clients, id)
		close(client.outbox)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.logger.Warn("ipc shutdown timed out")
	}

	os.Remove(s.cfg.SocketPath)
	return nil
}

// SocketPath returns the socket path
func (s *Server) SocketPath() string {
	return s.cfg.SocketPath
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Dropped returns the number of events dropped for slow subscribers.
func (s *Server) Dropped() uint64 {
	return s.dropped.Load()
}

// Present broadcasts an update to subscribers and remembers it for status
// requests and new subscribers.
func (s *Server) Present(_ context.Context, u sink.Update) error {
	if !s.running.Load() {
		return ErrServerStopped
	}

	event, err := NewUpdateEvent(u)
	if err != nil {
		return fmt.Errorf("encode update: %w", err)
	}

	s.mu.Lock()
	s.last = &u
	s.mu.Unlock()
	s.updates.Add(1)

	s.broadcast(event)
	return nil
}

// broadcast queues an event for every subscribed client. Slow clients lose
// events rather than stalling the caller.
func (s *Server) broadcast(event *Event) {
	payload, err := Encode(event)
	if err != nil {
		s.logger.Error("encode event", "type", event.Type, "error", err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, client := range s.clients {
		if !client.subscribed(event.Type) {
			continue
		}
		msg := NewMessage(MsgEvent, s.nextRequestID.Add(1), payload)
		select {
		case client.outbox <- msg:
		default:
			s.dropped.Add(1)
		}
	}
}

// Status assembles the status response.
func (s *Server) Status() StatusResponse {
	var status StatusResponse
	if s.cfg.Status != nil {
		status = s.cfg.Status()
	}

	s.mu.RLock()
	if s.last != nil {
		last := *s.last
		status.Last = &last
	}
	subscribers := 0
	for _, c := range s.clients {
		if c.subscribed(EventStatusUpdate) {
			subscribers++
		}
	}
	s.mu.RUnlock()

	status.Version = s.cfg.Version
	status.StartedAt = s.startedAt
	status.Uptime = time.Since(s.startedAt).Truncate(time.Millisecond)
	status.Updates = s.updates.Load()
	status.Subscribers = subscribers
	return status
}

// acceptLoop accepts new connections
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}

		s.mu.Lock()
		if !s.running.Load() {
			s.mu.Unlock()
			conn.Close()
			return
		}
		if len(s.clients) >= s.cfg.MaxConnections {
			s.mu.Unlock()
			s.logger.Warn("connection limit reached", "max", s.cfg.MaxConnections)
			conn.Close()
			continue
		}

		now := time.Now()
		client := &Client{
			ID:           fmt.Sprintf("client-%d", s.nextClientID.Add(1)),
			conn:         conn,
			ConnectedAt:  now,
			LastActivity: now,
			events:       make(map[EventType]bool),
			outbox:       make(chan *Message, s.cfg.OutboxSize),
			limiter:      security.NewRateLimiter(s.cfg.RequestRate, s.cfg.RequestBurst),
		}
		s.clients[client.ID] = client
		s.mu.Unlock()

		s.wg.Add(2)
		go s.writeLoop(client)
		go s.handleConnection(client)
	}
}

// writeLoop drains a client's event queue until the queue is closed.
func (s *Server) writeLoop(client *Client) {
	defer s.wg.Done()

	for msg := range client.outbox {
		if err := s.sendMessage(client, msg); err != nil {
			client.conn.Close()
			for range client.outbox {
			}
			return
		}
	}
	client.conn.Close()
}

// handleConnection handles a single client connection
func (s *Server) handleConnection(client *Client) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		if _, ok := s.clients[client.ID]; ok {
			delete(s.clients, client.ID)
			close(client.outbox)
		}
		s.mu.Unlock()
		client.conn.Close()
	}()

	r := bufio.NewReader(client.conn)
	for {
		if s.ctx.Err() != nil {
			return
		}

		// Idle between frames: a timeout here only earns a ping.
		client.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		if _, err := r.Peek(1); err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() && s.ctx.Err() == nil {
				s.sendPing(client)
				continue
			}
			return
		}

		// Mid-frame: a timeout leaves the stream misaligned, so drop the client.
		client.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		msg, err := ReadMessage(r)
		if err != nil {
			if err == io.EOF || errors.Is(err, net.ErrClosed) || s.ctx.Err() != nil {
				return
			}
			s.logger.Debug("dropping client", "client", client.ID, "error", err)
			return
		}

		client.mu.Lock()
		client.LastActivity = time.Now()
		client.mu.Unlock()

		response, err := s.processMessage(client, msg)
		if err != nil {
			response = NewErrorMessage(msg.Header.RequestID, ErrInternalError, err.Error())
		}

		if response != nil {
			if err := s.sendMessage(client, response); err != nil {
				return
			}
		}
	}
}

// processMessage processes a single message
func (s *Server) processMessage(client *Client, msg *Message) (*Message, error) {
	if msg.Header.Type != MsgPong && !client.limiter.Allow() {
		return NewErrorMessage(msg.Header.RequestID, ErrRateLimited, "too many requests"), nil
	}

	switch msg.Header.Type {
	case MsgPing:
		return NewMessage(MsgPong, msg.Header.RequestID, nil), nil
	case MsgPong:
		return nil, nil
	case MsgHandshake:
		return s.handleHandshake(client, msg)
	}

	client.mu.Lock()
	initialized := client.Initialized
	client.mu.Unlock()
	if !initialized {
		return NewErrorMessage(msg.Header.RequestID, ErrNotInitialized, "handshake required"), nil
	}

	switch msg.Header.Type {
	case MsgStatusRequest:
		return NewResponse(MsgStatusResponse, msg.Header.RequestID, s.Status())
	case MsgSubscribe:
		return s.handleSubscribe(client, msg)
	case MsgUnsubscribe:
		client.mu.Lock()
		client.events = make(map[EventType]bool)
		client.mu.Unlock()
		return NewMessage(MsgUnsubscribeResp, msg.Header.RequestID, nil), nil
	default:
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest,
			fmt.Sprintf("unsupported message %s", msg.Header.Type)), nil
	}
}

// handleHandshake checks the peer and protocol version.
func (s *Server) handleHandshake(client *Client, msg *Message) (*Message, error) {
	var req HandshakeRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid handshake"), nil
	}
	if req.ProtocolVersion != 0 && req.ProtocolVersion > ProtocolVersion {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest,
			fmt.Sprintf("unsupported protocol version %d", req.ProtocolVersion)), nil
	}

	ok, err := VerifyPeerIsCurrentUser(client.conn)
	if err != nil && !errors.Is(err, ErrPeerCredentialsUnsupported) {
		s.logger.Warn("peer credentials unavailable", "client", client.ID, "error", err)
	}
	if err == nil && !ok {
		s.logger.Warn("rejecting client from another user", "client", client.ID)
		return NewErrorMessage(msg.Header.RequestID, ErrPermissionDenied, "peer is not the daemon user"), nil
	}

	client.mu.Lock()
	client.Initialized = true
	client.Version = req.ClientVersion
	client.Name = req.ClientName
	client.mu.Unlock()

	s.logger.Debug("client connected", "client", client.ID, "name", req.ClientName, "version", req.ClientVersion)

	return NewResponse(MsgHandshakeAck, msg.Header.RequestID, &HandshakeResponse{
		ServerVersion:   s.cfg.Version,
		ProtocolVersion: ProtocolVersion,
		SessionID:       client.ID,
	})
}

// handleSubscribe processes event subscription. A new status subscriber
// is queued the latest update so it can render immediately.
func (s *Server) handleSubscribe(client *Client, msg *Message) (*Message, error) {
	var req SubscribeRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid subscribe request"), nil
	}

	events := req.Events
	if len(events) == 0 {
		events = AllEvents
	}

	client.mu.Lock()
	for _, et := range events {
		client.events[et] = true
	}
	client.mu.Unlock()

	s.mu.RLock()
	if _, ok := s.clients[client.ID]; ok && s.last != nil && client.subscribed(EventStatusUpdate) {
		if event, err := NewUpdateEvent(*s.last); err == nil {
			if payload, err := Encode(event); err == nil {
				select {
				case client.outbox <- NewMessage(MsgEvent, s.nextRequestID.Add(1), payload):
				default:
					s.dropped.Add(1)
				}
			}
		}
	}
	s.mu.RUnlock()

	return NewResponse(MsgSubscribeResp, msg.Header.RequestID, &SubscribeResponse{
		Success:        true,
		SubscriptionID: client.ID,
		Events:         events,
	})
}

// sendMessage sends a message to a client
func (s *Server) sendMessage(client *Client, msg *Message) error {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()

	client.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return msg.Write(client.conn)
}

// sendPing sends a ping to keep connection alive
func (s *Server) sendPing(client *Client) {
	s.sendMessage(client, NewMessage(MsgPing, s.nextRequestID.Add(1), nil))
}
