package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Common errors
var (
	ErrNotConnected     = errors.New("not connected to daemon")
	ErrConnectionLost   = errors.New("connection to daemon lost")
	ErrTimeout          = errors.New("request timeout")
	ErrDaemonNotRunning = errors.New("daemon is not running")
)

// ClientConfig configures the IPC client
type ClientConfig struct {
	SocketPath     string
	ClientName     string
	ClientVersion  string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	EventBuffer    int
}

// DefaultClientConfig returns sensible defaults
func DefaultClientConfig(socketPath string) ClientConfig {
	return ClientConfig{
		SocketPath:     socketPath,
		ClientName:     "imehudctl",
		ClientVersion:  "dev",
		ConnectTimeout: 2 * time.Second,
		RequestTimeout: 5 * time.Second,
		EventBuffer:    256,
	}
}

// IPCClient is the client for communicating with the imehud daemon. Events
// are delivered on Events until the connection ends, after which the
// channel is closed.
type IPCClient struct {
	config ClientConfig

	mu        sync.RWMutex
	conn      net.Conn
	sessionID string
	version   string

	connected atomic.Bool
	writeMu   sync.Mutex

	pending   map[uint32]chan *Message
	pendingMu sync.Mutex
	nextReqID atomic.Uint32

	events  chan *Event
	dropped atomic.Uint64

	done    chan struct{}
	readErr error
}

// NewClient creates a new IPC client
func NewClient(cfg ClientConfig) *IPCClient {
	defaults := DefaultClientConfig(cfg.SocketPath)
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaults.EventBuffer
	}
	return &IPCClient{
		config:  cfg,
		pending: make(map[uint32]chan *Message),
		events:  make(chan *Event, cfg.EventBuffer),
		done:    make(chan struct{}),
	}
}

// Connect dials the daemon and performs the handshake. A client connects
// once; dial a new client to reconnect.
func (c *IPCClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}

	dialer := net.Dialer{Timeout: c.config.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.config.SocketPath)
	if err != nil {
		c.mu.Unlock()
		if errors.Is(err, os.ErrNotExist) || isConnRefused(err) {
			return fmt.Errorf("%w: %s", ErrDaemonNotRunning, c.config.SocketPath)
		}
		return fmt.Errorf("connect: %w", err)
	}
	c.conn = conn
	c.connected.Store(true)
	c.mu.Unlock()

	go c.readLoop(conn)

	if err := c.handshake(ctx); err != nil {
		c.Close()
		return fmt.Errorf("handshake: %w", err)
	}
	return nil
}

// Close closes the connection to the daemon and waits for the reader.
func (c *IPCClient) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()
	<-c.done
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Done is closed when the connection ends.
func (c *IPCClient) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, or nil after Close.
func (c *IPCClient) Err() error {
	select {
	case <-c.done:
		return c.readErr
	default:
		return nil
	}
}

// IsConnected returns whether the client is connected
func (c *IPCClient) IsConnected() bool {
	return c.connected.Load()
}

// SessionID returns the session ID assigned by the server
func (c *IPCClient) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// ServerVersion returns the daemon version reported in the handshake.
func (c *IPCClient) ServerVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Events returns the event channel for streaming events
func (c *IPCClient) Events() <-chan *Event {
	return c.events
}

// Dropped returns the number of events discarded because Events was full.
func (c *IPCClient) Dropped() uint64 {
	return c.dropped.Load()
}

func (c *IPCClient) handshake(ctx context.Context) error {
	resp, err := c.request(ctx, MsgHandshake, &HandshakeRequest{
		ClientVersion:   c.config.ClientVersion,
		ClientName:      c.config.ClientName,
		ProtocolVersion: ProtocolVersion,
	})
	if err != nil {
		return err
	}
	if err := responseError(resp, MsgHandshakeAck); err != nil {
		return err
	}

	var ack HandshakeResponse
	if err := Decode(resp.Payload, &ack); err != nil {
		return err
	}

	c.mu.Lock()
	c.sessionID = ack.SessionID
	c.version = ack.ServerVersion
	c.mu.Unlock()
	return nil
}

// request sends a request and waits for the response with the same id.
func (c *IPCClient) request(ctx context.Context, msgType MessageType, payload any) (*Message, error) {
	if !c.connected.Load() {
		return nil, ErrNotConnected
	}

	data, err := Encode(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	reqID := c.nextReqID.Add(1)
	respChan := make(chan *Message, 1)

	c.pendingMu.Lock()
	c.pending[reqID] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}()

	if err := c.write(NewMessage(msgType, reqID, data)); err != nil {
		return nil, fmt.Errorf("write message: %w", err)
	}

	timer := time.NewTimer(c.config.RequestTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-respChan:
		if !ok {
			return nil, ErrConnectionLost
		}
		return resp, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *IPCClient) write(msg *Message) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil || !c.connected.Load() {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.config.RequestTimeout))
	return msg.Write(conn)
}

// readLoop reads messages until the connection fails or is closed.
func (c *IPCClient) readLoop(conn net.Conn) {
	var err error
	defer func() {
		c.connected.Store(false)
		if errors.Is(err, net.ErrClosed) {
			err = nil
		} else if err != nil {
			err = fmt.Errorf("%w: %v", ErrConnectionLost, err)
		}
		c.readErr = err

		c.pendingMu.Lock()
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.pendingMu.Unlock()

		close(c.events)
		close(c.done)
	}()

	for {
		var msg *Message
		msg, err = ReadMessage(conn)
		if err != nil {
			return
		}
		c.handleMessage(msg)
	}
}

// handleMessage processes an incoming message
func (c *IPCClient) handleMessage(msg *Message) {
	switch msg.Header.Type {
	case MsgPing:
		c.write(NewMessage(MsgPong, msg.Header.RequestID, nil))

	case MsgEvent:
		var event Event
		if err := Decode(msg.Payload, &event); err != nil {
			return
		}
		select {
		case c.events <- &event:
		default:
			c.dropped.Add(1)
		}

	default:
		c.pendingMu.Lock()
		if ch, ok := c.pending[msg.Header.RequestID]; ok {
			select {
			case ch <- msg:
			default:
			}
		}
		c.pendingMu.Unlock()
	}
}

// Status requests the daemon status
func (c *IPCClient) Status(ctx context.Context) (*StatusResponse, error) {
	resp, err := c.request(ctx, MsgStatusRequest, &StatusRequest{})
	if err != nil {
		return nil, err
	}
	if err := responseError(resp, MsgStatusResponse); err != nil {
		return nil, err
	}

	var status StatusResponse
	if err := Decode(resp.Payload, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Ping checks if the daemon is responsive
func (c *IPCClient) Ping(ctx context.Context) error {
	resp, err := c.request(ctx, MsgPing, nil)
	if err != nil {
		return err
	}
	return responseError(resp, MsgPong)
}

// Subscribe subscribes to events; no types means all of them.
func (c *IPCClient) Subscribe(ctx context.Context, events ...EventType) error {
	resp, err := c.request(ctx, MsgSubscribe, &SubscribeRequest{Events: events})
	if err != nil {
		return err
	}
	if err := responseError(resp, MsgSubscribeResp); err != nil {
		return err
	}

	var result SubscribeResponse
	if err := Decode(resp.Payload, &result); err != nil {
		return err
	}
	if !result.Success {
		return errors.New("subscription failed")
	}
	return nil
}

// Unsubscribe stops event delivery.
func (c *IPCClient) Unsubscribe(ctx context.Context) error {
	resp, err := c.request(ctx, MsgUnsubscribe, nil)
	if err != nil {
		return err
	}
	return responseError(resp, MsgUnsubscribeResp)
}
