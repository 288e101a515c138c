// Package ipc carries overlay updates from the imehud daemon to local
// clients: overlay renderers, imehudctl, and test harnesses.
//
// The protocol supports:
//   - Request/response for status and control
//   - Event streaming of "update-status" payloads
//   - Protocol versioning for compatibility
//
// Every message is a 16-byte big-endian header followed by a JSON payload.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"imehud/internal/sink"
)

// Protocol version for compatibility checking
const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x494D4548 // "IMEH"
)

// MaxPayloadSize bounds a single message payload.
const MaxPayloadSize = 1 << 20

// MessageType identifies the type of IPC message
type MessageType uint16

const (
	// Control messages (0x00xx)
	MsgPing         MessageType = 0x0001
	MsgPong         MessageType = 0x0002
	MsgHandshake    MessageType = 0x0003
	MsgHandshakeAck MessageType = 0x0004
	MsgError        MessageType = 0x0005

	// Status messages (0x01xx)
	MsgStatusRequest  MessageType = 0x0100
	MsgStatusResponse MessageType = 0x0101

	// Event streaming (0x05xx)
	MsgSubscribe       MessageType = 0x0500
	MsgSubscribeResp   MessageType = 0x0501
	MsgUnsubscribe     MessageType = 0x0502
	MsgUnsubscribeResp MessageType = 0x0503
	MsgEvent           MessageType = 0x0504
)

func (t MessageType) String() string {
	switch t {
	case MsgPing:
		return "ping"
	case MsgPong:
		return "pong"
	case MsgHandshake:
		return "handshake"
	case MsgHandshakeAck:
		return "handshake-ack"
	case MsgError:
		return "error"
	case MsgStatusRequest:
		return "status-request"
	case MsgStatusResponse:
		return "status-response"
	case MsgSubscribe:
		return "subscribe"
	case MsgSubscribeResp:
		return "subscribe-response"
	case MsgUnsubscribe:
		return "unsubscribe"
	case MsgUnsubscribeResp:
		return "unsubscribe-response"
	case MsgEvent:
		return "event"
	default:
		return fmt.Sprintf("type(0x%04x)", uint16(t))
	}
}

// EventType names a streamed event.
type EventType string

const (
	// EventStatusUpdate carries one overlay update per tick.
	EventStatusUpdate EventType = "update-status"
	// EventDaemonShutdown is sent to subscribers before the server closes.
	EventDaemonShutdown EventType = "daemon-shutdown"
)

// AllEvents is what an empty subscription selects.
var AllEvents = []EventType{EventStatusUpdate, EventDaemonShutdown}

// Header is the fixed-size message header (16 bytes)
type Header struct {
	Magic     uint32      // Protocol magic number
	Version   uint8       // Protocol version
	Flags     uint8       // Message flags
	Type      MessageType // Message type
	RequestID uint32      // Request ID for correlation
	Length    uint32      // Payload length (not including header)
}

// HeaderSize is the size of the header in bytes
const HeaderSize = 16

// FlagJSON marks a JSON payload. It is the only encoding.
const FlagJSON uint8 = 0x04

// Message wraps a header and payload
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType MessageType, requestID uint32, payload []byte) *Message {
	return &Message{
		Header: Header{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Flags:     FlagJSON,
			Type:      msgType,
			RequestID: requestID,
			Length:    uint32(len(payload)),
		},
		Payload: payload,
	}
}

// Write writes the header to a writer
func (h *Header) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize)
	h.put(buf)
	_, err := w.Write(buf)
	return err
}

func (h *Header) put(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Type))
	binary.BigEndian.PutUint32(buf[8:12], h.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
}

// ReadHeader reads a header from a reader
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	h := &Header{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Flags:     buf[5],
		Type:      MessageType(binary.BigEndian.Uint16(buf[6:8])),
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint32(buf[12:16]),
	}

	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("invalid magic number: %x", h.Magic)
	}

	if h.Version == 0 || h.Version > ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", h.Version)
	}

	return h, nil
}

// Write writes the message to a writer in a single call so concurrent
// writers on a shared connection cannot interleave frames.
func (m *Message) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize+len(m.Payload))
	m.Header.Length = uint32(len(m.Payload))
	m.Header.put(buf)
	copy(buf[HeaderSize:], m.Payload)
	_, err := w.Write(buf)
	return err
}

// ReadMessage reads a complete message from a reader
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	m := &Message{Header: *h}
	if h.Length > 0 {
		if h.Length > MaxPayloadSize {
			return nil, fmt.Errorf("payload too large: %d bytes", h.Length)
		}
		m.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Request/Response payloads

// HandshakeRequest is sent by the client to initiate connection
type HandshakeRequest struct {
	ClientVersion   string `json:"client_version"`
	ClientName      string `json:"client_name"`
	ProtocolVersion uint8  `json:"protocol_version"`
}

// HandshakeResponse is sent by the server to acknowledge connection
type HandshakeResponse struct {
	ServerVersion   string `json:"server_version"`
	ProtocolVersion uint8  `json:"protocol_version"`
	SessionID       string `json:"session_id"`
}

// ErrorResponse is sent when an operation fails
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("ipc error %d: %s", e.Code, e.Message)
}

// Error codes
const (
	ErrUnknown          = 1
	ErrInvalidRequest   = 2
	ErrRateLimited      = 3
	ErrPermissionDenied = 4
	ErrInternalError    = 5
	ErrNotInitialized   = 7
)

// StatusRequest requests daemon status
type StatusRequest struct{}

// StatusResponse contains daemon status
type StatusResponse struct {
	Version            string        `json:"version"`
	StartedAt          time.Time     `json:"started_at"`
	Uptime             time.Duration `json:"uptime"`
	Platform           string        `json:"platform,omitempty"`
	Available          bool          `json:"available"`
	AvailabilityDetail string        `json:"availability_detail,omitempty"`
	Interval           time.Duration `json:"interval,omitempty"`
	Updates            uint64        `json:"updates"`
	Subscribers        int           `json:"subscribers"`
	Last               *sink.Update  `json:"last,omitempty"`
}

// SubscribeRequest requests event subscription
type SubscribeRequest struct {
	Events []EventType `json:"events"` // Empty means all events
}

// SubscribeResponse acknowledges subscription
type SubscribeResponse struct {
	Success        bool        `json:"success"`
	SubscriptionID string      `json:"subscription_id"`
	Events         []EventType `json:"events"`
}

// Event is a streamed event
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Update decodes the payload of an update-status event.
func (e *Event) Update() (sink.Update, error) {
	var u sink.Update
	if e.Type != EventStatusUpdate {
		return u, fmt.Errorf("event %q carries no update", e.Type)
	}
	if err := json.Unmarshal(e.Data, &u); err != nil {
		return u, fmt.Errorf("decode update: %w", err)
	}
	return u, nil
}

// NewUpdateEvent wraps an update as an update-status event.
func NewUpdateEvent(u sink.Update) (*Event, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return nil, err
	}
	ts := u.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return &Event{Type: EventStatusUpdate, Timestamp: ts, Data: data}, nil
}

// Encode encodes a payload to JSON bytes
func Encode(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Decode decodes JSON bytes to a payload
func Decode(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// NewErrorMessage creates an error message
func NewErrorMessage(requestID uint32, code int, message string) *Message {
	payload, _ := Encode(&ErrorResponse{
		Code:    code,
		Message: message,
	})
	return NewMessage(MsgError, requestID, payload)
}

// NewResponse creates a response message
func NewResponse(msgType MessageType, requestID uint32, v any) (*Message, error) {
	payload, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return NewMessage(msgType, requestID, payload), nil
}

// responseError converts an error message into a Go error.
func responseError(msg *Message, want MessageType) error {
	if msg.Header.Type == want {
		return nil
	}
	if msg.Header.Type == MsgError {
		var e ErrorResponse
		if err := Decode(msg.Payload, &e); err != nil {
			return fmt.Errorf("undecodable error response: %w", err)
		}
		return &e
	}
	return fmt.Errorf("unexpected response type: %s", msg.Header.Type)
}
