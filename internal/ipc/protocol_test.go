package ipc

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imehud/internal/position"
	"imehud/internal/probe"
	"imehud/internal/sink"
)

func TestMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	msg := NewMessage(MsgStatusRequest, 42, []byte(`{}`))
	require.NoError(t, msg.Write(&buf))
	assert.Equal(t, HeaderSize+2, buf.Len())

	raw := buf.Bytes()
	assert.Equal(t, "IMEH", string(raw[0:4]))
	assert.Equal(t, uint16(MsgStatusRequest), binary.BigEndian.Uint16(raw[6:8]))

	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgStatusRequest, got.Header.Type)
	assert.Equal(t, uint32(42), got.Header.RequestID)
	assert.Equal(t, FlagJSON, got.Header.Flags)
	assert.Equal(t, []byte(`{}`), got.Payload)
}

func TestReadHeaderRejects(t *testing.T) {
	good := func() []byte {
		var buf bytes.Buffer
		require.NoError(t, NewMessage(MsgPing, 1, nil).Write(&buf))
		return buf.Bytes()
	}

	badMagic := good()
	copy(badMagic, "WIPC")
	_, err := ReadHeader(bytes.NewReader(badMagic))
	assert.ErrorContains(t, err, "invalid magic")

	future := good()
	future[4] = ProtocolVersion + 1
	_, err = ReadHeader(bytes.NewReader(future))
	assert.ErrorContains(t, err, "unsupported protocol version")

	huge := good()
	binary.BigEndian.PutUint32(huge[12:16], MaxPayloadSize+1)
	_, err = ReadMessage(bytes.NewReader(huge))
	assert.ErrorContains(t, err, "payload too large")
}

func TestUpdateEvent(t *testing.T) {
	u := sink.Update{
		X: 465, Y: 465, Lang: probe.LangKorean,
		Source: position.SourceCaret, Seq: 3,
		Time: time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC),
	}

	event, err := NewUpdateEvent(u)
	require.NoError(t, err)
	assert.Equal(t, EventStatusUpdate, event.Type)
	assert.Equal(t, u.Time, event.Timestamp)

	back, err := event.Update()
	require.NoError(t, err)
	assert.Equal(t, u, back)

	shutdown := &Event{Type: EventDaemonShutdown}
	_, err = shutdown.Update()
	assert.Error(t, err)
}

func TestResponseError(t *testing.T) {
	assert.NoError(t, responseError(NewMessage(MsgPong, 1, nil), MsgPong))

	err := responseError(NewErrorMessage(1, ErrNotInitialized, "handshake required"), MsgPong)
	var e *ErrorResponse
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ErrNotInitialized, e.Code)

	assert.ErrorContains(t, responseError(NewMessage(MsgEvent, 1, nil), MsgPong), "unexpected response type: event")
}

func TestMessageTypeString(t *testing.T) {
	assert.Equal(t, "subscribe", MsgSubscribe.String())
	assert.Equal(t, "type(0x0999)", MessageType(0x0999).String())
}
