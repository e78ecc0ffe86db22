// Package protocol defines the WebSocket message types streamed to DOA clients.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Server → client messages
	TypeDOA      MessageType = "doa"      // Smoothed direction of arrival
	TypePower    MessageType = "power"    // Per-beam power
	TypeActivity MessageType = "activity" // Activity state change
	TypeStats    MessageType = "stats"    // Service statistics
	TypeError    MessageType = "error"    // Request failure

	// Client → server requests
	TypeGetStats MessageType = "get_stats"

	// Bidirectional
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

// Encoding selects the wire format of a message
type Encoding int

const (
	// EncodingJSON sends JSON text frames
	EncodingJSON Encoding = iota
	// EncodingMsgpack sends msgpack binary frames
	EncodingMsgpack
)

// ParseEncoding parses a format name; empty means JSON
func ParseEncoding(name string) (Encoding, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return EncodingJSON, nil
	case "msgpack":
		return EncodingMsgpack, nil
	default:
		return 0, fmt.Errorf("unknown encoding %q", name)
	}
}

// String returns the format name
func (e Encoding) String() string {
	if e == EncodingMsgpack {
		return "msgpack"
	}
	return "json"
}

// Binary reports whether messages must be sent as binary frames
func (e Encoding) Binary() bool {
	return e == EncodingMsgpack
}

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp int64       `json:"ts,omitempty"`
	Data      any         `json:"data,omitempty"`

	// Undecoded payload of a parsed message
	raw      []byte
	encoding Encoding
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data any) *Message {
	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// Encode serializes the message
func (m *Message) Encode(enc Encoding) ([]byte, error) {
	if enc == EncodingMsgpack {
		var buf bytes.Buffer
		e := msgpack.NewEncoder(&buf)
		e.SetCustomStructTag("json")
		if err := e.Encode(m); err != nil {
			return nil, fmt.Errorf("failed to encode message: %w", err)
		}
		return buf.Bytes(), nil
	}

	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return m.Encode(EncodingJSON)
}

type jsonWire struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type msgpackWire struct {
	Type      MessageType        `msgpack:"type"`
	Timestamp int64              `msgpack:"ts,omitempty"`
	Data      msgpack.RawMessage `msgpack:"data,omitempty"`
}

// Decode parses a message; use ParseData to read its payload
func Decode(enc Encoding, data []byte) (*Message, error) {
	if enc == EncodingMsgpack {
		var w msgpackWire
		if err := msgpack.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("failed to parse message: %w", err)
		}
		return &Message{Type: w.Type, Timestamp: w.Timestamp, raw: w.Data, encoding: enc}, nil
	}

	var w jsonWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return &Message{Type: w.Type, Timestamp: w.Timestamp, raw: w.Data, encoding: enc}, nil
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	return Decode(EncodingJSON, data)
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v any) error {
	if m.raw == nil {
		if m.Data == nil {
			return nil
		}
		raw, err := json.Marshal(m.Data)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, v)
	}

	if m.encoding == EncodingMsgpack {
		d := msgpack.NewDecoder(bytes.NewReader(m.raw))
		d.SetCustomStructTag("json")
		return d.Decode(v)
	}
	return json.Unmarshal(m.raw, v)
}

// DOAData contains direction of arrival information
type DOAData struct {
	Angle         float64 `json:"angle"`          // Radians
	AngleDeg      float64 `json:"angle_deg"`      // Degrees
	SmoothedAngle float64 `json:"smoothed_angle"` // Radians
	Beam          int     `json:"beam"`
	Power         float64 `json:"power"`
	Active        bool    `json:"active"`
	ActiveLatched bool    `json:"active_latched"`
	Confidence    float64 `json:"confidence"`
}

// NewDOAMessage creates a DOA message
func NewDOAMessage(data DOAData) *Message {
	return NewMessage(TypeDOA, data)
}

// PowerData contains the mean power of every beam over the last estimate
type PowerData struct {
	Angles []float64 `json:"angles"`
	Powers []float64 `json:"powers"`
	Frames int       `json:"frames"`
}

// NewPowerMessage creates a power message
func NewPowerMessage(angles, powers []float64, frames int) *Message {
	return NewMessage(TypePower, PowerData{Angles: angles, Powers: powers, Frames: frames})
}

// ActivityData reports the start or end of acoustic activity
type ActivityData struct {
	Active bool    `json:"active"`
	Beam   int     `json:"beam"`
	Angle  float64 `json:"angle"`
	Power  float64 `json:"power"`
}

// NewActivityMessage creates an activity message
func NewActivityMessage(data ActivityData) *Message {
	return NewMessage(TypeActivity, data)
}

// ErrorData describes a failed client request
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorMessage creates an error message
func NewErrorMessage(code, message string) *Message {
	return NewMessage(TypeError, ErrorData{Code: code, Message: message})
}

// GetDOAData extracts DOA data from a message
func (m *Message) GetDOAData() (*DOAData, error) {
	var data DOAData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPowerData extracts power data from a message
func (m *Message) GetPowerData() (*PowerData, error) {
	var data PowerData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetErrorData extracts error data from a message
func (m *Message) GetErrorData() (*ErrorData, error) {
	var data ErrorData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
