// Package protocol defines the wire format spoken between walink and the backend bridge.
// The bridge owns the messaging-network session; walink only exchanges JSON frames with it.
package protocol

import "encoding/json"

// Protocol version. Sent in the connect handshake; the bridge rejects unknown versions.
const ProtocolVersion = 1

// Frame types
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// RequestFrame is sent by walink to invoke a bridge method.
type RequestFrame struct {
	Type   string          `json:"type"`   // always "req"
	ID     string          `json:"id"`     // unique request ID (client-generated)
	Method string          `json:"method"` // bridge method name
	Params json.RawMessage `json:"params,omitempty"`
}

// ResponseFrame is sent by the bridge in response to a request.
type ResponseFrame struct {
	Type    string          `json:"type"`              // always "res"
	ID      string          `json:"id"`                // matches request ID
	OK      bool            `json:"ok"`                // true if success
	Payload json.RawMessage `json:"payload,omitempty"` // response data (when ok=true)
	Error   *ErrorShape     `json:"error,omitempty"`   // error info (when ok=false)
}

// ErrorShape describes a protocol error.
type ErrorShape struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	Retryable    bool   `json:"retryable,omitempty"`
	RetryAfterMs int    `json:"retryAfterMs,omitempty"`
}

// EventFrame is pushed from the bridge without a preceding request
// (incoming messages, call offers, connection updates).
type EventFrame struct {
	Type    string          `json:"type"`              // always "event"
	Event   string          `json:"event"`             // event name
	Payload json.RawMessage `json:"payload,omitempty"` // event data
	Seq     int64           `json:"seq,omitempty"`     // ordering sequence number
}

// NewRequest creates a request frame, marshalling params when non-nil.
func NewRequest(id, method string, params interface{}) (*RequestFrame, error) {
	frame := &RequestFrame{
		Type:   FrameTypeRequest,
		ID:     id,
		Method: method,
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		frame.Params = raw
	}
	return frame, nil
}

// NewOKResponse creates a success response frame.
func NewOKResponse(id string, payload interface{}) *ResponseFrame {
	resp := &ResponseFrame{
		Type: FrameTypeResponse,
		ID:   id,
		OK:   true,
	}
	if payload != nil {
		resp.Payload, _ = json.Marshal(payload)
	}
	return resp
}

// NewErrorResponse creates an error response frame.
func NewErrorResponse(id string, code, message string) *ResponseFrame {
	return &ResponseFrame{
		Type: FrameTypeResponse,
		ID:   id,
		OK:   false,
		Error: &ErrorShape{
			Code:    code,
			Message: message,
		},
	}
}

// NewEvent creates an event frame.
func NewEvent(event string, payload interface{}) *EventFrame {
	frame := &EventFrame{
		Type:  FrameTypeEvent,
		Event: event,
	}
	if payload != nil {
		frame.Payload, _ = json.Marshal(payload)
	}
	return frame
}

// ParseFrameType extracts the frame type from raw JSON bytes.
func ParseFrameType(data []byte) (string, error) {
	var raw struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", err
	}
	return raw.Type, nil
}
