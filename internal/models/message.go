package models

import (
	"encoding/json"
	"time"
)

// MessageType represents the type of WebSocket message
type MessageType string

const (
	MessageTypeSnapshot MessageType = "snapshot"
	MessageTypeCommand  MessageType = "command"
	MessageTypeAck      MessageType = "ack"
	MessageTypeError    MessageType = "error"
)

// Message is the envelope for all WebSocket communications
type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      msgType,
		Payload:   payloadJSON,
		Timestamp: time.Now(),
	}, nil
}

// Command actions accepted from dashboard clients
const (
	ActionRefresh     = "refresh"
	ActionCheck       = "check"
	ActionCheckAll    = "check_all"
	ActionWake        = "wake"
	ActionToggleTheme = "toggle_theme"
)

// CommandMessage is the payload for MessageTypeCommand
type CommandMessage struct {
	Action   string `json:"action"`
	DeviceID string `json:"device_id,omitempty"`
}

// AckMessage is the payload for MessageTypeAck
type AckMessage struct {
	Action string `json:"action"`
	Status string `json:"status"`
}

// ErrorMessage is the payload for MessageTypeError
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// UnmarshalPayload unmarshals the message payload into the provided struct
func (m *Message) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}
