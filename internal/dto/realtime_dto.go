package dto

import "encoding/json"

// Envelope is the frame exchanged over the websocket in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ErrorEvent is sent to the originating connection only.
type ErrorEvent struct {
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}

// TypingEvent is an ephemeral indicator; never persisted.
type TypingEvent struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

// CallSignal relays WebRTC signaling between two users. Payload is opaque.
type CallSignal struct {
	TargetUserID string          `json:"targetUserId" validate:"required,max=64"`
	FromUserID   string          `json:"fromUserId,omitempty"`
	ChatID       string          `json:"chatId,omitempty" validate:"omitempty,max=36"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}
