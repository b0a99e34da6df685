// Package envelope defines the tagged wire unit exchanged over a persistent
// connection and the codec that moves it between bytes and typed payloads.
// The codec is strictly structural: field presence and value rules are the
// router's business, because error wording differs per event type.
package envelope

import (
	"encoding/json"
	"time"
)

type Type string

// Inbound event types.
const (
	TypeConnect           Type = "connect"
	TypeNewMessage        Type = "new_message"
	TypeUserTyping        Type = "user_typing"
	TypeTransactionUpdate Type = "transaction_update"
)

// Outbound event types. TypeNewMessage, TypeUserTyping and
// TypeTransactionUpdate travel in both directions with different payloads.
const (
	TypeConnected        Type = "connected"
	TypeMessageDelivered Type = "message_delivered"
	TypeError            Type = "error"
)

// Envelope never outlives a single dispatch and is never persisted.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type ConnectPayload struct {
	UserID int64 `json:"userId" validate:"required,gt=0"`
}

type NewMessagePayload struct {
	ConversationID   int64  `json:"conversationId" validate:"required,gt=0"`
	SenderID         int64  `json:"senderId" validate:"required,gt=0"`
	EncryptedContent string `json:"encryptedContent" validate:"required"`
	IV               string `json:"iv" validate:"required"`
}

// UserTypingPayload has the same shape inbound and outbound, so the router
// rebroadcasts it as is.
type UserTypingPayload struct {
	ConversationID int64 `json:"conversationId" validate:"required,gt=0"`
	UserID         int64 `json:"userId" validate:"required,gt=0"`
}

type TransactionUpdatePayload struct {
	MessageID string  `json:"messageId" validate:"required,uuid"`
	Status    string  `json:"status" validate:"required,oneof=pending completed failed"`
	TxHash    *string `json:"txHash,omitempty"`
}

type ConnectedPayload struct {
	SocketID string `json:"socketId"`
}

type NewMessageEvent struct {
	MessageID        string    `json:"messageId"`
	ConversationID   int64     `json:"conversationId"`
	SenderID         int64     `json:"senderId"`
	EncryptedContent string    `json:"encryptedContent"`
	IV               string    `json:"iv"`
	SentAt           time.Time `json:"sentAt"`
}

type MessageDeliveredPayload struct {
	MessageID      string    `json:"messageId"`
	ConversationID int64     `json:"conversationId"`
	DeliveredAt    time.Time `json:"deliveredAt"`
}

type TransactionUpdateEvent struct {
	MessageID string    `json:"messageId"`
	Status    string    `json:"status"`
	TxHash    *string   `json:"txHash,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
