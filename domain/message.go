package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message carries ciphertext and its initialization vector as unexamined
// strings. Encryption and decryption happen entirely on the clients.
type Message struct {
	ID               uuid.UUID
	ConversationID   ConversationID
	SenderID         UserID
	EncryptedContent string
	IV               string
	SentAt           time.Time
}
