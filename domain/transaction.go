package domain

import (
	"time"

	"github.com/google/uuid"
)

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
)

// Transaction is the on-chain transfer record attached to a message.
// The realtime core only ever moves Status and TxHash; amounts and
// addresses are written once at creation and never touched again.
type Transaction struct {
	ID          uuid.UUID
	MessageID   uuid.UUID
	FromAddress string
	ToAddress   string
	Amount      string
	Currency    string
	Chain       string
	Status      TransactionStatus
	TxHash      *string
	CreatedAt   time.Time
}
