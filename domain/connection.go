package domain

import (
	"time"

	"github.com/google/uuid"
)

// Connection is the durable presence row for one live socket, written on
// bind and removed on unbind so other processes can answer "is this user
// online" without reaching into our in-memory state.
type Connection struct {
	ID          uuid.UUID
	UserID      UserID
	SocketID    string
	ConnectedAt time.Time
}
