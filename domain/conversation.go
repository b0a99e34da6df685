package domain

import (
	"time"

	"github.com/samber/lo"
)

type ConversationID int64

// Conversation membership is read-only here: the realtime core computes
// recipient sets from it but never mutates participants.
type Conversation struct {
	ID             ConversationID
	ParticipantIDs []UserID
	LastMessageAt  time.Time
	CreatedAt      time.Time
}

// Recipients returns every participant except the sender.
func (c Conversation) Recipients(sender UserID) []UserID {
	return lo.Filter(c.ParticipantIDs, func(id UserID, _ int) bool {
		return id != sender
	})
}

func (c Conversation) HasParticipant(id UserID) bool {
	return lo.Contains(c.ParticipantIDs, id)
}
