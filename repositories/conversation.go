package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	cherrors "cipherchat/errors"
	"cipherchat/domain"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
)

type IConversationRepository interface {
	CreateConversation(conversation domain.Conversation) (domain.Conversation, error)
	GetConversation(id domain.ConversationID) (domain.Conversation, error)
}

type ConversationRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewConversationRepository(db *badger.DB, log *slog.Logger) ConversationRepository {
	return ConversationRepository{db: db, log: log}
}

// Participant ids are persisted as strings for row compatibility with the
// REST side of the system, which treats them as opaque identifiers.
type conversationRow struct {
	ID             int64    `json:"id"`
	ParticipantIDs []string `json:"participantIds"`
	LastMessageAt  int64    `json:"lastMessageAt"`
	CreatedAt      int64    `json:"createdAt"`
}

func conversationKey(id domain.ConversationID) []byte {
	return []byte(fmt.Sprintf("conv:%019d", id))
}

func (r ConversationRepository) CreateConversation(conversation domain.Conversation) (domain.Conversation, error) {
	if conversation.CreatedAt.IsZero() {
		conversation.CreatedAt = time.Now().UTC()
	}
	err := r.db.Update(func(txn *badger.Txn) error {
		return writeConversationRow(txn, fromConversation(conversation))
	})
	if err != nil {
		return domain.Conversation{}, err
	}
	return conversation, nil
}

func (r ConversationRepository) GetConversation(id domain.ConversationID) (domain.Conversation, error) {
	var row conversationRow
	err := r.db.View(func(txn *badger.Txn) error {
		found, err := readConversationRow(txn, id)
		if err != nil {
			return err
		}
		row = found
		return nil
	})
	if err != nil {
		return domain.Conversation{}, err
	}
	return toConversation(row)
}

func readConversationRow(txn *badger.Txn, id domain.ConversationID) (conversationRow, error) {
	var row conversationRow
	item, err := txn.Get(conversationKey(id))
	if err == badger.ErrKeyNotFound {
		return row, cherrors.ErrConversationNotFound
	}
	if err != nil {
		return row, err
	}
	err = item.Value(func(value []byte) error {
		return json.Unmarshal(value, &row)
	})
	return row, err
}

func writeConversationRow(txn *badger.Txn, row conversationRow) error {
	bytes, err := json.Marshal(row)
	if err != nil {
		return err
	}
	return txn.Set(conversationKey(domain.ConversationID(row.ID)), bytes)
}

func fromConversation(conversation domain.Conversation) conversationRow {
	var lastMessageAt int64
	if !conversation.LastMessageAt.IsZero() {
		lastMessageAt = conversation.LastMessageAt.UnixNano()
	}
	return conversationRow{
		ID: int64(conversation.ID),
		ParticipantIDs: lo.Map(conversation.ParticipantIDs, func(id domain.UserID, _ int) string {
			return strconv.FormatInt(int64(id), 10)
		}),
		LastMessageAt: lastMessageAt,
		CreatedAt:     conversation.CreatedAt.UnixNano(),
	}
}

func toConversation(row conversationRow) (domain.Conversation, error) {
	participants := make([]domain.UserID, 0, len(row.ParticipantIDs))
	for _, raw := range row.ParticipantIDs {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return domain.Conversation{}, fmt.Errorf("corrupt participant id %q in conversation %d: %w", raw, row.ID, err)
		}
		participants = append(participants, domain.UserID(id))
	}
	conversation := domain.Conversation{
		ID:             domain.ConversationID(row.ID),
		ParticipantIDs: participants,
		CreatedAt:      time.Unix(0, row.CreatedAt).UTC(),
	}
	if row.LastMessageAt != 0 {
		conversation.LastMessageAt = time.Unix(0, row.LastMessageAt).UTC()
	}
	return conversation, nil
}
