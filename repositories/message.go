package repositories

import (
	stderrors "errors"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	cherrors "cipherchat/errors"
	"cipherchat/domain"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type IMessageRepository interface {
	CreateMessage(conversationID domain.ConversationID, senderID domain.UserID,
		encryptedContent, iv string) (domain.Message, error)
	GetMessage(id uuid.UUID) (domain.Message, error)
	ListMessages(conversationID domain.ConversationID, cursor *string) ([]domain.Message, *string, error)
}

type MessageRepository struct {
	db            *badger.DB
	log           *slog.Logger
	limitMessages *int
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, limitMessages *int) MessageRepository {
	return MessageRepository{db: db, log: log, limitMessages: limitMessages}
}

type messageRow struct {
	ID               string `json:"id"`
	ConversationID   int64  `json:"conversationId"`
	SenderID         int64  `json:"senderId"`
	EncryptedContent string `json:"encryptedContent"`
	IV               string `json:"iv"`
	SentAt           int64  `json:"sentAt"`
}

// The chronological key is formatted as "msg:{conversation_id}:{timestamp_padded}:{uuid}" to:
//  1. Ensure chronological sorting using 19-digit zero padding (lexicographical order).
//  2. Prevent data loss by using UUID as a collision disconnector if two messages
//     arrive at the same nanosecond.
//
// A secondary "msgid:{uuid}" entry points back at the chronological key so
// lookups by id stay a two-hop read instead of a scan.
func messageKey(conversationID domain.ConversationID, sentAt time.Time, id uuid.UUID) []byte {
	return []byte(fmt.Sprintf("msg:%d:%019d:%s", conversationID, sentAt.UnixNano(), id))
}

func messageIDKey(id uuid.UUID) []byte {
	return []byte("msgid:" + id.String())
}

// CreateMessage stores the ciphertext row and advances the conversation's
// last-message timestamp in the same transaction. A missing conversation row
// does not block the write: the message is stored anyway and the caller
// discovers the dangling reference on its own lookup.
func (m MessageRepository) CreateMessage(conversationID domain.ConversationID, senderID domain.UserID,
	encryptedContent, iv string) (domain.Message, error) {
	message := domain.Message{
		ID:               uuid.New(),
		ConversationID:   conversationID,
		SenderID:         senderID,
		EncryptedContent: encryptedContent,
		IV:               iv,
		SentAt:           time.Now().UTC(),
	}
	err := m.db.Update(func(txn *badger.Txn) error {
		row, err := readConversationRow(txn, conversationID)
		switch {
		case err == nil:
			row.LastMessageAt = message.SentAt.UnixNano()
			if err := writeConversationRow(txn, row); err != nil {
				return err
			}
		case stderrors.Is(err, cherrors.ErrConversationNotFound):
			// Keep writing; see the doc comment above.
		default:
			return err
		}

		key := messageKey(conversationID, message.SentAt, message.ID)
		bytes, err := json.Marshal(fromMessage(message))
		if err != nil {
			return err
		}
		if err := txn.Set(key, bytes); err != nil {
			return err
		}
		return txn.Set(messageIDKey(message.ID), key)
	})
	if err != nil {
		return domain.Message{}, err
	}
	return message, nil
}

func (m MessageRepository) GetMessage(id uuid.UUID) (domain.Message, error) {
	var row messageRow
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(messageIDKey(id))
		if err == badger.ErrKeyNotFound {
			return cherrors.ErrMessageNotFound
		}
		if err != nil {
			return err
		}
		var key []byte
		if err = item.Value(func(value []byte) error {
			key = append([]byte(nil), value...)
			return nil
		}); err != nil {
			return err
		}
		item, err = txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return cherrors.ErrMessageNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			return json.Unmarshal(value, &row)
		})
	})
	if err != nil {
		return domain.Message{}, err
	}
	return toMessage(row)
}

// ListMessages retrieves a conversation's history newest first using a
// reverse prefix scan. Thanks to the padded timestamp in the key, messages
// are naturally sorted by time. It stops once the configured limitMessages
// is reached and hands back a cursor for the next page.
func (m MessageRepository) ListMessages(conversationID domain.ConversationID, cursor *string) ([]domain.Message, *string, error) {
	var rawRows [][]byte
	var lastKey string
	err := m.db.View(func(txn *badger.Txn) error {
		prefixStr := fmt.Sprintf("msg:%d:", conversationID)
		prefix := []byte(prefixStr)
		prefixLen := len(prefixStr)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		switch cursor {
		case nil:
			// Seek past the newest possible timestamp, then walk backwards.
			seekKey = append(prefix, []byte("9999999999999999999")...)
		default:
			seekKey = append(prefix, []byte(*cursor)...)
		}

		it.Seek(seekKey)

		if cursor != nil && it.ValidForPrefix(prefix) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if m.limitMessages != nil && len(rawRows) == *m.limitMessages {
				m.log.Debug(fmt.Sprintf("Maximum of %d messages reached", *m.limitMessages))
				break
			}
			item := it.Item()
			// Memorize the cursor part of the actual key
			lastKey = string(item.Key()[prefixLen:])
			err := item.Value(func(value []byte) error {
				rawRows = append(rawRows, append([]byte(nil), value...))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	var messages []domain.Message
	for _, raw := range rawRows {
		var row messageRow
		if err = json.Unmarshal(raw, &row); err != nil {
			return nil, nil, err
		}
		message, err := toMessage(row)
		if err != nil {
			return nil, nil, err
		}
		messages = append(messages, message)
	}
	// An empty page carries no cursor, so "while cursor != nil" loops
	// terminate once the history is exhausted.
	if lastKey == "" {
		return messages, nil, nil
	}
	return messages, &lastKey, nil
}

func fromMessage(message domain.Message) messageRow {
	return messageRow{
		ID:               message.ID.String(),
		ConversationID:   int64(message.ConversationID),
		SenderID:         int64(message.SenderID),
		EncryptedContent: message.EncryptedContent,
		IV:               message.IV,
		SentAt:           message.SentAt.UnixNano(),
	}
}

func toMessage(row messageRow) (domain.Message, error) {
	parsedID, err := uuid.Parse(row.ID)
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{
		ID:               parsedID,
		ConversationID:   domain.ConversationID(row.ConversationID),
		SenderID:         domain.UserID(row.SenderID),
		EncryptedContent: row.EncryptedContent,
		IV:               row.IV,
		SentAt:           time.Unix(0, row.SentAt).UTC(),
	}, nil
}
