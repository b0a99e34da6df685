package repositories

import (
	stderrors "errors"
	"log/slog"
	"testing"
	"time"

	cherrors "cipherchat/errors"
	"cipherchat/domain"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func Test_Create_Message_Bumps_Conversation(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	conversations := NewConversationRepository(db, slog.Default())
	messages := NewMessageRepository(db, slog.Default(), nil)

	// Given a conversation between two users
	_, err := conversations.CreateConversation(domain.Conversation{
		ID:             7,
		ParticipantIDs: []domain.UserID{1, 2},
	})
	req.NoError(err)

	// When a message is stored
	message, err := messages.CreateMessage(7, 1, "Y2lwaGVydGV4dA==", "aXY=")
	req.NoError(err)

	// Then it is readable by id and the conversation timestamp advanced
	fetched, err := messages.GetMessage(message.ID)
	req.NoError(err)
	req.Equal(message.ID, fetched.ID)
	req.Equal("Y2lwaGVydGV4dA==", fetched.EncryptedContent)
	req.Equal("aXY=", fetched.IV)
	req.True(fetched.SentAt.Equal(message.SentAt))

	conversation, err := conversations.GetConversation(7)
	req.NoError(err)
	req.True(conversation.LastMessageAt.Equal(message.SentAt))
	req.Equal([]domain.UserID{1, 2}, conversation.ParticipantIDs)
}

func Test_Create_Message_Without_Conversation_Still_Stored(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	messages := NewMessageRepository(db, slog.Default(), nil)

	// The dangling reference is the caller's problem, not the store's
	message, err := messages.CreateMessage(404, 1, "Y2lwaGVydGV4dA==", "aXY=")
	req.NoError(err)

	fetched, err := messages.GetMessage(message.ID)
	req.NoError(err)
	req.Equal(message.ID, fetched.ID)
	req.Equal(domain.ConversationID(404), fetched.ConversationID)
}

func Test_Get_Missing_Message(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	messages := NewMessageRepository(db, slog.Default(), nil)

	_, err := messages.GetMessage(uuid.New())

	req.Error(err)
	req.True(stderrors.Is(err, cherrors.ErrMessageNotFound))
}

func Test_List_Messages_Newest_First_With_Cursor(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	messages := NewMessageRepository(db, slog.Default(), lo.ToPtr(2))

	var stored []domain.Message
	for range 3 {
		message, err := messages.CreateMessage(7, 1, "Y2lwaGVydGV4dA==", "aXY=")
		req.NoError(err)
		stored = append(stored, message)
		// Distinct nanosecond timestamps keep the ordering assertion honest
		time.Sleep(time.Millisecond)
	}

	// First page: the two newest, in reverse chronological order
	page, cursor, err := messages.ListMessages(7, nil)
	req.NoError(err)
	req.Len(page, 2)
	req.Equal(stored[2].ID, page[0].ID)
	req.Equal(stored[1].ID, page[1].ID)
	req.NotNil(cursor)

	// Second page via cursor: the oldest remains
	page, cursor, err = messages.ListMessages(7, cursor)
	req.NoError(err)
	req.Len(page, 1)
	req.Equal(stored[0].ID, page[0].ID)
	req.NotNil(cursor)

	// Past the end the chain terminates: empty page, no cursor
	page, cursor, err = messages.ListMessages(7, cursor)
	req.NoError(err)
	req.Empty(page)
	req.Nil(cursor)
}

func Test_List_Messages_Empty_Conversation_Has_No_Cursor(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	messages := NewMessageRepository(db, slog.Default(), nil)

	page, cursor, err := messages.ListMessages(7, nil)

	req.NoError(err)
	req.Empty(page)
	req.Nil(cursor)
}

func Test_List_Messages_Scopes_To_Conversation(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	messages := NewMessageRepository(db, slog.Default(), nil)

	_, err := messages.CreateMessage(7, 1, "Y2lwaGVydGV4dA==", "aXY=")
	req.NoError(err)
	_, err = messages.CreateMessage(8, 2, "b3RoZXI=", "aXY=")
	req.NoError(err)

	page, _, err := messages.ListMessages(7, nil)
	req.NoError(err)
	req.Len(page, 1)
	req.Equal(domain.ConversationID(7), page[0].ConversationID)
}
