package runtime

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"cipherchat/contract"
	"cipherchat/domain"
	cherrors "cipherchat/errors"
	"cipherchat/envelope"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	recordingSink
	id     string
	userID domain.UserID
	authed bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{id: uuid.NewString()}
}

func (s *fakeSession) SocketID() string { return s.id }

func (s *fakeSession) UserID() (domain.UserID, bool) {
	return s.userID, s.authed
}

func (s *fakeSession) Authenticate(userID domain.UserID) error {
	if s.authed {
		return cherrors.ErrAlreadyAuthenticated
	}
	s.authed = true
	s.userID = userID
	return nil
}

type fakeGateway struct {
	*fakePresence
	mu            sync.Mutex
	conversations map[domain.ConversationID]domain.Conversation
	messages      map[uuid.UUID]domain.Message
	transactions  map[uuid.UUID]domain.Transaction // keyed by message id
	created       []domain.Message
	updateCalls   int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		fakePresence:  &fakePresence{},
		conversations: make(map[domain.ConversationID]domain.Conversation),
		messages:      make(map[uuid.UUID]domain.Message),
		transactions:  make(map[uuid.UUID]domain.Transaction),
	}
}

func (g *fakeGateway) GetUser(_ context.Context, id domain.UserID) (domain.User, error) {
	return domain.User{ID: id}, nil
}

func (g *fakeGateway) GetConversation(_ context.Context, id domain.ConversationID) (domain.Conversation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	conversation, ok := g.conversations[id]
	if !ok {
		return domain.Conversation{}, cherrors.ErrConversationNotFound
	}
	return conversation, nil
}

func (g *fakeGateway) CreateMessage(_ context.Context, conversationID domain.ConversationID,
	senderID domain.UserID, encryptedContent, iv string) (domain.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	message := domain.Message{
		ID:               uuid.New(),
		ConversationID:   conversationID,
		SenderID:         senderID,
		EncryptedContent: encryptedContent,
		IV:               iv,
		SentAt:           time.Now().UTC(),
	}
	// Stored even when the conversation does not exist, matching the
	// gateway's documented behavior.
	g.messages[message.ID] = message
	g.created = append(g.created, message)
	return message, nil
}

func (g *fakeGateway) GetMessage(_ context.Context, id uuid.UUID) (domain.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	message, ok := g.messages[id]
	if !ok {
		return domain.Message{}, cherrors.ErrMessageNotFound
	}
	return message, nil
}

func (g *fakeGateway) GetMessageTransaction(_ context.Context, messageID uuid.UUID) (domain.Transaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	transaction, ok := g.transactions[messageID]
	if !ok {
		return domain.Transaction{}, cherrors.ErrTransactionNotFound
	}
	return transaction, nil
}

func (g *fakeGateway) UpdateTransactionStatus(_ context.Context, id uuid.UUID,
	status domain.TransactionStatus, txHash *string) (domain.Transaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updateCalls++
	for messageID, transaction := range g.transactions {
		if transaction.ID == id {
			transaction.Status = status
			if txHash != nil {
				transaction.TxHash = txHash
			}
			g.transactions[messageID] = transaction
			return transaction, nil
		}
	}
	return domain.Transaction{}, cherrors.ErrTransactionNotFound
}

func newTestRouter(t *testing.T) (*Router, *Registry, *fakeGateway) {
	t.Helper()
	gateway := newFakeGateway()
	registry := NewRegistry(slog.Default(), gateway.fakePresence)
	router := NewRouter(slog.Default(), registry, gateway, time.Second)
	return router, registry, gateway
}

func inbound(t *testing.T, typ envelope.Type, payload any) envelope.Envelope {
	t.Helper()
	env, err := envelope.Encode(typ, payload)
	require.NoError(t, err)
	return env
}

func bindSink(t *testing.T, registry *Registry, userID domain.UserID) *recordingSink {
	t.Helper()
	sink := &recordingSink{}
	require.NoError(t, registry.Bind(context.Background(), uuid.NewString(), userID, sink))
	return sink
}

func Test_Connect_Binds_And_Confirms(t *testing.T) {
	req := require.New(t)
	router, registry, gateway := newTestRouter(t)
	origin := newFakeSession()

	router.Handle(context.Background(), origin, inbound(t, envelope.TypeConnect, envelope.ConnectPayload{UserID: 1}))

	// Bound, authenticated, presence touched, exactly one confirmation
	req.Equal([]string{origin.id}, registry.ConnectionsFor(domain.UserID(1)))
	req.True(origin.authed)
	req.Equal([]domain.UserID{1}, gateway.touched)
	req.Len(origin.byType(envelope.TypeConnected), 1)
	req.Len(origin.byType(envelope.TypeError), 0)
}

func Test_Connect_Completes_When_Presence_Touch_Fails(t *testing.T) {
	req := require.New(t)
	router, registry, gateway := newTestRouter(t)
	gateway.failTouch = true
	origin := newFakeSession()

	router.Handle(context.Background(), origin, inbound(t, envelope.TypeConnect, envelope.ConnectPayload{UserID: 1}))

	// A stale presence timestamp is a logging matter, not a handshake
	// failure: the connection is bound, authenticated and confirmed.
	req.Equal([]string{origin.id}, registry.ConnectionsFor(domain.UserID(1)))
	req.True(origin.authed)
	req.Len(origin.byType(envelope.TypeConnected), 1)
	req.Len(origin.byType(envelope.TypeError), 0)
}

func Test_Connect_Without_UserID_Leaves_Registry_Unchanged(t *testing.T) {
	req := require.New(t)
	router, registry, gateway := newTestRouter(t)
	origin := newFakeSession()

	router.Handle(context.Background(), origin, inbound(t, envelope.TypeConnect, envelope.ConnectPayload{}))

	// Exactly one error to the originator, no bind, no durable row
	req.Equal(1, origin.count())
	req.Len(origin.byType(envelope.TypeError), 1)
	req.Empty(registry.ConnectionsFor(domain.UserID(0)))
	req.Empty(gateway.added)
	req.False(origin.authed)
}

func Test_Connect_Twice_Is_Protocol_Violation(t *testing.T) {
	req := require.New(t)
	router, _, _ := newTestRouter(t)
	origin := newFakeSession()

	router.Handle(context.Background(), origin, inbound(t, envelope.TypeConnect, envelope.ConnectPayload{UserID: 1}))
	router.Handle(context.Background(), origin, inbound(t, envelope.TypeConnect, envelope.ConnectPayload{UserID: 2}))

	req.Len(origin.byType(envelope.TypeConnected), 1)
	req.Len(origin.byType(envelope.TypeError), 1)
	req.Equal(domain.UserID(1), origin.userID)
}

func Test_New_Message_Fans_Out_To_Recipients_Not_Sender(t *testing.T) {
	req := require.New(t)
	router, registry, gateway := newTestRouter(t)
	gateway.conversations[7] = domain.Conversation{ID: 7, ParticipantIDs: []domain.UserID{1, 2, 3}}

	origin := newFakeSession()
	req.NoError(registry.Bind(context.Background(), origin.id, 1, origin))
	req.NoError(origin.Authenticate(1))
	senderOtherTab := bindSink(t, registry, 1)
	recipientB1 := bindSink(t, registry, 2)
	recipientB2 := bindSink(t, registry, 2)
	recipientC := bindSink(t, registry, 3)

	router.Handle(context.Background(), origin, inbound(t, envelope.TypeNewMessage, envelope.NewMessagePayload{
		ConversationID:   7,
		SenderID:         1,
		EncryptedContent: "Y2lwaGVydGV4dA==",
		IV:               "aXY=",
	}))

	// Every live connection of B and C gets the frame
	req.Len(recipientB1.byType(envelope.TypeNewMessage), 1)
	req.Len(recipientB2.byType(envelope.TypeNewMessage), 1)
	req.Len(recipientC.byType(envelope.TypeNewMessage), 1)

	// The sender's connections get no fan-out, only one delivery confirmation
	req.Equal(0, senderOtherTab.count())
	req.Len(origin.byType(envelope.TypeMessageDelivered), 1)
	req.Len(origin.byType(envelope.TypeNewMessage), 0)
	req.Len(gateway.created, 1)
}

func Test_New_Message_Failing_Connection_Does_Not_Abort_Fanout(t *testing.T) {
	req := require.New(t)
	router, registry, gateway := newTestRouter(t)
	gateway.conversations[7] = domain.Conversation{ID: 7, ParticipantIDs: []domain.UserID{1, 2, 3}}

	origin := newFakeSession()
	req.NoError(registry.Bind(context.Background(), origin.id, 1, origin))
	req.NoError(origin.Authenticate(1))
	saturatedTab := &recordingSink{fail: true}
	req.NoError(registry.Bind(context.Background(), uuid.NewString(), 2, saturatedTab))
	healthyTab := bindSink(t, registry, 2)
	recipientC := bindSink(t, registry, 3)

	router.Handle(context.Background(), origin, inbound(t, envelope.TypeNewMessage, envelope.NewMessagePayload{
		ConversationID:   7,
		SenderID:         1,
		EncryptedContent: "Y2lwaGVydGV4dA==",
		IV:               "aXY=",
	}))

	// The saturated connection loses the frame; its siblings do not
	req.Equal(0, saturatedTab.count())
	req.Len(healthyTab.byType(envelope.TypeNewMessage), 1)
	req.Len(recipientC.byType(envelope.TypeNewMessage), 1)

	// The sender still gets its confirmation and no error
	req.Len(origin.byType(envelope.TypeMessageDelivered), 1)
	req.Len(origin.byType(envelope.TypeError), 0)
}

func Test_New_Message_Unknown_Conversation_Still_Persists(t *testing.T) {
	req := require.New(t)
	router, _, gateway := newTestRouter(t)
	origin := newFakeSession()

	router.Handle(context.Background(), origin, inbound(t, envelope.TypeNewMessage, envelope.NewMessagePayload{
		ConversationID:   404,
		SenderID:         1,
		EncryptedContent: "Y2lwaGVydGV4dA==",
		IV:               "aXY=",
	}))

	// Documented inconsistency: the row exists, the sender gets an error
	// instead of a delivery confirmation, nothing is fanned out.
	req.Len(gateway.created, 1)
	req.Equal(1, origin.count())
	req.Len(origin.byType(envelope.TypeError), 1)
}

func Test_New_Message_Missing_Fields_Never_Reaches_Storage(t *testing.T) {
	req := require.New(t)
	router, _, gateway := newTestRouter(t)
	origin := newFakeSession()

	router.Handle(context.Background(), origin, inbound(t, envelope.TypeNewMessage, envelope.NewMessagePayload{
		ConversationID: 7,
		SenderID:       1,
		// encryptedContent and iv missing
	}))

	req.Empty(gateway.created)
	req.Equal(1, origin.count())
	req.Len(origin.byType(envelope.TypeError), 1)
}

func Test_User_Typing_Reaches_Every_Tab_Of_The_Partner(t *testing.T) {
	req := require.New(t)
	router, registry, gateway := newTestRouter(t)
	gateway.conversations[7] = domain.Conversation{ID: 7, ParticipantIDs: []domain.UserID{1, 2}}

	origin := newFakeSession()
	req.NoError(registry.Bind(context.Background(), origin.id, 1, origin))
	partnerTab1 := bindSink(t, registry, 2)
	partnerTab2 := bindSink(t, registry, 2)

	router.Handle(context.Background(), origin, inbound(t, envelope.TypeUserTyping, envelope.UserTypingPayload{
		ConversationID: 7,
		UserID:         1,
	}))

	// Both of the partner's connections see the indicator, the typist none
	req.Len(partnerTab1.byType(envelope.TypeUserTyping), 1)
	req.Len(partnerTab2.byType(envelope.TypeUserTyping), 1)
	req.Equal(0, origin.count())
}

func Test_User_Typing_From_Non_Participant_Is_Rejected(t *testing.T) {
	req := require.New(t)
	router, registry, gateway := newTestRouter(t)
	gateway.conversations[7] = domain.Conversation{ID: 7, ParticipantIDs: []domain.UserID{1, 2}}
	partner := bindSink(t, registry, 2)
	origin := newFakeSession()

	router.Handle(context.Background(), origin, inbound(t, envelope.TypeUserTyping, envelope.UserTypingPayload{
		ConversationID: 7,
		UserID:         3,
	}))

	// Outsiders cannot inject typing indicators into a conversation
	req.Equal(0, partner.count())
	req.Equal(1, origin.count())
	req.Len(origin.byType(envelope.TypeError), 1)
}

func Test_User_Typing_Unknown_Conversation(t *testing.T) {
	req := require.New(t)
	router, _, _ := newTestRouter(t)
	origin := newFakeSession()

	router.Handle(context.Background(), origin, inbound(t, envelope.TypeUserTyping, envelope.UserTypingPayload{
		ConversationID: 404,
		UserID:         1,
	}))

	req.Equal(1, origin.count())
	req.Len(origin.byType(envelope.TypeError), 1)
}

func Test_Transaction_Update_Missing_Transaction_Never_Updates(t *testing.T) {
	req := require.New(t)
	router, _, gateway := newTestRouter(t)
	origin := newFakeSession()

	router.Handle(context.Background(), origin, inbound(t, envelope.TypeTransactionUpdate, envelope.TransactionUpdatePayload{
		MessageID: uuid.NewString(),
		Status:    "completed",
	}))

	req.Equal(0, gateway.updateCalls)
	req.Equal(1, origin.count())
	req.Len(origin.byType(envelope.TypeError), 1)
}

func Test_Transaction_Update_Broadcasts_To_All_Participants_Including_Sender(t *testing.T) {
	req := require.New(t)
	router, registry, gateway := newTestRouter(t)

	message := domain.Message{ID: uuid.New(), ConversationID: 7, SenderID: 1, SentAt: time.Now().UTC()}
	gateway.messages[message.ID] = message
	gateway.conversations[7] = domain.Conversation{ID: 7, ParticipantIDs: []domain.UserID{1, 2}}
	gateway.transactions[message.ID] = domain.Transaction{
		ID:        uuid.New(),
		MessageID: message.ID,
		Status:    domain.TransactionPending,
	}

	origin := newFakeSession()
	req.NoError(registry.Bind(context.Background(), origin.id, 1, origin))
	senderOtherTab := bindSink(t, registry, 1)
	partner := bindSink(t, registry, 2)

	router.Handle(context.Background(), origin, inbound(t, envelope.TypeTransactionUpdate, envelope.TransactionUpdatePayload{
		MessageID: message.ID.String(),
		Status:    "completed",
		TxHash:    lo.ToPtr("0xabc123"),
	}))

	// Unlike new_message, the sender's own connections are included
	req.Len(origin.byType(envelope.TypeTransactionUpdate), 1)
	req.Len(senderOtherTab.byType(envelope.TypeTransactionUpdate), 1)
	req.Len(partner.byType(envelope.TypeTransactionUpdate), 1)
	req.Equal(1, gateway.updateCalls)
	req.Len(origin.byType(envelope.TypeError), 0)

	updated := gateway.transactions[message.ID]
	req.Equal(domain.TransactionCompleted, updated.Status)
	req.Equal("0xabc123", *updated.TxHash)
}

func Test_Transaction_Update_Invalid_Status_Is_Rejected(t *testing.T) {
	req := require.New(t)
	router, _, gateway := newTestRouter(t)
	origin := newFakeSession()

	router.Handle(context.Background(), origin, inbound(t, envelope.TypeTransactionUpdate, envelope.TransactionUpdatePayload{
		MessageID: uuid.NewString(),
		Status:    "teleported",
	}))

	req.Equal(0, gateway.updateCalls)
	req.Len(origin.byType(envelope.TypeError), 1)
}

var _ contract.Gateway = (*fakeGateway)(nil)
var _ contract.Session = (*fakeSession)(nil)
