package repositories

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	cherrors "cipherchat/errors"
	"cipherchat/domain"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// Gateway is the single durable entry point the realtime core talks to.
// It fronts the per-entity repositories, honors caller deadlines and folds
// unexpected storage errors into the persistence class so the router never
// has to interpret BadgerDB internals.
type Gateway struct {
	log           *slog.Logger
	users         UserRepository
	conversations ConversationRepository
	messages      MessageRepository
	transactions  TransactionRepository
	connections   ConnectionRepository
}

func NewGateway(db *badger.DB, log *slog.Logger, limitMessages *int) *Gateway {
	return &Gateway{
		log:           log,
		users:         NewUserRepository(db, log),
		conversations: NewConversationRepository(db, log),
		messages:      NewMessageRepository(db, log, limitMessages),
		transactions:  NewTransactionRepository(db, log),
		connections:   NewConnectionRepository(db, log),
	}
}

// guard refuses work once the caller's deadline has passed. Storage reads
// and writes are local, so checking up front is what "bounded" means here.
func (g *Gateway) guard(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", cherrors.ErrPersistence, err)
	}
	return nil
}

// wrap reclassifies storage failures while letting not-found sentinels
// through untouched, because those are recoverable by the caller.
func (g *Gateway) wrap(err error) error {
	if err == nil || stderrors.Is(err, cherrors.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %v", cherrors.ErrPersistence, err)
}

func (g *Gateway) GetUser(ctx context.Context, id domain.UserID) (domain.User, error) {
	if err := g.guard(ctx); err != nil {
		return domain.User{}, err
	}
	user, err := g.users.GetUser(id)
	return user, g.wrap(err)
}

func (g *Gateway) GetConversation(ctx context.Context, id domain.ConversationID) (domain.Conversation, error) {
	if err := g.guard(ctx); err != nil {
		return domain.Conversation{}, err
	}
	conversation, err := g.conversations.GetConversation(id)
	return conversation, g.wrap(err)
}

func (g *Gateway) CreateMessage(ctx context.Context, conversationID domain.ConversationID,
	senderID domain.UserID, encryptedContent, iv string) (domain.Message, error) {
	if err := g.guard(ctx); err != nil {
		return domain.Message{}, err
	}
	message, err := g.messages.CreateMessage(conversationID, senderID, encryptedContent, iv)
	return message, g.wrap(err)
}

func (g *Gateway) GetMessage(ctx context.Context, id uuid.UUID) (domain.Message, error) {
	if err := g.guard(ctx); err != nil {
		return domain.Message{}, err
	}
	message, err := g.messages.GetMessage(id)
	return message, g.wrap(err)
}

func (g *Gateway) ListMessages(ctx context.Context, conversationID domain.ConversationID,
	cursor *string) ([]domain.Message, *string, error) {
	if err := g.guard(ctx); err != nil {
		return nil, nil, err
	}
	messages, next, err := g.messages.ListMessages(conversationID, cursor)
	return messages, next, g.wrap(err)
}

func (g *Gateway) GetMessageTransaction(ctx context.Context, messageID uuid.UUID) (domain.Transaction, error) {
	if err := g.guard(ctx); err != nil {
		return domain.Transaction{}, err
	}
	transaction, err := g.transactions.GetMessageTransaction(messageID)
	return transaction, g.wrap(err)
}

func (g *Gateway) UpdateTransactionStatus(ctx context.Context, id uuid.UUID,
	status domain.TransactionStatus, txHash *string) (domain.Transaction, error) {
	if err := g.guard(ctx); err != nil {
		return domain.Transaction{}, err
	}
	transaction, err := g.transactions.UpdateStatus(id, status, txHash)
	return transaction, g.wrap(err)
}

func (g *Gateway) AddConnection(ctx context.Context, userID domain.UserID, socketID string) error {
	if err := g.guard(ctx); err != nil {
		return err
	}
	return g.wrap(g.connections.AddConnection(userID, socketID))
}

func (g *Gateway) RemoveConnection(ctx context.Context, socketID string) (bool, error) {
	if err := g.guard(ctx); err != nil {
		return false, err
	}
	removed, err := g.connections.RemoveConnection(socketID)
	return removed, g.wrap(err)
}

func (g *Gateway) GetUserConnection(ctx context.Context, userID domain.UserID) (domain.Connection, error) {
	if err := g.guard(ctx); err != nil {
		return domain.Connection{}, err
	}
	connection, err := g.connections.GetUserConnection(userID)
	return connection, g.wrap(err)
}

func (g *Gateway) UpdateUserLastSeen(ctx context.Context, userID domain.UserID) (domain.User, error) {
	if err := g.guard(ctx); err != nil {
		return domain.User{}, err
	}
	user, err := g.users.UpdateLastSeen(userID, time.Now().UTC())
	return user, g.wrap(err)
}

// Seeding helpers used by the REST layer and tests; not part of the
// realtime contract.

func (g *Gateway) CreateUser(ctx context.Context, user domain.User) (domain.User, error) {
	if err := g.guard(ctx); err != nil {
		return domain.User{}, err
	}
	created, err := g.users.CreateUser(user)
	return created, g.wrap(err)
}

func (g *Gateway) CreateConversation(ctx context.Context, conversation domain.Conversation) (domain.Conversation, error) {
	if err := g.guard(ctx); err != nil {
		return domain.Conversation{}, err
	}
	created, err := g.conversations.CreateConversation(conversation)
	return created, g.wrap(err)
}

func (g *Gateway) CreateTransaction(ctx context.Context, transaction domain.Transaction) (domain.Transaction, error) {
	if err := g.guard(ctx); err != nil {
		return domain.Transaction{}, err
	}
	created, err := g.transactions.CreateTransaction(transaction)
	return created, g.wrap(err)
}
