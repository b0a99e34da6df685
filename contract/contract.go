//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"

	"cipherchat/domain"
	"cipherchat/envelope"

	"github.com/google/uuid"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker
// lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink is one live connection's outbound lane. Deliver must never
// block fan-out: a closed or saturated sink returns an error which the
// caller logs and skips.
type EventSink interface {
	Deliver(env envelope.Envelope) error
}

// Session is the router's view of the originating connection. The lifecycle
// manager owns the state machine; Authenticate succeeds exactly once.
type Session interface {
	EventSink
	SocketID() string
	UserID() (domain.UserID, bool)
	Authenticate(userID domain.UserID) error
}

// IRegistry maps live sockets to the users they belong to. A user may hold
// several simultaneous connections (several tabs); fan-out must address all
// of them.
type IRegistry interface {
	Bind(ctx context.Context, socketID string, userID domain.UserID, sink EventSink) error
	Unbind(ctx context.Context, socketID string)
	ConnectionsFor(userID domain.UserID) []string
	SinksFor(userID domain.UserID) []EventSink
}

// PresenceStore is the durable side of bind/unbind.
type PresenceStore interface {
	AddConnection(ctx context.Context, userID domain.UserID, socketID string) error
	RemoveConnection(ctx context.Context, socketID string) (bool, error)
	GetUserConnection(ctx context.Context, userID domain.UserID) (domain.Connection, error)
	UpdateUserLastSeen(ctx context.Context, userID domain.UserID) (domain.User, error)
}

// Gateway is the persistence façade the router awaits. Calls are expected to
// surface failures promptly; callers bound them with a deadline context.
type Gateway interface {
	PresenceStore
	GetUser(ctx context.Context, id domain.UserID) (domain.User, error)
	GetConversation(ctx context.Context, id domain.ConversationID) (domain.Conversation, error)
	CreateMessage(ctx context.Context, conversationID domain.ConversationID, senderID domain.UserID,
		encryptedContent, iv string) (domain.Message, error)
	GetMessage(ctx context.Context, id uuid.UUID) (domain.Message, error)
	GetMessageTransaction(ctx context.Context, messageID uuid.UUID) (domain.Transaction, error)
	UpdateTransactionStatus(ctx context.Context, id uuid.UUID, status domain.TransactionStatus,
		txHash *string) (domain.Transaction, error)
}
