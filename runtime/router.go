package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cipherchat/contract"
	"cipherchat/domain"
	"cipherchat/envelope"
	cherrors "cipherchat/errors"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

// Router is the single entry point for every inbound envelope. It decides
// what to persist and who receives what; transport and storage stay out of
// its way behind the Session and Gateway contracts.
//
// Within one inbound event, persistence always happens before fan-out, so a
// client re-querying durable state right after a broadcast sees it
// reflected. Error replies go to the originating connection only, never to
// recipients.
type Router struct {
	log            *slog.Logger
	registry       contract.IRegistry
	gateway        contract.Gateway
	gatewayTimeout time.Duration
}

func NewRouter(log *slog.Logger, registry contract.IRegistry, gateway contract.Gateway,
	gatewayTimeout time.Duration) *Router {
	return &Router{
		log:            log,
		registry:       registry,
		gateway:        gateway,
		gatewayTimeout: gatewayTimeout,
	}
}

func (r *Router) Handle(ctx context.Context, origin contract.Session, env envelope.Envelope) {
	payload, err := env.InboundPayload()
	if err != nil {
		r.sendError(origin, err)
		return
	}
	switch p := payload.(type) {
	case envelope.ConnectPayload:
		r.handleConnect(ctx, origin, p)
	case envelope.NewMessagePayload:
		r.handleNewMessage(ctx, origin, p)
	case envelope.UserTypingPayload:
		r.handleUserTyping(ctx, origin, p)
	case envelope.TransactionUpdatePayload:
		r.handleTransactionUpdate(ctx, origin, p)
	}
}

// handleConnect binds the socket to its user, touches presence and confirms
// with the socket id the client will see in its own connection row.
func (r *Router) handleConnect(ctx context.Context, origin contract.Session, p envelope.ConnectPayload) {
	if err := validate.Struct(p); err != nil {
		r.sendError(origin, fmt.Errorf("%w: a valid userId is required to connect", cherrors.ErrValidation))
		return
	}
	if _, ok := origin.UserID(); ok {
		r.sendError(origin, cherrors.ErrAlreadyAuthenticated)
		return
	}
	userID := domain.UserID(p.UserID)

	gctx, cancel := r.gatewayCtx(ctx)
	defer cancel()
	if err := r.registry.Bind(gctx, origin.SocketID(), userID, origin); err != nil {
		r.sendError(origin, err)
		return
	}
	if err := origin.Authenticate(userID); err != nil {
		r.sendError(origin, err)
		return
	}
	if _, err := r.gateway.UpdateUserLastSeen(gctx, userID); err != nil {
		// The binding stands and the handshake completes; only the presence
		// timestamp is stale until the next touch. Failing the handshake here
		// would strand an authenticated connection that cannot retry.
		r.log.Warn("Presence touch failed on connect", "userId", userID, "err", err)
	}
	r.send(origin, envelope.TypeConnected, envelope.ConnectedPayload{SocketID: origin.SocketID()})
}

// handleNewMessage persists first, fans out second. The delivery
// confirmation means "accepted and stored", not "received by a peer": the
// sender gets it even when no recipient is currently reachable.
func (r *Router) handleNewMessage(ctx context.Context, origin contract.Session, p envelope.NewMessagePayload) {
	if err := validate.Struct(p); err != nil {
		r.sendError(origin, fmt.Errorf(
			"%w: conversationId, senderId, encryptedContent and iv are all required", cherrors.ErrValidation))
		return
	}
	gctx, cancel := r.gatewayCtx(ctx)
	defer cancel()

	message, err := r.gateway.CreateMessage(gctx, domain.ConversationID(p.ConversationID),
		domain.UserID(p.SenderID), p.EncryptedContent, p.IV)
	if err != nil {
		r.sendError(origin, err)
		return
	}
	conversation, err := r.gateway.GetConversation(gctx, message.ConversationID)
	if err != nil {
		// The stored message is deliberately not rolled back: the sender
		// gets an error instead of a delivery confirmation and the message
		// surfaces once the conversation becomes readable again.
		r.sendError(origin, err)
		return
	}

	r.broadcast(conversation.Recipients(message.SenderID), envelope.TypeNewMessage, envelope.NewMessageEvent{
		MessageID:        message.ID.String(),
		ConversationID:   int64(message.ConversationID),
		SenderID:         int64(message.SenderID),
		EncryptedContent: message.EncryptedContent,
		IV:               message.IV,
		SentAt:           message.SentAt,
	})
	r.send(origin, envelope.TypeMessageDelivered, envelope.MessageDeliveredPayload{
		MessageID:      message.ID.String(),
		ConversationID: int64(message.ConversationID),
		DeliveredAt:    time.Now().UTC(),
	})
}

// handleUserTyping is pure fan-out: nothing is persisted and delivery is
// best-effort.
func (r *Router) handleUserTyping(ctx context.Context, origin contract.Session, p envelope.UserTypingPayload) {
	if err := validate.Struct(p); err != nil {
		r.sendError(origin, fmt.Errorf("%w: conversationId and userId are required", cherrors.ErrValidation))
		return
	}
	gctx, cancel := r.gatewayCtx(ctx)
	defer cancel()

	conversation, err := r.gateway.GetConversation(gctx, domain.ConversationID(p.ConversationID))
	if err != nil {
		r.sendError(origin, err)
		return
	}
	if !conversation.HasParticipant(domain.UserID(p.UserID)) {
		r.sendError(origin, fmt.Errorf("%w: user %d is not a participant of conversation %d",
			cherrors.ErrValidation, p.UserID, p.ConversationID))
		return
	}
	r.broadcast(conversation.Recipients(domain.UserID(p.UserID)), envelope.TypeUserTyping, p)
}

// handleTransactionUpdate resolves messageId -> transaction -> message ->
// conversation, then broadcasts to every participant including the sender:
// unlike messages and typing, the sender needs the status confirmation too.
func (r *Router) handleTransactionUpdate(ctx context.Context, origin contract.Session, p envelope.TransactionUpdatePayload) {
	if err := validate.Struct(p); err != nil {
		r.sendError(origin, fmt.Errorf("%w: messageId and a valid status are required", cherrors.ErrValidation))
		return
	}
	messageID, err := uuid.Parse(p.MessageID)
	if err != nil {
		r.sendError(origin, fmt.Errorf("%w: messageId must be a uuid", cherrors.ErrValidation))
		return
	}
	gctx, cancel := r.gatewayCtx(ctx)
	defer cancel()

	transaction, err := r.gateway.GetMessageTransaction(gctx, messageID)
	if err != nil {
		r.sendError(origin, err)
		return
	}
	updated, err := r.gateway.UpdateTransactionStatus(gctx, transaction.ID,
		domain.TransactionStatus(p.Status), p.TxHash)
	if err != nil {
		r.sendError(origin, err)
		return
	}
	message, err := r.gateway.GetMessage(gctx, messageID)
	if err != nil {
		r.sendError(origin, err)
		return
	}
	conversation, err := r.gateway.GetConversation(gctx, message.ConversationID)
	if err != nil {
		r.sendError(origin, err)
		return
	}

	r.broadcast(conversation.ParticipantIDs, envelope.TypeTransactionUpdate, envelope.TransactionUpdateEvent{
		MessageID: updated.MessageID.String(),
		Status:    string(updated.Status),
		TxHash:    updated.TxHash,
		UpdatedAt: time.Now().UTC(),
	})
}

// broadcast fans one event out to every live sink of every recipient, one
// delivery goroutine per sink. An unreachable sink is logged and skipped;
// it must never abort delivery to its siblings. Sinks are resolved here, at
// fan-out time, tolerating recipients that disconnected since persistence.
func (r *Router) broadcast(recipients []domain.UserID, t envelope.Type, payload any) {
	env, err := envelope.Encode(t, payload)
	if err != nil {
		r.log.Error("Encoding broadcast failed", "type", t, "err", err)
		return
	}
	var wg sync.WaitGroup
	for _, userID := range recipients {
		for _, sink := range r.registry.SinksFor(userID) {
			wg.Add(1)
			go func(sink contract.EventSink) {
				defer wg.Done()
				if err := sink.Deliver(env); err != nil {
					r.log.Debug("Dropping frame for unreachable connection", "type", t, "err", err)
				}
			}(sink)
		}
	}
	wg.Wait()
}

func (r *Router) send(origin contract.Session, t envelope.Type, payload any) {
	env, err := envelope.Encode(t, payload)
	if err != nil {
		r.log.Error("Encoding reply failed", "type", t, "err", err)
		return
	}
	if err := origin.Deliver(env); err != nil {
		r.log.Debug("Reply not deliverable", "socketId", origin.SocketID(), "type", t, "err", err)
	}
}

func (r *Router) sendError(origin contract.Session, err error) {
	r.log.Warn("Rejecting inbound event", "socketId", origin.SocketID(), "err", err)
	if derr := origin.Deliver(envelope.Error(cherrors.ClientMessage(err))); derr != nil {
		r.log.Debug("Error reply not deliverable", "socketId", origin.SocketID(), "err", derr)
	}
}

func (r *Router) gatewayCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.gatewayTimeout)
}
