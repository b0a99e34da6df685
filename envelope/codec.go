package envelope

import (
	"encoding/json"
	"fmt"

	cherrors "cipherchat/errors"
)

// Decode parses the outer {type, payload} frame. The payload stays raw until
// the tag is dispatched, so a bad payload for one event type cannot take the
// whole connection down.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: malformed envelope: %v", cherrors.ErrProtocol, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: envelope without a type tag", cherrors.ErrProtocol)
	}
	return env, nil
}

// InboundPayload dispatches the tag into the matching typed payload.
// Unknown tags and shape mismatches surface as protocol errors; they are
// reported to the originating connection, never treated as fatal.
func (e Envelope) InboundPayload() (any, error) {
	switch e.Type {
	case TypeConnect:
		return decodeAs[ConnectPayload](e)
	case TypeNewMessage:
		return decodeAs[NewMessagePayload](e)
	case TypeUserTyping:
		return decodeAs[UserTypingPayload](e)
	case TypeTransactionUpdate:
		return decodeAs[TransactionUpdatePayload](e)
	default:
		return nil, fmt.Errorf("%w %q", cherrors.ErrUnknownEventType, e.Type)
	}
}

func decodeAs[T any](e Envelope) (T, error) {
	var payload T
	if len(e.Payload) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return payload, fmt.Errorf("%w: invalid %s payload: %v", cherrors.ErrProtocol, e.Type, err)
	}
	return payload, nil
}

// Encode wraps a typed payload into a sendable envelope.
func Encode(t Type, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding %s payload: %w", t, err)
	}
	return Envelope{Type: t, Payload: raw}, nil
}

// Error builds the error envelope sent back to an originator. Marshalling a
// plain string member cannot fail, hence no error return.
func Error(message string) Envelope {
	raw, _ := json.Marshal(ErrorPayload{Message: message})
	return Envelope{Type: TypeError, Payload: raw}
}

func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
