package ws

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"cipherchat/contract"
	"cipherchat/domain"
	"cipherchat/envelope"
	cherrors "cipherchat/errors"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

type State int32

const (
	// StateOpen: transport ready, codec active, no bound user yet.
	StateOpen State = iota
	StateAuthenticated
	StateClosed
)

// Client is one live connection and its state machine:
// open -> authenticated -> closed. The user binding is set exactly once at
// authentication and never changed; a reconnect is a brand-new Client.
type Client struct {
	id        string
	log       *slog.Logger
	conn      *websocket.Conn
	router    Dispatcher
	registry  contract.IRegistry
	outbound  chan envelope.Envelope
	done      chan struct{}
	closeOnce sync.Once
	state     atomic.Int32
	userID    atomic.Int64
	readLimit int64
}

func newClient(log *slog.Logger, conn *websocket.Conn, router Dispatcher,
	registry contract.IRegistry, sendBufferSize int, readLimit int64) *Client {
	return &Client{
		id:        uuid.NewString(),
		log:       log,
		conn:      conn,
		router:    router,
		registry:  registry,
		outbound:  make(chan envelope.Envelope, sendBufferSize),
		done:      make(chan struct{}),
		readLimit: readLimit,
	}
}

func (c *Client) SocketID() string {
	return c.id
}

func (c *Client) UserID() (domain.UserID, bool) {
	if State(c.state.Load()) != StateAuthenticated {
		return 0, false
	}
	return domain.UserID(c.userID.Load()), true
}

// Authenticate flips the connection into its authenticated state. It
// succeeds exactly once; later attempts are protocol violations and a
// closed connection cannot authenticate at all.
func (c *Client) Authenticate(userID domain.UserID) error {
	if !c.state.CompareAndSwap(int32(StateOpen), int32(StateAuthenticated)) {
		if State(c.state.Load()) == StateClosed {
			return cherrors.ErrConnectionClosed
		}
		return cherrors.ErrAlreadyAuthenticated
	}
	c.userID.Store(int64(userID))
	return nil
}

// Deliver enqueues an outbound frame without ever blocking the caller.
// A slow consumer loses frames rather than stalling fan-out to others.
func (c *Client) Deliver(env envelope.Envelope) error {
	select {
	case <-c.done:
		return cherrors.ErrConnectionClosed
	case c.outbound <- env:
		return nil
	default:
		return cherrors.ErrSendBufferFull
	}
}

func (c *Client) run(ctx context.Context) {
	c.log.Info("Connection open", "socketId", c.id)
	go c.writePump()
	c.readPump(ctx)
	c.close(ctx)
}

// readPump processes inbound frames strictly in send order: dispatch is
// synchronous, so one connection's events are never reordered. A frame that
// fails to decode earns an error reply and the loop keeps going; decode
// failure is not fatal to the connection.
func (c *Client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(c.readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("Connection read failed", "socketId", c.id, "err", err)
			}
			return
		}
		env, err := envelope.Decode(data)
		if err != nil {
			if derr := c.Deliver(envelope.Error(cherrors.ClientMessage(err))); derr != nil {
				c.log.Debug("Decode error reply not deliverable", "socketId", c.id, "err", derr)
			}
			continue
		}
		c.router.Handle(ctx, c, env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case env := <-c.outbound:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				c.log.Debug("Connection write failed", "socketId", c.id, "err", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// close runs the teardown contract exactly once: terminal state, registry
// unbind, transport close. Cleanup must outlive a canceled request context,
// otherwise shutdown would leak durable presence rows.
func (c *Client) close(ctx context.Context) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		close(c.done)
		c.registry.Unbind(context.WithoutCancel(ctx), c.id)
		_ = c.conn.Close()
		c.log.Info("Connection closed", "socketId", c.id)
	})
}
