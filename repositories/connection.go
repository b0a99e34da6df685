package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	cherrors "cipherchat/errors"
	"cipherchat/domain"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type IConnectionRepository interface {
	AddConnection(userID domain.UserID, socketID string) error
	RemoveConnection(socketID string) (bool, error)
	GetUserConnection(userID domain.UserID) (domain.Connection, error)
	ListUserConnections(userID domain.UserID) ([]domain.Connection, error)
}

// ConnectionRepository is the durable half of presence: one row per live
// socket, indexed both ways so "who owns this socket" and "which sockets
// does this user hold" are single lookups.
type ConnectionRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewConnectionRepository(db *badger.DB, log *slog.Logger) ConnectionRepository {
	return ConnectionRepository{db: db, log: log}
}

type connectionRow struct {
	ID          string `json:"id"`
	UserID      int64  `json:"userId"`
	SocketID    string `json:"socketId"`
	ConnectedAt int64  `json:"connectedAt"`
}

func connectionKey(socketID string) []byte {
	return []byte("conn:" + socketID)
}

func userConnectionKey(userID domain.UserID, socketID string) []byte {
	return []byte(fmt.Sprintf("userconn:%019d:%s", userID, socketID))
}

func userConnectionPrefix(userID domain.UserID) []byte {
	return []byte(fmt.Sprintf("userconn:%019d:", userID))
}

func (r ConnectionRepository) AddConnection(userID domain.UserID, socketID string) error {
	row := connectionRow{
		ID:          uuid.NewString(),
		UserID:      int64(userID),
		SocketID:    socketID,
		ConnectedAt: time.Now().UTC().UnixNano(),
	}
	bytes, err := json.Marshal(row)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(connectionKey(socketID), bytes); err != nil {
			return err
		}
		return txn.Set(userConnectionKey(userID, socketID), []byte(socketID))
	})
}

// RemoveConnection reports whether a row was actually removed; a missing
// socket is not an error because disconnect races are expected.
func (r ConnectionRepository) RemoveConnection(socketID string) (bool, error) {
	removed := false
	err := r.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(connectionKey(socketID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		var row connectionRow
		if err = item.Value(func(value []byte) error {
			return json.Unmarshal(value, &row)
		}); err != nil {
			return err
		}
		if err = txn.Delete(connectionKey(socketID)); err != nil {
			return err
		}
		if err = txn.Delete(userConnectionKey(domain.UserID(row.UserID), socketID)); err != nil {
			return err
		}
		removed = true
		return nil
	})
	return removed, err
}

// GetUserConnection returns one live connection for the user, which is all a
// REST caller needs to answer an online check.
func (r ConnectionRepository) GetUserConnection(userID domain.UserID) (domain.Connection, error) {
	connections, err := r.listUserConnections(userID, 1)
	if err != nil {
		return domain.Connection{}, err
	}
	if len(connections) == 0 {
		return domain.Connection{}, cherrors.ErrConnectionNotFound
	}
	return connections[0], nil
}

func (r ConnectionRepository) ListUserConnections(userID domain.UserID) ([]domain.Connection, error) {
	return r.listUserConnections(userID, 0)
}

func (r ConnectionRepository) listUserConnections(userID domain.UserID, limit int) ([]domain.Connection, error) {
	var connections []domain.Connection
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := userConnectionPrefix(userID)
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(connections) == limit {
				break
			}
			var socketID []byte
			if err := it.Item().Value(func(value []byte) error {
				socketID = append([]byte(nil), value...)
				return nil
			}); err != nil {
				return err
			}
			item, err := txn.Get(connectionKey(string(socketID)))
			if err == badger.ErrKeyNotFound {
				// Index entry without a row: a half-finished removal.
				continue
			}
			if err != nil {
				return err
			}
			var row connectionRow
			if err = item.Value(func(value []byte) error {
				return json.Unmarshal(value, &row)
			}); err != nil {
				return err
			}
			connection, err := toConnection(row)
			if err != nil {
				return err
			}
			connections = append(connections, connection)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return connections, nil
}

func toConnection(row connectionRow) (domain.Connection, error) {
	parsedID, err := uuid.Parse(row.ID)
	if err != nil {
		return domain.Connection{}, err
	}
	return domain.Connection{
		ID:          parsedID,
		UserID:      domain.UserID(row.UserID),
		SocketID:    row.SocketID,
		ConnectedAt: time.Unix(0, row.ConnectedAt).UTC(),
	}, nil
}
