package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	cherrors "cipherchat/errors"
	"cipherchat/domain"

	"github.com/dgraph-io/badger/v4"
)

type IUserRepository interface {
	CreateUser(user domain.User) (domain.User, error)
	GetUser(id domain.UserID) (domain.User, error)
	UpdateLastSeen(id domain.UserID, at time.Time) (domain.User, error)
}

type UserRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewUserRepository(db *badger.DB, log *slog.Logger) UserRepository {
	return UserRepository{db: db, log: log}
}

type userRow struct {
	ID            int64   `json:"id"`
	WalletAddress string  `json:"walletAddress"`
	ENSName       *string `json:"ensName,omitempty"`
	PublicKey     string  `json:"publicKey"`
	LastSeen      int64   `json:"lastSeen"`
	CreatedAt     int64   `json:"createdAt"`
}

// Keys are zero padded to 19 digits so prefix scans stay in numeric order.
func userKey(id domain.UserID) []byte {
	return []byte(fmt.Sprintf("user:%019d", id))
}

func walletKey(address string) []byte {
	return []byte("wallet:" + address)
}

// CreateUser stores the account row and a wallet index entry. The wallet
// address is the unique login identity, so an existing index entry means
// the account already exists.
func (r UserRepository) CreateUser(user domain.User) (domain.User, error) {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	err := r.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(walletKey(user.WalletAddress)); err == nil {
			return fmt.Errorf("wallet %s already registered", user.WalletAddress)
		}
		if err := writeUserRow(txn, fromUser(user)); err != nil {
			return err
		}
		return txn.Set(walletKey(user.WalletAddress), userKey(user.ID))
	})
	if err != nil {
		return domain.User{}, err
	}
	return user, nil
}

func (r UserRepository) GetUser(id domain.UserID) (domain.User, error) {
	var row userRow
	err := r.db.View(func(txn *badger.Txn) error {
		found, err := readUserRow(txn, id)
		if err != nil {
			return err
		}
		row = found
		return nil
	})
	if err != nil {
		return domain.User{}, err
	}
	return toUser(row), nil
}

// UpdateLastSeen touches the presence timestamp in a single read-modify-write
// transaction and returns the updated row.
func (r UserRepository) UpdateLastSeen(id domain.UserID, at time.Time) (domain.User, error) {
	var row userRow
	err := r.db.Update(func(txn *badger.Txn) error {
		found, err := readUserRow(txn, id)
		if err != nil {
			return err
		}
		found.LastSeen = at.UnixNano()
		if err := writeUserRow(txn, found); err != nil {
			return err
		}
		row = found
		return nil
	})
	if err != nil {
		return domain.User{}, err
	}
	return toUser(row), nil
}

func readUserRow(txn *badger.Txn, id domain.UserID) (userRow, error) {
	var row userRow
	item, err := txn.Get(userKey(id))
	if err == badger.ErrKeyNotFound {
		return row, cherrors.ErrUserNotFound
	}
	if err != nil {
		return row, err
	}
	err = item.Value(func(value []byte) error {
		return json.Unmarshal(value, &row)
	})
	return row, err
}

func writeUserRow(txn *badger.Txn, row userRow) error {
	bytes, err := json.Marshal(row)
	if err != nil {
		return err
	}
	return txn.Set(userKey(domain.UserID(row.ID)), bytes)
}

func fromUser(user domain.User) userRow {
	var lastSeen int64
	if !user.LastSeen.IsZero() {
		lastSeen = user.LastSeen.UnixNano()
	}
	return userRow{
		ID:            int64(user.ID),
		WalletAddress: user.WalletAddress,
		ENSName:       user.ENSName,
		PublicKey:     user.PublicKey,
		LastSeen:      lastSeen,
		CreatedAt:     user.CreatedAt.UnixNano(),
	}
}

func toUser(row userRow) domain.User {
	user := domain.User{
		ID:            domain.UserID(row.ID),
		WalletAddress: row.WalletAddress,
		ENSName:       row.ENSName,
		PublicKey:     row.PublicKey,
		CreatedAt:     time.Unix(0, row.CreatedAt).UTC(),
	}
	if row.LastSeen != 0 {
		user.LastSeen = time.Unix(0, row.LastSeen).UTC()
	}
	return user
}
