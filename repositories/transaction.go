package repositories

import (
	"encoding/json"
	"log/slog"
	"time"

	cherrors "cipherchat/errors"
	"cipherchat/domain"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type ITransactionRepository interface {
	CreateTransaction(transaction domain.Transaction) (domain.Transaction, error)
	GetMessageTransaction(messageID uuid.UUID) (domain.Transaction, error)
	UpdateStatus(id uuid.UUID, status domain.TransactionStatus, txHash *string) (domain.Transaction, error)
}

type TransactionRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewTransactionRepository(db *badger.DB, log *slog.Logger) TransactionRepository {
	return TransactionRepository{db: db, log: log}
}

type transactionRow struct {
	ID          string  `json:"id"`
	MessageID   string  `json:"messageId"`
	FromAddress string  `json:"fromAddress"`
	ToAddress   string  `json:"toAddress"`
	Amount      string  `json:"amount"`
	Currency    string  `json:"currency"`
	Chain       string  `json:"chain"`
	Status      string  `json:"status"`
	TxHash      *string `json:"txHash,omitempty"`
	CreatedAt   int64   `json:"createdAt"`
}

func transactionKey(id uuid.UUID) []byte {
	return []byte("tx:" + id.String())
}

// One transfer record per message, so the message id works as a unique index.
func transactionMessageKey(messageID uuid.UUID) []byte {
	return []byte("txmsg:" + messageID.String())
}

func (r TransactionRepository) CreateTransaction(transaction domain.Transaction) (domain.Transaction, error) {
	if transaction.ID == uuid.Nil {
		transaction.ID = uuid.New()
	}
	if transaction.CreatedAt.IsZero() {
		transaction.CreatedAt = time.Now().UTC()
	}
	if transaction.Status == "" {
		transaction.Status = domain.TransactionPending
	}
	err := r.db.Update(func(txn *badger.Txn) error {
		if err := writeTransactionRow(txn, fromTransaction(transaction)); err != nil {
			return err
		}
		return txn.Set(transactionMessageKey(transaction.MessageID), transactionKey(transaction.ID))
	})
	if err != nil {
		return domain.Transaction{}, err
	}
	return transaction, nil
}

func (r TransactionRepository) GetMessageTransaction(messageID uuid.UUID) (domain.Transaction, error) {
	var row transactionRow
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(transactionMessageKey(messageID))
		if err == badger.ErrKeyNotFound {
			return cherrors.ErrTransactionNotFound
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
		found, err := readTransactionRow(txn, key)
		if err != nil {
			return err
		}
		row = found
		return nil
	})
	if err != nil {
		return domain.Transaction{}, err
	}
	return toTransaction(row)
}

// UpdateStatus moves the status field and, when provided, records the chain
// hash. Everything else on the row is left untouched.
func (r TransactionRepository) UpdateStatus(id uuid.UUID, status domain.TransactionStatus,
	txHash *string) (domain.Transaction, error) {
	var row transactionRow
	err := r.db.Update(func(txn *badger.Txn) error {
		found, err := readTransactionRow(txn, transactionKey(id))
		if err != nil {
			return err
		}
		found.Status = string(status)
		if txHash != nil {
			found.TxHash = txHash
		}
		if err := writeTransactionRow(txn, found); err != nil {
			return err
		}
		row = found
		return nil
	})
	if err != nil {
		return domain.Transaction{}, err
	}
	return toTransaction(row)
}

func readTransactionRow(txn *badger.Txn, key []byte) (transactionRow, error) {
	var row transactionRow
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return row, cherrors.ErrTransactionNotFound
	}
	if err != nil {
		return row, err
	}
	err = item.Value(func(value []byte) error {
		return json.Unmarshal(value, &row)
	})
	return row, err
}

func writeTransactionRow(txn *badger.Txn, row transactionRow) error {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return err
	}
	bytes, err := json.Marshal(row)
	if err != nil {
		return err
	}
	return txn.Set(transactionKey(id), bytes)
}

func fromTransaction(transaction domain.Transaction) transactionRow {
	return transactionRow{
		ID:          transaction.ID.String(),
		MessageID:   transaction.MessageID.String(),
		FromAddress: transaction.FromAddress,
		ToAddress:   transaction.ToAddress,
		Amount:      transaction.Amount,
		Currency:    transaction.Currency,
		Chain:       transaction.Chain,
		Status:      string(transaction.Status),
		TxHash:      transaction.TxHash,
		CreatedAt:   transaction.CreatedAt.UnixNano(),
	}
}

func toTransaction(row transactionRow) (domain.Transaction, error) {
	parsedID, err := uuid.Parse(row.ID)
	if err != nil {
		return domain.Transaction{}, err
	}
	parsedMessageID, err := uuid.Parse(row.MessageID)
	if err != nil {
		return domain.Transaction{}, err
	}
	return domain.Transaction{
		ID:          parsedID,
		MessageID:   parsedMessageID,
		FromAddress: row.FromAddress,
		ToAddress:   row.ToAddress,
		Amount:      row.Amount,
		Currency:    row.Currency,
		Chain:       row.Chain,
		Status:      domain.TransactionStatus(row.Status),
		TxHash:      row.TxHash,
		CreatedAt:   time.Unix(0, row.CreatedAt).UTC(),
	}, nil
}
