package domain

import "time"

type UserID int64

// User is the durable account row. The wallet address is the login identity;
// key material is opaque to this process.
type User struct {
	ID            UserID
	WalletAddress string
	ENSName       *string
	PublicKey     string
	LastSeen      time.Time
	CreatedAt     time.Time
}
