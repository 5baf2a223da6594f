package inventory

import (
	"errors"
	"time"
)

var ErrInsufficientStock = errors.New("inventory: insufficient stock")

type Status string

const (
	StatusAvailable Status = "available"
	StatusSold      Status = "sold"
	StatusExpired   Status = "expired"
)

// Card is one sellable, single-use secret code. It moves available→sold
// exactly once and is never linked to more than one order.
type Card struct {
	ID        string
	ProductID string
	Number    string
	Password  string
	BatchID   string
	Status    Status
	SoldAt    *time.Time
	ExpireAt  *time.Time
	CreatedAt time.Time
}

// CodePair is a deliverable code obtained from the provisioning endpoint,
// before it is persisted as a sold Card.
type CodePair struct {
	Number   string
	Password string
}
