package orders

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound      = errors.New("order not found")
	ErrBadQuantity   = errors.New("quantity must be positive")
	ErrAmountInvalid = errors.New("total amount must equal unit price times quantity")
)

// Rail is the payment channel an order is waiting on.
type Rail string

const (
	RailUSDT   Rail = "usdt"
	RailAlipay Rail = "alipay"
)

type Order struct {
	ID          string
	OrderNo     string
	ProductID   string
	Quantity    int
	UnitPrice   decimal.Decimal
	TotalAmount decimal.Decimal
	Rail        Rail
	// PayAmount is the amount expected on the rail. For USDT it is the
	// converted 6-decimal figure; for alipay it equals TotalAmount.
	PayAmount   decimal.Decimal
	PayAddress  string
	PayTxID     string
	Status      Status
	Contact     string
	Notes       string
	ExpireAt    time.Time
	PaidAt      *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// New builds a pending order. The caller supplies the price from the catalog,
// never from client input.
func New(productID string, qty int, unitPrice decimal.Decimal, rail Rail, contact string, ttl time.Duration) (Order, error) {
	if qty <= 0 {
		return Order{}, ErrBadQuantity
	}
	now := time.Now().UTC()
	total := unitPrice.Mul(decimal.NewFromInt(int64(qty)))
	return Order{
		ID:          uuid.NewString(),
		OrderNo:     NewOrderNo(),
		ProductID:   productID,
		Quantity:    qty,
		UnitPrice:   unitPrice,
		TotalAmount: total,
		Rail:        rail,
		PayAmount:   total,
		Status:      StatusPending,
		Contact:     contact,
		ExpireAt:    now.Add(ttl),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// NewOrderNo returns a human-quotable order number: ORD, unix millis, six
// random uppercase letters.
func NewOrderNo() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	suffix := make([]byte, 6)
	for i := range suffix {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(letters))))
		if err != nil {
			// crypto/rand failing means the platform is broken; fall back
			// to a time-derived index rather than return an error here.
			suffix[i] = letters[time.Now().UnixNano()%int64(len(letters))]
			continue
		}
		suffix[i] = letters[n.Int64()]
	}
	return fmt.Sprintf("ORD%d%s", time.Now().UnixMilli(), suffix)
}

func (o Order) Expired(now time.Time) bool {
	return o.Status == StatusPending && now.After(o.ExpireAt)
}

// CheckAmount verifies the stored total matches unit price times quantity.
func (o Order) CheckAmount() error {
	want := o.UnitPrice.Mul(decimal.NewFromInt(int64(o.Quantity)))
	if !o.TotalAmount.Equal(want) {
		return ErrAmountInvalid
	}
	return nil
}
