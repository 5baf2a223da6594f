// Package payment holds the settlement pipeline shared by every payment
// rail: mark the order paid, deliver, mark it completed.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cardvend/cardvend/internal/delivery"
	"github.com/cardvend/cardvend/internal/inventory"
	"github.com/cardvend/cardvend/internal/metrics"
	"github.com/cardvend/cardvend/internal/orders"
)

// ErrStaleEvidence means payment proof arrived for an order that already
// timed out. The order is moved to expired and the money needs a manual
// refund path.
var ErrStaleEvidence = errors.New("payment: evidence for an expired order")

type OrderStore interface {
	GetByID(ctx context.Context, id string) (orders.Order, error)
	MarkPaid(ctx context.Context, id, txid string) (bool, error)
	MarkCompleted(ctx context.Context, id string) (bool, error)
	MarkExpired(ctx context.Context, id string) (bool, error)
}

type Deliverer interface {
	Deliver(ctx context.Context, o orders.Order) ([]inventory.Card, error)
}

type Events interface {
	Paid(o orders.Order, txid string)
	Completed(o orders.Order, cardCount int)
	Expired(orderID string)
	DeliveryFailed(o orders.Order, reason string)
}

type Settler struct {
	Orders   OrderStore
	Delivery Deliverer
	Events   Events
	Metrics  *metrics.Metrics
	Log      *zap.Logger

	// Now is overridable in tests. Nil means time.Now.
	Now func() time.Time
}

func (s *Settler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Settle applies verified payment evidence to an order. It is safe to call
// more than once with the same evidence: an order that is already paid gets
// a delivery retry, and one already completed is a no-op.
func (s *Settler) Settle(ctx context.Context, o orders.Order, txid string) error {
	switch o.Status {
	case orders.StatusCompleted:
		return nil
	case orders.StatusPaid:
		return s.complete(ctx, o)
	case orders.StatusPending:
	default:
		return fmt.Errorf("payment: order %s is %s, cannot settle", o.OrderNo, o.Status)
	}

	if o.Expired(s.now()) {
		if _, err := s.Orders.MarkExpired(ctx, o.ID); err != nil {
			return err
		}
		if s.Events != nil {
			s.Events.Expired(o.ID)
		}
		if s.Metrics != nil {
			s.Metrics.OrdersExpired.Inc()
		}
		return fmt.Errorf("%w: order %s, tx %s", ErrStaleEvidence, o.OrderNo, txid)
	}

	moved, err := s.Orders.MarkPaid(ctx, o.ID, txid)
	if err != nil {
		return err
	}
	if !moved {
		// Another writer got there first. Re-read and act on its outcome.
		cur, err := s.Orders.GetByID(ctx, o.ID)
		if err != nil {
			return err
		}
		switch cur.Status {
		case orders.StatusCompleted:
			return nil
		case orders.StatusPaid:
			return s.complete(ctx, cur)
		default:
			return fmt.Errorf("%w: order %s, tx %s", ErrStaleEvidence, o.OrderNo, txid)
		}
	}

	if s.Metrics != nil {
		s.Metrics.OrdersPaid.WithLabelValues(string(o.Rail)).Inc()
	}
	if s.Events != nil {
		s.Events.Paid(o, txid)
	}
	if s.Log != nil {
		s.Log.Info("order_paid",
			zap.String("order_no", o.OrderNo),
			zap.String("rail", string(o.Rail)),
			zap.String("txid", txid),
		)
	}

	o.Status = orders.StatusPaid
	return s.complete(ctx, o)
}

// complete delivers and closes a paid order. A delivery failure leaves the
// order paid so a later retry or manual intervention can finish it.
func (s *Settler) complete(ctx context.Context, o orders.Order) error {
	cards, err := s.Delivery.Deliver(ctx, o)
	if err != nil {
		if s.Events != nil {
			s.Events.DeliveryFailed(o, reasonOf(err))
		}
		return err
	}

	moved, err := s.Orders.MarkCompleted(ctx, o.ID)
	if err != nil {
		return err
	}
	if moved {
		if s.Metrics != nil {
			s.Metrics.OrdersCompleted.Inc()
		}
		if s.Events != nil {
			s.Events.Completed(o, len(cards))
		}
		if s.Log != nil {
			s.Log.Info("order_completed",
				zap.String("order_no", o.OrderNo),
				zap.Int("cards", len(cards)),
			)
		}
	}
	return nil
}

// RetryDelivery re-runs delivery for an order stuck in paid.
func (s *Settler) RetryDelivery(ctx context.Context, orderID string) error {
	o, err := s.Orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status != orders.StatusPaid {
		return fmt.Errorf("payment: order %s is %s, nothing to retry", o.OrderNo, o.Status)
	}
	return s.complete(ctx, o)
}

func reasonOf(err error) string {
	var de *delivery.Error
	if errors.As(err, &de) {
		return de.Reason
	}
	return "internal"
}
