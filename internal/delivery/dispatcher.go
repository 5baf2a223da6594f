// Package delivery turns a paid order into cards the buyer can see.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cardvend/cardvend/internal/catalog"
	"github.com/cardvend/cardvend/internal/inventory"
	"github.com/cardvend/cardvend/internal/metrics"
	"github.com/cardvend/cardvend/internal/orders"
	"github.com/cardvend/cardvend/internal/provision"
)

var ErrUnknownKind = errors.New("delivery: product kind has no fulfillment path")

// Failure reasons used as metric labels and event payloads.
const (
	ReasonInsufficientStock = "insufficient_stock"
	ReasonProvisionNetwork  = "provision_network"
	ReasonProvisionPayload  = "provision_payload"
	ReasonProvisionShort    = "provision_short"
	ReasonUnknownKind       = "unknown_kind"
)

type ProductStore interface {
	Get(ctx context.Context, id string) (catalog.Product, error)
}

type CardStore interface {
	Claim(ctx context.Context, orderID, productID string, qty int) ([]inventory.Card, error)
	DeliveredFor(ctx context.Context, orderID string) ([]inventory.Card, error)
	SaveProvisioned(ctx context.Context, orderID, productID, batchID string, codes []inventory.CodePair) ([]inventory.Card, error)
}

type Provisioner interface {
	Fetch(ctx context.Context, ep provision.Endpoint, vars provision.Vars) ([]provision.Code, error)
}

// Error carries the failure reason alongside the cause so callers can label
// metrics without string matching.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string { return fmt.Sprintf("delivery failed (%s): %v", e.Reason, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

type Dispatcher struct {
	Products ProductStore
	Cards    CardStore
	Prov     Provisioner
	Metrics  *metrics.Metrics
	Log      *zap.Logger
}

// Deliver fulfils a paid order. It is idempotent: if cards are already linked
// to the order they are returned as-is and nothing new is claimed or fetched.
func (d *Dispatcher) Deliver(ctx context.Context, o orders.Order) ([]inventory.Card, error) {
	existing, err := d.Cards.DeliveredFor(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}

	p, err := d.Products.Get(ctx, o.ProductID)
	if err != nil {
		return nil, err
	}

	switch p.Kind {
	case catalog.KindCard:
		cards, err := d.Cards.Claim(ctx, o.ID, o.ProductID, o.Quantity)
		if errors.Is(err, inventory.ErrInsufficientStock) {
			return nil, d.fail(o, ReasonInsufficientStock, err)
		}
		if err != nil {
			return nil, err
		}
		return cards, nil

	case catalog.KindPost:
		return d.deliverPost(ctx, o, p)

	default:
		return nil, d.fail(o, ReasonUnknownKind, fmt.Errorf("%w: %q", ErrUnknownKind, p.Kind))
	}
}

func (d *Dispatcher) deliverPost(ctx context.Context, o orders.Order, p catalog.Product) ([]inventory.Card, error) {
	ep := provision.Endpoint{
		URL:     p.PostConfig.URL,
		Headers: p.PostConfig.Headers,
		Body:    p.PostConfig.Body,
	}
	vars := provision.Vars{ProductID: o.ProductID, OrderID: o.ID, Quantity: o.Quantity}

	start := time.Now()
	codes, err := d.Prov.Fetch(ctx, ep, vars)
	if d.Metrics != nil {
		d.Metrics.ProvisionDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, d.fail(o, provisionReason(err), err)
	}

	pairs := make([]inventory.CodePair, len(codes))
	for i, c := range codes {
		pairs[i] = inventory.CodePair{Number: c.Number, Password: c.Password}
	}
	return d.Cards.SaveProvisioned(ctx, o.ID, o.ProductID, "api:"+o.OrderNo, pairs)
}

func provisionReason(err error) string {
	switch {
	case errors.Is(err, provision.ErrShortCount):
		return ReasonProvisionShort
	case errors.Is(err, provision.ErrBadPayload):
		return ReasonProvisionPayload
	default:
		return ReasonProvisionNetwork
	}
}

func (d *Dispatcher) fail(o orders.Order, reason string, err error) error {
	if d.Metrics != nil {
		d.Metrics.DeliveryFailures.WithLabelValues(reason).Inc()
	}
	if d.Log != nil {
		d.Log.Warn("delivery_failed",
			zap.String("order_id", o.ID),
			zap.String("order_no", o.OrderNo),
			zap.String("reason", reason),
			zap.Error(err),
		)
	}
	return &Error{Reason: reason, Err: err}
}
