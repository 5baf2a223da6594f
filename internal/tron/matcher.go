package tron

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cardvend/cardvend/internal/metrics"
	"github.com/cardvend/cardvend/internal/orders"
)

// pollWindow is how many recent transfers one poll inspects. Large enough
// to cover a busy interval, small enough to stay inside trongrid limits.
const pollWindow = 100

type OrderLister interface {
	ListPendingByRail(ctx context.Context, rail orders.Rail) ([]orders.Order, error)
}

type Settler interface {
	Settle(ctx context.Context, o orders.Order, txid string) error
}

// ConsumedSet is the durable record of transaction ids already applied to an
// order. It survives restarts so one on-chain payment can never settle two
// orders.
type ConsumedSet interface {
	Consumed(ctx context.Context, txid string) (bool, error)
	Consume(ctx context.Context, txid string) error
}

type Matcher struct {
	Chain     *Client
	Orders    OrderLister
	Settle    Settler
	Consumed  ConsumedSet
	Tolerance decimal.Decimal
	Metrics   *metrics.Metrics
	Log       *zap.Logger
}

// PollOnce fetches recent transfers and tries to match each pending USDT
// order to one of them. Matching is first-fit per order; a transfer is
// claimed for at most one order via the consumed set.
func (m *Matcher) PollOnce(ctx context.Context) error {
	pending, err := m.Orders.ListPendingByRail(ctx, orders.RailUSDT)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	transfers, err := m.Chain.RecentTransfers(ctx, pollWindow)
	if err != nil {
		return err
	}

	for _, o := range pending {
		if err := m.matchOrder(ctx, o, transfers); err != nil {
			if m.Log != nil {
				m.Log.Warn("usdt_match_error",
					zap.String("order_no", o.OrderNo),
					zap.Error(err),
				)
			}
		}
	}
	return nil
}

func (m *Matcher) matchOrder(ctx context.Context, o orders.Order, transfers []Transfer) error {
	for _, t := range transfers {
		ok, reason, err := m.candidate(ctx, o, t)
		if err != nil {
			return err
		}
		if !ok {
			if reason != "" && m.Metrics != nil {
				m.Metrics.ReconcileRejections.WithLabelValues(reason).Inc()
			}
			continue
		}

		// Claim the txid before settling so a crash between the two leaves
		// the transfer consumed rather than double-spendable.
		if err := m.Consumed.Consume(ctx, t.TxID); err != nil {
			return err
		}
		return m.Settle.Settle(ctx, o, t.TxID)
	}
	return nil
}

// candidate reports whether a transfer can pay an order. The reason string
// is set only for rejections worth counting: address and time mismatches are
// routine noise and stay silent.
func (m *Matcher) candidate(ctx context.Context, o orders.Order, t Transfer) (bool, string, error) {
	if !strings.EqualFold(t.To, m.Chain.Wallet) {
		return false, "", nil
	}
	if t.At().Before(o.CreatedAt) {
		return false, "", nil
	}

	amount, err := t.Amount()
	if err != nil {
		return false, "bad_value", nil
	}
	if amount.Sub(o.PayAmount).Abs().GreaterThan(m.Tolerance) {
		return false, "amount_mismatch", nil
	}

	used, err := m.Consumed.Consumed(ctx, t.TxID)
	if err != nil {
		return false, "", err
	}
	if used {
		return false, "txid_consumed", nil
	}
	return true, "", nil
}
