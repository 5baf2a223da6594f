package alipay

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cardvend/cardvend/internal/metrics"
	"github.com/cardvend/cardvend/internal/orders"
	"github.com/cardvend/cardvend/internal/redisx"
)

// Trade statuses alipay posts in async notifications.
const (
	TradeSuccess  = "TRADE_SUCCESS"
	TradeFinished = "TRADE_FINISHED"
	TradeClosed   = "TRADE_CLOSED"
)

// Gateway replies expected by alipay. Anything other than AckSuccess makes
// the gateway redeliver the notification.
const (
	AckSuccess = "success"
	AckFail    = "fail"
)

var ErrAmountMismatch = errors.New("alipay: notified amount does not match order")

// Notification is the subset of callback parameters the reconciler acts on,
// plus the raw map needed for signature verification.
type Notification struct {
	OutTradeNo  string
	TradeNo     string
	TradeStatus string
	TotalAmount string
	GmtPayment  string

	Raw map[string]string
}

func ParseNotification(form map[string]string) Notification {
	return Notification{
		OutTradeNo:  form["out_trade_no"],
		TradeNo:     form["trade_no"],
		TradeStatus: form["trade_status"],
		TotalAmount: form["total_amount"],
		GmtPayment:  form["gmt_payment"],
		Raw:         form,
	}
}

type OrderStore interface {
	GetByOrderNo(ctx context.Context, orderNo string) (orders.Order, error)
	MarkCancelled(ctx context.Context, id, reason string) (bool, error)
}

type Settler interface {
	Settle(ctx context.Context, o orders.Order, txid string) error
}

// Reconciler validates alipay notifications and feeds verified evidence into
// settlement. HandleNotification returns the literal body to answer the
// gateway with.
type Reconciler struct {
	PublicKey *rsa.PublicKey
	Orders    OrderStore
	Settle    Settler
	Redis     *redis.Client
	Metrics   *metrics.Metrics
	Log       *zap.Logger
}

// HandleNotification processes one callback delivery. Redeliveries of an
// already-settled trade are acknowledged without side effects. The amount is
// checked against our own order record; the notification's figure is never
// trusted on its own.
func (r *Reconciler) HandleNotification(ctx context.Context, n Notification) string {
	if err := Verify(n.Raw, r.PublicKey); err != nil {
		r.reject("bad_signature", n, err)
		return AckFail
	}

	o, err := r.Orders.GetByOrderNo(ctx, n.OutTradeNo)
	if err != nil {
		r.reject("order_not_found", n, err)
		return AckFail
	}

	switch n.TradeStatus {
	case TradeSuccess, TradeFinished:
		// Cheap short-circuit for gateway redeliveries. Settlement stays
		// idempotent on its own; this just skips the work.
		dkey := fmt.Sprintf(redisx.KeyAlipayDedup, n.OutTradeNo, n.TradeNo)
		if r.Redis != nil {
			if seen, _ := redisx.Exists(ctx, r.Redis, dkey); seen {
				return AckSuccess
			}
		}

		amount, err := decimal.NewFromString(n.TotalAmount)
		if err != nil || !amount.Equal(o.TotalAmount) {
			r.reject("amount_mismatch", n, fmt.Errorf("%w: got %q, want %s",
				ErrAmountMismatch, n.TotalAmount, o.TotalAmount))
			return AckFail
		}
		if err := r.Settle.Settle(ctx, o, n.TradeNo); err != nil {
			r.reject("settle_failed", n, err)
			return AckFail
		}
		if r.Redis != nil {
			_ = r.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()
		}
		return AckSuccess

	case TradeClosed:
		if _, err := r.Orders.MarkCancelled(ctx, o.ID, "alipay trade closed"); err != nil {
			r.reject("cancel_failed", n, err)
			return AckFail
		}
		return AckSuccess

	default:
		// WAIT_BUYER_PAY and friends carry no actionable state.
		return AckSuccess
	}
}

func (r *Reconciler) reject(reason string, n Notification, err error) {
	if r.Metrics != nil {
		r.Metrics.ReconcileRejections.WithLabelValues(reason).Inc()
	}
	if r.Log != nil {
		r.Log.Warn("alipay_notify_rejected",
			zap.String("reason", reason),
			zap.String("out_trade_no", n.OutTradeNo),
			zap.String("trade_no", n.TradeNo),
			zap.Error(err),
		)
	}
}
