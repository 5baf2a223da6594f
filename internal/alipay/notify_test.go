package alipay

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cardvend/cardvend/internal/orders"
)

type fakeOrderStore struct {
	orders    map[string]orders.Order
	cancelled []string
}

func (f *fakeOrderStore) GetByOrderNo(_ context.Context, orderNo string) (orders.Order, error) {
	o, ok := f.orders[orderNo]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	return o, nil
}

func (f *fakeOrderStore) MarkCancelled(_ context.Context, id, _ string) (bool, error) {
	f.cancelled = append(f.cancelled, id)
	return true, nil
}

type fakeSettler struct {
	calls []string
	err   error
}

func (f *fakeSettler) Settle(_ context.Context, o orders.Order, txid string) error {
	f.calls = append(f.calls, o.OrderNo+"/"+txid)
	return f.err
}

func testReconciler(t *testing.T) (*Reconciler, *fakeOrderStore, *fakeSettler, func(map[string]string) Notification) {
	t.Helper()
	key := testKey(t)
	store := &fakeOrderStore{orders: map[string]orders.Order{
		"ORD1": {
			ID:          "id-1",
			OrderNo:     "ORD1",
			Status:      orders.StatusPending,
			TotalAmount: decimal.RequireFromString("29.97"),
			ExpireAt:    time.Now().Add(time.Hour),
		},
	}}
	settle := &fakeSettler{}
	r := &Reconciler{PublicKey: &key.PublicKey, Orders: store, Settle: settle}

	sign := func(params map[string]string) Notification {
		sig, err := Sign(params, key)
		if err != nil {
			t.Fatalf("Sign: %v", err)
		}
		params["sign"] = sig
		params["sign_type"] = "RSA2"
		return ParseNotification(params)
	}
	return r, store, settle, sign
}

func TestHandleNotificationSettles(t *testing.T) {
	r, _, settle, sign := testReconciler(t)
	n := sign(map[string]string{
		"out_trade_no": "ORD1",
		"trade_no":     "tx-1",
		"trade_status": TradeSuccess,
		"total_amount": "29.97",
	})
	if ack := r.HandleNotification(context.Background(), n); ack != AckSuccess {
		t.Fatalf("ack = %q, want success", ack)
	}
	if len(settle.calls) != 1 || settle.calls[0] != "ORD1/tx-1" {
		t.Fatalf("settle calls = %v", settle.calls)
	}
}

func TestHandleNotificationRejectsBadSignature(t *testing.T) {
	r, _, settle, sign := testReconciler(t)
	n := sign(map[string]string{
		"out_trade_no": "ORD1",
		"trade_no":     "tx-1",
		"trade_status": TradeSuccess,
		"total_amount": "29.97",
	})
	n.Raw["total_amount"] = "0.01"
	if ack := r.HandleNotification(context.Background(), n); ack != AckFail {
		t.Fatalf("ack = %q, want fail", ack)
	}
	if len(settle.calls) != 0 {
		t.Fatal("settlement ran on a forged notification")
	}
}

func TestHandleNotificationRejectsAmountMismatch(t *testing.T) {
	r, _, settle, sign := testReconciler(t)
	n := sign(map[string]string{
		"out_trade_no": "ORD1",
		"trade_no":     "tx-1",
		"trade_status": TradeSuccess,
		"total_amount": "19.97",
	})
	if ack := r.HandleNotification(context.Background(), n); ack != AckFail {
		t.Fatalf("ack = %q, want fail", ack)
	}
	if len(settle.calls) != 0 {
		t.Fatal("settlement ran despite amount mismatch")
	}
}

func TestHandleNotificationUnknownOrder(t *testing.T) {
	r, _, _, sign := testReconciler(t)
	n := sign(map[string]string{
		"out_trade_no": "ORD-missing",
		"trade_no":     "tx-1",
		"trade_status": TradeSuccess,
		"total_amount": "29.97",
	})
	if ack := r.HandleNotification(context.Background(), n); ack != AckFail {
		t.Fatalf("ack = %q, want fail", ack)
	}
}

func TestHandleNotificationRedelivery(t *testing.T) {
	// A settled order redelivered by the gateway acks success with no new
	// side effects: settlement itself is idempotent.
	r, _, settle, sign := testReconciler(t)
	n := sign(map[string]string{
		"out_trade_no": "ORD1",
		"trade_no":     "tx-1",
		"trade_status": TradeFinished,
		"total_amount": "29.97",
	})
	for i := 0; i < 2; i++ {
		if ack := r.HandleNotification(context.Background(), n); ack != AckSuccess {
			t.Fatalf("delivery %d: ack = %q, want success", i, ack)
		}
	}
	if len(settle.calls) != 2 {
		t.Fatalf("settle calls = %d, want 2 idempotent calls", len(settle.calls))
	}
}

func TestHandleNotificationTradeClosed(t *testing.T) {
	r, store, settle, sign := testReconciler(t)
	n := sign(map[string]string{
		"out_trade_no": "ORD1",
		"trade_no":     "tx-1",
		"trade_status": TradeClosed,
		"total_amount": "29.97",
	})
	if ack := r.HandleNotification(context.Background(), n); ack != AckSuccess {
		t.Fatalf("ack = %q, want success", ack)
	}
	if len(store.cancelled) != 1 || store.cancelled[0] != "id-1" {
		t.Fatalf("cancelled = %v", store.cancelled)
	}
	if len(settle.calls) != 0 {
		t.Fatal("closed trade must not settle")
	}
}

func TestHandleNotificationIgnoresWaitBuyerPay(t *testing.T) {
	r, store, settle, sign := testReconciler(t)
	n := sign(map[string]string{
		"out_trade_no": "ORD1",
		"trade_no":     "tx-1",
		"trade_status": "WAIT_BUYER_PAY",
		"total_amount": "29.97",
	})
	if ack := r.HandleNotification(context.Background(), n); ack != AckSuccess {
		t.Fatalf("ack = %q, want success", ack)
	}
	if len(settle.calls) != 0 || len(store.cancelled) != 0 {
		t.Fatal("non-actionable status caused side effects")
	}
}
