package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cardvend/cardvend/internal/delivery"
	"github.com/cardvend/cardvend/internal/inventory"
	"github.com/cardvend/cardvend/internal/orders"
)

type fakeStore struct {
	byID      map[string]*orders.Order
	paidCalls int
}

func (f *fakeStore) GetByID(_ context.Context, id string) (orders.Order, error) {
	o, ok := f.byID[id]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	return *o, nil
}

func (f *fakeStore) MarkPaid(_ context.Context, id, txid string) (bool, error) {
	f.paidCalls++
	o := f.byID[id]
	if o.Status != orders.StatusPending || time.Now().After(o.ExpireAt) {
		return false, nil
	}
	o.Status = orders.StatusPaid
	o.PayTxID = txid
	return true, nil
}

func (f *fakeStore) MarkCompleted(_ context.Context, id string) (bool, error) {
	o := f.byID[id]
	if o.Status != orders.StatusPaid {
		return false, nil
	}
	o.Status = orders.StatusCompleted
	return true, nil
}

func (f *fakeStore) MarkExpired(_ context.Context, id string) (bool, error) {
	o := f.byID[id]
	if o.Status != orders.StatusPending {
		return false, nil
	}
	o.Status = orders.StatusExpired
	return true, nil
}

type fakeDelivery struct {
	cards []inventory.Card
	err   error
	calls int
}

func (f *fakeDelivery) Deliver(_ context.Context, _ orders.Order) ([]inventory.Card, error) {
	f.calls++
	return f.cards, f.err
}

type recordedEvents struct {
	paid, completed, expired, deliveryFailed int
	lastReason                               string
}

func (r *recordedEvents) Paid(orders.Order, string)   { r.paid++ }
func (r *recordedEvents) Completed(orders.Order, int) { r.completed++ }
func (r *recordedEvents) Expired(string)              { r.expired++ }
func (r *recordedEvents) DeliveryFailed(_ orders.Order, reason string) {
	r.deliveryFailed++
	r.lastReason = reason
}

func pendingOrder(id string, ttl time.Duration) *orders.Order {
	now := time.Now().UTC()
	return &orders.Order{
		ID:        id,
		OrderNo:   "ORD-" + id,
		Status:    orders.StatusPending,
		Rail:      orders.RailUSDT,
		CreatedAt: now,
		ExpireAt:  now.Add(ttl),
	}
}

func newSettler(store *fakeStore, del *fakeDelivery, ev *recordedEvents) *Settler {
	return &Settler{Orders: store, Delivery: del, Events: ev}
}

func TestSettleHappyPath(t *testing.T) {
	o := pendingOrder("o1", time.Hour)
	store := &fakeStore{byID: map[string]*orders.Order{"o1": o}}
	del := &fakeDelivery{cards: []inventory.Card{{ID: "c1"}}}
	ev := &recordedEvents{}

	if err := newSettler(store, del, ev).Settle(context.Background(), *o, "tx-1"); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if o.Status != orders.StatusCompleted {
		t.Fatalf("status = %s, want completed", o.Status)
	}
	if o.PayTxID != "tx-1" {
		t.Fatalf("txid = %q", o.PayTxID)
	}
	if ev.paid != 1 || ev.completed != 1 {
		t.Fatalf("events = %+v", ev)
	}
}

func TestSettleStaleEvidenceExpiresOrder(t *testing.T) {
	o := pendingOrder("o1", -time.Minute)
	store := &fakeStore{byID: map[string]*orders.Order{"o1": o}}
	del := &fakeDelivery{}
	ev := &recordedEvents{}

	err := newSettler(store, del, ev).Settle(context.Background(), *o, "tx-late")
	if !errors.Is(err, ErrStaleEvidence) {
		t.Fatalf("err = %v, want ErrStaleEvidence", err)
	}
	if o.Status != orders.StatusExpired {
		t.Fatalf("status = %s, want expired", o.Status)
	}
	if del.calls != 0 {
		t.Fatal("stale evidence must not deliver")
	}
	if ev.expired != 1 {
		t.Fatalf("expired events = %d, want 1", ev.expired)
	}
}

func TestSettleRaceLossFallsThrough(t *testing.T) {
	// The snapshot says pending but another writer already settled it.
	o := pendingOrder("o1", time.Hour)
	snapshot := *o
	o.Status = orders.StatusCompleted
	store := &fakeStore{byID: map[string]*orders.Order{"o1": o}}
	del := &fakeDelivery{}
	ev := &recordedEvents{}

	if err := newSettler(store, del, ev).Settle(context.Background(), snapshot, "tx-dup"); err != nil {
		t.Fatalf("Settle after race loss: %v", err)
	}
	if ev.paid != 0 {
		t.Fatal("race loser must not emit paid")
	}
	if o.PayTxID != "" {
		t.Fatal("race loser must not overwrite payment evidence")
	}
}

func TestSettleAlreadyPaidRetriesDelivery(t *testing.T) {
	o := pendingOrder("o1", time.Hour)
	o.Status = orders.StatusPaid
	store := &fakeStore{byID: map[string]*orders.Order{"o1": o}}
	del := &fakeDelivery{cards: []inventory.Card{{ID: "c1"}}}
	ev := &recordedEvents{}

	if err := newSettler(store, del, ev).Settle(context.Background(), *o, "tx-1"); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if o.Status != orders.StatusCompleted {
		t.Fatalf("status = %s, want completed", o.Status)
	}
	if store.paidCalls != 0 {
		t.Fatal("already-paid order must not be marked paid again")
	}
}

func TestSettleDeliveryFailureKeepsOrderPaid(t *testing.T) {
	o := pendingOrder("o1", time.Hour)
	store := &fakeStore{byID: map[string]*orders.Order{"o1": o}}
	del := &fakeDelivery{err: &delivery.Error{Reason: delivery.ReasonInsufficientStock, Err: inventory.ErrInsufficientStock}}
	ev := &recordedEvents{}

	err := newSettler(store, del, ev).Settle(context.Background(), *o, "tx-1")
	if err == nil {
		t.Fatal("delivery failure must surface")
	}
	if o.Status != orders.StatusPaid {
		t.Fatalf("status = %s, want paid", o.Status)
	}
	if ev.deliveryFailed != 1 || ev.lastReason != delivery.ReasonInsufficientStock {
		t.Fatalf("events = %+v", ev)
	}
}

func TestRetryDelivery(t *testing.T) {
	o := pendingOrder("o1", time.Hour)
	o.Status = orders.StatusPaid
	store := &fakeStore{byID: map[string]*orders.Order{"o1": o}}
	del := &fakeDelivery{cards: []inventory.Card{{ID: "c1"}}}
	ev := &recordedEvents{}

	if err := newSettler(store, del, ev).RetryDelivery(context.Background(), "o1"); err != nil {
		t.Fatalf("RetryDelivery: %v", err)
	}
	if o.Status != orders.StatusCompleted {
		t.Fatalf("status = %s, want completed", o.Status)
	}
}

func TestRetryDeliveryRejectsNonPaid(t *testing.T) {
	o := pendingOrder("o1", time.Hour)
	store := &fakeStore{byID: map[string]*orders.Order{"o1": o}}

	if err := newSettler(store, &fakeDelivery{}, &recordedEvents{}).RetryDelivery(context.Background(), "o1"); err == nil {
		t.Fatal("retry on a pending order must fail")
	}
}

func TestSettleCompletedIsNoop(t *testing.T) {
	o := pendingOrder("o1", time.Hour)
	o.Status = orders.StatusCompleted
	store := &fakeStore{byID: map[string]*orders.Order{"o1": o}}
	del := &fakeDelivery{}

	if err := newSettler(store, del, &recordedEvents{}).Settle(context.Background(), *o, "tx-again"); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if del.calls != 0 {
		t.Fatal("completed order must not redeliver")
	}
}
