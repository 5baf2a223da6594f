package orders

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	kafkax "github.com/cardvend/cardvend/internal/kafka"
)

// Envelope wraps every lifecycle event published to the stream.
type Envelope struct {
	EventID      string          `json:"event_id"`
	EventType    string          `json:"event_type"`
	EventVersion int             `json:"event_version"`
	OccurredAt   time.Time       `json:"occurred_at"`
	Producer     string          `json:"producer"`
	Payload      json.RawMessage `json:"payload"`
}

type CreatedPayload struct {
	OrderID   string `json:"order_id"`
	OrderNo   string `json:"order_no"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Rail      string `json:"rail"`
	Amount    string `json:"amount"`
}

type PaidPayload struct {
	OrderID string `json:"order_id"`
	OrderNo string `json:"order_no"`
	Rail    string `json:"rail"`
	TxID    string `json:"txid"`
}

type CompletedPayload struct {
	OrderID   string `json:"order_id"`
	OrderNo   string `json:"order_no"`
	CardCount int    `json:"card_count"`
}

type ExpiredPayload struct {
	OrderID string `json:"order_id"`
}

type DeliveryFailedPayload struct {
	OrderID string `json:"order_id"`
	OrderNo string `json:"order_no"`
	Reason  string `json:"reason"`
}

// Publisher is satisfied by the kafka producer.
type Publisher interface {
	Publish(topic string, key, value []byte)
}

// Emitter serializes lifecycle events onto the stream. Publishing is
// fire-and-forget; a lost event never blocks settlement.
type Emitter struct {
	Pub     Publisher
	Service string
}

func (e *Emitter) emit(topic, orderID string, payload any) {
	if e == nil || e.Pub == nil {
		return
	}
	env := Envelope{
		EventID:      uuid.NewString(),
		EventType:    topic,
		EventVersion: 1,
		OccurredAt:   time.Now().UTC(),
		Producer:     e.Service,
		Payload:      kafkax.MustMarshal(payload),
	}
	e.Pub.Publish(topic, PartitionKey(orderID), kafkax.MustMarshal(env))
}

func (e *Emitter) Created(o Order) {
	e.emit(TopicOrderCreated, o.ID, CreatedPayload{
		OrderID:   o.ID,
		OrderNo:   o.OrderNo,
		ProductID: o.ProductID,
		Quantity:  o.Quantity,
		Rail:      string(o.Rail),
		Amount:    o.TotalAmount.String(),
	})
}

func (e *Emitter) Paid(o Order, txid string) {
	e.emit(TopicOrderPaid, o.ID, PaidPayload{
		OrderID: o.ID,
		OrderNo: o.OrderNo,
		Rail:    string(o.Rail),
		TxID:    txid,
	})
}

func (e *Emitter) Completed(o Order, cardCount int) {
	e.emit(TopicOrderCompleted, o.ID, CompletedPayload{
		OrderID:   o.ID,
		OrderNo:   o.OrderNo,
		CardCount: cardCount,
	})
}

func (e *Emitter) Expired(orderID string) {
	e.emit(TopicOrderExpired, orderID, ExpiredPayload{OrderID: orderID})
}

func (e *Emitter) DeliveryFailed(o Order, reason string) {
	e.emit(TopicDeliveryFailed, o.ID, DeliveryFailedPayload{
		OrderID: o.ID,
		OrderNo: o.OrderNo,
		Reason:  reason,
	})
}
