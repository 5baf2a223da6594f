package orders

// Lifecycle topics consumed by the notification layer.
const (
	TopicOrderCreated   = "order.created"
	TopicOrderPaid      = "order.paid"
	TopicOrderCompleted = "order.completed"
	TopicOrderExpired   = "order.expired"
	TopicDeliveryFailed = "delivery.failed"
)

// PartitionKey keeps all events for one order on one partition so consumers
// see them in lifecycle order.
func PartitionKey(orderID string) []byte {
	return []byte(orderID)
}
