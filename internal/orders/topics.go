package orders

const (
	TopicReservations = "cart.reservations"
	TopicOrders       = "cart.orders"
)

// Partition key = reservation or order id, so every event of one entity keeps its order.
func PartitionKey(id string) []byte { return []byte(id) }

// TopicFor routes an event type to its topic.
func TopicFor(eventType string) string {
	switch eventType {
	case EventReservationUpserted, EventReservationReleased:
		return TopicReservations
	default:
		return TopicOrders
	}
}
