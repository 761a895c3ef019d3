package affinity

// EventType identifies the kind of behavioural event being collected.
type EventType string

const (
	// EventClick records that a user clicked a product.
	EventClick EventType = "click"

	// EventRating records that a user rated a product.
	EventRating EventType = "rating"
)

// CollectionEvent is a single behavioural event sent over the metrics
// channel. Data carries type-specific attributes, e.g. the rating
// value. Events are sent as-is; the client validates nothing beyond
// shape.
type CollectionEvent struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Data      map[string]interface{} `json:"data"`
	ProductID int64                  `json:"productId"`
	UserID    string                 `json:"userId"`
}
