package bus

import "time"

// Event represents a domain event published on the bus. Seq is assigned by
// the bus at publish time and is strictly increasing, so consumers can use
// stream order as a tie-break when timestamps collide.
type Event struct {
	Kind      string
	Timestamp time.Time
	Seq       uint64
	Payload   any
}
