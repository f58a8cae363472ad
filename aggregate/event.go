package aggregate

import "time"

// Event represents an uncommitted domain event
type Event struct {
	ID         string
	E          any
	OccurredOn time.Time
}
