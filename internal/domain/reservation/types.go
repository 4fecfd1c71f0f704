package reservation

import "time"

// Strategy selects a fulfillment shop from the candidates returned for a
// catalog session.
type Strategy string

const (
	StrategyMaxInventory Strategy = "max-inventory"
	StrategyNearest      Strategy = "nearest"
)

func (s Strategy) Valid() bool {
	return s == StrategyMaxInventory || s == StrategyNearest
}

// Shop is a transient candidate for one catalog session. It is never
// persisted; identity is the remote shop id.
type Shop struct {
	ID       string
	Name     string
	Province string
	City     string

	// Coordinates from the shop resource feed. Zero when the feed had no
	// entry for this shop.
	Lat float64
	Lng float64

	// Inventory per item code for today's session.
	Inventory map[string]int
}

// Attempt states. Pending is the absence of a row.
const (
	StateSubmitted = "submitted"
	StateFailed    = "failed"
	StateWon       = "won"
	StateLost      = "lost"
)

// Day truncates t to its calendar day in t's location. Attempt uniqueness
// is per (account, item, Day).
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
