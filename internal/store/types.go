package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/example/moutai-scheduler/internal/domain/reservation"
)

// Account lifecycle statuses.
const (
	StatusUnauthenticated = "unauthenticated"
	StatusActive          = "active"
	StatusSuspended       = "suspended"
)

// Account is one managed remote-service identity. Token, cookie, expiry
// and status are written back by the login path and read everywhere else.
type Account struct {
	ID           int64
	UserID       int64
	Mobile       string
	RemoteUserID string
	Token        string
	Cookie       string
	DeviceID     string
	Province     string
	City         string
	Lat          string
	Lng          string
	Address      string

	TokenExpiresAt    *time.Time
	RemindedForExpiry *time.Time
	Status            string

	CreatedAt time.Time
	UpdatedAt time.Time

	// Populated by queries that join the config row.
	Config *ReservationConfig
}

// Eligible reports whether the account can run a reservation: active
// session and a set location.
func (a Account) Eligible() bool {
	return a.Status == StatusActive && a.Token != "" && a.Province != "" && a.Lat != ""
}

const maxItemCodes = 3

// ReservationConfig belongs to exactly one account.
type ReservationConfig struct {
	AccountID        int64
	ItemCodes        []string
	Strategy         reservation.Strategy
	TargetMinute     int
	RandomizeMinute  bool
	SideQuestEnabled bool
	Enabled          bool
}

func DefaultConfig(accountID int64) ReservationConfig {
	return ReservationConfig{
		AccountID:        accountID,
		ItemCodes:        []string{"2478"},
		Strategy:         reservation.StrategyMaxInventory,
		TargetMinute:     9,
		SideQuestEnabled: true,
		Enabled:          true,
	}
}

// ValidationError is malformed input caught at the store boundary, before
// any remote call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (c ReservationConfig) Validate() error {
	if len(c.ItemCodes) == 0 {
		return &ValidationError{Field: "item_codes", Reason: "at least one item code required"}
	}
	if len(c.ItemCodes) > maxItemCodes {
		return &ValidationError{Field: "item_codes", Reason: fmt.Sprintf("at most %d item codes", maxItemCodes)}
	}
	for _, code := range c.ItemCodes {
		if strings.TrimSpace(code) == "" {
			return &ValidationError{Field: "item_codes", Reason: "empty item code"}
		}
	}
	if c.TargetMinute < 0 || c.TargetMinute > 59 {
		return &ValidationError{Field: "target_minute", Reason: "must be in [0,59]"}
	}
	if !c.Strategy.Valid() {
		return &ValidationError{Field: "strategy", Reason: fmt.Sprintf("unknown strategy %q", c.Strategy)}
	}
	return nil
}

func strategyFromString(s string) reservation.Strategy {
	st := reservation.Strategy(s)
	if !st.Valid() {
		return reservation.StrategyMaxInventory
	}
	return st
}

// Item codes are stored '@'-joined, matching the remote's own list form.
const itemCodeSep = "@"

func joinItemCodes(codes []string) string {
	var cleaned []string
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		cleaned = append(cleaned, c)
	}
	return strings.Join(cleaned, itemCodeSep)
}

func splitItemCodes(s string) []string {
	var out []string
	for _, c := range strings.Split(s, itemCodeSep) {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Item is a cached catalog entry, refreshed daily and served as fallback
// when the remote catalog is unreachable.
type Item struct {
	Code       string
	Title      string
	Content    string
	PictureURL string
	Price      float64
	UpdatedAt  time.Time
}

// Attempt is one logged reservation outcome for (account, item, day).
type Attempt struct {
	ID          int64
	AccountID   int64
	ItemCode    string
	ItemName    string
	ShopID      string
	ShopName    string
	State       string
	Result      string
	ReserveDate time.Time
	CreatedAt   time.Time
}
