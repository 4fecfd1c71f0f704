// Package tokenwatch reminds operators to re-authenticate accounts whose
// remote session token is about to lapse.
package tokenwatch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/moutai-scheduler/internal/store"
)

// Horizon is how far ahead of expiry the reminder fires. Remote tokens
// live roughly 30 days; three days leaves room to re-run the SMS login.
const Horizon = 3 * 24 * time.Hour

type Accounts interface {
	ExpiringWithin(ctx context.Context, now time.Time, horizon time.Duration) ([]store.Account, error)
	MarkExpiryReminded(ctx context.Context, accountID int64, expiry time.Time) error
}

type Notifier interface {
	ExpiryReminder(ctx context.Context, userID int64, mobile string, expiresAt time.Time) error
}

type Monitor struct {
	Accounts Accounts
	Notifier Notifier
	Log      zerolog.Logger

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// Run reminds each account entering the expiry horizon exactly once per
// token. The reminder marker is cleared by the next successful login, so
// a re-authenticated account becomes remindable again.
func (m *Monitor) Run(ctx context.Context) error {
	now := time.Now()
	if m.Now != nil {
		now = m.Now()
	}

	accounts, err := m.Accounts.ExpiringWithin(ctx, now, Horizon)
	if err != nil {
		return fmt.Errorf("load expiring accounts: %w", err)
	}
	m.Log.Info().Int("accounts", len(accounts)).Msg("token expiry sweep")

	for _, a := range accounts {
		if a.TokenExpiresAt == nil {
			continue
		}
		log := m.Log.With().Int64("account", a.ID).Time("expires_at", *a.TokenExpiresAt).Logger()
		if err := m.Notifier.ExpiryReminder(ctx, a.UserID, a.Mobile, *a.TokenExpiresAt); err != nil {
			// Not marked; the next sweep retries.
			log.Warn().Err(err).Msg("expiry reminder failed")
			continue
		}
		if err := m.Accounts.MarkExpiryReminded(ctx, a.ID, *a.TokenExpiresAt); err != nil {
			log.Error().Err(err).Msg("reminder marker write failed")
			continue
		}
		log.Info().Msg("expiry reminder sent")
	}
	return nil
}
