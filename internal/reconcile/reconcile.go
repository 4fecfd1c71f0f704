// Package reconcile resolves submitted reservation attempts against the
// remote drawing results: winners are promoted and notified once, losers
// are settled silently.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/moutai-scheduler/internal/moutai"
	"github.com/example/moutai-scheduler/internal/store"
)

type Accounts interface {
	AllEnabled(ctx context.Context) ([]store.Account, error)
}

type Attempts interface {
	PromoteWon(ctx context.Context, accountID int64, itemCode string, day time.Time, shopName, result string) (bool, error)
	MarkLost(ctx context.Context, accountID int64, itemCode string, day time.Time, result string) (bool, error)
}

type Client interface {
	QueryOutcomes(ctx context.Context, token, deviceID string) ([]moutai.Outcome, error)
}

type Notifier interface {
	Win(ctx context.Context, userID int64, itemName, shopName string) error
}

type Reconciler struct {
	Accounts Accounts
	Attempts Attempts
	Client   Client
	Notifier Notifier
	Log      zerolog.Logger
}

// Run fetches every enabled account's outcome page and settles the
// matching attempts. Still-pending rows are left untouched so the next
// pass sees them again.
func (r *Reconciler) Run(ctx context.Context) error {
	accounts, err := r.Accounts.AllEnabled(ctx)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	r.Log.Info().Int("accounts", len(accounts)).Msg("reconciliation tick")

	for _, a := range accounts {
		if err := r.reconcileAccount(ctx, a); err != nil {
			r.Log.Error().Err(err).Int64("account", a.ID).Msg("reconciliation failed, account skipped")
		}
	}
	return nil
}

func (r *Reconciler) reconcileAccount(ctx context.Context, a store.Account) error {
	if a.Token == "" {
		return nil
	}
	outcomes, err := r.Client.QueryOutcomes(ctx, a.Token, a.DeviceID)
	if err != nil {
		return fmt.Errorf("query outcomes: %w", err)
	}

	log := r.Log.With().Int64("account", a.ID).Logger()
	for _, o := range outcomes {
		switch o.Status {
		case moutai.OutcomeStatusWon:
			promoted, err := r.Attempts.PromoteWon(ctx, a.ID, o.ItemCode, o.ReserveDate, o.ShopName, string(o.Raw))
			if err != nil {
				log.Error().Err(err).Str("item", o.ItemCode).Msg("win promotion failed")
				continue
			}
			if !promoted {
				// Already settled on a previous pass; the win notice
				// went out then.
				continue
			}
			log.Info().Str("item", o.ItemCode).Str("shop", o.ShopName).Msg("reservation won")
			if err := r.Notifier.Win(ctx, a.UserID, o.ItemName, o.ShopName); err != nil {
				log.Warn().Err(err).Msg("win notification failed")
			}
		case moutai.OutcomeStatusLost:
			if _, err := r.Attempts.MarkLost(ctx, a.ID, o.ItemCode, o.ReserveDate, string(o.Raw)); err != nil {
				log.Error().Err(err).Str("item", o.ItemCode).Msg("loss settlement failed")
			}
		}
	}
	return nil
}
