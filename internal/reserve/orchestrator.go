// Package reserve runs the per-account reservation workflow for each
// scheduler dispatch: eligibility gate, fresh catalog session, shop
// selection, signed submission, and attempt logging, with failures
// isolated per item and per account.
package reserve

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/moutai-scheduler/internal/domain/reservation"
	"github.com/example/moutai-scheduler/internal/moutai"
	"github.com/example/moutai-scheduler/internal/pace"
	"github.com/example/moutai-scheduler/internal/store"
)

// Client is the slice of the signed remote client the orchestrator uses.
type Client interface {
	CatalogSession(ctx context.Context) (moutai.CatalogSession, error)
	ListShops(ctx context.Context, sessionID, region, itemCode string) ([]reservation.Shop, error)
	SubmitReservation(ctx context.Context, req moutai.SubmitRequest) (moutai.SubmitResult, error)
	RefreshShopMeta(ctx context.Context) error
	RefreshAppVersion(force bool) string
	BeginSideQuest(ctx context.Context, cookie, deviceID string) error
	ClaimSideReward(ctx context.Context, cookie, deviceID, lat, lng string) error
	ClaimParticipationAward(ctx context.Context, cookie, deviceID, lat, lng string) error
}

type Accounts interface {
	DueForMinute(ctx context.Context, minute int) ([]store.Account, error)
	SideQuestEnabled(ctx context.Context) ([]store.Account, error)
}

type Attempts interface {
	Create(ctx context.Context, a store.Attempt) (bool, error)
	Exists(ctx context.Context, accountID int64, itemCode string, day time.Time) (bool, error)
}

type Catalog interface {
	UpsertAll(ctx context.Context, items []store.Item) error
	Get(ctx context.Context, code string) (store.Item, error)
}

type Notifier interface {
	SubmissionComplete(ctx context.Context, userID int64, itemCount int, submittedAt time.Time) error
}

const (
	// Mandatory randomized delay between item submissions for one
	// account; the remote's abuse detection keys on cadence.
	itemDelayMin = 3 * time.Second
	itemDelayMax = 5 * time.Second

	sessionRetries = 2
)

type Orchestrator struct {
	Accounts Accounts
	Attempts Attempts
	Catalog  Catalog
	Client   Client
	Notifier Notifier
	Log      zerolog.Logger

	// Accounts processed concurrently per tick. Item order within one
	// account stays strictly sequential regardless.
	Workers int

	// Injectable for tests; defaults to pace.Jitter.
	sleep func(ctx context.Context, min, max time.Duration) error
}

func (o *Orchestrator) jitter(ctx context.Context, min, max time.Duration) error {
	if o.sleep != nil {
		return o.sleep(ctx, min, max)
	}
	return pace.Jitter(ctx, min, max)
}

// RunMinute executes the reservation window tick: it dispatches exactly
// the accounts whose configured target minute equals now's minute-of-hour.
func (o *Orchestrator) RunMinute(ctx context.Context, now time.Time) error {
	minute := now.Minute()
	accounts, err := o.Accounts.DueForMinute(ctx, minute)
	if err != nil {
		return fmt.Errorf("load accounts for minute %d: %w", minute, err)
	}
	o.Log.Info().Int("minute", minute).Int("accounts", len(accounts)).Msg("reservation tick")
	if len(accounts) == 0 {
		return nil
	}

	workers := o.Workers
	if workers <= 0 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for _, a := range accounts {
		a := a
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			// A failing account never aborts its siblings.
			o.reserveAccount(ctx, a, now)
		}()
	}
	wg.Wait()
	return nil
}

func (o *Orchestrator) reserveAccount(ctx context.Context, a store.Account, now time.Time) {
	log := o.Log.With().Int64("account", a.ID).Str("mobile", maskMobile(a.Mobile)).Logger()

	if !a.Eligible() {
		log.Warn().Str("status", a.Status).Msg("account missing session or location, skipped")
		return
	}
	if a.Config == nil || len(a.Config.ItemCodes) == 0 {
		log.Warn().Msg("account has no configured items, skipped")
		return
	}

	// Session ids rotate; fetch fresh per account, never shared across
	// accounts within a tick.
	var sess moutai.CatalogSession
	err := pace.Retry(ctx, sessionRetries, time.Second, func(ctx context.Context) error {
		var err error
		sess, err = o.Client.CatalogSession(ctx)
		return err
	}, isNetworkError)
	if err != nil {
		log.Error().Err(err).Msg("catalog session unavailable, account skipped")
		return
	}

	submitted := 0
	for i, itemCode := range a.Config.ItemCodes {
		if i > 0 {
			if err := o.jitter(ctx, itemDelayMin, itemDelayMax); err != nil {
				log.Warn().Err(err).Msg("tick cancelled between items")
				return
			}
		}
		if o.reserveItem(ctx, log, a, &sess, itemCode, now) {
			submitted++
		}
	}

	if a.Config.SideQuestEnabled {
		if err := o.Client.ClaimParticipationAward(ctx, a.Cookie, a.DeviceID, a.Lat, a.Lng); err != nil {
			log.Warn().Err(err).Msg("participation award claim failed")
		}
	}

	// One completion notice per account per run, never per item.
	if err := o.Notifier.SubmissionComplete(ctx, a.UserID, len(a.Config.ItemCodes), now); err != nil {
		log.Warn().Err(err).Msg("submission notification failed")
	}
	log.Info().Int("items", len(a.Config.ItemCodes)).Int("submitted", submitted).Msg("account processed")
}

// reserveItem runs one item and reports whether a submission went in.
// Every failure path records a failed attempt and returns; nothing
// escapes to abort the remaining items.
func (o *Orchestrator) reserveItem(ctx context.Context, log zerolog.Logger, a store.Account, sess *moutai.CatalogSession, itemCode string, now time.Time) bool {
	day := reservation.Day(now)
	log = log.With().Str("item", itemCode).Logger()

	exists, err := o.Attempts.Exists(ctx, a.ID, itemCode, day)
	if err != nil {
		log.Error().Err(err).Msg("attempt lookup failed")
		return false
	}
	if exists {
		log.Info().Msg("attempt already recorded today, skipping")
		return false
	}

	shops, err := o.listShops(ctx, a, sess, itemCode)
	if err != nil {
		o.recordFailure(ctx, log, a, itemCode, day, err.Error())
		return false
	}

	lat := parseCoord(a.Lat)
	lng := parseCoord(a.Lng)
	shop, err := reservation.Choose(a.Config.Strategy, shops, itemCode, lat, lng)
	if err != nil {
		// No eligible shops for this item/region today.
		o.recordFailure(ctx, log, a, itemCode, day, "no eligible shops")
		return false
	}

	result, err := o.Client.SubmitReservation(ctx, moutai.SubmitRequest{
		UserID:    a.RemoteUserID,
		Token:     a.Token,
		DeviceID:  a.DeviceID,
		ItemCode:  itemCode,
		ShopID:    shop.ID,
		SessionID: sess.SessionID,
		Lat:       a.Lat,
		Lng:       a.Lng,
	})
	if err != nil {
		o.recordFailure(ctx, log, a, itemCode, day, err.Error())
		return false
	}

	state := reservation.StateFailed
	if result.OK() {
		state = reservation.StateSubmitted
	}
	created, err := o.Attempts.Create(ctx, store.Attempt{
		AccountID:   a.ID,
		ItemCode:    itemCode,
		ItemName:    o.itemName(ctx, itemCode),
		ShopID:      shop.ID,
		ShopName:    shop.Name,
		State:       state,
		Result:      string(result.Raw),
		ReserveDate: day,
	})
	if err != nil {
		log.Error().Err(err).Msg("attempt insert failed")
		return false
	}
	if !created {
		log.Info().Msg("attempt raced with a concurrent submission, kept first")
		return false
	}
	log.Info().Str("shop", shop.ID).Str("state", state).Int("code", result.Code).Msg("reservation submitted")
	return state == reservation.StateSubmitted
}

// listShops refreshes a stale session id once and retries; the refreshed
// id is written back for the remaining items of this account.
func (o *Orchestrator) listShops(ctx context.Context, a store.Account, sess *moutai.CatalogSession, itemCode string) ([]reservation.Shop, error) {
	shops, err := o.Client.ListShops(ctx, sess.SessionID, a.Province, itemCode)
	var expired *moutai.SessionExpiredError
	if !errors.As(err, &expired) {
		return shops, err
	}

	fresh, rerr := o.Client.CatalogSession(ctx)
	if rerr != nil {
		return nil, err
	}
	*sess = fresh
	return o.Client.ListShops(ctx, sess.SessionID, a.Province, itemCode)
}

func (o *Orchestrator) recordFailure(ctx context.Context, log zerolog.Logger, a store.Account, itemCode string, day time.Time, reason string) {
	log.Warn().Str("reason", reason).Msg("item reservation failed")
	if _, err := o.Attempts.Create(ctx, store.Attempt{
		AccountID:   a.ID,
		ItemCode:    itemCode,
		ItemName:    o.itemName(ctx, itemCode),
		State:       reservation.StateFailed,
		Result:      reason,
		ReserveDate: day,
	}); err != nil {
		log.Error().Err(err).Msg("failed attempt insert failed")
	}
}

func (o *Orchestrator) itemName(ctx context.Context, code string) string {
	it, err := o.Catalog.Get(ctx, code)
	if err != nil || it.Title == "" {
		return code
	}
	return it.Title
}

// RefreshCatalog is the early-morning tick: refresh the client version,
// the shop metadata feed, and the item cache. A dead remote leaves the
// cached catalog in place.
func (o *Orchestrator) RefreshCatalog(ctx context.Context) error {
	o.Client.RefreshAppVersion(false)

	if err := o.Client.RefreshShopMeta(ctx); err != nil {
		o.Log.Warn().Err(err).Msg("shop metadata refresh failed")
	}

	sess, err := o.Client.CatalogSession(ctx)
	if err != nil {
		o.Log.Warn().Err(err).Msg("catalog refresh failed, serving cached items")
		return nil
	}

	items := make([]store.Item, 0, len(sess.Items))
	for _, it := range sess.Items {
		price, _ := it.Price.Float64()
		items = append(items, store.Item{
			Code:       it.Code,
			Title:      it.Title,
			Content:    it.Content,
			PictureURL: it.PictureURL,
			Price:      price,
		})
	}
	if err := o.Catalog.UpsertAll(ctx, items); err != nil {
		return fmt.Errorf("cache items: %w", err)
	}
	o.Log.Info().Int("items", len(items)).Msg("catalog refreshed")
	return nil
}

// RunSideQuests is the hourly daytime tick for opted-in accounts. All of
// it is best-effort; a failing account is logged and skipped.
func (o *Orchestrator) RunSideQuests(ctx context.Context) error {
	accounts, err := o.Accounts.SideQuestEnabled(ctx)
	if err != nil {
		return fmt.Errorf("load side-quest accounts: %w", err)
	}
	o.Log.Info().Int("accounts", len(accounts)).Msg("side-quest tick")

	for _, a := range accounts {
		log := o.Log.With().Int64("account", a.ID).Logger()
		if err := o.Client.BeginSideQuest(ctx, a.Cookie, a.DeviceID); err != nil {
			log.Warn().Err(err).Msg("side quest start failed")
			continue
		}
		if err := o.jitter(ctx, 2*time.Second, 3*time.Second); err != nil {
			return nil
		}
		if err := o.Client.ClaimSideReward(ctx, a.Cookie, a.DeviceID, a.Lat, a.Lng); err != nil {
			log.Warn().Err(err).Msg("side reward claim failed")
		}
		if err := o.jitter(ctx, 2*time.Second, 3*time.Second); err != nil {
			return nil
		}
	}
	return nil
}

func isNetworkError(err error) bool {
	var ne *moutai.NetworkError
	return errors.As(err, &ne)
}

func parseCoord(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func maskMobile(m string) string {
	if len(m) < 11 {
		return m
	}
	return m[:3] + "****" + m[len(m)-4:]
}
