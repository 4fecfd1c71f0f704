package store

import (
	"context"
	"time"

	"github.com/example/moutai-scheduler/internal/db"
)

type AccountRepo struct{ db *db.DB }

func NewAccountRepo(d *db.DB) *AccountRepo { return &AccountRepo{db: d} }

const accountCols = `a.id,a.user_id,a.mobile,a.remote_user_id,a.token,a.cookie,a.device_id,
a.province,a.city,a.lat,a.lng,a.address,a.token_expires_at,a.reminded_for_expiry,a.status,a.created_at,a.updated_at`

const accountColsBare = `id,user_id,mobile,remote_user_id,token,cookie,device_id,
province,city,lat,lng,address,token_expires_at,reminded_for_expiry,status,created_at,updated_at`

const accountWithConfigCols = accountCols + `,
c.item_codes,c.strategy,c.target_minute,c.randomize_minute,c.side_quest_enabled,c.enabled`

func scanAccount(row db.Row) (Account, error) {
	var a Account
	err := row.Scan(
		&a.ID, &a.UserID, &a.Mobile, &a.RemoteUserID, &a.Token, &a.Cookie, &a.DeviceID,
		&a.Province, &a.City, &a.Lat, &a.Lng, &a.Address,
		&a.TokenExpiresAt, &a.RemindedForExpiry, &a.Status, &a.CreatedAt, &a.UpdatedAt,
	)
	return a, err
}

func scanAccountWithConfig(row db.Row) (Account, error) {
	var a Account
	var codes, strategy string
	cfg := ReservationConfig{}
	err := row.Scan(
		&a.ID, &a.UserID, &a.Mobile, &a.RemoteUserID, &a.Token, &a.Cookie, &a.DeviceID,
		&a.Province, &a.City, &a.Lat, &a.Lng, &a.Address,
		&a.TokenExpiresAt, &a.RemindedForExpiry, &a.Status, &a.CreatedAt, &a.UpdatedAt,
		&codes, &strategy, &cfg.TargetMinute, &cfg.RandomizeMinute, &cfg.SideQuestEnabled, &cfg.Enabled,
	)
	if err != nil {
		return Account{}, err
	}
	cfg.AccountID = a.ID
	cfg.ItemCodes = splitItemCodes(codes)
	cfg.Strategy = strategyFromString(strategy)
	a.Config = &cfg
	return a, nil
}

func (r *AccountRepo) collectWithConfig(ctx context.Context, query string, args ...any) ([]Account, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		a, err := scanAccountWithConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeviceID returns the stable device id for (user, mobile), generating
// nothing: callers mint a new one only when no account row exists yet.
func (r *AccountRepo) DeviceID(ctx context.Context, userID int64, mobile string) (string, error) {
	var id string
	err := r.db.QueryRow(ctx, `SELECT device_id FROM accounts WHERE user_id=$1 AND mobile=$2`, userID, mobile).Scan(&id)
	if err != nil {
		return "", db.WrapNotFound(err)
	}
	return id, nil
}

// LoginUpdate is what a successful remote login writes back.
type LoginUpdate struct {
	RemoteUserID   string
	Token          string
	Cookie         string
	DeviceID       string
	TokenExpiresAt time.Time
}

// UpsertLogin creates or refreshes the account after a login and seeds a
// default reservation config on first creation. A moved expiry also
// re-arms the renewal reminder by clearing its marker.
func (r *AccountRepo) UpsertLogin(ctx context.Context, userID int64, mobile string, up LoginUpdate) (Account, error) {
	row := r.db.QueryRow(ctx, `
INSERT INTO accounts(user_id,mobile,remote_user_id,token,cookie,device_id,token_expires_at,status)
VALUES ($1,$2,$3,$4,$5,$6,$7,'active')
ON CONFLICT (user_id,mobile) DO UPDATE SET
  remote_user_id=EXCLUDED.remote_user_id,
  token=EXCLUDED.token,
  cookie=EXCLUDED.cookie,
  device_id=EXCLUDED.device_id,
  token_expires_at=EXCLUDED.token_expires_at,
  reminded_for_expiry=NULL,
  status='active',
  updated_at=now()
RETURNING `+accountColsBare,
		userID, mobile, up.RemoteUserID, up.Token, up.Cookie, up.DeviceID, up.TokenExpiresAt)

	a, err := scanAccount(row)
	if err != nil {
		return Account{}, db.WrapNotFound(err)
	}

	cfg := DefaultConfig(a.ID)
	if err := r.db.Exec(ctx, `
INSERT INTO reservation_configs(account_id,item_codes,strategy,target_minute,randomize_minute,side_quest_enabled,enabled)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (account_id) DO NOTHING`,
		cfg.AccountID, joinItemCodes(cfg.ItemCodes), string(cfg.Strategy), cfg.TargetMinute,
		cfg.RandomizeMinute, cfg.SideQuestEnabled, cfg.Enabled); err != nil {
		return Account{}, err
	}
	return a, nil
}

// MarkUnauthenticated flags an account whose session the remote rejected.
func (r *AccountRepo) MarkUnauthenticated(ctx context.Context, accountID int64) error {
	return r.db.Exec(ctx, `UPDATE accounts SET status=$2, updated_at=now() WHERE id=$1`,
		accountID, StatusUnauthenticated)
}

func (r *AccountRepo) UpdateLocation(ctx context.Context, accountID int64, province, city, lat, lng, address string) error {
	if province == "" {
		return &ValidationError{Field: "province", Reason: "required"}
	}
	n, err := r.db.ExecRows(ctx, `
UPDATE accounts SET province=$2, city=$3, lat=$4, lng=$5, address=$6, updated_at=now() WHERE id=$1`,
		accountID, province, city, lat, lng, address)
	if err != nil {
		return err
	}
	if n == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *AccountRepo) ListByUser(ctx context.Context, userID int64) ([]Account, error) {
	rows, err := r.db.Query(ctx, `SELECT `+accountColsBare+` FROM accounts WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DueForMinute returns active, enabled accounts whose configured target
// minute equals the tick's current minute-of-hour.
func (r *AccountRepo) DueForMinute(ctx context.Context, minute int) ([]Account, error) {
	return r.collectWithConfig(ctx, `
SELECT `+accountWithConfigCols+`
FROM accounts a
JOIN reservation_configs c ON c.account_id = a.id
WHERE a.status='active' AND a.token <> '' AND c.enabled AND c.target_minute=$1
ORDER BY a.id`, minute)
}

// SideQuestEnabled returns active accounts opted into the bonus activity.
func (r *AccountRepo) SideQuestEnabled(ctx context.Context) ([]Account, error) {
	return r.collectWithConfig(ctx, `
SELECT `+accountWithConfigCols+`
FROM accounts a
JOIN reservation_configs c ON c.account_id = a.id
WHERE a.status='active' AND a.token <> '' AND c.enabled AND c.side_quest_enabled
ORDER BY a.id`)
}

// AllEnabled returns every account eligible for reconciliation.
func (r *AccountRepo) AllEnabled(ctx context.Context) ([]Account, error) {
	return r.collectWithConfig(ctx, `
SELECT `+accountWithConfigCols+`
FROM accounts a
JOIN reservation_configs c ON c.account_id = a.id
WHERE a.status='active' AND a.token <> '' AND c.enabled
ORDER BY a.id`)
}

// ExpiringWithin returns active accounts whose session expires inside the
// horizon and that have not been reminded for this expiry yet.
func (r *AccountRepo) ExpiringWithin(ctx context.Context, now time.Time, horizon time.Duration) ([]Account, error) {
	rows, err := r.db.Query(ctx, `
SELECT `+accountColsBare+`
FROM accounts
WHERE status='active'
  AND token_expires_at IS NOT NULL
  AND token_expires_at <= $1
  AND (reminded_for_expiry IS NULL OR reminded_for_expiry <> token_expires_at)
ORDER BY token_expires_at`, now.Add(horizon))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// MarkExpiryReminded records that the reminder for this exact expiry went
// out, so the sweep stays once-per-horizon-entry.
func (r *AccountRepo) MarkExpiryReminded(ctx context.Context, accountID int64, expiry time.Time) error {
	return r.db.Exec(ctx, `UPDATE accounts SET reminded_for_expiry=$2, updated_at=now() WHERE id=$1`,
		accountID, expiry)
}

func (r *AccountRepo) GetConfig(ctx context.Context, accountID int64) (ReservationConfig, error) {
	var codes, strategy string
	cfg := ReservationConfig{AccountID: accountID}
	err := r.db.QueryRow(ctx, `
SELECT item_codes,strategy,target_minute,randomize_minute,side_quest_enabled,enabled
FROM reservation_configs WHERE account_id=$1`, accountID).
		Scan(&codes, &strategy, &cfg.TargetMinute, &cfg.RandomizeMinute, &cfg.SideQuestEnabled, &cfg.Enabled)
	if err != nil {
		return ReservationConfig{}, db.WrapNotFound(err)
	}
	cfg.ItemCodes = splitItemCodes(codes)
	cfg.Strategy = strategyFromString(strategy)
	return cfg, nil
}

func (r *AccountRepo) UpdateConfig(ctx context.Context, cfg ReservationConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return r.db.Exec(ctx, `
INSERT INTO reservation_configs(account_id,item_codes,strategy,target_minute,randomize_minute,side_quest_enabled,enabled)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (account_id) DO UPDATE SET
  item_codes=EXCLUDED.item_codes,
  strategy=EXCLUDED.strategy,
  target_minute=EXCLUDED.target_minute,
  randomize_minute=EXCLUDED.randomize_minute,
  side_quest_enabled=EXCLUDED.side_quest_enabled,
  enabled=EXCLUDED.enabled,
  updated_at=now()`,
		cfg.AccountID, joinItemCodes(cfg.ItemCodes), string(cfg.Strategy), cfg.TargetMinute,
		cfg.RandomizeMinute, cfg.SideQuestEnabled, cfg.Enabled)
}
