package store

import (
	"context"
	"time"

	"github.com/example/moutai-scheduler/internal/db"
)

type AttemptRepo struct{ db *db.DB }

func NewAttemptRepo(d *db.DB) *AttemptRepo { return &AttemptRepo{db: d} }

// Create inserts the attempt if none exists for (account, item, day) and
// reports whether the row was written. The insert is idempotent by the
// unique constraint, so concurrent duplicate submissions race safely.
func (r *AttemptRepo) Create(ctx context.Context, a Attempt) (bool, error) {
	n, err := r.db.ExecRows(ctx, `
INSERT INTO attempts(account_id,item_code,item_name,shop_id,shop_name,state,result,reserve_date)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (account_id,item_code,reserve_date) DO NOTHING`,
		a.AccountID, a.ItemCode, a.ItemName, a.ShopID, a.ShopName, a.State, a.Result, a.ReserveDate)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Exists reports whether an attempt already exists for the pairing, so a
// second dispatch in the same day skips re-submission.
func (r *AttemptRepo) Exists(ctx context.Context, accountID int64, itemCode string, day time.Time) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx, `
SELECT EXISTS(SELECT 1 FROM attempts WHERE account_id=$1 AND item_code=$2 AND reserve_date=$3)`,
		accountID, itemCode, day).Scan(&ok)
	return ok, err
}

// PromoteWon moves a submitted attempt to won and records the settlement
// payload. The state predicate makes the transition one-way: a second pass
// with the same outcome touches zero rows, which is the dedupe guard for
// win notifications.
func (r *AttemptRepo) PromoteWon(ctx context.Context, accountID int64, itemCode string, day time.Time, shopName, result string) (bool, error) {
	n, err := r.db.ExecRows(ctx, `
UPDATE attempts SET state='won', result=$4,
  shop_name=CASE WHEN $5 <> '' THEN $5 ELSE shop_name END,
  updated_at=now()
WHERE account_id=$1 AND item_code=$2 AND reserve_date=$3 AND state='submitted'`,
		accountID, itemCode, day, result, shopName)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkLost closes a submitted attempt that definitively did not win.
func (r *AttemptRepo) MarkLost(ctx context.Context, accountID int64, itemCode string, day time.Time, result string) (bool, error) {
	n, err := r.db.ExecRows(ctx, `
UPDATE attempts SET state='lost', result=$4, updated_at=now()
WHERE account_id=$1 AND item_code=$2 AND reserve_date=$3 AND state='submitted'`,
		accountID, itemCode, day, result)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListByAccount returns recent attempts, newest first.
func (r *AttemptRepo) ListByAccount(ctx context.Context, accountID int64, limit int) ([]Attempt, error) {
	rows, err := r.db.Query(ctx, `
SELECT id,account_id,item_code,item_name,shop_id,shop_name,state,result,reserve_date,created_at
FROM attempts
WHERE account_id=$1
ORDER BY created_at DESC
LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(&a.ID, &a.AccountID, &a.ItemCode, &a.ItemName, &a.ShopID, &a.ShopName,
			&a.State, &a.Result, &a.ReserveDate, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
