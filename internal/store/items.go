package store

import (
	"context"

	"github.com/example/moutai-scheduler/internal/db"
)

type ItemRepo struct{ db *db.DB }

func NewItemRepo(d *db.DB) *ItemRepo { return &ItemRepo{db: d} }

// UpsertAll refreshes the local catalog cache from a remote session.
func (r *ItemRepo) UpsertAll(ctx context.Context, items []Item) error {
	for _, it := range items {
		if err := r.db.Exec(ctx, `
INSERT INTO items(code,title,content,picture_url,price)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (code) DO UPDATE SET
  title=EXCLUDED.title,
  content=EXCLUDED.content,
  picture_url=EXCLUDED.picture_url,
  price=EXCLUDED.price,
  updated_at=now()`,
			it.Code, it.Title, it.Content, it.PictureURL, it.Price); err != nil {
			return err
		}
	}
	return nil
}

// All returns the cached catalog, the fallback when the remote is
// unreachable.
func (r *ItemRepo) All(ctx context.Context) ([]Item, error) {
	rows, err := r.db.Query(ctx, `SELECT code,title,content,picture_url,price,updated_at FROM items ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.Code, &it.Title, &it.Content, &it.PictureURL, &it.Price, &it.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *ItemRepo) Get(ctx context.Context, code string) (Item, error) {
	var it Item
	err := r.db.QueryRow(ctx, `SELECT code,title,content,picture_url,price,updated_at FROM items WHERE code=$1`, code).
		Scan(&it.Code, &it.Title, &it.Content, &it.PictureURL, &it.Price, &it.UpdatedAt)
	if err != nil {
		return Item{}, db.WrapNotFound(err)
	}
	return it, nil
}
