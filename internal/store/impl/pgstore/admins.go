package pgstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"nuha.dev/cartsync/internal/store"
)

type AdminStore struct {
	db *pgxpool.Pool
}

func NewAdminStore(db *pgxpool.Pool) *AdminStore {
	return &AdminStore{db: db}
}

func (as *AdminStore) FindByUsername(ctx context.Context, username string) (*store.Admin, error) {
	a := &store.Admin{}
	row := as.db.QueryRow(ctx, `SELECT username,password,email FROM admin WHERE username = $1`, username)
	err := row.Scan(&a.Username, &a.Password, &a.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return a, nil
}
