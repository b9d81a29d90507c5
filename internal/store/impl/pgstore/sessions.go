package pgstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"nuha.dev/cartsync/internal/store"
	"nuha.dev/cartsync/internal/util"
)

type SessionStore struct {
	db *pgxpool.Pool
}

func NewSessionStore(db *pgxpool.Pool) *SessionStore {
	return &SessionStore{db: db}
}

func (ss *SessionStore) Create(ctx context.Context, s *store.Session) error {
	sqlStmt := `INSERT INTO session (id,token,role,cart_id,username,created_at,valid_until)
	VALUES ($1,$2,$3,$4,$5,now(),$6)`
	_, err := ss.db.Exec(ctx, sqlStmt, util.GenUUID(), s.Token, s.Role, s.CartID, s.Username, s.ValidUntil)
	return err
}

func (ss *SessionStore) Resolve(ctx context.Context, token string) (*store.Session, error) {
	s := &store.Session{Token: token}
	row := ss.db.QueryRow(ctx, `SELECT role,cart_id,username,valid_until FROM session
	WHERE token = $1 AND valid_until > now()`, token)
	err := row.Scan(&s.Role, &s.CartID, &s.Username, &s.ValidUntil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return s, nil
}
