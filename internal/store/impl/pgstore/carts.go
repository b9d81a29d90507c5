package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/phuslu/log"
	"nuha.dev/cartsync/internal/store"
)

type CartStore struct {
	db  *pgxpool.Pool
	log log.Logger
}

func NewCartStore(db *pgxpool.Pool) *CartStore {
	c := &CartStore{db: db}
	c.log = log.DefaultLogger
	c.log.Context = log.NewContext(nil).Str("module", "pgstore").Value()
	return c
}

const cartColumns = `cart_id,password,name,description,is_active,is_online,
last_latitude,last_longitude,last_accuracy,last_location_at,last_seen,created_at,updated_at`

func scanCart(row pgx.Row) (*store.Cart, error) {
	c := &store.Cart{}
	var lat, lon, acc *float64
	var locAt *time.Time
	err := row.Scan(&c.CartID, &c.Password, &c.Name, &c.Description, &c.Active, &c.Online,
		&lat, &lon, &acc, &locAt, &c.LastSeen, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lat != nil && lon != nil && locAt != nil {
		c.Location = &store.Location{Latitude: *lat, Longitude: *lon, Accuracy: acc, Timestamp: *locAt}
	}
	return c, nil
}

func (cs *CartStore) FindByCartID(ctx context.Context, cartID string) (*store.Cart, error) {
	row := cs.db.QueryRow(ctx, `SELECT `+cartColumns+` FROM cart WHERE cart_id = $1`, cartID)
	c, err := scanCart(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

func (cs *CartStore) List(ctx context.Context) ([]*store.Cart, error) {
	rows, err := cs.db.Query(ctx, `SELECT `+cartColumns+` FROM cart ORDER BY cart_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	carts := make([]*store.Cart, 0)
	for rows.Next() {
		c, err := scanCart(rows)
		if err != nil {
			return nil, err
		}
		carts = append(carts, c)
	}
	return carts, rows.Err()
}

func (cs *CartStore) Create(ctx context.Context, c *store.Cart) error {
	sqlStmt := `INSERT INTO cart (cart_id,password,name,description,is_active,created_at,updated_at)
	VALUES ($1,$2,$3,$4,$5,now(),now())`
	_, err := cs.db.Exec(ctx, sqlStmt, c.CartID, c.Password, c.Name, c.Description, c.Active)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			cs.log.Warn().Str("cart_id", c.CartID).Msg("trying to create cart with existing cart_id")
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (cs *CartStore) Update(ctx context.Context, c *store.Cart) error {
	sqlStmt := `UPDATE cart SET name = $2, description = $3, is_active = $4, password = $5, updated_at = now()
	WHERE cart_id = $1`
	ct, err := cs.db.Exec(ctx, sqlStmt, c.CartID, c.Name, c.Description, c.Active, c.Password)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (cs *CartStore) Delete(ctx context.Context, cartID string) error {
	tx, err := cs.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	_, err = tx.Exec(ctx, `DELETE FROM location_history WHERE cart_id = $1`, cartID)
	if err != nil {
		return err
	}
	ct, err := tx.Exec(ctx, `DELETE FROM cart WHERE cart_id = $1`, cartID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return tx.Commit(ctx)
}

func (cs *CartStore) SavePresence(ctx context.Context, cartID string, online bool, lastSeen time.Time) error {
	sqlStmt := `UPDATE cart SET is_online = $2, last_seen = $3, updated_at = now() WHERE cart_id = $1`
	ct, err := cs.db.Exec(ctx, sqlStmt, cartID, online, lastSeen)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (cs *CartStore) SaveLocation(ctx context.Context, cartID string, loc store.Location, lastSeen time.Time) error {
	sqlStmt := `UPDATE cart SET last_latitude = $2, last_longitude = $3, last_accuracy = $4,
	last_location_at = $5, last_seen = $6, is_online = true, updated_at = now() WHERE cart_id = $1`
	ct, err := cs.db.Exec(ctx, sqlStmt, cartID, loc.Latitude, loc.Longitude, loc.Accuracy, loc.Timestamp, lastSeen)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
