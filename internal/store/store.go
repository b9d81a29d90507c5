package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")
var ErrDuplicate = errors.New("already exists")

// Location is the last known position of a cart.
type Location struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  *float64  `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

// Sample is one accepted location report. Append-only, never mutated.
type Sample struct {
	CartID    string    `json:"cartId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  *float64  `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

type Cart struct {
	CartID      string
	Password    string
	Name        string
	Description string
	Active      bool
	Online      bool
	LastSeen    *time.Time
	Location    *Location
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type CartStore interface {
	FindByCartID(ctx context.Context, cartID string) (*Cart, error)
	List(ctx context.Context) ([]*Cart, error)
	Create(ctx context.Context, c *Cart) error
	Update(ctx context.Context, c *Cart) error
	Delete(ctx context.Context, cartID string) error

	// SavePresence and SaveLocation mirror the in-memory presence
	// authority into the cart row. Atomic per cart id.
	SavePresence(ctx context.Context, cartID string, online bool, lastSeen time.Time) error
	SaveLocation(ctx context.Context, cartID string, loc Location, lastSeen time.Time) error
}

type HistoryQuery struct {
	Limit int
	Start *time.Time
	End   *time.Time
}

type LocationStore interface {
	// Append enqueues the sample for batched insertion. Never blocks on
	// the database.
	Append(s Sample)
	History(ctx context.Context, cartID string, q HistoryQuery) ([]Sample, error)
}

type Admin struct {
	Username string
	Password string
	Email    string
}

type AdminStore interface {
	FindByUsername(ctx context.Context, username string) (*Admin, error)
}

type Session struct {
	Token      string
	Role       string
	CartID     string
	Username   string
	ValidUntil time.Time
}

type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Resolve(ctx context.Context, token string) (*Session, error)
}
