package presence

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/cartsync/internal/store"
)

var ErrUnknownCart = errors.New("cart not found or inactive")
var ErrStoreUnavailable = errors.New("presence backend unavailable")

// State is the externally visible presence of one cart. Credential
// fields never enter this package.
type State struct {
	CartID       string          `json:"cartId"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Active       bool            `json:"isActive"`
	Online       bool            `json:"isOnline"`
	LastSeen     time.Time       `json:"lastSeen"`
	LastLocation *store.Location `json:"lastLocation"`
}

type entry struct {
	mu    sync.Mutex
	state State
}

// Store is the authoritative per-cart online/offline map. The cart rows
// in the database mirror it, they don't drive it: explicit connect,
// disconnect, location reports and the liveness sweep all funnel through
// the per-entry mutation here, so a given online transition is observed
// by exactly one caller.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	backend store.CartStore
	log     log.Logger
}

func NewStore(backend store.CartStore) *Store {
	s := &Store{}
	s.entries = make(map[string]*entry)
	s.backend = backend
	s.log = log.DefaultLogger
	s.log.Context = log.NewContext(nil).Str("module", "presence").Value()
	return s
}

// Load seeds the map from the cart table. Carts that were online when
// the process last stopped stay online until the first sweep demotes
// them.
func (s *Store) Load(ctx context.Context) error {
	carts, err := s.backend.List(ctx)
	if err != nil {
		return ErrStoreUnavailable
	}
	s.mu.Lock()
	for _, c := range carts {
		s.entries[c.CartID] = &entry{state: stateOf(c)}
	}
	s.mu.Unlock()
	s.log.Info().Int("carts", len(carts)).Msg("presence map loaded")
	return nil
}

func stateOf(c *store.Cart) State {
	st := State{CartID: c.CartID, Name: c.Name, Description: c.Description, Active: c.Active, Online: c.Online, LastLocation: c.Location}
	if c.LastSeen != nil {
		st.LastSeen = *c.LastSeen
	}
	return st
}

// lookup returns the entry for a known, active cart. A map miss falls
// back to the cart table so carts created after Load are still found.
func (s *Store) lookup(cartID string) (*entry, error) {
	s.mu.Lock()
	e, ok := s.entries[cartID]
	s.mu.Unlock()
	if !ok {
		c, err := s.backend.FindByCartID(context.Background(), cartID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrUnknownCart
			}
			return nil, ErrStoreUnavailable
		}
		s.mu.Lock()
		e, ok = s.entries[cartID]
		if !ok {
			e = &entry{state: stateOf(c)}
			s.entries[cartID] = e
		}
		s.mu.Unlock()
	}
	e.mu.Lock()
	active := e.state.Active
	e.mu.Unlock()
	if !active {
		return nil, ErrUnknownCart
	}
	return e, nil
}

func (s *Store) Get(cartID string) (State, error) {
	e, err := s.lookup(cartID)
	if err != nil {
		return State{}, err
	}
	e.mu.Lock()
	st := e.state
	e.mu.Unlock()
	return st, nil
}

// SetOnline flips the online flag and stamps lastSeen. The returned bool
// reports whether the flag actually transitioned. The row update happens
// before the in-memory commit so a failed write leaves no half-applied
// state and no phantom transition.
func (s *Store) SetOnline(ctx context.Context, cartID string, online bool, at time.Time) (State, bool, error) {
	e, err := s.lookup(cartID)
	if err != nil {
		return State{}, false, err
	}
	err = s.backend.SavePresence(ctx, cartID, online, at)
	if err != nil {
		s.log.Error().Err(err).Str("cart_id", cartID).Msg("presence write failed")
		return State{}, false, ErrStoreUnavailable
	}
	e.mu.Lock()
	changed := e.state.Online != online
	e.state.Online = online
	e.state.LastSeen = at
	st := e.state
	e.mu.Unlock()
	return st, changed, nil
}

// SetLocation records the sample as the cart's last known location and
// marks it online. The bool reports an offline→online transition.
func (s *Store) SetLocation(ctx context.Context, cartID string, sample store.Sample) (State, bool, error) {
	e, err := s.lookup(cartID)
	if err != nil {
		return State{}, false, err
	}
	loc := store.Location{Latitude: sample.Latitude, Longitude: sample.Longitude, Accuracy: sample.Accuracy, Timestamp: sample.Timestamp}
	err = s.backend.SaveLocation(ctx, cartID, loc, sample.Timestamp)
	if err != nil {
		s.log.Error().Err(err).Str("cart_id", cartID).Msg("location write failed")
		return State{}, false, ErrStoreUnavailable
	}
	e.mu.Lock()
	wasOffline := !e.state.Online
	e.state.Online = true
	e.state.LastSeen = sample.Timestamp
	e.state.LastLocation = &loc
	st := e.state
	e.mu.Unlock()
	return st, wasOffline, nil
}

// Snapshot returns a point-in-time copy of every known cart, ordered by
// cart id.
func (s *Store) Snapshot() []State {
	s.mu.Lock()
	list := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		list = append(list, e)
	}
	s.mu.Unlock()
	out := make([]State, 0, len(list))
	for _, e := range list {
		e.mu.Lock()
		out = append(out, e.state)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CartID < out[j].CartID })
	return out
}

// Sweep demotes every online cart whose lastSeen is older than cutoff
// and returns the demoted states. Each demotion is independently atomic;
// row writes are best-effort and retried implicitly by later updates.
func (s *Store) Sweep(ctx context.Context, cutoff time.Time) []State {
	s.mu.Lock()
	list := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		list = append(list, e)
	}
	s.mu.Unlock()

	var demoted []State
	for _, e := range list {
		e.mu.Lock()
		stale := e.state.Online && e.state.LastSeen.Before(cutoff)
		if stale {
			e.state.Online = false
			demoted = append(demoted, e.state)
		}
		e.mu.Unlock()
	}
	for _, st := range demoted {
		err := s.backend.SavePresence(ctx, st.CartID, false, st.LastSeen)
		if err != nil {
			s.log.Error().Err(err).Str("cart_id", st.CartID).Msg("presence write failed during sweep")
		}
	}
	return demoted
}

// Refresh re-reads one cart row, picking up CRUD changes to name,
// description or the active flag.
func (s *Store) Refresh(ctx context.Context, cartID string) error {
	c, err := s.backend.FindByCartID(ctx, cartID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.Forget(cartID)
			return ErrUnknownCart
		}
		return ErrStoreUnavailable
	}
	s.mu.Lock()
	e, ok := s.entries[cartID]
	if !ok {
		s.entries[cartID] = &entry{state: stateOf(c)}
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	e.mu.Lock()
	e.state.Name = c.Name
	e.state.Description = c.Description
	e.state.Active = c.Active
	e.mu.Unlock()
	return nil
}

func (s *Store) Forget(cartID string) {
	s.mu.Lock()
	delete(s.entries, cartID)
	s.mu.Unlock()
}
