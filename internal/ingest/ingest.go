package ingest

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/phuslu/log"
	"nuha.dev/cartsync/internal/fanout"
	"nuha.dev/cartsync/internal/presence"
	"nuha.dev/cartsync/internal/store"
)

var ErrInvalidInput = errors.New("latitude and longitude are required")

const defaultHistoryLimit = 100
const maxHistoryLimit = 1000

// ReportRequest carries one location report. Coordinates are pointers
// so a missing field is distinguishable from zero.
type ReportRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required"`
	Longitude *float64 `json:"longitude" validate:"required"`
	Accuracy  *float64 `json:"accuracy" validate:"omitempty,gte=0"`
}

// Service is the validated entry point for cart location reports. The
// caller identity must already be resolved to a cart id.
type Service struct {
	pres     *presence.Store
	loc      store.LocationStore
	hub      *fanout.Hub
	validate *validator.Validate
	log      log.Logger
}

func New(pres *presence.Store, loc store.LocationStore, hub *fanout.Hub) *Service {
	s := &Service{pres: pres, loc: loc, hub: hub, validate: validator.New()}
	s.log = log.DefaultLogger
	s.log.Context = log.NewContext(nil).Str("module", "ingest").Value()
	return s
}

// ReportLocation persists the sample, marks the cart online and fans out
// the change. Persistence is the source of truth: broadcast failure
// never rolls anything back. Returns the stored location.
func (s *Service) ReportLocation(ctx context.Context, cartID string, req *ReportRequest) (*store.Location, error) {
	err := s.validate.Struct(req)
	if err != nil {
		return nil, ErrInvalidInput
	}
	if !finite(*req.Latitude) || !finite(*req.Longitude) {
		return nil, ErrInvalidInput
	}

	now := time.Now().UTC()
	sample := store.Sample{CartID: cartID, Latitude: *req.Latitude, Longitude: *req.Longitude, Accuracy: req.Accuracy, Timestamp: now}

	st, wasOffline, err := s.pres.SetLocation(ctx, cartID, sample)
	if err != nil {
		return nil, err
	}
	s.loc.Append(sample)

	if wasOffline {
		s.log.Info().Str("cart_id", cartID).Msg("cart is now active")
		s.hub.PublishStatus(ctx, fanout.StatusChanged{CartID: st.CartID, Name: st.Name, Online: true, LastSeen: st.LastSeen})
	}
	s.hub.PublishLocation(ctx, fanout.LocationUpdate{CartID: st.CartID, Name: st.Name, Location: *st.LastLocation, Timestamp: now, Online: true})

	return st.LastLocation, nil
}

// History is a pass-through to the location store, newest first.
func (s *Service) History(ctx context.Context, cartID string, q store.HistoryQuery) ([]store.Sample, error) {
	if q.Limit <= 0 {
		q.Limit = defaultHistoryLimit
	}
	if q.Limit > maxHistoryLimit {
		q.Limit = maxHistoryLimit
	}
	return s.loc.History(ctx, cartID, q)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
