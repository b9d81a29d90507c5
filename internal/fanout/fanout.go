package fanout

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mustafaturan/bus/v3"
	"github.com/mustafaturan/monoton/v2"
	"github.com/mustafaturan/monoton/v2/sequencer"
	"github.com/phuslu/log"
	"nuha.dev/cartsync/internal/store"
)

const (
	TopicStatus   = "cart.status"
	TopicLocation = "cart.location"
)

// Wire-level event type tags, shared with the websocket layer.
const (
	EventStatusChanged  = "cart-status-changed"
	EventLocationUpdate = "location-update"
)

// StatusChanged is emitted on every online/offline transition.
type StatusChanged struct {
	CartID   string    `json:"cartId"`
	Name     string    `json:"name"`
	Online   bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}

// LocationUpdate is emitted on every accepted location report.
type LocationUpdate struct {
	CartID    string         `json:"cartId"`
	Name      string         `json:"name"`
	Location  store.Location `json:"location"`
	Timestamp time.Time      `json:"timestamp"`
	Online    bool           `json:"isOnline"`
}

type statusFrame struct {
	Type string `json:"type"`
	StatusChanged
}

type locationFrame struct {
	Type string `json:"type"`
	LocationUpdate
}

// Subscriber receives pre-marshalled event frames. Push must not block;
// it reports true once the subscriber is closed so the hub can prune it.
type Subscriber interface {
	Push(data []byte) (closed bool)
}

// Hub distributes presence and location events to every connected
// observer. Delivery is fire-and-forget: no acknowledgement, no retry,
// no queueing for disconnected observers — a reconnecting observer
// reconciles by requesting a fresh snapshot.
type Hub struct {
	b    *bus.Bus
	mu   sync.Mutex
	subs map[Subscriber]bool
	log  log.Logger
}

func NewHub() (*Hub, error) {
	m, err := monoton.New(sequencer.NewMillisecond(), 1, 0)
	if err != nil {
		return nil, err
	}
	var next bus.Next = m.Next
	b, err := bus.NewBus(next)
	if err != nil {
		return nil, err
	}
	h := &Hub{b: b, subs: make(map[Subscriber]bool)}
	h.log = log.DefaultLogger
	h.log.Context = log.NewContext(nil).Str("module", "fanout").Value()
	b.RegisterTopics(TopicStatus, TopicLocation)
	b.RegisterHandler("fanout-hub", bus.Handler{Matcher: "^cart\\.", Handle: h.handle})
	return h, nil
}

func (h *Hub) Subscribe(sub Subscriber) {
	h.mu.Lock()
	h.subs[sub] = true
	h.mu.Unlock()
}

func (h *Hub) Unsubscribe(sub Subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

// PublishStatus fans out a presence transition. Never returns an error
// to the caller: fanout failure must not affect the triggering mutation.
func (h *Hub) PublishStatus(ctx context.Context, ev StatusChanged) {
	err := h.b.Emit(ctx, TopicStatus, ev)
	if err != nil {
		h.log.Error().Err(err).Str("cart_id", ev.CartID).Msg("status emit failed")
	}
}

func (h *Hub) PublishLocation(ctx context.Context, ev LocationUpdate) {
	err := h.b.Emit(ctx, TopicLocation, ev)
	if err != nil {
		h.log.Error().Err(err).Str("cart_id", ev.CartID).Msg("location emit failed")
	}
}

// RegisterHandler attaches an additional consumer (e.g. the NATS bridge)
// to the underlying bus.
func (h *Hub) RegisterHandler(key string, fn func(ctx context.Context, e bus.Event)) {
	h.b.RegisterHandler(key, bus.Handler{Matcher: "^cart\\.", Handle: fn})
}

func (h *Hub) handle(_ context.Context, e bus.Event) {
	data, err := Marshal(e)
	if err != nil {
		h.log.Error().Err(err).Str("topic", e.Topic).Msg("event marshal failed")
		return
	}
	h.mu.Lock()
	for sub := range h.subs {
		if sub.Push(data) {
			delete(h.subs, sub)
		}
	}
	h.mu.Unlock()
}

// Marshal renders a bus event as its wire frame, marshalled once per
// event regardless of subscriber count.
func Marshal(e bus.Event) ([]byte, error) {
	switch d := e.Data.(type) {
	case StatusChanged:
		return json.Marshal(statusFrame{Type: EventStatusChanged, StatusChanged: d})
	case LocationUpdate:
		return json.Marshal(locationFrame{Type: EventLocationUpdate, LocationUpdate: d})
	default:
		return json.Marshal(d)
	}
}
