package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"nuha.dev/cartsync/internal/fanout"
	"nuha.dev/cartsync/internal/presence"
	"nuha.dev/cartsync/internal/store"
)

type mockBackend struct {
	carts map[string]*store.Cart
}

func (m *mockBackend) FindByCartID(ctx context.Context, cartID string) (*store.Cart, error) {
	c, ok := m.carts[cartID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c, nil
}

func (m *mockBackend) List(ctx context.Context) ([]*store.Cart, error) {
	out := make([]*store.Cart, 0, len(m.carts))
	for _, c := range m.carts {
		out = append(out, c)
	}
	return out, nil
}

func (m *mockBackend) Create(ctx context.Context, c *store.Cart) error { return nil }
func (m *mockBackend) Update(ctx context.Context, c *store.Cart) error { return nil }
func (m *mockBackend) Delete(ctx context.Context, cartID string) error { return nil }
func (m *mockBackend) SavePresence(ctx context.Context, cartID string, online bool, lastSeen time.Time) error {
	return nil
}
func (m *mockBackend) SaveLocation(ctx context.Context, cartID string, loc store.Location, lastSeen time.Time) error {
	return nil
}

type mockLocations struct {
	samples []store.Sample
}

func (m *mockLocations) Append(s store.Sample) {
	m.samples = append(m.samples, s)
}

func (m *mockLocations) History(ctx context.Context, cartID string, q store.HistoryQuery) ([]store.Sample, error) {
	if q.Limit < len(m.samples) {
		return m.samples[:q.Limit], nil
	}
	return m.samples, nil
}

type captureSub struct {
	types []string
}

func (c *captureSub) Push(data []byte) bool {
	var frame struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(data, &frame)
	c.types = append(c.types, frame.Type)
	return false
}

func f(v float64) *float64 { return &v }

func newService(t *testing.T) (*Service, *mockLocations, *captureSub) {
	b := &mockBackend{carts: map[string]*store.Cart{
		"cart001": {CartID: "cart001", Name: "Veggies", Active: true},
	}}
	pres := presence.NewStore(b)
	err := pres.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	hub, err := fanout.NewHub()
	if err != nil {
		t.Fatal(err)
	}
	sub := &captureSub{}
	hub.Subscribe(sub)
	loc := &mockLocations{}
	return New(pres, loc, hub), loc, sub
}

func TestReportFirstTransition(t *testing.T) {
	svc, loc, sub := newService(t)
	got, err := svc.ReportLocation(context.Background(), "cart001", &ReportRequest{Latitude: f(24.812), Longitude: f(93.936)})
	if err != nil {
		t.Fatal(err)
	}
	if got.Latitude != 24.812 || got.Longitude != 93.936 {
		t.Errorf("got %+v", got)
	}
	if len(loc.samples) != 1 {
		t.Fatalf("samples = %d", len(loc.samples))
	}
	// offline cart reporting: one status event then one location event
	want := []string{fanout.EventStatusChanged, fanout.EventLocationUpdate}
	if len(sub.types) != 2 || sub.types[0] != want[0] || sub.types[1] != want[1] {
		t.Errorf("events = %v", sub.types)
	}
}

func TestReportAlreadyOnline(t *testing.T) {
	svc, _, sub := newService(t)
	req := &ReportRequest{Latitude: f(24.812), Longitude: f(93.936)}
	_, err := svc.ReportLocation(context.Background(), "cart001", req)
	if err != nil {
		t.Fatal(err)
	}
	sub.types = nil
	_, err = svc.ReportLocation(context.Background(), "cart001", req)
	if err != nil {
		t.Fatal(err)
	}
	if len(sub.types) != 1 || sub.types[0] != fanout.EventLocationUpdate {
		t.Errorf("events = %v", sub.types)
	}
}

func TestReportInvalid(t *testing.T) {
	svc, loc, sub := newService(t)
	cases := []*ReportRequest{
		{},
		{Latitude: f(24.812)},
		{Longitude: f(93.936)},
		{Latitude: f(math.NaN()), Longitude: f(93.936)},
		{Latitude: f(24.812), Longitude: f(math.Inf(1))},
		{Latitude: f(24.812), Longitude: f(93.936), Accuracy: f(-1)},
	}
	for i, req := range cases {
		_, err := svc.ReportLocation(context.Background(), "cart001", req)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("case %d: got %v", i, err)
		}
	}
	if len(loc.samples) != 0 || len(sub.types) != 0 {
		t.Error("rejected report had side effects")
	}
}

func TestReportUnknownCart(t *testing.T) {
	svc, loc, _ := newService(t)
	_, err := svc.ReportLocation(context.Background(), "nope", &ReportRequest{Latitude: f(1), Longitude: f(2)})
	if !errors.Is(err, presence.ErrUnknownCart) {
		t.Errorf("got %v", err)
	}
	if len(loc.samples) != 0 {
		t.Error("sample stored for unknown cart")
	}
}

func TestHistoryLimitClamp(t *testing.T) {
	svc, loc, _ := newService(t)
	for i := 0; i < 200; i++ {
		loc.samples = append(loc.samples, store.Sample{CartID: "cart001"})
	}
	got, err := svc.History(context.Background(), "cart001", store.HistoryQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 100 {
		t.Errorf("default limit: got %d", len(got))
	}
	got, err = svc.History(context.Background(), "cart001", store.HistoryQuery{Limit: 5000})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 200 {
		t.Errorf("max clamp: got %d", len(got))
	}
}
