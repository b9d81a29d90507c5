package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nuha.dev/cartsync/internal/fanout"
	"nuha.dev/cartsync/internal/ingest"
	"nuha.dev/cartsync/internal/presence"
	"nuha.dev/cartsync/internal/store"
	"nuha.dev/cartsync/internal/util"
	"nuha.dev/cartsync/internal/web/login"
)

type mockCarts struct {
	carts map[string]*store.Cart
}

func (m *mockCarts) FindByCartID(ctx context.Context, cartID string) (*store.Cart, error) {
	c, ok := m.carts[cartID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c, nil
}

func (m *mockCarts) List(ctx context.Context) ([]*store.Cart, error) {
	out := make([]*store.Cart, 0, len(m.carts))
	for _, c := range m.carts {
		out = append(out, c)
	}
	return out, nil
}

func (m *mockCarts) Create(ctx context.Context, c *store.Cart) error {
	if _, ok := m.carts[c.CartID]; ok {
		return store.ErrDuplicate
	}
	m.carts[c.CartID] = c
	return nil
}

func (m *mockCarts) Update(ctx context.Context, c *store.Cart) error {
	m.carts[c.CartID] = c
	return nil
}

func (m *mockCarts) Delete(ctx context.Context, cartID string) error {
	if _, ok := m.carts[cartID]; !ok {
		return store.ErrNotFound
	}
	delete(m.carts, cartID)
	return nil
}

func (m *mockCarts) SavePresence(ctx context.Context, cartID string, online bool, lastSeen time.Time) error {
	return nil
}

func (m *mockCarts) SaveLocation(ctx context.Context, cartID string, loc store.Location, lastSeen time.Time) error {
	return nil
}

type mockAdmins struct{}

func (m *mockAdmins) FindByUsername(ctx context.Context, username string) (*store.Admin, error) {
	return nil, store.ErrNotFound
}

type mockSessions struct {
	sessions map[string]*store.Session
}

func (m *mockSessions) Create(ctx context.Context, s *store.Session) error {
	m.sessions[s.Token] = s
	return nil
}

func (m *mockSessions) Resolve(ctx context.Context, token string) (*store.Session, error) {
	s, ok := m.sessions[token]
	if !ok || s.ValidUntil.Before(time.Now()) {
		return nil, store.ErrNotFound
	}
	return s, nil
}

type mockLocations struct{}

func (m *mockLocations) Append(s store.Sample) {}
func (m *mockLocations) History(ctx context.Context, cartID string, q store.HistoryQuery) ([]store.Sample, error) {
	return nil, nil
}

func testApi(t *testing.T) (*Api, *mockSessions) {
	carts := &mockCarts{carts: map[string]*store.Cart{
		"cart001": {CartID: "cart001", Name: "Veggies", Active: true, Password: util.CryptPwd("qwerty")},
	}}
	sessions := &mockSessions{sessions: make(map[string]*store.Session)}
	pres := presence.NewStore(carts)
	err := pres.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	hub, err := fanout.NewHub()
	if err != nil {
		t.Fatal(err)
	}
	ing := ingest.New(pres, &mockLocations{}, hub)
	api := NewApi(carts, &mockAdmins{}, sessions, pres, ing, &ApiConfig{ListenAddr: ":0", TokenTTL: time.Hour})
	return api, sessions
}

func (m *mockSessions) grant(role, cartID, username string) string {
	token := "tok-" + role + cartID + username
	m.sessions[token] = &store.Session{Token: token, Role: role, CartID: cartID,
		Username: username, ValidUntil: time.Now().Add(time.Hour)}
	return token
}

func do(api *Api, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	api.r.ServeHTTP(w, req)
	return w
}

func TestNoToken(t *testing.T) {
	api, _ := testApi(t)
	w := do(api, http.MethodPost, "/api/location/update", "", `{"latitude":1,"longitude":2}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("code = %d", w.Code)
	}
}

func TestBadToken(t *testing.T) {
	api, _ := testApi(t)
	w := do(api, http.MethodGet, "/api/carts/cart001", "garbage", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("code = %d", w.Code)
	}
}

func TestAdminRouteNeedsAdmin(t *testing.T) {
	api, sessions := testApi(t)
	token := sessions.grant(login.RoleCart, "cart001", "")
	w := do(api, http.MethodGet, "/api/carts", token, "")
	if w.Code != http.StatusForbidden {
		t.Errorf("code = %d", w.Code)
	}
}

func TestUpdateLocationNeedsCartRole(t *testing.T) {
	api, sessions := testApi(t)
	token := sessions.grant(login.RoleAdmin, "", "admin")
	w := do(api, http.MethodPost, "/api/location/update", token, `{"latitude":1,"longitude":2}`)
	if w.Code != http.StatusForbidden {
		t.Errorf("code = %d", w.Code)
	}
}

func TestUpdateLocationOk(t *testing.T) {
	api, sessions := testApi(t)
	token := sessions.grant(login.RoleCart, "cart001", "")
	w := do(api, http.MethodPost, "/api/location/update", token, `{"latitude":24.812,"longitude":93.936,"accuracy":10}`)
	if w.Code != http.StatusOK {
		t.Errorf("code = %d body = %s", w.Code, w.Body.String())
	}
}

func TestDeactivatedCartLockedOut(t *testing.T) {
	api, sessions := testApi(t)
	token := sessions.grant(login.RoleCart, "cart001", "")
	adminToken := sessions.grant(login.RoleAdmin, "", "admin")

	w := do(api, http.MethodPut, "/api/carts/cart001", adminToken, `{"isActive":false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d body = %s", w.Code, w.Body.String())
	}

	// valid session, but the cart itself is now inactive
	w = do(api, http.MethodPost, "/api/location/update", token, `{"latitude":1,"longitude":2}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("code = %d", w.Code)
	}
}

func TestCartLogin(t *testing.T) {
	api, _ := testApi(t)
	w := do(api, http.MethodPost, "/api/auth/cart/login", "", `{"cartId":"cart001","password":"qwerty"}`)
	if w.Code != http.StatusOK {
		t.Errorf("code = %d body = %s", w.Code, w.Body.String())
	}
	w = do(api, http.MethodPost, "/api/auth/cart/login", "", `{"cartId":"cart001","password":"wrong"}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("code = %d", w.Code)
	}
	w = do(api, http.MethodPost, "/api/auth/cart/login", "", `{"cartId":"cart001"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("code = %d", w.Code)
	}
}

func TestGetCartMatchesPresence(t *testing.T) {
	api, sessions := testApi(t)
	cartToken := sessions.grant(login.RoleCart, "cart001", "")

	// the row in the backend still says offline; presence is authoritative
	w := do(api, http.MethodPost, "/api/location/update", cartToken, `{"latitude":24.812,"longitude":93.936}`)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d body = %s", w.Code, w.Body.String())
	}

	w = do(api, http.MethodGet, "/api/carts/cart001", cartToken, "")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	var got struct {
		Online bool `json:"isOnline"`
	}
	err := json.Unmarshal(w.Body.Bytes(), &got)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Online {
		t.Error("single-cart read disagrees with presence")
	}
}

func TestGetCartInactiveFallsBack(t *testing.T) {
	api, sessions := testApi(t)
	adminToken := sessions.grant(login.RoleAdmin, "", "admin")

	w := do(api, http.MethodPut, "/api/carts/cart001", adminToken, `{"isActive":false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d body = %s", w.Code, w.Body.String())
	}

	// absent from the presence view, still readable from the row
	w = do(api, http.MethodGet, "/api/carts/cart001", adminToken, "")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	var got struct {
		Active bool `json:"isActive"`
	}
	err := json.Unmarshal(w.Body.Bytes(), &got)
	if err != nil {
		t.Fatal(err)
	}
	if got.Active {
		t.Error("deactivated cart reported active")
	}

	w = do(api, http.MethodGet, "/api/carts/nope", adminToken, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("code = %d", w.Code)
	}
}

func TestCreateCartDuplicate(t *testing.T) {
	api, sessions := testApi(t)
	token := sessions.grant(login.RoleAdmin, "", "admin")
	w := do(api, http.MethodPost, "/api/carts", token, `{"cartId":"cart001","password":"x"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("code = %d", w.Code)
	}
	w = do(api, http.MethodPost, "/api/carts", token, `{"cartId":"cart002","password":"x","name":"Cloths"}`)
	if w.Code != http.StatusCreated {
		t.Errorf("code = %d body = %s", w.Code, w.Body.String())
	}
}
