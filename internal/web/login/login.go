package login

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"hash/crc32"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"nuha.dev/cartsync/internal/store"
	"nuha.dev/cartsync/internal/util"
)

const (
	RoleCart  = "cart"
	RoleAdmin = "admin"
)

var errInvalidCredentials = errors.New("invalid credentials")
var errCartInactive = errors.New("cart is inactive")

type LoginHandler struct {
	carts    store.CartStore
	admins   store.AdminStore
	sessions store.SessionStore
	tokenTTL time.Duration
	*validator.Validate
	logger zerolog.Logger
}

func NewLoginHandler(carts store.CartStore, admins store.AdminStore, sessions store.SessionStore, tokenTTL time.Duration) *LoginHandler {
	l := &LoginHandler{carts: carts, admins: admins, sessions: sessions, tokenTTL: tokenTTL, Validate: validator.New()}
	l.logger = log.With().Str("module", "login").Logger()
	return l
}

type CartLoginRequest struct {
	CartID   string `json:"cartId" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type CartInfo struct {
	CartID      string `json:"cartId"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type CartLoginResponse struct {
	Token string   `json:"token"`
	Cart  CartInfo `json:"cart"`
}

type AdminLoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type AdminInfo struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

type AdminLoginResponse struct {
	Token string    `json:"token"`
	Admin AdminInfo `json:"admin"`
}

func (l *LoginHandler) cartLogin(ctx context.Context, req *CartLoginRequest) (*CartLoginResponse, error) {
	cart, err := l.carts.FindByCartID(ctx, req.CartID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errInvalidCredentials
		}
		return nil, err
	}
	if !cart.Active {
		return nil, errCartInactive
	}
	err = bcrypt.CompareHashAndPassword([]byte(cart.Password), []byte(req.Password))
	if err != nil {
		return nil, errInvalidCredentials
	}
	token, err := l.createSession(ctx, RoleCart, cart.CartID, "")
	if err != nil {
		return nil, err
	}
	return &CartLoginResponse{Token: token, Cart: CartInfo{CartID: cart.CartID, Name: cart.Name, Description: cart.Description}}, nil
}

func (l *LoginHandler) adminLogin(ctx context.Context, req *AdminLoginRequest) (*AdminLoginResponse, error) {
	admin, err := l.admins.FindByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errInvalidCredentials
		}
		return nil, err
	}
	err = bcrypt.CompareHashAndPassword([]byte(admin.Password), []byte(req.Password))
	if err != nil {
		return nil, errInvalidCredentials
	}
	token, err := l.createSession(ctx, RoleAdmin, "", admin.Username)
	if err != nil {
		return nil, err
	}
	return &AdminLoginResponse{Token: token, Admin: AdminInfo{Username: admin.Username, Email: admin.Email}}, nil
}

// createSession issues an opaque bearer token. The crc32 prefix keeps
// tokens of one principal greppable in the session table.
func (l *LoginHandler) createSession(ctx context.Context, role, cartID, username string) (string, error) {
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], crc32.ChecksumIEEE([]byte(role+cartID+username)))
	token := util.GenRandomString(prefix[:], 24)
	err := l.sessions.Create(ctx, &store.Session{Token: token, Role: role, CartID: cartID, Username: username,
		ValidUntil: time.Now().Add(l.tokenTTL)})
	if err != nil {
		return "", err
	}
	return token, nil
}

func (l *LoginHandler) CartLogin(w http.ResponseWriter, r *http.Request) {
	req := CartLoginRequest{}
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		util.JsonError(w, "Cart ID and password are required", http.StatusBadRequest)
		return
	}
	err = l.Validate.Struct(&req)
	if err != nil {
		util.JsonError(w, "Cart ID and password are required", http.StatusBadRequest)
		return
	}
	res, err := l.cartLogin(r.Context(), &req)
	if err != nil {
		l.writeLoginError(w, err)
		return
	}
	util.JsonWrite(w, res)
}

func (l *LoginHandler) AdminLogin(w http.ResponseWriter, r *http.Request) {
	req := AdminLoginRequest{}
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		util.JsonError(w, "Username and password are required", http.StatusBadRequest)
		return
	}
	err = l.Validate.Struct(&req)
	if err != nil {
		util.JsonError(w, "Username and password are required", http.StatusBadRequest)
		return
	}
	res, err := l.adminLogin(r.Context(), &req)
	if err != nil {
		l.writeLoginError(w, err)
		return
	}
	util.JsonWrite(w, res)
}

func (l *LoginHandler) writeLoginError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errInvalidCredentials):
		util.JsonError(w, "Invalid credentials", http.StatusUnauthorized)
	case errors.Is(err, errCartInactive):
		util.JsonError(w, "Cart is inactive", http.StatusUnauthorized)
	default:
		l.logger.Err(err).Msg("login failed")
		util.JsonError(w, "Server error", http.StatusInternalServerError)
	}
}
