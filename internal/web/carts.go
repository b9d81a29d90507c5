package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"nuha.dev/cartsync/internal/presence"
	"nuha.dev/cartsync/internal/store"
	"nuha.dev/cartsync/internal/util"
)

// CartView is a cart row without its credential field.
type CartView struct {
	CartID       string          `json:"cartId"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Active       bool            `json:"isActive"`
	Online       bool            `json:"isOnline"`
	LastSeen     *time.Time      `json:"lastSeen"`
	LastLocation *store.Location `json:"lastLocation"`
}

func viewOf(c *store.Cart) CartView {
	return CartView{CartID: c.CartID, Name: c.Name, Description: c.Description,
		Active: c.Active, Online: c.Online, LastSeen: c.LastSeen, LastLocation: c.Location}
}

func (api *Api) listCarts(w http.ResponseWriter, r *http.Request) {
	util.JsonWrite(w, api.pres.Snapshot())
}

// getCart answers from the presence view so single-cart reads agree
// with the list and the stream. Inactive carts are absent from that
// view; they fall back to the row so admins can still inspect them.
func (api *Api) getCart(w http.ResponseWriter, r *http.Request) {
	cartID := chi.URLParam(r, "cartId")
	st, err := api.pres.Get(cartID)
	if err == nil {
		util.JsonWrite(w, st)
		return
	}
	if errors.Is(err, presence.ErrStoreUnavailable) {
		util.JsonError(w, "Temporarily unavailable", http.StatusServiceUnavailable)
		return
	}
	cart, err := api.carts.FindByCartID(r.Context(), cartID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			util.JsonError(w, "Cart not found", http.StatusNotFound)
		} else {
			api.log.Err(err).Msg("cart lookup failed")
			util.JsonError(w, "Server error", http.StatusInternalServerError)
		}
		return
	}
	util.JsonWrite(w, viewOf(cart))
}

type createCartRequest struct {
	CartID      string `json:"cartId"`
	Password    string `json:"password"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (api *Api) createCart(w http.ResponseWriter, r *http.Request) {
	req := createCartRequest{}
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil || req.CartID == "" || req.Password == "" {
		util.JsonError(w, "Cart ID and password are required", http.StatusBadRequest)
		return
	}
	cart := &store.Cart{CartID: req.CartID, Password: util.CryptPwd(req.Password),
		Name: req.Name, Description: req.Description, Active: true}
	err = api.carts.Create(r.Context(), cart)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			util.JsonError(w, "Cart ID already exists", http.StatusBadRequest)
		} else {
			api.log.Err(err).Msg("cart create failed")
			util.JsonError(w, "Server error", http.StatusInternalServerError)
		}
		return
	}
	_ = api.pres.Refresh(r.Context(), cart.CartID)
	w.WriteHeader(http.StatusCreated)
	util.JsonWrite(w, map[string]interface{}{"message": "Cart created successfully", "cart": viewOf(cart)})
}

type updateCartRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Active      *bool   `json:"isActive"`
	Password    string  `json:"password"`
}

func (api *Api) updateCart(w http.ResponseWriter, r *http.Request) {
	cartID := chi.URLParam(r, "cartId")
	req := updateCartRequest{}
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		util.JsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	cart, err := api.carts.FindByCartID(r.Context(), cartID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			util.JsonError(w, "Cart not found", http.StatusNotFound)
		} else {
			api.log.Err(err).Msg("cart lookup failed")
			util.JsonError(w, "Server error", http.StatusInternalServerError)
		}
		return
	}
	if req.Name != nil {
		cart.Name = *req.Name
	}
	if req.Description != nil {
		cart.Description = *req.Description
	}
	if req.Active != nil {
		cart.Active = *req.Active
	}
	if req.Password != "" {
		cart.Password = util.CryptPwd(req.Password)
	}
	err = api.carts.Update(r.Context(), cart)
	if err != nil {
		api.log.Err(err).Msg("cart update failed")
		util.JsonError(w, "Server error", http.StatusInternalServerError)
		return
	}
	_ = api.pres.Refresh(r.Context(), cartID)
	util.JsonWrite(w, map[string]interface{}{"message": "Cart updated successfully", "cart": viewOf(cart)})
}

func (api *Api) deleteCart(w http.ResponseWriter, r *http.Request) {
	cartID := chi.URLParam(r, "cartId")
	err := api.carts.Delete(r.Context(), cartID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			util.JsonError(w, "Cart not found", http.StatusNotFound)
		} else {
			api.log.Err(err).Msg("cart delete failed")
			util.JsonError(w, "Server error", http.StatusInternalServerError)
		}
		return
	}
	api.pres.Forget(cartID)
	util.JsonWrite(w, map[string]string{"message": "Cart deleted successfully"})
}
