package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"nuha.dev/cartsync/internal/ingest"
	"nuha.dev/cartsync/internal/presence"
	"nuha.dev/cartsync/internal/store"
	"nuha.dev/cartsync/internal/util"
	"nuha.dev/cartsync/internal/web/login"
)

type updateLocationResponse struct {
	Message  string         `json:"message"`
	Location store.Location `json:"location"`
}

func (api *Api) updateLocation(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	if id.Role != login.RoleCart {
		util.JsonError(w, "Only carts can update location", http.StatusForbidden)
		return
	}
	req := ingest.ReportRequest{}
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		util.JsonError(w, "Latitude and longitude are required", http.StatusBadRequest)
		return
	}
	loc, err := api.ing.ReportLocation(r.Context(), id.CartID, &req)
	if err != nil {
		api.writeLocationError(w, err)
		return
	}
	util.JsonWrite(w, updateLocationResponse{Message: "Location updated successfully", Location: *loc})
}

func (api *Api) writeLocationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ingest.ErrInvalidInput):
		util.JsonError(w, "Latitude and longitude are required", http.StatusBadRequest)
	case errors.Is(err, presence.ErrUnknownCart):
		util.JsonError(w, "Cart not found", http.StatusNotFound)
	case errors.Is(err, presence.ErrStoreUnavailable):
		util.JsonError(w, "Temporarily unavailable", http.StatusServiceUnavailable)
	default:
		api.log.Err(err).Msg("update location failed")
		util.JsonError(w, "Server error", http.StatusInternalServerError)
	}
}

func (api *Api) locationHistory(w http.ResponseWriter, r *http.Request) {
	cartID := chi.URLParam(r, "cartId")
	q := store.HistoryQuery{}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			util.JsonError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		q.Limit = n
	}
	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			util.JsonError(w, "Invalid start time", http.StatusBadRequest)
			return
		}
		q.Start = &t
	}
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			util.JsonError(w, "Invalid end time", http.StatusBadRequest)
			return
		}
		q.End = &t
	}
	samples, err := api.ing.History(r.Context(), cartID, q)
	if err != nil {
		api.log.Err(err).Msg("history query failed")
		util.JsonError(w, "Server error", http.StatusInternalServerError)
		return
	}
	util.JsonWrite(w, samples)
}
