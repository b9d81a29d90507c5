package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"nuha.dev/cartsync/internal/ingest"
	"nuha.dev/cartsync/internal/presence"
	"nuha.dev/cartsync/internal/store"
	"nuha.dev/cartsync/internal/util"
	"nuha.dev/cartsync/internal/web/login"
)

type ApiConfig struct {
	ListenAddr string
	TokenTTL   time.Duration
}

type Api struct {
	r        chi.Router
	s        *http.Server
	config   *ApiConfig
	pres     *presence.Store
	ing      *ingest.Service
	carts    store.CartStore
	sessions store.SessionStore
	log      zerolog.Logger
}

func NewApi(carts store.CartStore, admins store.AdminStore, sessions store.SessionStore,
	pres *presence.Store, ing *ingest.Service, config *ApiConfig) *Api {

	api := &Api{config: config, pres: pres, ing: ing, carts: carts, sessions: sessions}
	api.log = log.With().Str("module", "api").Logger()

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	lh := login.NewLoginHandler(carts, admins, sessions, config.TokenTTL)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		util.JsonWrite(w, map[string]string{"status": "running"})
	})
	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/cart/login", lh.CartLogin)
		r.Post("/auth/admin/login", lh.AdminLogin)
		r.Group(func(r chi.Router) {
			r.Use(api.authenticate)
			r.Post("/location/update", api.updateLocation)
			r.Get("/location/history/{cartId}", api.locationHistory)
			r.Get("/carts/{cartId}", api.getCart)
			r.Group(func(r chi.Router) {
				r.Use(api.adminOnly)
				r.Get("/carts", api.listCarts)
				r.Post("/carts", api.createCart)
				r.Put("/carts/{cartId}", api.updateCart)
				r.Delete("/carts/{cartId}", api.deleteCart)
			})
		})
	})

	api.r = r
	api.s = &http.Server{
		Addr:           config.ListenAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return api
}

func (api *Api) Run() error {
	api.log.Info().Str("addr", api.config.ListenAddr).Msg("starting api server")
	return api.s.ListenAndServe()
}
