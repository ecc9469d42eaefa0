package web

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"github.com/mustafaturan/bus/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nuha.dev/tesou/internal/geocode"
	"nuha.dev/tesou/internal/store"
	"nuha.dev/tesou/internal/stream"
	"nuha.dev/tesou/internal/token"
)

type ApiConfig struct {
	ListenAddr string
	WebRoot    string
}

type Api struct {
	r      chi.Router
	s      *http.Server
	handle *stream.Handle
	config *ApiConfig
	log    zerolog.Logger
}

func NewApi(st *store.Store, handle *stream.Handle, wsHandler *stream.Handler, gate *Gate,
	authority *token.Authority, geocoder *geocode.Client, b *bus.Bus, clock clockwork.Clock,
	config *ApiConfig) *Api {
	api := &Api{handle: handle, config: config}
	api.log = log.With().Str("module", "api").Logger()
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	validate := validator.New()
	state := NewTrackerState()
	users := NewUserHandler(st, state, validate)
	positions := NewPositionHandler(st, state, geocoder, b, validate, clock)
	sport := NewSportModeHandler(state)
	tokens := NewTokenHandler(authority)

	r.Route("/api/users", func(r chi.Router) {
		r.Use(gate.Require)
		r.Get("/", users.ReadAll)
		r.Post("/", users.Create)
		r.Get("/{oid}", users.Read)
		r.Put("/{oid}", users.Update)
		r.Delete("/", users.DeleteAll)
		r.Delete("/{oid}", users.Delete)
	})
	r.Route("/api/positions", func(r chi.Router) {
		// The websocket endpoint authenticates through the query string,
		// handled by the session handler itself.
		r.Get("/ws", wsHandler.ServeHTTP)
		r.Group(func(r chi.Router) {
			r.Use(gate.Require)
			r.Get("/ws_count", api.wsCount)
			r.Get("/", positions.ReadFilter)
			r.Post("/", positions.Create)
			r.Post("/cid/{uid}", positions.CreateFromCid)
			r.Get("/{oid}", positions.Read)
			r.Put("/{oid}", positions.Update)
			r.Delete("/", positions.DeleteAll)
			r.Delete("/{oid}", positions.Delete)
		})
	})
	r.Route("/api/token", func(r chi.Router) {
		r.Use(gate.MasterOnly)
		r.Get("/", tokens.Get)
	})
	r.Route("/api/sport-mode", func(r chi.Router) {
		r.Use(gate.Require)
		r.Post("/toggle/{user_id}", sport.Toggle)
	})
	if config.WebRoot != "" {
		r.Handle("/*", http.FileServer(http.Dir(config.WebRoot)))
	}

	api.r = r
	s := &http.Server{
		Addr:              api.config.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	api.s = s
	return api
}

func (api *Api) wsCount(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte(strconv.Itoa(api.handle.Count())))
}

func (api *Api) Run() {
	err := api.s.ListenAndServe()
	if err != nil {
		panic(err)
	}
}

// Serve runs the API on an already bound listener, which lets the caller
// wrap it with the proxy protocol decoder.
func (api *Api) Serve(ln net.Listener) {
	err := api.s.Serve(ln)
	if err != nil {
		panic(err)
	}
}
