// Package manageapi is the CRUD-over-HTTP management surface for the
// catalog: create, list, fetch, and delete Connection records. It never
// touches proxy_port or any live SSH session — that column belongs to the
// registrar alone.
package manageapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"vhtunnel/internal/catalog"
)

// API wraps a catalog.Store behind a gorilla/mux router.
type API struct {
	store  catalog.Store
	log    zerolog.Logger
	Router *mux.Router
}

// New builds an API serving CRUD routes over store. A non-empty apiHost
// constrains every route to requests addressed to that hostname; other
// hosts fall through to the router's 404.
func New(store catalog.Store, apiHost string, log zerolog.Logger) *API {
	a := &API{
		store: store,
		log:   log.With().Str("component", "manageapi").Logger(),
	}
	root := mux.NewRouter()
	r := root
	if apiHost != "" {
		r = root.Host(apiHost).Subrouter()
	}
	r.HandleFunc("/api/connections", a.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/api/connections", a.handleList).Methods(http.MethodGet)
	r.HandleFunc("/api/connections/{id}", a.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/api/connections/{id}", a.handleDelete).Methods(http.MethodDelete)
	a.Router = root
	return a
}

type createRequest struct {
	Subdomain    string `json:"subdomain"`
	UpstreamPort string `json:"upstream_port"`
}

func (a *API) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Subdomain == "" {
		writeError(w, http.StatusBadRequest, "subdomain is required")
		return
	}

	conn, err := a.store.Insert(r.Context(), catalog.Connection{
		Subdomain:    req.Subdomain,
		UpstreamPort: req.UpstreamPort,
	})
	if errors.Is(err, catalog.ErrDuplicateSubdomain) {
		writeError(w, http.StatusConflict, "subdomain already exists")
		return
	}
	if err != nil {
		a.log.Error().Err(err).Msg("insert failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusCreated, conn)
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	conns, err := a.store.GetAll(r.Context())
	if err != nil {
		a.log.Error().Err(err).Msg("list failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, conns)
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	conn, err := a.store.Get(r.Context(), id)
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		a.log.Error().Err(err).Msg("get failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

func (a *API) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	err := a.store.Delete(r.Context(), id)
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		a.log.Error().Err(err).Msg("delete failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
