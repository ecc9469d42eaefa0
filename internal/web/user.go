package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nuha.dev/tesou/internal/store"
	"nuha.dev/tesou/internal/util"
)

type UserHandler struct {
	store    *store.Store
	state    *TrackerState
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewUserHandler(st *store.Store, state *TrackerState, validate *validator.Validate) *UserHandler {
	h := &UserHandler{store: st, state: state, validate: validate}
	h.logger = log.With().Str("module", "users").Logger()
	return h
}

func pathId(r *http.Request, name string) (int32, bool) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 32)
	if err != nil {
		return 0, false
	}
	return int32(v), true
}

// writeStoreError maps the store sentinels onto the response codes clients
// rely on. Anything else bubbles up to the recoverer.
func writeStoreError(w http.ResponseWriter, err error) {
	var conflict *store.ConflictError
	if errors.As(err, &conflict) {
		httpError(w, http.StatusConflict, conflict.Error())
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		httpError(w, http.StatusNotFound, "Item not found")
		return
	}
	panic(err)
}

func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	nu := &store.NewUser{}
	if err := json.NewDecoder(r.Body).Decode(nu); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate.Struct(nu); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	nu.Trim()
	u, err := h.store.CreateUser(r.Context(), nu)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	u.SwitchingMode = h.state.SwitchingMode(u.Id)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(u)
}

func (h *UserHandler) Read(w http.ResponseWriter, r *http.Request) {
	id, ok := pathId(r, "oid")
	if !ok {
		httpError(w, http.StatusBadRequest, "the id must be a number")
		return
	}
	u, err := h.store.GetUser(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	u.SwitchingMode = h.state.SwitchingMode(u.Id)
	util.JsonWrite(w, u)
}

func (h *UserHandler) ReadAll(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListUsers(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	for _, u := range list {
		u.SwitchingMode = h.state.SwitchingMode(u.Id)
	}
	util.JsonWrite(w, list)
}

func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathId(r, "oid")
	if !ok {
		httpError(w, http.StatusBadRequest, "the id must be a number")
		return
	}
	nu := &store.NewUser{}
	if err := json.NewDecoder(r.Body).Decode(nu); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate.Struct(nu); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	nu.Trim()
	u, err := h.store.UpdateUser(r.Context(), id, nu)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	u.SwitchingMode = h.state.SwitchingMode(u.Id)
	util.JsonWrite(w, u)
}

func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathId(r, "oid")
	if !ok {
		httpError(w, http.StatusBadRequest, "the id must be a number")
		return
	}
	if err := h.store.DeleteUser(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	_, _ = fmt.Fprintf(w, "Deleted object with id: %d", id)
}

func (h *UserHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteAllUsers(r.Context()); err != nil {
		writeStoreError(w, err)
		return
	}
	_, _ = w.Write([]byte("Deleted all objects"))
}

