package web

import (
	"net/http"
	"strconv"

	"nuha.dev/tesou/internal/token"
)

type TokenHandler struct {
	authority *token.Authority
}

func NewTokenHandler(authority *token.Authority) *TokenHandler {
	return &TokenHandler{authority: authority}
}

// Get mints a share token for the requested user. The route is reachable
// with the master secret only.
func (h *TokenHandler) Get(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("user_id")
	if raw == "" {
		httpError(w, http.StatusBadRequest, "no user_id in query")
		return
	}
	v, err := strconv.ParseUint(raw, 10, 16)
	if err != nil {
		httpError(w, http.StatusBadRequest, "the user_id must be a number")
		return
	}
	_, _ = w.Write([]byte(h.authority.Issue(uint16(v))))
}
