package web

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nuha.dev/tesou/internal/token"
)

// Gate enforces the two credential classes of the API: the master secret
// grants everything, a share token grants read-only access scoped to the
// user id baked into it.
type Gate struct {
	secret      string
	authority   *token.Authority
	strictShare bool
	logger      zerolog.Logger
}

func NewGate(secret string, authority *token.Authority, strictShare bool) *Gate {
	g := &Gate{secret: secret, authority: authority, strictShare: strictShare}
	g.logger = log.With().Str("module", "auth").Logger()
	return g
}

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	return h[len(prefix):], true
}

// expectedUser turns the optional user_id parameter into the id a share
// token must carry. A present but unparseable value collapses to 0, which no
// issued token matches.
func expectedUser(raw string, present bool) *uint16 {
	if !present {
		return nil
	}
	v, err := strconv.ParseUint(raw, 10, 16)
	if err != nil {
		zero := uint16(0)
		return &zero
	}
	id := uint16(v)
	return &id
}

// Require guards the CRUD surface. Share tokens pass GET requests only, and
// only when the user_id parameter (when given) matches the token.
func (g *Gate) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cred, ok := bearer(r)
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if cred == g.secret {
			next.ServeHTTP(w, r)
			return
		}
		if r.Method != http.MethodGet {
			httpError(w, http.StatusForbidden, "share token cannot be use to alter data")
			return
		}
		raw := r.URL.Query().Get("user_id")
		present := r.URL.Query().Has("user_id")
		if !present && g.strictShare {
			httpError(w, http.StatusForbidden, "share token requires a user_id parameter")
			return
		}
		_, valid, reason := g.authority.Validate(cred, expectedUser(raw, present))
		if !valid {
			g.logger.Debug().Str("reason", reason).Msg("rejected share token")
			httpError(w, http.StatusForbidden, reason)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// MasterOnly guards the token issuing endpoint. A share token must never
// mint another share token.
func (g *Gate) MasterOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cred, ok := bearer(r)
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if cred != g.secret {
			httpError(w, http.StatusForbidden, "a share token cannot be used to get a share token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AuthorizeStream implements stream.StreamAuthorizer. Websocket clients
// cannot set headers, so the credential travels in the query string.
func (g *Gate) AuthorizeStream(q url.Values) (bool, string) {
	if !q.Has("token") {
		return false, "could not parse query"
	}
	cred := q.Get("token")
	if cred == g.secret {
		return true, ""
	}
	raw := q.Get("user_id")
	present := q.Has("user_id")
	if !present && g.strictShare {
		return false, "share token requires a user_id parameter"
	}
	_, valid, reason := g.authority.Validate(cred, expectedUser(raw, present))
	if !valid {
		return false, reason
	}
	return true, ""
}

func httpError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}
