package web

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"nuha.dev/tesou/internal/token"
)

const testSecret = "0101"

func newTestGate(strict bool) (*Gate, *token.Authority) {
	clock := clockwork.NewFakeClockAt(time.Unix(1700000000, 0))
	authority := token.NewAuthority(testSecret, clock)
	return NewGate(testSecret, authority, strict), authority
}

func doGated(g *Gate, method, target, cred string) *httptest.ResponseRecorder {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("passed"))
	})
	req := httptest.NewRequest(method, target, nil)
	if cred != "" {
		req.Header.Set("Authorization", "Bearer "+cred)
	}
	rec := httptest.NewRecorder()
	g.Require(ok).ServeHTTP(rec, req)
	return rec
}

func TestRequireMasterSecret(t *testing.T) {
	g, _ := newTestGate(false)
	rec := doGated(g, "DELETE", "/api/users", testSecret)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestRequireMissingBearer(t *testing.T) {
	g, _ := newTestGate(false)
	rec := doGated(g, "GET", "/api/users", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestRequireShareTokenReadOnly(t *testing.T) {
	g, a := newTestGate(false)
	tok := a.Issue(1)

	rec := doGated(g, "GET", "/api/positions?user_id=1", tok)
	if rec.Code != http.StatusOK {
		t.Errorf("matching user: status = %d", rec.Code)
	}

	rec = doGated(g, "DELETE", "/api/users", tok)
	if rec.Code != http.StatusForbidden {
		t.Errorf("delete: status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if string(body) != "share token cannot be use to alter data" {
		t.Errorf("delete body = %q", body)
	}

	rec = doGated(g, "GET", "/api/positions?user_id=2", tok)
	if rec.Code != http.StatusForbidden {
		t.Errorf("other user: status = %d", rec.Code)
	}
	body, _ = io.ReadAll(rec.Body)
	if string(body) != "user ids don't match" {
		t.Errorf("other user body = %q", body)
	}
}

func TestRequireShareTokenNoUserParam(t *testing.T) {
	g, a := newTestGate(false)
	tok := a.Issue(1)
	// Without a user_id the token scope cannot be checked and the request
	// passes through unfiltered.
	rec := doGated(g, "GET", "/api/users", tok)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}

	strict, sa := newTestGate(true)
	rec = doGated(strict, "GET", "/api/users", sa.Issue(1))
	if rec.Code != http.StatusForbidden {
		t.Errorf("strict: status = %d", rec.Code)
	}
}

func TestRequireGarbledUserParam(t *testing.T) {
	g, a := newTestGate(false)
	// An unparseable user_id collapses to 0, which no token carries.
	rec := doGated(g, "GET", "/api/positions?user_id=abc", a.Issue(1))
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestRequireGarbageToken(t *testing.T) {
	g, _ := newTestGate(false)
	rec := doGated(g, "GET", "/api/users", "!!not-base64!!")
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if string(body) != "could not decode share token as base 64" {
		t.Errorf("body = %q", body)
	}
}

func TestMasterOnly(t *testing.T) {
	g, a := newTestGate(false)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest("GET", "/api/token?user_id=1", nil)
	req.Header.Set("Authorization", "Bearer "+testSecret)
	rec := httptest.NewRecorder()
	g.MasterOnly(ok).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("master: status = %d", rec.Code)
	}

	req = httptest.NewRequest("GET", "/api/token?user_id=1", nil)
	req.Header.Set("Authorization", "Bearer "+a.Issue(1))
	rec = httptest.NewRecorder()
	g.MasterOnly(ok).ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("share: status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if string(body) != "a share token cannot be used to get a share token" {
		t.Errorf("share body = %q", body)
	}
}

func TestAuthorizeStream(t *testing.T) {
	g, a := newTestGate(false)

	if ok, _ := g.AuthorizeStream(url.Values{"token": {testSecret}}); !ok {
		t.Error("master secret rejected")
	}

	tok := a.Issue(3)
	if ok, reason := g.AuthorizeStream(url.Values{"token": {tok}, "user_id": {"3"}}); !ok {
		t.Errorf("matching token rejected: %s", reason)
	}
	ok, reason := g.AuthorizeStream(url.Values{"token": {tok}, "user_id": {"4"}})
	if ok || reason != "user ids don't match" {
		t.Errorf("mismatch: ok=%v reason=%q", ok, reason)
	}
	ok, reason = g.AuthorizeStream(url.Values{"user_id": {"3"}})
	if ok || reason != "could not parse query" {
		t.Errorf("missing token: ok=%v reason=%q", ok, reason)
	}
}
