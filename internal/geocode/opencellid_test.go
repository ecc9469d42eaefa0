package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog/log"
)

func testClient(baseUrl string) *Client {
	return &Client{
		apiKey:  "test-key",
		baseUrl: baseUrl,
		client:  &http.Client{Timeout: time.Second},
		logger:  log.Logger,
	}
}

func TestLocate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("key") != "test-key" || q.Get("mcc") != "208" || q.Get("cellid") != "42" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"lat":48.85,"lon":2.35,"radio":"GSM","samples":7}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	lat, lon, err := c.Locate(context.Background(), &CellId{Mcc: "208", Mnc: "10", Lac: 1, Cid: 42})
	if err != nil {
		t.Fatal(err)
	}
	if lat != 48.85 || lon != 2.35 {
		t.Errorf("got %v,%v", lat, lon)
	}
}

func TestLocateBadBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, _, err := c.Locate(context.Background(), &CellId{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.HasPrefix(err.Error(), "Cell not found in Open Cell ID Database:") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLocateUnreachable(t *testing.T) {
	c := testClient("http://127.0.0.1:1")
	_, _, err := c.Locate(context.Background(), &CellId{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.HasPrefix(err.Error(), "Open Cell ID did not respond:") {
		t.Errorf("unexpected error: %v", err)
	}
}
