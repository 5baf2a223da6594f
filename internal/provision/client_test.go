package provision

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testVars() Vars {
	return Vars{ProductID: "prod-1", OrderID: "order-1", Quantity: 2}
}

func serve(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
}

func TestFetchArrayShape(t *testing.T) {
	srv := serve(t, 200, `[
		{"card_number":"N1","card_password":"P1"},
		{"cardNumber":"N2","cardPassword":"P2"}
	]`)
	defer srv.Close()

	c := NewClient(5 * time.Second)
	codes, err := c.Fetch(context.Background(), Endpoint{URL: srv.URL}, testVars())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	want := []Code{{"N1", "P1"}, {"N2", "P2"}}
	for i, w := range want {
		if codes[i] != w {
			t.Errorf("codes[%d] = %+v, want %+v", i, codes[i], w)
		}
	}
}

func TestFetchWrappedShapes(t *testing.T) {
	for _, key := range []string{"data", "cards"} {
		srv := serve(t, 200, `{"`+key+`":[
			{"number":"N1","password":"P1"},
			{"number":"N2","code":"P2"}
		]}`)
		c := NewClient(5 * time.Second)
		codes, err := c.Fetch(context.Background(), Endpoint{URL: srv.URL}, testVars())
		srv.Close()
		if err != nil {
			t.Fatalf("%s wrapper: %v", key, err)
		}
		if codes[1].Password != "P2" {
			t.Errorf("%s wrapper: code alias not honored: %+v", key, codes[1])
		}
	}
}

func TestFetchSingleObjectShape(t *testing.T) {
	srv := serve(t, 200, `{"card_number":"N1","card_password":"P1"}`)
	defer srv.Close()

	c := NewClient(5 * time.Second)
	vars := testVars()
	vars.Quantity = 1
	codes, err := c.Fetch(context.Background(), Endpoint{URL: srv.URL}, vars)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(codes) != 1 || codes[0].Number != "N1" {
		t.Fatalf("codes = %+v", codes)
	}
}

func TestFetchShortCountFails(t *testing.T) {
	srv := serve(t, 200, `[{"card_number":"N1","card_password":"P1"}]`)
	defer srv.Close()

	c := NewClient(5 * time.Second)
	if _, err := c.Fetch(context.Background(), Endpoint{URL: srv.URL}, testVars()); !errors.Is(err, ErrShortCount) {
		t.Fatalf("err = %v, want ErrShortCount", err)
	}
}

func TestFetchSurplusIsTrimmed(t *testing.T) {
	srv := serve(t, 200, `[
		{"card_number":"N1","card_password":"P1"},
		{"card_number":"N2","card_password":"P2"},
		{"card_number":"N3","card_password":"P3"}
	]`)
	defer srv.Close()

	c := NewClient(5 * time.Second)
	codes, err := c.Fetch(context.Background(), Endpoint{URL: srv.URL}, testVars())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(codes) != 2 {
		t.Fatalf("got %d codes, want exactly 2", len(codes))
	}
}

func TestFetchBadPayload(t *testing.T) {
	for _, body := range []string{`"just a string"`, `{"data":"nope"}`, `[{"foo":"bar"}]`} {
		srv := serve(t, 200, body)
		c := NewClient(5 * time.Second)
		_, err := c.Fetch(context.Background(), Endpoint{URL: srv.URL}, testVars())
		srv.Close()
		if !errors.Is(err, ErrBadPayload) {
			t.Errorf("body %s: err = %v, want ErrBadPayload", body, err)
		}
	}
}

func TestFetchNon2xxFails(t *testing.T) {
	srv := serve(t, 502, `oops`)
	defer srv.Close()

	c := NewClient(5 * time.Second)
	if _, err := c.Fetch(context.Background(), Endpoint{URL: srv.URL}, testVars()); err == nil {
		t.Fatal("502 response did not fail")
	}
}

func TestFetchSubstitutesPlaceholders(t *testing.T) {
	var got struct {
		URL    string
		Header string
		Body   map[string]any
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.URL = r.URL.String()
		got.Header = r.Header.Get("X-Order")
		_ = json.NewDecoder(r.Body).Decode(&got.Body)
		_, _ = io.WriteString(w, `[{"card_number":"N1","card_password":"P1"},{"card_number":"N2","card_password":"P2"}]`)
	}))
	defer srv.Close()

	ep := Endpoint{
		URL:     srv.URL + "/fetch?product={{product_id}}&qty={{quantity}}",
		Headers: map[string]string{"X-Order": "{{order_id}}"},
		Body:    map[string]any{"order": "{{order_id}}", "count": 2},
	}
	c := NewClient(5 * time.Second)
	if _, err := c.Fetch(context.Background(), ep, testVars()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if want := "/fetch?product=prod-1&qty=2"; got.URL != want {
		t.Errorf("url = %q, want %q", got.URL, want)
	}
	if got.Header != "order-1" {
		t.Errorf("header = %q, want order-1", got.Header)
	}
	if got.Body["order"] != "order-1" {
		t.Errorf("body order = %v, want order-1", got.Body["order"])
	}
}
