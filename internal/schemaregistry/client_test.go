package schemaregistry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRegisterAndGetByID(t *testing.T) {
	var registerCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/subjects/events-value/versions", func(w http.ResponseWriter, r *http.Request) {
		registerCalls++
		_ = json.NewEncoder(w).Encode(registerResponse{ID: 42})
	})
	mux.HandleFunc("/schemas/ids/42", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(schemaResponse{Schema: `{"type":"record"}`})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL, "key", "secret", srv.Client())

	id, err := c.Register(context.Background(), "events-value", `{"type":"record"}`)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if id != 42 {
		t.Fatalf("id = %d, want 42", id)
	}

	// second registration for the same subject must be cached, not re-requested.
	if _, err := c.Register(context.Background(), "events-value", `{"type":"record"}`); err != nil {
		t.Fatalf("Register (cached): %v", err)
	}
	if registerCalls != 1 {
		t.Fatalf("expected registration to be cached, got %d calls", registerCalls)
	}

	schema, err := c.GetByID(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if schema != `{"type":"record"}` {
		t.Fatalf("schema = %q", schema)
	}
}

func TestCheckConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "", "", srv.Client())
	if !c.CheckConnection(context.Background()) {
		t.Fatalf("expected reachable registry to report true")
	}
}

func TestCheckConnectionUnreachable(t *testing.T) {
	c := New("http://127.0.0.1:0", "", "", nil)
	if c.CheckConnection(context.Background()) {
		t.Fatalf("expected unreachable registry to report false")
	}
}
