package index

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"recordcore/pkg/record"
)

func clientFor(t *testing.T, ts *httptest.Server, cfg Config) *Client {
	t.Helper()
	u, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatalf("parse test server url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse test server port: %v", err)
	}
	cfg.Host = u.Hostname()
	cfg.Port = port
	client, err := New(cfg)
	if err != nil {
		t.Fatalf("build client: %v", err)
	}
	return client
}

func TestConfigValidation(t *testing.T) {
	if _, err := New(Config{Database: "idx"}); err == nil {
		t.Fatalf("missing host must be rejected")
	}
	if _, err := New(Config{Host: "localhost"}); err == nil {
		t.Fatalf("missing database must be rejected")
	}
}

func TestIndexDocument(t *testing.T) {
	var gotMethod, gotPath, gotContentType string
	var gotBody record.Document
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer ts.Close()

	client := clientFor(t, ts, Config{Database: "idx"})
	doc := record.Document{record.FieldID: "det-1", record.FieldActive: true}
	if err := client.IndexDocument(context.Background(), "details", "det-1", doc); err != nil {
		t.Fatalf("index document: %v", err)
	}
	if gotMethod != http.MethodPut {
		t.Fatalf("method = %s", gotMethod)
	}
	if gotPath != "/idx/details/det-1" {
		t.Fatalf("path = %s", gotPath)
	}
	if gotContentType != "application/json" {
		t.Fatalf("content type = %s", gotContentType)
	}
	if gotBody[record.FieldID] != "det-1" {
		t.Fatalf("body = %v", gotBody)
	}
}

func TestRemoveDocumentToleratesMissing(t *testing.T) {
	status := http.StatusOK
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s", r.Method)
		}
		w.WriteHeader(status)
	}))
	defer ts.Close()

	client := clientFor(t, ts, Config{Database: "idx"})
	if err := client.RemoveDocument(context.Background(), "details", "det-1"); err != nil {
		t.Fatalf("remove document: %v", err)
	}
	// The index may lag behind the store; a miss is not an error.
	status = http.StatusNotFound
	if err := client.RemoveDocument(context.Background(), "details", "gone"); err != nil {
		t.Fatalf("remove of unknown document: %v", err)
	}
	status = http.StatusInternalServerError
	if err := client.RemoveDocument(context.Background(), "details", "det-1"); err == nil {
		t.Fatalf("server failure must surface")
	}
}

func TestBasicAuthHeader(t *testing.T) {
	var user, pass string
	var hasAuth bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, hasAuth = r.BasicAuth()
	}))
	defer ts.Close()

	client := clientFor(t, ts, Config{Database: "idx", User: "admin", Password: "secret"})
	if err := client.RemoveDocument(context.Background(), "details", "det-1"); err != nil {
		t.Fatalf("remove document: %v", err)
	}
	if !hasAuth || user != "admin" || pass != "secret" {
		t.Fatalf("auth = %v %q %q", hasAuth, user, pass)
	}

	// No credentials configured means no auth header.
	anon := clientFor(t, ts, Config{Database: "idx"})
	hasAuth = false
	if err := anon.RemoveDocument(context.Background(), "details", "det-1"); err != nil {
		t.Fatalf("remove document: %v", err)
	}
	if hasAuth {
		t.Fatalf("unexpected auth header")
	}
}
