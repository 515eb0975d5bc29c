package nodes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runlet/engine/nodes/security"
	"github.com/runlet/engine/runtime"
)

func TestHTTPRequestJSONResponse(t *testing.T) {
	var gotUserAgent, gotContentType, gotCustom string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserAgent = r.Header.Get("User-Agent")
		gotContentType = r.Header.Get("Content-Type")
		gotCustom = r.Header.Get("X-Custom")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "method": r.Method})
	}))
	defer srv.Close()

	nt := httpRequest(Config{HTTPClient: srv.Client()})
	nc := testNC(runtime.NodeValues{
		"url":     srv.URL + "/things",
		"method":  "post",
		"headers": map[string]any{"X-Custom": "yes"},
		"body":    `{"in":1}`,
	})
	out := runNode(t, nt, nc)

	assert.Equal(t, "success", out.Values["status"])
	assert.Equal(t, 200, out.Values["status_code"])
	body, ok := out.Values["body"].(map[string]any)
	require.True(t, ok, "json response must come back structured")
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "POST", body["method"])
	headers, ok := out.Values["headers"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "application/json", headers["Content-Type"])

	assert.Equal(t, "runlet-engine/1.0", gotUserAgent)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "yes", gotCustom)
	assert.Equal(t, `{"in":1}`, string(gotBody))
}

func TestHTTPRequestPlainTextResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, "nothing here")
	}))
	defer srv.Close()

	nt := httpRequest(Config{HTTPClient: srv.Client()})
	out := runNode(t, nt, testNC(runtime.NodeValues{"url": srv.URL}))

	// Non-2xx is still a successful call; failures are transport-level only.
	assert.Equal(t, "success", out.Values["status"])
	assert.Equal(t, 404, out.Values["status_code"])
	assert.Equal(t, "nothing here", out.Values["body"])
}

func TestHTTPRequestDefaultsToGET(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		io.WriteString(w, "{}")
	}))
	defer srv.Close()

	nt := httpRequest(Config{HTTPClient: srv.Client()})
	runNode(t, nt, testNC(runtime.NodeValues{"url": srv.URL}))
	assert.Equal(t, http.MethodGet, gotMethod)
}

func TestHTTPRequestIntegrationMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request with an unresolvable integration must never be sent")
	}))
	defer srv.Close()

	// The test context has no integration provider, so any id is unknown.
	nt := httpRequest(Config{HTTPClient: srv.Client()})
	nc := testNC(runtime.NodeValues{"url": srv.URL, "integration_id": "conn-1"})
	_, err := nt.New().Execute(context.Background(), nc)
	require.Error(t, err)
	var nodeErr *runtime.NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Contains(t, nodeErr.Message, "integration unavailable")
}

func TestAuthorizeHeaderShapes(t *testing.T) {
	apply := func(meta map[string]string) *http.Request {
		req, err := http.NewRequest(http.MethodGet, "http://api.example.com", nil)
		require.NoError(t, err)
		authorize(req, &runtime.Integration{Token: "tok", Metadata: meta})
		return req
	}

	assert.Equal(t, "Bearer tok", apply(nil).Header.Get("Authorization"))
	assert.Equal(t, "Basic tok", apply(map[string]string{"scheme": "Basic"}).Header.Get("Authorization"))

	keyed := apply(map[string]string{"header": "X-Api-Key"})
	assert.Equal(t, "tok", keyed.Header.Get("X-Api-Key"))
	assert.Empty(t, keyed.Header.Get("Authorization"))
}

func TestHTTPRequestGuardBlocksLoopback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("screened request must never reach the server")
	}))
	defer srv.Close()

	nt := httpRequest(Config{HTTPClient: srv.Client(), Guard: security.NewGuard()})
	_, err := nt.New().Execute(context.Background(), testNC(runtime.NodeValues{"url": srv.URL}))
	require.Error(t, err)
	var nodeErr *runtime.NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Contains(t, nodeErr.Message, "url rejected")
}

func TestHTTPRequestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client := srv.Client()
	srv.Close()

	nt := httpRequest(Config{HTTPClient: client})
	_, err := nt.New().Execute(context.Background(), testNC(runtime.NodeValues{"url": srv.URL}))
	require.Error(t, err)
	var nodeErr *runtime.NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Contains(t, nodeErr.Message, "request failed")
}

func TestHTTPRequestRejectsEmptyURL(t *testing.T) {
	nt := httpRequest(Config{HTTPClient: http.DefaultClient})
	_, err := nt.New().Execute(context.Background(), testNC(runtime.NodeValues{}))
	require.Error(t, err)
}
