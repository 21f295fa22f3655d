package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MahdiBaghbani/userservice-go/internal/platform/config"
	httpclient "github.com/MahdiBaghbani/userservice-go/internal/platform/http/client"
)

func testConfig() *config.OutboundHTTPConfig {
	return &config.OutboundHTTPConfig{
		TimeoutMS:        5000,
		ConnectTimeoutMS: 2000,
		MaxRedirects:     1,
		MaxResponseBytes: 1048576,
	}
}

func get(t *testing.T, c *httpclient.Client, url string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	return c.Do(context.Background(), req)
}

func TestClient_ProxyEnvIgnored(t *testing.T) {
	t.Setenv("HTTP_PROXY", "http://proxy.invalid:8080")
	t.Setenv("HTTPS_PROXY", "http://proxy.invalid:8080")
	t.Setenv("http_proxy", "http://proxy.invalid:8080")
	t.Setenv("https_proxy", "http://proxy.invalid:8080")
	t.Setenv("NO_PROXY", "")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("direct"))
	}))
	defer server.Close()

	client := httpclient.New(testConfig())

	// proxy.invalid does not resolve, so success means a direct connection.
	resp, err := get(t, client, server.URL)
	if err != nil {
		t.Fatalf("expected direct connection, got error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestClient_FollowsOneSameHostRedirect(t *testing.T) {
	requestCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount++
		switch r.URL.Path {
		case "/start":
			http.Redirect(w, r, "/target", http.StatusFound)
		case "/target":
			if r.Header.Get("X-Auth-Token") != "tok" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := httpclient.New(testConfig())

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/start", nil)
	req.Header.Set("X-Auth-Token", "tok")
	resp, err := client.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if requestCount != 2 {
		t.Errorf("expected 2 requests (original + redirect), got %d", requestCount)
	}
}

func TestClient_RejectsTooManyRedirects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, r.URL.Path+"x", http.StatusFound)
	}))
	defer server.Close()

	client := httpclient.New(testConfig())

	_, err := get(t, client, server.URL+"/start")
	if !errors.Is(err, httpclient.ErrTooManyRedirects) {
		t.Errorf("expected ErrTooManyRedirects, got: %v", err)
	}
}

func TestClient_RejectsCrossHostRedirect(t *testing.T) {
	targetServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer targetServer.Close()

	// 127.0.0.1 and localhost differ as hostnames.
	redirectServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, strings.Replace(targetServer.URL, "127.0.0.1", "localhost", 1)+"/target", http.StatusFound)
	}))
	defer redirectServer.Close()

	client := httpclient.New(testConfig())

	_, err := get(t, client, redirectServer.URL+"/start")
	if err == nil {
		t.Fatal("expected error for cross-host redirect")
	}
	if !httpclient.IsRedirectError(err) {
		t.Errorf("expected redirect error, got: %v", err)
	}
}

func TestClient_RedirectWithBodyBlocked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusTemporaryRedirect)
	}))
	defer server.Close()

	client := httpclient.New(testConfig())

	_, err := client.SendJSON(context.Background(), http.MethodPost, server.URL+"/users", nil, map[string]string{"a": "b"}, nil)
	if !errors.Is(err, httpclient.ErrRedirectBlocked) {
		t.Errorf("expected ErrRedirectBlocked, got %v", err)
	}
}

func TestClient_SendJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected JSON content type, got %q", r.Header.Get("Content-Type"))
		}
		if r.Header.Get("X-Api-Key") != "secret" {
			t.Errorf("expected X-Api-Key header")
		}
		var in map[string]string
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"echo": in["name"]})
	}))
	defer server.Close()

	client := httpclient.New(testConfig())

	var out struct {
		Echo string `json:"echo"`
	}
	header := http.Header{}
	header.Set("X-Api-Key", "secret")
	resp, err := client.SendJSON(context.Background(), http.MethodPost, server.URL, header, map[string]string{"name": "ada"}, &out)
	if err != nil {
		t.Fatalf("SendJSON failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if out.Echo != "ada" {
		t.Errorf("expected echo 'ada', got %q", out.Echo)
	}
}

func TestClient_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"errorMessage":"User exists with same username"}`))
	}))
	defer server.Close()

	client := httpclient.New(testConfig())

	_, err := client.SendJSON(context.Background(), http.MethodGet, server.URL+"/x?token=abc", nil, nil, nil)
	var se *httpclient.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if se.StatusCode != http.StatusConflict {
		t.Errorf("expected 409, got %d", se.StatusCode)
	}
	if httpclient.StatusCode(err) != http.StatusConflict {
		t.Errorf("StatusCode helper returned %d", httpclient.StatusCode(err))
	}
	if strings.Contains(err.Error(), "token=abc") {
		t.Errorf("query string leaked into error: %v", err)
	}
}

func TestClient_ResponseTooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.MaxResponseBytes = 16
	client := httpclient.New(cfg)

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	_, err := client.Send(context.Background(), req)
	if !errors.Is(err, httpclient.ErrResponseTooLarge) {
		t.Errorf("expected ErrResponseTooLarge, got %v", err)
	}
}
