package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// --- truncate tests ---

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{name: "shorter than max", in: "abc", max: 10, want: "abc"},
		{name: "exactly max", in: "abcde", max: 5, want: "abcde"},
		{name: "truncated with ellipsis", in: "abcdefghij", max: 6, want: "abc..."},
		{name: "tiny max", in: "abcdef", max: 3, want: "abc"},
		{name: "empty", in: "", max: 5, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncate(tt.in, tt.max); got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
		})
	}
}

// --- client tests ---

func TestClientSendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	serverURL = srv.URL
	authToken = "tok-123"
	defer func() { serverURL = "http://localhost:8080"; authToken = "" }()

	var out map[string]string
	if err := newClient().getJSON("/health/", &out); err != nil {
		t.Fatalf("getJSON: %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer tok-123")
	}
}

func TestClientTokenFromEnv(t *testing.T) {
	authToken = ""
	t.Setenv("BACKBONE_TOKEN", "env-tok")

	if got := resolvedToken(); got != "env-tok" {
		t.Errorf("resolvedToken() = %q, want %q", got, "env-tok")
	}
}

func TestClientFlagTokenWinsOverEnv(t *testing.T) {
	authToken = "flag-tok"
	defer func() { authToken = "" }()
	t.Setenv("BACKBONE_TOKEN", "env-tok")

	if got := resolvedToken(); got != "flag-tok" {
		t.Errorf("resolvedToken() = %q, want %q", got, "flag-tok")
	}
}

func TestClientSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{"error": "permission_denied"})
	}))
	defer srv.Close()

	serverURL = srv.URL
	defer func() { serverURL = "http://localhost:8080" }()

	var out map[string]string
	err := newClient().getJSON("/api/rules/", &out)
	if err == nil {
		t.Fatal("expected error for 403 response")
	}
	if !strings.Contains(err.Error(), "403") {
		t.Errorf("error %q should mention the status code", err)
	}
	if !strings.Contains(err.Error(), "permission_denied") {
		t.Errorf("error %q should include the response body", err)
	}
}

func TestClientPostJSON(t *testing.T) {
	var gotMethod, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		var sb strings.Builder
		buf := make([]byte, 1024)
		for {
			n, err := r.Body.Read(buf)
			sb.Write(buf[:n])
			if err != nil {
				break
			}
		}
		gotBody = sb.String()
		json.NewEncoder(w).Encode(map[string]string{"ok": "true"})
	}))
	defer srv.Close()

	serverURL = srv.URL
	defer func() { serverURL = "http://localhost:8080" }()

	var out map[string]string
	if err := newClient().postJSON("/api/workflows/instances/i-1/approve", map[string]string{"a": "b"}, &out); err != nil {
		t.Fatalf("postJSON: %v", err)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("method = %q, want POST", gotMethod)
	}
	if !strings.Contains(gotBody, `"a":"b"`) {
		t.Errorf("body = %q, want JSON payload", gotBody)
	}
}

// --- ledger verify command ---

func TestLedgerVerifyFailsOnCorruption(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/audit/verify" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"checked": 10, "valid": 9, "corrupted": 1, "total_chain_size": 10,
		})
	}))
	defer srv.Close()

	serverURL = srv.URL
	outputFmt = "table"
	defer func() { serverURL = "http://localhost:8080" }()

	err := ledgerVerifyCmd.RunE(ledgerVerifyCmd, nil)
	if err == nil {
		t.Fatal("verify should fail when the chain has corrupted records")
	}
	if !strings.Contains(err.Error(), "1 corrupted") {
		t.Errorf("error %q should report the corrupted count", err)
	}
}

func TestLedgerVerifyCleanChain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"checked": 5, "valid": 5, "corrupted": 0, "total_chain_size": 5,
		})
	}))
	defer srv.Close()

	serverURL = srv.URL
	outputFmt = "table"
	defer func() { serverURL = "http://localhost:8080" }()

	if err := ledgerVerifyCmd.RunE(ledgerVerifyCmd, nil); err != nil {
		t.Fatalf("verify on a clean chain: %v", err)
	}
}
