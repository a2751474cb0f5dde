package aircube

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// fakeUbus is a minimal ubus endpoint backed by httptest.
type fakeUbus struct {
	mu       sync.Mutex
	password string
	sessions map[string]bool
	logins   int
	stations []Station
}

func newFakeUbus(password string) *fakeUbus {
	return &fakeUbus{
		password: password,
		sessions: make(map[string]bool),
		stations: []Station{
			{MAC: "AA:BB:CC:DD:EE:01", Signal: -52, Noise: -95},
			{MAC: "AA:BB:CC:DD:EE:02", Signal: -71, Noise: -95},
		},
	}
}

// expireAll invalidates every issued session token.
func (f *fakeUbus) expireAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = make(map[string]bool)
}

func (f *fakeUbus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req ubusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Params) < 4 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	session, _ := req.Params[0].(string)
	object, _ := req.Params[1].(string)
	method, _ := req.Params[2].(string)
	args, _ := req.Params[3].(map[string]any)

	f.mu.Lock()
	defer f.mu.Unlock()

	respond := func(status int, payload any) {
		result := []any{status}
		if payload != nil {
			result = append(result, payload)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  result,
		})
	}

	if object == "session" && method == "login" {
		if session != nullSession {
			respond(ubusStatusPermissionDenied, nil)
			return
		}
		if password, _ := args["password"].(string); password != f.password {
			respond(ubusStatusPermissionDenied, nil)
			return
		}
		f.logins++
		token := fmt.Sprintf("session-%04d", f.logins)
		f.sessions[token] = true
		respond(ubusStatusOK, map[string]any{"ubus_rpc_session": token})
		return
	}

	if !f.sessions[session] {
		respond(ubusStatusPermissionDenied, nil)
		return
	}

	if object == "iwinfo" && method == "assoclist" {
		respond(ubusStatusOK, map[string]any{"results": f.stations})
		return
	}

	respond(ubusStatusPermissionDenied, nil)
}

func newTestClient(t *testing.T, password string) (*UbusClient, *fakeUbus) {
	t.Helper()
	fake := newFakeUbus("secret")
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)
	return NewUbusClient(server.URL+"/ubus", "ubnt", password), fake
}

func TestUbusClientLogin(t *testing.T) {
	client, fake := newTestClient(t, "secret")

	if err := client.Login(context.Background()); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if fake.logins != 1 {
		t.Errorf("logins = %d, want 1", fake.logins)
	}
}

func TestUbusClientLoginInvalidAuth(t *testing.T) {
	client, _ := newTestClient(t, "wrong")

	err := client.Login(context.Background())
	if err == nil {
		t.Fatal("Login() expected error")
	}
}

func TestUbusClientAssocList(t *testing.T) {
	client, fake := newTestClient(t, "secret")

	stations, err := client.AssocList(context.Background(), "wlan0")
	if err != nil {
		t.Fatalf("AssocList() error = %v", err)
	}
	if len(stations) != 2 {
		t.Fatalf("got %d stations, want 2", len(stations))
	}
	if stations[0].MAC != "AA:BB:CC:DD:EE:01" {
		t.Errorf("MAC = %q, want AA:BB:CC:DD:EE:01", stations[0].MAC)
	}
	if stations[0].Signal != -52 {
		t.Errorf("Signal = %d, want -52", stations[0].Signal)
	}
	// The call logged in lazily.
	if fake.logins != 1 {
		t.Errorf("logins = %d, want 1", fake.logins)
	}
}

func TestUbusClientReloginOnExpiredSession(t *testing.T) {
	client, fake := newTestClient(t, "secret")

	if _, err := client.AssocList(context.Background(), "wlan0"); err != nil {
		t.Fatalf("first AssocList() error = %v", err)
	}

	fake.expireAll()

	stations, err := client.AssocList(context.Background(), "wlan0")
	if err != nil {
		t.Fatalf("AssocList() after expiry error = %v", err)
	}
	if len(stations) != 2 {
		t.Errorf("got %d stations, want 2", len(stations))
	}
	if fake.logins != 2 {
		t.Errorf("logins = %d, want 2", fake.logins)
	}
}

func TestUbusClientUnreachable(t *testing.T) {
	client := NewUbusClient("http://127.0.0.1:1/ubus", "ubnt", "secret")

	_, err := client.AssocList(context.Background(), "wlan0")
	if err == nil {
		t.Fatal("expected error for unreachable host")
	}
}

func TestUbusEndpoint(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"192.168.1.20", "https://192.168.1.20/ubus"},
		{"http://192.168.1.20", "http://192.168.1.20/ubus"},
		{"https://aircube.local/", "https://aircube.local/ubus"},
	}
	for _, tt := range tests {
		if got := UbusEndpoint(tt.host); got != tt.want {
			t.Errorf("UbusEndpoint(%q) = %q, want %q", tt.host, got, tt.want)
		}
	}
}
