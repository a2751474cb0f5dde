package aircube

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

var (
	// ErrCannotConnect indicates the access point is unreachable.
	ErrCannotConnect = errors.New("aircube: cannot connect")

	// ErrInvalidAuth indicates rejected credentials.
	ErrInvalidAuth = errors.New("aircube: invalid auth")

	// ErrCallFailed indicates a ubus call returned a non-zero status.
	ErrCallFailed = errors.New("aircube: ubus call failed")
)

// ubus protocol constants.
const (
	// nullSession authenticates the login call itself.
	nullSession = "00000000000000000000000000000000"

	ubusStatusOK               = 0
	ubusStatusPermissionDenied = 6

	defaultRequestTimeout = 10 * time.Second
)

// ubusRequest is a JSON-RPC 2.0 request envelope.
type ubusRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// ubusResponse is a JSON-RPC 2.0 response envelope. Result is a
// two-element array: status code, then the payload object.
type ubusResponse struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      int               `json:"id"`
	Result  []json.RawMessage `json:"result"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Station is one associated wireless client.
type Station struct {
	MAC    string `json:"mac"`
	Signal int    `json:"signal"`
	Noise  int    `json:"noise"`
	// Inactive is milliseconds since the station last transmitted.
	Inactive int `json:"inactive"`
}

// UbusClient talks to an airCube's ubus RPC endpoint over HTTP.
//
// It logs in lazily and re-authenticates once when the session token
// expires mid-call. Safe for concurrent use.
type UbusClient struct {
	endpoint string
	username string
	password string

	httpClient *http.Client

	mu      sync.Mutex
	session string
	nextID  int
}

// UbusOption configures a UbusClient.
type UbusOption func(*UbusClient)

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(httpClient *http.Client) UbusOption {
	return func(c *UbusClient) { c.httpClient = httpClient }
}

// NewUbusClient creates a client for one access point. The airCube
// serves ubus over HTTPS with a self-signed certificate, so
// verification is off for https endpoints.
func NewUbusClient(endpoint, username, password string, opts ...UbusOption) *UbusClient {
	c := &UbusClient{
		endpoint: endpoint,
		username: username,
		password: password,
		httpClient: &http.Client{
			Timeout: defaultRequestTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
		nextID: 1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the ubus URL the client talks to.
func (c *UbusClient) Endpoint() string {
	return c.endpoint
}

// Login authenticates and stores the session token.
func (c *UbusClient) Login(ctx context.Context) error {
	payload, status, err := c.rpc(ctx, nullSession, "session", "login", map[string]any{
		"username": c.username,
		"password": c.password,
	})
	if err != nil {
		return err
	}
	if status != ubusStatusOK {
		return fmt.Errorf("%w: login status %d", ErrInvalidAuth, status)
	}

	var result struct {
		Session string `json:"ubus_rpc_session"`
	}
	if err := json.Unmarshal(payload, &result); err != nil || result.Session == "" {
		return fmt.Errorf("%w: login response carried no session", ErrInvalidAuth)
	}

	c.mu.Lock()
	c.session = result.Session
	c.mu.Unlock()
	return nil
}

// Call performs an authenticated ubus call, logging in first if needed
// and once more if the session has expired.
func (c *UbusClient) Call(ctx context.Context, object, method string, args map[string]any) (json.RawMessage, error) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	if session == "" {
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
		c.mu.Lock()
		session = c.session
		c.mu.Unlock()
	}

	payload, status, err := c.rpc(ctx, session, object, method, args)
	if err != nil {
		return nil, err
	}
	if status == ubusStatusPermissionDenied {
		// Session expired; authenticate again and retry once.
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
		c.mu.Lock()
		session = c.session
		c.mu.Unlock()

		payload, status, err = c.rpc(ctx, session, object, method, args)
		if err != nil {
			return nil, err
		}
	}
	if status != ubusStatusOK {
		return nil, fmt.Errorf("%w: %s.%s status %d", ErrCallFailed, object, method, status)
	}

	return payload, nil
}

// AssocList returns the stations associated with a wireless device.
func (c *UbusClient) AssocList(ctx context.Context, device string) ([]Station, error) {
	payload, err := c.Call(ctx, "iwinfo", "assoclist", map[string]any{"device": device})
	if err != nil {
		return nil, err
	}

	var result struct {
		Results []Station `json:"results"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("%w: decoding assoclist: %w", ErrCallFailed, err)
	}
	return result.Results, nil
}

// rpc performs one JSON-RPC round trip and splits the two-element
// result into status code and payload.
func (c *UbusClient) rpc(ctx context.Context, session, object, method string, args map[string]any) (json.RawMessage, int, error) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.mu.Unlock()

	if args == nil {
		args = map[string]any{}
	}

	body, err := json.Marshal(ubusRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "call",
		Params:  []any{session, object, method, args},
	})
	if err != nil {
		return nil, 0, fmt.Errorf("marshalling ubus request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("building ubus request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrCannotConnect, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("%w: status %d", ErrCannotConnect, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: reading response: %w", ErrCannotConnect, err)
	}

	var decoded ubusResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, 0, fmt.Errorf("%w: decoding response: %w", ErrCannotConnect, err)
	}
	if decoded.Error != nil {
		return nil, 0, fmt.Errorf("%w: %s (code %d)", ErrCallFailed, decoded.Error.Message, decoded.Error.Code)
	}
	if len(decoded.Result) == 0 {
		return nil, 0, fmt.Errorf("%w: empty result", ErrCallFailed)
	}

	var status int
	if err := json.Unmarshal(decoded.Result[0], &status); err != nil {
		return nil, 0, fmt.Errorf("%w: malformed status: %w", ErrCallFailed, err)
	}

	var payload json.RawMessage
	if len(decoded.Result) > 1 {
		payload = decoded.Result[1]
	}
	return payload, status, nil
}
