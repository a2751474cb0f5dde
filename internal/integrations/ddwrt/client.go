package ddwrt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrCannotConnect indicates the router is unreachable or returned
	// an unexpected response.
	ErrCannotConnect = errors.New("ddwrt: cannot connect")

	// ErrInvalidAuth indicates the router rejected the credentials.
	ErrInvalidAuth = errors.New("ddwrt: invalid auth")

	// ErrParse indicates a response that does not look like a DD-WRT
	// status page.
	ErrParse = errors.New("ddwrt: unexpected response format")
)

// DD-WRT status pages expose data as {key::value} pairs embedded in
// the page body.
var (
	dataRegex = regexp.MustCompile(`\{(\w+)::([^\}]*)\}`)
	macRegex  = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}[0-9A-Fa-f]{2}$`)
)

const (
	wirelessPage = "Status_Wireless.live.asp"
	lanPage      = "Status_Lan.live.asp"

	defaultRequestTimeout = 10 * time.Second
)

// Client scrapes a DD-WRT router's live status pages over HTTP basic
// auth.
type Client struct {
	host     string
	username string
	password string
	baseURL  string

	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTLS switches the client to HTTPS. skipVerify accommodates the
// self-signed certificates these routers ship with.
func WithTLS(skipVerify bool) ClientOption {
	return func(c *Client) {
		c.baseURL = "https://" + c.host
		transport := &http.Transport{}
		if skipVerify {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		c.httpClient.Transport = transport
	}
}

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a scraper for one router.
func NewClient(host, username, password string, opts ...ClientOption) *Client {
	c := &Client{
		host:       host,
		username:   username,
		password:   password,
		baseURL:    "http://" + host,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Host returns the router host the client talks to.
func (c *Client) Host() string {
	return c.host
}

// WirelessMACs returns the MAC addresses currently associated with the
// router's radios, lowercased.
func (c *Client) WirelessMACs(ctx context.Context) ([]string, error) {
	data, err := c.fetchPage(ctx, wirelessPage)
	if err != nil {
		return nil, err
	}
	return parseActiveWireless(data["active_wireless"]), nil
}

// DHCPLeases returns hostname by MAC for the router's current DHCP
// leases.
func (c *Client) DHCPLeases(ctx context.Context) (map[string]string, error) {
	data, err := c.fetchPage(ctx, lanPage)
	if err != nil {
		return nil, err
	}
	return parseDHCPLeases(data["dhcp_leases"]), nil
}

// fetchPage retrieves and parses one live status page.
func (c *Client) fetchPage(ctx context.Context, page string) (map[string]string, error) {
	url := fmt.Sprintf("%s/%s", c.baseURL, page)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCannotConnect, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrInvalidAuth
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d from %s", ErrCannotConnect, resp.StatusCode, page)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrCannotConnect, page, err)
	}

	data := parsePage(string(body))
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s carried no data pairs", ErrParse, page)
	}
	return data, nil
}

// parsePage extracts the {key::value} pairs from a status page body.
func parsePage(body string) map[string]string {
	matches := dataRegex.FindAllStringSubmatch(body, -1)
	data := make(map[string]string, len(matches))
	for _, m := range matches {
		data[m[1]] = m[2]
	}
	return data
}

// parseActiveWireless extracts MACs from the active_wireless value, a
// quoted CSV mixing MACs with radio names and signal figures.
func parseActiveWireless(value string) []string {
	if value == "" {
		return nil
	}

	cleaned := strings.ReplaceAll(value, "'", "")
	var macs []string
	for _, item := range strings.Split(cleaned, ",") {
		item = strings.TrimSpace(item)
		if macRegex.MatchString(item) {
			macs = append(macs, strings.ToLower(item))
		}
	}
	return macs
}

// parseDHCPLeases extracts hostname by MAC from the dhcp_leases value.
// Leases are flat quoted CSV in groups of five fields: hostname, IP,
// MAC, expiry, interface.
func parseDHCPLeases(value string) map[string]string {
	if value == "" {
		return nil
	}

	cleaned := strings.ReplaceAll(value, "'", "")
	fields := strings.Split(cleaned, ",")

	leases := make(map[string]string)
	for i := 0; i+2 < len(fields); i += 5 {
		hostname := strings.TrimSpace(fields[i])
		mac := strings.ToLower(strings.TrimSpace(fields[i+2]))
		if macRegex.MatchString(mac) {
			leases[mac] = hostname
		}
	}
	return leases
}
