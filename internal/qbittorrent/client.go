// Package qbittorrent is a small client for the qBittorrent Web API (v2).
package qbittorrent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrLoginFailed means qBittorrent rejected the credentials.
var ErrLoginFailed = errors.New("qbittorrent login failed")

// StatusError is returned for unexpected HTTP status codes.
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status code %d: %s", e.Endpoint, e.Code, e.Body)
}

// Client is safe for concurrent use.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client

	mu       sync.Mutex
	loggedIn bool
}

// NewClient creates a client for the Web UI at baseURL (e.g. "http://localhost:8080").
func NewClient(baseURL, username, password string, timeout time.Duration) *Client {
	jar, _ := cookiejar.New(nil)
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		http: &http.Client{
			Timeout: timeout,
			Jar:     jar,
		},
	}
}

// Login authenticates and stores the session cookie.
func (c *Client) Login(ctx context.Context) error {
	data := url.Values{}
	data.Set("username", c.username)
	data.Set("password", c.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v2/auth/login", strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	// qBittorrent rejects logins whose Referer/Origin do not match the host.
	req.Header.Set("Referer", c.baseURL)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Endpoint: "auth/login", Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if text := strings.TrimSpace(string(body)); text != "Ok." {
		return fmt.Errorf("%w: %s", ErrLoginFailed, text)
	}

	c.mu.Lock()
	c.loggedIn = true
	c.mu.Unlock()
	return nil
}

// Close drops idle keep-alive connections.
func (c *Client) Close() { c.http.CloseIdleConnections() }

func (c *Client) ensureLoggedIn(ctx context.Context) error {
	c.mu.Lock()
	ok := c.loggedIn
	c.mu.Unlock()
	if ok {
		return nil
	}
	return c.Login(ctx)
}

// do performs one API call. A 403 triggers a single re-login and retry.
func (c *Client) do(ctx context.Context, method, endpoint string, form url.Values, out any) error {
	if err := c.ensureLoggedIn(ctx); err != nil {
		return err
	}
	for attempt := 0; ; attempt++ {
		status, body, err := c.send(ctx, method, endpoint, form)
		if err != nil {
			return err
		}
		if status == http.StatusForbidden && attempt == 0 {
			c.mu.Lock()
			c.loggedIn = false
			c.mu.Unlock()
			if err := c.Login(ctx); err != nil {
				return fmt.Errorf("re-authenticating: %w", err)
			}
			continue
		}
		if status != http.StatusOK {
			return &StatusError{Endpoint: endpoint, Code: status, Body: strings.TrimSpace(string(body))}
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("%s: decoding response: %w", endpoint, err)
		}
		return nil
	}
}

func (c *Client) send(ctx context.Context, method, endpoint string, form url.Values) (int, []byte, error) {
	u := c.baseURL + "/api/v2/" + endpoint
	var body io.Reader
	if method == http.MethodGet {
		if len(form) > 0 {
			u += "?" + form.Encode()
		}
	} else {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: making request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: reading response: %w", endpoint, err)
	}
	return resp.StatusCode, b, nil
}

// AppVersion returns the qBittorrent version string (e.g. "v4.6.2").
func (c *Client) AppVersion(ctx context.Context) (string, error) {
	if err := c.ensureLoggedIn(ctx); err != nil {
		return "", err
	}
	status, body, err := c.send(ctx, http.MethodGet, "app/version", nil)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", &StatusError{Endpoint: "app/version", Code: status, Body: string(body)}
	}
	return strings.TrimSpace(string(body)), nil
}

// Torrents lists all torrents.
func (c *Client) Torrents(ctx context.Context) ([]Torrent, error) {
	var out []Torrent
	if err := c.do(ctx, http.MethodGet, "torrents/info", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Trackers lists the trackers of one torrent.
func (c *Client) Trackers(ctx context.Context, hash string) ([]Tracker, error) {
	var out []Tracker
	if err := c.do(ctx, http.MethodGet, "torrents/trackers", url.Values{"hash": {hash}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Files lists the files of one torrent.
func (c *Client) Files(ctx context.Context, hash string) ([]File, error) {
	var out []File
	if err := c.do(ctx, http.MethodGet, "torrents/files", url.Values{"hash": {hash}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Categories returns the known categories keyed by name.
func (c *Client) Categories(ctx context.Context) (map[string]Category, error) {
	out := map[string]Category{}
	if err := c.do(ctx, http.MethodGet, "torrents/categories", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateCategory(ctx context.Context, name, savePath string) error {
	return c.do(ctx, http.MethodPost, "torrents/createCategory", url.Values{
		"category": {name},
		"savePath": {savePath},
	}, nil)
}

func (c *Client) SetCategory(ctx context.Context, hashes []string, category string) error {
	return c.do(ctx, http.MethodPost, "torrents/setCategory", url.Values{
		"hashes":   {joinHashes(hashes)},
		"category": {category},
	}, nil)
}

func (c *Client) AddTags(ctx context.Context, hashes []string, tags []string) error {
	return c.do(ctx, http.MethodPost, "torrents/addTags", url.Values{
		"hashes": {joinHashes(hashes)},
		"tags":   {strings.Join(tags, ",")},
	}, nil)
}

func (c *Client) RemoveTags(ctx context.Context, hashes []string, tags []string) error {
	return c.do(ctx, http.MethodPost, "torrents/removeTags", url.Values{
		"hashes": {joinHashes(hashes)},
		"tags":   {strings.Join(tags, ",")},
	}, nil)
}

// Delete removes torrents, and their data when deleteFiles is set.
func (c *Client) Delete(ctx context.Context, hashes []string, deleteFiles bool) error {
	return c.do(ctx, http.MethodPost, "torrents/delete", url.Values{
		"hashes":      {joinHashes(hashes)},
		"deleteFiles": {strconv.FormatBool(deleteFiles)},
	}, nil)
}

func (c *Client) Recheck(ctx context.Context, hashes []string) error {
	return c.do(ctx, http.MethodPost, "torrents/recheck", url.Values{"hashes": {joinHashes(hashes)}}, nil)
}

// Resume starts paused torrents. qBittorrent 5 renamed the endpoint to
// "start"; a 404 on "resume" falls back to it.
func (c *Client) Resume(ctx context.Context, hashes []string) error {
	form := url.Values{"hashes": {joinHashes(hashes)}}
	err := c.do(ctx, http.MethodPost, "torrents/resume", form, nil)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return c.do(ctx, http.MethodPost, "torrents/start", form, nil)
	}
	return err
}

// SetShareLimits sets ratio and seeding time limits. Use -2 for the global
// limit and -1 for no limit. Seeding times are in minutes.
func (c *Client) SetShareLimits(ctx context.Context, hashes []string, ratio float64, seedingMinutes int) error {
	return c.do(ctx, http.MethodPost, "torrents/setShareLimits", url.Values{
		"hashes":                   {joinHashes(hashes)},
		"ratioLimit":               {strconv.FormatFloat(ratio, 'f', 2, 64)},
		"seedingTimeLimit":         {strconv.Itoa(seedingMinutes)},
		"inactiveSeedingTimeLimit": {"-2"},
	}, nil)
}

func joinHashes(hashes []string) string { return strings.Join(hashes, "|") }
