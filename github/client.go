package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public GitHub REST endpoint.
const DefaultBaseURL = "https://api.github.com"

// RawContentHost serves download_url links of the public API.
const RawContentHost = "raw.githubusercontent.com"

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Method     string
	URL        string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("github: %s %s: %d %s", e.Method, e.URL, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("github: %s %s: %d", e.Method, e.URL, e.StatusCode)
}

// IsNotFound reports whether err is a 404 APIError.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// ErrTooLarge is returned by Download when the body exceeds the limit.
var ErrTooLarge = errors.New("github: download exceeds size limit")

// Content is one entry of a repository directory listing.
type Content struct {
	// Type is "file", "dir", "symlink" or "submodule".
	Type        string `json:"type"`
	Name        string `json:"name"`
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"download_url"`
}

// Client talks to the GitHub REST API. Every call takes the caller's access
// token; an empty token makes an anonymous request.
//
// A Client is safe for concurrent use. All requests share one rate limiter.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a GitHub Enterprise or test server.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithRateLimit throttles outgoing requests to rps per second with the given
// burst. A non-positive rps disables throttling.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewClient creates a client for the public API, limited to 10 requests per
// second by default.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(10, 10),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultBranch returns the repository's default branch.
func (c *Client) DefaultBranch(ctx context.Context, token, owner, repo string) (string, error) {
	var out struct {
		DefaultBranch string `json:"default_branch"`
	}
	if err := c.getJSON(ctx, token, repoPath(owner, repo), &out); err != nil {
		return "", err
	}
	if out.DefaultBranch == "" {
		return "", fmt.Errorf("github: %s/%s has no default branch", owner, repo)
	}
	return out.DefaultBranch, nil
}

// CanAccess reports whether the token (or an anonymous caller) can read the
// repository. Client errors such as 404 and 403 yield false with a nil error;
// transport failures and 5xx responses are returned.
func (c *Client) CanAccess(ctx context.Context, token, owner, repo string) (bool, error) {
	err := c.getJSON(ctx, token, repoPath(owner, repo), nil)
	if err == nil {
		return true, nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
		return false, nil
	}
	return false, err
}

// ListContents lists the directory at path on ref. A path that names a file
// yields a single entry.
func (c *Client) ListContents(ctx context.Context, token, owner, repo, path, ref string) ([]Content, error) {
	p := repoPath(owner, repo) + "/contents"
	if path = strings.Trim(path, "/"); path != "" {
		p += "/" + escapePath(path)
	}
	if ref != "" {
		p += "?ref=" + url.QueryEscape(ref)
	}

	var raw json.RawMessage
	if err := c.getJSON(ctx, token, p, &raw); err != nil {
		return nil, err
	}

	if trimmed := strings.TrimSpace(string(raw)); strings.HasPrefix(trimmed, "[") {
		var list []Content
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("github: decode contents: %w", err)
		}
		return list, nil
	}

	var single Content
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, fmt.Errorf("github: decode contents: %w", err)
	}
	return []Content{single}, nil
}

// Download fetches a raw file. Bodies larger than limit bytes fail with
// ErrTooLarge; a non-positive limit disables the check.
//
// The token is sent only to the API host itself and, for the public API, to
// RawContentHost. Any other host, including one reached through a redirect,
// gets an anonymous request.
func (c *Client) Download(ctx context.Context, token, downloadURL string, limit int64) ([]byte, error) {
	resp, err := c.do(ctx, token, downloadURL, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body := io.Reader(resp.Body)
	if limit > 0 {
		body = io.LimitReader(resp.Body, limit+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("github: read %s: %w", downloadURL, err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, ErrTooLarge
	}
	return data, nil
}

func (c *Client) getJSON(ctx context.Context, token, path string, out any) error {
	resp, err := c.do(ctx, token, c.baseURL+path, "application/vnd.github+json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("github: decode %s: %w", path, err)
	}
	return nil
}

// do sends a GET and returns the response when the status is 2xx. The caller
// closes the body.
func (c *Client) do(ctx context.Context, token, target, accept string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("github: build request: %w", err)
	}
	req.Header.Set("User-Agent", "devspace")
	if accept != "" {
		req.Header.Set("Accept", accept)
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	}

	resp, err := c.clientFor(token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("github: GET %s: %w", target, err)
	}
	if resp.StatusCode/100 == 2 {
		return resp, nil
	}
	defer resp.Body.Close()

	apiErr := &APIError{StatusCode: resp.StatusCode, Method: http.MethodGet, URL: target}
	var body struct {
		Message string `json:"message"`
	}
	if json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body) == nil {
		apiErr.Message = body.Message
	}
	return nil, apiErr
}

func (c *Client) clientFor(token string) *http.Client {
	if token == "" {
		return c.http
	}
	base := c.http.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{
		Transport: &scopedTransport{
			trusted: c.trustedHost,
			authed: &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
				Base:   base,
			},
			anonymous: base,
		},
		CheckRedirect: c.http.CheckRedirect,
		Jar:           c.http.Jar,
		Timeout:       c.http.Timeout,
	}
}

// trustedHost reports whether u may receive the caller's token.
func (c *Client) trustedHost(u *url.URL) bool {
	api, err := url.Parse(c.baseURL)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Scheme, api.Scheme) && strings.EqualFold(u.Host, api.Host) {
		return true
	}
	return strings.EqualFold(api.Host, "api.github.com") &&
		u.Scheme == "https" && strings.EqualFold(u.Host, RawContentHost)
}

// scopedTransport attaches the token only to requests for trusted hosts. It
// runs per round trip, so redirects are checked too.
type scopedTransport struct {
	trusted   func(*url.URL) bool
	authed    http.RoundTripper
	anonymous http.RoundTripper
}

func (t *scopedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.trusted(req.URL) {
		return t.authed.RoundTrip(req)
	}
	return t.anonymous.RoundTrip(req)
}

func repoPath(owner, repo string) string {
	return "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo)
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
