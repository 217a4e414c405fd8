package github_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/devspace/github"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		url  string
		want github.Repo
		ok   bool
	}{
		{"https://github.com/acme/widgets", github.Repo{Owner: "acme", Name: "widgets"}, true},
		{"https://github.com/acme/widgets.git", github.Repo{Owner: "acme", Name: "widgets"}, true},
		{"http://github.com/acme/widgets/tree/dev", github.Repo{Owner: "acme", Name: "widgets", Branch: "dev"}, true},
		{"https://github.com/acme/widgets/tree/main/src/lib", github.Repo{Owner: "acme", Name: "widgets", Branch: "main", Path: "src/lib"}, true},
		{"https://gitlab.com/acme/widgets", github.Repo{}, false},
		{"https://github.com/acme", github.Repo{}, false},
		{"not a url", github.Repo{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, ok := github.ParseURL(tt.url)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func newTestClient(t *testing.T, h http.Handler) (*github.Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return github.NewClient(github.WithBaseURL(srv.URL), github.WithRateLimit(0, 0)), srv
}

func TestClient_DefaultBranchSendsToken(t *testing.T) {
	auth := make(chan string, 1)
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/widgets", r.URL.Path)
		auth <- r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]any{"default_branch": "trunk"})
	}))

	branch, err := client.DefaultBranch(context.Background(), "tok-123", "acme", "widgets")
	require.NoError(t, err)
	assert.Equal(t, "trunk", branch)
	assert.Equal(t, "Bearer tok-123", <-auth)
}

func TestClient_AnonymousHasNoAuthHeader(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{"default_branch": "main"})
	}))

	ok, err := client.CanAccess(context.Background(), "", "acme", "widgets")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClient_CanAccess(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusNotFound)
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte(`{"message":"Not Found"}`))
	}))

	ok, err := client.CanAccess(context.Background(), "", "acme", "private")
	require.NoError(t, err)
	assert.False(t, ok)

	status.Store(http.StatusBadGateway)
	ok, err = client.CanAccess(context.Background(), "", "acme", "private")
	assert.False(t, ok)
	var apiErr *github.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
}

func TestClient_ListContents(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "main", r.URL.Query().Get("ref"))
		switch r.URL.Path {
		case "/repos/acme/widgets/contents":
			_, _ = w.Write([]byte(`[
				{"type":"dir","name":"src","path":"src","size":0,"download_url":null},
				{"type":"file","name":"README.md","path":"README.md","size":12,"download_url":"http://raw/README.md"}
			]`))
		case "/repos/acme/widgets/contents/src/main.go":
			_, _ = w.Write([]byte(`{"type":"file","name":"main.go","path":"src/main.go","size":40,"download_url":"http://raw/main.go"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	ctx := context.Background()

	list, err := client.ListContents(ctx, "", "acme", "widgets", "", "main")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "dir", list[0].Type)
	assert.Empty(t, list[0].DownloadURL)
	assert.Equal(t, "http://raw/README.md", list[1].DownloadURL)

	single, err := client.ListContents(ctx, "", "acme", "widgets", "/src/main.go", "main")
	require.NoError(t, err)
	require.Len(t, single, 1)
	assert.Equal(t, "src/main.go", single[0].Path)

	_, err = client.ListContents(ctx, "", "acme", "widgets", "missing", "main")
	assert.True(t, github.IsNotFound(err))
}

func TestClient_Download(t *testing.T) {
	client, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 100)))
	}))
	ctx := context.Background()

	data, err := client.Download(ctx, "", srv.URL+"/raw", 100)
	require.NoError(t, err)
	assert.Len(t, data, 100)

	_, err = client.Download(ctx, "", srv.URL+"/raw", 99)
	assert.ErrorIs(t, err, github.ErrTooLarge)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// recordingClient answers every request with "ok" and reports the
// Authorization header each host received.
func recordingClient(seen map[string]string) *http.Client {
	return &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		seen[r.URL.Host] = r.Header.Get("Authorization")
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader("ok")),
			Header:     make(http.Header),
			Request:    r,
		}, nil
	})}
}

func TestClient_DownloadTokenOnlyForGitHubHosts(t *testing.T) {
	ctx := context.Background()

	seen := map[string]string{}
	client := github.NewClient(github.WithHTTPClient(recordingClient(seen)), github.WithRateLimit(0, 0))
	for _, u := range []string{
		"https://raw.githubusercontent.com/acme/widgets/main/README.md",
		"https://api.github.com/repos/acme/widgets/contents/README.md",
		"https://files.example.com/README.md",
		"http://raw.githubusercontent.com/acme/widgets/main/README.md",
	} {
		_, err := client.Download(ctx, "tok-123", u, 0)
		require.NoError(t, err, u)
	}
	assert.Equal(t, "Bearer tok-123", seen["api.github.com"])
	assert.Empty(t, seen["files.example.com"])
	// The plain-http request ran last and must not carry the token either.
	assert.Empty(t, seen["raw.githubusercontent.com"])

	seen = map[string]string{}
	client = github.NewClient(github.WithHTTPClient(recordingClient(seen)), github.WithRateLimit(0, 0))
	_, err := client.Download(ctx, "tok-123", "https://raw.githubusercontent.com/acme/widgets/main/README.md", 0)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-123", seen["raw.githubusercontent.com"])

	// An enterprise token stays on the enterprise host.
	seen = map[string]string{}
	client = github.NewClient(
		github.WithBaseURL("https://ghe.example.com/api/v3"),
		github.WithHTTPClient(recordingClient(seen)),
		github.WithRateLimit(0, 0),
	)
	for _, u := range []string{
		"https://ghe.example.com/acme/widgets/raw/main/README.md",
		"https://raw.githubusercontent.com/acme/widgets/main/README.md",
	} {
		_, err := client.Download(ctx, "tok-123", u, 0)
		require.NoError(t, err, u)
	}
	assert.Equal(t, "Bearer tok-123", seen["ghe.example.com"])
	assert.Empty(t, seen["raw.githubusercontent.com"])
}

func TestClient_DownloadRedirectDropsToken(t *testing.T) {
	foreign := make(chan string, 1)
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		foreign <- r.Header.Get("Authorization")
		_, _ = w.Write([]byte("moved"))
	}))
	t.Cleanup(other.Close)

	own := make(chan string, 1)
	client, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		own <- r.Header.Get("Authorization")
		http.Redirect(w, r, other.URL+"/file", http.StatusFound)
	}))

	data, err := client.Download(context.Background(), "tok-123", srv.URL+"/raw/file", 0)
	require.NoError(t, err)
	assert.Equal(t, "moved", string(data))
	assert.Equal(t, "Bearer tok-123", <-own)
	assert.Empty(t, <-foreign)
}
