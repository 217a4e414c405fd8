package workspace

import (
	"context"
	"sync"

	"github.com/dshills/devspace/github"
)

// GitHubClient reads repositories. *github.Client implements it.
type GitHubClient interface {
	CanAccess(ctx context.Context, token, owner, repo string) (bool, error)
	DefaultBranch(ctx context.Context, token, owner, repo string) (string, error)
	ListContents(ctx context.Context, token, owner, repo, path, ref string) ([]github.Content, error)
	Download(ctx context.Context, token, downloadURL string, limit int64) ([]byte, error)
}

// AccessTokens resolves the GitHub token linked to a user. An empty token
// with a nil error means the user has none and requests go out anonymously.
type AccessTokens interface {
	GitHubToken(ctx context.Context, userID string) (string, error)
}

// BlobStorage stores binary files. *blob.LocalStorage implements it.
type BlobStorage interface {
	Upload(ctx context.Context, data []byte, name string) (string, error)
	Delete(ctx context.Context, url string) error
}

// StaticTokens is an AccessTokens backed by a map, with an optional
// fallback token for users without their own.
type StaticTokens struct {
	mu       sync.RWMutex
	tokens   map[string]string
	fallback string
}

// NewStaticTokens creates a StaticTokens that returns fallback for unknown
// users.
func NewStaticTokens(fallback string) *StaticTokens {
	return &StaticTokens{tokens: make(map[string]string), fallback: fallback}
}

// Set links token to userID.
func (s *StaticTokens) Set(userID, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[userID] = token
}

// GitHubToken implements AccessTokens.
func (s *StaticTokens) GitHubToken(_ context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if tok, ok := s.tokens[userID]; ok {
		return tok, nil
	}
	return s.fallback, nil
}
