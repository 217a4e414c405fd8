package workspace_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dshills/devspace/github"
	"github.com/dshills/devspace/model"
	"github.com/dshills/devspace/workflow"
	"github.com/dshills/devspace/workflow/store"
	"github.com/dshills/devspace/workflow/stream"
	"github.com/dshills/devspace/workspace"
)

// fakeGitHub serves a repository tree from memory.
type fakeGitHub struct {
	mu sync.Mutex

	branch    string
	branchErr error
	listErr   error
	private   bool

	tree      map[string][]github.Content // dir path -> entries
	files     map[string][]byte           // download URL -> body
	failFetch map[string]bool             // download URL -> error

	branchCalls atomic.Int32
	listCalls   atomic.Int32
	refs        []string
}

func newFakeGitHub() *fakeGitHub {
	return &fakeGitHub{
		branch:    "main",
		tree:      make(map[string][]github.Content),
		files:     make(map[string][]byte),
		failFetch: make(map[string]bool),
	}
}

func (f *fakeGitHub) addDir(parent, name string) string {
	path := join(parent, name)
	f.tree[parent] = append(f.tree[parent], github.Content{Type: "dir", Name: name, Path: path})
	return path
}

func (f *fakeGitHub) addFile(dir, name string, body []byte) string {
	path := join(dir, name)
	url := "https://raw.example.com/" + path
	f.tree[dir] = append(f.tree[dir], github.Content{
		Type: "file", Name: name, Path: path, Size: int64(len(body)), DownloadURL: url,
	})
	f.files[url] = body
	return url
}

func join(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

func (f *fakeGitHub) CanAccess(_ context.Context, token, _, _ string) (bool, error) {
	return !f.private || token != "", nil
}

func (f *fakeGitHub) DefaultBranch(context.Context, string, string, string) (string, error) {
	f.branchCalls.Add(1)
	if f.branchErr != nil {
		return "", f.branchErr
	}
	return f.branch, nil
}

func (f *fakeGitHub) ListContents(_ context.Context, _, _, _, path, ref string) ([]github.Content, error) {
	f.listCalls.Add(1)
	f.mu.Lock()
	f.refs = append(f.refs, ref)
	f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	entries, ok := f.tree[path]
	if !ok {
		return nil, &github.APIError{StatusCode: http.StatusNotFound, Method: http.MethodGet, URL: path}
	}
	return entries, nil
}

func (f *fakeGitHub) Download(_ context.Context, _, url string, limit int64) ([]byte, error) {
	if f.failFetch[url] {
		return nil, fmt.Errorf("fetch %s: connection reset", url)
	}
	body, ok := f.files[url]
	if !ok {
		return nil, errors.New("unknown url")
	}
	if limit > 0 && int64(len(body)) > limit {
		return nil, github.ErrTooLarge
	}
	return body, nil
}

// memBlobs records uploads.
type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	n       int
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: make(map[string][]byte)}
}

func (b *memBlobs) Upload(_ context.Context, data []byte, name string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.n++
	url := fmt.Sprintf("/uploads/%d-%s", b.n, name)
	b.objects[url] = data
	return url, nil
}

func (b *memBlobs) Delete(_ context.Context, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, url)
	return nil
}

// gatedModel holds the stream until release is closed, so a test can attach
// to the output channel before any chunk is produced.
type gatedModel struct {
	*model.MockModel
	release chan struct{}
}

func (g *gatedModel) Stream(ctx context.Context, messages []model.Message) (model.TextStream, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.MockModel.Stream(ctx, messages)
}

type env struct {
	svc      *workspace.Service
	engine   *workflow.Engine
	ledger   *store.MemStore
	registry *stream.Registry
	repo     *workspace.MemoryRepository
	github   *fakeGitHub
	tokens   *workspace.StaticTokens
	blobs    *memBlobs
}

func newEnv(t *testing.T, m model.StreamingModel) *env {
	t.Helper()
	e := &env{
		ledger:   store.NewMemStore(),
		registry: stream.NewRegistry(),
		repo:     workspace.NewMemoryRepository(),
		github:   newFakeGitHub(),
		tokens:   workspace.NewStaticTokens(""),
		blobs:    newMemBlobs(),
	}
	engine, err := workflow.New(e.ledger, e.registry)
	require.NoError(t, err)
	e.engine = engine
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = engine.Shutdown(ctx)
	})

	e.svc, err = workspace.NewService(engine, workspace.Deps{
		Repo:    e.repo,
		Model:   m,
		GitHub:  e.github,
		Tokens:  e.tokens,
		Storage: e.blobs,
	})
	require.NoError(t, err)
	return e
}

func (e *env) wait(t *testing.T, runID string) store.Run {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	run, err := e.engine.Wait(ctx, runID)
	require.NoError(t, err)
	return run
}

func (e *env) project(t *testing.T, owner string) workspace.Project {
	t.Helper()
	p, err := e.repo.CreateProject(context.Background(), workspace.Project{Name: "demo", OwnerID: owner})
	require.NoError(t, err)
	return p
}
