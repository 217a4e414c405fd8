package workspace_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dshills/devspace/workspace"
)

// runRepositoryContract checks the behaviour every Repository must share.
func runRepositoryContract(t *testing.T, repo workspace.Repository) {
	ctx := context.Background()

	t.Run("projects", func(t *testing.T) {
		p, err := repo.CreateProject(ctx, workspace.Project{Name: "widgets", OwnerID: "u1"})
		require.NoError(t, err)
		assert.NotZero(t, p.ID)
		assert.Equal(t, workspace.ImportCompleted, p.ImportStatus)

		require.NoError(t, repo.SetImportStatus(ctx, p.ID, workspace.ImportFailed))
		got, err := repo.GetProject(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, workspace.ImportFailed, got.ImportStatus)
		assert.Equal(t, "u1", got.OwnerID)

		_, err = repo.GetProject(ctx, p.ID+1000)
		assert.ErrorIs(t, err, workspace.ErrNotFound)
		assert.ErrorIs(t, repo.SetImportStatus(ctx, p.ID+1000, workspace.ImportFailed), workspace.ErrNotFound)
	})

	t.Run("projects by owner", func(t *testing.T) {
		empty, err := repo.ListProjects(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, empty)

		older, err := repo.CreateProject(ctx, workspace.Project{Name: "older", OwnerID: "lister"})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
		newer, err := repo.CreateProject(ctx, workspace.Project{Name: "newer", OwnerID: "lister"})
		require.NoError(t, err)
		_, err = repo.CreateProject(ctx, workspace.Project{Name: "theirs", OwnerID: "someone-else"})
		require.NoError(t, err)

		list, err := repo.ListProjects(ctx, "lister")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, newer.ID, list[0].ID)
		assert.Equal(t, older.ID, list[1].ID)

		// Touching the older project moves it to the front.
		time.Sleep(2 * time.Millisecond)
		require.NoError(t, repo.SetImportStatus(ctx, older.ID, workspace.ImportCompleted))
		list, err = repo.ListProjects(ctx, "lister")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, older.ID, list[0].ID)
		assert.Equal(t, "older", list[0].Name)
	})

	t.Run("file tree", func(t *testing.T) {
		p, err := repo.CreateProject(ctx, workspace.Project{Name: "tree", OwnerID: "u1"})
		require.NoError(t, err)

		src, err := repo.CreateFile(ctx, workspace.File{ProjectID: p.ID, Name: "src", Type: workspace.TypeFolder})
		require.NoError(t, err)
		main, err := repo.CreateFile(ctx, workspace.File{ProjectID: p.ID, ParentID: &src.ID, Name: "main.go", Content: "package main"})
		require.NoError(t, err)
		assert.Equal(t, workspace.TypeFile, main.Type)
		_, err = repo.CreateFile(ctx, workspace.File{ProjectID: p.ID, Name: "logo.png", FileURL: "/uploads/x.png", MimeType: "image/png"})
		require.NoError(t, err)

		found, err := repo.FindChild(ctx, p.ID, nil, "src")
		require.NoError(t, err)
		assert.Equal(t, src.ID, found.ID)

		found, err = repo.FindChild(ctx, p.ID, &src.ID, "main.go")
		require.NoError(t, err)
		assert.Equal(t, main.ID, found.ID)

		_, err = repo.FindChild(ctx, p.ID, nil, "main.go")
		assert.ErrorIs(t, err, workspace.ErrNotFound)

		files, err := repo.ListFiles(ctx, p.ID)
		require.NoError(t, err)
		require.Len(t, files, 3)
		assert.Equal(t, "src", files[0].Name)
		assert.Nil(t, files[0].ParentID)
		require.NotNil(t, files[1].ParentID)
		assert.Equal(t, src.ID, *files[1].ParentID)
		assert.Equal(t, "package main", files[1].Content)
		assert.Equal(t, "image/png", files[2].MimeType)

		_, err = repo.CreateFile(ctx, workspace.File{ProjectID: p.ID + 1000, Name: "orphan"})
		assert.ErrorIs(t, err, workspace.ErrNotFound)
	})

	t.Run("conversations and messages", func(t *testing.T) {
		p, err := repo.CreateProject(ctx, workspace.Project{Name: "chat", OwnerID: "u1"})
		require.NoError(t, err)

		first, err := repo.CreateConversation(ctx, workspace.Conversation{ProjectID: p.ID, Title: "first"})
		require.NoError(t, err)
		second, err := repo.CreateConversation(ctx, workspace.Conversation{ProjectID: p.ID, Title: "second"})
		require.NoError(t, err)

		list, err := repo.ListConversations(ctx, p.ID)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, second.ID, list[0].ID)

		// A new message moves its conversation to the top.
		time.Sleep(2 * time.Millisecond)
		q, err := repo.CreateMessage(ctx, workspace.Message{ConversationID: first.ID, Role: "user", Content: "hi", Status: workspace.MessageCompleted})
		require.NoError(t, err)
		a, err := repo.CreateMessage(ctx, workspace.Message{ConversationID: first.ID, Role: "assistant", Status: workspace.MessageProcessing})
		require.NoError(t, err)

		list, err = repo.ListConversations(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, first.ID, list[0].ID)

		require.NoError(t, repo.SetMessageRunID(ctx, a.ID, "run-1"))
		require.NoError(t, repo.UpdateMessage(ctx, a.ID, "hello", workspace.MessageCompleted))

		msgs, err := repo.ListMessages(ctx, first.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, q.ID, msgs[0].ID)
		assert.Equal(t, "hello", msgs[1].Content)
		assert.Equal(t, workspace.MessageCompleted, msgs[1].Status)
		assert.Equal(t, "run-1", msgs[1].RunID)

		_, err = repo.CreateMessage(ctx, workspace.Message{ConversationID: second.ID + 1000, Role: "user", Status: workspace.MessageCompleted})
		assert.ErrorIs(t, err, workspace.ErrNotFound)
		assert.ErrorIs(t, repo.UpdateMessage(ctx, a.ID+1000, "", workspace.MessageCancelled), workspace.ErrNotFound)
	})
}

func TestMemoryRepository_Contract(t *testing.T) {
	runRepositoryContract(t, workspace.NewMemoryRepository())
}

func TestPostgresRepository_Contract(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("devspace"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Errorf("failed to terminate container: %s", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	repo := workspace.NewPostgresRepository(pool)
	require.NoError(t, repo.Migrate(ctx))
	// Migrate is idempotent.
	require.NoError(t, repo.Migrate(ctx))

	runRepositoryContract(t, repo)
}
