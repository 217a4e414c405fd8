package workspace

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a project, file, conversation or message does
// not exist.
var ErrNotFound = errors.New("not found")

// Repository persists workspace entities.
//
// Implementations:
//   - MemoryRepository: in-memory, for tests and development
//   - PostgresRepository: production storage (jackc/pgx)
type Repository interface {
	CreateProject(ctx context.Context, p Project) (Project, error)
	GetProject(ctx context.Context, id int64) (Project, error)

	// ListProjects returns the projects owned by ownerID, most recently
	// updated first.
	ListProjects(ctx context.Context, ownerID string) ([]Project, error)
	SetImportStatus(ctx context.Context, projectID int64, status ImportStatus) error

	CreateFile(ctx context.Context, f File) (File, error)

	// FindChild returns the row named name directly under parentID (nil for
	// the project root). Returns ErrNotFound when there is none.
	FindChild(ctx context.Context, projectID int64, parentID *int64, name string) (File, error)

	// ListFiles returns every row of the project's tree ordered by ID.
	ListFiles(ctx context.Context, projectID int64) ([]File, error)

	CreateConversation(ctx context.Context, c Conversation) (Conversation, error)
	GetConversation(ctx context.Context, id int64) (Conversation, error)

	// ListConversations returns the project's conversations, most recently
	// updated first.
	ListConversations(ctx context.Context, projectID int64) ([]Conversation, error)

	// CreateMessage inserts a message and bumps its conversation's
	// UpdatedAt.
	CreateMessage(ctx context.Context, m Message) (Message, error)

	// ListMessages returns a conversation's messages oldest first.
	ListMessages(ctx context.Context, conversationID int64) ([]Message, error)

	// UpdateMessage replaces a message's content and status.
	UpdateMessage(ctx context.Context, id int64, content string, status MessageStatus) error

	SetMessageRunID(ctx context.Context, id int64, runID string) error
}
