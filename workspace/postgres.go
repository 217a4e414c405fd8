package workspace

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS project (
	id            BIGSERIAL PRIMARY KEY,
	name          TEXT NOT NULL,
	owner_id      TEXT NOT NULL,
	import_status TEXT NOT NULL DEFAULT 'completed',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS project_owner_idx ON project (owner_id, updated_at);

CREATE TABLE IF NOT EXISTS file (
	id         BIGSERIAL PRIMARY KEY,
	project_id BIGINT NOT NULL REFERENCES project(id) ON DELETE CASCADE,
	parent_id  BIGINT REFERENCES file(id) ON DELETE CASCADE,
	name       TEXT NOT NULL,
	type       TEXT NOT NULL DEFAULT 'file',
	content    TEXT NOT NULL DEFAULT '',
	mime_type  TEXT NOT NULL DEFAULT '',
	file_url   TEXT NOT NULL DEFAULT '',
	is_open    BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS file_parent_name_idx ON file (project_id, parent_id, name);

CREATE TABLE IF NOT EXISTS conversation (
	id         BIGSERIAL PRIMARY KEY,
	project_id BIGINT NOT NULL REFERENCES project(id) ON DELETE CASCADE,
	title      TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS message (
	id              BIGSERIAL PRIMARY KEY,
	conversation_id BIGINT NOT NULL REFERENCES conversation(id) ON DELETE CASCADE,
	role            TEXT NOT NULL DEFAULT 'assistant',
	content         TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	run_id          TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS message_conversation_idx ON message (conversation_id, created_at);
`

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository wraps an existing pool.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// OpenPostgres connects to dsn and bootstraps the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	repo := NewPostgresRepository(pool)
	if err := repo.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

// Migrate creates the tables if they don't exist.
func (s *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("create workspace schema: %w", err)
	}
	return nil
}

// Close closes the pool.
func (s *PostgresRepository) Close() {
	s.db.Close()
}

// CreateProject implements Repository.
func (s *PostgresRepository) CreateProject(ctx context.Context, p Project) (Project, error) {
	if p.ImportStatus == "" {
		p.ImportStatus = ImportCompleted
	}
	err := s.db.QueryRow(ctx,
		`INSERT INTO project (name, owner_id, import_status) VALUES ($1, $2, $3)
		 RETURNING id, created_at, updated_at`,
		p.Name, p.OwnerID, string(p.ImportStatus),
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Project{}, fmt.Errorf("insert project: %w", err)
	}
	return p, nil
}

// GetProject implements Repository.
func (s *PostgresRepository) GetProject(ctx context.Context, id int64) (Project, error) {
	var p Project
	err := s.db.QueryRow(ctx,
		`SELECT id, name, owner_id, import_status, created_at, updated_at FROM project WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.OwnerID, &p.ImportStatus, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Project{}, notFound(err, "project")
	}
	return p, nil
}

// ListProjects implements Repository.
func (s *PostgresRepository) ListProjects(ctx context.Context, ownerID string) ([]Project, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, name, owner_id, import_status, created_at, updated_at FROM project
		 WHERE owner_id = $1 ORDER BY updated_at DESC, id DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	out := make([]Project, 0)
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.OwnerID, &p.ImportStatus, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetImportStatus implements Repository.
func (s *PostgresRepository) SetImportStatus(ctx context.Context, projectID int64, status ImportStatus) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE project SET import_status = $1, updated_at = now() WHERE id = $2`, string(status), projectID)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const fileColumns = `id, project_id, parent_id, name, type, content, mime_type, file_url, is_open, created_at, updated_at`

func scanFile(row pgx.Row) (File, error) {
	var f File
	err := row.Scan(&f.ID, &f.ProjectID, &f.ParentID, &f.Name, &f.Type, &f.Content,
		&f.MimeType, &f.FileURL, &f.IsOpen, &f.CreatedAt, &f.UpdatedAt)
	return f, err
}

// CreateFile implements Repository.
func (s *PostgresRepository) CreateFile(ctx context.Context, f File) (File, error) {
	if f.Type == "" {
		f.Type = TypeFile
	}
	err := s.db.QueryRow(ctx,
		`INSERT INTO file (project_id, parent_id, name, type, content, mime_type, file_url, is_open)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at, updated_at`,
		f.ProjectID, f.ParentID, f.Name, string(f.Type), f.Content, f.MimeType, f.FileURL, f.IsOpen,
	).Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return File{}, notFound(err, "file")
	}
	return f, nil
}

// FindChild implements Repository.
func (s *PostgresRepository) FindChild(ctx context.Context, projectID int64, parentID *int64, name string) (File, error) {
	f, err := scanFile(s.db.QueryRow(ctx,
		`SELECT `+fileColumns+` FROM file
		 WHERE project_id = $1 AND parent_id IS NOT DISTINCT FROM $2 AND name = $3
		 ORDER BY id LIMIT 1`,
		projectID, parentID, name))
	if err != nil {
		return File{}, notFound(err, "file")
	}
	return f, nil
}

// ListFiles implements Repository.
func (s *PostgresRepository) ListFiles(ctx context.Context, projectID int64) ([]File, error) {
	rows, err := s.db.Query(ctx, `SELECT `+fileColumns+` FROM file WHERE project_id = $1 ORDER BY id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	files := make([]File, 0)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// CreateConversation implements Repository.
func (s *PostgresRepository) CreateConversation(ctx context.Context, c Conversation) (Conversation, error) {
	err := s.db.QueryRow(ctx,
		`INSERT INTO conversation (project_id, title) VALUES ($1, $2) RETURNING id, created_at, updated_at`,
		c.ProjectID, c.Title,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Conversation{}, notFound(err, "conversation")
	}
	return c, nil
}

// GetConversation implements Repository.
func (s *PostgresRepository) GetConversation(ctx context.Context, id int64) (Conversation, error) {
	var c Conversation
	err := s.db.QueryRow(ctx,
		`SELECT id, project_id, title, created_at, updated_at FROM conversation WHERE id = $1`, id,
	).Scan(&c.ID, &c.ProjectID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Conversation{}, notFound(err, "conversation")
	}
	return c, nil
}

// ListConversations implements Repository.
func (s *PostgresRepository) ListConversations(ctx context.Context, projectID int64) ([]Conversation, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, project_id, title, created_at, updated_at FROM conversation
		 WHERE project_id = $1 ORDER BY updated_at DESC, id DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	out := make([]Conversation, 0)
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateMessage implements Repository.
func (s *PostgresRepository) CreateMessage(ctx context.Context, m Message) (Message, error) {
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO message (conversation_id, role, content, status, run_id)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id, created_at, updated_at`,
			m.ConversationID, m.Role, m.Content, string(m.Status), m.RunID,
		).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE conversation SET updated_at = now() WHERE id = $1`, m.ConversationID)
		return err
	})
	if err != nil {
		return Message{}, notFound(err, "message")
	}
	return m, nil
}

// ListMessages implements Repository.
func (s *PostgresRepository) ListMessages(ctx context.Context, conversationID int64) ([]Message, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, conversation_id, role, content, status, run_id, created_at, updated_at
		 FROM message WHERE conversation_id = $1 ORDER BY created_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.Status, &m.RunID, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateMessage implements Repository.
func (s *PostgresRepository) UpdateMessage(ctx context.Context, id int64, content string, status MessageStatus) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE message SET content = $1, status = $2, updated_at = now() WHERE id = $3`, content, string(status), id)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetMessageRunID implements Repository.
func (s *PostgresRepository) SetMessageRunID(ctx context.Context, id int64, runID string) error {
	tag, err := s.db.Exec(ctx, `UPDATE message SET run_id = $1 WHERE id = $2`, runID, id)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// notFound maps missing rows and foreign key violations to ErrNotFound.
func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return fmt.Errorf("%s references a missing row: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}
