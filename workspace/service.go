package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/dshills/devspace/github"
	"github.com/dshills/devspace/model"
	"github.com/dshills/devspace/workflow"
)

var (
	// ErrForbidden is returned when the caller does not own the project.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidInput is returned for malformed requests.
	ErrInvalidInput = errors.New("invalid input")
)

// AccessError is returned by Import when the repository cannot be read.
// Authenticated tells whether the request carried the user's token.
type AccessError struct {
	Owner, Repo   string
	Authenticated bool
}

func (e *AccessError) Error() string {
	if e.Authenticated {
		return "Cannot access this repository. Make sure it exists and you have permission to read it."
	}
	return "Cannot access this repository. If it is private, sign in with GitHub first."
}

// titleLength is the number of runes kept from the first message when
// titling a new conversation.
const titleLength = 20

// Deps are the collaborators of a Service.
type Deps struct {
	Repo    Repository
	Model   model.StreamingModel
	GitHub  GitHubClient
	Tokens  AccessTokens
	Storage BlobStorage
	Logger  *slog.Logger
}

// Service implements the workspace operations behind the HTTP API.
type Service struct {
	repo   Repository
	engine *workflow.Engine
	github GitHubClient
	tokens AccessTokens
	logger *slog.Logger
}

// NewService registers the generate-reply and github-import workflows on
// engine and returns a Service that starts them.
func NewService(engine *workflow.Engine, deps Deps) (*Service, error) {
	if deps.Repo == nil || deps.Model == nil || deps.GitHub == nil || deps.Storage == nil {
		return nil, fmt.Errorf("%w: repository, model, github client and storage are required", ErrInvalidInput)
	}
	if deps.Tokens == nil {
		deps.Tokens = NewStaticTokens("")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	reply := &replyWorkflow{repo: deps.Repo, model: deps.Model, logger: deps.Logger}
	if err := workflow.Register(engine, reply.definition()); err != nil {
		return nil, err
	}
	imp := &importWorkflow{
		repo:    deps.Repo,
		github:  deps.GitHub,
		tokens:  deps.Tokens,
		storage: deps.Storage,
		logger:  deps.Logger,
	}
	if err := workflow.Register(engine, imp.definition()); err != nil {
		return nil, err
	}

	return &Service{
		repo:   deps.Repo,
		engine: engine,
		github: deps.GitHub,
		tokens: deps.Tokens,
		logger: deps.Logger,
	}, nil
}

// SendMessageInput is the body of a send-message request.
type SendMessageInput struct {
	ProjectID int64 `json:"projectId"`

	// ConversationID is zero to start a new conversation.
	ConversationID int64  `json:"conversationId,omitempty"`
	Message        string `json:"message"`
}

// SendMessageResult identifies the reply being generated.
type SendMessageResult struct {
	ConversationID int64  `json:"conversationId"`
	MessageID      int64  `json:"messageId"`
	RunID          string `json:"runId"`
}

// SendMessage stores the user's message and an empty processing reply, then
// starts generate-reply. The caller attaches to the run's stream with the
// returned RunID.
func (s *Service) SendMessage(ctx context.Context, userID string, in SendMessageInput) (SendMessageResult, error) {
	if strings.TrimSpace(in.Message) == "" {
		return SendMessageResult{}, fmt.Errorf("%w: message is empty", ErrInvalidInput)
	}
	if _, err := s.Project(ctx, userID, in.ProjectID); err != nil {
		return SendMessageResult{}, err
	}

	conversationID := in.ConversationID
	if conversationID == 0 {
		conv, err := s.repo.CreateConversation(ctx, Conversation{
			ProjectID: in.ProjectID,
			Title:     truncate(in.Message, titleLength),
		})
		if err != nil {
			return SendMessageResult{}, fmt.Errorf("create conversation: %w", err)
		}
		conversationID = conv.ID
	} else {
		conv, err := s.repo.GetConversation(ctx, conversationID)
		if err != nil {
			return SendMessageResult{}, err
		}
		if conv.ProjectID != in.ProjectID {
			return SendMessageResult{}, ErrForbidden
		}
	}

	if _, err := s.repo.CreateMessage(ctx, Message{
		ConversationID: conversationID,
		Role:           model.RoleUser,
		Content:        in.Message,
		Status:         MessageCompleted,
	}); err != nil {
		return SendMessageResult{}, fmt.Errorf("create user message: %w", err)
	}
	reply, err := s.repo.CreateMessage(ctx, Message{
		ConversationID: conversationID,
		Role:           model.RoleAssistant,
		Status:         MessageProcessing,
	})
	if err != nil {
		return SendMessageResult{}, fmt.Errorf("create reply: %w", err)
	}

	run, err := s.engine.Start(ctx, ReplyWorkflow, ReplyRun{ConversationID: conversationID, MessageID: reply.ID})
	if err != nil {
		// Nothing will ever complete the reply.
		_ = s.repo.UpdateMessage(context.WithoutCancel(ctx), reply.ID, ApologyMessage, MessageCancelled)
		return SendMessageResult{}, fmt.Errorf("start reply: %w", err)
	}
	if err := s.repo.SetMessageRunID(ctx, reply.ID, run.RunID); err != nil {
		s.logger.Warn("record reply run id", "message_id", reply.ID, "run_id", run.RunID, "error", err)
	}

	return SendMessageResult{ConversationID: conversationID, MessageID: reply.ID, RunID: run.RunID}, nil
}

// ImportResult identifies the project being imported.
type ImportResult struct {
	ProjectID int64  `json:"projectId"`
	RunID     string `json:"runId"`
}

// Import checks that the repository behind rawURL is readable, creates a
// project in the importing state, and starts github-import.
func (s *Service) Import(ctx context.Context, userID, rawURL string) (ImportResult, error) {
	repo, ok := github.ParseURL(strings.TrimSpace(rawURL))
	if !ok {
		return ImportResult{}, fmt.Errorf("%w: not a GitHub repository URL", ErrInvalidInput)
	}

	token, err := s.tokens.GitHubToken(ctx, userID)
	if err != nil {
		return ImportResult{}, fmt.Errorf("resolve access token: %w", err)
	}
	canAccess, err := s.github.CanAccess(ctx, token, repo.Owner, repo.Name)
	if err != nil {
		return ImportResult{}, fmt.Errorf("check repository access: %w", err)
	}
	if !canAccess {
		return ImportResult{}, &AccessError{Owner: repo.Owner, Repo: repo.Name, Authenticated: token != ""}
	}

	project, err := s.repo.CreateProject(ctx, Project{
		Name:         repo.Name,
		OwnerID:      userID,
		ImportStatus: ImportImporting,
	})
	if err != nil {
		return ImportResult{}, fmt.Errorf("create project: %w", err)
	}

	run, err := s.engine.Start(ctx, ImportWorkflow, ImportRun{
		ProjectID: project.ID,
		UserID:    userID,
		Owner:     repo.Owner,
		Repo:      repo.Name,
		Branch:    repo.Branch,
		Path:      repo.Path,
	})
	if err != nil {
		_ = s.repo.SetImportStatus(context.WithoutCancel(ctx), project.ID, ImportFailed)
		return ImportResult{}, fmt.Errorf("start import: %w", err)
	}
	return ImportResult{ProjectID: project.ID, RunID: run.RunID}, nil
}

// maxProjectName bounds project names in runes.
const maxProjectName = 100

// CreateProject creates an empty project owned by userID. It starts in the
// completed import state, so it can be chatted against right away.
func (s *Service) CreateProject(ctx context.Context, userID, name string) (Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Project{}, fmt.Errorf("%w: project name is empty", ErrInvalidInput)
	}
	if utf8.RuneCountInString(name) > maxProjectName {
		return Project{}, fmt.Errorf("%w: project name is longer than %d characters", ErrInvalidInput, maxProjectName)
	}
	p, err := s.repo.CreateProject(ctx, Project{
		Name:         name,
		OwnerID:      userID,
		ImportStatus: ImportCompleted,
	})
	if err != nil {
		return Project{}, fmt.Errorf("create project: %w", err)
	}
	s.logger.Info("project created", "project_id", p.ID, "user", userID)
	return p, nil
}

// Projects lists the projects userID owns, most recently updated first.
func (s *Service) Projects(ctx context.Context, userID string) ([]Project, error) {
	return s.repo.ListProjects(ctx, userID)
}

// Project returns a project owned by userID.
func (s *Service) Project(ctx context.Context, userID string, id int64) (Project, error) {
	p, err := s.repo.GetProject(ctx, id)
	if err != nil {
		return Project{}, err
	}
	if p.OwnerID != userID {
		return Project{}, ErrForbidden
	}
	return p, nil
}

// Files returns the file tree of a project owned by userID.
func (s *Service) Files(ctx context.Context, userID string, projectID int64) ([]File, error) {
	if _, err := s.Project(ctx, userID, projectID); err != nil {
		return nil, err
	}
	return s.repo.ListFiles(ctx, projectID)
}

// Conversations lists a project's conversations, most recent first.
func (s *Service) Conversations(ctx context.Context, userID string, projectID int64) ([]Conversation, error) {
	if _, err := s.Project(ctx, userID, projectID); err != nil {
		return nil, err
	}
	return s.repo.ListConversations(ctx, projectID)
}

// ConversationWithMessages is a conversation and its ordered messages.
type ConversationWithMessages struct {
	Conversation
	Messages []Message `json:"messages"`
}

// Conversation loads a conversation whose project userID owns.
func (s *Service) Conversation(ctx context.Context, userID string, id int64) (ConversationWithMessages, error) {
	conv, err := s.repo.GetConversation(ctx, id)
	if err != nil {
		return ConversationWithMessages{}, err
	}
	if _, err := s.Project(ctx, userID, conv.ProjectID); err != nil {
		return ConversationWithMessages{}, err
	}
	msgs, err := s.repo.ListMessages(ctx, id)
	if err != nil {
		return ConversationWithMessages{}, err
	}
	return ConversationWithMessages{Conversation: conv, Messages: msgs}, nil
}

// truncate keeps the first n runes of s and marks the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
