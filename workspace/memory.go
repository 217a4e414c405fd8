package workspace

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryRepository is an in-memory Repository. It is safe for concurrent
// use and enforces the same references as the Postgres schema.
type MemoryRepository struct {
	mu sync.RWMutex

	nextID        int64
	projects      map[int64]Project
	files         map[int64]File
	conversations map[int64]Conversation
	messages      map[int64]Message

	now  func() time.Time
	last time.Time
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		projects:      make(map[int64]Project),
		files:         make(map[int64]File),
		conversations: make(map[int64]Conversation),
		messages:      make(map[int64]Message),
		now:           time.Now,
	}
}

func (r *MemoryRepository) id() int64 {
	r.nextID++
	return r.nextID
}

// tick returns the current time, strictly after any time it returned
// before, so orderings by timestamp are total.
func (r *MemoryRepository) tick() time.Time {
	now := r.now().UTC()
	if !now.After(r.last) {
		now = r.last.Add(time.Nanosecond)
	}
	r.last = now
	return now
}

// CreateProject implements Repository.
func (r *MemoryRepository) CreateProject(_ context.Context, p Project) (Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.tick()
	p.ID = r.id()
	if p.ImportStatus == "" {
		p.ImportStatus = ImportCompleted
	}
	p.CreatedAt, p.UpdatedAt = now, now
	r.projects[p.ID] = p
	return p, nil
}

// GetProject implements Repository.
func (r *MemoryRepository) GetProject(_ context.Context, id int64) (Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.projects[id]
	if !ok {
		return Project{}, ErrNotFound
	}
	return p, nil
}

// ListProjects implements Repository.
func (r *MemoryRepository) ListProjects(_ context.Context, ownerID string) ([]Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Project, 0)
	for _, p := range r.projects {
		if p.OwnerID == ownerID {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b Project) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}

// SetImportStatus implements Repository.
func (r *MemoryRepository) SetImportStatus(_ context.Context, projectID int64, status ImportStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.projects[projectID]
	if !ok {
		return ErrNotFound
	}
	p.ImportStatus = status
	p.UpdatedAt = r.tick()
	r.projects[projectID] = p
	return nil
}

// CreateFile implements Repository.
func (r *MemoryRepository) CreateFile(_ context.Context, f File) (File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.projects[f.ProjectID]; !ok {
		return File{}, ErrNotFound
	}
	if f.ParentID != nil {
		if _, ok := r.files[*f.ParentID]; !ok {
			return File{}, ErrNotFound
		}
	}

	now := r.tick()
	f.ID = r.id()
	if f.Type == "" {
		f.Type = TypeFile
	}
	f.CreatedAt, f.UpdatedAt = now, now
	r.files[f.ID] = f
	return f, nil
}

// FindChild implements Repository.
func (r *MemoryRepository) FindChild(_ context.Context, projectID int64, parentID *int64, name string) (File, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found []File
	for _, f := range r.files {
		if f.ProjectID == projectID && f.Name == name && sameParent(f.ParentID, parentID) {
			found = append(found, f)
		}
	}
	if len(found) == 0 {
		return File{}, ErrNotFound
	}
	return slices.MinFunc(found, func(a, b File) int { return cmp.Compare(a.ID, b.ID) }), nil
}

func sameParent(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// ListFiles implements Repository.
func (r *MemoryRepository) ListFiles(_ context.Context, projectID int64) ([]File, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	files := make([]File, 0)
	for _, f := range r.files {
		if f.ProjectID == projectID {
			files = append(files, f)
		}
	}
	slices.SortFunc(files, func(a, b File) int { return cmp.Compare(a.ID, b.ID) })
	return files, nil
}

// CreateConversation implements Repository.
func (r *MemoryRepository) CreateConversation(_ context.Context, c Conversation) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.projects[c.ProjectID]; !ok {
		return Conversation{}, ErrNotFound
	}
	now := r.tick()
	c.ID = r.id()
	c.CreatedAt, c.UpdatedAt = now, now
	r.conversations[c.ID] = c
	return c, nil
}

// GetConversation implements Repository.
func (r *MemoryRepository) GetConversation(_ context.Context, id int64) (Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conversations[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return c, nil
}

// ListConversations implements Repository.
func (r *MemoryRepository) ListConversations(_ context.Context, projectID int64) ([]Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Conversation, 0)
	for _, c := range r.conversations {
		if c.ProjectID == projectID {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b Conversation) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}

// CreateMessage implements Repository.
func (r *MemoryRepository) CreateMessage(_ context.Context, m Message) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conversations[m.ConversationID]
	if !ok {
		return Message{}, ErrNotFound
	}

	now := r.tick()
	m.ID = r.id()
	m.CreatedAt, m.UpdatedAt = now, now
	r.messages[m.ID] = m

	c.UpdatedAt = now
	r.conversations[c.ID] = c
	return m, nil
}

// ListMessages implements Repository.
func (r *MemoryRepository) ListMessages(_ context.Context, conversationID int64) ([]Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Message, 0)
	for _, m := range r.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	slices.SortFunc(out, func(a, b Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// UpdateMessage implements Repository.
func (r *MemoryRepository) UpdateMessage(_ context.Context, id int64, content string, status MessageStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[id]
	if !ok {
		return ErrNotFound
	}
	m.Content = content
	m.Status = status
	m.UpdatedAt = r.tick()
	r.messages[id] = m
	return nil
}

// SetMessageRunID implements Repository.
func (r *MemoryRepository) SetMessageRunID(_ context.Context, id int64, runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[id]
	if !ok {
		return ErrNotFound
	}
	m.RunID = runID
	r.messages[id] = m
	return nil
}
