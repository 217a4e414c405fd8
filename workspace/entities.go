// Package workspace holds the coding-workspace domain: projects and their
// file trees, AI conversations, and the workflows that generate replies and
// import GitHub repositories.
package workspace

import "time"

// ImportStatus tracks a project created from a GitHub import.
type ImportStatus string

const (
	ImportCompleted ImportStatus = "completed"
	ImportFailed    ImportStatus = "failed"
	ImportImporting ImportStatus = "importing"
)

// Project is a user's workspace.
type Project struct {
	ID           int64        `json:"id"`
	Name         string       `json:"name"`
	OwnerID      string       `json:"ownerId"`
	ImportStatus ImportStatus `json:"importStatus"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// FileType distinguishes tree leaves from folders.
type FileType string

const (
	TypeFile   FileType = "file"
	TypeFolder FileType = "folder"
)

// File is one row of a project's file tree. Text files carry Content;
// binary files live in blob storage and carry FileURL and MimeType.
type File struct {
	ID        int64    `json:"id"`
	ProjectID int64    `json:"projectId"`
	ParentID  *int64   `json:"parentId"`
	Name      string   `json:"name"`
	Type      FileType `json:"type"`
	Content   string   `json:"content"`
	MimeType  string   `json:"mimeType,omitempty"`
	FileURL   string   `json:"fileUrl,omitempty"`

	// IsOpen means expanded for folders and open in the editor for files.
	IsOpen bool `json:"isOpen"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Conversation is an AI chat attached to a project.
type Conversation struct {
	ID        int64     `json:"id"`
	ProjectID int64     `json:"projectId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MessageStatus tracks assistant replies. User messages are always
// completed.
type MessageStatus string

const (
	MessageProcessing MessageStatus = "processing"
	MessageCompleted  MessageStatus = "completed"
	MessageCancelled  MessageStatus = "cancelled"
)

// Message is one turn of a conversation.
type Message struct {
	ID             int64         `json:"id"`
	ConversationID int64         `json:"conversationId"`
	Role           string        `json:"role"`
	Content        string        `json:"content"`
	Status         MessageStatus `json:"status"`

	// RunID is the generate-reply run producing a processing message. A
	// reloading client uses it to re-attach to the stream.
	RunID string `json:"runId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
