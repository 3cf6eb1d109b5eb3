package store

import (
	"encoding/json"
	"time"
)

type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Post is the unit of authorship. A nil FolderID means the draft is
// unfiled; IsDeleted hides the row from every listing without purging it.
type Post struct {
	ID           string
	AuthorID     string
	FolderID     *string
	Title        string
	Slug         string
	Content      json.RawMessage
	Status       string
	PublishedAt  *time.Time
	Excerpt      string
	Tags         []string
	ThumbnailURL string
	ThumbnailAlt string
	IsDeleted    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Folder struct {
	ID        string
	OwnerID   string
	Name      string
	Slug      string
	CreatedAt time.Time
}

// PostVersion is an append-only snapshot row. Rows are never updated or
// deleted once written.
type PostVersion struct {
	ID        int64
	PostID    string
	ActorID   string
	Title     string
	Content   json.RawMessage
	CreatedAt time.Time
}

// PublishMetadata is the payload required to move a post to published.
type PublishMetadata struct {
	Title        string
	Summary      string
	Tags         []string
	ThumbnailURL string
	ThumbnailAlt string
}

const (
	StatusDraft     = "draft"
	StatusPublished = "published"
)
