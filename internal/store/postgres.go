package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"quillpad/api/internal/util"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// visiblePosts is the single soft-delete predicate; every post read goes
// through it so no listing can forget the is_deleted check.
const visiblePosts = `is_deleted = FALSE`

const postColumns = `
	id, author_id, folder_id, title, slug, content_json, status,
	published_at, excerpt, tags, thumbnail_url, thumbnail_alt,
	is_deleted, created_at, updated_at
`

func scanPost(row interface{ Scan(...any) error }) (Post, error) {
	var item Post
	var content []byte
	var tagsRaw []byte
	err := row.Scan(
		&item.ID,
		&item.AuthorID,
		&item.FolderID,
		&item.Title,
		&item.Slug,
		&content,
		&item.Status,
		&item.PublishedAt,
		&item.Excerpt,
		&tagsRaw,
		&item.ThumbnailURL,
		&item.ThumbnailAlt,
		&item.IsDeleted,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Post{}, err
	}
	item.Content = json.RawMessage(content)
	item.Tags = []string{}
	if len(tagsRaw) > 0 {
		if err := json.Unmarshal(tagsRaw, &item.Tags); err != nil {
			return Post{}, fmt.Errorf("decode post tags: %w", err)
		}
	}
	return item, nil
}

func (s *PostgresStore) ListDrafts(ctx context.Context) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+postColumns+`
		FROM posts
		WHERE status = 'draft' AND `+visiblePosts+`
		ORDER BY updated_at DESC
		LIMIT 100
	`)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	return collectPosts(rows)
}

func (s *PostgresStore) ListPublished(ctx context.Context) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+postColumns+`
		FROM posts
		WHERE status = 'published' AND `+visiblePosts+`
		ORDER BY published_at DESC
		LIMIT 100
	`)
	if err != nil {
		return nil, fmt.Errorf("list published posts: %w", err)
	}
	return collectPosts(rows)
}

func collectPosts(rows *sql.Rows) ([]Post, error) {
	defer rows.Close()
	items := make([]Post, 0)
	for rows.Next() {
		item, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetPost(ctx context.Context, postID string) (Post, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+postColumns+`
		FROM posts
		WHERE id = $1 AND `+visiblePosts+`
	`, postID)
	return scanPost(row)
}

func (s *PostgresStore) GetPostBySlug(ctx context.Context, slug string) (Post, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+postColumns+`
		FROM posts
		WHERE slug = $1 AND `+visiblePosts+`
	`, slug)
	return scanPost(row)
}

func (s *PostgresStore) InsertPost(ctx context.Context, item Post) error {
	tags := item.Tags
	if tags == nil {
		tags = []string{}
	}
	encodedTags, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("marshal post tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO posts (id, author_id, folder_id, title, slug, content_json, status, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, item.ID, item.AuthorID, item.FolderID, item.Title, item.Slug, string(item.Content), item.Status, string(encodedTags))
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	return nil
}

// UpdatePostContent is the autosave write: title and content only.
func (s *PostgresStore) UpdatePostContent(ctx context.Context, postID, title string, content json.RawMessage) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE posts
		SET title = $2, content_json = $3, updated_at = NOW()
		WHERE id = $1 AND `+visiblePosts+`
	`, postID, title, string(content))
	if err != nil {
		return fmt.Errorf("update post content: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) UpdatePostTitle(ctx context.Context, postID, title string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE posts
		SET title = $2, updated_at = NOW()
		WHERE id = $1 AND `+visiblePosts+`
	`, postID, title)
	if err != nil {
		return fmt.Errorf("update post title: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) MovePostToFolder(ctx context.Context, postID string, folderID *string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE posts
		SET folder_id = $2, updated_at = NOW()
		WHERE id = $1 AND `+visiblePosts+`
	`, postID, folderID)
	if err != nil {
		return fmt.Errorf("move post: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) SoftDeletePost(ctx context.Context, postID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE posts
		SET is_deleted = TRUE, updated_at = NOW()
		WHERE id = $1 AND `+visiblePosts+`
	`, postID)
	if err != nil {
		return fmt.Errorf("soft delete post: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) PublishPost(ctx context.Context, postID string, meta PublishMetadata, publishedAt time.Time) error {
	encodedTags, err := json.Marshal(meta.Tags)
	if err != nil {
		return fmt.Errorf("marshal publish tags: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE posts
		SET status = 'published', published_at = $2, title = $3, excerpt = $4,
			tags = $5, thumbnail_url = $6, thumbnail_alt = $7, updated_at = NOW()
		WHERE id = $1 AND `+visiblePosts+`
	`, postID, publishedAt, meta.Title, meta.Summary, string(encodedTags), meta.ThumbnailURL, meta.ThumbnailAlt)
	if err != nil {
		return fmt.Errorf("publish post: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) UnpublishPost(ctx context.Context, postID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE posts
		SET status = 'draft', published_at = NULL, updated_at = NOW()
		WHERE id = $1 AND `+visiblePosts+`
	`, postID)
	if err != nil {
		return fmt.Errorf("unpublish post: %w", err)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ListFolders(ctx context.Context) ([]Folder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, slug, created_at
		FROM folders
		ORDER BY LOWER(name) ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()

	items := make([]Folder, 0)
	for rows.Next() {
		var item Folder
		if err := rows.Scan(&item.ID, &item.OwnerID, &item.Name, &item.Slug, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate folders: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetFolder(ctx context.Context, folderID string) (Folder, error) {
	var item Folder
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, slug, created_at
		FROM folders
		WHERE id = $1
	`, folderID).Scan(&item.ID, &item.OwnerID, &item.Name, &item.Slug, &item.CreatedAt)
	if err != nil {
		return Folder{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertFolder(ctx context.Context, item Folder) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO folders (id, owner_id, name, slug)
		VALUES ($1, $2, $3, $4)
	`, item.ID, item.OwnerID, item.Name, item.Slug)
	if err != nil {
		return fmt.Errorf("insert folder: %w", err)
	}
	return nil
}

func (s *PostgresStore) RenameFolder(ctx context.Context, folderID, name string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE folders SET name = $2 WHERE id = $1
	`, folderID, name)
	if err != nil {
		return fmt.Errorf("rename folder: %w", err)
	}
	return requireRow(result)
}

// DeleteFolder removes the folder and moves its member posts to Unfiled
// in the same transaction. Member posts are never deleted.
func (s *PostgresStore) DeleteFolder(ctx context.Context, folderID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete folder: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE posts SET folder_id = NULL, updated_at = NOW() WHERE folder_id = $1
	`, folderID); err != nil {
		return fmt.Errorf("unfile folder posts: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM folders WHERE id = $1`, folderID)
	if err != nil {
		return fmt.Errorf("delete folder: %w", err)
	}
	if err := requireRow(result); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete folder: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertPostVersion(ctx context.Context, item PostVersion) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO post_versions (post_id, actor_id, title, content_json)
		VALUES ($1, $2, $3, $4)
	`, item.PostID, item.ActorID, item.Title, string(item.Content))
	if err != nil {
		return fmt.Errorf("insert post version: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListPostVersions(ctx context.Context, postID string) ([]PostVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, post_id, actor_id, title, content_json, created_at
		FROM post_versions
		WHERE post_id = $1
		ORDER BY created_at DESC, id DESC
	`, postID)
	if err != nil {
		return nil, fmt.Errorf("list post versions: %w", err)
	}
	defer rows.Close()

	items := make([]PostVersion, 0)
	for rows.Next() {
		var item PostVersion
		var content []byte
		if err := rows.Scan(&item.ID, &item.PostID, &item.ActorID, &item.Title, &content, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan post version: %w", err)
		}
		item.Content = json.RawMessage(content)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate post versions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash FROM users WHERE email = $1
	`, email).Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash FROM users WHERE id = $1
	`, userID).Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	if user.ID == "" {
		user.ID = util.NewID("usr")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, password_hash)
		VALUES ($1, $2, $3, $4)
	`, user.ID, user.Email, user.DisplayName, user.PasswordHash)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}
