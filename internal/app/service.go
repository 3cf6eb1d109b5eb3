package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"quillpad/api/internal/auth"
	"quillpad/api/internal/authpw"
	"quillpad/api/internal/autosave"
	"quillpad/api/internal/bus"
	"quillpad/api/internal/config"
	"quillpad/api/internal/content"
	"quillpad/api/internal/media"
	"quillpad/api/internal/search"
	"quillpad/api/internal/store"
	"quillpad/api/internal/util"
	"quillpad/api/internal/workspace"
)

const (
	cardExcerptLen = 160
	feedExcerptLen = 200

	noSummaryPlaceholder = "No summary yet…"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

type PublishInput struct {
	Title        string   `json:"title"`
	Summary      string   `json:"summary"`
	Tags         []string `json:"tags"`
	ThumbnailURL string   `json:"thumbnailUrl"`
	ThumbnailAlt string   `json:"thumbnailAlt"`
}

type dataStore interface {
	ListDrafts(context.Context) ([]store.Post, error)
	ListPublished(context.Context) ([]store.Post, error)
	GetPost(context.Context, string) (store.Post, error)
	GetPostBySlug(context.Context, string) (store.Post, error)
	InsertPost(context.Context, store.Post) error
	UpdatePostContent(context.Context, string, string, json.RawMessage) error
	UpdatePostTitle(context.Context, string, string) error
	MovePostToFolder(context.Context, string, *string) error
	SoftDeletePost(context.Context, string) error
	PublishPost(context.Context, string, store.PublishMetadata, time.Time) error
	UnpublishPost(context.Context, string) error
	ListFolders(context.Context) ([]store.Folder, error)
	GetFolder(context.Context, string) (store.Folder, error)
	InsertFolder(context.Context, store.Folder) error
	RenameFolder(context.Context, string, string) error
	DeleteFolder(context.Context, string) error
	InsertPostVersion(context.Context, store.PostVersion) error
	ListPostVersions(context.Context, string) ([]store.PostVersion, error)
	GetUserByID(context.Context, string) (store.User, error)
	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	search   *search.Service
	bus      *bus.Bus
	users    *authpw.Service
	media    *media.Store
	saves    *autosave.Coordinator

	expandMu sync.Mutex
	expanded *workspace.Expansion
}

func New(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, searchSvc *search.Service, eventBus *bus.Bus, users *authpw.Service, mediaStore *media.Store) *Service {
	return newService(cfg, dataStore, sessions, searchSvc, eventBus, users, mediaStore)
}

func newService(cfg config.Config, ds dataStore, sessions sessionStore, searchSvc *search.Service, eventBus *bus.Bus, users *authpw.Service, mediaStore *media.Store) *Service {
	s := &Service{
		cfg:      cfg,
		store:    ds,
		sessions: sessions,
		search:   searchSvc,
		bus:      eventBus,
		users:    users,
		media:    mediaStore,
		expanded: workspace.NewExpansion(),
	}
	s.saves = autosave.New(s.persistAutosave, cfg.AutosaveDebounce, cfg.SavedDisplay, nil)
	return s
}

// Close stops the autosave coordinator. Pending debounce windows are
// dropped, matching an editor teardown.
func (s *Service) Close() {
	s.saves.Close()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Bus() *bus.Bus {
	return s.bus
}

func (s *Service) MediaStore() *media.Store {
	return s.media
}

// --- sessions ---

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	if s.users == nil {
		return Session{}, domainError(http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication not configured", nil)
	}
	user, err := s.users.SignIn(ctx, email, password)
	if err != nil {
		if errors.Is(err, authpw.ErrInvalidCredentials) {
			return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Invalid email or password", nil)
		}
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// --- drafts ---

// CreateDraft makes a new unfiled draft with an empty document body and a
// randomized slug so two untitled drafts never collide.
func (s *Service) CreateDraft(ctx context.Context, authorID string) (map[string]any, error) {
	body, err := json.Marshal(content.EmptyDocument())
	if err != nil {
		return nil, fmt.Errorf("marshal empty document: %w", err)
	}

	post := store.Post{
		ID:       util.NewID("post"),
		AuthorID: authorID,
		Title:    "Untitled",
		Slug:     util.SlugWithSuffix("untitled", "untitled"),
		Content:  body,
		Status:   store.StatusDraft,
		Tags:     []string{},
	}
	if err := s.store.InsertPost(ctx, post); err != nil {
		return nil, err
	}

	s.emitRefresh()
	return map[string]any{
		"id":    post.ID,
		"title": post.Title,
		"slug":  post.Slug,
	}, nil
}

// ListDraftCards returns the editor grid payload: one card per draft with a
// short excerpt derived from the body when no summary is set.
func (s *Service) ListDraftCards(ctx context.Context) ([]map[string]any, error) {
	drafts, err := s.store.ListDrafts(ctx)
	if err != nil {
		return nil, err
	}

	cards := make([]map[string]any, 0, len(drafts))
	for _, draft := range drafts {
		excerpt := s.excerptFor(draft, cardExcerptLen)
		if excerpt == "" {
			excerpt = noSummaryPlaceholder
		}
		cards = append(cards, map[string]any{
			"id":        draft.ID,
			"title":     draft.Title,
			"slug":      draft.Slug,
			"folderId":  draft.FolderID,
			"excerpt":   excerpt,
			"updatedAt": draft.UpdatedAt,
		})
	}
	return cards, nil
}

func (s *Service) GetDraft(ctx context.Context, postID string) (map[string]any, error) {
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":           post.ID,
		"title":        post.Title,
		"slug":         post.Slug,
		"folderId":     post.FolderID,
		"content":      post.Content,
		"status":       post.Status,
		"publishedAt":  post.PublishedAt,
		"excerpt":      post.Excerpt,
		"tags":         post.Tags,
		"thumbnailUrl": post.ThumbnailURL,
		"thumbnailAlt": post.ThumbnailAlt,
		"updatedAt":    post.UpdatedAt,
		"saveState":    s.saves.State(post.ID),
	}, nil
}

// QueueAutosave records an edit; the write happens after the debounce
// window closes. The draft must exist and be visible.
func (s *Service) QueueAutosave(ctx context.Context, postID, title string, body json.RawMessage) error {
	if _, err := s.store.GetPost(ctx, postID); err != nil {
		return err
	}
	if _, err := content.Parse(body); err != nil {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is not a valid document", map[string]string{"content": err.Error()})
	}
	s.saves.Queue(postID, strings.TrimSpace(title), body)
	return nil
}

// SaveDraftNow flushes any queued edit for the draft immediately.
func (s *Service) SaveDraftNow(ctx context.Context, postID string) (map[string]any, error) {
	if err := s.saves.SaveNow(ctx, postID); err != nil {
		return nil, err
	}
	return map[string]any{"saveState": s.saves.State(postID)}, nil
}

func (s *Service) SaveState(postID string) map[string]any {
	return map[string]any{"saveState": s.saves.State(postID)}
}

// persistAutosave is the coordinator's write callback.
func (s *Service) persistAutosave(ctx context.Context, postID, title string, body json.RawMessage) error {
	if title == "" {
		title = "Untitled"
	}
	if err := s.store.UpdatePostContent(ctx, postID, title, body); err != nil {
		return err
	}
	patch := bus.DraftUpdated{ID: postID, Title: title}
	if post, err := s.store.GetPost(ctx, postID); err == nil {
		patch.Slug = post.Slug
	}
	s.emitDraftPatch(patch)
	s.indexPost(ctx, postID)
	return nil
}

// RenameDraft updates the title outside of the autosave path, for renames
// made from the workspace sidebar.
func (s *Service) RenameDraft(ctx context.Context, postID, title string) (map[string]any, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", map[string]string{"title": "required"})
	}
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.Title == title {
		return map[string]any{"id": post.ID, "title": post.Title}, nil
	}
	if err := s.store.UpdatePostTitle(ctx, postID, title); err != nil {
		return nil, err
	}
	s.emitDraftPatch(bus.DraftUpdated{ID: postID, Title: title})
	s.indexPost(ctx, postID)
	return map[string]any{"id": postID, "title": title}, nil
}

// MoveDraft files a draft into a folder, or unfiles it when folderID is
// empty or names the synthetic Unfiled folder.
func (s *Service) MoveDraft(ctx context.Context, postID, folderID string) error {
	if _, err := s.store.GetPost(ctx, postID); err != nil {
		return err
	}

	var target *string
	if folderID != "" && folderID != workspace.UnfiledID {
		if _, err := s.store.GetFolder(ctx, folderID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domainError(http.StatusNotFound, "NOT_FOUND", "Folder not found", nil)
			}
			return err
		}
		target = &folderID
	}

	if err := s.store.MovePostToFolder(ctx, postID, target); err != nil {
		return err
	}
	s.emitDraftPatch(bus.DraftUpdated{ID: postID, FolderID: target})
	return nil
}

// DeleteDraft soft-deletes; the row stays behind but no listing sees it.
func (s *Service) DeleteDraft(ctx context.Context, postID string) error {
	if err := s.store.SoftDeletePost(ctx, postID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeletePost(postID)
	}
	s.emitRefresh()
	return nil
}

// --- snapshots ---

// RecordSnapshot appends the draft's current title and body to its version
// history. History is append-only; nothing edits or removes past rows.
func (s *Service) RecordSnapshot(ctx context.Context, postID, actorID string) (map[string]any, error) {
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	version := store.PostVersion{
		PostID:  post.ID,
		ActorID: actorID,
		Title:   post.Title,
		Content: post.Content,
	}
	if err := s.store.InsertPostVersion(ctx, version); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "postId": post.ID}, nil
}

func (s *Service) ListSnapshots(ctx context.Context, postID string) ([]map[string]any, error) {
	if _, err := s.store.GetPost(ctx, postID); err != nil {
		return nil, err
	}
	versions, err := s.store.ListPostVersions(ctx, postID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(versions))
	for _, version := range versions {
		items = append(items, map[string]any{
			"id":        version.ID,
			"title":     version.Title,
			"content":   version.Content,
			"createdAt": version.CreatedAt,
		})
	}
	return items, nil
}

// --- publish ---

// PublishPrefill returns the publish form's starting values: the current
// title and metadata, with the summary derived from the body when none was
// saved before.
func (s *Service) PublishPrefill(ctx context.Context, postID string) (map[string]any, error) {
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"title":        post.Title,
		"summary":      s.excerptFor(post, feedExcerptLen),
		"tags":         post.Tags,
		"thumbnailUrl": post.ThumbnailURL,
		"thumbnailAlt": post.ThumbnailAlt,
	}, nil
}

// Publish validates the submitted metadata and moves the post to published.
// Re-publishing an already published post updates its metadata but keeps
// the original publication time.
func (s *Service) Publish(ctx context.Context, postID, actorID string, input PublishInput) (map[string]any, error) {
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}

	if details := validatePublishInput(input); len(details) > 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Publish metadata is incomplete", details)
	}

	publishedAt := time.Now()
	if post.PublishedAt != nil {
		publishedAt = *post.PublishedAt
	}

	meta := store.PublishMetadata{
		Title:        strings.TrimSpace(input.Title),
		Summary:      strings.TrimSpace(input.Summary),
		Tags:         cleanTags(input.Tags),
		ThumbnailURL: strings.TrimSpace(input.ThumbnailURL),
		ThumbnailAlt: strings.TrimSpace(input.ThumbnailAlt),
	}
	if err := s.store.PublishPost(ctx, postID, meta, publishedAt); err != nil {
		return nil, err
	}

	// Publishing records a snapshot so the published body is always
	// recoverable from history.
	if _, err := s.RecordSnapshot(ctx, postID, actorID); err != nil {
		return nil, err
	}

	s.indexPost(ctx, postID)
	// Open editors patch their copy; listing views re-fetch.
	s.emitDraftPatch(bus.DraftUpdated{ID: postID, Title: meta.Title, Slug: post.Slug})
	s.emitRefresh()
	return map[string]any{
		"id":          postID,
		"status":      store.StatusPublished,
		"publishedAt": publishedAt,
	}, nil
}

func validatePublishInput(input PublishInput) map[string]string {
	details := make(map[string]string)
	if strings.TrimSpace(input.Title) == "" {
		details["title"] = "required"
	}
	if strings.TrimSpace(input.Summary) == "" {
		details["summary"] = "required"
	}
	if len(cleanTags(input.Tags)) == 0 {
		details["tags"] = "at least one tag is required"
	}
	if strings.TrimSpace(input.ThumbnailURL) == "" {
		details["thumbnailUrl"] = "required"
	}
	if len(details) == 0 {
		return nil
	}
	return details
}

func cleanTags(tags []string) []string {
	cleaned := make([]string, 0, len(tags))
	seen := make(map[string]struct{})
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		cleaned = append(cleaned, tag)
	}
	return cleaned
}

// Unpublish returns a post to draft. Unpublishing a draft is a no-op.
func (s *Service) Unpublish(ctx context.Context, postID string) (map[string]any, error) {
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.Status == store.StatusDraft {
		return map[string]any{"id": postID, "status": store.StatusDraft}, nil
	}
	if err := s.store.UnpublishPost(ctx, postID); err != nil {
		return nil, err
	}
	s.indexPost(ctx, postID)
	s.emitRefresh()
	return map[string]any{"id": postID, "status": store.StatusDraft}, nil
}

// --- workspace ---

func (s *Service) WorkspaceTree(ctx context.Context, filter string) (workspace.Tree, error) {
	folders, err := s.store.ListFolders(ctx)
	if err != nil {
		return workspace.Tree{}, err
	}
	drafts, err := s.store.ListDrafts(ctx)
	if err != nil {
		return workspace.Tree{}, err
	}

	s.expandMu.Lock()
	defer s.expandMu.Unlock()
	return workspace.Build(folders, drafts, filter, *s.expanded), nil
}

func (s *Service) ToggleFolder(folderID string) map[string]any {
	s.expandMu.Lock()
	defer s.expandMu.Unlock()
	s.expanded.Toggle(folderID)
	return map[string]any{"id": folderID, "expanded": s.expanded.IsExpanded(folderID)}
}

func (s *Service) CreateFolder(ctx context.Context, ownerID, name string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "folder name is required", map[string]string{"name": "required"})
	}

	folder := store.Folder{
		ID:      util.NewID("fld"),
		OwnerID: ownerID,
		Name:    name,
		Slug:    util.SlugWithSuffix(name, "folder"),
	}
	if err := s.store.InsertFolder(ctx, folder); err != nil {
		return nil, err
	}

	s.expandMu.Lock()
	s.expanded.Opened(folder.ID)
	s.expandMu.Unlock()

	s.emitRefresh()
	return map[string]any{"id": folder.ID, "name": folder.Name, "slug": folder.Slug}, nil
}

// RenameFolder is a no-op when the trimmed name is unchanged, so a blur
// without edits does not churn the tree.
func (s *Service) RenameFolder(ctx context.Context, folderID, name string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "folder name is required", map[string]string{"name": "required"})
	}
	folder, err := s.store.GetFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	if folder.Name == name {
		return map[string]any{"id": folder.ID, "name": folder.Name}, nil
	}
	if err := s.store.RenameFolder(ctx, folderID, name); err != nil {
		return nil, err
	}
	s.emitRefresh()
	return map[string]any{"id": folderID, "name": name}, nil
}

// DeleteFolder removes the folder; its drafts move to Unfiled.
func (s *Service) DeleteFolder(ctx context.Context, folderID string) error {
	if folderID == workspace.UnfiledID {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "the Unfiled folder cannot be deleted", nil)
	}
	if err := s.store.DeleteFolder(ctx, folderID); err != nil {
		return err
	}

	s.expandMu.Lock()
	s.expanded.Forget(folderID)
	s.expandMu.Unlock()

	s.emitRefresh()
	return nil
}

// --- public feed ---

func (s *Service) Feed(ctx context.Context) ([]map[string]any, error) {
	posts, err := s.store.ListPublished(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(posts))
	for _, post := range posts {
		items = append(items, map[string]any{
			"id":           post.ID,
			"title":        post.Title,
			"slug":         post.Slug,
			"excerpt":      s.excerptFor(post, feedExcerptLen),
			"tags":         post.Tags,
			"thumbnailUrl": post.ThumbnailURL,
			"thumbnailAlt": post.ThumbnailAlt,
			"publishedAt":  post.PublishedAt,
		})
	}
	return items, nil
}

// PublicPost returns a published post by slug, with the body rendered to
// HTML. Drafts and deleted posts 404.
func (s *Service) PublicPost(ctx context.Context, slug string) (map[string]any, error) {
	post, err := s.store.GetPostBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if post.Status != store.StatusPublished {
		return nil, sql.ErrNoRows
	}

	node, err := content.Parse(post.Content)
	if err != nil {
		return nil, fmt.Errorf("parse post body: %w", err)
	}
	return map[string]any{
		"id":           post.ID,
		"title":        post.Title,
		"slug":         post.Slug,
		"excerpt":      s.excerptFor(post, feedExcerptLen),
		"tags":         post.Tags,
		"thumbnailUrl": post.ThumbnailURL,
		"thumbnailAlt": post.ThumbnailAlt,
		"publishedAt":  post.PublishedAt,
		"html":         content.ToHTML(node),
	}, nil
}

func (s *Service) SearchPosts(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

// --- helpers ---

// excerptFor prefers the stored excerpt and falls back to text derived from
// the body, truncated to maxLen.
func (s *Service) excerptFor(post store.Post, maxLen int) string {
	node, err := content.Parse(post.Content)
	if err != nil {
		node = nil
	}
	return content.Extract(node, post.Excerpt, maxLen)
}

func (s *Service) indexPost(ctx context.Context, postID string) {
	if s.search == nil {
		return
	}
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return
	}
	s.search.IndexPost(search.PostRecord{
		ID:      post.ID,
		Title:   post.Title,
		Excerpt: s.excerptFor(post, feedExcerptLen),
		Slug:    post.Slug,
		Status:  post.Status,
		Tags:    post.Tags,
	})
}

func (s *Service) emitRefresh() {
	if s.bus != nil {
		s.bus.EmitRefreshDrafts()
	}
}

func (s *Service) emitDraftPatch(patch bus.DraftUpdated) {
	if s.bus != nil {
		s.bus.EmitDraftUpdated(patch)
	}
}
