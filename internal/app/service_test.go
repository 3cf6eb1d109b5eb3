package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"quillpad/api/internal/bus"
	"quillpad/api/internal/config"
	"quillpad/api/internal/store"
)

// fakeStore is an in-memory dataStore. Reads honor the same soft-delete
// visibility rule as the real store.
type fakeStore struct {
	mu               sync.Mutex
	posts            map[string]store.Post
	folders          map[string]store.Folder
	versions         []store.PostVersion
	users            map[string]store.User
	updateContentErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		posts:   make(map[string]store.Post),
		folders: make(map[string]store.Folder),
		users:   map[string]store.User{"user-1": {ID: "user-1", Email: "owner@example.com", DisplayName: "Owner"}},
	}
}

func (f *fakeStore) ListDrafts(context.Context) ([]store.Post, error) {
	return f.listByStatus(store.StatusDraft), nil
}

func (f *fakeStore) ListPublished(context.Context) ([]store.Post, error) {
	return f.listByStatus(store.StatusPublished), nil
}

func (f *fakeStore) listByStatus(status string) []store.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Post, 0)
	for _, post := range f.posts {
		if post.Status == status && !post.IsDeleted {
			items = append(items, post)
		}
	}
	return items
}

func (f *fakeStore) GetPost(_ context.Context, postID string) (store.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	post, ok := f.posts[postID]
	if !ok || post.IsDeleted {
		return store.Post{}, sql.ErrNoRows
	}
	return post, nil
}

func (f *fakeStore) GetPostBySlug(_ context.Context, slug string) (store.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, post := range f.posts {
		if post.Slug == slug && !post.IsDeleted {
			return post, nil
		}
	}
	return store.Post{}, sql.ErrNoRows
}

func (f *fakeStore) InsertPost(_ context.Context, post store.Post) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	post.UpdatedAt = time.Now()
	f.posts[post.ID] = post
	return nil
}

func (f *fakeStore) UpdatePostContent(_ context.Context, postID, title string, body json.RawMessage) error {
	if f.updateContentErr != nil {
		return f.updateContentErr
	}
	return f.mutatePost(postID, func(post *store.Post) {
		post.Title = title
		post.Content = body
	})
}

func (f *fakeStore) UpdatePostTitle(_ context.Context, postID, title string) error {
	return f.mutatePost(postID, func(post *store.Post) { post.Title = title })
}

func (f *fakeStore) MovePostToFolder(_ context.Context, postID string, folderID *string) error {
	return f.mutatePost(postID, func(post *store.Post) { post.FolderID = folderID })
}

func (f *fakeStore) SoftDeletePost(_ context.Context, postID string) error {
	return f.mutatePost(postID, func(post *store.Post) { post.IsDeleted = true })
}

func (f *fakeStore) PublishPost(_ context.Context, postID string, meta store.PublishMetadata, publishedAt time.Time) error {
	return f.mutatePost(postID, func(post *store.Post) {
		post.Status = store.StatusPublished
		post.PublishedAt = &publishedAt
		post.Title = meta.Title
		post.Excerpt = meta.Summary
		post.Tags = meta.Tags
		post.ThumbnailURL = meta.ThumbnailURL
		post.ThumbnailAlt = meta.ThumbnailAlt
	})
}

func (f *fakeStore) UnpublishPost(_ context.Context, postID string) error {
	return f.mutatePost(postID, func(post *store.Post) {
		post.Status = store.StatusDraft
		post.PublishedAt = nil
	})
}

func (f *fakeStore) mutatePost(postID string, mutate func(*store.Post)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	post, ok := f.posts[postID]
	if !ok || post.IsDeleted {
		return sql.ErrNoRows
	}
	mutate(&post)
	post.UpdatedAt = time.Now()
	f.posts[postID] = post
	return nil
}

func (f *fakeStore) ListFolders(context.Context) ([]store.Folder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Folder, 0, len(f.folders))
	for _, folder := range f.folders {
		items = append(items, folder)
	}
	return items, nil
}

func (f *fakeStore) GetFolder(_ context.Context, folderID string) (store.Folder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	folder, ok := f.folders[folderID]
	if !ok {
		return store.Folder{}, sql.ErrNoRows
	}
	return folder, nil
}

func (f *fakeStore) InsertFolder(_ context.Context, folder store.Folder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.folders[folder.ID] = folder
	return nil
}

func (f *fakeStore) RenameFolder(_ context.Context, folderID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	folder, ok := f.folders[folderID]
	if !ok {
		return sql.ErrNoRows
	}
	folder.Name = name
	f.folders[folderID] = folder
	return nil
}

func (f *fakeStore) DeleteFolder(_ context.Context, folderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.folders[folderID]; !ok {
		return sql.ErrNoRows
	}
	delete(f.folders, folderID)
	for id, post := range f.posts {
		if post.FolderID != nil && *post.FolderID == folderID {
			post.FolderID = nil
			f.posts[id] = post
		}
	}
	return nil
}

func (f *fakeStore) InsertPostVersion(_ context.Context, version store.PostVersion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	version.ID = int64(len(f.versions) + 1)
	version.CreatedAt = time.Now()
	f.versions = append(f.versions, version)
	return nil
}

func (f *fakeStore) ListPostVersions(_ context.Context, postID string) ([]store.PostVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.PostVersion, 0)
	for i := len(f.versions) - 1; i >= 0; i-- {
		if f.versions[i].PostID == postID {
			items = append(items, f.versions[i])
		}
	}
	return items, nil
}

func (f *fakeStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) versionCount(postID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, version := range f.versions {
		if version.PostID == postID {
			n++
		}
	}
	return n
}

type fakeSessions struct {
	mu     sync.Mutex
	tokens map[string]string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{tokens: make(map[string]string)}
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[tokenHash] = userID
	return nil
}

func (f *fakeSessions) LookupRefreshSession(_ context.Context, tokenHash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.tokens[tokenHash]
	if !ok {
		return "", errors.New("refresh token not found or expired")
	}
	return userID, nil
}

func (f *fakeSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokens, tokenHash)
	return nil
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:        "test-secret",
		AccessTTL:        time.Hour,
		RefreshTTL:       24 * time.Hour,
		AutosaveDebounce: 5 * time.Millisecond,
		SavedDisplay:     time.Minute,
	}
}

func newTestService(t *testing.T, fake *fakeStore) (*Service, *bus.Bus) {
	t.Helper()
	eventBus := bus.New()
	svc := newService(testConfig(), fake, newFakeSessions(), nil, eventBus, nil, nil)
	t.Cleanup(svc.Close)
	return svc, eventBus
}

type eventRecorder struct {
	mu      sync.Mutex
	patches []bus.DraftUpdated
	refresh int
}

func recordEvents(t *testing.T, eventBus *bus.Bus) *eventRecorder {
	t.Helper()
	rec := &eventRecorder{}
	unsubscribe := eventBus.Subscribe(func(e bus.Event) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		if e.DraftUpdated != nil {
			rec.patches = append(rec.patches, *e.DraftUpdated)
		}
		if e.RefreshDrafts != nil {
			rec.refresh++
		}
	})
	t.Cleanup(unsubscribe)
	return rec
}

func (r *eventRecorder) refreshCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refresh
}

func (r *eventRecorder) lastPatch() (bus.DraftUpdated, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.patches) == 0 {
		return bus.DraftUpdated{}, false
	}
	return r.patches[len(r.patches)-1], true
}

func seedDraft(t *testing.T, fake *fakeStore, id string) store.Post {
	t.Helper()
	post := store.Post{
		ID:       id,
		AuthorID: "user-1",
		Title:    "Untitled",
		Slug:     id + "-slug",
		Content:  json.RawMessage(`{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"Seed body text."}]}]}`),
		Status:   store.StatusDraft,
		Tags:     []string{},
	}
	if err := fake.InsertPost(context.Background(), post); err != nil {
		t.Fatalf("seed draft: %v", err)
	}
	return post
}

func validPublishInput() PublishInput {
	return PublishInput{
		Title:        "A Finished Piece",
		Summary:      "What the piece is about.",
		Tags:         []string{"essays"},
		ThumbnailURL: "https://cdn.example.com/t.png",
		ThumbnailAlt: "cover",
	}
}

func TestCreateDraftDefaults(t *testing.T) {
	fake := newFakeStore()
	svc, eventBus := newTestService(t, fake)
	rec := recordEvents(t, eventBus)

	payload, err := svc.CreateDraft(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("CreateDraft failed: %v", err)
	}

	if payload["title"] != "Untitled" {
		t.Errorf("expected default title, got %v", payload["title"])
	}
	slug, _ := payload["slug"].(string)
	if !strings.HasPrefix(slug, "untitled-") {
		t.Errorf("expected randomized untitled slug, got %q", slug)
	}
	if len(slug) != len("untitled-")+6 {
		t.Errorf("expected 6-char suffix, got %q", slug)
	}

	post, err := fake.GetPost(context.Background(), payload["id"].(string))
	if err != nil {
		t.Fatalf("created draft not stored: %v", err)
	}
	if post.Status != store.StatusDraft {
		t.Errorf("expected draft status, got %q", post.Status)
	}
	var body map[string]any
	if err := json.Unmarshal(post.Content, &body); err != nil {
		t.Fatalf("content is not valid JSON: %v", err)
	}
	if body["type"] != "doc" {
		t.Errorf("expected empty document body, got %v", body)
	}
	if rec.refreshCount() != 1 {
		t.Errorf("expected one refresh event, got %d", rec.refreshCount())
	}
}

func TestTwoUntitledDraftsGetDistinctSlugs(t *testing.T) {
	fake := newFakeStore()
	svc, _ := newTestService(t, fake)

	first, err := svc.CreateDraft(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("first CreateDraft: %v", err)
	}
	second, err := svc.CreateDraft(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("second CreateDraft: %v", err)
	}
	if first["slug"] == second["slug"] {
		t.Fatalf("slugs must differ, both %v", first["slug"])
	}
}

func TestPublishRejectsIncompleteMetadata(t *testing.T) {
	fake := newFakeStore()
	svc, _ := newTestService(t, fake)
	post := seedDraft(t, fake, "p1")

	_, err := svc.Publish(context.Background(), post.ID, "user-1", PublishInput{
		Title: "Only a title",
		Tags:  []string{"  ", ""},
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %s", domainErr.Code)
	}
	details, ok := domainErr.Details.(map[string]string)
	if !ok {
		t.Fatalf("expected field details, got %T", domainErr.Details)
	}
	for _, field := range []string{"summary", "tags", "thumbnailUrl"} {
		if _, present := details[field]; !present {
			t.Errorf("expected detail for %q, got %v", field, details)
		}
	}
	if _, present := details["title"]; present {
		t.Errorf("title was provided and must not be flagged: %v", details)
	}

	got, _ := fake.GetPost(context.Background(), post.ID)
	if got.Status != store.StatusDraft {
		t.Fatalf("failed publish must not change status, got %q", got.Status)
	}
	if fake.versionCount(post.ID) != 0 {
		t.Fatal("failed publish must not record a snapshot")
	}
}

func TestPublishSetsMetadataAndRecordsSnapshot(t *testing.T) {
	fake := newFakeStore()
	svc, eventBus := newTestService(t, fake)
	rec := recordEvents(t, eventBus)
	post := seedDraft(t, fake, "p1")

	payload, err := svc.Publish(context.Background(), post.ID, "user-1", validPublishInput())
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if payload["status"] != store.StatusPublished {
		t.Fatalf("expected published status, got %v", payload["status"])
	}

	got, _ := fake.GetPost(context.Background(), post.ID)
	if got.Status != store.StatusPublished || got.PublishedAt == nil {
		t.Fatalf("post not published: %+v", got)
	}
	if got.Excerpt != "What the piece is about." {
		t.Errorf("summary not stored: %q", got.Excerpt)
	}
	if fake.versionCount(post.ID) != 1 {
		t.Errorf("publish should record one snapshot, got %d", fake.versionCount(post.ID))
	}
	if rec.refreshCount() == 0 {
		t.Error("publish should emit a refresh event")
	}
	patch, ok := rec.lastPatch()
	if !ok {
		t.Fatal("publish should emit a draft-updated patch alongside the refresh")
	}
	if patch.ID != post.ID || patch.Title != "A Finished Piece" || patch.Slug != post.Slug {
		t.Fatalf("unexpected publish patch: %+v", patch)
	}
}

func TestRepublishKeepsOriginalPublishedAt(t *testing.T) {
	fake := newFakeStore()
	svc, _ := newTestService(t, fake)
	post := seedDraft(t, fake, "p1")

	if _, err := svc.Publish(context.Background(), post.ID, "user-1", validPublishInput()); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	first, _ := fake.GetPost(context.Background(), post.ID)

	time.Sleep(2 * time.Millisecond)
	input := validPublishInput()
	input.Title = "Retitled"
	if _, err := svc.Publish(context.Background(), post.ID, "user-1", input); err != nil {
		t.Fatalf("second publish: %v", err)
	}
	second, _ := fake.GetPost(context.Background(), post.ID)

	if !second.PublishedAt.Equal(*first.PublishedAt) {
		t.Fatalf("republish changed publishedAt: %v -> %v", first.PublishedAt, second.PublishedAt)
	}
	if second.Title != "Retitled" {
		t.Fatalf("republish should update metadata, got %q", second.Title)
	}
}

func TestUnpublishIsIdempotent(t *testing.T) {
	fake := newFakeStore()
	svc, _ := newTestService(t, fake)
	post := seedDraft(t, fake, "p1")

	if _, err := svc.Publish(context.Background(), post.ID, "user-1", validPublishInput()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := svc.Unpublish(context.Background(), post.ID); err != nil {
		t.Fatalf("first unpublish: %v", err)
	}
	payload, err := svc.Unpublish(context.Background(), post.ID)
	if err != nil {
		t.Fatalf("second unpublish should be a no-op: %v", err)
	}
	if payload["status"] != store.StatusDraft {
		t.Fatalf("expected draft status, got %v", payload["status"])
	}

	got, _ := fake.GetPost(context.Background(), post.ID)
	if got.PublishedAt != nil {
		t.Fatal("unpublish must clear publishedAt")
	}
}

func TestAutosavePersistsLatestPayload(t *testing.T) {
	fake := newFakeStore()
	svc, eventBus := newTestService(t, fake)
	rec := recordEvents(t, eventBus)
	post := seedDraft(t, fake, "p1")
	ctx := context.Background()

	body := json.RawMessage(`{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"Edited."}]}]}`)
	if err := svc.QueueAutosave(ctx, post.ID, "New Title", body); err != nil {
		t.Fatalf("QueueAutosave: %v", err)
	}
	if _, err := svc.SaveDraftNow(ctx, post.ID); err != nil {
		t.Fatalf("SaveDraftNow: %v", err)
	}

	got, _ := fake.GetPost(ctx, post.ID)
	if got.Title != "New Title" {
		t.Fatalf("title not persisted: %q", got.Title)
	}
	if !strings.Contains(string(got.Content), "Edited.") {
		t.Fatalf("content not persisted: %s", got.Content)
	}
	patch, ok := rec.lastPatch()
	if !ok || patch.ID != post.ID || patch.Title != "New Title" {
		t.Fatalf("expected draft-updated patch, got %+v", patch)
	}
	if patch.Slug != post.Slug {
		t.Fatalf("autosave patch should carry the slug, got %+v", patch)
	}
}

func TestAutosaveRejectsMissingDraftAndBadContent(t *testing.T) {
	fake := newFakeStore()
	svc, _ := newTestService(t, fake)
	ctx := context.Background()

	if err := svc.QueueAutosave(ctx, "missing", "t", nil); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected ErrNoRows for missing draft, got %v", err)
	}

	post := seedDraft(t, fake, "p1")
	err := svc.QueueAutosave(ctx, post.ID, "t", json.RawMessage(`{not json`))
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR for malformed content, got %v", err)
	}
}

func TestSaveDraftNowSurfacesWriteFailure(t *testing.T) {
	fake := newFakeStore()
	svc, _ := newTestService(t, fake)
	post := seedDraft(t, fake, "p1")
	ctx := context.Background()

	fake.updateContentErr = errors.New("disk full")
	if err := svc.QueueAutosave(ctx, post.ID, "t", json.RawMessage(`{"type":"doc"}`)); err != nil {
		t.Fatalf("QueueAutosave: %v", err)
	}
	if _, err := svc.SaveDraftNow(ctx, post.ID); err == nil {
		t.Fatal("expected save failure to surface")
	}
}

func TestDeleteDraftHidesFromReads(t *testing.T) {
	fake := newFakeStore()
	svc, eventBus := newTestService(t, fake)
	rec := recordEvents(t, eventBus)
	post := seedDraft(t, fake, "p1")
	ctx := context.Background()

	if err := svc.DeleteDraft(ctx, post.ID); err != nil {
		t.Fatalf("DeleteDraft: %v", err)
	}
	if _, err := svc.GetDraft(ctx, post.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("deleted draft should read as missing, got %v", err)
	}
	cards, err := svc.ListDraftCards(ctx)
	if err != nil {
		t.Fatalf("ListDraftCards: %v", err)
	}
	if len(cards) != 0 {
		t.Fatalf("deleted draft still listed: %v", cards)
	}
	if rec.refreshCount() != 1 {
		t.Errorf("expected one refresh event, got %d", rec.refreshCount())
	}

	// Deleting an already deleted draft reads as missing.
	if err := svc.DeleteDraft(ctx, post.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected ErrNoRows on double delete, got %v", err)
	}
}

func TestMoveDraftValidatesFolder(t *testing.T) {
	fake := newFakeStore()
	svc, eventBus := newTestService(t, fake)
	rec := recordEvents(t, eventBus)
	post := seedDraft(t, fake, "p1")
	ctx := context.Background()

	err := svc.MoveDraft(ctx, post.ID, "missing-folder")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND for missing folder, got %v", err)
	}

	created, err := svc.CreateFolder(ctx, "user-1", "Essays")
	if err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	folderID := created["id"].(string)

	if err := svc.MoveDraft(ctx, post.ID, folderID); err != nil {
		t.Fatalf("MoveDraft: %v", err)
	}
	got, _ := fake.GetPost(ctx, post.ID)
	if got.FolderID == nil || *got.FolderID != folderID {
		t.Fatalf("draft not filed: %+v", got.FolderID)
	}
	patch, ok := rec.lastPatch()
	if !ok || patch.FolderID == nil || *patch.FolderID != folderID {
		t.Fatalf("expected folder patch event, got %+v", patch)
	}

	// Moving to the synthetic Unfiled folder clears the assignment.
	if err := svc.MoveDraft(ctx, post.ID, "workspace-unfiled"); err != nil {
		t.Fatalf("MoveDraft to unfiled: %v", err)
	}
	got, _ = fake.GetPost(ctx, post.ID)
	if got.FolderID != nil {
		t.Fatalf("expected unfiled draft, got %v", *got.FolderID)
	}
}

func TestRenameFolderNoOpOnUnchangedName(t *testing.T) {
	fake := newFakeStore()
	svc, eventBus := newTestService(t, fake)
	ctx := context.Background()

	created, err := svc.CreateFolder(ctx, "user-1", "Essays")
	if err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	folderID := created["id"].(string)

	rec := recordEvents(t, eventBus)
	payload, err := svc.RenameFolder(ctx, folderID, "  Essays  ")
	if err != nil {
		t.Fatalf("RenameFolder: %v", err)
	}
	if payload["name"] != "Essays" {
		t.Fatalf("expected unchanged name, got %v", payload["name"])
	}
	if rec.refreshCount() != 0 {
		t.Fatal("no-op rename must not emit a refresh")
	}

	if _, err := svc.RenameFolder(ctx, folderID, "Notes"); err != nil {
		t.Fatalf("real rename: %v", err)
	}
	if rec.refreshCount() != 1 {
		t.Fatalf("real rename should emit one refresh, got %d", rec.refreshCount())
	}
}

func TestDeleteFolderMovesMembersToUnfiled(t *testing.T) {
	fake := newFakeStore()
	svc, eventBus := newTestService(t, fake)
	ctx := context.Background()

	created, err := svc.CreateFolder(ctx, "user-1", "Essays")
	if err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	folderID := created["id"].(string)
	post := seedDraft(t, fake, "p1")
	if err := svc.MoveDraft(ctx, post.ID, folderID); err != nil {
		t.Fatalf("MoveDraft: %v", err)
	}

	rec := recordEvents(t, eventBus)
	if err := svc.DeleteFolder(ctx, folderID); err != nil {
		t.Fatalf("DeleteFolder: %v", err)
	}

	got, err := fake.GetPost(ctx, post.ID)
	if err != nil {
		t.Fatalf("member draft must survive folder deletion: %v", err)
	}
	if got.FolderID != nil {
		t.Fatalf("member draft should be unfiled, got %v", *got.FolderID)
	}
	if rec.refreshCount() != 1 {
		t.Errorf("expected one refresh event, got %d", rec.refreshCount())
	}

	if err := svc.DeleteFolder(ctx, "workspace-unfiled"); err == nil {
		t.Fatal("deleting the Unfiled pseudo-folder must fail")
	}
}

func TestSnapshotLifecycle(t *testing.T) {
	fake := newFakeStore()
	svc, _ := newTestService(t, fake)
	post := seedDraft(t, fake, "p1")
	ctx := context.Background()

	if _, err := svc.RecordSnapshot(ctx, "missing", "user-1"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected ErrNoRows for missing post, got %v", err)
	}

	if _, err := svc.RecordSnapshot(ctx, post.ID, "user-1"); err != nil {
		t.Fatalf("first snapshot: %v", err)
	}
	if err := svc.QueueAutosave(ctx, post.ID, "Second Title", json.RawMessage(`{"type":"doc"}`)); err != nil {
		t.Fatalf("QueueAutosave: %v", err)
	}
	if _, err := svc.SaveDraftNow(ctx, post.ID); err != nil {
		t.Fatalf("SaveDraftNow: %v", err)
	}
	if _, err := svc.RecordSnapshot(ctx, post.ID, "user-1"); err != nil {
		t.Fatalf("second snapshot: %v", err)
	}

	items, err := svc.ListSnapshots(ctx, post.ID)
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(items))
	}
	// Newest first.
	if items[0]["title"] != "Second Title" || items[1]["title"] != "Untitled" {
		t.Fatalf("unexpected snapshot order: %v", items)
	}
}

func TestDraftCardsUseExcerptWithPlaceholder(t *testing.T) {
	fake := newFakeStore()
	svc, _ := newTestService(t, fake)
	ctx := context.Background()

	seedDraft(t, fake, "p1")
	empty := store.Post{
		ID:       "p2",
		AuthorID: "user-1",
		Title:    "Blank",
		Slug:     "blank",
		Content:  json.RawMessage(`{"type":"doc","content":[{"type":"paragraph"}]}`),
		Status:   store.StatusDraft,
	}
	if err := fake.InsertPost(ctx, empty); err != nil {
		t.Fatalf("seed empty draft: %v", err)
	}

	cards, err := svc.ListDraftCards(ctx)
	if err != nil {
		t.Fatalf("ListDraftCards: %v", err)
	}
	byID := make(map[string]map[string]any)
	for _, card := range cards {
		byID[card["id"].(string)] = card
	}
	if byID["p1"]["excerpt"] != "Seed body text." {
		t.Errorf("expected derived excerpt, got %v", byID["p1"]["excerpt"])
	}
	if byID["p2"]["excerpt"] != "No summary yet…" {
		t.Errorf("expected placeholder excerpt, got %v", byID["p2"]["excerpt"])
	}
}

func TestWorkspaceTreeReflectsFoldersAndFilter(t *testing.T) {
	fake := newFakeStore()
	svc, _ := newTestService(t, fake)
	ctx := context.Background()

	created, err := svc.CreateFolder(ctx, "user-1", "Essays")
	if err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	folderID := created["id"].(string)
	post := seedDraft(t, fake, "p1")
	if err := svc.MoveDraft(ctx, post.ID, folderID); err != nil {
		t.Fatalf("MoveDraft: %v", err)
	}

	tree, err := svc.WorkspaceTree(ctx, "")
	if err != nil {
		t.Fatalf("WorkspaceTree: %v", err)
	}
	if len(tree.Folders) != 2 {
		t.Fatalf("expected Essays + Unfiled, got %d folders", len(tree.Folders))
	}
	// New folders start expanded.
	if !tree.Folders[0].Expanded {
		t.Error("new folder should be expanded")
	}

	tree, err = svc.WorkspaceTree(ctx, "zzz-no-match")
	if err != nil {
		t.Fatalf("WorkspaceTree with filter: %v", err)
	}
	if tree.Message == "" {
		t.Error("expected empty-search message")
	}

	toggled := svc.ToggleFolder(folderID)
	if toggled["expanded"] != false {
		t.Errorf("expected folder collapsed after toggle, got %v", toggled)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	fake := newFakeStore()
	svc, _ := newTestService(t, fake)
	ctx := context.Background()

	session, err := svc.issueSession(ctx, store.User{ID: "user-1", DisplayName: "Owner"})
	if err != nil {
		t.Fatalf("issueSession: %v", err)
	}

	parsed, err := svc.SessionFromToken(ctx, session.Token)
	if err != nil {
		t.Fatalf("SessionFromToken: %v", err)
	}
	if parsed.UserID != "user-1" || parsed.UserName != "Owner" {
		t.Fatalf("unexpected session: %+v", parsed)
	}

	refreshed, err := svc.Refresh(ctx, session.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.UserID != "user-1" {
		t.Fatalf("unexpected refreshed session: %+v", refreshed)
	}

	// Refresh tokens are single-use.
	if _, err := svc.Refresh(ctx, session.RefreshToken); err == nil {
		t.Fatal("expected second refresh with the same token to fail")
	}

	if err := svc.Logout(ctx, refreshed.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := svc.Refresh(ctx, refreshed.RefreshToken); err == nil {
		t.Fatal("expected refresh after logout to fail")
	}
}

func TestPublicPostOnlyServesPublished(t *testing.T) {
	fake := newFakeStore()
	svc, _ := newTestService(t, fake)
	post := seedDraft(t, fake, "p1")
	ctx := context.Background()

	if _, err := svc.PublicPost(ctx, post.Slug); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("draft must not be publicly readable, got %v", err)
	}

	if _, err := svc.Publish(ctx, post.ID, "user-1", validPublishInput()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	payload, err := svc.PublicPost(ctx, post.Slug)
	if err != nil {
		t.Fatalf("PublicPost: %v", err)
	}
	html, _ := payload["html"].(string)
	if !strings.Contains(html, "Seed body text.") {
		t.Fatalf("expected rendered body, got %q", html)
	}
}
