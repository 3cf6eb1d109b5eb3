// Package workspace shapes folders and drafts into the sidebar tree and
// tracks which folders are expanded.
package workspace

import (
	"sort"
	"strings"

	"quillpad/api/internal/store"
)

// UnfiledID is the synthetic folder holding drafts with no folder. It is not
// a database row and cannot be renamed or deleted.
const UnfiledID = "workspace-unfiled"

const UnfiledName = "Unfiled"

const (
	EmptySearchMessage = "No drafts match your search."
	EmptyTreeMessage   = "No drafts yet. Start something new."
)

// DraftLeaf is one draft entry in the tree.
type DraftLeaf struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Slug      string `json:"slug"`
	UpdatedAt string `json:"updated_at"`
}

// FolderNode groups drafts. Real folders carry their row id; the Unfiled
// pseudo-folder carries UnfiledID.
type FolderNode struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Expanded bool        `json:"expanded"`
	Drafts   []DraftLeaf `json:"drafts"`
}

// Tree is the full sidebar payload. Message is non-empty only when the tree
// has no draft leaves at all.
type Tree struct {
	Folders []FolderNode `json:"folders"`
	Message string       `json:"message,omitempty"`
}

// Build assembles the sidebar tree. Folders sort by name ascending,
// case-insensitively, with Unfiled pinned last. A non-empty filter keeps only
// drafts whose title contains it case-insensitively; folders left with no
// matching drafts are still shown so filing targets stay visible.
func Build(folders []store.Folder, drafts []store.Post, filter string, expanded Expansion) Tree {
	needle := strings.ToLower(strings.TrimSpace(filter))
	filtering := needle != ""

	byFolder := make(map[string][]DraftLeaf)
	total := 0
	for _, draft := range drafts {
		if filtering && !strings.Contains(strings.ToLower(draft.Title), needle) {
			continue
		}
		key := UnfiledID
		if draft.FolderID != nil {
			key = *draft.FolderID
		}
		byFolder[key] = append(byFolder[key], DraftLeaf{
			ID:        draft.ID,
			Title:     draft.Title,
			Slug:      draft.Slug,
			UpdatedAt: draft.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
		total++
	}

	sorted := append([]store.Folder(nil), folders...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return strings.ToLower(sorted[i].Name) < strings.ToLower(sorted[j].Name)
	})

	tree := Tree{Folders: make([]FolderNode, 0, len(sorted)+1)}
	for _, folder := range sorted {
		tree.Folders = append(tree.Folders, FolderNode{
			ID:       folder.ID,
			Name:     folder.Name,
			Expanded: expanded.IsExpanded(folder.ID),
			Drafts:   leaves(byFolder[folder.ID]),
		})
	}
	tree.Folders = append(tree.Folders, FolderNode{
		ID:       UnfiledID,
		Name:     UnfiledName,
		Expanded: expanded.IsExpanded(UnfiledID),
		Drafts:   leaves(byFolder[UnfiledID]),
	})

	if total == 0 {
		if filtering {
			tree.Message = EmptySearchMessage
		} else {
			tree.Message = EmptyTreeMessage
		}
	}
	return tree
}

func leaves(items []DraftLeaf) []DraftLeaf {
	if items == nil {
		return []DraftLeaf{}
	}
	return items
}

// Expansion tracks which folders the sidebar shows open. The zero value
// treats only Unfiled as expanded.
type Expansion struct {
	open map[string]bool
}

func NewExpansion() *Expansion {
	return &Expansion{open: map[string]bool{UnfiledID: true}}
}

func (e Expansion) IsExpanded(folderID string) bool {
	if e.open == nil {
		return folderID == UnfiledID
	}
	return e.open[folderID]
}

// Toggle flips a folder between open and closed.
func (e *Expansion) Toggle(folderID string) {
	if e.open == nil {
		e.open = map[string]bool{UnfiledID: true}
	}
	e.open[folderID] = !e.open[folderID]
}

// Opened marks a newly created folder expanded so its first filed draft is
// visible without an extra click.
func (e *Expansion) Opened(folderID string) {
	if e.open == nil {
		e.open = map[string]bool{UnfiledID: true}
	}
	e.open[folderID] = true
}

// Forget drops state for a deleted folder.
func (e *Expansion) Forget(folderID string) {
	delete(e.open, folderID)
}
