package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Slug    string `json:"slug"`
	Snippet string `json:"snippet"`
	Status  string `json:"status"`
}

// Query describes a search request. PublishedOnly restricts hits to
// published posts, which is what the public feed needs.
type Query struct {
	Text          string
	PublishedOnly bool
	Limit         int
	Offset        int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over posts.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push posts into a search index.
type Indexer interface {
	IndexPost(record PostRecord) error
	DeletePost(id string) error
}

// PostRecord is the data we index for a post. Deleted posts are removed
// from the index, never stored with a flag.
type PostRecord struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Excerpt string   `json:"excerpt"`
	Slug    string   `json:"slug"`
	Status  string   `json:"status"`
	Tags    []string `json:"tags"`
}
