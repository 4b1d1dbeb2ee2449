package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultDraft   ResultType = "draft"
	ResultSegment ResultType = "segment"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type     ResultType `json:"type"`
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Snippet  string     `json:"snippet"`
	DraftID  string     `json:"draftId"`
	Platform string     `json:"platform,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// DraftRecord is the data we index for a draft.
type DraftRecord struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Platform string `json:"platform"`
	Status   string `json:"status"`
}

// SegmentRecord is the data we index for a segment. Author attribution uses
// the anonymous display label, never a raw user id.
type SegmentRecord struct {
	ID            string `json:"id"`
	DraftID       string `json:"draftId"`
	Content       string `json:"content"`
	AuthorDisplay string `json:"authorDisplay"`
}
