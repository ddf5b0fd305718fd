// Package research is a multi-step research pipeline built on the engine:
//
//	plan -> search -> reflect -> analyze -> write
//	           ^---------'  (follow-up queries, up to config.maxIterations)
//
// Language-model, search and page-reading calls are injected through the
// Model, Searcher and Reader interfaces.
package research

import "context"

// Pipeline stages, also the task names.
const (
	StagePlan    = "plan"
	StageSearch  = "search"
	StageReflect = "reflect"
	StageAnalyze = "analyze"
	StageWrite   = "write"
)

// Request is one language-model call.
type Request struct {
	Stage  string
	System string
	Prompt string
}

// Model generates text for a prompt.
type Model interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// ModelFunc adapts a function to Model.
type ModelFunc func(ctx context.Context, req Request) (string, error)

func (f ModelFunc) Generate(ctx context.Context, req Request) (string, error) { return f(ctx, req) }

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// Searcher runs web searches. Results are deduplicated by link.
type Searcher interface {
	Search(ctx context.Context, queries []string) ([]SearchResult, error)
}

// Page is the readable content of a fetched URL.
type Page struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Markdown string `json:"markdown"`
}

// Reader fetches a page and extracts its text.
type Reader interface {
	Read(ctx context.Context, url string) (*Page, error)
}

// Source is a search hit with the content read from it, if any.
type Source struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet,omitempty"`
	Content string `json:"content,omitempty"`
}

// Progress is emitted on the status event as the pipeline advances.
type Progress struct {
	Stage     string `json:"stage"`
	Iteration int    `json:"iteration"`
	Sources   int    `json:"sources"`
}
