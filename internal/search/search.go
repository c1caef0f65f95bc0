// Package search answers free-text queries against folder keyword indexes.
package search

// NoResultsMessage is returned whenever a search finds nothing to show.
const NoResultsMessage = "No resources found"

// Result is a single ranked resource.
type Result struct {
	ID       int64    `json:"id"`
	FolderID int64    `json:"folderId"`
	Title    string   `json:"title"`
	Type     string   `json:"type"`
	Score    int      `json:"score"`
	Rating   string   `json:"rating"`
	Keywords []string `json:"keywords"`
}

// Response is the envelope returned for folder and group searches.
type Response struct {
	Found   bool     `json:"found"`
	Message string   `json:"message,omitempty"`
	Query   string   `json:"query"`
	Results []Result `json:"results"`
}

func notFound(query string) Response {
	return Response{Found: false, Message: NoResultsMessage, Query: query, Results: []Result{}}
}
