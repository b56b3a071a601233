package domain

import "context"

// Collection names a group of records inside the vector store.
type Collection string

const (
	Papers Collection = "papers"
	Images Collection = "images"
)

// Collections lists every collection the agent manages.
var Collections = []Collection{Papers, Images}

// Category labels assigned outside the configured topic list.
const (
	CategoryOthers        = "Others"
	CategoryUncategorized = "Uncategorized"
)

// Metadata keys stored alongside each record.
const (
	MetaSource   = "source"
	MetaCategory = "category"
)

// Intent tells the embedding service how the vector will be used.
type Intent int

const (
	IntentDocument Intent = iota
	IntentQuery
)

func (i Intent) String() string {
	if i == IntentQuery {
		return "query"
	}
	return "document"
}

// Record is a single indexed item: an ID, the raw text it was embedded from,
// the vector and a flat metadata map.
type Record struct {
	ID        string
	Document  string
	Embedding []float32
	Metadata  map[string]string
}

// Source returns the file path the record was built from.
func (r Record) Source() string {
	if r.Metadata == nil {
		return ""
	}
	return r.Metadata[MetaSource]
}

// Category returns the category label of a paper record.
func (r Record) Category() string {
	if r.Metadata == nil {
		return ""
	}
	return r.Metadata[MetaCategory]
}

// NewPaperRecord builds the record stored in the papers collection.
func NewPaperRecord(path, snippet, category string, vec []float32) Record {
	return Record{
		ID:        path,
		Document:  snippet,
		Embedding: vec,
		Metadata:  map[string]string{MetaSource: path, MetaCategory: category},
	}
}

// NewImageRecord builds the record stored in the images collection.
func NewImageRecord(path, description string, vec []float32) Record {
	return Record{
		ID:        path,
		Document:  description,
		Embedding: vec,
		Metadata:  map[string]string{MetaSource: path},
	}
}

// SearchResult represents a matching record with a relevance score.
type SearchResult struct {
	Record Record
	Score  float64
}

// Searcher is the read side exposed to the TUI and HTTP API.
type Searcher interface {
	Search(ctx context.Context, collection Collection, query string) ([]SearchResult, error)
}
