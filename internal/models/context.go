package models

// ContextChunk is one snippet of source material gathered for a request:
// a whole text file or a single PDF page.
type ContextChunk struct {
	Source   string                 `json:"source"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}
