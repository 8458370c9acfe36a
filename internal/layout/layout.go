// Package layout defines the document layout-analysis contract.
//
// Layout understanding itself is delegated to an external parsing service;
// this package carries the parsed representation the ingestion pipeline
// consumes and an HTTP client for the service. A Layout is ephemeral: it is
// never persisted, only filtered and vectorized in-process.
package layout

import "context"

// Block is one parsed layout block in document order.
type Block struct {
	Type            string `json:"type"`
	SubType         string `json:"subType"`
	MarkdownContent string `json:"markdownContent"`
}

// Layout is the ordered block sequence for one document.
type Layout struct {
	Blocks []Block `json:"layouts"`
}

// Structural block types carrying headings rather than content.
const (
	TypeDocTitle       = "doc_title"
	TypeParagraphTitle = "paragraph_title"
	TypeTitle          = "title"
)

// Structural reports whether the block is a document/section/paragraph title.
// Structural blocks are dropped before segmentation.
func (b Block) Structural() bool {
	switch b.Type {
	case TypeDocTitle, TypeParagraphTitle, TypeTitle:
		return true
	}
	switch b.SubType {
	case TypeDocTitle, TypeParagraphTitle:
		return true
	}
	return false
}

// Parser parses a local document file into an ordered layout.
// Implementations wrap external document-analysis services.
type Parser interface {
	Parse(ctx context.Context, localPath string) (*Layout, error)
}
