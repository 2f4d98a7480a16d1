package schema

// CellType is the kind of a notebook cell.
type CellType string

const (
	// CellMarkdown holds prose.
	CellMarkdown CellType = "markdown"
	// CellCode holds source code that is highlighted but not embedded.
	CellCode CellType = "code"
	// CellCodeEmbed references an embed by id or slug.
	CellCodeEmbed CellType = "codeembed"
	// CellRaw is passed through verbatim.
	CellRaw CellType = "raw"
)

// ParseCellType maps unknown cell types to CellRaw.
func ParseCellType(value string) CellType {
	switch CellType(value) {
	case CellMarkdown, CellCode, CellCodeEmbed:
		return CellType(value)
	default:
		return CellRaw
	}
}

// NotebookCell is one cell of a persisted notebook document.
type NotebookCell struct {
	ID       CellID         `json:"id,omitempty"`
	CellType CellType       `json:"cell_type"`
	Source   string         `json:"source"`
	Metadata map[string]any `json:"metadata"`
}

// NotebookDocument is the persisted layout of a notebook.
type NotebookDocument struct {
	ID            DocumentID     `json:"id,omitempty"`
	Slug          Slug           `json:"slug,omitempty"`
	Course        string         `json:"course,omitempty"`
	EmbedType     EmbedType      `json:"embedType,omitempty"`
	NBFormat      int            `json:"nbformat"`
	NBFormatMinor int            `json:"nbformat_minor"`
	Metadata      map[string]any `json:"metadata"`
	Authors       []string       `json:"authors,omitempty"`
	Cells         []NotebookCell `json:"cells"`
}
