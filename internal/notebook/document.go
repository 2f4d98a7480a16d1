package notebook

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"pkt.systems/webbox/schema"
)

var validate = validator.New()

// FromDocument hydrates a state from a persisted document. Cells without an
// id get a fresh one.
func FromDocument(doc schema.NotebookDocument) State {
	state := New()
	state.ID = doc.ID
	state.Slug = doc.Slug
	state.Course = doc.Course
	if schema.IsValidEmbedType(doc.EmbedType) {
		state.EmbedType = doc.EmbedType
	}
	if doc.NBFormat != 0 {
		state.NBFormat = doc.NBFormat
		state.NBFormatMinor = doc.NBFormatMinor
	}
	if doc.Metadata != nil {
		state.Metadata = cloneMap(doc.Metadata)
	}
	state.Authors = NormalizeAuthors(doc.Authors)
	for _, dc := range doc.Cells {
		cell := Cell{
			ID:       dc.ID,
			Type:     schema.ParseCellType(string(dc.CellType)),
			Source:   dc.Source,
			Metadata: cloneMap(dc.Metadata),
		}
		if cell.ID == "" {
			cell.ID = newCellID()
		}
		if _, dup := state.Cells[cell.ID]; dup {
			cell.ID = newCellID()
		}
		state.Cells[cell.ID] = cell
		state.CellOrder = append(state.CellOrder, cell.ID)
	}
	return state
}

// ToDocument serializes the document content of state. History and UI
// flags are not persisted.
func ToDocument(state State) schema.NotebookDocument {
	doc := schema.NotebookDocument{
		ID:            state.ID,
		Slug:          state.Slug,
		Course:        state.Course,
		EmbedType:     state.EmbedType,
		NBFormat:      state.NBFormat,
		NBFormatMinor: state.NBFormatMinor,
		Metadata:      cloneMap(state.Metadata),
		Authors:       NormalizeAuthors(state.Authors),
		Cells:         make([]schema.NotebookCell, 0, state.Len()),
	}
	for _, cell := range state.OrderedCells() {
		doc.Cells = append(doc.Cells, schema.NotebookCell{
			ID:       cell.ID,
			CellType: cell.Type,
			Source:   cell.Source,
			Metadata: cloneMap(cell.Metadata),
		})
	}
	return doc
}

// NormalizeAuthors lowercases author emails and drops invalid ones.
func NormalizeAuthors(authors []string) []string {
	if len(authors) == 0 {
		return nil
	}
	out := make([]string, 0, len(authors))
	for _, author := range authors {
		if validate.Var(author, "required,email") != nil {
			continue
		}
		out = append(out, strings.ToLower(author))
	}
	return out
}

// Import is the result of reading an ipynb file.
type Import struct {
	Cells    []map[string]any
	Language string
}

// LoadIPYNB reads nbformat 4 cells or the first worksheet of nbformat 3.
func LoadIPYNB(data []byte) (Import, error) {
	var raw struct {
		NBFormat int              `json:"nbformat"`
		Metadata map[string]any   `json:"metadata"`
		Cells    []map[string]any `json:"cells"`
		// nbformat 3
		Worksheets []struct {
			Cells []map[string]any `json:"cells"`
		} `json:"worksheets"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Import{}, fmt.Errorf("notebook ipynb decode: %w", err)
	}
	var out Import
	if lang, ok := getIn(raw.Metadata, "kernelspec", "language"); ok {
		out.Language, _ = lang.(string)
	}
	switch raw.NBFormat {
	case 4:
		out.Cells = raw.Cells
	case 3:
		if len(raw.Worksheets) > 0 {
			out.Cells = raw.Worksheets[0].Cells
		}
	default:
		return out, fmt.Errorf("notebook ipynb: unsupported nbformat %d", raw.NBFormat)
	}
	if out.Cells == nil {
		out.Cells = []map[string]any{}
	}
	return out, nil
}

// ExportIPYNB renders state as an nbformat 4 notebook. Cell ids are
// stripped and code cells carry empty outputs.
func ExportIPYNB(state State) ([]byte, error) {
	cells := make([]map[string]any, 0, state.Len())
	for _, cell := range state.OrderedCells() {
		out := map[string]any{
			"cell_type": string(cell.Type),
			"metadata":  cloneMap(cell.Metadata),
			"source":    cell.Source,
		}
		if cell.Type == schema.CellCode {
			out["outputs"] = []any{}
			out["execution_count"] = nil
		}
		cells = append(cells, out)
	}
	doc := map[string]any{
		"nbformat":       4,
		"nbformat_minor": state.NBFormatMinor,
		"metadata":       cloneMap(state.Metadata),
		"cells":          cells,
	}
	data, err := json.MarshalIndent(doc, "", " ")
	if err != nil {
		return nil, fmt.Errorf("notebook ipynb encode: %w", err)
	}
	return data, nil
}
