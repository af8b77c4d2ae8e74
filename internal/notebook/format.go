package notebook

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// CellType identifies a notebook cell kind.
type CellType string

const (
	CellCode     CellType = "code"
	CellMarkdown CellType = "markdown"
	CellRaw      CellType = "raw"
)

// Cell is one notebook unit. ExecutionCount is nil until the cell runs.
type Cell struct {
	ID             string
	Type           CellType
	Source         string
	Outputs        []Output
	ExecutionCount *int
	Metadata       map[string]any
}

// Notebook is the parsed .ipynb document.
type Notebook struct {
	NBFormat      int
	NBFormatMinor int
	Metadata      map[string]any
	Cells         []Cell
}

// NewCellID returns a fresh stable cell id.
func NewCellID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// ParseNotebook decodes nbformat JSON. Source fields may be a string or
// an array of lines; cells without an id get a generated one.
func ParseNotebook(data []byte) (*Notebook, error) {
	var raw struct {
		NBFormat      int               `json:"nbformat"`
		NBFormatMinor int               `json:"nbformat_minor"`
		Metadata      map[string]any    `json:"metadata"`
		Cells         []json.RawMessage `json:"cells"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("malformed notebook JSON: %w", err)
	}

	nb := &Notebook{
		NBFormat:      raw.NBFormat,
		NBFormatMinor: raw.NBFormatMinor,
		Metadata:      raw.Metadata,
		Cells:         make([]Cell, 0, len(raw.Cells)),
	}
	for i, rawCell := range raw.Cells {
		cell, err := parseCell(rawCell)
		if err != nil {
			return nil, fmt.Errorf("cell %d: %w", i, err)
		}
		nb.Cells = append(nb.Cells, cell)
	}
	return nb, nil
}

func parseCell(raw json.RawMessage) (Cell, error) {
	var body struct {
		ID             string            `json:"id"`
		CellType       string            `json:"cell_type"`
		Source         json.RawMessage   `json:"source"`
		Metadata       map[string]any    `json:"metadata"`
		Outputs        []json.RawMessage `json:"outputs"`
		ExecutionCount *int              `json:"execution_count"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return Cell{}, fmt.Errorf("malformed cell: %w", err)
	}

	switch CellType(body.CellType) {
	case CellCode, CellMarkdown, CellRaw:
	default:
		return Cell{}, fmt.Errorf("unknown cell_type %q", body.CellType)
	}

	source, err := joinSourceLines(body.Source)
	if err != nil {
		return Cell{}, err
	}

	cell := Cell{
		ID:       body.ID,
		Type:     CellType(body.CellType),
		Source:   source,
		Metadata: body.Metadata,
	}
	if cell.ID == "" {
		cell.ID = NewCellID()
	}
	if cell.Type == CellCode {
		cell.ExecutionCount = body.ExecutionCount
		for _, rawOut := range body.Outputs {
			out, err := unmarshalOutput(rawOut)
			if err != nil {
				return Cell{}, err
			}
			cell.Outputs = append(cell.Outputs, out)
		}
	}
	return cell, nil
}

// SerializeNotebook encodes to nbformat JSON. Source strings are written
// as arrays where every non-final entry ends in a newline, matching what
// reference tooling emits.
func SerializeNotebook(nb *Notebook) ([]byte, error) {
	metadata := nb.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	cells := make([]map[string]any, 0, len(nb.Cells))
	for _, cell := range nb.Cells {
		raw := map[string]any{
			"id":        cell.ID,
			"cell_type": string(cell.Type),
			"source":    splitSourceLines(cell.Source),
			"metadata":  orEmpty(cell.Metadata),
		}
		if cell.Type == CellCode {
			outputs := make([]map[string]any, 0, len(cell.Outputs))
			for _, out := range cell.Outputs {
				m, err := marshalOutput(out)
				if err != nil {
					return nil, err
				}
				outputs = append(outputs, m)
			}
			raw["outputs"] = outputs
			if cell.ExecutionCount != nil {
				raw["execution_count"] = *cell.ExecutionCount
			} else {
				raw["execution_count"] = nil
			}
		}
		cells = append(cells, raw)
	}

	doc := map[string]any{
		"nbformat":       nb.NBFormat,
		"nbformat_minor": nb.NBFormatMinor,
		"metadata":       metadata,
		"cells":          cells,
	}
	return json.MarshalIndent(doc, "", " ")
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// joinSourceLines accepts a JSON string or array of strings.
func joinSourceLines(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var lines []string
	if err := json.Unmarshal(raw, &lines); err != nil {
		return "", fmt.Errorf("source must be a string or array of strings")
	}
	return strings.Join(lines, ""), nil
}

// splitSourceLines splits text so each non-final entry keeps its newline.
func splitSourceLines(text string) []string {
	if text == "" {
		return []string{}
	}
	var lines []string
	for {
		idx := strings.IndexByte(text, '\n')
		if idx < 0 {
			lines = append(lines, text)
			return lines
		}
		lines = append(lines, text[:idx+1])
		text = text[idx+1:]
		if text == "" {
			return lines
		}
	}
}
