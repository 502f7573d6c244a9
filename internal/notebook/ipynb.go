package notebook

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/weftlabs/weft/internal/crdt"
	"github.com/weftlabs/weft/internal/document"
	"github.com/weftlabs/weft/internal/shared/id"
)

// json decodes integers as int64 so execution counts survive round trips.
var json = sonic.Config{UseInt64: true}.Froze()

// Notebook-level passthrough fields preserved for export.
const (
	FieldMetadata      = "metadata"
	FieldNbformat      = "nbformat"
	FieldNbformatMinor = "nbformat_minor"
)

type fileCell struct {
	CellType       string         `json:"cell_type"`
	ExecutionCount *int64         `json:"execution_count,omitempty"`
	Metadata       map[string]any `json:"metadata"`
	Outputs        []any          `json:"outputs,omitempty"`
	Source         any            `json:"source"`
}

type file struct {
	Cells         []fileCell     `json:"cells"`
	Metadata      map[string]any `json:"metadata"`
	Nbformat      int64          `json:"nbformat"`
	NbformatMinor int64          `json:"nbformat_minor"`
}

// Ingest transforms a notebook file into the shared representation. Happens
// once per discovered file; an already-registered notebook id is left alone.
// Loaded cells start with execution_source equal to source, so nothing reads
// as stale right after load.
func (s *Store) Ingest(tx *crdt.Tx, notebookID, filename, absPath string, raw []byte) error {
	if _, exists := s.Record(tx, notebookID); exists {
		return nil
	}
	var f file
	if err := json.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse %s: %w", filename, err)
	}
	if err := s.Create(tx, notebookID, filename, absPath); err != nil {
		return err
	}
	rec, _ := s.Record(tx, notebookID)
	rec.Set(tx, FieldMetadata, f.Metadata)
	rec.Set(tx, FieldNbformat, f.Nbformat)
	rec.Set(tx, FieldNbformatMinor, f.NbformatMinor)

	cells, order, _ := s.cells(tx, notebookID)
	for _, fc := range f.Cells {
		cellID := id.NewCellID()
		source := sourceString(fc.Source)

		c := crdt.NewMap(tx)
		cells.Set(tx, cellID.String(), c)
		c.Set(tx, CellFieldID, cellID.String())
		c.Set(tx, CellFieldType, fc.CellType)
		c.Set(tx, CellFieldExecutionSource, source)
		if fc.ExecutionCount != nil {
			c.Set(tx, CellFieldExecutionCount, *fc.ExecutionCount)
		} else {
			c.Set(tx, CellFieldExecutionCount, nil)
		}
		if fc.Metadata != nil {
			c.Set(tx, CellFieldMetadata, fc.Metadata)
		} else {
			c.Set(tx, CellFieldMetadata, map[string]any{})
		}

		text := crdt.NewText(tx)
		c.Set(tx, CellFieldSource, text)
		text.Insert(tx, 0, source)

		outputs := crdt.NewList(tx)
		c.Set(tx, CellFieldOutputs, outputs)
		for _, out := range fc.Outputs {
			outputs.Append(tx, out)
		}
		order.Append(tx, cellID.String())
	}
	return nil
}

// Export rebuilds the notebook file from the shared representation. Cells
// are emitted as plain maps so key presence matches the file format exactly:
// markdown cells carry no outputs or execution_count keys, code cells always
// carry both (execution_count may be null).
func (s *Store) Export(tx *crdt.Tx, notebookID string) ([]byte, error) {
	rec, ok := s.Record(tx, notebookID)
	if !ok {
		return nil, ErrNotFound
	}
	cells, order, ok := s.cells(tx, notebookID)
	if !ok {
		return nil, ErrNotFound
	}

	out := map[string]any{
		"cells":          []any{},
		"metadata":       map[string]any{},
		"nbformat":       int64(4),
		"nbformat_minor": int64(5),
	}
	if v, ok := rec.Get(tx, FieldMetadata); ok {
		if meta, isMap := v.(map[string]any); isMap {
			out["metadata"] = meta
		}
	}
	if v, ok := rec.Get(tx, FieldNbformat); ok {
		if n, isNum := document.Int(v); isNum && n > 0 {
			out["nbformat"] = n
		}
	}
	if v, ok := rec.Get(tx, FieldNbformatMinor); ok {
		if n, isNum := document.Int(v); isNum {
			out["nbformat_minor"] = n
		}
	}

	fileCells := []any{}
	for _, cellID := range order.Strings(tx) {
		v, ok := cells.Get(tx, cellID)
		if !ok {
			continue
		}
		c, ok := v.(*crdt.Map)
		if !ok {
			continue
		}
		fc := map[string]any{
			"cell_type": "",
			"metadata":  map[string]any{},
			"source":    []string{},
		}
		if t, ok := c.Get(tx, CellFieldType); ok {
			fc["cell_type"] = document.Str(t)
		}
		if m, ok := c.Get(tx, CellFieldMetadata); ok {
			if meta, isMap := m.(map[string]any); isMap {
				fc["metadata"] = meta
			}
		}
		if text, ok := textField(tx, c, CellFieldSource); ok {
			fc["source"] = splitLines(text.String(tx))
		}
		if fc["cell_type"] == CellTypeCode {
			fc["outputs"] = []any{}
			if outs, ok := listField(tx, c, CellFieldOutputs); ok {
				fc["outputs"] = outs.Slice(tx)
			}
			fc["execution_count"] = nil
			if ec, ok := c.Get(tx, CellFieldExecutionCount); ok {
				if n, isNum := document.Int(ec); isNum {
					fc["execution_count"] = n
				}
			}
		}
		fileCells = append(fileCells, fc)
	}
	out["cells"] = fileCells
	return json.MarshalIndent(out, "", " ")
}

// sourceString accepts both file encodings of source: a single string or a
// list of line strings.
func sourceString(v any) string {
	switch src := v.(type) {
	case string:
		return src
	case []any:
		var b strings.Builder
		for _, line := range src {
			if s, ok := line.(string); ok {
				b.WriteString(s)
			}
		}
		return b.String()
	}
	return ""
}

// splitLines re-encodes source as the conventional line list, each line
// keeping its trailing newline.
func splitLines(s string) []string {
	if s == "" {
		return []string{}
	}
	parts := strings.SplitAfter(s, "\n")
	if parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}
