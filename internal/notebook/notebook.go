package notebook

import (
	"errors"
	"time"

	"github.com/weftlabs/weft/internal/crdt"
	"github.com/weftlabs/weft/internal/document"
	"github.com/weftlabs/weft/internal/logging"
)

// Notebook record field names.
const (
	FieldFilename   = "filename"
	FieldAbsPath    = "abs_path"
	FieldSyncedAt   = "synced_at"
	FieldCells      = "cells"
	FieldCellsOrder = "cells_order"
	FieldRequests   = "requests"
)

// Cell record field names.
const (
	CellFieldID              = "id"
	CellFieldType            = "cell_type"
	CellFieldExecutionSource = "execution_source"
	CellFieldExecutionCount  = "execution_count"
	CellFieldMetadata        = "metadata"
	CellFieldSource          = "source"
	CellFieldOutputs         = "outputs"
)

// CellTypeCode is the default type for cells created in the client.
const CellTypeCode = "code"

// ErrNotFound reports a notebook or cell id with no backing record.
var ErrNotFound = errors.New("notebook: not found")

// Store accesses the root "notebooks" map.
type Store struct {
	root *document.Root
	log  *logging.Logger
}

// NewStore binds a store to a document.
func NewStore(root *document.Root, log *logging.Logger) *Store {
	if log == nil {
		log = logging.Nop()
	}
	return &Store{root: root, log: log}
}

// Create registers an empty notebook record. No-op when the id already
// exists, so concurrent ingestion of the same file cannot clobber cells.
func (s *Store) Create(tx *crdt.Tx, notebookID, filename, absPath string) error {
	notebooks, ok := s.root.Notebooks(tx)
	if !ok {
		return ErrNotFound
	}
	if notebooks.Has(tx, notebookID) {
		return nil
	}
	rec := crdt.NewMap(tx)
	notebooks.Set(tx, notebookID, rec)
	rec.Set(tx, FieldFilename, filename)
	rec.Set(tx, FieldAbsPath, absPath)
	rec.Set(tx, FieldSyncedAt, time.Now().UnixMilli())
	rec.Set(tx, FieldCells, crdt.NewMap(tx))
	rec.Set(tx, FieldCellsOrder, crdt.NewList(tx))
	rec.Set(tx, FieldRequests, crdt.NewList(tx))
	return nil
}

// Record returns a notebook's record map.
func (s *Store) Record(tx *crdt.Tx, notebookID string) (*crdt.Map, bool) {
	notebooks, ok := s.root.Notebooks(tx)
	if !ok {
		return nil, false
	}
	v, ok := notebooks.Get(tx, notebookID)
	if !ok {
		return nil, false
	}
	rec, ok := v.(*crdt.Map)
	return rec, ok
}

// IDs returns every registered notebook id.
func (s *Store) IDs(tx *crdt.Tx) []string {
	notebooks, ok := s.root.Notebooks(tx)
	if !ok {
		return nil
	}
	return notebooks.Keys(tx)
}

// Requests returns a notebook's request scope list.
func (s *Store) Requests(tx *crdt.Tx, notebookID string) (*crdt.List, bool) {
	rec, ok := s.Record(tx, notebookID)
	if !ok {
		return nil, false
	}
	return listField(tx, rec, FieldRequests)
}

func (s *Store) cells(tx *crdt.Tx, notebookID string) (*crdt.Map, *crdt.List, bool) {
	rec, ok := s.Record(tx, notebookID)
	if !ok {
		return nil, nil, false
	}
	cells, ok := mapField(tx, rec, FieldCells)
	if !ok {
		return nil, nil, false
	}
	order, ok := listField(tx, rec, FieldCellsOrder)
	if !ok {
		return nil, nil, false
	}
	return cells, order, true
}

func mapField(tx *crdt.Tx, rec *crdt.Map, key string) (*crdt.Map, bool) {
	v, ok := rec.Get(tx, key)
	if !ok {
		return nil, false
	}
	m, ok := v.(*crdt.Map)
	return m, ok
}

func listField(tx *crdt.Tx, rec *crdt.Map, key string) (*crdt.List, bool) {
	v, ok := rec.Get(tx, key)
	if !ok {
		return nil, false
	}
	l, ok := v.(*crdt.List)
	return l, ok
}

func textField(tx *crdt.Tx, rec *crdt.Map, key string) (*crdt.Text, bool) {
	v, ok := rec.Get(tx, key)
	if !ok {
		return nil, false
	}
	txt, ok := v.(*crdt.Text)
	return txt, ok
}
