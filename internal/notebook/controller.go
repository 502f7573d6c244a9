package notebook

import (
	"go.uber.org/zap"

	"github.com/weftlabs/weft/internal/crdt"
	"github.com/weftlabs/weft/internal/document"
	"github.com/weftlabs/weft/internal/logging"
	"github.com/weftlabs/weft/internal/request"
	"github.com/weftlabs/weft/internal/shared/id"
)

// CellView is a read-only projection of one cell.
type CellView struct {
	ID     id.CellID
	Type   string
	Source string
	// ExecutionSource is nil until the worker records an execution; a
	// never-executed cell is always stale.
	ExecutionSource *string
	ExecutionCount  *int64
	Outputs         []any
	// Stale means the source changed since the recorded execution. Surfaced,
	// never auto-recomputed.
	Stale bool
}

// Controller operates on a single notebook.
type Controller struct {
	store      *Store
	queue      *request.Queue
	root       *document.Root
	log        *logging.Logger
	notebookID string
}

// NewController binds a controller to one notebook id.
func NewController(store *Store, queue *request.Queue, root *document.Root, notebookID string, log *logging.Logger) *Controller {
	if log == nil {
		log = logging.Nop()
	}
	return &Controller{store: store, queue: queue, root: root, log: log, notebookID: notebookID}
}

// NotebookID returns the bound notebook id.
func (c *Controller) NotebookID() string { return c.notebookID }

// CreateCell appends a fresh empty cell to the notebook in one transaction.
func (c *Controller) CreateCell() (id.CellID, error) {
	cellID := id.NewCellID()
	err := c.root.Doc().Transact(func(tx *crdt.Tx) error {
		cells, order, ok := c.store.cells(tx, c.notebookID)
		if !ok {
			return ErrNotFound
		}
		rec := crdt.NewMap(tx)
		cells.Set(tx, cellID.String(), rec)
		rec.Set(tx, CellFieldID, cellID.String())
		rec.Set(tx, CellFieldType, CellTypeCode)
		rec.Set(tx, CellFieldExecutionSource, nil)
		rec.Set(tx, CellFieldExecutionCount, nil)
		rec.Set(tx, CellFieldMetadata, map[string]any{})
		rec.Set(tx, CellFieldSource, crdt.NewText(tx))
		rec.Set(tx, CellFieldOutputs, crdt.NewList(tx))
		order.Append(tx, cellID.String())
		return nil
	})
	if err != nil {
		return "", err
	}
	c.log.Debug("cell created",
		zap.String("notebook_id", c.notebookID), zap.String("cell_id", cellID.String()))
	return cellID, nil
}

// ExecuteCell hands the cell to the worker. Execution bookkeeping stays
// untouched here; the worker writes execution_source, execution_count and
// outputs when it actually runs the cell.
func (c *Controller) ExecuteCell(cellID id.CellID) (id.RequestID, error) {
	var rid id.RequestID
	err := c.root.Doc().Transact(func(tx *crdt.Tx) error {
		cells, _, ok := c.store.cells(tx, c.notebookID)
		if !ok || !cells.Has(tx, cellID.String()) {
			return ErrNotFound
		}
		scope, ok := c.store.Requests(tx, c.notebookID)
		if !ok {
			return ErrNotFound
		}
		var err error
		rid, err = c.queue.Enqueue(tx,
			request.NewExecuteCell(c.root.SessionID(tx), c.notebookID, cellID), scope)
		return err
	})
	return rid, err
}

// DeleteCell removes the record and its order entry in one transaction.
func (c *Controller) DeleteCell(cellID id.CellID) error {
	return c.root.Doc().Transact(func(tx *crdt.Tx) error {
		cells, order, ok := c.store.cells(tx, c.notebookID)
		if !ok {
			return ErrNotFound
		}
		cells.Delete(tx, cellID.String())
		for order.RemoveValue(tx, cellID.String()) {
		}
		return nil
	})
}

// ReorderCell moves the cell at from to final index to. Destinations right of
// the source already account for the removal shift.
func (c *Controller) ReorderCell(from, to int) error {
	return c.root.Doc().Transact(func(tx *crdt.Tx) error {
		_, order, ok := c.store.cells(tx, c.notebookID)
		if !ok {
			return ErrNotFound
		}
		n := order.Len(tx)
		if from < 0 || from >= n {
			return nil
		}
		moved, _ := order.Get(tx, from)
		order.DeleteAt(tx, from)
		if to < 0 {
			to = 0
		}
		if to > n-1 {
			to = n - 1
		}
		order.InsertAt(tx, to, moved)
		return nil
	})
}

// Save asks the worker to write the notebook back to its file.
func (c *Controller) Save() (id.RequestID, error) {
	return c.enqueueFileSync(request.KindSaveNotebook)
}

// Reload asks the worker to re-read the notebook from its file.
func (c *Controller) Reload() (id.RequestID, error) {
	return c.enqueueFileSync(request.KindReloadNotebook)
}

func (c *Controller) enqueueFileSync(kind request.Kind) (id.RequestID, error) {
	var rid id.RequestID
	err := c.root.Doc().Transact(func(tx *crdt.Tx) error {
		scope, ok := c.store.Requests(tx, c.notebookID)
		if !ok {
			return ErrNotFound
		}
		req := request.Request{
			Kind:       kind,
			Priority:   request.PriorityDefault,
			SessionID:  c.root.SessionID(tx),
			NotebookID: c.notebookID,
		}
		var err error
		rid, err = c.queue.Enqueue(tx, req, scope)
		return err
	})
	return rid, err
}

// CellIDs returns the authoritative cell order.
func (c *Controller) CellIDs(tx *crdt.Tx) []string {
	_, order, ok := c.store.cells(tx, c.notebookID)
	if !ok {
		return nil
	}
	return order.Strings(tx)
}

// Cell projects one cell for rendering.
func (c *Controller) Cell(tx *crdt.Tx, cellID id.CellID) (CellView, bool) {
	cells, _, ok := c.store.cells(tx, c.notebookID)
	if !ok {
		return CellView{}, false
	}
	v, ok := cells.Get(tx, cellID.String())
	if !ok {
		return CellView{}, false
	}
	rec, ok := v.(*crdt.Map)
	if !ok {
		return CellView{}, false
	}

	view := CellView{ID: cellID}
	if t, ok := rec.Get(tx, CellFieldType); ok {
		view.Type = document.Str(t)
	}
	if es, ok := rec.Get(tx, CellFieldExecutionSource); ok {
		if s, isStr := es.(string); isStr {
			view.ExecutionSource = &s
		}
	}
	if ec, ok := rec.Get(tx, CellFieldExecutionCount); ok {
		if n, isNum := document.Int(ec); isNum {
			view.ExecutionCount = &n
		}
	}
	if src, ok := textField(tx, rec, CellFieldSource); ok {
		view.Source = src.String(tx)
	}
	if outs, ok := listField(tx, rec, CellFieldOutputs); ok {
		view.Outputs = outs.Slice(tx)
	}
	view.Stale = view.ExecutionSource == nil || view.Source != *view.ExecutionSource
	return view, true
}

// SourceText returns the cell's collaborative source for editing.
func (c *Controller) SourceText(tx *crdt.Tx, cellID id.CellID) (*crdt.Text, bool) {
	cells, _, ok := c.store.cells(tx, c.notebookID)
	if !ok {
		return nil, false
	}
	v, ok := cells.Get(tx, cellID.String())
	if !ok {
		return nil, false
	}
	rec, ok := v.(*crdt.Map)
	if !ok {
		return nil, false
	}
	return textField(tx, rec, CellFieldSource)
}

// Stale reports whether the cell's source diverged from its last execution.
func (c *Controller) Stale(tx *crdt.Tx, cellID id.CellID) bool {
	view, ok := c.Cell(tx, cellID)
	return ok && view.Stale
}

// Pending returns this notebook's outstanding requests.
func (c *Controller) Pending(tx *crdt.Tx) []request.Request {
	scope, ok := c.store.Requests(tx, c.notebookID)
	if !ok {
		return nil
	}
	return c.queue.Pending(tx, scope, request.ByNotebook(c.notebookID))
}

// CancelPending removes every outstanding request for this notebook.
func (c *Controller) CancelPending() error {
	return c.root.Doc().Transact(func(tx *crdt.Tx) error {
		scope, ok := c.store.Requests(tx, c.notebookID)
		if !ok {
			return nil
		}
		for _, r := range c.queue.Pending(tx, scope, request.ByNotebook(c.notebookID)) {
			if err := c.queue.Remove(tx, r.ID, scope); err != nil {
				return err
			}
		}
		return nil
	})
}

// Watch recomputes this notebook's pending view on any queue change.
func (c *Controller) Watch(fn func([]request.Request)) (crdt.Unobserve, error) {
	var scope *crdt.List
	c.root.Doc().View(func(tx *crdt.Tx) {
		scope, _ = c.store.Requests(tx, c.notebookID)
	})
	if scope == nil {
		return nil, ErrNotFound
	}
	return c.queue.Watch(scope, request.ByNotebook(c.notebookID), fn)
}
