package notebook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/internal/crdt"
	"github.com/weftlabs/weft/internal/document"
	"github.com/weftlabs/weft/internal/logging"
	"github.com/weftlabs/weft/internal/request"
	"github.com/weftlabs/weft/internal/shared/id"
)

const testNotebookID = "nb-1"

func newTestController(t *testing.T) (*crdt.Doc, *document.Root, *Store, *Controller) {
	t.Helper()
	doc := crdt.NewDoc()
	root := document.New(doc)
	store := NewStore(root, logging.Nop())
	err := doc.Transact(func(tx *crdt.Tx) error {
		root.Initialize(tx, "sess-1")
		return store.Create(tx, testNotebookID, "a.ipynb", "/ws/a.ipynb")
	})
	require.NoError(t, err)
	queue := request.NewQueue(root, logging.Nop())
	return doc, root, store, NewController(store, queue, root, testNotebookID, logging.Nop())
}

func TestCreateCellAppendsEmptyCell(t *testing.T) {
	doc, _, _, ctrl := newTestController(t)

	cellID, err := ctrl.CreateCell()
	require.NoError(t, err)

	doc.View(func(tx *crdt.Tx) {
		assert.Equal(t, []string{cellID.String()}, ctrl.CellIDs(tx))

		view, ok := ctrl.Cell(tx, cellID)
		require.True(t, ok)
		assert.Equal(t, CellTypeCode, view.Type)
		assert.Empty(t, view.Source)
		assert.Empty(t, view.Outputs)
		assert.Nil(t, view.ExecutionCount)
		assert.Nil(t, view.ExecutionSource)
		assert.True(t, view.Stale, "a never-executed cell reads as stale")
	})
}

func TestExecuteCellEnqueuesScopedRequest(t *testing.T) {
	doc, _, _, ctrl := newTestController(t)

	cellID, err := ctrl.CreateCell()
	require.NoError(t, err)

	rid, err := ctrl.ExecuteCell(cellID)
	require.NoError(t, err)

	doc.View(func(tx *crdt.Tx) {
		pending := ctrl.Pending(tx)
		require.Len(t, pending, 1)
		r := pending[0]
		assert.Equal(t, rid, r.ID)
		assert.Equal(t, request.KindExecuteCell, r.Kind)
		assert.Equal(t, "sess-1", r.SessionID)
		assert.Equal(t, testNotebookID, r.NotebookID)
		assert.Equal(t, cellID, r.CellID)
	})
}

func TestExecuteUnknownCellFails(t *testing.T) {
	_, _, _, ctrl := newTestController(t)

	_, err := ctrl.ExecuteCell(id.CellID("cell_missing"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteCellKeepsMapAndOrderInLockstep(t *testing.T) {
	doc, _, store, ctrl := newTestController(t)

	first, err := ctrl.CreateCell()
	require.NoError(t, err)
	second, err := ctrl.CreateCell()
	require.NoError(t, err)

	require.NoError(t, ctrl.DeleteCell(first))

	doc.View(func(tx *crdt.Tx) {
		assert.Equal(t, []string{second.String()}, ctrl.CellIDs(tx))
		cells, _, ok := store.cells(tx, testNotebookID)
		require.True(t, ok)
		assert.False(t, cells.Has(tx, first.String()))
		assert.True(t, cells.Has(tx, second.String()))
	})
}

func TestReorderCellFinalIndex(t *testing.T) {
	doc, _, _, ctrl := newTestController(t)

	a, _ := ctrl.CreateCell()
	b, _ := ctrl.CreateCell()
	c, _ := ctrl.CreateCell()

	// Drag the first cell below the last one.
	require.NoError(t, ctrl.ReorderCell(0, 2))

	doc.View(func(tx *crdt.Tx) {
		assert.Equal(t, []string{b.String(), c.String(), a.String()}, ctrl.CellIDs(tx))
	})
}

func TestStalenessTracksSourceDivergence(t *testing.T) {
	doc, _, _, ctrl := newTestController(t)

	cellID, err := ctrl.CreateCell()
	require.NoError(t, err)

	// Worker finished a run: it records what it executed.
	err = doc.Transact(func(tx *crdt.Tx) error {
		src, ok := ctrl.SourceText(tx, cellID)
		require.True(t, ok)
		src.Insert(tx, 0, "print(1)")

		cells, _, _ := ctrl.store.cells(tx, testNotebookID)
		v, _ := cells.Get(tx, cellID.String())
		rec := v.(*crdt.Map)
		rec.Set(tx, CellFieldExecutionSource, "print(1)")
		rec.Set(tx, CellFieldExecutionCount, int64(1))
		return nil
	})
	require.NoError(t, err)

	doc.View(func(tx *crdt.Tx) {
		assert.False(t, ctrl.Stale(tx, cellID))
	})

	// User edits afterwards: stale until the next run, never auto-cleared.
	err = doc.Transact(func(tx *crdt.Tx) error {
		src, _ := ctrl.SourceText(tx, cellID)
		src.Insert(tx, src.Len(tx), " # changed")
		return nil
	})
	require.NoError(t, err)

	doc.View(func(tx *crdt.Tx) {
		assert.True(t, ctrl.Stale(tx, cellID))
	})
}

func TestSaveAndReloadEnqueueFileSyncRequests(t *testing.T) {
	doc, _, _, ctrl := newTestController(t)

	saveID, err := ctrl.Save()
	require.NoError(t, err)
	reloadID, err := ctrl.Reload()
	require.NoError(t, err)

	doc.View(func(tx *crdt.Tx) {
		pending := ctrl.Pending(tx)
		require.Len(t, pending, 2)
		assert.Equal(t, saveID, pending[0].ID)
		assert.Equal(t, request.KindSaveNotebook, pending[0].Kind)
		assert.Equal(t, reloadID, pending[1].ID)
		assert.Equal(t, request.KindReloadNotebook, pending[1].Kind)
		assert.Equal(t, "sess-1", pending[0].SessionID)
	})
}

func TestCancelPendingClearsScope(t *testing.T) {
	doc, root, _, ctrl := newTestController(t)

	_, err := ctrl.Save()
	require.NoError(t, err)

	require.NoError(t, ctrl.CancelPending())

	doc.View(func(tx *crdt.Tx) {
		assert.Empty(t, ctrl.Pending(tx))
		order, _ := root.RequestsOrder(tx)
		assert.Empty(t, order.Strings(tx))
	})
}

func TestWatchSeesWorkerCompletion(t *testing.T) {
	doc, root, store, ctrl := newTestController(t)

	cellID, err := ctrl.CreateCell()
	require.NoError(t, err)
	rid, err := ctrl.ExecuteCell(cellID)
	require.NoError(t, err)

	var (
		fired  bool
		latest []request.Request
	)
	unwatch, err := ctrl.Watch(func(pending []request.Request) {
		fired = true
		latest = pending
	})
	require.NoError(t, err)
	defer unwatch()

	// Worker completes: record and scope entry removed together.
	err = doc.Transact(func(tx *crdt.Tx) error {
		scope, _ := store.Requests(tx, testNotebookID)
		return request.NewQueue(root, logging.Nop()).Remove(tx, rid, scope)
	})
	require.NoError(t, err)

	assert.True(t, fired)
	assert.Empty(t, latest)
}
