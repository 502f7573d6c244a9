package notebook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/internal/crdt"
	"github.com/weftlabs/weft/internal/document"
	"github.com/weftlabs/weft/internal/logging"
)

const sampleNotebook = `{
 "cells": [
  {
   "cell_type": "code",
   "execution_count": 3,
   "metadata": {},
   "outputs": [
    {"output_type": "stream", "name": "stdout", "text": ["4\n"]}
   ],
   "source": ["x = 2 + 2\n", "print(x)"]
  },
  {
   "cell_type": "markdown",
   "metadata": {"tags": ["intro"]},
   "source": "# Notes"
  }
 ],
 "metadata": {"kernelspec": {"name": "python3"}},
 "nbformat": 4,
 "nbformat_minor": 5
}`

func newTestStore(t *testing.T) (*crdt.Doc, *Store) {
	t.Helper()
	doc := crdt.NewDoc()
	root := document.New(doc)
	store := NewStore(root, logging.Nop())
	err := doc.Transact(func(tx *crdt.Tx) error {
		root.Initialize(tx, "sess-1")
		return nil
	})
	require.NoError(t, err)
	return doc, store
}

func TestIngestBuildsSharedRepresentation(t *testing.T) {
	doc, store := newTestStore(t)

	err := doc.Transact(func(tx *crdt.Tx) error {
		return store.Ingest(tx, "nb-1", "a.ipynb", "/ws/a.ipynb", []byte(sampleNotebook))
	})
	require.NoError(t, err)

	doc.View(func(tx *crdt.Tx) {
		cells, order, ok := store.cells(tx, "nb-1")
		require.True(t, ok)
		ids := order.Strings(tx)
		require.Len(t, ids, 2)

		v, _ := cells.Get(tx, ids[0])
		code := v.(*crdt.Map)
		src, _ := textField(tx, code, CellFieldSource)
		assert.Equal(t, "x = 2 + 2\nprint(x)", src.String(tx))

		// Loaded cells are in sync with their recorded execution.
		es, _ := code.Get(tx, CellFieldExecutionSource)
		assert.Equal(t, src.String(tx), document.Str(es))
		ec, _ := code.Get(tx, CellFieldExecutionCount)
		n, isNum := document.Int(ec)
		require.True(t, isNum)
		assert.Equal(t, int64(3), n)

		outs, _ := listField(tx, code, CellFieldOutputs)
		assert.Equal(t, 1, outs.Len(tx))
	})
}

func TestIngestIsOncePerNotebook(t *testing.T) {
	doc, store := newTestStore(t)

	for i := 0; i < 2; i++ {
		err := doc.Transact(func(tx *crdt.Tx) error {
			return store.Ingest(tx, "nb-1", "a.ipynb", "/ws/a.ipynb", []byte(sampleNotebook))
		})
		require.NoError(t, err)
	}

	doc.View(func(tx *crdt.Tx) {
		_, order, ok := store.cells(tx, "nb-1")
		require.True(t, ok)
		assert.Equal(t, 2, order.Len(tx))
	})
}

func TestIngestRejectsMalformedFile(t *testing.T) {
	doc, store := newTestStore(t)

	err := doc.Transact(func(tx *crdt.Tx) error {
		return store.Ingest(tx, "nb-bad", "bad.ipynb", "/ws/bad.ipynb", []byte("{nope"))
	})
	assert.Error(t, err)
}

func TestExportRoundTripPreservesCells(t *testing.T) {
	doc, store := newTestStore(t)

	err := doc.Transact(func(tx *crdt.Tx) error {
		return store.Ingest(tx, "nb-1", "a.ipynb", "/ws/a.ipynb", []byte(sampleNotebook))
	})
	require.NoError(t, err)

	var exported []byte
	doc.View(func(tx *crdt.Tx) {
		var err error
		exported, err = store.Export(tx, "nb-1")
		require.NoError(t, err)
	})

	var f file
	require.NoError(t, json.Unmarshal(exported, &f))
	require.Len(t, f.Cells, 2)

	code := f.Cells[0]
	assert.Equal(t, CellTypeCode, code.CellType)
	assert.Equal(t, []any{"x = 2 + 2\n", "print(x)"}, code.Source)
	require.NotNil(t, code.ExecutionCount)
	assert.Equal(t, int64(3), *code.ExecutionCount)
	require.Len(t, code.Outputs, 1)

	md := f.Cells[1]
	assert.Equal(t, "markdown", md.CellType)
	assert.Equal(t, []any{"# Notes"}, md.Source)
	assert.Nil(t, md.ExecutionCount)
	assert.Nil(t, md.Outputs)

	assert.Equal(t, int64(4), f.Nbformat)
	assert.Equal(t, map[string]any{"kernelspec": map[string]any{"name": "python3"}}, f.Metadata)
}

func TestExportUnknownNotebook(t *testing.T) {
	doc, store := newTestStore(t)
	doc.View(func(tx *crdt.Tx) {
		_, err := store.Export(tx, "nb-missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
