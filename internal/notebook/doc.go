// Package notebook models the shared notebook cell graph.
//
// A notebook record holds a cell map, the authoritative cell order and its
// own request scope list. Cell source is collaborative text; execution
// bookkeeping (execution_source, execution_count, outputs) is written only by
// the worker when it actually runs a cell, so a divergence between source and
// execution_source is surfaced as staleness rather than recomputed.
//
// File sync is manual: a notebook file is ingested into the document once,
// and written back or re-read only on an explicit save or reload request.
package notebook
