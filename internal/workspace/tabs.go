package workspace

import (
	"sync"

	"go.uber.org/zap"

	"github.com/weftlabs/weft/internal/crdt"
	"github.com/weftlabs/weft/internal/document"
	"github.com/weftlabs/weft/internal/logging"
	"github.com/weftlabs/weft/internal/request"
	"github.com/weftlabs/weft/internal/shared/id"
)

// Tab is one entry of the presentation order.
type Tab struct {
	ID string
	// Valid is false when the id has no backing record in the shared tabs
	// map, usually because a collaborator deleted it a moment earlier.
	// Rendered as an invalid placeholder, never treated as an error.
	Valid  bool
	Active bool
}

// Tabs is the per-client tab controller. The shared document holds the raw
// order; Tabs derives a presentation-stable order from it and tracks the
// locally active tab.
type Tabs struct {
	root  *document.Root
	queue *request.Queue
	log   *logging.Logger

	mu       sync.Mutex
	stable   []string
	active   string
	onChange func([]Tab)

	unobserve crdt.Unobserve
}

// NewTabs builds a controller and starts following the shared order.
func NewTabs(root *document.Root, queue *request.Queue, log *logging.Logger) *Tabs {
	if log == nil {
		log = logging.Nop()
	}
	t := &Tabs{root: root, queue: queue, log: log}
	root.Doc().View(func(tx *crdt.Tx) {
		raw, _ := root.TabsOrder(tx)
		t.stable = append([]string(nil), raw...)
	})
	t.unobserve = root.Data().Observe(func(ev crdt.Event) {
		if ev.Map == nil {
			return
		}
		if _, ok := ev.Map.KeysChanged[document.KeyTabsOrder]; ok {
			t.refresh()
			return
		}
		if _, ok := ev.Map.KeysChanged[document.KeyTabs]; ok {
			t.refresh()
		}
	})
	return t
}

// Detach stops following the document. Called on session reset before the
// doc is destroyed.
func (t *Tabs) Detach() {
	if t.unobserve != nil {
		t.unobserve()
		t.unobserve = nil
	}
}

// OnChange registers the single presentation callback, invoked with a fresh
// snapshot after every relevant document change.
func (t *Tabs) OnChange(fn func([]Tab)) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

// Open appends the id to the shared order and selects it. No-op when the
// shared tabs map has no record for the id.
func (t *Tabs) Open(fileID string) error {
	opened := false
	err := t.root.Doc().Transact(func(tx *crdt.Tx) error {
		tabs, ok := t.root.Tabs(tx)
		if !ok || !tabs.Has(tx, fileID) {
			return nil
		}
		raw, _ := t.root.TabsOrder(tx)
		if indexOf(raw, fileID) < 0 {
			t.root.SetTabsOrder(tx, append(append([]string(nil), raw...), fileID))
		}
		opened = true
		return nil
	})
	if err != nil || !opened {
		return err
	}
	t.Select(fileID)
	return nil
}

// Close removes the id from the shared order. If it was active, the next
// active tab is the one now occupying the closed tab's clamped index, so
// closing the last tab selects the new last tab.
func (t *Tabs) Close(fileID string) error {
	return t.root.Doc().Transact(func(tx *crdt.Tx) error {
		raw, ok := t.root.TabsOrder(tx)
		if !ok {
			return nil
		}
		next := make([]string, 0, len(raw))
		for _, v := range raw {
			if v != fileID {
				next = append(next, v)
			}
		}
		if len(next) != len(raw) {
			t.root.SetTabsOrder(tx, next)
		}
		return nil
	})
}

// Reorder moves the tab at from to final index to in the presentation order
// and publishes the result as the new shared order. Destinations right of the
// source already account for the removal shift: dropping "after" a tab to the
// right lands exactly there.
func (t *Tabs) Reorder(from, to int) error {
	t.mu.Lock()
	if from < 0 || from >= len(t.stable) {
		t.mu.Unlock()
		return nil
	}
	order := append([]string(nil), t.stable...)
	moved := order[from]
	order = append(order[:from], order[from+1:]...)
	if to < 0 {
		to = 0
	}
	if to > len(order) {
		to = len(order)
	}
	order = append(order[:to], append([]string{moved}, order[to:]...)...)
	t.stable = order
	t.mu.Unlock()

	return t.root.Doc().Transact(func(tx *crdt.Tx) error {
		t.root.SetTabsOrder(tx, order)
		return nil
	})
}

// Select makes the id the active tab if it is currently open.
func (t *Tabs) Select(fileID string) {
	t.mu.Lock()
	if indexOf(t.stable, fileID) >= 0 {
		t.active = fileID
	}
	t.mu.Unlock()
}

// Active returns the active tab id, or "" when nothing is open.
func (t *Tabs) Active() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Order returns the presentation-stable order.
func (t *Tabs) Order() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.stable...)
}

// Snapshot returns the presentation order with validity and active flags.
func (t *Tabs) Snapshot() []Tab {
	valid := t.validSet()
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked(valid)
}

// RefreshListing asks the worker for a workspace rescan. The listing itself
// is only ever written by the worker, asynchronously.
func (t *Tabs) RefreshListing() (id.RequestID, error) {
	var rid id.RequestID
	err := t.root.Doc().Transact(func(tx *crdt.Tx) error {
		var err error
		rid, err = t.queue.Enqueue(tx, request.NewReloadWorkspace())
		return err
	})
	return rid, err
}

// refresh recomputes the stable order after any shared change: ids still
// present keep their relative order, new ids append at the end. If the active
// tab disappeared, its clamped former index picks the successor.
func (t *Tabs) refresh() {
	var raw []string
	t.root.Doc().View(func(tx *crdt.Tx) {
		raw, _ = t.root.TabsOrder(tx)
	})
	valid := t.validSet()

	t.mu.Lock()
	next := mergeStable(t.stable, raw)
	if t.active != "" && indexOf(next, t.active) < 0 {
		old := indexOf(t.stable, t.active)
		switch {
		case len(next) == 0:
			t.active = ""
		case old < 0 || old >= len(next):
			t.active = next[len(next)-1]
		default:
			t.active = next[old]
		}
	}
	t.stable = next
	cb := t.onChange
	var snap []Tab
	if cb != nil {
		snap = t.snapshotLocked(valid)
	}
	t.mu.Unlock()

	if cb != nil {
		cb(snap)
	}
	t.log.Debug("tab order refreshed", zap.Int("open", len(next)))
}

func (t *Tabs) snapshotLocked(valid map[string]struct{}) []Tab {
	out := make([]Tab, len(t.stable))
	for i, tid := range t.stable {
		_, ok := valid[tid]
		out[i] = Tab{ID: tid, Valid: ok, Active: tid == t.active}
	}
	return out
}

func (t *Tabs) validSet() map[string]struct{} {
	valid := make(map[string]struct{})
	t.root.Doc().View(func(tx *crdt.Tx) {
		tabs, ok := t.root.Tabs(tx)
		if !ok {
			return
		}
		for _, k := range tabs.Keys(tx) {
			valid[k] = struct{}{}
		}
	})
	return valid
}

// mergeStable applies the presentation-stability policy:
// stable' = (stable ∩ raw, in stable's order) ++ (raw − stable, in raw's order).
func mergeStable(stable, raw []string) []string {
	inRaw := make(map[string]struct{}, len(raw))
	for _, v := range raw {
		inRaw[v] = struct{}{}
	}
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, v := range stable {
		if _, ok := inRaw[v]; ok {
			out = append(out, v)
			seen[v] = struct{}{}
		}
	}
	for _, v := range raw {
		if _, ok := seen[v]; !ok {
			out = append(out, v)
		}
	}
	return out
}

func indexOf(s []string, v string) int {
	for i, e := range s {
		if e == v {
			return i
		}
	}
	return -1
}
