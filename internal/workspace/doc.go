// Package workspace manages the tab registry and the workspace file listing.
//
// Tabs are presentation state over two shared keys: the "tabs" map (file id
// to opened-document handle) and the "tabs_order" sequence of open ids. Each
// client additionally keeps a presentation-stable order so concurrent
// open/close by collaborators never reshuffles tabs the user is looking at.
//
// The listing ("workspace_path", "workspace_files", "workspace_loaded_at") is
// a read-mostly snapshot owned by the scanner. Clients request a rescan
// through the queue; they never write the listing themselves.
package workspace
