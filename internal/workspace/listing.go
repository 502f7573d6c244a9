package workspace

import (
	"github.com/weftlabs/weft/internal/crdt"
	"github.com/weftlabs/weft/internal/document"
)

// Listing record field names as stored in the document.
const (
	fileFieldPath     = "path"
	fileFieldName     = "name"
	fileFieldSize     = "size"
	fileFieldModified = "modified_at"
)

// FileInfo is one entry of the workspace listing snapshot.
type FileInfo struct {
	Path       string // relative to the workspace root
	Name       string
	Size       int64
	ModifiedAt int64 // unix milliseconds
}

func (f FileInfo) record() map[string]any {
	return map[string]any{
		fileFieldPath:     f.Path,
		fileFieldName:     f.Name,
		fileFieldSize:     f.Size,
		fileFieldModified: f.ModifiedAt,
	}
}

func fileFromRecord(v any) (FileInfo, bool) {
	rec, ok := v.(map[string]any)
	if !ok {
		return FileInfo{}, false
	}
	f := FileInfo{
		Path: document.Str(rec[fileFieldPath]),
		Name: document.Str(rec[fileFieldName]),
	}
	if f.Path == "" {
		return FileInfo{}, false
	}
	f.Size, _ = document.Int(rec[fileFieldSize])
	f.ModifiedAt, _ = document.Int(rec[fileFieldModified])
	return f, true
}

// Listing reads the current snapshot. The second return is false while the
// scanner has not populated the listing yet.
func Listing(root *document.Root, tx *crdt.Tx) ([]FileInfo, bool) {
	arr, ok := root.WorkspaceFiles(tx)
	if !ok {
		return nil, false
	}
	out := make([]FileInfo, 0, len(arr))
	for _, v := range arr {
		if f, ok := fileFromRecord(v); ok {
			out = append(out, f)
		}
	}
	return out, true
}
