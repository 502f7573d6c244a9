// Package paths provides standardized filesystem paths.
//
// All durable client-side state lives under one per-user directory,
// one subdirectory per document scope:
//
//	$XDG_CACHE_HOME/weft/
//	  ├── <scope-a>/cache.db
//	  └── <scope-b>/cache.db
//
// # Usage
//
//	import "github.com/weftlabs/weft/internal/shared/paths"
//
//	// Default cache database for a scope
//	db, err := paths.CacheFile("workspace-1")
//
// WEFT_DATA_DIR overrides the base directory; tests point it at a
// temporary directory.
package paths
