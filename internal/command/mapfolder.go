package command

import (
	"fmt"
	"path/filepath"

	"github.com/banshee-data/fusiontrack/internal/fsutil"
)

// MapArtifactExtension is the file extension the engine's map database
// files carry. Validation only checks for their presence; the format
// itself is owned by the engine.
const MapArtifactExtension = ".mdb"

// ValidateMapFolder checks that dir exists, is a directory, and holds
// at least one map database artifact. It is a superficial precondition
// check run before any engine call.
func ValidateMapFolder(fs fsutil.FileSystem, dir string) error {
	info, err := fs.Stat(dir)
	if err != nil {
		return fmt.Errorf("map folder %q does not exist: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("map folder %q is not a directory", dir)
	}

	entries, err := fs.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read map folder %q: %w", dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == MapArtifactExtension {
			return nil
		}
	}
	return fmt.Errorf("map folder %q contains no %s database files", dir, MapArtifactExtension)
}
