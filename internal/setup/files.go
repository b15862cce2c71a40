package setup

import (
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/Aviksaikat/envault/internal/config"
)

// FindDocuments walks the project tree and returns every sealed document,
// sorted by path. The marker directory and VCS metadata are skipped.
func FindDocuments(root string) ([]string, error) {
	var docs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			switch d.Name() {
			case config.MarkerDir, ".git", "node_modules":
				if path != root {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if strings.HasSuffix(d.Name(), config.DocumentSuffix) {
			docs = append(docs, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}
