package index

import (
	"log/slog"
	"time"

	"github.com/starford/kitd/internal/models"
	"github.com/starford/kitd/internal/parser"
	"github.com/starford/kitd/internal/storage"
)

// Sync walks the script directories and brings the index up to date:
//   - new/changed files are parsed and upserted
//   - files removed from disk are deleted from the index
func Sync(db ScriptIndex, store storage.Provider, logger *slog.Logger) error {
	files, err := store.List()
	if err != nil {
		return err
	}

	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(files))
	for _, f := range files {
		disk[f.Path] = struct{}{}

		if checksums[f.Path] == f.Checksum {
			continue
		}

		data, err := store.Read(f.Path)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("path", f.Path), slog.String("error", err.Error()))
			continue
		}
		meta, err := parser.Parse(f.Path, data)
		if err != nil {
			logger.Warn("sync: parse failed", slog.String("path", f.Path), slog.String("error", err.Error()))
			continue
		}
		if err := IndexMetadata(db, meta, store.Exists, f.UpdatedAt); err != nil {
			logger.Warn("sync: index failed", slog.String("path", f.Path), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: indexed", slog.String("path", f.Path))
		}
	}

	// Remove stale entries.
	for p := range checksums {
		if _, ok := disk[p]; !ok {
			if err := db.DeleteScript(p); err != nil {
				logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("path", p))
			}
		}
	}

	return nil
}

// IndexMetadata resolves meta's relative imports against existing files and
// upserts the script.
func IndexMetadata(db ScriptIndex, meta *models.ScriptMetadata, exists func(string) bool, at time.Time) error {
	var targets []string
	for _, spec := range meta.Imports {
		if t := parser.ResolveImport(meta.FilePath, spec, exists); t != "" && t != meta.FilePath {
			targets = append(targets, t)
		}
	}
	return db.UpsertScript(RowFromMetadata(meta, at), targets)
}
