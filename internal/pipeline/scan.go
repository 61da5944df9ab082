package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/kitd/internal/apperr"
	"github.com/starford/kitd/internal/index"
	"github.com/starford/kitd/internal/storage"
)

// InitialScan registers every script on disk, drops index rows for files
// that are gone and marks the coordinator ready. Bin stubs are only written
// for scripts that appear after it returns.
func InitialScan(ctx context.Context, exec Executor, store storage.Provider, db index.ScriptIndex,
	coord *Coordinator, logger *slog.Logger) error {
	files, err := store.List()
	if err != nil {
		return fmt.Errorf("scan: list: %w", err)
	}

	paths := make([]string, 0, len(files))
	disk := make(map[string]struct{}, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
		disk[f.Path] = struct{}{}
	}

	if db != nil {
		sums, err := db.AllChecksums()
		if err != nil {
			return fmt.Errorf("scan: checksums: %w", err)
		}
		for p := range sums {
			if _, ok := disk[p]; ok {
				continue
			}
			if err := db.DeleteScript(p); err != nil {
				logger.Warn("scan: delete stale failed", slog.String("path", p), slog.String("error", err.Error()))
			}
		}
	}

	done := make(chan struct{})
	if !exec.Post(func() { coord.Seed(paths, func() { close(done) }) }) {
		return fmt.Errorf("scan: %w", apperr.ErrClosed)
	}
	select {
	case <-done:
		logger.Info("scan: complete", slog.Int("scripts", len(paths)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
