package registry

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/obsidianstack/microclimate/pkg/types"
)

// changeOps are the events on the sources file that may alter its content.
// Editors that save atomically rename a temp file over it, which arrives as
// Create on the target name.
const changeOps = fsnotify.Create | fsnotify.Write | fsnotify.Rename

// Watch calls onChange with the parsed source list whenever the file at path
// changes, including atomic replacement. It runs until ctx is cancelled.
//
// The parent directory is watched, so replacing or deleting the file never
// removes the watch. An invalid or missing file is logged and onChange is not
// called; the scheduler surfaces the same failure on its next cycle.
func Watch(ctx context.Context, path string, onChange func([]types.Source)) error {
	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("registry: watch %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("registry: watch %s: %w", path, err)
	}

	slog.Info("registry: watching for changes", "path", target)
	reg := NewFile(target)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || event.Op&changeOps == 0 {
				continue
			}

			sources, err := reg.List(ctx)
			if err != nil {
				slog.Error("registry: sources file invalid after edit",
					"path", target, "op", event.Op.String(), "err", err)
				continue
			}

			slog.Info("registry: sources changed", "path", target, "sources", len(sources))
			onChange(sources)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("registry: watcher error", "err", err)
		}
	}
}
