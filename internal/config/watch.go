package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/Bigsy/mcpconn/internal/logging"
)

// DefaultDebounce coalesces the burst of events editors emit for one save.
const DefaultDebounce = 150 * time.Millisecond

// Watch calls onChange with the reloaded config each time the file at path
// changes, until ctx is done. The parent directory is watched so atomic
// renames are seen. A file that fails to load is logged and skipped.
func Watch(ctx context.Context, path string, debounce time.Duration, log *zap.SugaredLogger, onChange func(*Config)) error {
	log = logging.OrNop(log)
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	filename := filepath.Base(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	log.Infof("watching config file: %s", path)

	var (
		timerMu sync.Mutex
		timer   *time.Timer
		wg      sync.WaitGroup
	)
	trigger := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil && timer.Stop() {
			wg.Done()
		}
		wg.Add(1)
		timer = time.AfterFunc(debounce, func() {
			defer wg.Done()
			cfg, err := LoadFrom(path)
			if err != nil {
				log.Warnf("config reload failed: %v (keeping current config)", err)
				return
			}
			onChange(cfg)
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil && timer.Stop() {
			wg.Done()
		}
		timerMu.Unlock()
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			// Atomic writes show up as rename/create depending on OS/editor
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				log.Debugf("config file event: %s (%s)", event.Name, event.Op)
				trigger()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warnf("config watcher error: %v", err)
		}
	}
}
