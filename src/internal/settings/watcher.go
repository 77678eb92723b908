package settings

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ssalihsrz/openclaw/src/internal/logging"
)

const defaultWatchDebounce = 250 * time.Millisecond

type watchState struct {
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Watch reloads the settings whenever the backing file changes on disk.
// The parent directory is watched so editors that replace the file
// atomically are handled. Watch is a no-op when already watching.
func (st *Store) Watch(ctx context.Context) error {
	if st.path == "" {
		return nil
	}

	st.watchMu.Lock()
	defer st.watchMu.Unlock()
	if st.watch != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(st.path)); err != nil {
		_ = watcher.Close()
		return err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	ws := &watchState{watcher: watcher, cancel: cancel}
	st.watch = ws

	ws.wg.Add(1)
	go st.watchLoop(watchCtx, ws, defaultWatchDebounce)
	return nil
}

// Close stops the file watcher.
func (st *Store) Close() error {
	st.watchMu.Lock()
	ws := st.watch
	st.watch = nil
	st.watchMu.Unlock()

	if ws == nil {
		return nil
	}
	ws.cancel()
	err := ws.watcher.Close()
	ws.wg.Wait()
	return err
}

func (st *Store) watchLoop(ctx context.Context, ws *watchState, debounce time.Duration) {
	defer ws.wg.Done()

	target := filepath.Clean(st.path)

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			if err := st.Reload(); err != nil {
				logging.Warn("settings reload failed", "path", st.path, "error", err)
			}
		})
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ws.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-ws.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("settings watch error", "error", err)
		}
	}
}
