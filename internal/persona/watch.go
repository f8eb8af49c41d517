package persona

import (
	"github.com/fsnotify/fsnotify"
)

// ReloadFunc is invoked after the watcher reloads the index, which
// happens on any create, write, remove or rename in the store directory: an operator
// hand-editing a persona's constraints, and also the store's own
// Insert/RecordUse/Delete writes.
type ReloadFunc func()

// Watch starts an fsnotify watcher on the store directory. On any
// create/write/remove/rename event it reloads the in-memory index from
// disk and, if onReload is non-nil, invokes it. Neither cmd/forge nor
// the orchestrator calls Watch, so nothing publishes
// events.KindKnowledgeReloaded. The returned stop function closes the
// watcher; callers should defer it.
func (s *Store) Watch(onReload ReloadFunc) (stop func() error, err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(s.dir); err != nil {
		w.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				s.mu.Lock()
				s.index = make(map[string]Persona)
				if err := s.load(); err != nil {
					s.logger.Warn("persona reload failed", "error", err)
				}
				s.mu.Unlock()
				if onReload != nil {
					onReload()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn("persona watcher error", "error", err)
			case <-done:
				return
			}
		}
	}()

	return func() error {
		close(done)
		return w.Close()
	}, nil
}
