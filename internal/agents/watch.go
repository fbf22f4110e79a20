package agents

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 200 * time.Millisecond

// Watch registers agents whose directories or definitions appear under
// AgentsDir after Initialize, and reloads definitions that change. It blocks
// until ctx is done.
func (m *Manager) Watch(ctx context.Context) error {
	if m.cfg.AgentsDir == "" {
		return errors.New("watch agents: no agents dir configured")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch agents: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(m.cfg.AgentsDir); err != nil {
		return fmt.Errorf("watch agents dir %s: %w", m.cfg.AgentsDir, err)
	}
	entries, _ := os.ReadDir(m.cfg.AgentsDir)
	for _, entry := range entries {
		if entry.IsDir() && eligibleDirName(entry.Name()) {
			_ = watcher.Add(filepath.Join(m.cfg.AgentsDir, entry.Name()))
		}
	}
	m.logger.Info("watching agents dir", "dir", m.cfg.AgentsDir)

	var (
		mu     sync.Mutex
		timers = make(map[string]*time.Timer)
		closed bool
	)
	defer func() {
		mu.Lock()
		closed = true
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
	}()

	schedule := func(name string) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := timers[name]; ok {
			t.Stop()
		}
		timers[name] = time.AfterFunc(watchDebounce, func() {
			mu.Lock()
			if closed {
				mu.Unlock()
				return
			}
			delete(timers, name)
			mu.Unlock()
			m.reload(ctx, name)
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name, isDir := m.agentForPath(event.Name)
			if name == "" {
				continue
			}
			if isDir {
				if event.Op&fsnotify.Create == 0 {
					continue
				}
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
					// The definition may have been written before the watch was added.
					schedule(name)
				}
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				schedule(name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.Warn("agents watcher error", "error", err)
		}
	}
}

// agentForPath maps a watched path to the agent directory it belongs to.
// isDir is true for the agent directory itself.
func (m *Manager) agentForPath(path string) (name string, isDir bool) {
	rel, err := filepath.Rel(m.cfg.AgentsDir, path)
	if err != nil {
		return "", false
	}
	dir, file := filepath.Split(rel)
	dir = filepath.Clean(dir)
	switch {
	case dir == ".":
		if !eligibleDirName(file) {
			return "", false
		}
		return file, true
	case filepath.Dir(dir) == "." && file == DefinitionFile && eligibleDirName(dir):
		return dir, false
	default:
		return "", false
	}
}

func (m *Manager) reload(ctx context.Context, name string) {
	if !hasRootMarker(filepath.Join(m.cfg.AgentsDir, name, DefinitionFile), m.logger) {
		return
	}
	def, err := LoadDefinition(m.cfg.AgentsDir, name)
	if err != nil {
		m.logger.Warn("load watched agent failed", "agent", name, "error", err)
		return
	}
	if err := m.Register(ctx, name, def); err != nil {
		m.logger.Warn("register watched agent failed", "agent", name, "error", err)
	}
}
