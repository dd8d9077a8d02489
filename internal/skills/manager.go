package skills

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Config configures skill discovery.
type Config struct {
	// Dirs are the directories scanned for skills. Each skill is a
	// subdirectory containing a SKILL.md file.
	Dirs []string `yaml:"dirs"`

	// Watch enables file watching for skill changes.
	Watch bool `yaml:"watch"`

	// WatchDebounceMs is the debounce delay for the watcher.
	WatchDebounceMs int `yaml:"watch_debounce_ms"`
}

// Manager manages skill discovery and lazy content loading.
type Manager struct {
	config Config
	logger *slog.Logger

	mu     sync.RWMutex
	skills map[string]*Entry

	watcher       *fsnotify.Watcher
	watchPaths    map[string]struct{}
	watchMu       sync.Mutex
	watchWg       sync.WaitGroup
	watchCancel   context.CancelFunc
	watchDebounce time.Duration
}

// NewManager creates a skill manager.
func NewManager(config Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	debounce := 250 * time.Millisecond
	if config.WatchDebounceMs > 0 {
		debounce = time.Duration(config.WatchDebounceMs) * time.Millisecond
	}
	return &Manager{
		config:        config,
		logger:        logger.With("component", "skills"),
		skills:        make(map[string]*Entry),
		watchDebounce: debounce,
	}
}

// Discover scans all configured directories for skills. Later
// directories win name conflicts; a broken SKILL.md is logged and
// skipped, never fatal.
func (m *Manager) Discover(ctx context.Context) error {
	found := make(map[string]*Entry)

	for _, dir := range m.config.Dirs {
		if err := ctx.Err(); err != nil {
			return err
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				m.logger.Warn("read skills directory", "dir", dir, "error", err)
			}
			continue
		}
		for _, de := range entries {
			if !de.IsDir() {
				continue
			}
			skillFile := filepath.Join(dir, de.Name(), SkillFilename)
			if _, err := os.Stat(skillFile); err != nil {
				continue
			}
			entry, err := ParseFile(skillFile)
			if err != nil {
				m.logger.Warn("skipping invalid skill", "path", skillFile, "error", err)
				continue
			}
			found[entry.Name] = entry
		}
	}

	m.mu.Lock()
	m.skills = found
	m.mu.Unlock()

	m.logger.Info("discovered skills", "count", len(found))

	if err := m.refreshWatches(); err != nil {
		m.logger.Warn("refresh skill watches failed", "error", err)
	}
	return nil
}

// Get returns a skill by name.
func (m *Manager) Get(name string) (*Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	skill, ok := m.skills[name]
	return skill, ok
}

// List returns all discovered skills, sorted by name.
func (m *Manager) List() []*Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Entry, 0, len(m.skills))
	for _, skill := range m.skills {
		result = append(result, skill)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Snapshots returns lightweight snapshots of all skills.
func (m *Manager) Snapshots() []Snapshot {
	all := m.List()
	snapshots := make([]Snapshot, len(all))
	for i, skill := range all {
		snapshots[i] = skill.ToSnapshot()
	}
	return snapshots
}

// LoadContent returns the skill's full body, reading it from disk if
// it has not been loaded yet.
func (m *Manager) LoadContent(name string) (string, error) {
	skill, ok := m.Get(name)
	if !ok {
		return "", fmt.Errorf("skill not found: %s", name)
	}
	if skill.Content != "" {
		return ExpandBaseDir(skill.Content, skill.Path), nil
	}

	parsed, err := ParseFile(filepath.Join(skill.Path, SkillFilename))
	if err != nil {
		return "", fmt.Errorf("parse skill file: %w", err)
	}

	m.mu.Lock()
	skill.Content = parsed.Content
	m.mu.Unlock()

	return ExpandBaseDir(parsed.Content, skill.Path), nil
}

// StartWatching enables file watching for skill changes. Changes
// trigger a debounced re-discovery.
func (m *Manager) StartWatching(ctx context.Context) error {
	if !m.config.Watch {
		return nil
	}

	m.watchMu.Lock()
	if m.watcher != nil {
		m.watchMu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.watchMu.Unlock()
		return err
	}
	m.watcher = watcher
	if m.watchPaths == nil {
		m.watchPaths = make(map[string]struct{})
	}
	watchCtx, cancel := context.WithCancel(ctx)
	m.watchCancel = cancel
	debounce := m.watchDebounce
	m.watchMu.Unlock()

	if err := m.refreshWatches(); err != nil {
		m.logger.Warn("initial skill watch refresh failed", "error", err)
	}

	m.watchWg.Add(1)
	go m.watchLoop(watchCtx, debounce)
	return nil
}

// Close stops any active watchers.
func (m *Manager) Close() error {
	m.watchMu.Lock()
	if m.watchCancel != nil {
		m.watchCancel()
		m.watchCancel = nil
	}
	watcher := m.watcher
	m.watcher = nil
	m.watchMu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	m.watchWg.Wait()
	return nil
}

func (m *Manager) watchLoop(ctx context.Context, debounce time.Duration) {
	defer m.watchWg.Done()
	m.watchMu.Lock()
	watcher := m.watcher
	m.watchMu.Unlock()
	if watcher == nil {
		return
	}

	var mu sync.Mutex
	var timer *time.Timer
	scheduleRefresh := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			if err := m.Discover(context.Background()); err != nil {
				m.logger.Warn("skill discovery failed during watch refresh", "error", err)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				scheduleRefresh()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("skill watch error", "error", err)
		}
	}
}

// refreshWatches reconciles the watched paths with the configured
// directories and the discovered skill directories.
func (m *Manager) refreshWatches() error {
	m.watchMu.Lock()
	watcher := m.watcher
	m.watchMu.Unlock()
	if watcher == nil {
		return nil
	}

	desired := make(map[string]struct{})
	for _, dir := range m.config.Dirs {
		if cleaned, ok := normalizeWatchPath(dir); ok {
			desired[cleaned] = struct{}{}
		}
	}
	m.mu.RLock()
	for _, skill := range m.skills {
		if cleaned, ok := normalizeWatchPath(skill.Path); ok {
			desired[cleaned] = struct{}{}
		}
	}
	m.mu.RUnlock()

	m.watchMu.Lock()
	defer m.watchMu.Unlock()

	for path := range desired {
		if _, ok := m.watchPaths[path]; ok {
			continue
		}
		if err := watcher.Add(path); err != nil {
			m.logger.Debug("failed to watch skills path", "path", path, "error", err)
			continue
		}
		m.watchPaths[path] = struct{}{}
	}
	for path := range m.watchPaths {
		if _, ok := desired[path]; ok {
			continue
		}
		if err := watcher.Remove(path); err != nil {
			m.logger.Debug("failed to unwatch skills path", "path", path, "error", err)
		}
		delete(m.watchPaths, path)
	}
	return nil
}

func normalizeWatchPath(path string) (string, bool) {
	if path == "" {
		return "", false
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return "", false
	}
	return filepath.Clean(path), true
}
