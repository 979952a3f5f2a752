package jsvm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"deskctl/internal/dispatcher"
)

// Loader manages the plugin directory: it loads every .js file as a
// dispatcher handler at startup, re-loads files when they change (with
// debounce), and serves the reload_module/reload_all commands. In-flight
// invocations of a replaced handler finish on the old value; only new
// dispatches see the new one.
type Loader struct {
	runtime     *Runtime
	registry    *dispatcher.Registry
	pluginDir   string
	hostVersion *semver.Version
	debounceFor time.Duration
	logger      zerolog.Logger

	watcher    *fsnotify.Watcher
	mu         sync.RWMutex
	modules    map[string]*ScriptHandler // by command name
	closed     bool
	debounce   map[string]*time.Timer
	debounceMu sync.Mutex
}

// NewLoader creates a plugin loader. hostVersion gates plugins whose
// manifest demands a newer host; debounce collapses bursts of file events
// into one reload.
func NewLoader(runtime *Runtime, registry *dispatcher.Registry, pluginDir, hostVersion string, debounce time.Duration, logger zerolog.Logger) (*Loader, error) {
	hv, err := semver.NewVersion(strings.TrimPrefix(hostVersion, "v"))
	if err != nil {
		// A dev build ("dev", "unknown") accepts every plugin.
		hv = nil
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Loader{
		runtime:     runtime,
		registry:    registry,
		pluginDir:   pluginDir,
		hostVersion: hv,
		debounceFor: debounce,
		logger:      logger,
		modules:     make(map[string]*ScriptHandler),
		debounce:    make(map[string]*time.Timer),
	}, nil
}

// Load scans the plugin directory and registers every valid plugin. A
// missing directory is not an error; an invalid plugin is logged and
// skipped so one bad file cannot block the rest.
func (l *Loader) Load() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := os.Stat(l.pluginDir); os.IsNotExist(err) {
		l.logger.Debug().Str("dir", l.pluginDir).Msg("plugin directory does not exist")
		return nil
	}

	entries, err := os.ReadDir(l.pluginDir)
	if err != nil {
		return fmt.Errorf("read plugin directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".js") {
			continue
		}
		path := filepath.Join(l.pluginDir, entry.Name())
		if err := l.loadModuleLocked(path); err != nil {
			l.logger.Warn().Err(err).Str("file", entry.Name()).Msg("failed to load plugin")
		}
	}

	l.logger.Info().Int("count", len(l.modules)).Msg("loaded plugins")
	return nil
}

// loadModuleLocked loads a single plugin file (must hold lock).
func (l *Loader) loadModuleLocked(scriptPath string) error {
	manifest, source, err := ExtractManifest(l.runtime, scriptPath)
	if err != nil {
		return err
	}

	if err := l.checkHostVersion(scriptPath, manifest); err != nil {
		return err
	}

	handler := NewScriptHandler(*manifest, scriptPath, source, l.runtime, l.logger)

	// Replace is the hot-reload primitive: the registry swap is atomic,
	// in-flight calls finish on the old handler.
	l.registry.Replace(handler)
	l.modules[manifest.Name] = handler

	l.logger.Debug().
		Str("name", manifest.Name).
		Str("version", manifest.Version).
		Str("path", scriptPath).
		Msg("plugin registered")
	return nil
}

// checkHostVersion enforces the manifest's min_host_version, if both
// sides declare comparable versions.
func (l *Loader) checkHostVersion(scriptPath string, manifest *PluginManifest) error {
	if manifest.MinHostVersion == "" || l.hostVersion == nil {
		return nil
	}
	min, err := semver.NewVersion(manifest.MinHostVersion)
	if err != nil {
		return &ManifestError{File: scriptPath, Message: fmt.Sprintf("bad min_host_version %q: %v", manifest.MinHostVersion, err)}
	}
	if l.hostVersion.LessThan(min) {
		return &ManifestError{
			File:    scriptPath,
			Message: fmt.Sprintf("plugin %s requires host >= %s, this host is %s", manifest.Name, min, l.hostVersion),
		}
	}
	return nil
}

// ReloadModule re-reads and re-registers one module by command name. This
// backs the reload_module command.
func (l *Loader) ReloadModule(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	handler, ok := l.modules[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}
	return l.loadModuleLocked(handler.ScriptPath())
}

// ReloadAll re-scans the plugin directory. This backs the reload_all
// command.
func (l *Loader) ReloadAll() error {
	return l.Load()
}

// Watch starts watching the plugin directory for changes.
func (l *Loader) Watch() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("loader is closed")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	l.watcher = watcher

	go l.watchLoop()

	if err := watcher.Add(l.pluginDir); err != nil {
		return fmt.Errorf("watch directory: %w", err)
	}

	l.logger.Info().Str("dir", l.pluginDir).Msg("watching plugin directory")
	return nil
}

// watchLoop processes file system events.
func (l *Loader) watchLoop() {
	for {
		select {
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".js") {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				l.debouncedReload(event.Name)
			}
			if event.Op&fsnotify.Remove != 0 {
				l.handleRemove(event.Name)
			}

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("watcher error")
		}
	}
}

// debouncedReload reloads a plugin file after the debounce window. Editors
// produce several write events per save; only the last one loads.
func (l *Loader) debouncedReload(path string) {
	l.debounceMu.Lock()
	defer l.debounceMu.Unlock()

	if timer, ok := l.debounce[path]; ok {
		timer.Stop()
	}

	l.debounce[path] = time.AfterFunc(l.debounceFor, func() {
		l.mu.Lock()
		defer l.mu.Unlock()

		if err := l.loadModuleLocked(path); err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("failed to reload plugin")
		} else {
			l.logger.Info().Str("path", path).Msg("reloaded plugin")
		}
	})
}

// handleRemove unregisters the plugin that was loaded from a removed file.
func (l *Loader) handleRemove(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for name, handler := range l.modules {
		if handler.ScriptPath() == path {
			_ = l.registry.Unregister(name)
			delete(l.modules, name)
			l.logger.Info().Str("name", name).Msg("unloaded removed plugin")
			return
		}
	}
}

// Modules returns the loaded plugin names with their versions.
func (l *Loader) Modules() map[string]string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]string, len(l.modules))
	for name, handler := range l.modules {
		out[name] = handler.Version()
	}
	return out
}

// Close stops watching and unregisters all plugins.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true

	if l.watcher != nil {
		l.watcher.Close()
	}

	l.debounceMu.Lock()
	for _, timer := range l.debounce {
		timer.Stop()
	}
	l.debounceMu.Unlock()

	for name := range l.modules {
		_ = l.registry.Unregister(name)
	}
	l.modules = make(map[string]*ScriptHandler)
	return nil
}
