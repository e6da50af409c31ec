package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileProvider reads secrets from one file per secret in a directory, the
// layout of a mounted Kubernetes secret. Files must be 0600 or 0400.
//
// With watching enabled, a changed file drops its cached value and the
// registered callbacks are told the secret name, so a rotated cookie jar
// takes effect on the next credential refresh.
type FileProvider struct {
	BasePath string
	Watch    bool

	mu        sync.RWMutex
	cache     map[string]string
	callbacks []func(name string)

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewFileProvider returns a provider for basePath, which must be a
// directory.
func NewFileProvider(basePath string, watch bool) (*FileProvider, error) {
	info, err := os.Stat(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat base path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("base path is not a directory: %s", basePath)
	}

	p := &FileProvider{
		BasePath: basePath,
		Watch:    watch,
		cache:    make(map[string]string),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}

	if !watch {
		close(p.doneCh)
		slog.Info("file secret provider started", "path", basePath, "watch", false)
		return p, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(basePath); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}
	p.watcher = watcher
	go p.watchLoop()

	slog.Info("file secret provider started", "path", basePath, "watch", true)
	return p, nil
}

// GetSecret reads <BasePath>/<name>, trimming surrounding whitespace.
func (p *FileProvider) GetSecret(_ context.Context, name string) (string, error) {
	p.mu.RLock()
	if value, ok := p.cache[name]; ok {
		p.mu.RUnlock()
		return value, nil
	}
	p.mu.RUnlock()

	path, err := p.secretPath(name)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("secret file not found: %s", name)
		}
		return "", fmt.Errorf("failed to stat secret file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("secret path is not a regular file: %s", name)
	}
	if mode := info.Mode().Perm(); mode != 0600 && mode != 0400 {
		return "", fmt.Errorf("insecure permissions on %s: %o (expected 0600 or 0400)", path, mode)
	}

	// #nosec G304 - path is confined to BasePath by secretPath
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file: %w", err)
	}
	value := strings.TrimSpace(string(data))

	p.mu.Lock()
	p.cache[name] = value
	p.mu.Unlock()

	return value, nil
}

// secretPath joins name to BasePath and rejects names that escape it.
func (p *FileProvider) secretPath(name string) (string, error) {
	absBase, err := filepath.Abs(p.BasePath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base path: %w", err)
	}
	absPath, err := filepath.Abs(filepath.Join(p.BasePath, name))
	if err != nil {
		return "", fmt.Errorf("failed to resolve secret path: %w", err)
	}
	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid secret name %q: outside the secrets directory", name)
	}
	return absPath, nil
}

// ListSecrets returns the regular, non-hidden files in the directory.
func (p *FileProvider) ListSecrets(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(p.BasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets directory: %w", err)
	}

	var secrets []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		secrets = append(secrets, entry.Name())
	}
	sort.Strings(secrets)
	return secrets, nil
}

func (p *FileProvider) Name() string {
	return "file"
}

// Supports reports whether a regular file named name exists.
func (p *FileProvider) Supports(name string) bool {
	path, err := p.secretPath(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Refresh clears the cache.
func (p *FileProvider) Refresh(_ context.Context) error {
	p.mu.Lock()
	p.cache = make(map[string]string)
	p.mu.Unlock()
	return nil
}

// Notify registers fn to be called with the name of every changed secret.
func (p *FileProvider) Notify(fn func(name string)) {
	p.mu.Lock()
	p.callbacks = append(p.callbacks, fn)
	p.mu.Unlock()
}

// Close stops the watcher.
func (p *FileProvider) Close() error {
	if p.watcher == nil {
		return nil
	}
	select {
	case <-p.stopCh:
		return nil
	default:
	}
	close(p.stopCh)
	err := p.watcher.Close()
	<-p.doneCh
	return err
}

func (p *FileProvider) watchLoop() {
	defer close(p.doneCh)

	for {
		select {
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			p.handleChange(filepath.Base(event.Name), event.Op)

		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("secret watcher error", "error", err)

		case <-p.stopCh:
			return
		}
	}
}

// handleChange drops the changed secret and notifies callbacks. Kubernetes
// swaps a hidden "..data" symlink on update; that counts as a change to
// every secret in the directory.
func (p *FileProvider) handleChange(base string, op fsnotify.Op) {
	var changed []string
	if strings.HasPrefix(base, "..") {
		names, err := p.ListSecrets(context.Background())
		if err != nil {
			slog.Error("failed to list secrets after change", "error", err)
		}
		changed = names
		_ = p.Refresh(context.Background())
	} else if !strings.HasPrefix(base, ".") {
		changed = []string{base}
		p.mu.Lock()
		delete(p.cache, base)
		p.mu.Unlock()
	}
	if len(changed) == 0 {
		return
	}

	slog.Info("secret files changed", "count", len(changed), "op", op.String())

	p.mu.RLock()
	callbacks := append([]func(string){}, p.callbacks...)
	p.mu.RUnlock()

	for _, name := range changed {
		for _, fn := range callbacks {
			fn(name)
		}
	}
}
