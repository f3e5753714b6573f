package file

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// SourceExt is the extension of dialog-language source files.
const SourceExt = ".co"

// DefaultDebounce coalesces bursts of filesystem events (editors often write
// a file in several steps).
const DefaultDebounce = 100 * time.Millisecond

// Loader implements ports.SourceLoader and ports.Watchable over a directory
// tree of .co files.
type Loader struct {
	Root     string
	Debounce time.Duration
}

// NewLoader creates a Loader rooted at dir.
func NewLoader(dir string) *Loader {
	return &Loader{Root: dir, Debounce: DefaultDebounce}
}

// Sources reads every .co file under Root. Keys are slash-separated paths
// relative to Root.
func (l *Loader) Sources(ctx context.Context) (map[string][]byte, error) {
	info, err := os.Stat(l.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to open source directory: %w", err)
	}
	if !info.IsDir() {
		data, err := os.ReadFile(l.Root)
		if err != nil {
			return nil, fmt.Errorf("failed to read source: %w", err)
		}
		return map[string][]byte{filepath.Base(l.Root): data}, nil
	}

	units := map[string][]byte{}
	err = filepath.WalkDir(l.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != l.Root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != SourceExt {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(l.Root, path)
		if err != nil {
			return err
		}
		units[filepath.ToSlash(rel)] = data
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load sources: %w", err)
	}
	return units, nil
}

// Watch reports changed .co files under Root until ctx is done. Events for
// the same file within the debounce window are reported once.
func (l *Loader) Watch(ctx context.Context) (<-chan string, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to start watcher: %w", err)
	}
	if err := l.addTree(watcher); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	debounce := l.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	ch := make(chan string, 1)
	go func() {
		defer close(ch)
		defer watcher.Close()

		pending := map[string]bool{}
		timer := time.NewTimer(debounce)
		if !timer.Stop() {
			<-timer.C
		}

		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if evt.Has(fsnotify.Create) {
					if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
						_ = watcher.Add(evt.Name)
						continue
					}
				}
				if filepath.Ext(evt.Name) != SourceExt || evt.Op == fsnotify.Chmod {
					continue
				}
				pending[l.unitName(evt.Name)] = true
				timer.Reset(debounce)
			case <-timer.C:
				for name := range pending {
					select {
					case ch <- name:
					case <-ctx.Done():
						return
					}
				}
				pending = map[string]bool{}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return ch, nil
}

func (l *Loader) addTree(w *fsnotify.Watcher) error {
	info, err := os.Stat(l.Root)
	if err != nil {
		return fmt.Errorf("failed to watch sources: %w", err)
	}
	if !info.IsDir() {
		return w.Add(filepath.Dir(l.Root))
	}
	return filepath.WalkDir(l.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != l.Root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

func (l *Loader) unitName(path string) string {
	rel, err := filepath.Rel(l.Root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return filepath.Base(path)
	}
	return filepath.ToSlash(rel)
}
