// Package persistence implements the two items of persisted state named
// in spec §6.3: the session cookie (cookie.txt) and watching the base
// store path for external rotation of that file by an out-of-process
// provisioning tool.
package persistence

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/activevideo/rfbtv-client/internal/logger"
)

const cookieFileName = "cookie.txt"

// Store implements kernel.CookieStore, persisting the opaque cookie bytes
// from the last SessionSetupResponse under baseStorePath/cookie.txt. The
// cookie is always rewritten on every SessionSetupResponse, even when
// empty, per §6.3.
type Store struct {
	mu   sync.Mutex
	path string
}

// New returns a Store rooted at baseStorePath. The directory is created
// if it does not already exist.
func New(baseStorePath string) (*Store, error) {
	if err := os.MkdirAll(baseStorePath, 0700); err != nil {
		return nil, err
	}
	return &Store{path: filepath.Join(baseStorePath, cookieFileName)}, nil
}

// Load reads the persisted cookie. A missing file is not an error: it
// reads as an empty cookie, matching a first-ever session.
func (s *Store) Load() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// Save rewrites the cookie file, replacing any prior contents.
func (s *Store) Save(cookie []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, cookie, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Watcher watches the cookie file's directory for external rewrites (a
// provisioning tool rotating cookie.txt out-of-process) and calls onChange
// with the freshly read contents whenever that happens.
type Watcher struct {
	watcher *fsnotify.Watcher
	store   *Store
	done    chan struct{}
}

// WatchForRotation starts watching store's directory; onChange is called
// from a dedicated goroutine whenever cookie.txt is written or created by
// another process. Call Close to stop watching.
func WatchForRotation(store *Store, onChange func([]byte)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(store.path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{watcher: fw, store: store, done: make(chan struct{})}
	go w.loop(onChange)
	return w, nil
}

func (w *Watcher) loop(onChange func([]byte)) {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != cookieFileName {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			data, err := w.store.Load()
			if err != nil {
				logger.Logger().Warn("cookie rotation: read failed", "error", err)
				continue
			}
			onChange(data)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Logger().Warn("cookie watcher error", "error", err)
		case <-w.done:
			return
		}
	}
}

// Close stops the watch loop and releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
