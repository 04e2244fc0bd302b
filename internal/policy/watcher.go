package policy

import (
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// debounceWrite mirrors internal/priors's debounce window; atomic tmp+rename
// saves of the policy bundle otherwise fire multiple fsnotify events.
var debounceWrite = 200 * time.Millisecond

// Watcher holds the active policy bundle and reloads it whenever the
// backing file changes on disk.
type Watcher struct {
	path    string
	current atomic.Pointer[Bundle]
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher loads the bundle at path once, then starts watching it for
// changes.
func NewWatcher(path string) (*Watcher, error) {
	b, err := Load(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		_ = fw.Close()
		return nil, err
	}

	w := &Watcher{path: path, watcher: fw, done: make(chan struct{})}
	w.current.Store(b)
	go w.run()
	return w, nil
}

// Current returns the most recently loaded, validated bundle.
func (w *Watcher) Current() *Bundle {
	return w.current.Load()
}

// Stop releases the underlying fsnotify watch.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) run() {
	var timer *time.Timer
	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceWrite, w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Str("path", w.path).Msg("policy: watcher error")
		}
	}
}

func (w *Watcher) reload() {
	b, err := Load(w.path)
	if err != nil {
		log.Warn().Err(err).Str("path", w.path).Msg("policy: reload failed, keeping previous bundle")
		return
	}
	w.current.Store(b)
	log.Info().Str("path", w.path).Str("version", b.Version).Msg("policy: reloaded bundle")
}
