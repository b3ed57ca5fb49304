package rules

import (
	"context"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// editors often write a file in several steps
const reloadDelay = 200 * time.Millisecond

// OnLoad receives the engines reloaded from path and the names of engines
// the file no longer produces.
type OnLoad func(path string, sets []Named, removed []string)

// Watcher reloads rule files when they change on disk and hands the new
// engines to onLoad. Unchanged content is not reported again.
type Watcher struct {
	fw     *fsnotify.Watcher
	onLoad OnLoad
	log    *logrus.Entry

	mu    sync.Mutex
	files map[string]string   // abs path -> fingerprint
	names map[string][]string // abs path -> engine names
	timer map[string]*time.Timer

	done chan struct{}
	once sync.Once
}

// Watch starts watching paths. initial holds the engines already loaded from
// them, used to suppress reloads of identical content.
func Watch(ctx context.Context, paths []string, initial []Named, onLoad OnLoad) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fw:     fw,
		onLoad: onLoad,
		log:    logrus.WithField("component", "rules-watcher"),
		files:  make(map[string]string),
		names:  make(map[string][]string),
		timer:  make(map[string]*time.Timer),
		done:   make(chan struct{}),
	}
	fps := make(map[string]string)
	for _, n := range initial {
		if abs, err := filepath.Abs(n.Source); err == nil {
			fps[abs] += n.Fingerprint
			w.names[abs] = append(w.names[abs], n.Name)
		}
	}
	dirs := make(map[string]struct{})
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			fw.Close()
			return nil, err
		}
		w.files[abs] = fps[abs]
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	// watch directories, files replaced by rename would drop a file watch
	for d := range dirs {
		if err := fw.Add(d); err != nil {
			fw.Close()
			return nil, err
		}
	}
	go w.loop(ctx)
	return w, nil
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Close()
			return
		case <-w.done:
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			abs, err := filepath.Abs(ev.Name)
			if err != nil {
				continue
			}
			w.schedule(abs)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("watch error")
		}
	}
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, watched := w.files[path]; !watched {
		return
	}
	if t, ok := w.timer[path]; ok {
		t.Reset(reloadDelay)
		return
	}
	w.timer[path] = time.AfterFunc(reloadDelay, func() { w.reload(path) })
}

func (w *Watcher) reload(path string) {
	w.mu.Lock()
	delete(w.timer, path)
	w.mu.Unlock()

	select {
	case <-w.done:
		return
	default:
	}

	sets, err := LoadFile(path)
	if err != nil {
		w.log.WithError(err).WithField("file", path).Warn("rule reload failed, keeping previous rules")
		return
	}
	fp := ""
	for _, s := range sets {
		fp += s.Fingerprint
	}
	names := make([]string, 0, len(sets))
	for _, s := range sets {
		names = append(names, s.Name)
	}
	w.mu.Lock()
	same := fp != "" && w.files[path] == fp
	w.files[path] = fp
	var removed []string
	for _, old := range w.names[path] {
		if !slices.Contains(names, old) {
			removed = append(removed, old)
		}
	}
	w.names[path] = names
	w.mu.Unlock()
	if same && len(removed) == 0 {
		return
	}
	w.log.WithFields(logrus.Fields{"file": path, "engines": len(sets), "removed": len(removed)}).Info("rules reloaded")
	w.onLoad(path, sets, removed)
}

func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		w.mu.Lock()
		for _, t := range w.timer {
			t.Stop()
		}
		w.mu.Unlock()
		err = w.fw.Close()
	})
	return err
}
