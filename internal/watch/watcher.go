// Package watch reports changed script files under a source tree and
// PAUSE-file interventions, using fsnotify.
package watch

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/papapumpkin/inkwell/internal/logging"
)

// PauseFileName is the intervention file that puts the session in
// restricted mode while it exists.
const PauseFileName = "PAUSE"

// DefaultDebounce is how long a file must be quiet before it is reported.
const DefaultDebounce = 100 * time.Millisecond

// Intervention is a request from outside the process to change mode.
type Intervention int

const (
	InterventionPause Intervention = iota
	InterventionResume
)

// String returns the lowercase intervention name.
func (i Intervention) String() string {
	if i == InterventionPause {
		return "pause"
	}
	return "resume"
}

// Options configures a Watcher.
type Options struct {
	Extension string        // script extension, e.g. ".ink"
	StateDir  string        // directory holding the PAUSE file; optional
	Debounce  time.Duration // defaults to DefaultDebounce
	Logger    *logging.Logger
}

// Watcher monitors a source tree recursively. Settled changes are
// delivered in batches of absolute paths.
type Watcher struct {
	Root          string
	Changes       <-chan []string
	Interventions <-chan Intervention

	changes       chan []string
	interventions chan Intervention
	ext           string
	pauseFile     string
	debounce      time.Duration
	logger        *logging.Logger

	watcher  *fsnotify.Watcher
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher for root.
func NewWatcher(root string, opts Options) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	ext := opts.Extension
	if ext == "" {
		ext = ".ink"
	}
	var pauseFile string
	if opts.StateDir != "" {
		pauseFile = filepath.Join(opts.StateDir, PauseFileName)
	}

	changes := make(chan []string, 16)
	interventions := make(chan Intervention, 4)
	return &Watcher{
		Root:          root,
		Changes:       changes,
		Interventions: interventions,
		changes:       changes,
		interventions: interventions,
		ext:           ext,
		pauseFile:     pauseFile,
		debounce:      debounce,
		logger:        logging.OrDiscard(opts.Logger),
		watcher:       fw,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}, nil
}

// Start adds every directory under Root (hidden directories excluded)
// and the state directory, then begins watching. A PAUSE file already
// present is reported as a pause intervention.
func (w *Watcher) Start() error {
	if err := w.addTree(w.Root); err != nil {
		return err
	}
	if w.pauseFile != "" {
		stateDir := filepath.Dir(w.pauseFile)
		if err := os.MkdirAll(stateDir, 0o755); err != nil {
			return err
		}
		if err := w.watcher.Add(stateDir); err != nil {
			return err
		}
		if _, err := os.Stat(w.pauseFile); err == nil {
			w.interventions <- InterventionPause
		}
	}
	go w.loop()
	return nil
}

// Stop closes the watcher and its channels.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		w.watcher.Close()
		<-w.done
		close(w.changes)
		close(w.interventions)
	})
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("not watching unreadable path", "path", p, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(p); err != nil {
			return err
		}
		return nil
	})
}

func (w *Watcher) loop() {
	defer close(w.done)

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				w.flush(pending, time.Time{})
				return
			}
			w.handle(event, pending)

		case now := <-ticker.C:
			w.flush(pending, now)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watch error", "error", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event, pending map[string]time.Time) {
	if w.pauseFile != "" && event.Name == w.pauseFile {
		switch {
		case event.Has(fsnotify.Create):
			w.intervene(InterventionPause)
		case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
			w.intervene(InterventionResume)
		}
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if strings.HasPrefix(info.Name(), ".") {
				return
			}
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn("could not watch new directory", "path", event.Name, "error", err)
			}
			w.queueScripts(event.Name, pending)
			return
		}
	}

	if !w.isScript(event.Name) {
		return
	}
	if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		pending[event.Name] = time.Now()
	}
}

// queueScripts marks every script under a newly created directory.
func (w *Watcher) queueScripts(dir string, pending map[string]time.Time) {
	now := time.Now()
	_ = filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() && w.isScript(p) {
			pending[p] = now
		}
		return nil
	})
}

// flush emits every file quiet for at least the debounce interval as
// one batch. A zero now flushes everything.
func (w *Watcher) flush(pending map[string]time.Time, now time.Time) {
	var batch []string
	for file, t := range pending {
		if now.IsZero() || now.Sub(t) >= w.debounce {
			batch = append(batch, file)
			delete(pending, file)
		}
	}
	if len(batch) == 0 {
		return
	}
	sort.Strings(batch)
	select {
	case w.changes <- batch:
	case <-w.stop:
	}
}

func (w *Watcher) intervene(i Intervention) {
	w.logger.Info("intervention file changed", "intervention", i, "path", w.pauseFile)
	select {
	case w.interventions <- i:
	case <-w.stop:
	}
}

func (w *Watcher) isScript(name string) bool {
	base := filepath.Base(name)
	return !strings.HasPrefix(base, ".") && strings.EqualFold(filepath.Ext(base), w.ext)
}
