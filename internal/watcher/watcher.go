// Package watcher observes a music root recursively and coalesces bursts of
// filesystem events into a single rescan trigger.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"tonic/internal/library"
)

// debounceDelay is how long the tree must stay quiet before the trigger
// fires. Copying an album in produces hundreds of events; one rescan is
// enough.
const debounceDelay = 2 * time.Second

// Trigger runs after a quiet period following relevant filesystem activity.
type Trigger func()

type Watcher struct {
	root    string
	trigger Trigger
	clock   clockwork.Clock
	delay   time.Duration

	fsWatcher *fsnotify.Watcher
}

func New(root string, trigger Trigger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}

	w := &Watcher{
		root:      root,
		trigger:   trigger,
		clock:     clockwork.NewRealClock(),
		delay:     debounceDelay,
		fsWatcher: fsWatcher,
	}

	if err := w.watchTree(root); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	return w, nil
}

// watchTree registers root and every non-sentinel subdirectory. fsnotify
// watches are per directory, not recursive.
func (w *Watcher) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			log.Warn().Err(walkErr).Str("path", path).Msg("skipping unwatchable entry")
			return nil
		}
		if !entry.IsDir() {
			return nil
		}
		if library.IsSentinelDir(entry.Name()) {
			return fs.SkipDir
		}

		if err := w.fsWatcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// Run consumes events until ctx is done. It blocks; callers run it on its
// own goroutine.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsWatcher.Close()

	var timer clockwork.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}

			// New directories join the watch set immediately so files
			// landing inside them are seen.
			if event.Op.Has(fsnotify.Create) {
				w.maybeWatchNewDir(event.Name)
			}

			if timer == nil {
				timer = w.clock.NewTimer(w.delay)
				timerCh = timer.Chan()
			} else {
				timer.Reset(w.delay)
			}

		case <-timerCh:
			timer = nil
			timerCh = nil
			log.Debug().Str("root", w.root).Msg("filesystem settled, triggering rescan")
			w.trigger()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("fs watcher error")
		}
	}
}

// relevant filters to events that could change what a scan would find: audio
// files, or directory churn.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	name := filepath.Base(event.Name)
	if library.IsSentinelDir(name) {
		return false
	}
	if library.IsAudioFile(name) {
		return true
	}

	if event.Op.Has(fsnotify.Create) {
		info, err := os.Stat(event.Name)
		return err == nil && info.IsDir()
	}

	// A removed or renamed path can no longer be stat'd; an extensionless
	// name was most likely a directory.
	if event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename) {
		return filepath.Ext(name) == ""
	}

	return false
}

func (w *Watcher) maybeWatchNewDir(path string) {
	if library.IsSentinelDir(filepath.Base(path)) {
		return
	}
	if err := w.watchTree(path); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("could not watch new directory")
	}
}
