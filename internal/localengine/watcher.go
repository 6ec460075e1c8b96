package localengine

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// spoolWatcher calls notify when envelopes arrive in a spool directory.
// Bursts of arrivals within the debounce window produce one call.
type spoolWatcher struct {
	fsWatcher *fsnotify.Watcher
	debounce  time.Duration
	notify    func()
	logger    *slog.Logger

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func newSpoolWatcher(s spool, debounce time.Duration, notify func(), logger *slog.Logger) (*spoolWatcher, error) {
	if err := s.ensure(); err != nil {
		return nil, fmt.Errorf("create spool: %w", err)
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsWatcher.Add(s.dir); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("watch spool: %w", err)
	}

	w := &spoolWatcher{
		fsWatcher: fsWatcher,
		debounce:  debounce,
		notify:    notify,
		logger:    logger,
		done:      make(chan struct{}),
	}
	w.wg.Add(1)
	go w.eventLoop()
	return w, nil
}

func (w *spoolWatcher) eventLoop() {
	defer w.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			// Envelopes are renamed into place, which shows up as a create.
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 || !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.notify()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("[SPOOL] Watcher error", "error", err)
		}
	}
}

// Close stops the watcher. Idempotent.
func (w *spoolWatcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		w.wg.Wait()
		err = w.fsWatcher.Close()
	})
	return err
}
