package transport

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDefault is the default debounce interval for file events.
const debounceDefault = 200 * time.Millisecond

// maxConcurrentJobs limits how many envelope files are processed
// simultaneously. Prevents resource exhaustion under burst load.
const maxConcurrentJobs = 5

// maxQueueSize is the buffer size for the work queue channel. Must be
// larger than maxConcurrentJobs to absorb bursts without blocking the
// debounce flush.
const maxQueueSize = 200

// pollDefault is the default polling interval when fsnotify is
// unavailable.
const pollDefault = 5 * time.Second

// InboxWatcher watches an inbox directory for new envelope files using
// fsnotify.
type InboxWatcher struct {
	inbox    string
	handler  func(path string)
	debounce time.Duration
}

// NewInboxWatcher creates a watcher for the inbox directory.
func NewInboxWatcher(inbox string, handler func(path string)) *InboxWatcher {
	return &InboxWatcher{
		inbox:    inbox,
		handler:  handler,
		debounce: debounceDefault,
	}
}

// Run watches the inbox for new .json files. Blocks until ctx is
// cancelled.
func (w *InboxWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := os.MkdirAll(w.inbox, 0750); err != nil {
		return err
	}
	if err := watcher.Add(w.inbox); err != nil {
		return err
	}

	// ready collects file paths that passed debounce. A single timer
	// resets on each event; when it fires, all accumulated paths flush
	// to the work queue. Zero per-file goroutines.
	var mu sync.Mutex
	ready := make(map[string]bool)

	// Work queue consumed by a fixed pool of workers.
	queue := make(chan string, maxQueueSize)

	var wg sync.WaitGroup
	for i := 0; i < maxConcurrentJobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range queue {
				func() {
					defer func() {
						if r := recover(); r != nil {
							_ = r
						}
					}()
					w.handler(path)
				}()
			}
		}()
	}

	// flush moves all ready paths into the work queue.
	flush := func() {
		mu.Lock()
		batch := make([]string, 0, len(ready))
		for p := range ready {
			batch = append(batch, p)
		}
		ready = make(map[string]bool)
		mu.Unlock()

		for _, p := range batch {
			select {
			case queue <- p:
			case <-ctx.Done():
				return
			}
		}
	}

	// Single debounce timer, reset on each event. Initialized as
	// stopped; the first event starts it.
	debounceTimer := time.NewTimer(w.debounce)
	debounceTimer.Stop()

	defer func() {
		debounceTimer.Stop()
		flush()
		close(queue)
		wg.Wait()
	}()

	// Pick up envelopes that arrived before the watcher started.
	if entries, err := os.ReadDir(w.inbox); err == nil {
		mu.Lock()
		for _, e := range entries {
			if !e.IsDir() && isEnvelopeFile(e.Name()) {
				ready[filepath.Join(w.inbox, e.Name())] = true
			}
		}
		pending := len(ready) > 0
		mu.Unlock()
		if pending {
			debounceTimer.Reset(w.debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-debounceTimer.C:
			flush()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if !isEnvelopeFile(event.Name) {
				continue
			}

			mu.Lock()
			ready[event.Name] = true
			mu.Unlock()

			if !debounceTimer.Stop() {
				select {
				case <-debounceTimer.C:
				default:
				}
			}
			debounceTimer.Reset(w.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			_ = err
		}
	}
}

// PollWatcher watches an inbox using polling. Used as a fallback when
// fsnotify is unavailable (e.g., NFS).
type PollWatcher struct {
	inbox    string
	handler  func(path string)
	interval time.Duration
	seen     map[string]bool
}

// NewPollWatcher creates a polling-based watcher.
func NewPollWatcher(inbox string, handler func(path string), interval time.Duration) *PollWatcher {
	if interval <= 0 {
		interval = pollDefault
	}
	return &PollWatcher{
		inbox:    inbox,
		handler:  handler,
		interval: interval,
		seen:     make(map[string]bool),
	}
}

// Run polls the inbox until ctx is cancelled.
func (p *PollWatcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(p.inbox, 0750); err != nil {
		return err
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.scan()
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (p *PollWatcher) scan() {
	entries, err := os.ReadDir(p.inbox)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !isEnvelopeFile(e.Name()) {
			continue
		}
		path := filepath.Join(p.inbox, e.Name())
		if p.seen[path] {
			continue
		}
		p.seen[path] = true
		p.handler(path)
	}
}

func isEnvelopeFile(name string) bool {
	return strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, ".tmp")
}
