package watcher

import (
	"context"
	"errors"
	"io/fs"
	"sync"
	"time"

	"github.com/dshills/plugsync/internal/fsys"
)

// fileState is what the poller remembers about a file between polls.
type fileState struct {
	exists  bool
	size    int64
	modTime time.Time
}

// FilePoller watches individual files by polling their size and modification
// time. It suits files that are replaced by rename, where directory watches
// on the parent would be noisy.
type FilePoller struct {
	mu       sync.Mutex
	fs       fsys.FS
	interval time.Duration
	files    map[string]fileState
	handlers []Handler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// PollerOption configures a FilePoller.
type PollerOption func(*FilePoller)

// WithPollInterval sets the polling interval.
func WithPollInterval(d time.Duration) PollerOption {
	return func(p *FilePoller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithPollFS sets the filesystem. Defaults to the OS filesystem.
func WithPollFS(f fsys.FS) PollerOption {
	return func(p *FilePoller) {
		p.fs = f
	}
}

// NewFilePoller creates a poller. Call Start to begin polling.
func NewFilePoller(opts ...PollerOption) *FilePoller {
	p := &FilePoller{
		fs:       fsys.NewOSFS(),
		interval: time.Second,
		files:    make(map[string]fileState),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Watch adds a file. A file that does not exist yet is watched for creation.
func (p *FilePoller) Watch(path string) error {
	st, err := p.stat(path)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.files[path] = st
	return nil
}

// Unwatch removes a file.
func (p *FilePoller) Unwatch(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.files, path)
}

// Reset forgets every watched file.
func (p *FilePoller) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.files = make(map[string]fileState)
}

// OnChange registers a handler.
func (p *FilePoller) OnChange(h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, h)
}

// Start polls in the background until ctx is cancelled or Stop is called.
func (p *FilePoller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Poll()
			}
		}
	}()
}

// Stop stops background polling.
func (p *FilePoller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		p.wg.Wait()
	}
}

// Poll checks every watched file once and dispatches events for changes.
func (p *FilePoller) Poll() {
	p.mu.Lock()
	paths := make([]string, 0, len(p.files))
	for path := range p.files {
		paths = append(paths, path)
	}
	p.mu.Unlock()

	var events []Event
	for _, path := range paths {
		st, err := p.stat(path)
		if err != nil {
			continue
		}

		p.mu.Lock()
		prev, ok := p.files[path]
		if !ok {
			p.mu.Unlock()
			continue
		}
		p.files[path] = st
		p.mu.Unlock()

		var op Op
		switch {
		case !prev.exists && st.exists:
			op = OpCreate
		case prev.exists && !st.exists:
			op = OpRemove
		case st.exists && (st.size != prev.size || !st.modTime.Equal(prev.modTime)):
			op = OpWrite
		default:
			continue
		}
		events = append(events, Event{Path: path, Op: op, Timestamp: time.Now()})
	}

	p.mu.Lock()
	handlers := append([]Handler(nil), p.handlers...)
	p.mu.Unlock()

	for _, ev := range events {
		for _, h := range handlers {
			h(ev)
		}
	}
}

func (p *FilePoller) stat(path string) (fileState, error) {
	info, err := p.fs.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fileState{}, nil
		}
		return fileState{}, err
	}
	return fileState{exists: true, size: info.Size(), modTime: info.ModTime()}, nil
}
