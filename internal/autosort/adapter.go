package autosort

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/plugsync/internal/logging"
)

// Adapter errors.
var (
	// ErrAdapterClosed is returned by Preview after Close.
	ErrAdapterClosed = errors.New("autosort adapter is closed")

	// ErrSuperseded is returned by an ApplyFunc that found its result stale.
	ErrSuperseded = errors.New("sort result superseded")
)

// SourceFunc snapshots the current load order into a request.
type SourceFunc func() (*Request, error)

// ApplyFunc installs an oracle answer. It must validate the order and leave
// the load order untouched on error. stale reports whether a newer request
// arrived; callers that issue requests under a lock should check it under the
// same lock and return ErrSuperseded.
type ApplyFunc func(req *Request, order []string, stale func() bool) error

// Result describes one completed oracle call.
type Result struct {
	RequestID string
	Order     []string
	Err       error

	// Discarded is set when a newer request or deactivation superseded the
	// call; Order was not applied.
	Discarded bool

	Duration time.Duration
}

// Adapter serializes oracle calls for one profile. At most one call is in
// flight; requests made meanwhile collapse into a single follow-up and the
// in-flight result is discarded.
type Adapter struct {
	oracle  Oracle
	source  SourceFunc
	apply   ApplyFunc
	timeout time.Duration
	onDone  func(Result)
	logger  zerolog.Logger

	mu       sync.Mutex
	gen      uint64
	inFlight bool
	queued   bool
	active   bool
	closed   bool
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithTimeout bounds each oracle call.
func WithTimeout(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		a.timeout = d
	}
}

// WithResultHandler sets a callback for every completed call, including
// discarded and failed ones.
func WithResultHandler(fn func(Result)) AdapterOption {
	return func(a *Adapter) {
		a.onDone = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) AdapterOption {
	return func(a *Adapter) {
		a.logger = logging.Component(l, "autosort")
	}
}

// NewAdapter creates an active adapter.
func NewAdapter(oracle Oracle, source SourceFunc, apply ApplyFunc, opts ...AdapterOption) *Adapter {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Adapter{
		oracle: oracle,
		source: source,
		apply:  apply,
		logger: logging.Nop(),
		active: true,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Request asks for a sort. It returns immediately; the call runs in the
// background. It reports whether the request was accepted.
func (a *Adapter) Request() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.active || a.closed {
		return false
	}
	a.gen++
	if a.inFlight {
		a.queued = true
		return true
	}
	a.inFlight = true
	a.wg.Add(1)
	go a.loop()
	return true
}

// Deactivate stops accepting requests. An in-flight call finishes but its
// result is discarded.
func (a *Adapter) Deactivate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active = false
	a.queued = false
	a.gen++
}

// Busy reports whether a call is in flight.
func (a *Adapter) Busy() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inFlight
}

// Wait blocks until no call is in flight.
func (a *Adapter) Wait() {
	a.wg.Wait()
}

// Close deactivates the adapter, cancels any in-flight call and waits for it.
func (a *Adapter) Close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	a.Deactivate()
	a.cancel()
	a.wg.Wait()
}

// Preview asks the oracle without applying the answer.
func (a *Adapter) Preview(ctx context.Context) (*Request, []string, error) {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return nil, nil, ErrAdapterClosed
	}

	req, err := a.source()
	if err != nil {
		return nil, nil, err
	}
	resp, err := a.call(ctx, req)
	if err != nil {
		return req, nil, err
	}
	return req, resp.Order, nil
}

func (a *Adapter) call(ctx context.Context, req *Request) (*Response, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	return a.oracle.Sort(ctx, req)
}

func (a *Adapter) loop() {
	defer a.wg.Done()

	for {
		a.mu.Lock()
		gen := a.gen
		a.queued = false
		a.mu.Unlock()

		res := a.once(gen)
		if a.onDone != nil {
			a.onDone(res)
		}

		a.mu.Lock()
		if a.queued && a.active && !a.closed {
			a.mu.Unlock()
			continue
		}
		a.inFlight = false
		a.mu.Unlock()
		return
	}
}

func (a *Adapter) once(gen uint64) Result {
	start := time.Now()

	req, err := a.source()
	if err != nil {
		return Result{Err: err, Duration: time.Since(start)}
	}

	resp, err := a.call(a.ctx, req)
	res := Result{RequestID: req.ID, Err: err, Duration: time.Since(start)}

	a.mu.Lock()
	superseded := gen != a.gen || !a.active
	a.mu.Unlock()
	if superseded {
		res.Discarded = true
		a.logger.Debug().Str("request", req.ID).Msg("discarded superseded sort result")
		return res
	}
	if err != nil {
		a.logger.Warn().Err(err).Str("request", req.ID).Msg("sort failed")
		return res
	}

	stale := func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return gen != a.gen || !a.active
	}
	if err := a.apply(req, resp.Order, stale); err != nil {
		if errors.Is(err, ErrSuperseded) {
			res.Discarded = true
			a.logger.Debug().Str("request", req.ID).Msg("discarded superseded sort result")
			return res
		}
		res.Err = err
		a.logger.Warn().Err(err).Str("request", req.ID).Msg("sort result rejected")
		return res
	}
	res.Order = resp.Order
	a.logger.Info().Str("request", req.ID).Int("plugins", len(resp.Order)).Dur("took", res.Duration).Msg("applied sort result")
	return res
}
