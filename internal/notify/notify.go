// Package notify delivers engine notifications to subscribers.
//
// Observers subscribe to every notification or to a single topic. Delivery is
// synchronous by default; WithAsync moves it onto a buffered worker so slow
// observers never block the rescan pipeline.
package notify

import (
	"sync"
	"time"
)

// Topic names a kind of notification.
type Topic string

// Notification topics.
const (
	TopicPluginListUpdated Topic = "plugin-list-updated"
	TopicLoadOrderUpdated  Topic = "load-order-updated"
	TopicAutosortRequested Topic = "autosort-requested"
	TopicAutosortCompleted Topic = "autosort-completed"
	TopicWarning           Topic = "warning"
)

// WarningKind classifies a recovered error.
type WarningKind int

const (
	// KindIOUnavailable means the backing files could not be read or written.
	KindIOUnavailable WarningKind = iota

	// KindParseCorruption means a persisted line was skipped.
	KindParseCorruption

	// KindOrderInvalid means a proposed order was rejected.
	KindOrderInvalid

	// KindOracleUnreachable means the autosort oracle could not be reached.
	KindOracleUnreachable

	// KindOracleConflict means the oracle found cyclic or contradictory rules.
	KindOracleConflict

	// KindPartialScan means some mod directories could not be read.
	KindPartialScan
)

// String returns the kind name.
func (k WarningKind) String() string {
	switch k {
	case KindIOUnavailable:
		return "io-unavailable"
	case KindParseCorruption:
		return "parse-corruption"
	case KindOrderInvalid:
		return "order-invalid"
	case KindOracleUnreachable:
		return "oracle-unreachable"
	case KindOracleConflict:
		return "oracle-conflict"
	case KindPartialScan:
		return "partial-scan"
	default:
		return "unknown"
	}
}

// Warning is a non-fatal problem surfaced to the user.
type Warning struct {
	Kind    WarningKind
	Message string

	// Plugins lists the plugins involved, if any.
	Plugins []string

	// Err is the underlying error.
	Err error
}

// Event is one notification.
type Event struct {
	Topic  Topic
	GameID string

	// Plugins carries the plugin list or load order, depending on the topic.
	Plugins []string

	// Warning is set for TopicWarning.
	Warning *Warning

	Time time.Time
}

// Observer receives notifications.
type Observer func(ev Event)

// Subscription represents an active observer subscription.
type Subscription struct {
	id       uint64
	notifier *Notifier
}

// Unsubscribe removes this subscription.
func (s *Subscription) Unsubscribe() {
	if s.notifier != nil {
		s.notifier.unsubscribe(s.id)
	}
}

// Notifier manages subscriptions.
type Notifier struct {
	mu sync.RWMutex

	global map[uint64]Observer
	topics map[Topic]map[uint64]Observer
	nextID uint64

	async  bool
	buffer chan Event
	done   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithAsync enables asynchronous delivery with the given buffer size.
func WithAsync(bufferSize int) Option {
	return func(n *Notifier) {
		if bufferSize > 0 {
			n.async = true
			n.buffer = make(chan Event, bufferSize)
		}
	}
}

// New creates a Notifier.
func New(opts ...Option) *Notifier {
	n := &Notifier{
		global: make(map[uint64]Observer),
		topics: make(map[Topic]map[uint64]Observer),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.async {
		n.wg.Add(1)
		go n.processAsync()
	}
	return n
}

// Subscribe registers an observer for all topics.
func (n *Notifier) Subscribe(observer Observer) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	n.global[id] = observer
	return &Subscription{id: id, notifier: n}
}

// SubscribeTopic registers an observer for one topic.
func (n *Notifier) SubscribeTopic(topic Topic, observer Observer) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	if n.topics[topic] == nil {
		n.topics[topic] = make(map[uint64]Observer)
	}
	n.topics[topic][id] = observer
	return &Subscription{id: id, notifier: n}
}

// Publish sends ev to matching observers. A zero Time is set to now.
func (n *Notifier) Publish(ev Event) {
	n.mu.RLock()
	if n.closed {
		n.mu.RUnlock()
		return
	}
	n.mu.RUnlock()

	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	if n.async {
		select {
		case n.buffer <- ev:
		case <-n.done:
		}
		return
	}
	n.deliver(ev)
}

// PluginListUpdated publishes the current catalog names.
func (n *Notifier) PluginListUpdated(gameID string, names []string) {
	n.Publish(Event{Topic: TopicPluginListUpdated, GameID: gameID, Plugins: names})
}

// LoadOrderUpdated publishes the current order.
func (n *Notifier) LoadOrderUpdated(gameID string, order []string) {
	n.Publish(Event{Topic: TopicLoadOrderUpdated, GameID: gameID, Plugins: order})
}

// AutosortRequested publishes that an oracle call was queued.
func (n *Notifier) AutosortRequested(gameID string) {
	n.Publish(Event{Topic: TopicAutosortRequested, GameID: gameID})
}

// AutosortCompleted publishes the applied order.
func (n *Notifier) AutosortCompleted(gameID string, order []string) {
	n.Publish(Event{Topic: TopicAutosortCompleted, GameID: gameID, Plugins: order})
}

// Warn publishes a warning.
func (n *Notifier) Warn(gameID string, w *Warning) {
	n.Publish(Event{Topic: TopicWarning, GameID: gameID, Warning: w})
}

// Close shuts down the notifier, draining pending async events. It is safe
// to call Close multiple times.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	n.mu.Unlock()

	close(n.done)
	n.wg.Wait()
}

func (n *Notifier) unsubscribe(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	delete(n.global, id)
	for topic, observers := range n.topics {
		delete(observers, id)
		if len(observers) == 0 {
			delete(n.topics, topic)
		}
	}
}

func (n *Notifier) deliver(ev Event) {
	n.mu.RLock()
	observers := make([]Observer, 0, len(n.global)+len(n.topics[ev.Topic]))
	for _, obs := range n.global {
		observers = append(observers, obs)
	}
	for _, obs := range n.topics[ev.Topic] {
		observers = append(observers, obs)
	}
	n.mu.RUnlock()

	// Call observers outside the lock
	for _, obs := range observers {
		obs(ev)
	}
}

func (n *Notifier) processAsync() {
	defer n.wg.Done()

	for {
		select {
		case ev := <-n.buffer:
			n.deliver(ev)
		case <-n.done:
			for {
				select {
				case ev := <-n.buffer:
					n.deliver(ev)
				default:
					return
				}
			}
		}
	}
}
