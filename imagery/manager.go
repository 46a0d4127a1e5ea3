package imagery

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/tilecache"
	"github.com/gogpu/tilecache/internal/image"
	"github.com/gogpu/tilecache/internal/metrics"
	"github.com/gogpu/tilecache/region"
)

var (
	// ErrKeyNotComparable is returned when a manager key cannot be compared
	// with ==.
	ErrKeyNotComparable = errors.New("imagery: key is not comparable")

	// ErrNoProvider is returned by operations that need a provider.
	ErrNoProvider = errors.New("imagery: no provider")

	// ErrNotObservable is returned by Watch when the provider does not push
	// updates.
	ErrNotObservable = errors.New("imagery: provider is not observable")
)

// Observer is notified after a manager's cached imagery changed.
// Observers are compared with == on removal.
type Observer interface {
	ImageDataChanged(m *Manager)
}

// task is one fetch attempt. A task completes exactly once, whether it
// published, failed, was pre-empted or was cancelled.
type task struct {
	ctx        context.Context
	cancel     context.CancelFunc
	comparator Comparator
	priority   any

	cancelled atomic.Bool
	completed atomic.Bool
	done      chan struct{}
}

func newTask(ctx context.Context, req Request) *task {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &task{
		ctx:        ctx,
		cancel:     cancel,
		comparator: req.Comparator,
		priority:   req.Priority,
		done:       make(chan struct{}),
	}
}

// Manager fetches and caches the imagery of one (key, provider) pair.
//
// At most one fetch is in flight. The cached ImageSet is replaced with an
// atomic swap and the replaced set is disposed after the swap. A fetch that
// completes after its request was cancelled disposes its result instead of
// publishing it.
//
// Manager is safe for concurrent use.
type Manager struct {
	key      any
	provider Provider
	hubKey   HubKey
	identity string
	hub      *Hub
	pool     *image.Pool

	cache Cache
	dirty region.Tracker

	// mu serializes claiming, publishing and cancelling the in-flight task.
	mu       sync.Mutex
	inflight *task

	listenMu  sync.Mutex
	observers []Observer
	completes []func(*Manager)
	unwatch   func()

	disposed atomic.Bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithHub shares fetches through h. A nil hub disables sharing.
func WithHub(h *Hub) ManagerOption {
	return func(m *Manager) { m.hub = h }
}

// NewManager creates a manager for key served by provider. Key must be
// comparable. A nil provider yields a manager that only holds pushed
// imagery. Managers share DefaultHub unless WithHub says otherwise.
func NewManager(key any, provider Provider, opts ...ManagerOption) (*Manager, error) {
	if key != nil && !reflect.TypeOf(key).Comparable() {
		return nil, fmt.Errorf("%w: %T", ErrKeyNotComparable, key)
	}
	m := &Manager{
		key:      key,
		provider: provider,
		hub:      DefaultHub(),
		pool:     image.Default(),
	}
	m.hubKey = HubKey{Provider: m.providerName(), Key: key}
	m.identity = m.hubKey.String()
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// MustNewManager is like NewManager but panics on error.
func MustNewManager(key any, provider Provider, opts ...ManagerOption) *Manager {
	m, err := NewManager(key, provider, opts...)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Manager) providerName() string {
	if m.provider == nil {
		return ""
	}
	return m.provider.Name()
}

// Key returns the image key.
func (m *Manager) Key() any { return m.key }

// Provider returns the provider, or nil.
func (m *Manager) Provider() Provider { return m.provider }

// Hub returns the hub the manager fetches through, or nil.
func (m *Manager) Hub() *Hub { return m.hub }

// Identity returns a printable form of the manager's hub key. Equal
// managers have equal identities; the converse does not hold, so compare
// managers with Equal.
func (m *Manager) Identity() string { return m.identity }

// HubKey returns the key the manager shares fetches under.
func (m *Manager) HubKey() HubKey { return m.hubKey }

// Equal reports whether m and o have equal keys and provider names.
// Equal managers are interchangeable.
func (m *Manager) Equal(o *Manager) bool {
	if m == nil || o == nil {
		return m == o
	}
	return m.hubKey == o.hubKey
}

// CachedImageData returns the current image set, or nil.
func (m *Manager) CachedImageData() *ImageSet {
	return m.cache.Load()
}

// Image returns the cached image for mode, or nil.
func (m *Manager) Image(mode RenderMode) *Image {
	return m.cache.Load().Image(mode)
}

// InFlight reports whether a fetch is pending.
func (m *Manager) InFlight() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inflight != nil
}

// RequestImageData makes sure imagery is being fetched and waits for it at
// most req.Budget.Remaining().
//
// It does nothing when imagery is cached or there is no provider. Immediate
// providers are called on the calling goroutine; concurrent callers wait
// for that one call instead of issuing their own. Other fetches run on
// req.Executor. A fetch already in flight is kept unless req outranks it,
// in which case it is cancelled softly and replaced.
//
// Running out of budget is not an error: the fetch continues and observers
// are notified when it lands.
func (m *Manager) RequestImageData(ctx context.Context, req Request) {
	if m.provider == nil || m.disposed.Load() || m.cache.Load() != nil {
		return
	}

	if ip, ok := m.provider.(ImmediateProvider); ok && ip.CanProvideImmediately() {
		m.requestImmediate(ctx, req)
		return
	}

	if t := m.submit(ctx, req); t != nil {
		m.wait(ctx, t, req.Budget)
	}
}

func (m *Manager) requestImmediate(ctx context.Context, req Request) {
	t := newTask(ctx, req)

	m.mu.Lock()
	if m.cache.Load() != nil {
		m.mu.Unlock()
		t.cancel()
		return
	}
	if cur := m.inflight; cur != nil {
		m.mu.Unlock()
		t.cancel()
		m.wait(ctx, cur, req.Budget)
		return
	}
	m.inflight = t
	m.mu.Unlock()

	m.run(t)
}

// submit claims the in-flight slot for a new task, or returns the task
// already holding it.
func (m *Manager) submit(ctx context.Context, req Request) *task {
	m.mu.Lock()
	if m.cache.Load() != nil {
		m.mu.Unlock()
		return nil
	}
	prev := m.inflight
	if prev != nil && !outranks(req.Comparator, req.Priority, prev) {
		m.mu.Unlock()
		return prev
	}
	if prev != nil {
		prev.cancelled.Store(true)
	}
	t := newTask(ctx, req)
	m.inflight = t
	m.mu.Unlock()

	log := tilecache.Logger()
	if prev != nil {
		metrics.Preemptions.Inc()
		log.Debug("imagery: fetch pre-empted", "image", m.identity)
		m.complete(prev)
	}

	exec := req.Executor
	if exec == nil {
		exec = GoExecutor
	}
	log.Debug("imagery: fetch submitted", "image", m.identity)
	if err := exec.Submit(func() { m.run(t) }); err != nil {
		log.Warn("imagery: executor rejected fetch", "image", m.identity, "err", err)
		m.mu.Lock()
		if m.inflight == t {
			m.inflight = nil
		}
		t.cancelled.Store(true)
		m.mu.Unlock()
		t.cancel()
		m.complete(t)
		close(t.done)
		return nil
	}
	return t
}

// wait blocks until imagery is cached, the budget runs out or ctx ends.
// When the awaited task is replaced, it follows the replacement.
func (m *Manager) wait(ctx context.Context, t *task, budget TimeBudget) {
	remaining := budget.Remaining()
	if remaining <= 0 {
		return
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()

	for t != nil {
		select {
		case <-t.done:
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		}
		if m.cache.Load() != nil {
			return
		}
		m.mu.Lock()
		next := m.inflight
		m.mu.Unlock()
		if next == t {
			return
		}
		t = next
	}
}

// run performs the fetch of t and publishes or discards the result.
func (m *Manager) run(t *task) {
	defer close(t.done)
	defer m.complete(t)
	defer t.cancel()

	if t.cancelled.Load() {
		return
	}

	data, err := m.fetch(t.ctx)
	if err != nil {
		if t.ctx.Err() == nil {
			tilecache.Logger().Warn("imagery: fetch failed", "image", m.identity, "err", err)
		}
		m.release(t)
		return
	}

	set, err := newImageSet(m.pool, data)
	if err != nil {
		tilecache.Logger().Warn("imagery: decode failed", "image", m.identity, "err", err)
		m.release(t)
		return
	}
	if set == nil {
		m.release(t)
		return
	}
	m.publish(t, set)
}

func (m *Manager) fetch(ctx context.Context) (*Data, error) {
	if m.hub != nil {
		return m.hub.Fetch(ctx, m.hubKey, m.provider)
	}
	return fetchFrom(ctx, m.provider, m.key)
}

// publish installs set as the fetch result of t, unless t was cancelled or
// replaced, in which case set is disposed.
func (m *Manager) publish(t *task, set *ImageSet) {
	m.mu.Lock()
	if t.cancelled.Load() || m.inflight != t {
		m.mu.Unlock()
		set.Dispose()
		return
	}
	m.inflight = nil
	old := m.cache.Swap(set)
	m.mu.Unlock()

	if old != set {
		old.Dispose()
	}
	m.notify()
}

// release frees the in-flight slot after a fetch that produced nothing.
func (m *Manager) release(t *task) {
	m.mu.Lock()
	if m.inflight == t {
		m.inflight = nil
	}
	m.mu.Unlock()
}

// complete fires the request-complete listeners for t, once.
func (m *Manager) complete(t *task) {
	if !t.completed.CompareAndSwap(false, true) {
		return
	}
	m.listenMu.Lock()
	fns := m.completes
	m.listenMu.Unlock()
	for _, fn := range fns {
		fn(m)
	}
}

func (m *Manager) notify() {
	m.listenMu.Lock()
	obs := m.observers
	m.listenMu.Unlock()
	for _, o := range obs {
		o.ImageDataChanged(m)
	}
}

// CancelRequest cancels the in-flight fetch, if any, and disposes the cached
// imagery. With interrupt the fetch's context is cancelled as well;
// otherwise the fetch runs to completion and its result is discarded.
// Request-complete listeners are notified once for the cancelled fetch.
func (m *Manager) CancelRequest(interrupt bool) {
	m.mu.Lock()
	t := m.inflight
	m.inflight = nil
	if t != nil {
		t.cancelled.Store(true)
	}
	old := m.cache.Swap(nil)
	m.mu.Unlock()

	old.Dispose()
	if t == nil {
		return
	}
	if interrupt {
		t.cancel()
	}
	tilecache.Logger().Debug("imagery: fetch cancelled", "image", m.identity, "interrupt", interrupt)
	m.complete(t)
}

// SetImageData replaces the cached imagery with set, superseding any fetch
// in flight. The previous set is disposed after the swap. Observers are
// notified afterwards. A nil set clears the cache.
func (m *Manager) SetImageData(set *ImageSet) {
	if m.disposed.Load() {
		set.Dispose()
		return
	}

	m.mu.Lock()
	t := m.inflight
	m.inflight = nil
	if t != nil {
		t.cancelled.Store(true)
	}
	old := m.cache.Swap(set)
	m.mu.Unlock()

	if old != set {
		old.Dispose()
	}
	if t != nil {
		m.complete(t)
	}
	m.notify()
}

// SetImage replaces the cached imagery with a set holding only img.
func (m *Manager) SetImage(img *Image) {
	m.SetImageData(SingleImageSet(img))
}

// AddDirtyRegions records changed parts of the source image. Never blocks.
func (m *Manager) AddDirtyRegions(regions ...region.Region) {
	m.dirty.Add(regions...)
}

// PollDirtyRegions returns and forgets the recorded regions, merged so that
// no two of them overlap.
func (m *Manager) PollDirtyRegions() []region.Region {
	return m.dirty.Poll()
}

// AddObserver registers o for change notifications.
func (m *Manager) AddObserver(o Observer) {
	m.listenMu.Lock()
	defer m.listenMu.Unlock()
	m.observers = append(slices.Clip(m.observers), o)
}

// RemoveObserver unregisters o.
func (m *Manager) RemoveObserver(o Observer) {
	m.listenMu.Lock()
	defer m.listenMu.Unlock()
	if i := slices.Index(m.observers, o); i >= 0 {
		m.observers = slices.Delete(slices.Clone(m.observers), i, i+1)
	}
}

// AddRequestCompleteListener registers fn to be called once for every
// fetch that ends, however it ends.
func (m *Manager) AddRequestCompleteListener(fn func(*Manager)) {
	m.listenMu.Lock()
	defer m.listenMu.Unlock()
	m.completes = append(slices.Clip(m.completes), fn)
}

// Watch subscribes to pushed imagery from an ObservableProvider. Pushed
// data replaces the cached imagery and its dirty regions are recorded.
func (m *Manager) Watch() error {
	op, ok := m.provider.(ObservableProvider)
	if !ok {
		if m.provider == nil {
			return ErrNoProvider
		}
		return ErrNotObservable
	}
	cancel := op.Observe(m.key, m.receive)

	m.listenMu.Lock()
	prev := m.unwatch
	m.unwatch = cancel
	m.listenMu.Unlock()

	if prev != nil {
		prev()
	}
	return nil
}

func (m *Manager) receive(data *Data) {
	if m.disposed.Load() {
		return
	}
	if m.hub != nil {
		m.hub.Forget(m.hubKey)
	}
	set, err := newImageSet(m.pool, data)
	if err != nil {
		tilecache.Logger().Warn("imagery: pushed image rejected", "image", m.identity, "err", err)
		return
	}
	if data != nil && len(data.Dirty) > 0 {
		m.dirty.Add(data.Dirty...)
	}
	m.SetImageData(set)
}

// Dispose stops watching, cancels any fetch and releases the cached
// imagery. The manager ignores further requests and pushes.
func (m *Manager) Dispose() {
	if !m.disposed.CompareAndSwap(false, true) {
		return
	}
	m.listenMu.Lock()
	unwatch := m.unwatch
	m.unwatch = nil
	m.listenMu.Unlock()
	if unwatch != nil {
		unwatch()
	}
	m.CancelRequest(true)
}

// Disposed reports whether Dispose has been called.
func (m *Manager) Disposed() bool {
	return m.disposed.Load()
}
