package netmgr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hydraworks/netmgr/internal/pool"
)

// Config carries the manager knobs named in spec.md §3 (TCP timeout
// quartet, quota, buffer sizing, worker count). internal/config loads one
// of these from flags/file/env; NewManager also accepts a zero-value
// Config and fills in DefaultConfig's values for anything left unset.
type Config struct {
	WorkerCount int

	QueueCapacity int

	TCPInitialTimeout   time.Duration
	TCPIdleTimeout      time.Duration
	TCPKeepaliveTimeout time.Duration
	TCPAdvertisedTimeout time.Duration

	MaxUDPPayload int

	RecvBufferSize int
	SendBufferSize int

	QuotaLimit int64

	Logger *slog.Logger
	Stats  *Stats
}

// DefaultConfig returns the manager defaults, matching the teacher's
// setDefaults pattern in internal/config/config.go.
func DefaultConfig() Config {
	return Config{
		WorkerCount:          4,
		QueueCapacity:        256,
		TCPInitialTimeout:    30 * time.Second,
		TCPIdleTimeout:       5 * time.Minute,
		TCPKeepaliveTimeout:  30 * time.Second,
		TCPAdvertisedTimeout: 30 * time.Second,
		MaxUDPPayload:        4096,
		RecvBufferSize:       recvBufferSize,
		SendBufferSize:       sendBufferSize,
		QuotaLimit:           10000,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WorkerCount <= 0 {
		c.WorkerCount = d.WorkerCount
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = d.QueueCapacity
	}
	if c.TCPInitialTimeout <= 0 {
		c.TCPInitialTimeout = d.TCPInitialTimeout
	}
	if c.TCPIdleTimeout <= 0 {
		c.TCPIdleTimeout = d.TCPIdleTimeout
	}
	if c.TCPKeepaliveTimeout <= 0 {
		c.TCPKeepaliveTimeout = d.TCPKeepaliveTimeout
	}
	if c.TCPAdvertisedTimeout <= 0 {
		c.TCPAdvertisedTimeout = d.TCPAdvertisedTimeout
	}
	if c.MaxUDPPayload <= 0 {
		c.MaxUDPPayload = d.MaxUDPPayload
	}
	if c.RecvBufferSize <= 0 {
		c.RecvBufferSize = d.RecvBufferSize
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = d.SendBufferSize
	}
	if c.QuotaLimit <= 0 {
		c.QuotaLimit = d.QuotaLimit
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Stats == nil {
		c.Stats = newStats()
	}
	return c
}

// Manager is the top-level network-manager object of spec.md §3. It owns a
// fixed set of Workers, the pause/resume barrier across them, and the
// manager-wide event/uvreq pools.
type Manager struct {
	cfg     Config
	logger  *slog.Logger
	stats   *Stats
	quota   *quota
	workers []*Worker

	workerWG sync.WaitGroup

	eventPool *pool.Pool[*event]
	reqPool   *pool.Pool[*uvreq]

	// interlocked is the pause/resume mutex substitute of spec.md §5's
	// glossary entry: -1 means unheld; while Pause or Resume runs its
	// critical section it holds len(workers), a value no worker id takes.
	interlocked atomic.Int32

	pauseMu    sync.Mutex
	pausing    *sync.Cond
	resuming   *sync.Cond
	pausedN  int
	isPaused bool

	shutdown   atomic.Bool
	shutdownCh chan struct{}
	destroyed  atomic.Bool

	// refs is spec.md §3's manager-level refcount: separate from any
	// socket or handle's own refcount, it tracks callers holding a
	// long-lived reference into the manager itself (e.g. an embedder that
	// wants to know when it is safe to drop its last pointer to a
	// Manager). NewManager's own construction counts as the first
	// reference; Attach/Detach adjust it from there.
	refs atomic.Int32
}

// NewManager constructs a Manager and starts its worker loop goroutines.
// Grounded on the teacher's internal/server "NewServer" construction
// pattern: validate/fill config, build dependent objects, spin up the
// fixed goroutine pool, return ready to use.
func NewManager(cfg Config) (*Manager, error) {
	cfg = cfg.withDefaults()
	if cfg.WorkerCount < 1 {
		return nil, fmt.Errorf("netmgr: worker count must be positive, got %d", cfg.WorkerCount)
	}

	m := &Manager{
		cfg:        cfg,
		logger:     cfg.Logger,
		stats:      cfg.Stats,
		quota:      newQuota(cfg.QuotaLimit),
		shutdownCh: make(chan struct{}),
	}
	m.interlocked.Store(-1)
	m.refs.Store(1)
	m.pausing = sync.NewCond(&m.pauseMu)
	m.resuming = sync.NewCond(&m.pauseMu)

	m.eventPool = pool.New(func() *event { return &event{} })
	m.reqPool = pool.New(func() *uvreq { return &uvreq{} })

	m.workers = make([]*Worker, cfg.WorkerCount)
	for i := range m.workers {
		m.workers[i] = newWorker(m, i, cfg.QueueCapacity)
	}
	m.workerWG.Add(len(m.workers))
	for _, w := range m.workers {
		go w.loop()
	}

	m.logger.Info("netmgr manager created", "workers", cfg.WorkerCount, "queue_capacity", cfg.QueueCapacity)
	return m, nil
}

// Stats returns the manager's live counters.
func (m *Manager) Stats() *Stats { return m.stats }

// Attach implements spec.md §3's manager-level attach: callers that hold a
// long-lived reference into the manager beyond their own call stack (a
// background job, an embedder's supervisor goroutine) take one of these.
func (m *Manager) Attach() { m.refs.Add(1) }

// Detach releases a reference taken by Attach.
func (m *Manager) Detach() { m.refs.Add(-1) }

// References reports the manager's current outstanding-reference count,
// for diagnostics and tests.
func (m *Manager) References() int32 { return m.refs.Load() }

// ActiveConnections returns a non-owning snapshot of every live
// connection's handle (spec.md §4.3's statichandle use case: diagnostics
// enumeration and log lines without perturbing any handle's refcount).
func (m *Manager) ActiveConnections() []statichandle {
	var out []statichandle
	for _, w := range m.workers {
		w.mu.Lock()
		for s := range w.sockets {
			if s.kind == socketKindTLSDNSConn && s.handle != nil {
				out = append(out, staticRefOf(s.handle))
			}
		}
		w.mu.Unlock()
	}
	return out
}

// WorkerCount returns the number of workers this manager was created with.
func (m *Manager) WorkerCount() int { return len(m.workers) }

// QueueDepths returns the approximate backlog of every worker's four
// queues, for internal/diag's /stats endpoint.
func (m *Manager) QueueDepths() []QueueDepths {
	out := make([]QueueDepths, len(m.workers))
	for i, w := range m.workers {
		out[i] = w.queueDepths()
	}
	return out
}

func (m *Manager) allocEvent() *event {
	ev := m.eventPool.Get()
	ev.reset()
	return ev
}

func (m *Manager) freeEvent(ev *event) {
	if ev.done != nil {
		close(ev.done)
		ev.done = nil
	}
	m.eventPool.Put(ev)
}

// workerByID picks a worker deterministically (round robin by socket
// affinity elsewhere); exposed for tests.
func (m *Manager) workerByID(id int) *Worker { return m.workers[id%len(m.workers)] }

// Pause implements spec.md §4.1/§5's isc_nm_pause: must be invoked from
// outside any worker loop (tid == noTID is not required by the original,
// but this port additionally forbids calling Pause from worker 0's own
// loop per the [SUPPLEMENT] note, since that would deadlock waiting on
// its own pause barrier).
func (m *Manager) Pause(ctx context.Context) error {
	if tid := tidFromContext(ctx); tid != noTID && tid != 0 {
		return ErrNotWorker0
	}

	m.pauseMu.Lock()
	if m.isPaused {
		m.pauseMu.Unlock()
		return ErrAlreadyPaused
	}
	m.pauseMu.Unlock()

	if !m.interlocked.CompareAndSwap(-1, int32(len(m.workers))) {
		return ErrAlreadyPaused
	}
	defer m.interlocked.Store(-1)

	m.pauseMu.Lock()
	m.pausedN = 0
	m.pauseMu.Unlock()

	for _, w := range m.workers {
		ev := m.allocEvent()
		ev.kind = evPause
		w.priorityQ.push(ev)
	}

	m.pauseMu.Lock()
	for m.pausedN < len(m.workers) {
		m.pausing.Wait()
	}
	m.isPaused = true
	m.pauseMu.Unlock()

	m.logger.Debug("netmgr manager paused")
	return nil
}

// Resume implements spec.md §4.1/§5's isc_nm_resume.
func (m *Manager) Resume(ctx context.Context) error {
	if tid := tidFromContext(ctx); tid != noTID && tid != 0 {
		return ErrNotWorker0
	}
	if !m.interlocked.CompareAndSwap(-1, int32(len(m.workers))) {
		return ErrAlreadyPaused
	}
	defer m.interlocked.Store(-1)

	m.pauseMu.Lock()
	if !m.isPaused {
		m.pauseMu.Unlock()
		return ErrNotPaused
	}
	m.pauseMu.Unlock()

	for _, w := range m.workers {
		ev := m.allocEvent()
		ev.kind = evResume
		w.priorityQ.push(ev)
	}

	m.pauseMu.Lock()
	for m.pausedN > 0 {
		m.resuming.Wait()
	}
	m.isPaused = false
	m.pauseMu.Unlock()

	m.logger.Debug("netmgr manager resumed")
	return nil
}

func (m *Manager) workerReportsPaused() {
	m.pauseMu.Lock()
	m.pausedN++
	m.pausing.Broadcast()
	m.pauseMu.Unlock()
}

func (m *Manager) workerReportsResumed() {
	m.pauseMu.Lock()
	m.pausedN--
	m.resuming.Broadcast()
	m.pauseMu.Unlock()
}

// Shutdown implements spec.md §3/§4's shutdown flag: sets the flag (read
// by socket accept/connect paths to refuse new work) and wakes every
// worker with an evShutdown priority event so in-flight sockets begin
// graceful close.
func (m *Manager) Shutdown() {
	if !m.shutdown.CompareAndSwap(false, true) {
		return
	}
	close(m.shutdownCh)
	for _, w := range m.workers {
		ev := m.allocEvent()
		ev.kind = evShutdown
		w.priorityQ.push(ev)
	}
	m.logger.Info("netmgr manager shutdown requested")
}

func (m *Manager) isShutdown() bool { return m.shutdown.Load() }

// Destroy implements spec.md §9 Open Question 1's resolution: a single
// priority-queue drain per worker rather than the original's double
// drain. The drain is performed by each worker's own loop goroutine, not
// by the caller, since spec invariant 1 forbids any other goroutine from
// touching a worker's queues beyond pushing to them: Destroy pushes one
// evStop per worker and relies on channel FIFO ordering to guarantee
// every priority event already queued ahead of it (including any
// in-flight evShutdown) is drained exactly once before the worker's loop
// observes the stop and exits.
func (m *Manager) Destroy(ctx context.Context) error {
	if !m.destroyed.CompareAndSwap(false, true) {
		return ErrShutdown
	}
	m.Shutdown()

	for _, w := range m.workers {
		ev := m.allocEvent()
		ev.kind = evStop
		w.priorityQ.push(ev)
	}

	m.workerWG.Wait()

	for _, w := range m.workers {
		if d := w.privilegedQ.len() + w.taskQ.len(); d != 0 {
			m.logger.Warn("netmgr worker destroyed with non-empty queues", "worker", w.id, "backlog", d)
		}
	}

	m.logger.Info("netmgr manager destroyed")
	return nil
}
