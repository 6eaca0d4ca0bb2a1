package taskqueue

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"memenote/internal/eventbus"
	"memenote/internal/storage"
	logx "memenote/pkg/logx"
)

// Service executes durable tasks from the store using a poller and a worker
// pool. It is panic-safe (worker goroutines recover) and cooperates with
// shutdown via Start/Stop.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store
	cfg   Config

	handlers map[Kind]Handler

	queue     chan *storage.ClaimedTask
	stopCh    chan struct{}
	stopDone  chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, store storage.Store, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg.withDefaults(),
		store:    store,
		log:      log,
		bus:      bus,
		handlers: map[Kind]Handler{},
	}
}

// Register installs the handler invoked for tasks of the given kind.
// Handlers must be registered before Start.
func (s *Service) Register(kind Kind, h Handler) {
	s.mu.Lock()
	s.handlers[kind] = h
	s.mu.Unlock()
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
	// Note: live pool resizing is out of scope; workers/queue apply on restart.
}

// Submit stores (or supersedes) a task. runAt may be zero for immediately
// due tasks. A failure is reported as ErrUnavailable: the caller's own
// record remains the source of truth and scheduling can be reconciled later.
func (s *Service) Submit(ctx context.Context, kind Kind, key string, payload []byte, runAt time.Time) error {
	if err := s.store.UpsertTask(ctx, string(kind), key, payload, runAt); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.log.Debug("task submitted",
		logx.String("kind", string(kind)), logx.String("key", key), logx.Time("run_at", runAt))
	return nil
}

// Cancel removes a pending task. It is advisory: an instance already claimed
// by a worker may still run, so handlers must re-validate against current
// state. A cancel error is therefore logged, never propagated as a failure.
func (s *Service) Cancel(ctx context.Context, kind Kind, key string) error {
	if err := s.store.CancelTask(ctx, string(kind), key); err != nil {
		s.log.Warn("task cancel failed",
			logx.String("kind", string(kind)), logx.String("key", key), logx.Err(err))
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.log.Debug("task cancelled", logx.String("kind", string(kind)), logx.String("key", key))
	return nil
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()
	s.log.Debug("start requested",
		logx.Int("workers", cur.Workers), logx.Duration("poll_interval", cur.PollInterval))

	// If a Stop() is in progress, wait for it to complete (prevents double worker pools).
	for {
		s.mu.Lock()
		if s.stopCh == nil {
			break
		}
		done := s.stopDone
		if done == nil {
			// already running
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		select {
		case <-done:
			// loop
		case <-ctx.Done():
			return
		}
	}
	defer s.mu.Unlock()

	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	cfg := s.cfg
	// Fresh queue per run to avoid executing stale items after a stop/start toggle.
	s.queue = make(chan *storage.ClaimedTask, cfg.QueueSize)

	runCtx := s.runCtx
	stopCh := s.stopCh
	queue := s.queue

	s.workerWG.Add(cfg.Workers + 1)
	for i := 0; i < cfg.Workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in taskqueue worker",
						logx.Int("worker", idx), logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())))
				}
			}()
			s.worker(runCtx, stopCh, queue, idx)
		}()
	}
	go func() {
		defer s.workerWG.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in taskqueue poller",
					logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		s.poll(runCtx, stopCh, queue)
	}()

	s.log.Info("service started",
		logx.Int("workers", cfg.Workers),
		logx.Duration("poll_interval", cfg.PollInterval),
		logx.Duration("lease", cfg.Lease))
}

func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}

	done := make(chan struct{})
	s.stopDone = done
	stopCh := s.stopCh
	cancel := s.runCancel
	s.runCancel = nil
	s.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}

	go func() {
		s.workerWG.Wait()
		s.mu.Lock()
		s.stopCh = nil
		s.runCtx = nil
		s.queue = nil
		s.stopDone = nil
		s.mu.Unlock()
		close(done)
		s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
	}()

	select {
	case <-done:
		return
	case <-ctx.Done():
		// stop continues in background
		return
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	ql, qc := 0, 0
	if s.queue != nil {
		ql = len(s.queue)
		qc = cap(s.queue)
	}
	s.mu.Unlock()

	s.hmu.Lock()
	hist := make([]HistoryItem, len(s.history))
	copy(hist, s.history)
	s.hmu.Unlock()

	return Snapshot{
		Workers:        cfg.Workers,
		QueueLen:       ql,
		QueueCap:       qc,
		DefaultTimeout: cfg.DefaultTimeout,
		RetryMax:       cfg.RetryMax,
		History:        hist,
	}
}
