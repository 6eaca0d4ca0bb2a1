package taskqueue

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"memenote/internal/eventbus"
	"memenote/internal/storage"
	logx "memenote/pkg/logx"
)

func (s *Service) poll(ctx context.Context, stopCh <-chan struct{}, queue chan<- *storage.ClaimedTask) {
	ticker := time.NewTicker(s.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		cfg := s.cfg
		s.mu.Unlock()
		ticker.Reset(cfg.PollInterval)

		claimed, err := s.store.ClaimDue(ctx, time.Now(), cfg.ClaimBatch, cfg.Lease)
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warn("claim due tasks failed", logx.Err(err))
			}
			continue
		}
		for _, t := range claimed {
			// Blocking send: claimed rows are leased, so backpressure here just
			// delays them; a crash re-delivers after the lease expires.
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case queue <- t:
			}
		}
	}
}

func (s *Service) pollInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.PollInterval
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan *storage.ClaimedTask, idx int) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t := <-queue:
			if t != nil {
				s.execOne(ctx, stopCh, t)
			}
		}
	}
}

func (s *Service) execOne(ctx context.Context, stopCh <-chan struct{}, ct *storage.ClaimedTask) {
	start := time.Now()
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: "task.started", Time: start,
			Data: TaskEvent{Kind: ct.Kind, Key: ct.Key, Started: start}})
	}

	s.mu.Lock()
	cfg := s.cfg
	h := s.handlers[Kind(ct.Kind)]
	s.mu.Unlock()

	task := Task{
		Kind:     Kind(ct.Kind),
		Key:      ct.Key,
		Payload:  ct.Payload,
		RunAt:    ct.RunAt,
		Attempts: ct.Attempts,
	}

	var err error
	attempts := 0
	if h == nil {
		// Without a handler the row would be re-delivered forever; consume it.
		err = ErrNoHandler
		s.log.Error("task has no handler; dropping",
			logx.String("kind", ct.Kind), logx.String("key", ct.Key))
	} else {
		maxAttempts := 1 + cfg.RetryMax
	attemptLoop:
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			attempts = attempt
			// Per-attempt timeout (so a timed-out first attempt doesn't poison retries).
			runCtx := ctx
			var cancel func()
			if cfg.DefaultTimeout > 0 {
				runCtx, cancel = context.WithTimeout(ctx, cfg.DefaultTimeout)
			}
			err = h(runCtx, task)
			if cancel != nil {
				cancel()
			}
			if err == nil || attempt >= maxAttempts {
				break
			}

			delay := backoffDelay(attempt)
			s.log.Debug("task retry scheduled",
				logx.String("kind", ct.Kind), logx.String("key", ct.Key),
				logx.Int("attempt", attempt+1), logx.Duration("delay", delay), logx.Err(err))
			tmr := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				if !tmr.Stop() {
					<-tmr.C
				}
				err = ctx.Err()
				break attemptLoop
			case <-stopCh:
				if !tmr.Stop() {
					<-tmr.C
				}
				err = ErrStopped
				break attemptLoop
			case <-tmr.C:
			}
		}
	}

	// A shutdown mid-flight gives the row back (lease dropped, next poll
	// re-delivers); any decided outcome consumes it. Both are
	// generation-guarded: if the task was superseded while we ran, the new
	// row survives untouched.
	fctx, fcancel := context.WithTimeout(context.Background(), 5*time.Second)
	if errors.Is(err, ErrStopped) || ctx.Err() != nil {
		if rerr := s.store.ReleaseTask(fctx, ct.ID, ct.Ver); rerr != nil {
			s.log.Warn("task release failed; row re-delivers after lease expiry",
				logx.String("kind", ct.Kind), logx.String("key", ct.Key), logx.Err(rerr))
		}
	} else if ferr := s.store.FinishTask(fctx, ct.ID, ct.Ver); ferr != nil {
		s.log.Warn("task finish failed; row will be re-delivered",
			logx.String("kind", ct.Kind), logx.String("key", ct.Key), logx.Err(ferr))
	}
	fcancel()

	dur := time.Since(start)
	item := HistoryItem{Kind: ct.Kind, Key: ct.Key, Started: start, Duration: dur}
	if err != nil {
		item.Error = err.Error()
		s.log.Warn("task failed",
			logx.String("kind", ct.Kind), logx.String("key", ct.Key),
			logx.Err(err), logx.Duration("dur", dur), logx.Int("attempts", attempts))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: "task.failed", Time: time.Now(),
				Data: TaskEvent{Kind: ct.Kind, Key: ct.Key, Started: start, Duration: dur, Attempts: attempts, Error: item.Error}})
		}
	} else {
		s.log.Debug("task completed",
			logx.String("kind", ct.Kind), logx.String("key", ct.Key),
			logx.Duration("dur", dur), logx.Int("attempts", attempts))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: "task.finished", Time: time.Now(),
				Data: TaskEvent{Kind: ct.Kind, Key: ct.Key, Started: start, Duration: dur, Attempts: attempts}})
		}
	}

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > cfg.HistorySize {
		s.history = s.history[len(s.history)-cfg.HistorySize:]
	}
	s.hmu.Unlock()
}

func backoffDelay(retry int) time.Duration {
	const (
		base     = 500 * time.Millisecond
		maxDelay = 15 * time.Second
		jitter   = 0.2
	)
	d := base
	for i := 1; i < retry; i++ {
		d *= 2
		if d > maxDelay {
			d = maxDelay
			break
		}
	}
	// jitter [1-j, 1+j]
	r := (randFloat64()*2 - 1) * jitter
	d = time.Duration(float64(d) * (1 + r))
	if d < 0 {
		d = 0
	}
	if d > maxDelay {
		d = maxDelay
	}
	return d
}

var rngMu sync.Mutex

func randFloat64() float64 {
	rngMu.Lock()
	defer rngMu.Unlock()
	return rand.Float64()
}
