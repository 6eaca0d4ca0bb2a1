package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"memenote/internal/services/taskqueue"
	logx "memenote/pkg/logx"
)

// Deliverer is the handler behind the notify task kind: it decodes the
// snapshot payload and pushes it to the sink, rate limited and with bounded
// retries. Decode failures are terminal (retrying cannot fix a malformed
// payload); sink failures surface to the queue's own retry policy on top of
// the local one here.
type Deliverer struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	sink Sink
	log  logx.Logger
}

func NewDeliverer(cfg Config, sink Sink, log logx.Logger) *Deliverer {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Deliverer{sink: sink, log: log}
	d.applyLocked(cfg)
	return d
}

func (d *Deliverer) Apply(cfg Config) {
	d.mu.Lock()
	d.applyLocked(cfg)
	d.mu.Unlock()
}

func (d *Deliverer) applyLocked(cfg Config) {
	cfg = cfg.withDefaults()
	d.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Handle implements the taskqueue handler contract for notify tasks.
func (d *Deliverer) Handle(ctx context.Context, t taskqueue.Task) error {
	var p Payload
	if err := json.Unmarshal(t.Payload, &p); err != nil {
		d.log.Error("notify payload malformed; dropping",
			logx.String("key", t.Key), logx.Err(err))
		return nil
	}

	d.mu.Lock()
	lim := d.limiter
	cfg := d.cfg
	d.mu.Unlock()

	if err := lim.Wait(ctx); err != nil {
		return err
	}

	var last error
	for i := 0; i <= cfg.RetryMax; i++ {
		err := d.sink.Deliver(ctx, p)
		if err == nil {
			d.log.Debug("notification delivered",
				logx.String("action", string(p.Action)),
				logx.String("reminder_id", p.ReminderID))
			return nil
		}
		last = err
		if i == cfg.RetryMax {
			break
		}
		delay := cfg.RetryBase * time.Duration(1<<i)
		if delay > cfg.RetryMaxDelay {
			delay = cfg.RetryMaxDelay
		}
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			return ctx.Err()
		case <-tmr.C:
		}
	}
	return fmt.Errorf("deliver %s notification for reminder %s: %w", p.Action, p.ReminderID, last)
}
