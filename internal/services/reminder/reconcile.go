package reminder

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"memenote/internal/storage"
	logx "memenote/pkg/logx"
)

// ReconcilerConfig controls the sweep that re-arms trigger tasks lost to
// queue unavailability at CRUD time.
type ReconcilerConfig struct {
	Schedule string // cron spec or descriptor, default "@every 1m"
	Batch    int
}

func (c ReconcilerConfig) withDefaults() ReconcilerConfig {
	if c.Schedule == "" {
		c.Schedule = "@every 1m"
	}
	if c.Batch <= 0 {
		c.Batch = 500
	}
	return c
}

// Reconciler periodically scans untriggered reminders and resubmits a
// trigger task for any without a pending one. Because the trigger key is
// deterministic, re-arming an already-armed reminder would merely supersede
// an identical schedule, so the pending check is an optimization, not a
// correctness requirement.
type Reconciler struct {
	store storage.Store
	queue TaskQueue
	log   logx.Logger
	cfg   ReconcilerConfig

	c     *cron.Cron
	entry cron.EntryID
}

func NewReconciler(cfg ReconcilerConfig, store storage.Store, queue TaskQueue, log logx.Logger) *Reconciler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reconciler{store: store, queue: queue, log: log, cfg: cfg.withDefaults()}
}

func (r *Reconciler) Start() error {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	r.c = cron.New(cron.WithParser(parser))
	id, err := r.c.AddFunc(r.cfg.Schedule, r.sweep)
	if err != nil {
		return err
	}
	r.entry = id
	r.c.Start()
	r.log.Info("reconciler started", logx.String("schedule", r.cfg.Schedule))
	return nil
}

func (r *Reconciler) Stop(ctx context.Context) {
	if r.c == nil {
		return
	}
	select {
	case <-r.c.Stop().Done():
	case <-ctx.Done():
	}
}

func (r *Reconciler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rems, err := r.store.ListUntriggered(ctx, r.cfg.Batch)
	if err != nil {
		r.log.Warn("reconcile scan failed", logx.Err(err))
		return
	}

	rearmed := 0
	for _, rem := range rems {
		pending, err := r.store.PendingTask(ctx, string(KindTrigger), TriggerKey(rem.ID))
		if err != nil {
			r.log.Warn("reconcile pending check failed",
				logx.String("reminder_id", rem.ID), logx.Err(err))
			continue
		}
		if pending {
			continue
		}
		if err := submitTrigger(ctx, r.queue, r.log, rem); err != nil {
			// Queue still down; the next sweep retries.
			continue
		}
		rearmed++
	}
	if rearmed > 0 {
		r.log.Info("reconciler re-armed triggers", logx.Int("count", rearmed))
	}
}
