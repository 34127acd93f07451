package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/makeasinger/videoagent/internal/config"
)

// Purger removes terminal tasks last updated before cutoff
type Purger interface {
	PurgeTerminal(cutoff time.Time) int
}

// Reaper drops finished tasks once they are older than the retention window
type Reaper struct {
	cron   *cron.Cron
	store  Purger
	maxAge time.Duration
	logger *zap.Logger
	now    func() time.Time
}

func NewReaper(st Purger, cfg config.RetentionConfig, logger *zap.Logger) (*Reaper, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reaper{
		cron:   cron.New(),
		store:  st,
		maxAge: cfg.MaxAge,
		logger: logger.Named("reaper"),
		now:    time.Now,
	}
	if _, err := r.cron.AddFunc(cfg.Schedule, func() { r.Sweep() }); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", cfg.Schedule, err)
	}
	return r, nil
}

func (r *Reaper) Start() {
	r.cron.Start()
}

// Stop waits for a running sweep to finish or ctx to end
func (r *Reaper) Stop(ctx context.Context) {
	select {
	case <-r.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Sweep purges once and returns how many tasks were removed. A zero max age
// keeps everything.
func (r *Reaper) Sweep() int {
	if r.maxAge <= 0 {
		return 0
	}
	n := r.store.PurgeTerminal(r.now().Add(-r.maxAge))
	if n > 0 {
		r.logger.Info("purged finished tasks", zap.Int("count", n), zap.Duration("max_age", r.maxAge))
	}
	return n
}
