package watch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"campusvote/internal/election"
)

// Source is the part of the election service the watcher needs.
type Source interface {
	GetActiveElection(ctx context.Context) (election.ElectionView, bool, error)
	Publish(ctx context.Context, typ string, evt election.Event)
}

// Expiry periodically reports an active election whose end time has passed.
// It only announces; the stored status is left for an admin to stop.
type Expiry struct {
	src     Source
	logger  *zap.Logger
	timeout time.Duration
	cron    *cron.Cron

	mu        sync.Mutex
	announced map[string]struct{}
}

// NewExpiry creates a watcher. Call Start to schedule it.
func NewExpiry(src Source, logger *zap.Logger) *Expiry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Expiry{
		src:       src,
		logger:    logger,
		timeout:   10 * time.Second,
		cron:      cron.New(),
		announced: make(map[string]struct{}),
	}
}

// Start schedules Check with a standard cron spec or a descriptor such as
// "@every 1m".
func (w *Expiry) Start(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid expiry schedule %q: %w", spec, err)
	}
	if _, err := w.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()
		if _, err := w.Check(ctx); err != nil {
			w.logger.Warn("expiry check failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}
	w.cron.Start()
	w.logger.Info("expiry watcher started", zap.String("schedule", spec))
	return nil
}

// Stop halts scheduling and waits for a running check.
func (w *Expiry) Stop() {
	<-w.cron.Stop().Done()
}

// Check publishes election.expired the first time it sees the current
// election expired. It reports whether it published.
func (w *Expiry) Check(ctx context.Context) (bool, error) {
	view, ok, err := w.src.GetActiveElection(ctx)
	if err != nil || !ok || !view.Expired {
		return false, err
	}

	w.mu.Lock()
	_, seen := w.announced[view.ID]
	w.announced[view.ID] = struct{}{}
	w.mu.Unlock()
	if seen {
		return false, nil
	}

	w.logger.Warn("election voting window closed while active",
		zap.String("election_id", view.ID),
		zap.Time("ends_at", view.EndsAt),
	)
	w.src.Publish(ctx, election.EventElectionExpired, election.Event{
		ElectionID: view.ID,
		From:       view.Status,
		To:         election.StatusActiveExpired,
	})
	return true, nil
}
