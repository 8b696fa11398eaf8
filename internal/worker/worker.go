package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"campusvote/internal/election"
	"campusvote/internal/queue"
)

// TallySource computes a fresh tally.
type TallySource interface {
	Tally(ctx context.Context, electionID string) (election.Tally, error)
}

// TallySink stores a computed tally.
type TallySink interface {
	Put(ctx context.Context, t election.Tally) error
}

// Refresher consumes the event feed and keeps the tally cache current.
// Elections named by events are marked dirty and recomputed at most once per
// flush interval.
type Refresher struct {
	q      queue.Queue
	src    TallySource
	sink   TallySink
	logger *zap.Logger
	every  time.Duration
	dirty  map[string]struct{}
}

// NewRefresher creates a refresher. sink may be nil, in which case events
// are only logged.
func NewRefresher(q queue.Queue, src TallySource, sink TallySink, logger *zap.Logger, every time.Duration) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if every <= 0 {
		every = 500 * time.Millisecond
	}
	return &Refresher{q: q, src: src, sink: sink, logger: logger, every: every, dirty: map[string]struct{}{}}
}

// Run blocks until ctx is done or the queue closes.
func (r *Refresher) Run(ctx context.Context) error {
	messages, err := r.q.Consume(ctx)
	if err != nil {
		return err
	}
	ticker := time.NewTicker(r.every)
	defer ticker.Stop()

	r.logger.Info("event worker started")
	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				r.Flush(context.Background())
				r.logger.Info("event worker stopped")
				return ctx.Err()
			}
			r.Handle(msg)
		case <-ticker.C:
			r.Flush(ctx)
		}
	}
}

// Handle records one message.
func (r *Refresher) Handle(msg queue.Message) {
	evt, err := election.DecodeEvent(msg)
	if err != nil {
		r.logger.Warn("undecodable event", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	switch msg.Type {
	case election.EventElectionExpired:
		r.logger.Warn("election expired while active; stop it to finalize results", zap.String("election_id", evt.ElectionID))
	case election.EventElectionTransitioned:
		r.logger.Info("election transitioned",
			zap.String("election_id", evt.ElectionID),
			zap.String("from", string(evt.From)),
			zap.String("to", string(evt.To)),
		)
	default:
		r.logger.Debug("event", zap.String("type", msg.Type), zap.String("election_id", evt.ElectionID))
	}
	if evt.ElectionID != "" {
		r.dirty[evt.ElectionID] = struct{}{}
	}
}

// Flush recomputes every dirty election. Failed refreshes stay dirty unless
// the election no longer exists.
func (r *Refresher) Flush(ctx context.Context) {
	if r.sink == nil {
		clear(r.dirty)
		return
	}
	for id := range r.dirty {
		t, err := r.src.Tally(ctx, id)
		if err == nil {
			err = r.sink.Put(ctx, t)
		}
		if errors.Is(err, election.ErrNotFound) {
			delete(r.dirty, id)
			continue
		}
		if err != nil {
			r.logger.Warn("tally refresh failed", zap.String("election_id", id), zap.Error(err))
			if ctx.Err() != nil {
				return
			}
			continue
		}
		delete(r.dirty, id)
	}
}

// Pending reports how many elections await a refresh.
func (r *Refresher) Pending() int { return len(r.dirty) }
