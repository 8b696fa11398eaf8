package election

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"campusvote/internal/queue"
)

// Publisher receives events after their transaction commits.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Options configures a Service. Zero values select defaults.
type Options struct {
	Clock         Clock
	Publisher     Publisher
	Metrics       *Metrics
	Logger        *zap.Logger
	MaxInFlight   int64
	TxTimeout     time.Duration
	AdmissionWait time.Duration
}

// Service owns ballot composition, the election state machine, vote casting
// and tallying.
type Service struct {
	store     Store
	clock     Clock
	events    Publisher
	metrics   *Metrics
	logger    *zap.Logger
	admission *semaphore.Weighted
	txTimeout time.Duration
	admitWait time.Duration
}

// NewService creates a service backed by store.
func NewService(store Store, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 32
	}
	if opts.TxTimeout <= 0 {
		opts.TxTimeout = 5 * time.Second
	}
	if opts.AdmissionWait <= 0 {
		opts.AdmissionWait = 250 * time.Millisecond
	}
	return &Service{
		store:     store,
		clock:     opts.Clock,
		events:    opts.Publisher,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		admission: semaphore.NewWeighted(opts.MaxInFlight),
		txTimeout: opts.TxTimeout,
		admitWait: opts.AdmissionWait,
	}
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

// update runs fn as one write transaction under admission control and the
// transaction timeout.
func (s *Service) update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	admitCtx, cancelAdmit := context.WithTimeout(ctx, s.admitWait)
	err := s.admission.Acquire(admitCtx, 1)
	cancelAdmit()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return wrap(ErrUnavailable, "too many transactions in flight")
	}
	defer s.admission.Release(1)

	txCtx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()
	return timeoutErr(txCtx, s.store.Update(txCtx, fn))
}

func (s *Service) view(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	txCtx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()
	return timeoutErr(txCtx, s.store.View(txCtx, fn))
}

// timeoutErr turns an expired transaction deadline into ErrTimeout so callers
// can tell it apart from a cancelled request.
func timeoutErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return wrap(ErrTimeout, "transaction did not complete in time: %v", err)
	}
	return err
}

// Event types published to the queue.
const (
	EventElectionCreated      = "election.created"
	EventElectionTransitioned = "election.transitioned"
	EventBallotChanged        = "ballot.changed"
	EventVoteCast             = "vote.cast"
	EventElectionExpired      = "election.expired"
)

// Event is the JSON body of every published message.
type Event struct {
	ElectionID string    `json:"election_id"`
	From       Status    `json:"from,omitempty"`
	To         Status    `json:"to,omitempty"`
	PositionID string    `json:"position_id,omitempty"`
	VoterID    string    `json:"voter_id,omitempty"`
	Votes      int       `json:"votes,omitempty"`
	At         time.Time `json:"at"`
}

// DecodeEvent parses the body of a message produced by Publish.
func DecodeEvent(msg queue.Message) (Event, error) {
	var evt Event
	err := json.Unmarshal(msg.Body, &evt)
	return evt, err
}

func (s *Service) publish(ctx context.Context, typ string, evt Event) {
	if s.events == nil {
		return
	}
	body, err := json.Marshal(evt)
	if err != nil {
		s.logger.Error("encode event failed", zap.String("type", typ), zap.Error(err))
		return
	}
	if err := s.events.Publish(ctx, queue.Message{Type: typ, Body: body}); err != nil {
		s.logger.Warn("queue publish failed",
			zap.String("type", typ),
			zap.String("election_id", evt.ElectionID),
			zap.Error(err),
		)
	}
}

// Publish sends an event on behalf of collaborators such as the expiry watcher.
func (s *Service) Publish(ctx context.Context, typ string, evt Event) {
	if evt.At.IsZero() {
		evt.At = s.now()
	}
	s.publish(ctx, typ, evt)
}

func (s *Service) viewOf(e Election) ElectionView {
	now := s.now()
	return ElectionView{Election: e, DerivedStatus: e.DerivedStatus(now), Expired: e.Expired(now)}
}
