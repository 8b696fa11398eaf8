package election

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"campusvote/internal/queue"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	svc   *Service
	store *MemoryStore
	clock *fakeClock
	q     *queue.InMemory
}

func newFixture(t *testing.T, opts ...func(*Options)) *fixture {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	q := queue.NewInMemory(4096)
	o := Options{
		Clock:     clock,
		Publisher: q,
		Logger:    zaptest.NewLogger(t),
	}
	for _, fn := range opts {
		fn(&o)
	}
	st := NewMemoryStore()
	return &fixture{
		t:     t,
		ctx:   context.Background(),
		svc:   NewService(st, o),
		store: st,
		clock: clock,
		q:     q,
	}
}

func (f *fixture) position(name string, limit int) Position {
	f.t.Helper()
	p, err := f.svc.CreatePosition(f.ctx, PositionInput{Name: name, VoteLimit: limit})
	require.NoError(f.t, err)
	return p
}

func (f *fixture) candidate(p Position, name string) Candidate {
	f.t.Helper()
	c, err := f.svc.CreateCandidate(f.ctx, CandidateInput{Name: name, PositionID: p.ID})
	require.NoError(f.t, err)
	return c
}

func (f *fixture) voter(studentID string) Voter {
	f.t.Helper()
	v, err := f.svc.RegisterVoter(f.ctx, VoterInput{
		Name:      "Student " + studentID,
		Email:     studentID + "@campus.test",
		StudentID: studentID,
		Password:  "pw-" + studentID,
	})
	require.NoError(f.t, err)
	return v
}

// pending creates an election open from one hour ago to one hour ahead with
// positions attached.
func (f *fixture) pending(positions ...Position) ElectionView {
	f.t.Helper()
	ids := make([]string, 0, len(positions))
	for _, p := range positions {
		ids = append(ids, p.ID)
	}
	now := f.clock.Now()
	e, err := f.svc.CreateElection(f.ctx, NewElection{
		Title:       "Student Council",
		StartsAt:    now.Add(-time.Hour),
		EndsAt:      now.Add(time.Hour),
		CreatedBy:   "admin",
		PositionIDs: ids,
	})
	require.NoError(f.t, err)
	return e
}

// active creates a pending election, attaches candidates and activates it.
func (f *fixture) active(positions []Position, candidates ...Candidate) ElectionView {
	f.t.Helper()
	e := f.pending(positions...)
	for _, c := range candidates {
		require.NoError(f.t, f.svc.AttachCandidate(f.ctx, e.ID, c.ID))
	}
	view, err := f.svc.Activate(f.ctx, e.ID, false)
	require.NoError(f.t, err)
	return view
}

func (f *fixture) vote(e ElectionView, v Voter, c Candidate) error {
	_, err := f.svc.CastVote(f.ctx, CastVoteRequest{
		ElectionID:  e.ID,
		VoterID:     v.ID,
		PositionID:  c.PositionID,
		CandidateID: c.ID,
	})
	return err
}

// drain returns the types of every queued message.
func (f *fixture) drain() []string {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	ch, _ := f.q.Consume(ctx)
	var types []string
	for msg := range ch {
		types = append(types, msg.Type)
	}
	return types
}

// gateStore blocks every Update until release is closed or ctx ends.
type gateStore struct {
	Store
	entered chan struct{}
	release chan struct{}
}

func newGateStore(inner Store) *gateStore {
	return &gateStore{Store: inner, entered: make(chan struct{}, 16), release: make(chan struct{})}
}

func (g *gateStore) Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	g.entered <- struct{}{}
	select {
	case <-g.release:
	case <-ctx.Done():
		return fmt.Errorf("gate: %w", ctx.Err())
	}
	return g.Store.Update(ctx, fn)
}
