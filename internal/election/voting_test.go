package election

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleChoicePosition(t *testing.T) {
	f := newFixture(t)
	pres := f.position("President", 1)
	ada := f.candidate(pres, "Ada")
	bob := f.candidate(pres, "Bob")
	v := f.voter("s1")
	e := f.active([]Position{pres}, ada, bob)

	require.NoError(t, f.vote(e, v, ada))
	assert.ErrorIs(t, f.vote(e, v, ada), ErrDuplicateSelection)
	assert.ErrorIs(t, f.vote(e, v, bob), ErrAlreadyVoted)

	tally, err := f.svc.Tally(f.ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, tally.Positions, 1)
	assert.Equal(t, 1, tally.Positions[0].TotalVotes)
}

func TestMultiChoiceLimit(t *testing.T) {
	f := newFixture(t)
	board := f.position("Board Member", 3)
	var cands []Candidate
	for i := 0; i < 5; i++ {
		cands = append(cands, f.candidate(board, fmt.Sprintf("C%d", i)))
	}
	v := f.voter("s1")
	e := f.active([]Position{board}, cands...)

	for _, c := range cands[:3] {
		require.NoError(t, f.vote(e, v, c))
	}
	assert.ErrorIs(t, f.vote(e, v, cands[0]), ErrDuplicateSelection)
	assert.ErrorIs(t, f.vote(e, v, cands[3]), ErrAlreadyVoted)
}

func TestCastVoteChecksBallot(t *testing.T) {
	f := newFixture(t)
	pres := f.position("President", 1)
	sec := f.position("Secretary", 1)
	treas := f.position("Treasurer", 1)
	ada := f.candidate(pres, "Ada")
	off := f.candidate(pres, "Off Ballot")
	bob := f.candidate(sec, "Bob")
	tom := f.candidate(treas, "Tom")
	v := f.voter("s1")
	e := f.active([]Position{pres, sec}, ada, bob)

	cast := func(positionID, candidateID string) error {
		_, err := f.svc.CastVote(f.ctx, CastVoteRequest{ElectionID: e.ID, VoterID: v.ID, PositionID: positionID, CandidateID: candidateID})
		return err
	}
	assert.ErrorIs(t, cast(pres.ID, off.ID), ErrNotOnBallot, "candidate not attached")
	assert.ErrorIs(t, cast(treas.ID, tom.ID), ErrNotOnBallot, "position not attached")
	assert.ErrorIs(t, cast(sec.ID, ada.ID), ErrNotOnBallot, "candidate runs for another position")
	assert.ErrorIs(t, cast("", ada.ID), ErrInvalidInput)

	_, err := f.svc.CastVote(f.ctx, CastVoteRequest{ElectionID: e.ID, VoterID: "ghost", PositionID: pres.ID, CandidateID: ada.ID})
	assert.ErrorIs(t, err, ErrVoterNotFound)
	_, err = f.svc.CastVote(f.ctx, CastVoteRequest{ElectionID: "missing", VoterID: v.ID, PositionID: pres.ID, CandidateID: ada.ID})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, cast(pres.ID, ada.ID))
}

func TestVotingClosedOutsideActive(t *testing.T) {
	f := newFixture(t)
	pres := f.position("President", 1)
	ada := f.candidate(pres, "Ada")
	v := f.voter("s1")
	e := f.pending(pres)
	require.NoError(t, f.svc.AttachCandidate(f.ctx, e.ID, ada.ID))

	assert.ErrorIs(t, f.vote(e, v, ada), ErrVotingClosed, "pending")

	_, err := f.svc.Activate(f.ctx, e.ID, false)
	require.NoError(t, err)
	_, err = f.svc.Pause(f.ctx, e.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, f.vote(e, v, ada), ErrVotingClosed, "paused")

	_, err = f.svc.Resume(f.ctx, e.ID)
	require.NoError(t, err)
	require.NoError(t, f.vote(e, v, ada))

	_, err = f.svc.Stop(f.ctx, e.ID)
	require.NoError(t, err)
	w := f.voter("s2")
	assert.ErrorIs(t, f.vote(e, w, ada), ErrVotingClosed, "stopped")
}

func TestFinalVoteMarksVoter(t *testing.T) {
	f := newFixture(t)
	pres := f.position("President", 1)
	sec := f.position("Secretary", 1)
	ada := f.candidate(pres, "Ada")
	bob := f.candidate(sec, "Bob")
	v := f.voter("s1")
	e := f.active([]Position{pres, sec}, ada, bob)

	require.NoError(t, f.vote(e, v, ada))
	got, err := f.svc.GetVoter(f.ctx, v.ID)
	require.NoError(t, err)
	assert.False(t, got.HasVoted)

	_, err = f.svc.CastVote(f.ctx, CastVoteRequest{ElectionID: e.ID, VoterID: v.ID, PositionID: sec.ID, CandidateID: bob.ID, Final: true})
	require.NoError(t, err)
	got, err = f.svc.GetVoter(f.ctx, v.ID)
	require.NoError(t, err)
	assert.True(t, got.HasVoted)
}

func TestCastBallotIsAtomic(t *testing.T) {
	f := newFixture(t)
	pres := f.position("President", 1)
	board := f.position("Board", 2)
	ada := f.candidate(pres, "Ada")
	b1 := f.candidate(board, "B1")
	b2 := f.candidate(board, "B2")
	b3 := f.candidate(board, "B3")
	v := f.voter("s1")
	e := f.active([]Position{pres, board}, ada, b1, b2, b3)

	_, err := f.svc.CastBallot(f.ctx, BallotRequest{ElectionID: e.ID, VoterID: v.ID, Selections: []Selection{
		{PositionID: pres.ID, CandidateID: ada.ID},
		{PositionID: board.ID, CandidateID: b1.ID},
		{PositionID: board.ID, CandidateID: b2.ID},
		{PositionID: board.ID, CandidateID: b3.ID},
	}})
	assert.ErrorIs(t, err, ErrAlreadyVoted)

	tally, err := f.svc.Tally(f.ctx, e.ID)
	require.NoError(t, err)
	assert.Zero(t, tally.Turnout, "rejected ballot must leave no votes")
	got, err := f.svc.GetVoter(f.ctx, v.ID)
	require.NoError(t, err)
	assert.False(t, got.HasVoted)

	votes, err := f.svc.CastBallot(f.ctx, BallotRequest{ElectionID: e.ID, VoterID: v.ID, Selections: []Selection{
		{PositionID: pres.ID, CandidateID: ada.ID},
		{PositionID: board.ID, CandidateID: b1.ID},
		{PositionID: board.ID, CandidateID: b3.ID},
	}})
	require.NoError(t, err)
	assert.Len(t, votes, 3)
	got, err = f.svc.GetVoter(f.ctx, v.ID)
	require.NoError(t, err)
	assert.True(t, got.HasVoted)

	_, err = f.svc.CastBallot(f.ctx, BallotRequest{ElectionID: e.ID, VoterID: v.ID})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestConcurrentVotesRespectLimit(t *testing.T) {
	const limit, attempts = 2, 12
	f := newFixture(t)
	board := f.position("Board", limit)
	var cands []Candidate
	for i := 0; i < attempts; i++ {
		cands = append(cands, f.candidate(board, fmt.Sprintf("C%02d", i)))
	}
	v := f.voter("s1")
	e := f.active([]Position{board}, cands...)

	var ok, rejected int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for _, c := range cands {
		wg.Add(1)
		go func(c Candidate) {
			defer wg.Done()
			<-start
			err := f.vote(e, v, c)
			switch {
			case err == nil:
				atomic.AddInt64(&ok, 1)
			case assert.ErrorIs(t, err, ErrAlreadyVoted):
				atomic.AddInt64(&rejected, 1)
			}
		}(c)
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, limit, ok)
	assert.EqualValues(t, attempts-limit, rejected)
	tally, err := f.svc.Tally(f.ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, limit, tally.Positions[0].TotalVotes)
}

func TestConcurrentDuplicateSelection(t *testing.T) {
	f := newFixture(t)
	board := f.position("Board", 3)
	c := f.candidate(board, "Only")
	v := f.voter("s1")
	e := f.active([]Position{board}, c)

	var ok int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.vote(e, v, c); err == nil {
				atomic.AddInt64(&ok, 1)
			} else {
				assert.ErrorIs(t, err, ErrDuplicateSelection)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, ok)
}

func TestPauseRacingVotes(t *testing.T) {
	f := newFixture(t)
	pres := f.position("President", 1)
	ada := f.candidate(pres, "Ada")
	e := f.active([]Position{pres}, ada)
	var voters []Voter
	for i := 0; i < 20; i++ {
		voters = append(voters, f.voter(fmt.Sprintf("s%02d", i)))
	}

	var ok int64
	var wg sync.WaitGroup
	for i, v := range voters {
		wg.Add(1)
		go func(v Voter) {
			defer wg.Done()
			if err := f.vote(e, v, ada); err == nil {
				atomic.AddInt64(&ok, 1)
			} else {
				assert.ErrorIs(t, err, ErrVotingClosed)
			}
		}(v)
		if i == len(voters)/2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.svc.Pause(f.ctx, e.ID)
				assert.NoError(t, err)
			}()
		}
	}
	wg.Wait()

	// every vote that was accepted is in the ledger; none slipped in after
	tally, err := f.svc.Tally(f.ctx, e.ID)
	require.NoError(t, err)
	assert.EqualValues(t, ok, tally.Positions[0].TotalVotes)
	for _, v := range voters {
		assert.ErrorIs(t, f.vote(e, v, ada), ErrVotingClosed)
	}
}

func TestAdmissionControl(t *testing.T) {
	f := newFixture(t)
	gate := newGateStore(f.store)
	svc := NewService(gate, Options{
		Clock:         f.clock,
		MaxInFlight:   1,
		AdmissionWait: 20 * time.Millisecond,
		TxTimeout:     5 * time.Second,
	})

	done := make(chan error, 1)
	go func() {
		_, err := svc.CreatePosition(context.Background(), PositionInput{Name: "President"})
		done <- err
	}()
	<-gate.entered

	_, err := svc.CreatePosition(context.Background(), PositionInput{Name: "Secretary"})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, Retryable(err))

	close(gate.release)
	require.NoError(t, <-done)
}

func TestTransactionTimeout(t *testing.T) {
	f := newFixture(t)
	gate := newGateStore(f.store)
	svc := NewService(gate, Options{Clock: f.clock, TxTimeout: 20 * time.Millisecond})

	_, err := svc.CreatePosition(context.Background(), PositionInput{Name: "President"})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, Retryable(err))

	positions, err := f.svc.ListPositions(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestMemoryStoreLockHonoursDeadline(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.TxTimeout = 20 * time.Millisecond })
	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = f.store.Update(context.Background(), func(ctx context.Context, tx Tx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	_, err := f.svc.CreatePosition(f.ctx, PositionInput{Name: "President"})
	assert.ErrorIs(t, err, ErrTimeout)
}
