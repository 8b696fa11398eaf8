package election

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRollsBackOnError(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	boom := errors.New("boom")

	err := st.Update(ctx, func(ctx context.Context, tx Tx) error {
		require.NoError(t, tx.InsertPosition(ctx, Position{ID: "p1", Name: "President", VoteLimit: 1}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = st.View(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.GetPosition(ctx, "p1")
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreViewIsReadOnly(t *testing.T) {
	st := NewMemoryStore()
	err := st.View(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.InsertPosition(ctx, Position{ID: "p1", Name: "President", VoteLimit: 1})
	})
	assert.ErrorIs(t, err, errReadOnly)
}

func TestMemoryStoreConstraints(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	err := st.Update(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.InsertElection(ctx, Election{ID: "e1", Status: StatusPending, StartsAt: now, EndsAt: now.Add(time.Hour)}); err != nil {
			return err
		}
		if err := tx.InsertPosition(ctx, Position{ID: "p1", Name: "President", VoteLimit: 1}); err != nil {
			return err
		}
		if err := tx.InsertCandidate(ctx, Candidate{ID: "c1", Name: "Ada", PositionID: "p1"}); err != nil {
			return err
		}
		return tx.InsertVoter(ctx, Voter{ID: "v1", Email: "v1@campus.test", StudentID: "v1"})
	})
	require.NoError(t, err)

	tests := []struct {
		name string
		fn   func(ctx context.Context, tx Tx) error
		want error
	}{
		{"second open election", func(ctx context.Context, tx Tx) error {
			return tx.InsertElection(ctx, Election{ID: "e2", Status: StatusPending, StartsAt: now, EndsAt: now.Add(time.Hour)})
		}, ErrConflict},
		{"empty window", func(ctx context.Context, tx Tx) error {
			return tx.InsertElection(ctx, Election{ID: "e3", Status: StatusEnded, StartsAt: now, EndsAt: now})
		}, ErrInvalidInput},
		{"position still referenced", func(ctx context.Context, tx Tx) error {
			return tx.DeletePosition(ctx, "p1")
		}, ErrConflict},
		{"duplicate selection", func(ctx context.Context, tx Tx) error {
			vote := Vote{ID: "x1", ElectionID: "e1", PositionID: "p1", CandidateID: "c1", VoterID: "v1"}
			if err := tx.InsertVote(ctx, vote); err != nil {
				return err
			}
			vote.ID = "x2"
			return tx.InsertVote(ctx, vote)
		}, ErrDuplicateSelection},
		{"vote for unknown voter", func(ctx context.Context, tx Tx) error {
			return tx.InsertVote(ctx, Vote{ID: "x3", ElectionID: "e1", PositionID: "p1", CandidateID: "c1", VoterID: "ghost"})
		}, ErrNotFound},
		{"marker to unknown election", func(ctx context.Context, tx Tx) error {
			return tx.SetCurrentElection(ctx, "missing")
		}, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, st.Update(ctx, tt.fn), tt.want)
		})
	}

	err = st.View(ctx, func(ctx context.Context, tx Tx) error {
		n, err := tx.CountVoters(ctx, "e1")
		assert.Zero(t, n, "failed units of work leave no votes")
		return err
	})
	require.NoError(t, err)
}

func TestMemoryStoreCancelledContext(t *testing.T) {
	st := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := st.Update(ctx, func(ctx context.Context, tx Tx) error { return nil })
	// the lock may be free, in which case the commit check catches it
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStoreVoteLedger(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.Update(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.InsertElection(ctx, Election{ID: "e1", Status: StatusActive, StartsAt: now, EndsAt: now.Add(time.Hour)}); err != nil {
			return err
		}
		if err := tx.InsertPosition(ctx, Position{ID: "p1", Name: "Board", VoteLimit: 2}); err != nil {
			return err
		}
		for _, id := range []string{"c1", "c2"} {
			if err := tx.InsertCandidate(ctx, Candidate{ID: id, Name: id, PositionID: "p1"}); err != nil {
				return err
			}
		}
		return tx.InsertVoter(ctx, Voter{ID: "v1", Email: "v1@campus.test", StudentID: "v1"})
	}))
	vote := func(id, candidate string) Vote {
		return Vote{ID: id, ElectionID: "e1", PositionID: "p1", CandidateID: candidate, VoterID: "v1"}
	}
	require.NoError(t, st.Update(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertVote(ctx, vote("x1", "c1"))
	}))

	boom := errors.New("boom")
	err := st.Update(ctx, func(ctx context.Context, tx Tx) error {
		require.NoError(t, tx.InsertVote(ctx, vote("x2", "c2")))
		sel, err := tx.VoterSelections(ctx, "e1", "p1", "v1")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"c1", "c2"}, sel, "own inserts are visible")
		voted, err := tx.HasVotesFor(ctx, "", "c2")
		require.NoError(t, err)
		assert.True(t, voted)
		assert.ErrorIs(t, tx.InsertVote(ctx, vote("x3", "c2")), ErrDuplicateSelection)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, st.View(ctx, func(ctx context.Context, tx Tx) error {
		counts, err := tx.CountVotes(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, []VoteCount{{PositionID: "p1", CandidateID: "c1", Count: 1}}, counts)
		voted, err := tx.HasVotesFor(ctx, "", "c2")
		require.NoError(t, err)
		assert.False(t, voted, "rolled back vote is gone")
		return nil
	}))

	err = st.Update(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertVote(ctx, vote("x4", "c1"))
	})
	assert.ErrorIs(t, err, ErrDuplicateSelection, "committed keys still guard")

	c := st.state.clone()
	require.Len(t, c.votes, 1)
	assert.Same(t, &st.state.votes[0], &c.votes[0], "ledger is shared, not copied")
}
