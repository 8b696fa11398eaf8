package election

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTally(t *testing.T) {
	e := Election{ID: "e1", Status: StatusStopped}
	positions := []Position{
		{ID: "sec", Name: "Secretary", VoteLimit: 1, DisplayOrder: 2},
		{ID: "pres", Name: "President", VoteLimit: 1, DisplayOrder: 1},
	}
	byPosition := map[string][]Candidate{
		"pres": {{ID: "a", Name: "Ada", PositionID: "pres"}, {ID: "b", Name: "Bob", PositionID: "pres"}, {ID: "c", Name: "Cy", PositionID: "pres"}},
		"sec":  {{ID: "d", Name: "Dee", PositionID: "sec"}, {ID: "f", Name: "Fay", PositionID: "sec"}},
	}
	counts := []VoteCount{
		{PositionID: "pres", CandidateID: "a", Count: 1},
		{PositionID: "pres", CandidateID: "b", Count: 1},
		{PositionID: "pres", CandidateID: "c", Count: 1},
		// a vote for a candidate no longer on the ballot is ignored
		{PositionID: "pres", CandidateID: "gone", Count: 4},
	}

	tally := buildTally(e, positions, byPosition, counts)
	require.Len(t, tally.Positions, 2)
	assert.Equal(t, "President", tally.Positions[0].Name, "ordered by display order")

	pres := tally.Positions[0]
	assert.Equal(t, 3, pres.TotalVotes)
	sum := 0.0
	for _, c := range pres.Candidates {
		sum += c.Percentage
	}
	assert.InDelta(t, 100, sum, 1e-9)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, pres.Winners, "ties keep every leader")

	sec := tally.Positions[1]
	assert.Zero(t, sec.TotalVotes)
	assert.Empty(t, sec.Winners)
	for _, c := range sec.Candidates {
		assert.Zero(t, c.Percentage)
	}
}

func TestTallyThroughService(t *testing.T) {
	f := newFixture(t)
	pres := f.position("President", 1)
	board := f.position("Board", 2)
	ada := f.candidate(pres, "Ada")
	bob := f.candidate(pres, "Bob")
	b1 := f.candidate(board, "B1")
	b2 := f.candidate(board, "B2")
	b3 := f.candidate(board, "B3")
	e := f.active([]Position{pres, board}, ada, bob, b1, b2, b3)

	for i := 0; i < 4; i++ {
		v := f.voter(fmt.Sprintf("s%d", i))
		pick := ada
		if i == 3 {
			pick = bob
		}
		_, err := f.svc.CastBallot(f.ctx, BallotRequest{ElectionID: e.ID, VoterID: v.ID, Selections: []Selection{
			{PositionID: pres.ID, CandidateID: pick.ID},
			{PositionID: board.ID, CandidateID: b1.ID},
			{PositionID: board.ID, CandidateID: []Candidate{b2, b3}[i%2].ID},
		}})
		require.NoError(t, err)
	}
	f.voter("abstainer")

	tally, err := f.svc.Tally(f.ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, tally.Turnout)
	assert.Equal(t, StatusActive, tally.Status)
	assert.Equal(t, f.clock.Now(), tally.ComputedAt)

	got := map[string]PositionResult{}
	for _, pr := range tally.Positions {
		got[pr.PositionID] = pr
	}
	assert.Equal(t, 4, got[pres.ID].TotalVotes)
	assert.Equal(t, []string{ada.ID}, got[pres.ID].Winners)
	assert.Equal(t, 8, got[board.ID].TotalVotes)
	assert.Equal(t, []string{b1.ID}, got[board.ID].Winners)
	for _, c := range got[board.ID].Candidates {
		if c.CandidateID == b1.ID {
			assert.InDelta(t, 50, c.Percentage, 1e-9)
		} else {
			assert.InDelta(t, 25, c.Percentage, 1e-9)
		}
	}

	_, err = f.svc.Tally(f.ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
