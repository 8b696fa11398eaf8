package election

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CastVoteRequest is one selection by one voter.
type CastVoteRequest struct {
	ElectionID  string
	VoterID     string
	PositionID  string
	CandidateID string
	// Final marks the last selection of the voter's session; the voter is
	// flagged as having voted once it commits.
	Final bool
}

// Selection names one candidate for one position.
type Selection struct {
	PositionID  string `json:"position_id"`
	CandidateID string `json:"candidate_id"`
}

// BallotRequest is a voter's whole ballot, committed in one transaction.
type BallotRequest struct {
	ElectionID string
	VoterID    string
	Selections []Selection
}

// CastVote records a single selection. Every precondition is checked inside
// the transaction that appends the vote, so a pause or stop that commits
// first is always observed.
func (s *Service) CastVote(ctx context.Context, req CastVoteRequest) (Vote, error) {
	votes, err := s.cast(ctx, req.ElectionID, req.VoterID, []Selection{{
		PositionID:  req.PositionID,
		CandidateID: req.CandidateID,
	}}, req.Final)
	if err != nil {
		return Vote{}, err
	}
	return votes[0], nil
}

// CastBallot records every selection of a ballot atomically and marks the
// voter as having voted. Either all selections commit or none do.
func (s *Service) CastBallot(ctx context.Context, req BallotRequest) ([]Vote, error) {
	if len(req.Selections) == 0 {
		return nil, wrap(ErrInvalidInput, "ballot has no selections")
	}
	return s.cast(ctx, req.ElectionID, req.VoterID, req.Selections, true)
}

func (s *Service) cast(ctx context.Context, electionID, voterID string, sels []Selection, final bool) ([]Vote, error) {
	start := time.Now()
	electionID = strings.TrimSpace(electionID)
	voterID = strings.TrimSpace(voterID)
	if electionID == "" || voterID == "" {
		err := wrap(ErrInvalidInput, "election and voter required")
		s.metrics.observeVote(start, 0, err)
		return nil, err
	}
	for i, sel := range sels {
		if strings.TrimSpace(sel.PositionID) == "" || strings.TrimSpace(sel.CandidateID) == "" {
			err := wrap(ErrInvalidInput, "selection %d needs a position and a candidate", i)
			s.metrics.observeVote(start, 0, err)
			return nil, err
		}
	}

	var votes []Vote
	err := s.update(ctx, func(ctx context.Context, tx Tx) error {
		votes = votes[:0]
		e, err := tx.GetElection(ctx, electionID, LockShare)
		if err != nil {
			return err
		}
		now := s.now()
		if e.Status != StatusActive {
			return wrap(ErrVotingClosed, "election is %s", e.Status)
		}
		if !e.Window(now) {
			return wrap(ErrVotingClosed, "voting window is %s to %s",
				e.StartsAt.Format(time.RFC3339), e.EndsAt.Format(time.RFC3339))
		}
		if _, err := tx.GetVoter(ctx, voterID, true); err != nil {
			if errors.Is(err, ErrNotFound) {
				return wrap(ErrVoterNotFound, "voter %s", voterID)
			}
			return err
		}

		positions, err := tx.ElectionPositionIDs(ctx, e.ID)
		if err != nil {
			return err
		}
		candidates, err := tx.ElectionCandidateIDs(ctx, e.ID)
		if err != nil {
			return err
		}
		for _, sel := range sels {
			v, err := s.castOne(ctx, tx, e.ID, voterID, sel, positions, candidates, now)
			if err != nil {
				return err
			}
			votes = append(votes, v)
		}
		if final {
			return tx.MarkVoted(ctx, voterID)
		}
		return nil
	})
	s.metrics.observeVote(start, len(sels), err)
	if err != nil {
		s.logger.Info("vote rejected",
			zap.String("election_id", electionID),
			zap.String("voter_id", voterID),
			zap.Int("selections", len(sels)),
			zap.Bool("retryable", Retryable(err)),
			zap.Error(err),
		)
		return nil, err
	}

	s.logger.Info("votes cast",
		zap.String("election_id", electionID),
		zap.String("voter_id", voterID),
		zap.Int("selections", len(votes)),
		zap.Bool("final", final),
	)
	evt := Event{ElectionID: electionID, VoterID: voterID, Votes: len(votes), At: votes[0].CreatedAt}
	if len(sels) == 1 {
		evt.PositionID = sels[0].PositionID
	}
	s.publish(ctx, EventVoteCast, evt)
	return votes, nil
}

func (s *Service) castOne(
	ctx context.Context,
	tx Tx,
	electionID, voterID string,
	sel Selection,
	positions, candidates []string,
	now time.Time,
) (Vote, error) {
	if !contains(positions, sel.PositionID) {
		return Vote{}, wrap(ErrNotOnBallot, "position %s", sel.PositionID)
	}
	if !contains(candidates, sel.CandidateID) {
		return Vote{}, wrap(ErrNotOnBallot, "candidate %s", sel.CandidateID)
	}
	c, err := tx.GetCandidate(ctx, sel.CandidateID)
	if err != nil {
		return Vote{}, err
	}
	if c.PositionID != sel.PositionID {
		return Vote{}, wrap(ErrNotOnBallot, "candidate %s does not run for position %s", c.ID, sel.PositionID)
	}
	p, err := tx.GetPosition(ctx, sel.PositionID)
	if err != nil {
		return Vote{}, err
	}

	chosen, err := tx.VoterSelections(ctx, electionID, p.ID, voterID)
	if err != nil {
		return Vote{}, err
	}
	if contains(chosen, c.ID) {
		return Vote{}, wrap(ErrDuplicateSelection, "candidate %s already chosen for %s", c.ID, p.Name)
	}
	if len(chosen) >= p.VoteLimit {
		return Vote{}, wrap(ErrAlreadyVoted, "vote limit %d reached for %s", p.VoteLimit, p.Name)
	}

	v := Vote{
		ID:          uuid.NewString(),
		ElectionID:  electionID,
		PositionID:  p.ID,
		CandidateID: c.ID,
		VoterID:     voterID,
		CreatedAt:   now,
	}
	if err := tx.InsertVote(ctx, v); err != nil {
		return Vote{}, err
	}
	return v, nil
}
