package election

import (
	"context"

	"go.uber.org/zap"
)

// editableBallot locks the election for update and fails unless its ballot
// may still change.
func editableBallot(ctx context.Context, tx Tx, electionID string) (Election, error) {
	e, err := tx.GetElection(ctx, electionID, LockUpdate)
	if err != nil {
		return Election{}, err
	}
	if e.Status != StatusPending {
		return Election{}, wrap(ErrInvalidState, "ballot of a %s election cannot change", e.Status)
	}
	return e, nil
}

// AttachPosition puts a position on an election's ballot.
func (s *Service) AttachPosition(ctx context.Context, electionID, positionID string) error {
	err := s.update(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := editableBallot(ctx, tx, electionID); err != nil {
			return err
		}
		if _, err := tx.GetPosition(ctx, positionID); err != nil {
			return err
		}
		return tx.InsertElectionPosition(ctx, electionID, positionID, s.now())
	})
	return s.ballotChanged(ctx, "attach position", electionID, positionID, err)
}

// DetachPosition removes a position and, with it, every candidate of that
// position from a pending election's ballot.
func (s *Service) DetachPosition(ctx context.Context, electionID, positionID string) error {
	removed := 0
	err := s.update(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := editableBallot(ctx, tx, electionID); err != nil {
			return err
		}
		ok, err := tx.DeleteElectionPosition(ctx, electionID, positionID)
		if err != nil {
			return err
		}
		if !ok {
			return wrap(ErrNotFound, "position %s is not on the ballot", positionID)
		}
		ids, err := tx.ElectionCandidateIDs(ctx, electionID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			c, err := tx.GetCandidate(ctx, id)
			if err != nil {
				return err
			}
			if c.PositionID != positionID {
				continue
			}
			if _, err := tx.DeleteElectionCandidate(ctx, electionID, id); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err == nil && removed > 0 {
		s.logger.Info("detached candidates with position",
			zap.String("election_id", electionID),
			zap.String("position_id", positionID),
			zap.Int("candidates", removed),
		)
	}
	return s.ballotChanged(ctx, "detach position", electionID, positionID, err)
}

// AttachCandidate puts a candidate on a ballot that already carries the
// candidate's position.
func (s *Service) AttachCandidate(ctx context.Context, electionID, candidateID string) error {
	var positionID string
	err := s.update(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := editableBallot(ctx, tx, electionID); err != nil {
			return err
		}
		c, err := tx.GetCandidate(ctx, candidateID)
		if err != nil {
			return err
		}
		positionID = c.PositionID
		attached, err := tx.ElectionPositionIDs(ctx, electionID)
		if err != nil {
			return err
		}
		if !contains(attached, c.PositionID) {
			return wrap(ErrPrerequisiteMissing, "position %s of candidate %s is not on the ballot", c.PositionID, candidateID)
		}
		return tx.InsertElectionCandidate(ctx, electionID, candidateID, s.now())
	})
	return s.ballotChanged(ctx, "attach candidate", electionID, positionID, err)
}

// DetachCandidate removes a candidate from a pending election's ballot.
func (s *Service) DetachCandidate(ctx context.Context, electionID, candidateID string) error {
	err := s.update(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := editableBallot(ctx, tx, electionID); err != nil {
			return err
		}
		ok, err := tx.DeleteElectionCandidate(ctx, electionID, candidateID)
		if err != nil {
			return err
		}
		if !ok {
			return wrap(ErrNotFound, "candidate %s is not on the ballot", candidateID)
		}
		return nil
	})
	return s.ballotChanged(ctx, "detach candidate", electionID, "", err)
}

func (s *Service) ballotChanged(ctx context.Context, op, electionID, positionID string, err error) error {
	if err != nil {
		s.logger.Warn("ballot change rejected",
			zap.String("op", op),
			zap.String("election_id", electionID),
			zap.Error(err),
		)
		return err
	}
	s.logger.Info("ballot changed", zap.String("op", op), zap.String("election_id", electionID))
	s.publish(ctx, EventBallotChanged, Event{ElectionID: electionID, PositionID: positionID, At: s.now()})
	return nil
}

// ListAssignmentStatus reports, for every position and candidate, whether it
// is on the given election's ballot. All rows come from one snapshot.
func (s *Service) ListAssignmentStatus(ctx context.Context, electionID string) (AssignmentStatus, error) {
	out := AssignmentStatus{ElectionID: electionID}
	err := s.view(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.GetElection(ctx, electionID, LockNone); err != nil {
			return err
		}
		positions, err := tx.ListPositions(ctx)
		if err != nil {
			return err
		}
		candidates, err := tx.ListCandidates(ctx)
		if err != nil {
			return err
		}
		posIDs, err := tx.ElectionPositionIDs(ctx, electionID)
		if err != nil {
			return err
		}
		candIDs, err := tx.ElectionCandidateIDs(ctx, electionID)
		if err != nil {
			return err
		}
		out.Positions = make([]PositionAssignment, 0, len(positions))
		for _, p := range positions {
			out.Positions = append(out.Positions, PositionAssignment{Position: p, Assigned: contains(posIDs, p.ID)})
		}
		out.Candidates = make([]CandidateAssignment, 0, len(candidates))
		for _, c := range candidates {
			out.Candidates = append(out.Candidates, CandidateAssignment{Candidate: c, Assigned: contains(candIDs, c.ID)})
		}
		return nil
	})
	return out, err
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
