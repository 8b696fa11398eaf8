package election

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// PositionInput is the input to CreatePosition.
type PositionInput struct {
	Name         string
	VoteLimit    int
	DisplayOrder int
}

// CreatePosition adds an office. A zero vote limit means 1.
func (s *Service) CreatePosition(ctx context.Context, in PositionInput) (Position, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Position{}, wrap(ErrInvalidInput, "position name required")
	}
	if in.VoteLimit == 0 {
		in.VoteLimit = 1
	}
	if in.VoteLimit < 1 {
		return Position{}, wrap(ErrInvalidInput, "vote limit must be at least 1")
	}
	p := Position{
		ID:           uuid.NewString(),
		Name:         name,
		VoteLimit:    in.VoteLimit,
		DisplayOrder: in.DisplayOrder,
		CreatedAt:    s.now(),
	}
	err := s.update(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertPosition(ctx, p)
	})
	if err != nil {
		return Position{}, err
	}
	s.logger.Info("position created", zap.String("position_id", p.ID), zap.String("name", p.Name))
	return p, nil
}

// ListPositions returns every position in display order.
func (s *Service) ListPositions(ctx context.Context) ([]Position, error) {
	var out []Position
	err := s.view(ctx, func(ctx context.Context, tx Tx) (err error) {
		out, err = tx.ListPositions(ctx)
		return err
	})
	return out, err
}

// DeletePosition removes a position together with its candidates and every
// ballot edge pointing at either. Positions that received votes are kept.
func (s *Service) DeletePosition(ctx context.Context, id string) error {
	var removed []string
	err := s.update(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.GetPosition(ctx, id); err != nil {
			return err
		}
		voted, err := tx.HasVotesFor(ctx, id, "")
		if err != nil {
			return err
		}
		if voted {
			return wrap(ErrConflict, "position %s has recorded votes", id)
		}
		elections, err := tx.ElectionsWithPosition(ctx, id)
		if err != nil {
			return err
		}
		if err := ensureBallotsEditable(ctx, tx, elections); err != nil {
			return err
		}

		all, err := tx.ListCandidates(ctx)
		if err != nil {
			return err
		}
		for _, c := range all {
			if c.PositionID != id {
				continue
			}
			if err := deleteCandidate(ctx, tx, c.ID); err != nil {
				return err
			}
			removed = append(removed, c.ID)
		}
		for _, eid := range elections {
			if _, err := tx.DeleteElectionPosition(ctx, eid, id); err != nil {
				return err
			}
		}
		return tx.DeletePosition(ctx, id)
	})
	if err != nil {
		return err
	}
	s.logger.Info("position deleted",
		zap.String("position_id", id),
		zap.Strings("cascaded_candidates", removed),
	)
	return nil
}

// CandidateInput is the input to CreateCandidate.
type CandidateInput struct {
	Name         string
	PositionID   string
	Department   *string
	Course       *string
	PhotoURL     *string
	Description  *string
	DisplayOrder int
}

// CreateCandidate adds a candidate for an existing position. The candidate
// is on no ballot until attached.
func (s *Service) CreateCandidate(ctx context.Context, in CandidateInput) (Candidate, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" || strings.TrimSpace(in.PositionID) == "" {
		return Candidate{}, wrap(ErrInvalidInput, "candidate name and position required")
	}
	c := Candidate{
		ID:           uuid.NewString(),
		Name:         name,
		PositionID:   strings.TrimSpace(in.PositionID),
		Department:   in.Department,
		Course:       in.Course,
		PhotoURL:     in.PhotoURL,
		Description:  in.Description,
		DisplayOrder: in.DisplayOrder,
		CreatedAt:    s.now(),
	}
	err := s.update(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.GetPosition(ctx, c.PositionID); err != nil {
			return err
		}
		return tx.InsertCandidate(ctx, c)
	})
	if err != nil {
		return Candidate{}, err
	}
	s.logger.Info("candidate created", zap.String("candidate_id", c.ID), zap.String("position_id", c.PositionID))
	return c, nil
}

// ListCandidates returns every candidate.
func (s *Service) ListCandidates(ctx context.Context) ([]Candidate, error) {
	var out []Candidate
	err := s.view(ctx, func(ctx context.Context, tx Tx) (err error) {
		out, err = tx.ListCandidates(ctx)
		return err
	})
	return out, err
}

// DeleteCandidate removes a candidate and its ballot edges. Candidates that
// received votes are kept.
func (s *Service) DeleteCandidate(ctx context.Context, id string) error {
	err := s.update(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.GetCandidate(ctx, id); err != nil {
			return err
		}
		voted, err := tx.HasVotesFor(ctx, "", id)
		if err != nil {
			return err
		}
		if voted {
			return wrap(ErrConflict, "candidate %s has recorded votes", id)
		}
		elections, err := tx.ElectionsWithCandidate(ctx, id)
		if err != nil {
			return err
		}
		if err := ensureBallotsEditable(ctx, tx, elections); err != nil {
			return err
		}
		return deleteCandidate(ctx, tx, id)
	})
	if err != nil {
		return err
	}
	s.logger.Info("candidate deleted", zap.String("candidate_id", id))
	return nil
}

func deleteCandidate(ctx context.Context, tx Tx, id string) error {
	elections, err := tx.ElectionsWithCandidate(ctx, id)
	if err != nil {
		return err
	}
	for _, eid := range elections {
		if _, err := tx.DeleteElectionCandidate(ctx, eid, id); err != nil {
			return err
		}
	}
	return tx.DeleteCandidate(ctx, id)
}

// ensureBallotsEditable fails unless every listed election is still pending.
// Running ballots are frozen and archived ones are history.
func ensureBallotsEditable(ctx context.Context, tx Tx, electionIDs []string) error {
	for _, eid := range electionIDs {
		e, err := tx.GetElection(ctx, eid, LockUpdate)
		if err != nil {
			return err
		}
		if e.Status != StatusPending {
			return wrap(ErrInvalidState, "on the ballot of %s election %s", e.Status, e.ID)
		}
	}
	return nil
}

// VoterInput is the input to NewVoter.
type VoterInput struct {
	Name       string
	Email      string
	StudentID  string
	Password   string
	Department *string
	Course     *string
}

// NewVoter validates in and builds a voter, hashing the password when one
// is given.
func NewVoter(in VoterInput) (Voter, error) {
	v := Voter{
		ID:         uuid.NewString(),
		Name:       strings.TrimSpace(in.Name),
		Email:      strings.ToLower(strings.TrimSpace(in.Email)),
		StudentID:  strings.TrimSpace(in.StudentID),
		Department: in.Department,
		Course:     in.Course,
	}
	if v.Name == "" || v.StudentID == "" {
		return Voter{}, wrap(ErrInvalidInput, "voter name and student id required")
	}
	if _, err := mail.ParseAddress(v.Email); err != nil {
		return Voter{}, wrap(ErrInvalidInput, "invalid email %q", in.Email)
	}
	if in.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
		if err != nil {
			return Voter{}, wrap(ErrInvalidInput, "password: %v", err)
		}
		h := string(hash)
		v.PasswordHash = &h
	}
	return v, nil
}

// RegisterVoter stores a new voter. Email and student id are unique.
func (s *Service) RegisterVoter(ctx context.Context, in VoterInput) (Voter, error) {
	v, err := NewVoter(in)
	if err != nil {
		return Voter{}, err
	}
	v.CreatedAt = s.now()
	err = s.update(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertVoter(ctx, v)
	})
	if err != nil {
		return Voter{}, err
	}
	s.logger.Info("voter registered", zap.String("voter_id", v.ID), zap.String("student_id", v.StudentID))
	return v, nil
}

// GetVoter returns one voter.
func (s *Service) GetVoter(ctx context.Context, id string) (Voter, error) {
	var v Voter
	err := s.view(ctx, func(ctx context.Context, tx Tx) (err error) {
		v, err = tx.GetVoter(ctx, id, false)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return Voter{}, wrap(ErrVoterNotFound, "voter %s", id)
	}
	return v, err
}

// AuthenticateVoter checks a student id and password.
func (s *Service) AuthenticateVoter(ctx context.Context, studentID, password string) (Voter, error) {
	var v Voter
	err := s.view(ctx, func(ctx context.Context, tx Tx) (err error) {
		v, err = tx.GetVoterByStudentID(ctx, strings.TrimSpace(studentID))
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return Voter{}, wrap(ErrVoterNotFound, "student %s", studentID)
	}
	if err != nil {
		return Voter{}, err
	}
	if v.PasswordHash == nil || bcrypt.CompareHashAndPassword([]byte(*v.PasswordHash), []byte(password)) != nil {
		return Voter{}, wrap(ErrInvalidInput, "wrong student id or password")
	}
	return v, nil
}
