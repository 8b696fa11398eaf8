package election

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NewElection is the input to CreateElection.
type NewElection struct {
	Title       string
	Description string
	StartsAt    time.Time
	EndsAt      time.Time
	CreatedBy   string
	PositionIDs []string
}

// CreateElection creates a pending election with its initial positions
// attached. It fails with ErrConflict while another election is non-terminal.
func (s *Service) CreateElection(ctx context.Context, in NewElection) (ElectionView, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return ElectionView{}, wrap(ErrInvalidInput, "title required")
	}
	if in.StartsAt.IsZero() || in.EndsAt.IsZero() {
		return ElectionView{}, wrap(ErrInvalidInput, "start and end time required")
	}
	if !in.EndsAt.After(in.StartsAt) {
		return ElectionView{}, wrap(ErrInvalidInput, "end time must be after start time")
	}
	positionIDs := dedupe(in.PositionIDs)
	if len(positionIDs) == 0 {
		return ElectionView{}, wrap(ErrInvalidInput, "at least one position required")
	}

	now := s.now()
	e := Election{
		ID:          uuid.NewString(),
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		StartsAt:    in.StartsAt.UTC(),
		EndsAt:      in.EndsAt.UTC(),
		Status:      StatusPending,
		CreatedBy:   strings.TrimSpace(in.CreatedBy),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.update(ctx, func(ctx context.Context, tx Tx) error {
		if err := ensureNoOpenElection(ctx, tx, ""); err != nil {
			return err
		}
		for _, id := range positionIDs {
			if _, err := tx.GetPosition(ctx, id); err != nil {
				return err
			}
		}
		if err := tx.InsertElection(ctx, e); err != nil {
			return err
		}
		for _, id := range positionIDs {
			if err := tx.InsertElectionPosition(ctx, e.ID, id, now); err != nil {
				return err
			}
		}
		if err := tx.SetCurrentElection(ctx, e.ID); err != nil {
			return err
		}
		return tx.ResetVoted(ctx)
	})
	if err != nil {
		s.logger.Warn("create election rejected", zap.String("title", title), zap.Error(err))
		return ElectionView{}, err
	}

	s.logger.Info("election created",
		zap.String("election_id", e.ID),
		zap.String("title", e.Title),
		zap.Int("positions", len(positionIDs)),
	)
	s.publish(ctx, EventElectionCreated, Event{ElectionID: e.ID, To: StatusPending, At: now})
	return s.viewOf(e), nil
}

// ensureNoOpenElection locks the current-election marker and fails when it
// names a non-terminal election other than allow.
func ensureNoOpenElection(ctx context.Context, tx Tx, allow string) error {
	cur, err := tx.CurrentElection(ctx, true)
	if err != nil {
		return err
	}
	if cur == "" || cur == allow {
		return nil
	}
	open, err := tx.GetElection(ctx, cur, LockNone)
	if err != nil {
		return err
	}
	if open.Status.Terminal() {
		return nil
	}
	return wrap(ErrConflict, "another election is already %s", open.Status)
}

// TransitionOptions modifies a status change.
type TransitionOptions struct {
	// Override lets an admin activate before the scheduled start time. The
	// start time is moved to the moment of activation.
	Override bool
}

// Transition applies action to an election atomically. Moves not in the
// transition table fail with ErrInvalidTransition and change nothing.
func (s *Service) Transition(ctx context.Context, id string, action Action, opts TransitionOptions) (ElectionView, error) {
	var before, after Election
	err := s.update(ctx, func(ctx context.Context, tx Tx) error {
		now := s.now()
		cur, err := tx.CurrentElection(ctx, true)
		if err != nil {
			return err
		}
		e, err := tx.GetElection(ctx, id, LockUpdate)
		if err != nil {
			return err
		}
		before = e
		to, err := Next(action, e.Status)
		if err != nil {
			return err
		}

		startsAt := e.StartsAt
		if action == ActionActivate {
			if cur != "" && cur != e.ID {
				if err := ensureNoOpenElection(ctx, tx, e.ID); err != nil {
					return err
				}
			}
			positions, err := tx.ElectionPositionIDs(ctx, e.ID)
			if err != nil {
				return err
			}
			if len(positions) == 0 {
				return wrap(ErrPrerequisiteMissing, "ballot has no positions")
			}
			if now.After(e.EndsAt) {
				return wrap(ErrInvalidState, "election end time %s has passed", e.EndsAt.Format(time.RFC3339))
			}
			if now.Before(e.StartsAt) {
				if !opts.Override {
					return wrap(ErrInvalidState, "election starts at %s; activate with override to open early", e.StartsAt.Format(time.RFC3339))
				}
				startsAt = now
			}
		}

		if err := tx.UpdateElection(ctx, e.ID, to, startsAt, now); err != nil {
			return err
		}
		if to.Terminal() && cur == e.ID {
			if err := tx.SetCurrentElection(ctx, ""); err != nil {
				return err
			}
		} else if !to.Terminal() && cur != e.ID {
			if err := tx.SetCurrentElection(ctx, e.ID); err != nil {
				return err
			}
		}
		after = e
		after.Status = to
		after.StartsAt = startsAt
		after.UpdatedAt = now
		return nil
	})
	if err != nil {
		s.logger.Warn("election transition rejected",
			zap.String("election_id", id),
			zap.String("action", string(action)),
			zap.String("status", string(before.Status)),
			zap.Error(err),
		)
		return ElectionView{}, err
	}

	s.metrics.observeTransition(before.Status, after.Status)
	s.logger.Info("election transitioned",
		zap.String("election_id", id),
		zap.String("from", string(before.Status)),
		zap.String("to", string(after.Status)),
		zap.Bool("override", opts.Override && action == ActionActivate),
	)
	s.publish(ctx, EventElectionTransitioned, Event{ElectionID: id, From: before.Status, To: after.Status, At: after.UpdatedAt})
	return s.viewOf(after), nil
}

// Activate opens the voting window.
func (s *Service) Activate(ctx context.Context, id string, override bool) (ElectionView, error) {
	return s.Transition(ctx, id, ActionActivate, TransitionOptions{Override: override})
}

// Pause blocks voting while preserving state.
func (s *Service) Pause(ctx context.Context, id string) (ElectionView, error) {
	return s.Transition(ctx, id, ActionPause, TransitionOptions{})
}

// Resume reopens a paused election.
func (s *Service) Resume(ctx context.Context, id string) (ElectionView, error) {
	return s.Transition(ctx, id, ActionResume, TransitionOptions{})
}

// Stop closes voting permanently.
func (s *Service) Stop(ctx context.Context, id string) (ElectionView, error) {
	return s.Transition(ctx, id, ActionStop, TransitionOptions{})
}

// End archives a stopped election.
func (s *Service) End(ctx context.Context, id string) (ElectionView, error) {
	return s.Transition(ctx, id, ActionEnd, TransitionOptions{})
}

// Cancel archives an election that never finished.
func (s *Service) Cancel(ctx context.Context, id string) (ElectionView, error) {
	return s.Transition(ctx, id, ActionCancel, TransitionOptions{})
}

// GetActiveElection returns the single non-terminal election. ok is false
// when there is none.
func (s *Service) GetActiveElection(ctx context.Context) (view ElectionView, ok bool, err error) {
	err = s.view(ctx, func(ctx context.Context, tx Tx) error {
		cur, err := tx.CurrentElection(ctx, false)
		if err != nil || cur == "" {
			return err
		}
		e, err := tx.GetElection(ctx, cur, LockNone)
		if err != nil {
			return err
		}
		if e.Status.Terminal() {
			return nil
		}
		view, ok = s.viewOf(e), true
		return nil
	})
	return view, ok, err
}

// GetElection returns one election with its derived status.
func (s *Service) GetElection(ctx context.Context, id string) (ElectionView, error) {
	var view ElectionView
	err := s.view(ctx, func(ctx context.Context, tx Tx) error {
		e, err := tx.GetElection(ctx, id, LockNone)
		if err != nil {
			return err
		}
		view = s.viewOf(e)
		return nil
	})
	return view, err
}

// ListElections returns every election, newest first.
func (s *Service) ListElections(ctx context.Context) ([]ElectionView, error) {
	var out []ElectionView
	err := s.view(ctx, func(ctx context.Context, tx Tx) error {
		list, err := tx.ListElections(ctx)
		if err != nil {
			return err
		}
		out = make([]ElectionView, 0, len(list))
		for _, e := range list {
			out = append(out, s.viewOf(e))
		}
		return nil
	})
	return out, err
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
