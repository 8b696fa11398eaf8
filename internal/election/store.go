package election

import (
	"context"
	"time"
)

// Lock selects the row lock taken when reading an election.
type Lock int

const (
	LockNone Lock = iota
	// LockShare blocks status changes until the transaction ends.
	LockShare
	// LockUpdate excludes every other locker of the row.
	LockUpdate
)

// Store runs units of work against the backing store. A function passed to
// Update either commits as a whole or leaves nothing behind. View runs on a
// consistent read-only snapshot.
type Store interface {
	Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of reads and writes available inside a unit of work.
// Implementations translate storage constraint violations into the package's
// sentinel errors.
type Tx interface {
	// CurrentElection returns the id held by the current-election marker, ""
	// when none. lock takes the marker row for update.
	CurrentElection(ctx context.Context, lock bool) (string, error)
	SetCurrentElection(ctx context.Context, electionID string) error

	InsertElection(ctx context.Context, e Election) error
	GetElection(ctx context.Context, id string, lock Lock) (Election, error)
	ListElections(ctx context.Context) ([]Election, error)
	UpdateElection(ctx context.Context, id string, status Status, startsAt time.Time, updatedAt time.Time) error

	InsertPosition(ctx context.Context, p Position) error
	GetPosition(ctx context.Context, id string) (Position, error)
	ListPositions(ctx context.Context) ([]Position, error)
	DeletePosition(ctx context.Context, id string) error

	InsertCandidate(ctx context.Context, c Candidate) error
	GetCandidate(ctx context.Context, id string) (Candidate, error)
	ListCandidates(ctx context.Context) ([]Candidate, error)
	DeleteCandidate(ctx context.Context, id string) error

	InsertVoter(ctx context.Context, v Voter) error
	GetVoter(ctx context.Context, id string, lock bool) (Voter, error)
	GetVoterByStudentID(ctx context.Context, studentID string) (Voter, error)
	MarkVoted(ctx context.Context, id string) error
	ResetVoted(ctx context.Context) error

	InsertElectionPosition(ctx context.Context, electionID, positionID string, at time.Time) error
	DeleteElectionPosition(ctx context.Context, electionID, positionID string) (bool, error)
	ElectionPositionIDs(ctx context.Context, electionID string) ([]string, error)
	ElectionsWithPosition(ctx context.Context, positionID string) ([]string, error)

	InsertElectionCandidate(ctx context.Context, electionID, candidateID string, at time.Time) error
	DeleteElectionCandidate(ctx context.Context, electionID, candidateID string) (bool, error)
	ElectionCandidateIDs(ctx context.Context, electionID string) ([]string, error)
	ElectionsWithCandidate(ctx context.Context, candidateID string) ([]string, error)

	InsertVote(ctx context.Context, v Vote) error
	VoterSelections(ctx context.Context, electionID, positionID, voterID string) ([]string, error)
	CountVotes(ctx context.Context, electionID string) ([]VoteCount, error)
	CountVoters(ctx context.Context, electionID string) (int, error)
	HasVotesFor(ctx context.Context, positionID, candidateID string) (bool, error)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
