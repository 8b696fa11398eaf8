package election

import "time"

// Status is the stored lifecycle state of an election.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusStopped   Status = "stopped"
	StatusEnded     Status = "ended"
	StatusCancelled Status = "cancelled"
)

// StatusActiveExpired is never stored. It is reported for an active election
// whose end time has passed.
const StatusActiveExpired Status = "active_expired"

// Terminal reports whether no transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusEnded || s == StatusCancelled
}

// Valid reports whether s is one of the stored statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusPaused, StatusStopped, StatusEnded, StatusCancelled:
		return true
	}
	return false
}

// Position is an office being voted for.
type Position struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	VoteLimit    int       `json:"vote_limit"`
	DisplayOrder int       `json:"display_order"`
	CreatedAt    time.Time `json:"created_at"`
}

// Candidate runs for exactly one position.
type Candidate struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	PositionID   string    `json:"position_id"`
	Department   *string   `json:"department,omitempty"`
	Course       *string   `json:"course,omitempty"`
	PhotoURL     *string   `json:"photo_url,omitempty"`
	Description  *string   `json:"description,omitempty"`
	DisplayOrder int       `json:"display_order"`
	CreatedAt    time.Time `json:"created_at"`
}

// Election is one time-boxed voting event.
type Election struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	Status      Status    `json:"status"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Expired reports whether the voting window closed while the stored status
// still says active.
func (e Election) Expired(now time.Time) bool {
	return e.Status == StatusActive && now.After(e.EndsAt)
}

// DerivedStatus is the stored status with time-based expiry applied.
func (e Election) DerivedStatus(now time.Time) Status {
	if e.Expired(now) {
		return StatusActiveExpired
	}
	return e.Status
}

// Window reports whether now falls inside [StartsAt, EndsAt].
func (e Election) Window(now time.Time) bool {
	return !now.Before(e.StartsAt) && !now.After(e.EndsAt)
}

// ElectionView is an election as reported to callers.
type ElectionView struct {
	Election
	DerivedStatus Status `json:"derived_status"`
	Expired       bool   `json:"expired"`
}

// Voter is a registered student.
type Voter struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	StudentID    string    `json:"student_id"`
	PasswordHash *string   `json:"-"`
	Department   *string   `json:"department,omitempty"`
	Course       *string   `json:"course,omitempty"`
	HasVoted     bool      `json:"has_voted"`
	CreatedAt    time.Time `json:"created_at"`
}

// Vote is one row of the append-only ledger.
type Vote struct {
	ID          string    `json:"id"`
	ElectionID  string    `json:"election_id"`
	PositionID  string    `json:"position_id"`
	CandidateID string    `json:"candidate_id"`
	VoterID     string    `json:"voter_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// VoteCount is the ledger count for one candidate within one position.
type VoteCount struct {
	PositionID  string
	CandidateID string
	Count       int
}

// PositionAssignment tells whether a position is on a given ballot.
type PositionAssignment struct {
	Position Position `json:"position"`
	Assigned bool     `json:"assigned"`
}

// CandidateAssignment tells whether a candidate is on a given ballot.
type CandidateAssignment struct {
	Candidate Candidate `json:"candidate"`
	Assigned  bool      `json:"assigned"`
}

// AssignmentStatus is the available vs. assigned view of a ballot.
type AssignmentStatus struct {
	ElectionID string                `json:"election_id"`
	Positions  []PositionAssignment  `json:"positions"`
	Candidates []CandidateAssignment `json:"candidates"`
}

// CandidateResult is one candidate's share of a position's votes.
type CandidateResult struct {
	CandidateID string  `json:"candidate_id"`
	Name        string  `json:"name"`
	Votes       int     `json:"votes"`
	Percentage  float64 `json:"percentage"`
}

// PositionResult is the tally of a single position.
type PositionResult struct {
	PositionID string            `json:"position_id"`
	Name       string            `json:"name"`
	VoteLimit  int               `json:"vote_limit"`
	TotalVotes int               `json:"total_votes"`
	Candidates []CandidateResult `json:"candidates"`
	Winners    []string          `json:"winners"`
}

// Tally is a point-in-time read of an election's results.
type Tally struct {
	ElectionID string           `json:"election_id"`
	Status     Status           `json:"status"`
	Positions  []PositionResult `json:"positions"`
	Turnout    int              `json:"turnout"`
	ComputedAt time.Time        `json:"computed_at"`
}
