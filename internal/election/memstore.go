package election

import (
	"context"
	"errors"
	"sort"
	"time"
)

// MemoryStore keeps everything in process and backs dev runs and tests; use
// the Postgres repository for real elections. Units of work are serialized.
// Each Update runs against a private copy of the catalog and ballot maps that
// replaces the live state only when fn succeeds. The vote ledger is not
// copied: a transaction reads it in place and buffers its own inserts until
// commit.
type MemoryStore struct {
	lock  chan struct{}
	state *memState
}

// NewMemoryStore returns an empty store with the current-election marker
// cleared.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lock:  make(chan struct{}, 1),
		state: newMemState(),
	}
}

func (m *MemoryStore) acquire(ctx context.Context) error {
	select {
	case m.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return wrap(ErrTimeout, "waiting for store lock")
		}
		return ctx.Err()
	}
}

func (m *MemoryStore) release() { <-m.lock }

// Update implements Store.
func (m *MemoryStore) Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	tx := &memTx{s: m.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return wrap(ErrTimeout, "transaction deadline passed before commit")
		}
		return err
	}
	tx.commit()
	m.state = tx.s
	return nil
}

// View implements Store. Writes inside fn fail.
func (m *MemoryStore) View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()
	return fn(ctx, &memTx{s: m.state, readOnly: true})
}

type voteKey struct {
	election, position, voter, candidate string
}

type memState struct {
	current    string
	elections  map[string]Election
	positions  map[string]Position
	candidates map[string]Candidate
	voters     map[string]Voter
	ballotPos  map[string]map[string]time.Time
	ballotCand map[string]map[string]time.Time
	votes      []Vote
	voteKeys   map[voteKey]struct{}
}

func newMemState() *memState {
	return &memState{
		elections:  map[string]Election{},
		positions:  map[string]Position{},
		candidates: map[string]Candidate{},
		voters:     map[string]Voter{},
		ballotPos:  map[string]map[string]time.Time{},
		ballotCand: map[string]map[string]time.Time{},
		voteKeys:   map[voteKey]struct{}{},
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	c.current = s.current
	for k, v := range s.elections {
		c.elections[k] = v
	}
	for k, v := range s.positions {
		c.positions[k] = v
	}
	for k, v := range s.candidates {
		c.candidates[k] = v
	}
	for k, v := range s.voters {
		c.voters[k] = v
	}
	c.ballotPos = cloneEdges(s.ballotPos)
	c.ballotCand = cloneEdges(s.ballotCand)
	// append-only and written only by commit
	c.votes = s.votes
	c.voteKeys = s.voteKeys
	return c
}

func cloneEdges(src map[string]map[string]time.Time) map[string]map[string]time.Time {
	out := make(map[string]map[string]time.Time, len(src))
	for e, m := range src {
		inner := make(map[string]time.Time, len(m))
		for k, v := range m {
			inner[k] = v
		}
		out[e] = inner
	}
	return out
}

type memTx struct {
	s        *memState
	readOnly bool

	newVotes []Vote
	newKeys  map[voteKey]struct{}
}

// commit folds buffered votes into the shared ledger.
func (t *memTx) commit() {
	for k := range t.newKeys {
		t.s.voteKeys[k] = struct{}{}
	}
	t.s.votes = append(t.s.votes, t.newVotes...)
	t.newVotes, t.newKeys = nil, nil
}

// eachVote calls fn for committed then buffered votes until fn returns false.
func (t *memTx) eachVote(fn func(Vote) bool) {
	for _, v := range t.s.votes {
		if !fn(v) {
			return
		}
	}
	for _, v := range t.newVotes {
		if !fn(v) {
			return
		}
	}
}

var errReadOnly = errors.New("election: write in read-only transaction")

func (t *memTx) writable() error {
	if t.readOnly {
		return errReadOnly
	}
	return nil
}

func (t *memTx) CurrentElection(_ context.Context, _ bool) (string, error) {
	return t.s.current, nil
}

func (t *memTx) SetCurrentElection(_ context.Context, electionID string) error {
	if err := t.writable(); err != nil {
		return err
	}
	if electionID != "" {
		if _, ok := t.s.elections[electionID]; !ok {
			return wrap(ErrNotFound, "election %s", electionID)
		}
	}
	t.s.current = electionID
	return nil
}

// openConflict mirrors the at-most-one-open-election index.
func (t *memTx) openConflict(id string, status Status) error {
	if status.Terminal() {
		return nil
	}
	for _, e := range t.s.elections {
		if e.ID != id && !e.Status.Terminal() {
			return wrap(ErrConflict, "election %s is already %s", e.ID, e.Status)
		}
	}
	return nil
}

func (t *memTx) InsertElection(_ context.Context, e Election) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.s.elections[e.ID]; ok {
		return wrap(ErrConflict, "election %s exists", e.ID)
	}
	if !e.EndsAt.After(e.StartsAt) {
		return wrap(ErrInvalidInput, "end time must be after start time")
	}
	if err := t.openConflict(e.ID, e.Status); err != nil {
		return err
	}
	t.s.elections[e.ID] = e
	return nil
}

func (t *memTx) GetElection(_ context.Context, id string, _ Lock) (Election, error) {
	e, ok := t.s.elections[id]
	if !ok {
		return Election{}, wrap(ErrNotFound, "election %s", id)
	}
	return e, nil
}

func (t *memTx) ListElections(_ context.Context) ([]Election, error) {
	out := make([]Election, 0, len(t.s.elections))
	for _, e := range t.s.elections {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *memTx) UpdateElection(_ context.Context, id string, status Status, startsAt, updatedAt time.Time) error {
	if err := t.writable(); err != nil {
		return err
	}
	e, ok := t.s.elections[id]
	if !ok {
		return wrap(ErrNotFound, "election %s", id)
	}
	if err := t.openConflict(id, status); err != nil {
		return err
	}
	e.Status = status
	e.StartsAt = startsAt
	e.UpdatedAt = updatedAt
	t.s.elections[id] = e
	return nil
}

func (t *memTx) InsertPosition(_ context.Context, p Position) error {
	if err := t.writable(); err != nil {
		return err
	}
	for _, x := range t.s.positions {
		if x.ID == p.ID || x.Name == p.Name {
			return wrap(ErrConflict, "position %q exists", p.Name)
		}
	}
	t.s.positions[p.ID] = p
	return nil
}

func (t *memTx) GetPosition(_ context.Context, id string) (Position, error) {
	p, ok := t.s.positions[id]
	if !ok {
		return Position{}, wrap(ErrNotFound, "position %s", id)
	}
	return p, nil
}

func (t *memTx) ListPositions(_ context.Context) ([]Position, error) {
	out := make([]Position, 0, len(t.s.positions))
	for _, p := range t.s.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (t *memTx) DeletePosition(_ context.Context, id string) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.s.positions[id]; !ok {
		return wrap(ErrNotFound, "position %s", id)
	}
	for _, c := range t.s.candidates {
		if c.PositionID == id {
			return wrap(ErrConflict, "position %s still has candidates", id)
		}
	}
	for _, edges := range t.s.ballotPos {
		if _, ok := edges[id]; ok {
			return wrap(ErrConflict, "position %s is still on a ballot", id)
		}
	}
	delete(t.s.positions, id)
	return nil
}

func (t *memTx) InsertCandidate(_ context.Context, c Candidate) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.s.candidates[c.ID]; ok {
		return wrap(ErrConflict, "candidate %s exists", c.ID)
	}
	if _, ok := t.s.positions[c.PositionID]; !ok {
		return wrap(ErrNotFound, "position %s", c.PositionID)
	}
	t.s.candidates[c.ID] = c
	return nil
}

func (t *memTx) GetCandidate(_ context.Context, id string) (Candidate, error) {
	c, ok := t.s.candidates[id]
	if !ok {
		return Candidate{}, wrap(ErrNotFound, "candidate %s", id)
	}
	return c, nil
}

func (t *memTx) ListCandidates(_ context.Context) ([]Candidate, error) {
	out := make([]Candidate, 0, len(t.s.candidates))
	for _, c := range t.s.candidates {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PositionID != out[j].PositionID {
			return out[i].PositionID < out[j].PositionID
		}
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (t *memTx) DeleteCandidate(_ context.Context, id string) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.s.candidates[id]; !ok {
		return wrap(ErrNotFound, "candidate %s", id)
	}
	for _, edges := range t.s.ballotCand {
		if _, ok := edges[id]; ok {
			return wrap(ErrConflict, "candidate %s is still on a ballot", id)
		}
	}
	delete(t.s.candidates, id)
	return nil
}

func (t *memTx) InsertVoter(_ context.Context, v Voter) error {
	if err := t.writable(); err != nil {
		return err
	}
	for _, x := range t.s.voters {
		if x.ID == v.ID || x.Email == v.Email || x.StudentID == v.StudentID {
			return wrap(ErrConflict, "voter with email %s or student id %s exists", v.Email, v.StudentID)
		}
	}
	t.s.voters[v.ID] = v
	return nil
}

func (t *memTx) GetVoter(_ context.Context, id string, _ bool) (Voter, error) {
	v, ok := t.s.voters[id]
	if !ok {
		return Voter{}, wrap(ErrNotFound, "voter %s", id)
	}
	return v, nil
}

func (t *memTx) GetVoterByStudentID(_ context.Context, studentID string) (Voter, error) {
	for _, v := range t.s.voters {
		if v.StudentID == studentID {
			return v, nil
		}
	}
	return Voter{}, wrap(ErrNotFound, "student %s", studentID)
}

func (t *memTx) MarkVoted(_ context.Context, id string) error {
	if err := t.writable(); err != nil {
		return err
	}
	v, ok := t.s.voters[id]
	if !ok {
		return wrap(ErrNotFound, "voter %s", id)
	}
	v.HasVoted = true
	t.s.voters[id] = v
	return nil
}

func (t *memTx) ResetVoted(_ context.Context) error {
	if err := t.writable(); err != nil {
		return err
	}
	for id, v := range t.s.voters {
		v.HasVoted = false
		t.s.voters[id] = v
	}
	return nil
}

func (t *memTx) insertEdge(edges map[string]map[string]time.Time, electionID, id string, at time.Time) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.s.elections[electionID]; !ok {
		return wrap(ErrNotFound, "election %s", electionID)
	}
	m := edges[electionID]
	if m == nil {
		m = map[string]time.Time{}
		edges[electionID] = m
	}
	if _, ok := m[id]; ok {
		return wrap(ErrConflict, "%s is already on the ballot", id)
	}
	m[id] = at
	return nil
}

func (t *memTx) deleteEdge(edges map[string]map[string]time.Time, electionID, id string) (bool, error) {
	if err := t.writable(); err != nil {
		return false, err
	}
	if _, ok := edges[electionID][id]; !ok {
		return false, nil
	}
	delete(edges[electionID], id)
	return true, nil
}

func edgeIDs(m map[string]time.Time) []string {
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func holders(edges map[string]map[string]time.Time, id string) []string {
	var out []string
	for eid, m := range edges {
		if _, ok := m[id]; ok {
			out = append(out, eid)
		}
	}
	sort.Strings(out)
	return out
}

func (t *memTx) InsertElectionPosition(_ context.Context, electionID, positionID string, at time.Time) error {
	if _, ok := t.s.positions[positionID]; !ok {
		return wrap(ErrNotFound, "position %s", positionID)
	}
	return t.insertEdge(t.s.ballotPos, electionID, positionID, at)
}

func (t *memTx) DeleteElectionPosition(_ context.Context, electionID, positionID string) (bool, error) {
	return t.deleteEdge(t.s.ballotPos, electionID, positionID)
}

func (t *memTx) ElectionPositionIDs(_ context.Context, electionID string) ([]string, error) {
	return edgeIDs(t.s.ballotPos[electionID]), nil
}

func (t *memTx) ElectionsWithPosition(_ context.Context, positionID string) ([]string, error) {
	return holders(t.s.ballotPos, positionID), nil
}

func (t *memTx) InsertElectionCandidate(_ context.Context, electionID, candidateID string, at time.Time) error {
	if _, ok := t.s.candidates[candidateID]; !ok {
		return wrap(ErrNotFound, "candidate %s", candidateID)
	}
	return t.insertEdge(t.s.ballotCand, electionID, candidateID, at)
}

func (t *memTx) DeleteElectionCandidate(_ context.Context, electionID, candidateID string) (bool, error) {
	return t.deleteEdge(t.s.ballotCand, electionID, candidateID)
}

func (t *memTx) ElectionCandidateIDs(_ context.Context, electionID string) ([]string, error) {
	return edgeIDs(t.s.ballotCand[electionID]), nil
}

func (t *memTx) ElectionsWithCandidate(_ context.Context, candidateID string) ([]string, error) {
	return holders(t.s.ballotCand, candidateID), nil
}

func (t *memTx) InsertVote(_ context.Context, v Vote) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.s.elections[v.ElectionID]; !ok {
		return wrap(ErrNotFound, "election %s", v.ElectionID)
	}
	if _, ok := t.s.voters[v.VoterID]; !ok {
		return wrap(ErrNotFound, "voter %s", v.VoterID)
	}
	if _, ok := t.s.candidates[v.CandidateID]; !ok {
		return wrap(ErrNotFound, "candidate %s", v.CandidateID)
	}
	k := voteKey{v.ElectionID, v.PositionID, v.VoterID, v.CandidateID}
	_, committed := t.s.voteKeys[k]
	_, buffered := t.newKeys[k]
	if committed || buffered {
		return wrap(ErrDuplicateSelection, "candidate %s already chosen", v.CandidateID)
	}
	if t.newKeys == nil {
		t.newKeys = map[voteKey]struct{}{}
	}
	t.newKeys[k] = struct{}{}
	t.newVotes = append(t.newVotes, v)
	return nil
}

func (t *memTx) VoterSelections(_ context.Context, electionID, positionID, voterID string) ([]string, error) {
	var out []string
	t.eachVote(func(v Vote) bool {
		if v.ElectionID == electionID && v.PositionID == positionID && v.VoterID == voterID {
			out = append(out, v.CandidateID)
		}
		return true
	})
	return out, nil
}

func (t *memTx) CountVotes(_ context.Context, electionID string) ([]VoteCount, error) {
	type key struct{ position, candidate string }
	n := map[key]int{}
	t.eachVote(func(v Vote) bool {
		if v.ElectionID == electionID {
			n[key{v.PositionID, v.CandidateID}]++
		}
		return true
	})
	out := make([]VoteCount, 0, len(n))
	for k, c := range n {
		out = append(out, VoteCount{PositionID: k.position, CandidateID: k.candidate, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PositionID != out[j].PositionID {
			return out[i].PositionID < out[j].PositionID
		}
		return out[i].CandidateID < out[j].CandidateID
	})
	return out, nil
}

func (t *memTx) CountVoters(_ context.Context, electionID string) (int, error) {
	seen := map[string]struct{}{}
	t.eachVote(func(v Vote) bool {
		if v.ElectionID == electionID {
			seen[v.VoterID] = struct{}{}
		}
		return true
	})
	return len(seen), nil
}

func (t *memTx) HasVotesFor(_ context.Context, positionID, candidateID string) (bool, error) {
	found := false
	t.eachVote(func(v Vote) bool {
		found = (positionID != "" && v.PositionID == positionID) ||
			(candidateID != "" && v.CandidateID == candidateID)
		return !found
	})
	return found, nil
}
