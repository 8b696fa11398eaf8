package election

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Repository persists elections, the ballot and the vote ledger in Postgres.
// Writes run at read committed with explicit row locks; reads run on a
// repeatable-read snapshot.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var (
	_ Store = (*Repository)(nil)
	_ Tx    = (*pgTx)(nil)
)

// Update implements Store.
func (r *Repository) Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return r.run(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, fn)
}

// View implements Store.
func (r *Repository) View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return r.run(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}, fn)
}

func (r *Repository) run(ctx context.Context, opts *sql.TxOptions, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := r.db.BeginTx(ctx, opts)
	if err != nil {
		return translate(err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		ms := time.Until(deadline).Milliseconds()
		if ms < 1 {
			ms = 1
		}
		// Lock waits give up before the caller's deadline so the error names
		// the lock rather than a cancelled query.
		if _, err := tx.ExecContext(ctx, `SELECT set_config('lock_timeout', $1, true)`, fmt.Sprintf("%dms", ms)); err != nil {
			_ = tx.Rollback()
			return translate(err)
		}
	}
	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return translate(err)
	}
	return nil
}

// translate maps driver errors onto the package's sentinels. Foreign key
// violations on insert mean a referenced row is missing.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		return wrap(ErrConflict, "%s", constraintMessage(pgErr))
	case "23503":
		return wrap(ErrNotFound, "%s", constraintMessage(pgErr))
	case "23514", "22P02", "22001":
		return wrap(ErrInvalidInput, "%s", constraintMessage(pgErr))
	case "55P03", "57014", "40001", "40P01":
		return wrap(ErrTimeout, "%s", pgErr.Message)
	case "53300", "57P03", "08006", "08001":
		return wrap(ErrUnavailable, "%s", pgErr.Message)
	}
	return err
}

// translateDelete treats a foreign key violation as a row still in use.
func translateDelete(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return wrap(ErrConflict, "%s", constraintMessage(pgErr))
	}
	return translate(err)
}

func constraintMessage(pgErr *pgconn.PgError) string {
	if pgErr.ConstraintName != "" {
		return pgErr.ConstraintName + ": " + pgErr.Message
	}
	return pgErr.Message
}

type pgTx struct {
	tx *sql.Tx
}

func lockClause(lock Lock) string {
	switch lock {
	case LockShare:
		return " FOR SHARE"
	case LockUpdate:
		return " FOR UPDATE"
	}
	return ""
}

func (t *pgTx) CurrentElection(ctx context.Context, lock bool) (string, error) {
	q := `SELECT election_id FROM election_marker WHERE id = 1`
	if lock {
		q += " FOR UPDATE"
	}
	var id sql.NullString
	if err := t.tx.QueryRowContext(ctx, q).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", errors.New("election: marker row missing; run migrations")
		}
		return "", translate(err)
	}
	return id.String, nil
}

func (t *pgTx) SetCurrentElection(ctx context.Context, electionID string) error {
	var id any
	if electionID != "" {
		id = electionID
	}
	_, err := t.tx.ExecContext(ctx, `UPDATE election_marker SET election_id = $1 WHERE id = 1`, id)
	return translate(err)
}

const electionColumns = `id, title, description, starts_at, ends_at, status, created_by, created_at, updated_at`

func scanElection(row interface{ Scan(...any) error }) (Election, error) {
	var e Election
	if err := row.Scan(&e.ID, &e.Title, &e.Description, &e.StartsAt, &e.EndsAt, &e.Status, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return Election{}, err
	}
	e.StartsAt = e.StartsAt.UTC()
	e.EndsAt = e.EndsAt.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return e, nil
}

func (t *pgTx) InsertElection(ctx context.Context, e Election) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO elections (id, title, description, starts_at, ends_at, status, created_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, e.ID, e.Title, e.Description, e.StartsAt, e.EndsAt, string(e.Status), e.CreatedBy, e.CreatedAt, e.UpdatedAt)
	return translate(err)
}

func (t *pgTx) GetElection(ctx context.Context, id string, lock Lock) (Election, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+electionColumns+` FROM elections WHERE id = $1`+lockClause(lock), id)
	e, err := scanElection(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Election{}, wrap(ErrNotFound, "election %s", id)
		}
		return Election{}, translate(err)
	}
	return e, nil
}

func (t *pgTx) ListElections(ctx context.Context) ([]Election, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+electionColumns+` FROM elections ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	var res []Election
	for rows.Next() {
		e, err := scanElection(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, translate(rows.Err())
}

func (t *pgTx) UpdateElection(ctx context.Context, id string, status Status, startsAt, updatedAt time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE elections
		SET status = $2, starts_at = $3, updated_at = $4
		WHERE id = $1
	`, id, string(status), startsAt, updatedAt)
	if err != nil {
		return translate(err)
	}
	return mustAffect(res, "election", id)
}

func mustAffect(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return wrap(ErrNotFound, "%s %s", kind, id)
	}
	return nil
}

func (t *pgTx) InsertPosition(ctx context.Context, p Position) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO positions (id, name, vote_limit, display_order, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, p.ID, p.Name, p.VoteLimit, p.DisplayOrder, p.CreatedAt)
	return translate(err)
}

func (t *pgTx) GetPosition(ctx context.Context, id string) (Position, error) {
	var p Position
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, name, vote_limit, display_order, created_at FROM positions WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.VoteLimit, &p.DisplayOrder, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Position{}, wrap(ErrNotFound, "position %s", id)
		}
		return Position{}, translate(err)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

func (t *pgTx) ListPositions(ctx context.Context) ([]Position, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, name, vote_limit, display_order, created_at
		FROM positions
		ORDER BY display_order, name
	`)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	var res []Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.ID, &p.Name, &p.VoteLimit, &p.DisplayOrder, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		res = append(res, p)
	}
	return res, translate(rows.Err())
}

func (t *pgTx) DeletePosition(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM positions WHERE id = $1`, id)
	if err != nil {
		return translateDelete(err)
	}
	return mustAffect(res, "position", id)
}

const candidateColumns = `id, name, position_id, department, course, photo_url, description, display_order, created_at`

func scanCandidate(row interface{ Scan(...any) error }) (Candidate, error) {
	var c Candidate
	if err := row.Scan(&c.ID, &c.Name, &c.PositionID, &c.Department, &c.Course, &c.PhotoURL, &c.Description, &c.DisplayOrder, &c.CreatedAt); err != nil {
		return Candidate{}, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

func (t *pgTx) InsertCandidate(ctx context.Context, c Candidate) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO candidates (`+candidateColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, c.ID, c.Name, c.PositionID, c.Department, c.Course, c.PhotoURL, c.Description, c.DisplayOrder, c.CreatedAt)
	return translate(err)
}

func (t *pgTx) GetCandidate(ctx context.Context, id string) (Candidate, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+candidateColumns+` FROM candidates WHERE id = $1`, id)
	c, err := scanCandidate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Candidate{}, wrap(ErrNotFound, "candidate %s", id)
		}
		return Candidate{}, translate(err)
	}
	return c, nil
}

func (t *pgTx) ListCandidates(ctx context.Context) ([]Candidate, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+candidateColumns+`
		FROM candidates
		ORDER BY position_id, display_order, name
	`)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	var res []Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, translate(rows.Err())
}

func (t *pgTx) DeleteCandidate(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM candidates WHERE id = $1`, id)
	if err != nil {
		return translateDelete(err)
	}
	return mustAffect(res, "candidate", id)
}

const voterColumns = `id, name, email, student_id, password_hash, department, course, has_voted, created_at`

func scanVoter(row interface{ Scan(...any) error }) (Voter, error) {
	var v Voter
	if err := row.Scan(&v.ID, &v.Name, &v.Email, &v.StudentID, &v.PasswordHash, &v.Department, &v.Course, &v.HasVoted, &v.CreatedAt); err != nil {
		return Voter{}, err
	}
	v.CreatedAt = v.CreatedAt.UTC()
	return v, nil
}

func (t *pgTx) InsertVoter(ctx context.Context, v Voter) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO voters (`+voterColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, v.ID, v.Name, v.Email, v.StudentID, v.PasswordHash, v.Department, v.Course, v.HasVoted, v.CreatedAt)
	return translate(err)
}

func (t *pgTx) GetVoter(ctx context.Context, id string, lock bool) (Voter, error) {
	q := `SELECT ` + voterColumns + ` FROM voters WHERE id = $1`
	if lock {
		q += " FOR UPDATE"
	}
	v, err := scanVoter(t.tx.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Voter{}, wrap(ErrNotFound, "voter %s", id)
		}
		return Voter{}, translate(err)
	}
	return v, nil
}

func (t *pgTx) GetVoterByStudentID(ctx context.Context, studentID string) (Voter, error) {
	v, err := scanVoter(t.tx.QueryRowContext(ctx, `SELECT `+voterColumns+` FROM voters WHERE student_id = $1`, studentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Voter{}, wrap(ErrNotFound, "student %s", studentID)
		}
		return Voter{}, translate(err)
	}
	return v, nil
}

func (t *pgTx) MarkVoted(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE voters SET has_voted = TRUE WHERE id = $1`, id)
	if err != nil {
		return translate(err)
	}
	return mustAffect(res, "voter", id)
}

func (t *pgTx) ResetVoted(ctx context.Context) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE voters SET has_voted = FALSE WHERE has_voted`)
	return translate(err)
}

func (t *pgTx) ids(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	res := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, translate(rows.Err())
}

func (t *pgTx) deleted(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, translateDelete(err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (t *pgTx) InsertElectionPosition(ctx context.Context, electionID, positionID string, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO election_positions (election_id, position_id, assigned_at) VALUES ($1,$2,$3)
	`, electionID, positionID, at)
	return translate(err)
}

func (t *pgTx) DeleteElectionPosition(ctx context.Context, electionID, positionID string) (bool, error) {
	return t.deleted(t.tx.ExecContext(ctx, `
		DELETE FROM election_positions WHERE election_id = $1 AND position_id = $2
	`, electionID, positionID))
}

func (t *pgTx) ElectionPositionIDs(ctx context.Context, electionID string) ([]string, error) {
	return t.ids(ctx, `SELECT position_id FROM election_positions WHERE election_id = $1 ORDER BY position_id`, electionID)
}

func (t *pgTx) ElectionsWithPosition(ctx context.Context, positionID string) ([]string, error) {
	return t.ids(ctx, `SELECT election_id FROM election_positions WHERE position_id = $1 ORDER BY election_id`, positionID)
}

func (t *pgTx) InsertElectionCandidate(ctx context.Context, electionID, candidateID string, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO election_candidates (election_id, candidate_id, assigned_at) VALUES ($1,$2,$3)
	`, electionID, candidateID, at)
	return translate(err)
}

func (t *pgTx) DeleteElectionCandidate(ctx context.Context, electionID, candidateID string) (bool, error) {
	return t.deleted(t.tx.ExecContext(ctx, `
		DELETE FROM election_candidates WHERE election_id = $1 AND candidate_id = $2
	`, electionID, candidateID))
}

func (t *pgTx) ElectionCandidateIDs(ctx context.Context, electionID string) ([]string, error) {
	return t.ids(ctx, `SELECT candidate_id FROM election_candidates WHERE election_id = $1 ORDER BY candidate_id`, electionID)
}

func (t *pgTx) ElectionsWithCandidate(ctx context.Context, candidateID string) ([]string, error) {
	return t.ids(ctx, `SELECT election_id FROM election_candidates WHERE candidate_id = $1 ORDER BY election_id`, candidateID)
}

func (t *pgTx) InsertVote(ctx context.Context, v Vote) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO votes (id, election_id, position_id, candidate_id, voter_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, v.ID, v.ElectionID, v.PositionID, v.CandidateID, v.VoterID, v.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "votes_selection_key" {
		return wrap(ErrDuplicateSelection, "candidate %s already chosen", v.CandidateID)
	}
	return translate(err)
}

func (t *pgTx) VoterSelections(ctx context.Context, electionID, positionID, voterID string) ([]string, error) {
	return t.ids(ctx, `
		SELECT candidate_id FROM votes
		WHERE election_id = $1 AND position_id = $2 AND voter_id = $3
		ORDER BY created_at, id
	`, electionID, positionID, voterID)
}

func (t *pgTx) CountVotes(ctx context.Context, electionID string) ([]VoteCount, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT position_id, candidate_id, COUNT(*)
		FROM votes
		WHERE election_id = $1
		GROUP BY position_id, candidate_id
		ORDER BY position_id, candidate_id
	`, electionID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	var res []VoteCount
	for rows.Next() {
		var c VoteCount
		if err := rows.Scan(&c.PositionID, &c.CandidateID, &c.Count); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, translate(rows.Err())
}

func (t *pgTx) CountVoters(ctx context.Context, electionID string) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `SELECT COUNT(DISTINCT voter_id) FROM votes WHERE election_id = $1`, electionID).Scan(&n)
	return n, translate(err)
}

func (t *pgTx) HasVotesFor(ctx context.Context, positionID, candidateID string) (bool, error) {
	var ok bool
	err := t.tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM votes
			WHERE ($1 <> '' AND position_id = $1) OR ($2 <> '' AND candidate_id = $2)
		)
	`, positionID, candidateID).Scan(&ok)
	return ok, translate(err)
}
