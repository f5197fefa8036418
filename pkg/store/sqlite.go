package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/plenum-labs/plenum/pkg/contracts"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the default record store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an open database handle and runs migrations.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return s, nil
}

// OpenSQLite opens (or creates) a SQLite database at path and returns a
// migrated store. Use ":memory:" for tests.
func OpenSQLite(path string) (*SQLiteStore, *sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	s, err := NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return s, db, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS proposals (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		proposer TEXT NOT NULL DEFAULT '',
		current_phase TEXT NOT NULL,
		current_status TEXT NOT NULL,
		phase_started_at TEXT NOT NULL,
		deadline TEXT,
		metadata TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS votes (
		session_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		proposal_id TEXT NOT NULL,
		decision TEXT NOT NULL,
		weight REAL NOT NULL,
		comment TEXT NOT NULL DEFAULT '',
		cast_at TEXT NOT NULL,
		UNIQUE(session_id, agent_id, proposal_id)
	);
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS discussions (
		proposal_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		posted_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_votes_session ON votes(session_id);
	CREATE INDEX IF NOT EXISTS idx_votes_proposal ON votes(proposal_id);
	CREATE INDEX IF NOT EXISTS idx_discussions_proposal ON discussions(proposal_id);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// CreateProposal inserts a new proposal in phase PROPOSAL / status DRAFT
// unless the caller set them explicitly.
func (s *SQLiteStore) CreateProposal(ctx context.Context, p *contracts.Proposal) error {
	if p.CurrentPhase == "" {
		p.CurrentPhase = contracts.PhaseProposal
	}
	if p.CurrentStatus == "" {
		p.CurrentStatus = contracts.StatusDraft
	}
	meta, err := marshalMetadata(p.Metadata)
	if err != nil {
		return fmt.Errorf("marshal proposal metadata: %w", err)
	}

	var deadline any
	if p.Deadline != nil {
		deadline = formatTime(*p.Deadline)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO proposals (id, title, proposer, current_phase, current_status,
			phase_started_at, deadline, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Title, p.Proposer, string(p.CurrentPhase), string(p.CurrentStatus),
		formatTime(p.PhaseStartedAt), deadline, meta,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert proposal %s: %w", p.ID, err)
	}
	return nil
}

const proposalColumns = `id, title, proposer, current_phase, current_status,
	phase_started_at, deadline, metadata, created_at, updated_at`

// GetProposal loads one proposal or ErrNotFound.
func (s *SQLiteStore) GetProposal(ctx context.Context, id string) (*contracts.Proposal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+proposalColumns+` FROM proposals WHERE id = ?`, id)
	p, err := scanProposal(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("proposal %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get proposal %s: %w", id, err)
	}
	return p, nil
}

// ListActiveProposals returns proposals the automatic sweep still cares
// about: not settled by status and not in the terminal phase.
func (s *SQLiteStore) ListActiveProposals(ctx context.Context) ([]*contracts.Proposal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+proposalColumns+` FROM proposals
		WHERE current_status NOT IN (?, ?) AND current_phase != ?
		ORDER BY created_at, id`,
		string(contracts.StatusRejected), string(contracts.StatusExecuted),
		string(contracts.PhaseExecution),
	)
	if err != nil {
		return nil, fmt.Errorf("list active proposals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateProposalPhase atomically moves a proposal from an expected phase to
// a new phase and status. The WHERE clause on the expected phase is the
// per-proposal serialization boundary: a second transition racing on the
// same proposal matches zero rows and surfaces ErrConflict.
func (s *SQLiteStore) UpdateProposalPhase(ctx context.Context, id string, expect contracts.Phase, to contracts.Phase, toStatus contracts.Status, startedAt time.Time, deadline *time.Time) error {
	var dl any
	if deadline != nil {
		dl = formatTime(*deadline)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE proposals
		SET current_phase = ?, current_status = ?, phase_started_at = ?,
			deadline = ?, updated_at = ?
		WHERE id = ? AND current_phase = ?`,
		string(to), string(toStatus), formatTime(startedAt), dl, formatTime(startedAt),
		id, string(expect),
	)
	if err != nil {
		return fmt.Errorf("update proposal %s phase: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update proposal %s phase: %w", id, err)
	}
	if n == 0 {
		if _, err := s.GetProposal(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("proposal %s no longer in phase %s: %w", id, expect, ErrConflict)
	}
	return nil
}

// UpdateProposalDeadline rewrites only the deadline, guarded by the current
// phase for the same race-safety as phase updates.
func (s *SQLiteStore) UpdateProposalDeadline(ctx context.Context, id string, expect contracts.Phase, deadline time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE proposals SET deadline = ?, updated_at = ?
		WHERE id = ? AND current_phase = ?`,
		formatTime(deadline), formatTime(deadline), id, string(expect),
	)
	if err != nil {
		return fmt.Errorf("update proposal %s deadline: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if _, err := s.GetProposal(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("proposal %s no longer in phase %s: %w", id, expect, ErrConflict)
	}
	return nil
}

// SetProposalMetadata replaces the metadata bag.
func (s *SQLiteStore) SetProposalMetadata(ctx context.Context, id string, metadata map[string]any) error {
	meta, err := marshalMetadata(metadata)
	if err != nil {
		return fmt.Errorf("marshal proposal metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE proposals SET metadata = ? WHERE id = ?`, meta, id)
	if err != nil {
		return fmt.Errorf("set proposal %s metadata: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("proposal %s: %w", id, ErrNotFound)
	}
	return nil
}

// UpsertVote records a ballot. A repeat submission by the same agent for
// the same proposal in the same session replaces the earlier ballot in
// place, preserving its insertion position in the chain ordering.
func (s *SQLiteStore) UpsertVote(ctx context.Context, v contracts.Vote) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO votes (session_id, agent_id, proposal_id, decision, weight, comment, cast_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, agent_id, proposal_id)
		DO UPDATE SET decision = excluded.decision, weight = excluded.weight,
			comment = excluded.comment, cast_at = excluded.cast_at`,
		v.SessionID, v.AgentID, v.ProposalID, string(v.Decision), v.Weight,
		v.Comment, formatTime(v.CastAt),
	)
	if err != nil {
		return fmt.Errorf("upsert vote %s/%s/%s: %w", v.SessionID, v.AgentID, v.ProposalID, err)
	}
	return nil
}

const voteColumns = `session_id, agent_id, proposal_id, decision, weight, comment, cast_at`

// ListVotesBySession returns a session's votes in chain order: cast time
// ascending, insertion order (rowid) breaking ties.
func (s *SQLiteStore) ListVotesBySession(ctx context.Context, sessionID string) ([]contracts.Vote, error) {
	return s.listVotes(ctx,
		`SELECT `+voteColumns+` FROM votes WHERE session_id = ? ORDER BY cast_at, rowid`,
		sessionID)
}

// ListVotesByProposal scopes to one proposal within a session.
func (s *SQLiteStore) ListVotesByProposal(ctx context.Context, sessionID, proposalID string) ([]contracts.Vote, error) {
	return s.listVotes(ctx,
		`SELECT `+voteColumns+` FROM votes WHERE session_id = ? AND proposal_id = ? ORDER BY cast_at, rowid`,
		sessionID, proposalID)
}

// ListVotesForProposal returns every vote on a proposal across sessions,
// for context assembly.
func (s *SQLiteStore) ListVotesForProposal(ctx context.Context, proposalID string) ([]contracts.Vote, error) {
	return s.listVotes(ctx,
		`SELECT `+voteColumns+` FROM votes WHERE proposal_id = ? ORDER BY cast_at, rowid`,
		proposalID)
}

func (s *SQLiteStore) listVotes(ctx context.Context, query string, args ...any) ([]contracts.Vote, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.Vote
	for rows.Next() {
		var v contracts.Vote
		var decision, castAt string
		if err := rows.Scan(&v.SessionID, &v.AgentID, &v.ProposalID, &decision, &v.Weight, &v.Comment, &castAt); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		v.Decision = contracts.Decision(decision)
		v.CastAt = parseTime(castAt)
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertSession creates or replaces a session record.
func (s *SQLiteStore) UpsertSession(ctx context.Context, session *contracts.VotingSession) error {
	meta, err := marshalMetadata(session.Metadata)
	if err != nil {
		return fmt.Errorf("marshal session metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, title, date, summary, metadata)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, date = excluded.date,
			summary = excluded.summary, metadata = excluded.metadata`,
		session.ID, session.Title, formatTime(session.Date), session.Summary, meta,
	)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", session.ID, err)
	}
	return nil
}

// GetSession loads a session record. A missing session is (nil, nil): the
// audit chain treats it as a chain that starts at the first vote.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*contracts.VotingSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, date, summary, metadata FROM sessions WHERE id = ?`, id)

	var session contracts.VotingSession
	var date, meta string
	err := row.Scan(&session.ID, &session.Title, &date, &session.Summary, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	session.Date = parseTime(date)
	session.Metadata = unmarshalMetadata(meta)
	return &session, nil
}

// AddDiscussion appends a discussion contribution.
func (s *SQLiteStore) AddDiscussion(ctx context.Context, d contracts.Discussion) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO discussions (proposal_id, agent_id, body, posted_at)
		VALUES (?, ?, ?, ?)`,
		d.ProposalID, d.AgentID, d.Body, formatTime(d.PostedAt),
	)
	if err != nil {
		return fmt.Errorf("insert discussion on %s: %w", d.ProposalID, err)
	}
	return nil
}

// ListDiscussionsByProposal returns contributions in posting order.
func (s *SQLiteStore) ListDiscussionsByProposal(ctx context.Context, proposalID string) ([]contracts.Discussion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT proposal_id, agent_id, body, posted_at FROM discussions
		WHERE proposal_id = ? ORDER BY posted_at, rowid`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("list discussions for %s: %w", proposalID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.Discussion
	for rows.Next() {
		var d contracts.Discussion
		var postedAt string
		if err := rows.Scan(&d.ProposalID, &d.AgentID, &d.Body, &postedAt); err != nil {
			return nil, fmt.Errorf("scan discussion: %w", err)
		}
		d.PostedAt = parseTime(postedAt)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProposal(row rowScanner) (*contracts.Proposal, error) {
	var p contracts.Proposal
	var phase, status, startedAt, createdAt, updatedAt, meta string
	var deadline sql.NullString
	err := row.Scan(&p.ID, &p.Title, &p.Proposer, &phase, &status,
		&startedAt, &deadline, &meta, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	p.CurrentPhase = contracts.Phase(phase)
	p.CurrentStatus = contracts.Status(status)
	p.PhaseStartedAt = parseTime(startedAt)
	if deadline.Valid && deadline.String != "" {
		t := parseTime(deadline.String)
		p.Deadline = &t
	}
	p.Metadata = unmarshalMetadata(meta)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}
