package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/plenum-labs/plenum/pkg/contracts"

	_ "github.com/lib/pq"
)

// PostgresStore is the server-grade record store. Same contract as
// SQLiteStore; insertion-order tie-breaks use a bigserial sequence column
// instead of the SQLite rowid.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle and runs migrations.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	return s, nil
}

// OpenPostgres connects with the given DSN and returns a migrated store.
func OpenPostgres(dsn string) (*PostgresStore, *sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	s, err := NewPostgresStore(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return s, db, nil
}

func (s *PostgresStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS proposals (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		proposer TEXT NOT NULL DEFAULT '',
		current_phase TEXT NOT NULL,
		current_status TEXT NOT NULL,
		phase_started_at TIMESTAMPTZ NOT NULL,
		deadline TIMESTAMPTZ,
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS votes (
		seq BIGSERIAL,
		session_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		proposal_id TEXT NOT NULL,
		decision TEXT NOT NULL,
		weight DOUBLE PRECISION NOT NULL,
		comment TEXT NOT NULL DEFAULT '',
		cast_at TIMESTAMPTZ NOT NULL,
		UNIQUE(session_id, agent_id, proposal_id)
	);
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		date TIMESTAMPTZ NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		metadata JSONB
	);
	CREATE TABLE IF NOT EXISTS discussions (
		seq BIGSERIAL,
		proposal_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		posted_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_votes_session ON votes(session_id);
	CREATE INDEX IF NOT EXISTS idx_votes_proposal ON votes(proposal_id);
	CREATE INDEX IF NOT EXISTS idx_discussions_proposal ON discussions(proposal_id);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// CreateProposal inserts a new proposal.
func (s *PostgresStore) CreateProposal(ctx context.Context, p *contracts.Proposal) error {
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
	var metaArg any
	if meta != "" {
		metaArg = meta
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO proposals (id, title, proposer, current_phase, current_status,
			phase_started_at, deadline, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.Title, p.Proposer, string(p.CurrentPhase), string(p.CurrentStatus),
		p.PhaseStartedAt.UTC(), p.Deadline, metaArg, p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert proposal %s: %w", p.ID, err)
	}
	return nil
}

// GetProposal loads one proposal or ErrNotFound.
func (s *PostgresStore) GetProposal(ctx context.Context, id string) (*contracts.Proposal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, proposer, current_phase, current_status,
			phase_started_at, deadline, metadata, created_at, updated_at
		FROM proposals WHERE id = $1`, id)
	p, err := scanPGProposal(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("proposal %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get proposal %s: %w", id, err)
	}
	return p, nil
}

// ListActiveProposals mirrors SQLiteStore.ListActiveProposals.
func (s *PostgresStore) ListActiveProposals(ctx context.Context) ([]*contracts.Proposal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, proposer, current_phase, current_status,
			phase_started_at, deadline, metadata, created_at, updated_at
		FROM proposals
		WHERE current_status NOT IN ($1, $2) AND current_phase != $3
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
		p, err := scanPGProposal(rows)
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

// UpdateProposalPhase mirrors the SQLite conditional update.
func (s *PostgresStore) UpdateProposalPhase(ctx context.Context, id string, expect contracts.Phase, to contracts.Phase, toStatus contracts.Status, startedAt time.Time, deadline *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE proposals
		SET current_phase = $1, current_status = $2, phase_started_at = $3,
			deadline = $4, updated_at = $3
		WHERE id = $5 AND current_phase = $6`,
		string(to), string(toStatus), startedAt.UTC(), deadline, id, string(expect),
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

// UpdateProposalDeadline mirrors SQLiteStore.UpdateProposalDeadline.
func (s *PostgresStore) UpdateProposalDeadline(ctx context.Context, id string, expect contracts.Phase, deadline time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE proposals SET deadline = $1, updated_at = $1
		WHERE id = $2 AND current_phase = $3`,
		deadline.UTC(), id, string(expect),
	)
	if err != nil {
		return fmt.Errorf("update proposal %s deadline: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetProposal(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("proposal %s no longer in phase %s: %w", id, expect, ErrConflict)
	}
	return nil
}

// SetProposalMetadata replaces the metadata bag.
func (s *PostgresStore) SetProposalMetadata(ctx context.Context, id string, metadata map[string]any) error {
	meta, err := marshalMetadata(metadata)
	if err != nil {
		return fmt.Errorf("marshal proposal metadata: %w", err)
	}
	var metaArg any
	if meta != "" {
		metaArg = meta
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE proposals SET metadata = $1 WHERE id = $2`, metaArg, id)
	if err != nil {
		return fmt.Errorf("set proposal %s metadata: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("proposal %s: %w", id, ErrNotFound)
	}
	return nil
}

// UpsertVote mirrors SQLiteStore.UpsertVote.
func (s *PostgresStore) UpsertVote(ctx context.Context, v contracts.Vote) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO votes (session_id, agent_id, proposal_id, decision, weight, comment, cast_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id, agent_id, proposal_id)
		DO UPDATE SET decision = EXCLUDED.decision, weight = EXCLUDED.weight,
			comment = EXCLUDED.comment, cast_at = EXCLUDED.cast_at`,
		v.SessionID, v.AgentID, v.ProposalID, string(v.Decision), v.Weight,
		v.Comment, v.CastAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert vote %s/%s/%s: %w", v.SessionID, v.AgentID, v.ProposalID, err)
	}
	return nil
}

// ListVotesBySession returns chain-ordered votes.
func (s *PostgresStore) ListVotesBySession(ctx context.Context, sessionID string) ([]contracts.Vote, error) {
	return s.listVotes(ctx, `
		SELECT session_id, agent_id, proposal_id, decision, weight, comment, cast_at
		FROM votes WHERE session_id = $1 ORDER BY cast_at, seq`, sessionID)
}

// ListVotesByProposal scopes to one proposal within a session.
func (s *PostgresStore) ListVotesByProposal(ctx context.Context, sessionID, proposalID string) ([]contracts.Vote, error) {
	return s.listVotes(ctx, `
		SELECT session_id, agent_id, proposal_id, decision, weight, comment, cast_at
		FROM votes WHERE session_id = $1 AND proposal_id = $2 ORDER BY cast_at, seq`,
		sessionID, proposalID)
}

// ListVotesForProposal returns every vote on a proposal across sessions.
func (s *PostgresStore) ListVotesForProposal(ctx context.Context, proposalID string) ([]contracts.Vote, error) {
	return s.listVotes(ctx, `
		SELECT session_id, agent_id, proposal_id, decision, weight, comment, cast_at
		FROM votes WHERE proposal_id = $1 ORDER BY cast_at, seq`, proposalID)
}

func (s *PostgresStore) listVotes(ctx context.Context, query string, args ...any) ([]contracts.Vote, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.Vote
	for rows.Next() {
		var v contracts.Vote
		var decision string
		if err := rows.Scan(&v.SessionID, &v.AgentID, &v.ProposalID, &decision, &v.Weight, &v.Comment, &v.CastAt); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		v.Decision = contracts.Decision(decision)
		v.CastAt = v.CastAt.UTC()
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertSession creates or replaces a session record.
func (s *PostgresStore) UpsertSession(ctx context.Context, session *contracts.VotingSession) error {
	meta, err := marshalMetadata(session.Metadata)
	if err != nil {
		return fmt.Errorf("marshal session metadata: %w", err)
	}
	var metaArg any
	if meta != "" {
		metaArg = meta
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, title, date, summary, metadata)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, date = EXCLUDED.date,
			summary = EXCLUDED.summary, metadata = EXCLUDED.metadata`,
		session.ID, session.Title, session.Date.UTC(), session.Summary, metaArg,
	)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", session.ID, err)
	}
	return nil
}

// GetSession loads a session record, (nil, nil) when missing.
func (s *PostgresStore) GetSession(ctx context.Context, id string) (*contracts.VotingSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, date, summary, metadata FROM sessions WHERE id = $1`, id)

	var session contracts.VotingSession
	var meta sql.NullString
	err := row.Scan(&session.ID, &session.Title, &session.Date, &session.Summary, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	session.Date = session.Date.UTC()
	session.Metadata = unmarshalMetadata(meta.String)
	return &session, nil
}

// AddDiscussion appends a discussion contribution.
func (s *PostgresStore) AddDiscussion(ctx context.Context, d contracts.Discussion) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO discussions (proposal_id, agent_id, body, posted_at)
		VALUES ($1, $2, $3, $4)`,
		d.ProposalID, d.AgentID, d.Body, d.PostedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert discussion on %s: %w", d.ProposalID, err)
	}
	return nil
}

// ListDiscussionsByProposal returns contributions in posting order.
func (s *PostgresStore) ListDiscussionsByProposal(ctx context.Context, proposalID string) ([]contracts.Discussion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT proposal_id, agent_id, body, posted_at FROM discussions
		WHERE proposal_id = $1 ORDER BY posted_at, seq`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("list discussions for %s: %w", proposalID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.Discussion
	for rows.Next() {
		var d contracts.Discussion
		if err := rows.Scan(&d.ProposalID, &d.AgentID, &d.Body, &d.PostedAt); err != nil {
			return nil, fmt.Errorf("scan discussion: %w", err)
		}
		d.PostedAt = d.PostedAt.UTC()
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanPGProposal(row rowScanner) (*contracts.Proposal, error) {
	var p contracts.Proposal
	var phase, status string
	var deadline sql.NullTime
	var meta sql.NullString
	err := row.Scan(&p.ID, &p.Title, &p.Proposer, &phase, &status,
		&p.PhaseStartedAt, &deadline, &meta, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.CurrentPhase = contracts.Phase(phase)
	p.CurrentStatus = contracts.Status(status)
	p.PhaseStartedAt = p.PhaseStartedAt.UTC()
	if deadline.Valid {
		t := deadline.Time.UTC()
		p.Deadline = &t
	}
	p.Metadata = unmarshalMetadata(meta.String)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}
