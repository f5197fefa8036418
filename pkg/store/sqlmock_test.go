package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plenum-labs/plenum/pkg/contracts"
)

// Failure-path coverage: store errors must surface wrapped, never panic,
// and never report success.

func TestGetProposalStoreFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT").WillReturnError(errors.New("disk I/O error"))

	s := &SQLiteStore{db: db}
	_, err = s.GetProposal(context.Background(), "p-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestUpsertVoteStoreFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("INSERT INTO votes").WillReturnError(errors.New("database is locked"))

	s := &SQLiteStore{db: db}
	err = s.UpsertVote(context.Background(), contracts.Vote{
		SessionID: "s-1", AgentID: "a", ProposalID: "p-1",
		Decision: contracts.DecisionApprove, Weight: 1, CastAt: time.Now(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert vote")
}

func TestUpdateProposalPhaseZeroRowsMissingProposal(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("UPDATE proposals").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT").WillReturnError(errors.New("sql: no rows in result set"))

	s := &SQLiteStore{db: db}
	err = s.UpdateProposalPhase(context.Background(), "p-gone", contracts.PhaseProposal,
		contracts.PhaseDiscussion, contracts.StatusDiscussion, time.Now(), nil)
	require.Error(t, err)
}

func TestListActiveProposalsQueryFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT").WillReturnError(errors.New("connection reset"))

	s := &SQLiteStore{db: db}
	_, err = s.ListActiveProposals(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list active proposals")
}
