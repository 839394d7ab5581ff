package store

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sdr-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetLead_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, name, email, .* FROM leads WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetLead(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveLead_VersionConflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE leads SET .* WHERE id = \$23 AND version = \$24`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM leads WHERE id = \$1\)`).
		WithArgs("lead-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	l := &model.Lead{ID: "lead-1", Email: "a@x.com", Status: model.LeadStatusNew, Version: 3}
	err := s.SaveLead(context.Background(), l)
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.Equal(t, int64(3), l.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveLead_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE leads SET`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("gone").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	err := s.SaveLead(context.Background(), &model.Lead{ID: "gone", Status: model.LeadStatusNew, Version: 1})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveLead_BumpsVersion(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE leads SET`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	l := &model.Lead{ID: "lead-1", Status: model.LeadStatusContacted, LeadScore: 140, Version: 1}
	require.NoError(t, s.SaveLead(context.Background(), l))
	assert.Equal(t, int64(2), l.Version)
	assert.Equal(t, 100, l.LeadScore)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateMessage_Duplicate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO messages`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "idx_messages_lead_id"})

	m := model.NewPendingMessage(&model.Lead{ID: "lead-1", Email: "a@x.com"}, "s", "b")
	err := s.CreateMessage(context.Background(), m)
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindMessageByLead_None(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM messages WHERE lead_id = \$1`).
		WithArgs("lead-1").
		WillReturnError(pgx.ErrNoRows)

	m, err := s.FindMessageByLead(context.Background(), "lead-1")
	require.NoError(t, err)
	assert.Nil(t, m)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountLeadsByStatus(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT status, COUNT\(\*\) FROM leads GROUP BY status`).
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).
			AddRow("new", int64(4)).
			AddRow("contacted", int64(2)))

	counts, err := s.CountLeadsByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, counts[model.LeadStatusNew])
	assert.Equal(t, 2, counts[model.LeadStatusContacted])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListLeadEmails(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT email FROM leads WHERE email = ANY\(\$1\)`).
		WithArgs([]string{"a@x.com", "b@x.com"}).
		WillReturnRows(pgxmock.NewRows([]string{"email"}).AddRow("b@x.com"))

	found, err := s.ListLeadEmails(context.Background(), []string{"a@x.com", "b@x.com"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b@x.com"}, found)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertLeads_UsesCopy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_insert_leads"}, leadColumns).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "leads" .* ON CONFLICT DO NOTHING`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := s.InsertLeads(context.Background(), []model.Lead{
		{Name: "A", Email: "a@x.com"},
		{Name: "B", Email: "b@x.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MigrateAndPing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS leads`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`SELECT 1`).WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindLeadsByStatus_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM leads WHERE status = \$1 AND checked = \$2 AND EXISTS \(SELECT 1 FROM messages m WHERE m.lead_id = leads.id AND m.status = \$3\) ORDER BY created_at ASC LIMIT \$4`).
		WithArgs("follow-up", false, "sent", 5).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	leads, err := s.FindLeadsByStatus(context.Background(), model.LeadStatusFollowUp,
		Checked(false).WithMessageStatus(model.MessageStatusSent), 5)
	require.NoError(t, err)
	assert.Empty(t, leads)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDollarPlaceholders(t *testing.T) {
	assert.Equal(t, "$1, $2, $3", dollarPlaceholders(3))
	assert.Equal(t, "$1", dollarPlaceholders(1))
}
