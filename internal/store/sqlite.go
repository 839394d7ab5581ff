package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/sdr-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// Times are written in the sqlite text format so that range comparisons on
// next_touch_at and created_at order correctly.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if !strings.Contains(dsn, "_time_format=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_time_format=sqlite"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single connection keeps the pragmas below in effect for every query.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	email             TEXT NOT NULL,
	phone             TEXT NOT NULL DEFAULT '',
	age               INTEGER,
	role              TEXT NOT NULL DEFAULT '',
	company           TEXT NOT NULL DEFAULT '',
	industry          TEXT NOT NULL DEFAULT 'Technology',
	experience        INTEGER NOT NULL DEFAULT 0,
	location          TEXT NOT NULL DEFAULT '',
	linkedin          TEXT NOT NULL DEFAULT '',
	source            TEXT NOT NULL DEFAULT '',
	category          TEXT NOT NULL DEFAULT 'general',
	preferred_channel TEXT NOT NULL DEFAULT 'email',
	interests         TEXT NOT NULL DEFAULT '[]',
	status            TEXT NOT NULL DEFAULT 'new',
	checked           INTEGER NOT NULL DEFAULT 0,
	ready_to_meet     INTEGER NOT NULL DEFAULT 0,
	lead_score        INTEGER NOT NULL DEFAULT 0 CHECK (lead_score BETWEEN 0 AND 100),
	insight           TEXT NOT NULL DEFAULT '',
	meeting_link      TEXT NOT NULL DEFAULT '',
	meeting_date      DATETIME,
	version           INTEGER NOT NULL DEFAULT 1,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_leads_email ON leads(email);
CREATE UNIQUE INDEX IF NOT EXISTS idx_leads_phone ON leads(phone) WHERE phone <> '';
CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(status, checked);

CREATE TABLE IF NOT EXISTS messages (
	id            TEXT PRIMARY KEY,
	lead_id       TEXT NOT NULL REFERENCES leads(id),
	lead_email    TEXT NOT NULL,
	subject       TEXT NOT NULL,
	body          TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	next_touch_at DATETIME,
	version       INTEGER NOT NULL DEFAULT 1,
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_lead_id ON messages(lead_id);
CREATE INDEX IF NOT EXISTS idx_messages_status ON messages(status);
CREATE INDEX IF NOT EXISTS idx_messages_next_touch ON messages(status, next_touch_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Leads ---

func (s *SQLiteStore) FindLeadsNeedingEnrichment(ctx context.Context, limit int) ([]model.Lead, error) {
	return s.queryLeads(ctx, "find leads needing enrichment",
		`SELECT `+leadSelect+` FROM leads WHERE lead_score = 0 OR insight = '' ORDER BY created_at ASC LIMIT ?`,
		limit,
	)
}

func (s *SQLiteStore) FindLeadsByStatus(ctx context.Context, status model.LeadStatus, filter LeadFilter, limit int) ([]model.Lead, error) {
	query := `SELECT ` + leadSelect + ` FROM leads WHERE status = ?`
	args := []any{string(status)}
	if filter.Checked != nil {
		query += ` AND checked = ?`
		args = append(args, *filter.Checked)
	}
	if filter.MessageStatus != nil {
		query += ` AND EXISTS (SELECT 1 FROM messages m WHERE m.lead_id = leads.id AND m.status = ?)`
		args = append(args, string(*filter.MessageStatus))
	}
	query += ` ORDER BY created_at ASC LIMIT ?`
	args = append(args, limit)
	return s.queryLeads(ctx, "find leads by status", query, args...)
}

func (s *SQLiteStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+leadSelect+` FROM leads WHERE id = ?`, id)
	l, err := scanSQLiteLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get lead %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get lead %s", id)
	}
	return l, nil
}

func (s *SQLiteStore) CreateLead(ctx context.Context, lead *model.Lead) error {
	if err := prepareNewLead(lead, time.Now().UTC()); err != nil {
		return eris.Wrap(err, "sqlite: create lead")
	}
	args, err := sqliteLeadArgs(lead)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO leads (`+leadSelect+`) VALUES (`+placeholders(len(leadColumns))+`)`,
		args...,
	)
	if isSQLiteUnique(err) {
		return eris.Wrapf(ErrDuplicate, "sqlite: create lead %s", lead.Email)
	}
	return eris.Wrap(err, "sqlite: create lead")
}

func (s *SQLiteStore) InsertLeads(ctx context.Context, leads []model.Lead) (int, error) {
	if len(leads) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: insert leads: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO leads (`+leadSelect+`) VALUES (`+placeholders(len(leadColumns))+`)`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: insert leads: prepare")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	inserted := 0
	for i := range leads {
		l := &leads[i]
		if err := prepareNewLead(l, now); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert leads: row %d", i)
		}
		args, err := sqliteLeadArgs(l)
		if err != nil {
			return 0, err
		}
		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert leads: row %d", i)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: insert leads: commit")
	}
	return inserted, nil
}

func (s *SQLiteStore) ListLeadEmails(ctx context.Context, emails []string) ([]string, error) {
	if len(emails) == 0 {
		return nil, nil
	}
	args := make([]any, len(emails))
	for i, e := range emails {
		args[i] = e
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT email FROM leads WHERE email IN (`+placeholders(len(emails))+`)`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list lead emails")
	}
	defer rows.Close() //nolint:errcheck

	var out []string
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead email")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list lead emails iterate")
}

func (s *SQLiteStore) SaveLead(ctx context.Context, lead *model.Lead) error {
	lead.LeadScore = model.ClampScore(lead.LeadScore)
	if err := lead.Validate(); err != nil {
		return eris.Wrapf(err, "sqlite: save lead %s", lead.ID)
	}
	interests, err := encodeInterests(lead.Interests)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET name = ?, email = ?, phone = ?, age = ?, role = ?, company = ?,
			industry = ?, experience = ?, location = ?, linkedin = ?, source = ?, category = ?,
			preferred_channel = ?, interests = ?, status = ?, checked = ?, ready_to_meet = ?,
			lead_score = ?, insight = ?, meeting_link = ?, meeting_date = ?,
			version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		lead.Name, lead.Email, lead.Phone, nullInt(lead.Age), lead.Role, lead.Company,
		lead.Industry, lead.Experience, lead.Location, lead.LinkedIn, lead.Source, lead.Category,
		lead.PreferredChannel, string(interests), string(lead.Status), lead.Checked, lead.ReadyToMeet,
		lead.LeadScore, lead.Insight, lead.MeetingLink, nullTime(lead.MeetingDate),
		now, lead.ID, lead.Version,
	)
	if isSQLiteUnique(err) {
		return eris.Wrapf(ErrDuplicate, "sqlite: save lead %s", lead.ID)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: save lead %s", lead.ID)
	}
	if err := s.checkVersioned(ctx, res, "leads", lead.ID); err != nil {
		return err
	}
	lead.Version++
	lead.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) CountLeadsByStatus(ctx context.Context) (map[model.LeadStatus]int, error) {
	counts := make(map[model.LeadStatus]int)
	err := s.countBy(ctx, `SELECT status, COUNT(*) FROM leads GROUP BY status`, func(status string, n int) {
		counts[model.LeadStatus(status)] = n
	})
	return counts, eris.Wrap(err, "sqlite: count leads by status")
}

// --- Messages ---

func (s *SQLiteStore) FindMessagesByStatus(ctx context.Context, status model.MessageStatus, limit int) ([]model.Message, error) {
	return s.queryMessages(ctx, "find messages by status",
		`SELECT `+messageSelect+` FROM messages WHERE status = ? ORDER BY created_at ASC LIMIT ?`,
		string(status), limit,
	)
}

func (s *SQLiteStore) FindMessagesDue(ctx context.Context, cutoff time.Time) ([]model.Message, error) {
	return s.queryMessages(ctx, "find messages due",
		`SELECT `+messageSelect+` FROM messages
		 WHERE status = ? AND next_touch_at IS NOT NULL AND next_touch_at <= ?
		 ORDER BY next_touch_at ASC`,
		string(model.MessageStatusSent), cutoff.UTC(),
	)
}

func (s *SQLiteStore) FindMessageByLead(ctx context.Context, leadID string) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageSelect+` FROM messages WHERE lead_id = ?`, leadID)
	m, err := scanSQLiteMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find message for lead %s", leadID)
	}
	return m, nil
}

func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *model.Message) error {
	if err := prepareNewMessage(msg, time.Now().UTC()); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (`+messageSelect+`) VALUES (`+placeholders(len(messageColumns))+`)`,
		msg.ID, msg.LeadID, msg.LeadEmail, msg.Subject, msg.Body, string(msg.Status),
		nullTime(msg.NextTouchAt), msg.Version, msg.CreatedAt, msg.UpdatedAt,
	)
	if isSQLiteUnique(err) {
		return eris.Wrapf(ErrDuplicate, "sqlite: create message for lead %s", msg.LeadID)
	}
	return eris.Wrapf(err, "sqlite: create message for lead %s", msg.LeadID)
}

func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *model.Message) error {
	if !msg.Status.Valid() {
		return eris.Errorf("sqlite: save message %s: invalid status %q", msg.ID, msg.Status)
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET lead_email = ?, subject = ?, body = ?, status = ?, next_touch_at = ?,
			version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		msg.LeadEmail, msg.Subject, msg.Body, string(msg.Status), nullTime(msg.NextTouchAt),
		now, msg.ID, msg.Version,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save message %s", msg.ID)
	}
	if err := s.checkVersioned(ctx, res, "messages", msg.ID); err != nil {
		return err
	}
	msg.Version++
	msg.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) CountMessagesByStatus(ctx context.Context) (map[model.MessageStatus]int, error) {
	counts := make(map[model.MessageStatus]int)
	err := s.countBy(ctx, `SELECT status, COUNT(*) FROM messages GROUP BY status`, func(status string, n int) {
		counts[model.MessageStatus(status)] = n
	})
	return counts, eris.Wrap(err, "sqlite: count messages by status")
}

// helpers

func (s *SQLiteStore) queryLeads(ctx context.Context, op, query string, args ...any) ([]model.Lead, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: %s", op)
	}
	defer rows.Close() //nolint:errcheck

	var leads []model.Lead
	for rows.Next() {
		l, err := scanSQLiteLead(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: %s", op)
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrapf(rows.Err(), "sqlite: %s iterate", op)
}

func (s *SQLiteStore) queryMessages(ctx context.Context, op, query string, args ...any) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: %s", op)
	}
	defer rows.Close() //nolint:errcheck

	var msgs []model.Message
	for rows.Next() {
		m, err := scanSQLiteMessage(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: %s", op)
		}
		msgs = append(msgs, *m)
	}
	return msgs, eris.Wrapf(rows.Err(), "sqlite: %s iterate", op)
}

func (s *SQLiteStore) countBy(ctx context.Context, query string, fn func(string, int)) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close() //nolint:errcheck
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		fn(key, n)
	}
	return rows.Err()
}

// checkVersioned distinguishes a lost optimistic-concurrency race from a
// missing row when an update touched nothing.
func (s *SQLiteStore) checkVersioned(ctx context.Context, res sql.Result, table, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "sqlite: %s %s", table, id)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: check %s %s", table, id)
	}
	return eris.Wrapf(ErrVersionConflict, "sqlite: %s %s", table, id)
}

func sqliteLeadArgs(l *model.Lead) ([]any, error) {
	interests, err := encodeInterests(l.Interests)
	if err != nil {
		return nil, err
	}
	return []any{
		l.ID, l.Name, l.Email, l.Phone, nullInt(l.Age), l.Role, l.Company, l.Industry,
		l.Experience, l.Location, l.LinkedIn, l.Source, l.Category,
		l.PreferredChannel, string(interests), string(l.Status), l.Checked, l.ReadyToMeet,
		l.LeadScore, l.Insight, l.MeetingLink, nullTime(l.MeetingDate), l.Version,
		l.CreatedAt, l.UpdatedAt,
	}, nil
}

func scanSQLiteLead(row scannable) (*model.Lead, error) {
	var l model.Lead
	var age sql.NullInt64
	var interests string
	var meetingDate sql.NullTime
	err := row.Scan(
		&l.ID, &l.Name, &l.Email, &l.Phone, &age, &l.Role, &l.Company, &l.Industry,
		&l.Experience, &l.Location, &l.LinkedIn, &l.Source, &l.Category,
		&l.PreferredChannel, &interests, &l.Status, &l.Checked, &l.ReadyToMeet,
		&l.LeadScore, &l.Insight, &l.MeetingLink, &meetingDate, &l.Version,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if age.Valid {
		a := int(age.Int64)
		l.Age = &a
	}
	if meetingDate.Valid {
		t := meetingDate.Time
		l.MeetingDate = &t
	}
	if l.Interests, err = decodeInterests([]byte(interests)); err != nil {
		return nil, err
	}
	return &l, nil
}

func scanSQLiteMessage(row scannable) (*model.Message, error) {
	var m model.Message
	var next sql.NullTime
	err := row.Scan(
		&m.ID, &m.LeadID, &m.LeadEmail, &m.Subject, &m.Body, &m.Status,
		&next, &m.Version, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if next.Valid {
		t := next.Time
		m.NextTouchAt = &t
	}
	return &m, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func isSQLiteUnique(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
