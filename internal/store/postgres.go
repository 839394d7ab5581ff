package store

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/sdr-cli/internal/db"
	"github.com/sells-group/sdr-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// the stage selections that run every cycle.
var preparedStatements = map[string]string{
	"find_leads_needing_enrichment": `SELECT ` + leadSelect + ` FROM leads WHERE lead_score = 0 OR insight = '' ORDER BY created_at ASC LIMIT $1`,
	"find_messages_by_status":       `SELECT ` + messageSelect + ` FROM messages WHERE status = $1 ORDER BY created_at ASC LIMIT $2`,
	"find_message_by_lead":          `SELECT ` + messageSelect + ` FROM messages WHERE lead_id = $1`,
	"get_lead":                      `SELECT ` + leadSelect + ` FROM leads WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name              TEXT NOT NULL,
	email             TEXT NOT NULL,
	phone             TEXT NOT NULL DEFAULT '',
	age               INTEGER CHECK (age >= 0),
	role              TEXT NOT NULL DEFAULT '',
	company           TEXT NOT NULL DEFAULT '',
	industry          TEXT NOT NULL DEFAULT 'Technology',
	experience        INTEGER NOT NULL DEFAULT 0 CHECK (experience >= 0),
	location          TEXT NOT NULL DEFAULT '',
	linkedin          TEXT NOT NULL DEFAULT '',
	source            TEXT NOT NULL DEFAULT '',
	category          TEXT NOT NULL DEFAULT 'general',
	preferred_channel TEXT NOT NULL DEFAULT 'email',
	interests         JSONB NOT NULL DEFAULT '[]',
	status            TEXT NOT NULL DEFAULT 'new',
	checked           BOOLEAN NOT NULL DEFAULT false,
	ready_to_meet     BOOLEAN NOT NULL DEFAULT false,
	lead_score        INTEGER NOT NULL DEFAULT 0 CHECK (lead_score BETWEEN 0 AND 100),
	insight           TEXT NOT NULL DEFAULT '',
	meeting_link      TEXT NOT NULL DEFAULT '',
	meeting_date      TIMESTAMPTZ,
	version           BIGINT NOT NULL DEFAULT 1,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_leads_email ON leads(email);
CREATE UNIQUE INDEX IF NOT EXISTS idx_leads_phone ON leads(phone) WHERE phone <> '';
CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(status, checked, created_at);
CREATE INDEX IF NOT EXISTS idx_leads_unscored ON leads(created_at) WHERE lead_score = 0 OR insight = '';

CREATE TABLE IF NOT EXISTS messages (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	lead_id       TEXT NOT NULL REFERENCES leads(id),
	lead_email    TEXT NOT NULL,
	subject       TEXT NOT NULL,
	body          TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	next_touch_at TIMESTAMPTZ,
	version       BIGINT NOT NULL DEFAULT 1,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_lead_id ON messages(lead_id);
CREATE INDEX IF NOT EXISTS idx_messages_status ON messages(status, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_next_touch ON messages(next_touch_at) WHERE status = 'sent';
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Leads ---

func (s *PostgresStore) FindLeadsNeedingEnrichment(ctx context.Context, limit int) ([]model.Lead, error) {
	return s.queryLeads(ctx, "find leads needing enrichment",
		`SELECT `+leadSelect+` FROM leads WHERE lead_score = 0 OR insight = '' ORDER BY created_at ASC LIMIT $1`,
		limit,
	)
}

func (s *PostgresStore) FindLeadsByStatus(ctx context.Context, status model.LeadStatus, filter LeadFilter, limit int) ([]model.Lead, error) {
	query := `SELECT ` + leadSelect + ` FROM leads WHERE status = $1`
	args := []any{string(status)}
	if filter.Checked != nil {
		args = append(args, *filter.Checked)
		query += ` AND checked = $` + strconv.Itoa(len(args))
	}
	if filter.MessageStatus != nil {
		args = append(args, string(*filter.MessageStatus))
		query += ` AND EXISTS (SELECT 1 FROM messages m WHERE m.lead_id = leads.id AND m.status = $` + strconv.Itoa(len(args)) + `)`
	}
	args = append(args, limit)
	query += ` ORDER BY created_at ASC LIMIT $` + strconv.Itoa(len(args))
	return s.queryLeads(ctx, "find leads by status", query, args...)
}

func (s *PostgresStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+leadSelect+` FROM leads WHERE id = $1`, id)
	l, err := scanPostgresLead(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get lead %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get lead %s", id)
	}
	return l, nil
}

func (s *PostgresStore) CreateLead(ctx context.Context, lead *model.Lead) error {
	if err := prepareNewLead(lead, time.Now().UTC()); err != nil {
		return eris.Wrap(err, "postgres: create lead")
	}
	args, err := postgresLeadArgs(lead)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO leads (`+leadSelect+`) VALUES (`+dollarPlaceholders(len(leadColumns))+`)`,
		args...,
	)
	if isPgUnique(err) {
		return eris.Wrapf(ErrDuplicate, "postgres: create lead %s", lead.Email)
	}
	return eris.Wrap(err, "postgres: create lead")
}

// InsertLeads bulk-loads leads with COPY, skipping rows that collide with an
// existing email or phone.
func (s *PostgresStore) InsertLeads(ctx context.Context, leads []model.Lead) (int, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(leads))
	for i := range leads {
		l := &leads[i]
		if err := prepareNewLead(l, now); err != nil {
			return 0, eris.Wrapf(err, "postgres: insert leads: row %d", i)
		}
		args, err := postgresLeadArgs(l)
		if err != nil {
			return 0, err
		}
		rows = append(rows, args)
	}
	n, err := db.BulkInsertIgnore(ctx, s.pool, db.InsertConfig{
		Table:   "leads",
		Columns: leadColumns,
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert leads")
	}
	return int(n), nil
}

func (s *PostgresStore) ListLeadEmails(ctx context.Context, emails []string) ([]string, error) {
	if len(emails) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT email FROM leads WHERE email = ANY($1)`, emails)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list lead emails")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead email")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list lead emails iterate")
}

func (s *PostgresStore) SaveLead(ctx context.Context, lead *model.Lead) error {
	lead.LeadScore = model.ClampScore(lead.LeadScore)
	if err := lead.Validate(); err != nil {
		return eris.Wrapf(err, "postgres: save lead %s", lead.ID)
	}
	interests, err := encodeInterests(lead.Interests)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET name = $1, email = $2, phone = $3, age = $4, role = $5, company = $6,
			industry = $7, experience = $8, location = $9, linkedin = $10, source = $11, category = $12,
			preferred_channel = $13, interests = $14, status = $15, checked = $16, ready_to_meet = $17,
			lead_score = $18, insight = $19, meeting_link = $20, meeting_date = $21,
			version = version + 1, updated_at = $22
		 WHERE id = $23 AND version = $24`,
		lead.Name, lead.Email, lead.Phone, lead.Age, lead.Role, lead.Company,
		lead.Industry, lead.Experience, lead.Location, lead.LinkedIn, lead.Source, lead.Category,
		lead.PreferredChannel, interests, string(lead.Status), lead.Checked, lead.ReadyToMeet,
		lead.LeadScore, lead.Insight, lead.MeetingLink, lead.MeetingDate,
		now, lead.ID, lead.Version,
	)
	if isPgUnique(err) {
		return eris.Wrapf(ErrDuplicate, "postgres: save lead %s", lead.ID)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: save lead %s", lead.ID)
	}
	if err := s.checkVersioned(ctx, tag, "leads", lead.ID); err != nil {
		return err
	}
	lead.Version++
	lead.UpdatedAt = now
	return nil
}

func (s *PostgresStore) CountLeadsByStatus(ctx context.Context) (map[model.LeadStatus]int, error) {
	counts := make(map[model.LeadStatus]int)
	err := s.countBy(ctx, `SELECT status, COUNT(*) FROM leads GROUP BY status`, func(status string, n int) {
		counts[model.LeadStatus(status)] = n
	})
	return counts, eris.Wrap(err, "postgres: count leads by status")
}

// --- Messages ---

func (s *PostgresStore) FindMessagesByStatus(ctx context.Context, status model.MessageStatus, limit int) ([]model.Message, error) {
	return s.queryMessages(ctx, "find messages by status",
		`SELECT `+messageSelect+` FROM messages WHERE status = $1 ORDER BY created_at ASC LIMIT $2`,
		string(status), limit,
	)
}

func (s *PostgresStore) FindMessagesDue(ctx context.Context, cutoff time.Time) ([]model.Message, error) {
	return s.queryMessages(ctx, "find messages due",
		`SELECT `+messageSelect+` FROM messages
		 WHERE status = $1 AND next_touch_at IS NOT NULL AND next_touch_at <= $2
		 ORDER BY next_touch_at ASC`,
		string(model.MessageStatusSent), cutoff.UTC(),
	)
}

func (s *PostgresStore) FindMessageByLead(ctx context.Context, leadID string) (*model.Message, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+messageSelect+` FROM messages WHERE lead_id = $1`, leadID)
	m, err := scanPostgresMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find message for lead %s", leadID)
	}
	return m, nil
}

func (s *PostgresStore) CreateMessage(ctx context.Context, msg *model.Message) error {
	if err := prepareNewMessage(msg, time.Now().UTC()); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (`+messageSelect+`) VALUES (`+dollarPlaceholders(len(messageColumns))+`)`,
		msg.ID, msg.LeadID, msg.LeadEmail, msg.Subject, msg.Body, string(msg.Status),
		msg.NextTouchAt, msg.Version, msg.CreatedAt, msg.UpdatedAt,
	)
	if isPgUnique(err) {
		return eris.Wrapf(ErrDuplicate, "postgres: create message for lead %s", msg.LeadID)
	}
	return eris.Wrapf(err, "postgres: create message for lead %s", msg.LeadID)
}

func (s *PostgresStore) SaveMessage(ctx context.Context, msg *model.Message) error {
	if !msg.Status.Valid() {
		return eris.Errorf("postgres: save message %s: invalid status %q", msg.ID, msg.Status)
	}
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET lead_email = $1, subject = $2, body = $3, status = $4, next_touch_at = $5,
			version = version + 1, updated_at = $6
		 WHERE id = $7 AND version = $8`,
		msg.LeadEmail, msg.Subject, msg.Body, string(msg.Status), msg.NextTouchAt,
		now, msg.ID, msg.Version,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save message %s", msg.ID)
	}
	if err := s.checkVersioned(ctx, tag, "messages", msg.ID); err != nil {
		return err
	}
	msg.Version++
	msg.UpdatedAt = now
	return nil
}

func (s *PostgresStore) CountMessagesByStatus(ctx context.Context) (map[model.MessageStatus]int, error) {
	counts := make(map[model.MessageStatus]int)
	err := s.countBy(ctx, `SELECT status, COUNT(*) FROM messages GROUP BY status`, func(status string, n int) {
		counts[model.MessageStatus(status)] = n
	})
	return counts, eris.Wrap(err, "postgres: count messages by status")
}

// helpers

func (s *PostgresStore) queryLeads(ctx context.Context, op, query string, args ...any) ([]model.Lead, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s", op)
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanPostgresLead(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: %s", op)
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrapf(rows.Err(), "postgres: %s iterate", op)
}

func (s *PostgresStore) queryMessages(ctx context.Context, op, query string, args ...any) ([]model.Message, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s", op)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		m, err := scanPostgresMessage(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: %s", op)
		}
		msgs = append(msgs, *m)
	}
	return msgs, eris.Wrapf(rows.Err(), "postgres: %s iterate", op)
}

func (s *PostgresStore) countBy(ctx context.Context, query string, fn func(string, int)) error {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		fn(key, int(n))
	}
	return rows.Err()
}

func (s *PostgresStore) checkVersioned(ctx context.Context, tag pgconn.CommandTag, table, id string) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return eris.Wrapf(err, "postgres: check %s %s", table, id)
	}
	if !exists {
		return eris.Wrapf(ErrNotFound, "postgres: %s %s", table, id)
	}
	return eris.Wrapf(ErrVersionConflict, "postgres: %s %s", table, id)
}

func postgresLeadArgs(l *model.Lead) ([]any, error) {
	interests, err := encodeInterests(l.Interests)
	if err != nil {
		return nil, err
	}
	return []any{
		l.ID, l.Name, l.Email, l.Phone, l.Age, l.Role, l.Company, l.Industry,
		l.Experience, l.Location, l.LinkedIn, l.Source, l.Category,
		l.PreferredChannel, interests, string(l.Status), l.Checked, l.ReadyToMeet,
		l.LeadScore, l.Insight, l.MeetingLink, l.MeetingDate, l.Version,
		l.CreatedAt, l.UpdatedAt,
	}, nil
}

func scanPostgresLead(row scannable) (*model.Lead, error) {
	var l model.Lead
	var status string
	var interests []byte
	err := row.Scan(
		&l.ID, &l.Name, &l.Email, &l.Phone, &l.Age, &l.Role, &l.Company, &l.Industry,
		&l.Experience, &l.Location, &l.LinkedIn, &l.Source, &l.Category,
		&l.PreferredChannel, &interests, &status, &l.Checked, &l.ReadyToMeet,
		&l.LeadScore, &l.Insight, &l.MeetingLink, &l.MeetingDate, &l.Version,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	l.Status = model.LeadStatus(status)
	if l.Interests, err = decodeInterests(interests); err != nil {
		return nil, err
	}
	return &l, nil
}

func scanPostgresMessage(row scannable) (*model.Message, error) {
	var m model.Message
	var status string
	err := row.Scan(
		&m.ID, &m.LeadID, &m.LeadEmail, &m.Subject, &m.Body, &status,
		&m.NextTouchAt, &m.Version, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Status = model.MessageStatus(status)
	return &m, nil
}

func dollarPlaceholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "$" + strconv.Itoa(i+1)
	}
	return strings.Join(parts, ", ")
}

func isPgUnique(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
