package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// Postgres is a Store backed by PostgreSQL through sqlx and lib/pq.
type Postgres struct {
	db *sqlx.DB
}

func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

// Open connects to dsn with the lib/pq driver.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect storage: %w", err)
	}
	return db, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS applications (
		id           BIGSERIAL PRIMARY KEY,
		user_email   TEXT NOT NULL,
		company_name TEXT NOT NULL,
		role         TEXT NOT NULL,
		applied_date DATE,
		location     TEXT NOT NULL DEFAULT '',
		job_id       TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS applications_user_idx ON applications (user_email)`,
	`CREATE TABLE IF NOT EXISTS rejections (
		id             BIGSERIAL PRIMARY KEY,
		user_email     TEXT NOT NULL,
		application_id BIGINT NOT NULL REFERENCES applications (id),
		rejected_date  DATE,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (user_email, application_id)
	)`,
	`CREATE TABLE IF NOT EXISTS interviews (
		id             BIGSERIAL PRIMARY KEY,
		user_email     TEXT NOT NULL,
		application_id BIGINT NOT NULL REFERENCES applications (id),
		round          TEXT NOT NULL,
		interview_type TEXT NOT NULL DEFAULT '',
		interview_date DATE,
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (user_email, application_id, round)
	)`,
	`CREATE TABLE IF NOT EXISTS offers (
		id             BIGSERIAL PRIMARY KEY,
		user_email     TEXT NOT NULL,
		application_id BIGINT NOT NULL REFERENCES applications (id),
		offer_date     DATE,
		location       TEXT NOT NULL DEFAULT '',
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (user_email, application_id)
	)`,
	`CREATE TABLE IF NOT EXISTS parse_cursors (
		user_email     TEXT PRIMARY KEY,
		last_parsed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS processed_messages (
		user_email   TEXT NOT NULL,
		message_id   TEXT NOT NULL,
		processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_email, message_id)
	)`,
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure storage schema: %w", err)
		}
	}
	return nil
}

type applicationRow struct {
	ID          int64        `db:"id"`
	User        string       `db:"user_email"`
	CompanyName string       `db:"company_name"`
	Role        string       `db:"role"`
	AppliedDate sql.NullTime `db:"applied_date"`
	Location    string       `db:"location"`
	JobID       string       `db:"job_id"`
	CreatedAt   time.Time    `db:"created_at"`
}

func (r applicationRow) toEntity() *Application {
	return &Application{
		ID:          r.ID,
		User:        r.User,
		CompanyName: r.CompanyName,
		Role:        r.Role,
		AppliedDate: r.AppliedDate.Time,
		Location:    r.Location,
		JobID:       r.JobID,
		CreatedAt:   r.CreatedAt,
	}
}

type rejectionRow struct {
	ID            int64        `db:"id"`
	User          string       `db:"user_email"`
	ApplicationID int64        `db:"application_id"`
	RejectedDate  sql.NullTime `db:"rejected_date"`
	CreatedAt     time.Time    `db:"created_at"`
}

func (r rejectionRow) toEntity() *Rejection {
	return &Rejection{
		ID:            r.ID,
		User:          r.User,
		ApplicationID: r.ApplicationID,
		RejectedDate:  r.RejectedDate.Time,
		CreatedAt:     r.CreatedAt,
	}
}

type interviewRow struct {
	ID            int64        `db:"id"`
	User          string       `db:"user_email"`
	ApplicationID int64        `db:"application_id"`
	Round         string       `db:"round"`
	InterviewType string       `db:"interview_type"`
	InterviewDate sql.NullTime `db:"interview_date"`
	UpdatedAt     time.Time    `db:"updated_at"`
}

func (r interviewRow) toEntity() *Interview {
	return &Interview{
		ID:            r.ID,
		User:          r.User,
		ApplicationID: r.ApplicationID,
		Round:         r.Round,
		InterviewType: r.InterviewType,
		InterviewDate: r.InterviewDate.Time,
		UpdatedAt:     r.UpdatedAt,
	}
}

type offerRow struct {
	ID            int64        `db:"id"`
	User          string       `db:"user_email"`
	ApplicationID int64        `db:"application_id"`
	OfferDate     sql.NullTime `db:"offer_date"`
	Location      string       `db:"location"`
	UpdatedAt     time.Time    `db:"updated_at"`
}

func (r offerRow) toEntity() *Offer {
	return &Offer{
		ID:            r.ID,
		User:          r.User,
		ApplicationID: r.ApplicationID,
		OfferDate:     r.OfferDate.Time,
		Location:      r.Location,
		UpdatedAt:     r.UpdatedAt,
	}
}

func nullDate(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// translate maps driver errors onto the package sentinels.
func translate(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", op, ErrDuplicate)
	}

	return fmt.Errorf("%s: %w", op, err)
}

func expectOne(op string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

func (p *Postgres) CreateApplication(ctx context.Context, app *Application) error {
	query := `
		INSERT INTO applications (user_email, company_name, role, applied_date, location, job_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	row := p.db.QueryRowxContext(ctx, query,
		app.User, app.CompanyName, app.Role, nullDate(app.AppliedDate), app.Location, app.JobID)
	if err := row.Scan(&app.ID, &app.CreatedAt); err != nil {
		return translate("create application", err)
	}
	return nil
}

func (p *Postgres) GetApplication(ctx context.Context, user string, id int64) (*Application, error) {
	query := `
		SELECT id, user_email, company_name, role, applied_date, location, job_id, created_at
		FROM applications
		WHERE id = $1 AND user_email = $2`

	var row applicationRow
	if err := p.db.GetContext(ctx, &row, query, id, user); err != nil {
		return nil, translate("get application", err)
	}
	return row.toEntity(), nil
}

func (p *Postgres) UpdateApplication(ctx context.Context, app *Application) error {
	query := `
		UPDATE applications
		SET company_name = $1, role = $2, applied_date = $3, location = $4, job_id = $5
		WHERE id = $6 AND user_email = $7`

	res, err := p.db.ExecContext(ctx, query,
		app.CompanyName, app.Role, nullDate(app.AppliedDate), app.Location, app.JobID, app.ID, app.User)
	if err != nil {
		return translate("update application", err)
	}
	return expectOne("update application", res)
}

func (p *Postgres) ListApplications(ctx context.Context, user string) ([]*Application, error) {
	query := `
		SELECT id, user_email, company_name, role, applied_date, location, job_id, created_at
		FROM applications
		WHERE user_email = $1
		ORDER BY id`

	var rows []applicationRow
	if err := p.db.SelectContext(ctx, &rows, query, user); err != nil {
		return nil, translate("list applications", err)
	}

	apps := make([]*Application, len(rows))
	for i, row := range rows {
		apps[i] = row.toEntity()
	}
	return apps, nil
}

func (p *Postgres) CreateRejection(ctx context.Context, rej *Rejection) error {
	query := `
		INSERT INTO rejections (user_email, application_id, rejected_date)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	row := p.db.QueryRowxContext(ctx, query, rej.User, rej.ApplicationID, nullDate(rej.RejectedDate))
	if err := row.Scan(&rej.ID, &rej.CreatedAt); err != nil {
		return translate("create rejection", err)
	}
	return nil
}

func (p *Postgres) FindRejection(ctx context.Context, user string, applicationID int64) (*Rejection, error) {
	query := `
		SELECT id, user_email, application_id, rejected_date, created_at
		FROM rejections
		WHERE user_email = $1 AND application_id = $2`

	var row rejectionRow
	if err := p.db.GetContext(ctx, &row, query, user, applicationID); err != nil {
		return nil, translate("find rejection", err)
	}
	return row.toEntity(), nil
}

func (p *Postgres) ListRejections(ctx context.Context, user string) ([]*Rejection, error) {
	query := `
		SELECT id, user_email, application_id, rejected_date, created_at
		FROM rejections
		WHERE user_email = $1
		ORDER BY id`

	var rows []rejectionRow
	if err := p.db.SelectContext(ctx, &rows, query, user); err != nil {
		return nil, translate("list rejections", err)
	}

	out := make([]*Rejection, len(rows))
	for i, row := range rows {
		out[i] = row.toEntity()
	}
	return out, nil
}

func (p *Postgres) CreateInterview(ctx context.Context, iv *Interview) error {
	query := `
		INSERT INTO interviews (user_email, application_id, round, interview_type, interview_date)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, updated_at`

	row := p.db.QueryRowxContext(ctx, query,
		iv.User, iv.ApplicationID, iv.Round, iv.InterviewType, nullDate(iv.InterviewDate))
	if err := row.Scan(&iv.ID, &iv.UpdatedAt); err != nil {
		return translate("create interview", err)
	}
	return nil
}

func (p *Postgres) FindInterview(ctx context.Context, user string, applicationID int64, round string) (*Interview, error) {
	query := `
		SELECT id, user_email, application_id, round, interview_type, interview_date, updated_at
		FROM interviews
		WHERE user_email = $1 AND application_id = $2 AND round = $3`

	var row interviewRow
	if err := p.db.GetContext(ctx, &row, query, user, applicationID, round); err != nil {
		return nil, translate("find interview", err)
	}
	return row.toEntity(), nil
}

func (p *Postgres) UpdateInterview(ctx context.Context, iv *Interview) error {
	query := `
		UPDATE interviews
		SET interview_type = $1, interview_date = $2, updated_at = NOW()
		WHERE id = $3 AND user_email = $4
		RETURNING updated_at`

	row := p.db.QueryRowxContext(ctx, query, iv.InterviewType, nullDate(iv.InterviewDate), iv.ID, iv.User)
	if err := row.Scan(&iv.UpdatedAt); err != nil {
		return translate("update interview", err)
	}
	return nil
}

func (p *Postgres) ListInterviews(ctx context.Context, user string) ([]*Interview, error) {
	query := `
		SELECT id, user_email, application_id, round, interview_type, interview_date, updated_at
		FROM interviews
		WHERE user_email = $1
		ORDER BY id`

	var rows []interviewRow
	if err := p.db.SelectContext(ctx, &rows, query, user); err != nil {
		return nil, translate("list interviews", err)
	}

	out := make([]*Interview, len(rows))
	for i, row := range rows {
		out[i] = row.toEntity()
	}
	return out, nil
}

func (p *Postgres) CreateOffer(ctx context.Context, offer *Offer) error {
	query := `
		INSERT INTO offers (user_email, application_id, offer_date, location)
		VALUES ($1, $2, $3, $4)
		RETURNING id, updated_at`

	row := p.db.QueryRowxContext(ctx, query,
		offer.User, offer.ApplicationID, nullDate(offer.OfferDate), offer.Location)
	if err := row.Scan(&offer.ID, &offer.UpdatedAt); err != nil {
		return translate("create offer", err)
	}
	return nil
}

func (p *Postgres) FindOffer(ctx context.Context, user string, applicationID int64) (*Offer, error) {
	query := `
		SELECT id, user_email, application_id, offer_date, location, updated_at
		FROM offers
		WHERE user_email = $1 AND application_id = $2`

	var row offerRow
	if err := p.db.GetContext(ctx, &row, query, user, applicationID); err != nil {
		return nil, translate("find offer", err)
	}
	return row.toEntity(), nil
}

func (p *Postgres) UpdateOffer(ctx context.Context, offer *Offer) error {
	query := `
		UPDATE offers
		SET offer_date = $1, location = $2, updated_at = NOW()
		WHERE id = $3 AND user_email = $4
		RETURNING updated_at`

	row := p.db.QueryRowxContext(ctx, query, nullDate(offer.OfferDate), offer.Location, offer.ID, offer.User)
	if err := row.Scan(&offer.UpdatedAt); err != nil {
		return translate("update offer", err)
	}
	return nil
}

func (p *Postgres) ListOffers(ctx context.Context, user string) ([]*Offer, error) {
	query := `
		SELECT id, user_email, application_id, offer_date, location, updated_at
		FROM offers
		WHERE user_email = $1
		ORDER BY id`

	var rows []offerRow
	if err := p.db.SelectContext(ctx, &rows, query, user); err != nil {
		return nil, translate("list offers", err)
	}

	out := make([]*Offer, len(rows))
	for i, row := range rows {
		out[i] = row.toEntity()
	}
	return out, nil
}

func (p *Postgres) Cursor(ctx context.Context, user string) (time.Time, error) {
	var at time.Time
	err := p.db.GetContext(ctx, &at, `SELECT last_parsed_at FROM parse_cursors WHERE user_email = $1`, user)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, translate("read cursor", err)
	}
	return at, nil
}

func (p *Postgres) SetCursor(ctx context.Context, user string, at time.Time) error {
	query := `
		INSERT INTO parse_cursors (user_email, last_parsed_at)
		VALUES ($1, $2)
		ON CONFLICT (user_email) DO UPDATE SET last_parsed_at = EXCLUDED.last_parsed_at`

	if _, err := p.db.ExecContext(ctx, query, user, at); err != nil {
		return translate("set cursor", err)
	}
	return nil
}

func (p *Postgres) MarkProcessed(ctx context.Context, user, messageID string) error {
	query := `
		INSERT INTO processed_messages (user_email, message_id)
		VALUES ($1, $2)
		ON CONFLICT (user_email, message_id) DO NOTHING`

	if _, err := p.db.ExecContext(ctx, query, user, messageID); err != nil {
		return translate("mark processed", err)
	}
	return nil
}

func (p *Postgres) IsProcessed(ctx context.Context, user, messageID string) (bool, error) {
	var seen bool
	query := `SELECT EXISTS (SELECT 1 FROM processed_messages WHERE user_email = $1 AND message_id = $2)`
	if err := p.db.GetContext(ctx, &seen, query, user, messageID); err != nil {
		return false, translate("check processed", err)
	}
	return seen, nil
}
