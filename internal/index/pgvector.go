package index

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGVector keeps vectors in a PostgreSQL table using the pgvector extension.
type PGVector struct {
	db        *pgxpool.Pool
	dimension int
}

func NewPGVector(db *pgxpool.Pool, dimension int) *PGVector {
	return &PGVector{db: db, dimension: dimension}
}

// Connect opens a pool for dsn.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse index dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect index: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping index: %w", err)
	}

	return pool, nil
}

func (p *PGVector) EnsureSchema(ctx context.Context) error {
	if p.dimension <= 0 {
		return fmt.Errorf("index dimension must be positive, got %d", p.dimension)
	}

	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS candidate_vectors (
			namespace      TEXT NOT NULL,
			id             TEXT NOT NULL,
			embedding      vector(%d) NOT NULL,
			type           TEXT NOT NULL,
			application_id BIGINT NOT NULL,
			company_name   TEXT NOT NULL DEFAULT '',
			role           TEXT NOT NULL DEFAULT '',
			applied_date   DATE,
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (namespace, id)
		)`, p.dimension),
		`CREATE INDEX IF NOT EXISTS candidate_vectors_namespace_type_idx ON candidate_vectors (namespace, type)`,
	}

	for _, stmt := range statements {
		if _, err := p.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure index schema: %w", err)
		}
	}
	return nil
}

func (p *PGVector) Upsert(ctx context.Context, namespace, id string, vector []float32, meta Metadata) error {
	if p.dimension > 0 && len(vector) != p.dimension {
		return fmt.Errorf("upsert %s: dimension %d does not match %d", id, len(vector), p.dimension)
	}

	query := `
		INSERT INTO candidate_vectors (namespace, id, embedding, type, application_id, company_name, role, applied_date)
		VALUES ($1, $2, $3::vector, $4, $5, $6, $7, $8)
		ON CONFLICT (namespace, id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			type = EXCLUDED.type,
			application_id = EXCLUDED.application_id,
			company_name = EXCLUDED.company_name,
			role = EXCLUDED.role,
			applied_date = EXCLUDED.applied_date,
			updated_at = NOW()
	`

	var applied any
	if !meta.AppliedDate.IsZero() {
		applied = meta.AppliedDate
	}

	_, err := p.db.Exec(ctx, query,
		namespace, id, pgVector(vector),
		meta.Type, meta.ApplicationID, meta.CompanyName, meta.Role, applied,
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", id, err)
	}
	return nil
}

func (p *PGVector) Query(ctx context.Context, namespace string, vector []float32, filter Filter, topK int) ([]Candidate, error) {
	if topK <= 0 {
		return nil, nil
	}

	query := `
		SELECT id, 1 - (embedding <=> $1::vector) AS score, type, application_id, company_name, role, applied_date
		FROM candidate_vectors
		WHERE namespace = $2
		AND ($3 = '' OR type = $3)
		ORDER BY embedding <=> $1::vector
		LIMIT $4
	`

	rows, err := p.db.Query(ctx, query, pgVector(vector), namespace, filter.Type, topK)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var (
			c       Candidate
			applied *time.Time
		)
		if err := rows.Scan(&c.ID, &c.Score, &c.Metadata.Type, &c.Metadata.ApplicationID,
			&c.Metadata.CompanyName, &c.Metadata.Role, &applied); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		if applied != nil {
			c.Metadata.AppliedDate = *applied
		}
		out = append(out, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return out, nil
}

// pgVector renders v in the pgvector text input format.
func pgVector(v []float32) string {
	if len(v) == 0 {
		return "[0]"
	}

	buf := make([]byte, 0, len(v)*13+2)
	buf = append(buf, '[')
	for i, f := range v {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendFloat(buf, float64(f), 'g', -1, 32)
	}
	buf = append(buf, ']')
	return string(buf)
}
