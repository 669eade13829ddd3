// Package index stores application vectors per user and answers nearest
// neighbour queries over them.
package index

import (
	"context"
	"strconv"
	"time"
)

// TypeApplication marks vectors that describe an application record.
const TypeApplication = "application"

type Metadata struct {
	Type          string    `json:"type"`
	ApplicationID int64     `json:"application_id"`
	CompanyName   string    `json:"company_name"`
	Role          string    `json:"role"`
	AppliedDate   time.Time `json:"applied_date"`
}

// Candidate is one query hit. Score is the index-native similarity, higher is
// closer.
type Candidate struct {
	ID       string
	Score    float64
	Metadata Metadata
}

// Filter restricts a query. Empty fields match everything.
type Filter struct {
	Type string
}

func (f Filter) matches(m Metadata) bool {
	return f.Type == "" || f.Type == m.Type
}

// Index is scoped by namespace, one per user. Upsert overwrites by id; Query
// returns at most topK candidates ordered by descending score.
type Index interface {
	Upsert(ctx context.Context, namespace, id string, vector []float32, meta Metadata) error
	Query(ctx context.Context, namespace string, vector []float32, filter Filter, topK int) ([]Candidate, error)
}

// VectorID is the index key of an application record.
func VectorID(applicationID int64) string {
	return TypeApplication + "_" + strconv.FormatInt(applicationID, 10)
}
