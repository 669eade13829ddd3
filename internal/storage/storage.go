// Package storage persists application records and the lifecycle records
// linked to them.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

type Application struct {
	ID          int64     `json:"id"`
	User        string    `json:"user"`
	CompanyName string    `json:"company_name"`
	Role        string    `json:"role"`
	AppliedDate time.Time `json:"applied_date"`
	Location    string    `json:"location,omitempty"`
	JobID       string    `json:"job_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Rejection is unique per application.
type Rejection struct {
	ID            int64     `json:"id"`
	User          string    `json:"user"`
	ApplicationID int64     `json:"application_id"`
	RejectedDate  time.Time `json:"rejected_date"`
	CreatedAt     time.Time `json:"created_at"`
}

// Interview is unique per application and round.
type Interview struct {
	ID            int64     `json:"id"`
	User          string    `json:"user"`
	ApplicationID int64     `json:"application_id"`
	Round         string    `json:"round"`
	InterviewType string    `json:"interview_type,omitempty"`
	InterviewDate time.Time `json:"interview_date"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Offer is unique per application.
type Offer struct {
	ID            int64     `json:"id"`
	User          string    `json:"user"`
	ApplicationID int64     `json:"application_id"`
	OfferDate     time.Time `json:"offer_date"`
	Location      string    `json:"location,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Store is the record CRUD surface. Create methods assign the ID and return
// ErrDuplicate on a uniqueness conflict; Find and Get return ErrNotFound.
type Store interface {
	CreateApplication(ctx context.Context, app *Application) error
	GetApplication(ctx context.Context, user string, id int64) (*Application, error)
	UpdateApplication(ctx context.Context, app *Application) error
	ListApplications(ctx context.Context, user string) ([]*Application, error)

	CreateRejection(ctx context.Context, rej *Rejection) error
	FindRejection(ctx context.Context, user string, applicationID int64) (*Rejection, error)
	ListRejections(ctx context.Context, user string) ([]*Rejection, error)

	CreateInterview(ctx context.Context, iv *Interview) error
	FindInterview(ctx context.Context, user string, applicationID int64, round string) (*Interview, error)
	UpdateInterview(ctx context.Context, iv *Interview) error
	ListInterviews(ctx context.Context, user string) ([]*Interview, error)

	CreateOffer(ctx context.Context, offer *Offer) error
	FindOffer(ctx context.Context, user string, applicationID int64) (*Offer, error)
	UpdateOffer(ctx context.Context, offer *Offer) error
	ListOffers(ctx context.Context, user string) ([]*Offer, error)

	// Cursor returns the send time of the newest message already processed
	// for user, or the zero time.
	Cursor(ctx context.Context, user string) (time.Time, error)
	SetCursor(ctx context.Context, user string, at time.Time) error

	// MarkProcessed records that a message reached a final outcome so later
	// fetches of the same message are skipped. Marking twice is not an error.
	MarkProcessed(ctx context.Context, user, messageID string) error
	IsProcessed(ctx context.Context, user, messageID string) (bool, error)
}
