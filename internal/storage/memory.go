package storage

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

type interviewKey struct {
	user          string
	applicationID int64
	round         string
}

type appKey struct {
	user          string
	applicationID int64
}

// Memory is a process-local Store.
type Memory struct {
	mu sync.Mutex

	nextID       int64
	applications map[int64]Application
	rejections   map[appKey]Rejection
	interviews   map[interviewKey]Interview
	offers       map[appKey]Offer
	cursors      map[string]time.Time
	processed    map[string]map[string]struct{}

	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		applications: make(map[int64]Application),
		rejections:   make(map[appKey]Rejection),
		interviews:   make(map[interviewKey]Interview),
		offers:       make(map[appKey]Offer),
		cursors:      make(map[string]time.Time),
		processed:    make(map[string]map[string]struct{}),
		now:          time.Now,
	}
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *Memory) CreateApplication(_ context.Context, app *Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	app.ID = m.id()
	app.CreatedAt = m.now()
	m.applications[app.ID] = *app
	return nil
}

func (m *Memory) GetApplication(_ context.Context, user string, id int64) (*Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	app, ok := m.applications[id]
	if !ok || app.User != user {
		return nil, fmt.Errorf("application %d: %w", id, ErrNotFound)
	}
	return &app, nil
}

func (m *Memory) UpdateApplication(_ context.Context, app *Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.applications[app.ID]
	if !ok || existing.User != app.User {
		return fmt.Errorf("application %d: %w", app.ID, ErrNotFound)
	}
	app.CreatedAt = existing.CreatedAt
	m.applications[app.ID] = *app
	return nil
}

func (m *Memory) ListApplications(_ context.Context, user string) ([]*Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Application
	for _, app := range m.applications {
		if app.User == user {
			a := app
			out = append(out, &a)
		}
	}

	slices.SortFunc(out, func(a, b *Application) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (m *Memory) CreateRejection(_ context.Context, rej *Rejection) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := appKey{user: rej.User, applicationID: rej.ApplicationID}
	if _, ok := m.rejections[key]; ok {
		return fmt.Errorf("rejection for application %d: %w", rej.ApplicationID, ErrDuplicate)
	}

	rej.ID = m.id()
	rej.CreatedAt = m.now()
	m.rejections[key] = *rej
	return nil
}

func (m *Memory) FindRejection(_ context.Context, user string, applicationID int64) (*Rejection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rej, ok := m.rejections[appKey{user: user, applicationID: applicationID}]
	if !ok {
		return nil, fmt.Errorf("rejection for application %d: %w", applicationID, ErrNotFound)
	}
	return &rej, nil
}

func (m *Memory) ListRejections(_ context.Context, user string) ([]*Rejection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Rejection
	for key, rej := range m.rejections {
		if key.user == user {
			r := rej
			out = append(out, &r)
		}
	}

	slices.SortFunc(out, func(a, b *Rejection) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (m *Memory) CreateInterview(_ context.Context, iv *Interview) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := interviewKey{user: iv.User, applicationID: iv.ApplicationID, round: iv.Round}
	if _, ok := m.interviews[key]; ok {
		return fmt.Errorf("interview %q for application %d: %w", iv.Round, iv.ApplicationID, ErrDuplicate)
	}

	iv.ID = m.id()
	iv.UpdatedAt = m.now()
	m.interviews[key] = *iv
	return nil
}

func (m *Memory) FindInterview(_ context.Context, user string, applicationID int64, round string) (*Interview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	iv, ok := m.interviews[interviewKey{user: user, applicationID: applicationID, round: round}]
	if !ok {
		return nil, fmt.Errorf("interview %q for application %d: %w", round, applicationID, ErrNotFound)
	}
	return &iv, nil
}

func (m *Memory) UpdateInterview(_ context.Context, iv *Interview) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := interviewKey{user: iv.User, applicationID: iv.ApplicationID, round: iv.Round}
	existing, ok := m.interviews[key]
	if !ok || existing.ID != iv.ID {
		return fmt.Errorf("interview %d: %w", iv.ID, ErrNotFound)
	}

	iv.UpdatedAt = m.now()
	m.interviews[key] = *iv
	return nil
}

func (m *Memory) ListInterviews(_ context.Context, user string) ([]*Interview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Interview
	for key, iv := range m.interviews {
		if key.user == user {
			i := iv
			out = append(out, &i)
		}
	}

	slices.SortFunc(out, func(a, b *Interview) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (m *Memory) CreateOffer(_ context.Context, offer *Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := appKey{user: offer.User, applicationID: offer.ApplicationID}
	if _, ok := m.offers[key]; ok {
		return fmt.Errorf("offer for application %d: %w", offer.ApplicationID, ErrDuplicate)
	}

	offer.ID = m.id()
	offer.UpdatedAt = m.now()
	m.offers[key] = *offer
	return nil
}

func (m *Memory) FindOffer(_ context.Context, user string, applicationID int64) (*Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	offer, ok := m.offers[appKey{user: user, applicationID: applicationID}]
	if !ok {
		return nil, fmt.Errorf("offer for application %d: %w", applicationID, ErrNotFound)
	}
	return &offer, nil
}

func (m *Memory) UpdateOffer(_ context.Context, offer *Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := appKey{user: offer.User, applicationID: offer.ApplicationID}
	existing, ok := m.offers[key]
	if !ok || existing.ID != offer.ID {
		return fmt.Errorf("offer %d: %w", offer.ID, ErrNotFound)
	}

	offer.UpdatedAt = m.now()
	m.offers[key] = *offer
	return nil
}

func (m *Memory) ListOffers(_ context.Context, user string) ([]*Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Offer
	for key, offer := range m.offers {
		if key.user == user {
			o := offer
			out = append(out, &o)
		}
	}

	slices.SortFunc(out, func(a, b *Offer) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (m *Memory) Cursor(_ context.Context, user string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.cursors[user], nil
}

func (m *Memory) SetCursor(_ context.Context, user string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cursors[user] = at
	return nil
}

func (m *Memory) MarkProcessed(_ context.Context, user, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen, ok := m.processed[user]
	if !ok {
		seen = make(map[string]struct{})
		m.processed[user] = seen
	}
	seen[messageID] = struct{}{}
	return nil
}

func (m *Memory) IsProcessed(_ context.Context, user, messageID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.processed[user][messageID]
	return ok, nil
}
