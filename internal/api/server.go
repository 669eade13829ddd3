// Package api exposes manual pipeline triggers over HTTP.
package api

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spigell/jobmail/internal/logger"
	"github.com/spigell/jobmail/internal/mailbox"
	"github.com/spigell/jobmail/internal/pipeline"
	"github.com/spigell/jobmail/internal/storage"
)

type Processor interface {
	Process(ctx context.Context, user string, email mailbox.Email) pipeline.Outcome
}

type Syncer interface {
	Sync(ctx context.Context, user string) (pipeline.Summary, error)
}

type Config struct {
	Listen string `mapstructure:"listen"`
	// Users limits the accepted :user values. Empty accepts any user.
	Users []string `mapstructure:"-"`
}

type Deps struct {
	Processor Processor
	Syncer    Syncer
	Store     storage.Store
	Logger    *zap.Logger
}

type Server struct {
	app    *fiber.App
	cfg    Config
	deps   Deps
	logger *zap.Logger
	now    func() time.Time
}

type emailRequest struct {
	ID      string    `json:"id"`
	From    string    `json:"from"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sent_at"`
}

// applicationPatch lists the application fields a user may correct. Company
// and role stay fixed because the candidate index is keyed on them.
type applicationPatch struct {
	Location    *string `json:"location"`
	JobID       *string `json:"job_id"`
	AppliedDate *string `json:"applied_date"`
}

type cursorRequest struct {
	Since string `json:"since"`
}

type cursorResponse struct {
	User  string    `json:"user"`
	Since time.Time `json:"since"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Processor == nil {
		return nil, errors.New("processor is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	s := &Server{cfg: cfg, deps: deps, logger: deps.Logger, now: time.Now}

	s.app = fiber.New(fiber.Config{
		AppName:               "jobmail",
		DisableStartupMessage: true,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		BodyLimit:             2 * 1024 * 1024,
		ErrorHandler:          s.handleError,
	})

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	users := s.app.Group("/api/v1/users")
	users.Post("/:user/emails", s.withUser(s.processEmail))
	users.Post("/:user/process", s.withUser(s.syncUser))
	users.Get("/:user/applications", s.withUser(s.listApplications))
	users.Get("/:user/applications/:id", s.withUser(s.getApplication))
	users.Patch("/:user/applications/:id", s.withUser(s.patchApplication))
	users.Get("/:user/rejections", s.withUser(s.listRejections))
	users.Get("/:user/interviews", s.withUser(s.listInterviews))
	users.Get("/:user/offers", s.withUser(s.listOffers))
	users.Put("/:user/cursor", s.withUser(s.setCursor))
}

// App exposes the fiber app for tests and embedding.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Listen() error {
	addr := s.cfg.Listen
	if addr == "" {
		addr = ":8080"
	}
	s.logger.Info("http server listening", zap.String("addr", addr))
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

type userHandler func(c *fiber.Ctx, user string) error

func (s *Server) withUser(next userHandler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// fiber reuses the params buffer after the handler returns.
		user := strings.TrimSpace(strings.Clone(c.Params("user")))
		if user == "" {
			return fiber.NewError(fiber.StatusBadRequest, "user is required")
		}
		if len(s.cfg.Users) > 0 && !slices.Contains(s.cfg.Users, user) {
			return fiber.NewError(fiber.StatusNotFound, "unknown user")
		}
		return next(c, user)
	}
}

func (s *Server) processEmail(c *fiber.Ctx, user string) error {
	var req emailRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if strings.TrimSpace(req.Subject) == "" && strings.TrimSpace(req.Body) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "subject or body is required")
	}
	if req.SentAt.IsZero() {
		req.SentAt = s.now().UTC()
	}

	outcome := s.deps.Processor.Process(c.UserContext(), user, mailbox.Email{
		ID:      req.ID,
		From:    req.From,
		Subject: req.Subject,
		Body:    req.Body,
		SentAt:  req.SentAt,
	})

	return c.JSON(outcome)
}

func (s *Server) syncUser(c *fiber.Ctx, user string) error {
	if s.deps.Syncer == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "mailbox sync is not configured")
	}

	summary, err := s.deps.Syncer.Sync(c.UserContext(), user)
	if err != nil {
		s.logger.Error("sync failed", zap.String(logger.FieldUser, user), zap.Error(err))
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}

	return c.JSON(summary)
}

func (s *Server) store() (storage.Store, error) {
	if s.deps.Store == nil {
		return nil, fiber.NewError(fiber.StatusServiceUnavailable, "storage is not configured")
	}
	return s.deps.Store, nil
}

// listJSON writes records as a JSON array, never null.
func listJSON[T any](c *fiber.Ctx, records []*T, err error) error {
	if err != nil {
		return err
	}
	if records == nil {
		records = []*T{}
	}
	return c.JSON(records)
}

func (s *Server) listApplications(c *fiber.Ctx, user string) error {
	store, err := s.store()
	if err != nil {
		return err
	}
	apps, err := store.ListApplications(c.UserContext(), user)
	return listJSON(c, apps, err)
}

func (s *Server) listRejections(c *fiber.Ctx, user string) error {
	store, err := s.store()
	if err != nil {
		return err
	}
	rejections, err := store.ListRejections(c.UserContext(), user)
	return listJSON(c, rejections, err)
}

func (s *Server) listInterviews(c *fiber.Ctx, user string) error {
	store, err := s.store()
	if err != nil {
		return err
	}
	interviews, err := store.ListInterviews(c.UserContext(), user)
	return listJSON(c, interviews, err)
}

func (s *Server) listOffers(c *fiber.Ctx, user string) error {
	store, err := s.store()
	if err != nil {
		return err
	}
	offers, err := store.ListOffers(c.UserContext(), user)
	return listJSON(c, offers, err)
}

func (s *Server) loadApplication(c *fiber.Ctx, user string) (storage.Store, *storage.Application, error) {
	store, err := s.store()
	if err != nil {
		return nil, nil, err
	}

	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return nil, nil, fiber.NewError(fiber.StatusBadRequest, "invalid application id")
	}

	app, err := store.GetApplication(c.UserContext(), user, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, fiber.NewError(fiber.StatusNotFound, "application not found")
	}
	if err != nil {
		return nil, nil, err
	}
	return store, app, nil
}

func (s *Server) getApplication(c *fiber.Ctx, user string) error {
	_, app, err := s.loadApplication(c, user)
	if err != nil {
		return err
	}
	return c.JSON(app)
}

func (s *Server) patchApplication(c *fiber.Ctx, user string) error {
	store, app, err := s.loadApplication(c, user)
	if err != nil {
		return err
	}

	var patch applicationPatch
	if err := c.BodyParser(&patch); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if patch.Location != nil {
		app.Location = strings.TrimSpace(*patch.Location)
	}
	if patch.JobID != nil {
		app.JobID = strings.TrimSpace(*patch.JobID)
	}
	if patch.AppliedDate != nil {
		date, err := parseDate(*patch.AppliedDate)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid applied_date, use YYYY-MM-DD")
		}
		app.AppliedDate = date
	}

	if err := store.UpdateApplication(c.UserContext(), app); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "application not found")
		}
		return err
	}

	s.logger.Info("application corrected", zap.String(logger.FieldUser, user), zap.Int64("application_id", app.ID))
	return c.JSON(app)
}

// setCursor moves the point from which the next sync fetches mail.
func (s *Server) setCursor(c *fiber.Ctx, user string) error {
	store, err := s.store()
	if err != nil {
		return err
	}

	var req cursorRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Since) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "since is required")
	}

	since, err := parseDate(req.Since)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid since, use YYYY-MM-DD or RFC 3339")
	}

	if err := store.SetCursor(c.UserContext(), user, since); err != nil {
		return err
	}

	s.logger.Info("parse cursor set", zap.String(logger.FieldUser, user), zap.Time("since", since))
	return c.JSON(cursorResponse{User: user, Since: since})
}

// parseDate accepts a calendar date or an RFC 3339 timestamp. An empty value
// clears the date.
func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}

	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	}

	return c.Status(code).JSON(errorResponse{Error: err.Error()})
}
