// Package api exposes a Coordinator over HTTP using fiber.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/hupe1980/agentcoord/coordinator"
	"github.com/hupe1980/agentcoord/core"
	"github.com/hupe1980/agentcoord/engine"
	"github.com/hupe1980/agentcoord/logging"
)

// Coordinator is the subset of coordinator.Coordinator served over HTTP.
type Coordinator interface {
	SpawnAgents(ctx context.Context, count int, distribution map[core.Role]int) ([]string, error)
	StopAgent(id string) error
	Solve(ctx context.Context, p *core.Problem) (*core.Solution, error)
	CancelProblem(id string) error
	Problems() []engine.ProblemRecord
	Problem(id string) (engine.ProblemRecord, bool)
	GetSystemStatus() coordinator.SystemStatus
	MessageHistory(ctx context.Context, limit int) ([]core.Message, error)
}

// Options configures the HTTP server.
type Options struct {
	// DefaultHistoryLimit applies to /messages without a limit.
	DefaultHistoryLimit int
	// RequestTimeout bounds a synchronous solve. Zero relies on the
	// coordinator's solve timeout.
	RequestTimeout time.Duration
	Logger         logging.Logger
}

// Server serves the coordinator API.
type Server struct {
	*fiber.App
	coord Coordinator
	opts  Options
	log   logging.Logger
}

// New creates a Server and registers its routes.
func New(coord Coordinator, optFns ...func(o *Options)) *Server {
	opts := Options{
		DefaultHistoryLimit: 100,
		Logger:              logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	s := &Server{
		coord: coord,
		opts:  opts,
		log:   logging.Component(opts.Logger, "api"),
	}
	s.App = fiber.New(fiber.Config{
		AppName:               "agentcoord",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.Get("/health", s.health)
	s.Get("/status", s.status)

	s.Get("/agents", s.listAgents)
	s.Post("/agents", s.spawnAgents)
	s.Delete("/agents/:id", s.stopAgent)

	s.Get("/messages", s.messages)

	s.Get("/problems", s.listProblems)
	s.Post("/problems", s.solve)
	s.Get("/problems/:id", s.getProblem)
	s.Delete("/problems/:id", s.cancelProblem)
}

func (s *Server) health(c *fiber.Ctx) error {
	report := s.coord.GetSystemStatus().Health
	code := http.StatusOK
	if report.Status == core.HealthUnhealthy {
		code = http.StatusServiceUnavailable
	}
	return c.Status(code).JSON(report)
}

func (s *Server) status(c *fiber.Ctx) error {
	return c.JSON(s.coord.GetSystemStatus())
}

func (s *Server) listAgents(c *fiber.Ctx) error {
	return c.JSON(s.coord.GetSystemStatus().Agents)
}

type spawnRequest struct {
	Count        int               `json:"count"`
	Distribution map[core.Role]int `json:"distribution"`
}

func (s *Server) spawnAgents(c *fiber.Ctx) error {
	var req spawnRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	ids, err := s.coord.SpawnAgents(c.UserContext(), req.Count, req.Distribution)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"agent_ids": ids})
}

func (s *Server) stopAgent(c *fiber.Ctx) error {
	if err := s.coord.StopAgent(c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) messages(c *fiber.Ctx) error {
	limit := s.opts.DefaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return fiber.NewError(fiber.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}
	msgs, err := s.coord.MessageHistory(c.UserContext(), limit)
	if err != nil {
		return err
	}
	return c.JSON(msgs)
}

type problemRequest struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	Strategy    string         `json:"strategy"`
	Options     []string       `json:"options"`
	Context     map[string]any `json:"context"`
	SubProblems []string       `json:"sub_problems"`
}

func (s *Server) solve(c *fiber.Ctx) error {
	var req problemRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	name, err := core.ParseStrategy(req.Strategy)
	if err != nil {
		return err
	}

	p := core.NewProblem(req.Description, name)
	if req.ID != "" {
		p.ID = req.ID
	}
	p.Options = req.Options
	for k, v := range req.Context {
		p.Context[k] = v
	}
	coordinator.WithSubProblems(req.SubProblems...)(p)

	ctx := c.UserContext()
	if s.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
	}
	sol, err := s.coord.Solve(ctx, p)
	if err != nil {
		return err
	}
	return c.JSON(sol)
}

func (s *Server) listProblems(c *fiber.Ctx) error {
	return c.JSON(s.coord.Problems())
}

func (s *Server) getProblem(c *fiber.Ctx) error {
	rec, ok := s.coord.Problem(c.Params("id"))
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "problem not found")
	}
	return c.JSON(rec)
}

func (s *Server) cancelProblem(c *fiber.Ctx) error {
	if err := s.coord.CancelProblem(c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusAccepted)
}

// handleError maps domain errors to status codes and renders them as JSON.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.log.Error("Request failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(struct {
		Error string `json:"error"`
	}{Error: err.Error()})
}

// statusFor maps an error to an HTTP status. Runtime sentinels take
// precedence over ErrStrategy, which also wraps failed sub-problems.
func statusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, core.ErrQuorumNotMet),
		errors.Is(err, core.ErrAllocation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, core.ErrAgentUnavailable),
		errors.Is(err, core.ErrCommunication):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrInvalidArgument),
		errors.Is(err, core.ErrStrategy),
		errors.Is(err, core.ErrInvalidOption):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrAgentNotFound),
		errors.Is(err, core.ErrTaskNotFound),
		errors.Is(err, core.ErrVoteNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrDuplicateID),
		errors.Is(err, core.ErrAgentAlreadyRegistered):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
