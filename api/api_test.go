package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentcoord/agent"
	"github.com/hupe1980/agentcoord/coordinator"
	"github.com/hupe1980/agentcoord/core"
	"github.com/hupe1980/agentcoord/engine"
	"github.com/hupe1980/agentcoord/strategy"
)

func newServer(t *testing.T) (*Server, *coordinator.Coordinator) {
	t.Helper()
	coord, err := coordinator.New(context.Background(), func(o *coordinator.Options) {
		o.Settings = strategy.Settings{VoteTimeout: time.Second}
		o.Behavior = agent.FuncBehavior{
			VoteFunc: func(context.Context, agent.Self, core.VoteRequest) (string, error) {
				return "yes", nil
			},
		}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = coord.Shutdown(context.Background()) })
	return New(coord), coord
}

func do(t *testing.T, s *Server, method, path, body string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func TestHealthAndStatus(t *testing.T) {
	s, coord := newServer(t)
	_, err := coord.SpawnAgents(context.Background(), 2, nil)
	require.NoError(t, err)

	code, body := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code)
	var report core.HealthReport
	require.NoError(t, json.Unmarshal(body, &report))
	assert.Equal(t, core.HealthHealthy, report.Status)
	assert.Equal(t, 2, report.TotalAgents)

	code, body = do(t, s, http.MethodGet, "/status", "")
	assert.Equal(t, http.StatusOK, code)
	var status coordinator.SystemStatus
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, 2, status.TotalAgents)
	assert.Equal(t, 2, status.AgentsByRole[core.RoleProblemSolver])

	require.NoError(t, coord.Shutdown(context.Background()))
	code, _ = do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestAgents_SpawnListStop(t *testing.T) {
	s, _ := newServer(t)

	code, body := do(t, s, http.MethodPost, "/agents", `{"distribution":{"monitor":1,"healer":1}}`)
	require.Equal(t, http.StatusCreated, code, string(body))
	var spawned struct {
		AgentIDs []string `json:"agent_ids"`
	}
	require.NoError(t, json.Unmarshal(body, &spawned))
	require.Len(t, spawned.AgentIDs, 2)

	code, body = do(t, s, http.MethodGet, "/agents", "")
	assert.Equal(t, http.StatusOK, code)
	var agents map[string]core.AgentStatus
	require.NoError(t, json.Unmarshal(body, &agents))
	assert.Len(t, agents, 2)

	code, _ = do(t, s, http.MethodDelete, "/agents/"+spawned.AgentIDs[0], "")
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = do(t, s, http.MethodDelete, "/agents/"+spawned.AgentIDs[0], "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, s, http.MethodPost, "/agents", `{"distribution":{"wizard":1}}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestProblems_SolveAndInspect(t *testing.T) {
	s, coord := newServer(t)
	_, err := coord.SpawnAgents(context.Background(), 3, nil)
	require.NoError(t, err)

	code, body := do(t, s, http.MethodPost, "/problems",
		`{"id":"p1","description":"adopt the proposal?","strategy":"VOTING","options":["yes","no"]}`)
	require.Equal(t, http.StatusOK, code, string(body))
	var sol core.Solution
	require.NoError(t, json.Unmarshal(body, &sol))
	assert.Equal(t, "p1", sol.ProblemID)
	assert.Equal(t, "yes", sol.Result)
	assert.True(t, sol.ConsensusReached)

	code, body = do(t, s, http.MethodGet, "/problems/p1", "")
	assert.Equal(t, http.StatusOK, code)
	var rec engine.ProblemRecord
	require.NoError(t, json.Unmarshal(body, &rec))
	assert.Equal(t, engine.ProblemSolved, rec.Status)

	code, body = do(t, s, http.MethodGet, "/problems", "")
	assert.Equal(t, http.StatusOK, code)
	var recs []engine.ProblemRecord
	require.NoError(t, json.Unmarshal(body, &recs))
	assert.Len(t, recs, 1)

	code, _ = do(t, s, http.MethodGet, "/problems/unknown", "")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = do(t, s, http.MethodDelete, "/problems/p1", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestProblems_BadRequests(t *testing.T) {
	s, _ := newServer(t)

	code, body := do(t, s, http.MethodPost, "/problems", `{"description":"x","strategy":"telepathy"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, string(body), "unknown strategy")

	code, _ = do(t, s, http.MethodPost, "/problems", `{"description":"","strategy":"voting"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, s, http.MethodPost, "/problems", `{not json`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, s, http.MethodPost, "/problems", `{"description":"nobody votes","strategy":"voting","options":["a","b"]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("sub-problem 1: %w: %w", core.ErrStrategy, core.ErrQuorumNotMet), http.StatusUnprocessableEntity},
		{fmt.Errorf("sub-problem 2: %w: %w", core.ErrStrategy, core.ErrAllocation), http.StatusUnprocessableEntity},
		{fmt.Errorf("sub-problem 1: %w: %w", core.ErrStrategy, core.ErrAgentUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("sub-problem 1: %w: %w", core.ErrStrategy, context.DeadlineExceeded), http.StatusGatewayTimeout},
		{fmt.Errorf("problem has no sub-problems: %w", core.ErrStrategy), http.StatusBadRequest},
		{fiber.NewError(http.StatusTeapot, "tea"), http.StatusTeapot},
		{core.ErrDuplicateID, http.StatusConflict},
		{core.ErrTaskNotFound, http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestProblems_FailedSubProblemIsUnprocessable(t *testing.T) {
	s, _ := newServer(t)

	code, body := do(t, s, http.MethodPost, "/problems",
		`{"description":"ship it","strategy":"hierarchical","sub_problems":["design","build"]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code, string(body))
}

func TestMessages(t *testing.T) {
	s, coord := newServer(t)
	_, err := coord.SpawnAgents(context.Background(), 1, nil)
	require.NoError(t, err)

	code, body := do(t, s, http.MethodGet, "/messages?limit=1", "")
	assert.Equal(t, http.StatusOK, code)
	var msgs []core.Message
	require.NoError(t, json.Unmarshal(body, &msgs))
	assert.Len(t, msgs, 1)

	code, _ = do(t, s, http.MethodGet, "/messages?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, code)
}
