package core

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
)

// AllocationMethod selects how a task is assigned.
type AllocationMethod string

const (
	AllocateAuction    AllocationMethod = "auction"
	AllocateRoundRobin AllocationMethod = "round_robin"
)

// ParseAllocationMethod converts a textual method.
func ParseAllocationMethod(s string) (AllocationMethod, error) {
	switch AllocationMethod(s) {
	case AllocateAuction, AllocateRoundRobin:
		return AllocationMethod(s), nil
	default:
		return "", fmt.Errorf("unknown allocation method %q: %w", s, ErrInvalidArgument)
	}
}

// Task is a unit of work allocated to exactly one agent.
type Task struct {
	ID                   string             `json:"id"`
	Description          string             `json:"description"`
	Complexity           float64            `json:"complexity"`
	Priority             int                `json:"priority"`
	RequiredCapabilities []string           `json:"required_capabilities,omitempty"`
	Bids                 map[string]float64 `json:"bids,omitempty"`
	AssignedTo           string             `json:"assigned_to,omitempty"`
}

// Bid is an agent's self-reported cost estimate; lower is better.
type Bid struct {
	AgentID string  `json:"agent_id"`
	Cost    float64 `json:"cost"`
}

// Allocation is the outcome of assigning a task.
type Allocation struct {
	TaskID  string             `json:"task_id"`
	AgentID string             `json:"agent_id"`
	Cost    float64            `json:"cost"`
	Method  AllocationMethod   `json:"method"`
	Bids    map[string]float64 `json:"bids,omitempty"`
}

// SortedBids orders bids by ascending cost, then ascending agent id.
func SortedBids(bids map[string]float64) []Bid {
	out := make([]Bid, 0, len(bids))
	for _, id := range slices.Sorted(maps.Keys(bids)) {
		out = append(out, Bid{AgentID: id, Cost: bids[id]})
	}
	slices.SortStableFunc(out, func(a, b Bid) int {
		if c := cmp.Compare(a.Cost, b.Cost); c != 0 {
			return c
		}
		return cmp.Compare(a.AgentID, b.AgentID)
	})
	return out
}

// LowestBid returns the winning bid: lowest cost, ties broken by ascending
// agent id. ok is false when there are no bids.
func LowestBid(bids map[string]float64) (Bid, bool) {
	sorted := SortedBids(bids)
	if len(sorted) == 0 {
		return Bid{}, false
	}
	return sorted[0], true
}
