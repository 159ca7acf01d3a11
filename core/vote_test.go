package core

import (
	"errors"
	"testing"
)

func TestTally_MajorityAndTotals(t *testing.T) {
	ballots := map[string]string{
		"a1": "approve", "a2": "approve", "a3": "approve",
		"a4": "reject", "a5": "reject",
	}
	results, total, winner := Tally([]string{"approve", "reject"}, ballots)
	if total != 5 {
		t.Fatalf("expected 5 votes, got %d", total)
	}
	if winner != "approve" {
		t.Fatalf("expected approve, got %q", winner)
	}
	sum := 0
	for _, c := range results {
		sum += c
	}
	if sum != total {
		t.Errorf("sum of results %d != total %d", sum, total)
	}
}

func TestTally_TieBrokenByOptionOrder(t *testing.T) {
	ballots := map[string]string{"a": "y", "b": "x"}
	_, _, winner := Tally([]string{"x", "y"}, ballots)
	if winner != "x" {
		t.Fatalf("expected earliest option x, got %q", winner)
	}
	_, _, winner = Tally([]string{"y", "x"}, ballots)
	if winner != "y" {
		t.Fatalf("expected earliest option y, got %q", winner)
	}
}

func TestTally_ZeroVotesKeepsAllOptions(t *testing.T) {
	results, total, winner := Tally([]string{"a", "b", "c"}, nil)
	if total != 0 || winner != "" {
		t.Fatalf("expected empty tally, got total=%d winner=%q", total, winner)
	}
	if len(results) != 3 {
		t.Fatalf("expected every option present, got %v", results)
	}
}

func TestTally_IgnoresUnknownChoices(t *testing.T) {
	results, total, _ := Tally([]string{"a", "b"}, map[string]string{"x": "zzz", "y": "a"})
	if total != 1 || results["a"] != 1 {
		t.Fatalf("unexpected tally %v total=%d", results, total)
	}
}

func TestNewConsensusResult_Threshold(t *testing.T) {
	r := VoteResults{
		Options:    []string{"approve", "reject"},
		Results:    map[string]int{"approve": 3, "reject": 2},
		TotalVotes: 5,
		Winner:     "approve",
	}
	c := NewConsensusResult(r, 0.66)
	if c.Reached {
		t.Error("0.6 agreement must not reach 0.66")
	}
	if c.Agreement != 0.6 {
		t.Errorf("expected agreement 0.6, got %v", c.Agreement)
	}
	if !NewConsensusResult(r, 0.6).Reached {
		t.Error("agreement equal to the threshold must reach consensus")
	}
	if NewConsensusResult(VoteResults{Results: map[string]int{}}, 0.1).Reached {
		t.Error("zero ballots never reach consensus")
	}
}

func TestValidateOptions(t *testing.T) {
	cases := []struct {
		name    string
		options []string
		ok      bool
	}{
		{"two", []string{"a", "b"}, true},
		{"one", []string{"a"}, false},
		{"duplicate", []string{"a", "a"}, false},
		{"empty", []string{"a", ""}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateOptions(tc.options)
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}

func TestValidateAgreement(t *testing.T) {
	for _, v := range []float64{0, -0.1, 1.01} {
		if err := ValidateAgreement(v); err == nil {
			t.Errorf("expected error for %v", v)
		}
	}
	for _, v := range []float64{0.01, 0.66, 1} {
		if err := ValidateAgreement(v); err != nil {
			t.Errorf("unexpected error for %v: %v", v, err)
		}
	}
}

func TestVoteResults_CloneIsIndependent(t *testing.T) {
	r := VoteResults{Options: []string{"a"}, Results: map[string]int{"a": 1}}
	c := r.Clone()
	c.Results["a"] = 9
	c.Options[0] = "z"
	if r.Results["a"] != 1 || r.Options[0] != "a" {
		t.Fatal("clone must not share maps or slices")
	}
}
