package phaserunners

import (
	"strings"
	"testing"

	types "github.com/avarra/reelforge/internal/domain"
)

func TestValidatePlanZeroBeats(t *testing.T) {
	err := validatePlan(&types.PlanSpec{Duration: 30})
	if err == nil || !strings.Contains(err.Error(), "zero beats") {
		t.Fatalf("expected zero-beats integrity error, got %v", err)
	}
}

func TestValidatePlanDurationSum(t *testing.T) {
	plan := &types.PlanSpec{
		Duration: 30,
		Beats: []types.Beat{
			{ID: "a", Start: 0, Duration: 12},
			{ID: "b", Start: 12, Duration: 12},
			{ID: "c", Start: 24, Duration: 6},
		},
	}
	if err := validatePlan(plan); err != nil {
		t.Fatalf("exact sum should validate: %v", err)
	}

	plan.Beats[2].Duration = 5
	if err := validatePlan(plan); err == nil {
		t.Fatalf("expected sum mismatch to fail")
	}
}

func TestValidatePlanRepairsDriftingStarts(t *testing.T) {
	plan := &types.PlanSpec{
		Duration: 10,
		Beats: []types.Beat{
			{ID: "a", Start: 0, Duration: 5},
			{ID: "b", Start: 4.7, Duration: 5}, // model drift; true start is 5
		},
	}
	if err := validatePlan(plan); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if plan.Beats[1].Start != 5 {
		t.Fatalf("start should be snapped to 5, got %v", plan.Beats[1].Start)
	}
}

func TestValidatePlanRejectsNonPositiveBeat(t *testing.T) {
	plan := &types.PlanSpec{
		Duration: 5,
		Beats:    []types.Beat{{ID: "a", Start: 0, Duration: 0}},
	}
	if err := validatePlan(plan); err == nil {
		t.Fatalf("expected non-positive duration to fail")
	}
}
