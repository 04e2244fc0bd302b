package planbuilder

import (
	"testing"
	"time"

	"github.com/proctriage/triage/internal/decision"
	"github.com/proctriage/triage/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildGroupsActionsByStage(t *testing.T) {
	inputs := []Input{
		{Candidate: model.Candidate{Identity: model.Identity{PID: 10}}, Decision: decision.Decision{Action: model.ActionPause}},
		{Candidate: model.Candidate{Identity: model.Identity{PID: 20}}, Decision: decision.Decision{Action: model.ActionSupervisorStop}},
		{Candidate: model.Candidate{Identity: model.Identity{PID: 30}}, Decision: decision.Decision{Action: model.ActionKill}},
	}
	plan := Build("session-1", inputs, model.PolicyContext{}, Options{})

	require.Len(t, plan.Actions, 3)
	stages := plan.Stages()
	require.Len(t, stages, 3)
	assert.Equal(t, model.ActionPause, stages[0][0].Action)
	assert.Equal(t, model.ActionSupervisorStop, stages[1][0].Action)
	assert.Equal(t, model.ActionKill, stages[2][0].Action)
}

func TestBuildExcludesReviewAndSpare(t *testing.T) {
	inputs := []Input{
		{Candidate: model.Candidate{Identity: model.Identity{PID: 10}}, Decision: decision.Decision{Action: model.ActionReview}},
		{Candidate: model.Candidate{Identity: model.Identity{PID: 20}}, Decision: decision.Decision{Action: model.ActionSpare}},
	}
	plan := Build("session-1", inputs, model.PolicyContext{}, Options{})
	assert.Empty(t, plan.Actions)
	assert.Empty(t, plan.RecommendedIdx)
}

func TestBuildKillActionGetsEscalationPolicy(t *testing.T) {
	inputs := []Input{
		{Candidate: model.Candidate{Identity: model.Identity{PID: 30}}, Decision: decision.Decision{Action: model.ActionKill}},
	}
	plan := Build("session-1", inputs, model.PolicyContext{}, Options{})
	require.Len(t, plan.Actions, 1)
	assert.Equal(t, DefaultGraceWindow, plan.Actions[0].Escalation.GraceWindow)
}

func TestBuildCustomGraceWindow(t *testing.T) {
	inputs := []Input{
		{Candidate: model.Candidate{Identity: model.Identity{PID: 30}}, Decision: decision.Decision{Action: model.ActionKill}},
	}
	plan := Build("session-1", inputs, model.PolicyContext{}, Options{GraceWindow: 5})
	require.Len(t, plan.Actions, 1)
	assert.Equal(t, 5*time.Second, plan.Actions[0].Escalation.GraceWindow)
}

func TestBuildEveryActionCarriesOrderedGates(t *testing.T) {
	inputs := []Input{
		{Candidate: model.Candidate{Identity: model.Identity{PID: 30}}, Decision: decision.Decision{Action: model.ActionPause}},
	}
	plan := Build("session-1", inputs, model.PolicyContext{}, Options{})
	assert.Equal(t, model.OrderedGates(), plan.Actions[0].Gates)
}

func TestBuildRecommendedIdxCoversAllStagedActions(t *testing.T) {
	inputs := []Input{
		{Candidate: model.Candidate{Identity: model.Identity{PID: 10}}, Decision: decision.Decision{Action: model.ActionPause}},
		{Candidate: model.Candidate{Identity: model.Identity{PID: 20}}, Decision: decision.Decision{Action: model.ActionReview}},
		{Candidate: model.Candidate{Identity: model.Identity{PID: 30}}, Decision: decision.Decision{Action: model.ActionKill}},
	}
	plan := Build("session-1", inputs, model.PolicyContext{}, Options{})
	assert.Equal(t, []int{0, 1}, plan.RecommendedIdx)
}
