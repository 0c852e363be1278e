package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonitasoft/bonita-engine-sub045/pkg/engine/runtime"
)

const chargeProcess = `
process:
  name: charge-card
  nodes:
    - { id: 1, name: start, event: { kind: START } }
    - { id: 2, name: charge, activity: { kind: AUTOMATIC } }
    - { id: 3, name: end, event: { kind: END } }
  transitions:
    - { id: 10, source: 1, target: 2 }
    - { id: 11, source: 2, target: 3 }
`

func TestFailingHandlerCreatesIncident(t *testing.T) {
	// setup
	flowEngine.RegisterTaskHandler("charge", func(ctx context.Context, variables *runtime.VariableHolder) error {
		return fmt.Errorf("card declined")
	})

	// given
	definition, err := flowEngine.DeployDefinition(t.Context(), []byte(chargeProcess))
	require.NoError(t, err)

	// when
	pi, err := flowEngine.CreateAndRunInstance(t.Context(), definition.Key, nil)
	require.NoError(t, err)

	// then: the fault became an incident, not a lost instance
	assert.Equal(t, runtime.ActivityStateFailed, pi.State)

	incidents, err := flowEngine.FindIncidents(t.Context(), pi.Key)
	require.NoError(t, err)
	require.Len(t, incidents, 1)
	assert.Equal(t, int64(2), incidents[0].NodeID)
	assert.Contains(t, incidents[0].Message, "card declined")
	assert.Nil(t, incidents[0].ResolvedAt)

	failed, err := engineStorage.FindTokens(t.Context(), pi.Key, runtime.TokenStateFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, int64(2), failed[0].NodeID)
}

func TestResolveIncidentRetriesTheFailedToken(t *testing.T) {
	// setup: the handler fails once, then succeeds
	failures := 1
	flowEngine.RegisterTaskHandler("charge", func(ctx context.Context, variables *runtime.VariableHolder) error {
		if failures > 0 {
			failures--
			return fmt.Errorf("gateway timeout")
		}
		variables.PropagateVariable("charged", true)
		return nil
	})

	// given
	definition, err := flowEngine.DeployDefinition(t.Context(), []byte(chargeProcess))
	require.NoError(t, err)
	pi, err := flowEngine.CreateAndRunInstance(t.Context(), definition.Key, nil)
	require.NoError(t, err)
	require.Equal(t, runtime.ActivityStateFailed, pi.State)
	incidents, err := flowEngine.FindIncidents(t.Context(), pi.Key)
	require.NoError(t, err)
	require.Len(t, incidents, 1)

	// when
	err = flowEngine.ResolveIncident(t.Context(), incidents[0].Key)
	require.NoError(t, err)

	// then: the retry completed the instance
	reloaded, err := flowEngine.FindProcessInstance(t.Context(), pi.Key)
	require.NoError(t, err)
	assert.Equal(t, runtime.ActivityStateCompleted, reloaded.State)
	assert.Equal(t, true, reloaded.GetVariable("charged"))

	incidents, err = flowEngine.FindIncidents(t.Context(), pi.Key)
	require.NoError(t, err)
	require.Len(t, incidents, 1)
	assert.NotNil(t, incidents[0].ResolvedAt)

	// resolving an already resolved incident is a no-op
	assert.NoError(t, flowEngine.ResolveIncident(t.Context(), incidents[0].Key))
}

func TestRunOrContinueIgnoresCompletedInstances(t *testing.T) {
	// setup
	runs := 0
	flowEngine.RegisterTaskHandler("charge", func(ctx context.Context, variables *runtime.VariableHolder) error {
		runs++
		return nil
	})

	// given
	definition, err := flowEngine.DeployDefinition(t.Context(), []byte(chargeProcess))
	require.NoError(t, err)
	pi, err := flowEngine.CreateAndRunInstance(t.Context(), definition.Key, nil)
	require.NoError(t, err)
	require.Equal(t, runtime.ActivityStateCompleted, pi.State)
	require.Equal(t, 1, runs)

	// when
	reloaded, err := flowEngine.RunOrContinueInstance(t.Context(), pi.Key)

	// then: a completed instance is never re-driven
	require.NoError(t, err)
	assert.Equal(t, runtime.ActivityStateCompleted, reloaded.State)
	assert.Equal(t, 1, runs)
}

func TestFailureOnOneBranchKeepsSiblingsRunning(t *testing.T) {
	// setup
	flowEngine.RegisterTaskHandler("flaky-step", func(ctx context.Context, variables *runtime.VariableHolder) error {
		return fmt.Errorf("boom")
	})

	// given
	definition, err := flowEngine.DeployDefinition(t.Context(), []byte(`
process:
  name: partial-failure
  nodes:
    - { id: 1, name: start, event: { kind: START } }
    - { id: 2, name: fork, gateway: { kind: PARALLEL } }
    - { id: 3, name: flaky-step, activity: { kind: AUTOMATIC } }
    - { id: 4, name: steady-step, activity: { kind: HUMAN } }
    - { id: 5, name: flaky-end, event: { kind: END } }
    - { id: 6, name: steady-end, event: { kind: END } }
  transitions:
    - { id: 10, source: 1, target: 2 }
    - { id: 11, source: 2, target: 3 }
    - { id: 12, source: 2, target: 4 }
    - { id: 13, source: 3, target: 5 }
    - { id: 14, source: 4, target: 6 }
`))
	require.NoError(t, err)

	// when
	pi, err := flowEngine.CreateAndRunInstance(t.Context(), definition.Key, nil)
	require.NoError(t, err)

	// then: the sibling branch still waits, the instance is not failed yet
	assert.Equal(t, runtime.ActivityStateActive, pi.State)
	incidents, err := flowEngine.FindIncidents(t.Context(), pi.Key)
	require.NoError(t, err)
	require.Len(t, incidents, 1)

	// when: the sibling finishes while the incident stays open
	live, err := engineStorage.FindFlowNodeInstances(t.Context(), pi.Key)
	require.NoError(t, err)
	require.Len(t, live, 1)
	err = flowEngine.CompleteHumanTask(t.Context(), pi.Key, live[0].Key, nil)
	require.NoError(t, err)

	// then: only the failed token is left, the instance turns failed
	reloaded, err := flowEngine.FindProcessInstance(t.Context(), pi.Key)
	require.NoError(t, err)
	assert.Equal(t, runtime.ActivityStateFailed, reloaded.State)
}
