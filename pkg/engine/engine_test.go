package engine

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonitasoft/bonita-engine-sub045/internal/log"
	"github.com/bonitasoft/bonita-engine-sub045/pkg/engine/runtime"
	"github.com/bonitasoft/bonita-engine-sub045/pkg/storage/inmemory"
)

// CallPath records the order in which registered task handlers ran.
type CallPath struct {
	CallPath string
}

func (cp *CallPath) Handler(name string) TaskHandler {
	return func(ctx context.Context, variables *runtime.VariableHolder) error {
		if len(cp.CallPath) > 0 {
			cp.CallPath += ","
		}
		cp.CallPath += name
		return nil
	}
}

var flowEngine *Engine
var engineStorage *inmemory.Store

func TestMain(m *testing.M) {
	log.Init("warn")
	engineStorage = inmemory.New()
	flowEngine = NewEngine(EngineWithStorage(engineStorage))
	os.Exit(m.Run())
}

const simpleSequence = `
process:
  name: simple-sequence
  nodes:
    - { id: 1, name: start, event: { kind: START } }
    - { id: 2, name: greet, activity: { kind: AUTOMATIC } }
    - { id: 3, name: end, event: { kind: END } }
  transitions:
    - { id: 10, source: 1, target: 2 }
    - { id: 11, source: 2, target: 3 }
`

func TestSimpleSequenceRunsToCompletion(t *testing.T) {
	// setup
	cp := CallPath{}
	flowEngine.RegisterTaskHandler("greet", cp.Handler("greet"))

	// given
	definition, err := flowEngine.DeployDefinition(t.Context(), []byte(simpleSequence))
	require.NoError(t, err)

	// when
	pi, err := flowEngine.CreateAndRunInstance(t.Context(), definition.Key, nil)
	require.NoError(t, err)

	// then
	assert.Equal(t, runtime.ActivityStateCompleted, pi.State)
	assert.Equal(t, "greet", cp.CallPath)

	tokens, err := engineStorage.FindTokens(t.Context(), pi.Key)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, runtime.TokenStateCompleted, tokens[0].State)
}

func TestTransitionTraversalsAreRecorded(t *testing.T) {
	// setup
	cp := CallPath{}
	flowEngine.RegisterTaskHandler("greet", cp.Handler("greet"))

	// given
	definition, err := flowEngine.DeployDefinition(t.Context(), []byte(simpleSequence))
	require.NoError(t, err)

	// when
	pi, err := flowEngine.CreateAndRunInstance(t.Context(), definition.Key, nil)
	require.NoError(t, err)

	// then: both traversals ended terminal under the pass they ran in
	traversals, err := engineStorage.FindArchivedTransitionInstances(t.Context(), pi.Key)
	require.NoError(t, err)
	require.Len(t, traversals, 2)
	assert.Equal(t, int64(10), traversals[0].TransitionID)
	assert.Equal(t, int64(11), traversals[1].TransitionID)
	require.NotZero(t, traversals[0].ExecutionKey)
	for _, traversal := range traversals {
		assert.True(t, traversal.Terminal)
		assert.Equal(t, traversals[0].ExecutionKey, traversal.ExecutionKey)
	}

	// archived node records carry the same execution key
	archived, err := engineStorage.FindArchivedFlowNodeInstances(t.Context(), pi.Key)
	require.NoError(t, err)
	require.NotEmpty(t, archived)
	for _, fni := range archived {
		assert.Equal(t, traversals[0].ExecutionKey, fni.ExecutionKey)
	}
}

func TestTaskHandlerVariablesPropagate(t *testing.T) {
	// setup
	flowEngine.RegisterTaskHandler("greet", func(ctx context.Context, variables *runtime.VariableHolder) error {
		variables.PropagateVariable("greeting", "hello "+variables.GetVariable("name").(string))
		return nil
	})

	// given
	definition, err := flowEngine.DeployDefinition(t.Context(), []byte(simpleSequence))
	require.NoError(t, err)

	// when
	pi, err := flowEngine.CreateAndRunInstance(t.Context(), definition.Key, map[string]any{"name": "bob"})
	require.NoError(t, err)

	// then
	assert.Equal(t, runtime.ActivityStateCompleted, pi.State)
	assert.Equal(t, "hello bob", pi.GetVariable("greeting"))
}

func TestDataOperationsRunOnCompletion(t *testing.T) {
	// given
	definition, err := flowEngine.DeployDefinition(t.Context(), []byte(`
process:
  name: data-operations
  nodes:
    - { id: 1, name: start, event: { kind: START } }
    - id: 2
      name: stamp
      activity:
        kind: AUTOMATIC
        dataOperations:
          - { target: status, expression: '"processed"' }
    - { id: 3, name: end, event: { kind: END } }
  transitions:
    - { id: 10, source: 1, target: 2 }
    - { id: 11, source: 2, target: 3 }
`))
	require.NoError(t, err)

	// when
	pi, err := flowEngine.CreateAndRunInstance(t.Context(), definition.Key, nil)
	require.NoError(t, err)

	// then
	assert.Equal(t, runtime.ActivityStateCompleted, pi.State)
	assert.Equal(t, "processed", pi.GetVariable("status"))
}

func TestDeployUnchangedDataReturnsExistingVersion(t *testing.T) {
	// given
	data := []byte(`
process:
  name: deploy-dedupe
  nodes:
    - { id: 1, name: start, event: { kind: START } }
    - { id: 2, name: end, event: { kind: END } }
  transitions:
    - { id: 10, source: 1, target: 2 }
`)
	first, err := flowEngine.DeployDefinition(t.Context(), data)
	require.NoError(t, err)

	// when
	second, err := flowEngine.DeployDefinition(t.Context(), data)
	require.NoError(t, err)

	// then
	assert.Equal(t, first.Key, second.Key)
	assert.Equal(t, int32(1), second.Version)
}

func TestDeployChangedDataCreatesNewVersion(t *testing.T) {
	// given
	v1 := []byte(`
process:
  name: deploy-versions
  nodes:
    - { id: 1, name: start, event: { kind: START } }
    - { id: 2, name: end, event: { kind: END } }
  transitions:
    - { id: 10, source: 1, target: 2 }
`)
	v2 := []byte(`
process:
  name: deploy-versions
  nodes:
    - { id: 1, name: start, event: { kind: START } }
    - { id: 2, name: step, activity: { kind: AUTOMATIC } }
    - { id: 3, name: end, event: { kind: END } }
  transitions:
    - { id: 10, source: 1, target: 2 }
    - { id: 11, source: 2, target: 3 }
`)
	first, err := flowEngine.DeployDefinition(t.Context(), v1)
	require.NoError(t, err)

	// when
	second, err := flowEngine.DeployDefinition(t.Context(), v2)
	require.NoError(t, err)

	// then
	assert.NotEqual(t, first.Key, second.Key)
	assert.Equal(t, int32(2), second.Version)

	deployed, err := flowEngine.FindProcessDefinitionsByName(t.Context(), "deploy-versions")
	require.NoError(t, err)
	require.Len(t, deployed, 2)
	assert.Equal(t, second.Key, deployed[1].Key)
}

func TestDeployRejectsBrokenDefinition(t *testing.T) {
	// when
	_, err := flowEngine.DeployDefinition(t.Context(), []byte(`
process:
  name: broken
  nodes:
    - { id: 1, name: start, event: { kind: START } }
  transitions:
    - { id: 10, source: 1, target: 99 }
`))

	// then
	assert.Error(t, err)
}

func TestCreateInstanceByUnknownNameFails(t *testing.T) {
	// when
	_, err := flowEngine.CreateInstanceByName(t.Context(), "no-such-process", nil)

	// then
	assert.Error(t, err)
}

func TestCancelProcessInstance(t *testing.T) {
	// given
	definition, err := flowEngine.DeployDefinition(t.Context(), []byte(`
process:
  name: cancel-me
  nodes:
    - { id: 1, name: start, event: { kind: START } }
    - { id: 2, name: wait-for-review, activity: { kind: HUMAN } }
    - { id: 3, name: end, event: { kind: END } }
  transitions:
    - { id: 10, source: 1, target: 2 }
    - { id: 11, source: 2, target: 3 }
`))
	require.NoError(t, err)
	pi, err := flowEngine.CreateAndRunInstance(t.Context(), definition.Key, nil)
	require.NoError(t, err)
	require.Equal(t, runtime.ActivityStateActive, pi.State)

	// when
	err = flowEngine.CancelProcessInstance(t.Context(), pi.Key)
	require.NoError(t, err)

	// then
	reloaded, err := flowEngine.FindProcessInstance(t.Context(), pi.Key)
	require.NoError(t, err)
	assert.Equal(t, runtime.ActivityStateTerminated, reloaded.State)

	archived, err := engineStorage.FindArchivedFlowNodeInstances(t.Context(), pi.Key)
	require.NoError(t, err)
	var task *runtime.FlowNodeInstance
	for i := range archived {
		if archived[i].NodeID == 2 {
			task = &archived[i]
		}
	}
	require.NotNil(t, task)
	assert.Equal(t, runtime.ActivityStateTerminated, task.State)
	assert.Equal(t, runtime.CategoryCancelling, task.Category)

	tokens, err := engineStorage.FindTokens(t.Context(), pi.Key, runtime.TokenStateRunning, runtime.TokenStateWaiting)
	require.NoError(t, err)
	assert.Empty(t, tokens)

	// cancelling again is a no-op
	assert.NoError(t, flowEngine.CancelProcessInstance(t.Context(), pi.Key))
}
