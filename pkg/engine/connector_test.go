package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonitasoft/bonita-engine-sub045/pkg/engine/runtime"
)

const shipmentProcess = `
process:
  name: ship-order
  nodes:
    - { id: 1, name: start, event: { kind: START } }
    - id: 2
      name: ship
      activity: { kind: AUTOMATIC }
      connectors:
        - { id: reserve-stock, name: stock, event: ON_ENTER, input: { warehouse: east } }
        - { id: notify-customer, name: mailer, event: ON_FINISH, input: { template: shipped } }
    - { id: 3, name: end, event: { kind: END } }
  transitions:
    - { id: 10, source: 1, target: 2 }
    - { id: 11, source: 2, target: 3 }
`

func TestConnectorsRunAroundTheActivity(t *testing.T) {
	// setup
	cp := CallPath{}
	flowEngine.RegisterConnectorHandler("stock", func(ctx context.Context, input map[string]string, variables *runtime.VariableHolder) (map[string]any, error) {
		cp.CallPath += "stock,"
		assert.Equal(t, "east", input["warehouse"])
		return map[string]any{"reserved": true}, nil
	})
	flowEngine.RegisterConnectorHandler("mailer", func(ctx context.Context, input map[string]string, variables *runtime.VariableHolder) (map[string]any, error) {
		cp.CallPath += "mailer"
		assert.Equal(t, "shipped", input["template"])
		// the entry connector's output is in scope by finish time
		assert.Equal(t, true, variables.GetVariable("reserved"))
		return map[string]any{"notified": true}, nil
	})
	flowEngine.RegisterTaskHandler("ship", func(ctx context.Context, variables *runtime.VariableHolder) error {
		cp.CallPath += "ship,"
		return nil
	})

	// given
	definition, err := flowEngine.DeployDefinition(t.Context(), []byte(shipmentProcess))
	require.NoError(t, err)

	// when
	pi, err := flowEngine.CreateAndRunInstance(t.Context(), definition.Key, nil)
	require.NoError(t, err)

	// then
	assert.Equal(t, runtime.ActivityStateCompleted, pi.State)
	assert.Equal(t, "stock,ship,mailer", cp.CallPath)
	assert.Equal(t, true, pi.GetVariable("reserved"))
	assert.Equal(t, true, pi.GetVariable("notified"))
}

func TestScriptConnectorRunsOnTheScriptRuntime(t *testing.T) {
	// given
	definition, err := flowEngine.DeployDefinition(t.Context(), []byte(`
process:
  name: price-order
  nodes:
    - { id: 1, name: start, event: { kind: START } }
    - id: 2
      name: price
      activity: { kind: AUTOMATIC }
      connectors:
        - id: apply-vat
          name: script
          event: ON_FINISH
          input: { source: "net * 1.2", resultVariable: gross }
    - { id: 3, name: end, event: { kind: END } }
  transitions:
    - { id: 10, source: 1, target: 2 }
    - { id: 11, source: 2, target: 3 }
`))
	require.NoError(t, err)

	// when
	pi, err := flowEngine.CreateAndRunInstance(t.Context(), definition.Key, map[string]any{"net": 100})
	require.NoError(t, err)

	// then
	require.Equal(t, runtime.ActivityStateCompleted, pi.State)
	assert.EqualValues(t, 120, pi.GetVariable("gross"))
}

func TestUnregisteredConnectorFailsTheActivity(t *testing.T) {
	// given
	definition, err := flowEngine.DeployDefinition(t.Context(), []byte(`
process:
  name: sync-crm
  nodes:
    - { id: 1, name: start, event: { kind: START } }
    - id: 2
      name: sync
      activity: { kind: AUTOMATIC }
      connectors:
        - { id: push-contact, name: crm, event: ON_ENTER }
    - { id: 3, name: end, event: { kind: END } }
  transitions:
    - { id: 10, source: 1, target: 2 }
    - { id: 11, source: 2, target: 3 }
`))
	require.NoError(t, err)

	// when
	pi, err := flowEngine.CreateAndRunInstance(t.Context(), definition.Key, nil)
	require.NoError(t, err)

	// then: the missing handler surfaced as an incident
	assert.Equal(t, runtime.ActivityStateFailed, pi.State)
	incidents, err := flowEngine.FindIncidents(t.Context(), pi.Key)
	require.NoError(t, err)
	require.Len(t, incidents, 1)
	assert.Contains(t, incidents[0].Message, `no handler registered for connector "crm"`)
}
