package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const orderDefinition = `
process:
  name: order-handling
  nodes:
    - id: 1
      name: start
      event: { kind: START }
    - id: 2
      name: review
      activity:
        kind: HUMAN
        businessDataOperations:
          - { name: order, kind: CREATE_OR_UPDATE, expression: "order" }
    - id: 3
      name: decide
      gateway: { kind: EXCLUSIVE, defaultTransition: 13 }
    - id: 4
      name: accepted
      event: { kind: END }
    - id: 5
      name: rejected
      event: { kind: END }
  transitions:
    - { id: 10, source: 1, target: 2 }
    - { id: 11, source: 2, target: 3 }
    - { id: 12, source: 3, target: 4, condition: "approved" }
    - { id: 13, source: 3, target: 5 }
  businessData:
    - { name: order, class: com.acme.Order }
`

func TestParseDefinition(t *testing.T) {
	definition, err := ParseDefinition([]byte(orderDefinition), 500)
	require.NoError(t, err)

	assert.Equal(t, "order-handling", definition.Name)
	assert.Equal(t, int64(500), definition.Key)
	assert.Equal(t, ChecksumOf([]byte(orderDefinition)), definition.Checksum)

	decide := definition.NodeByName("decide")
	require.NotNil(t, decide)
	assert.True(t, decide.IsGateway(GatewayExclusive))
	assert.Equal(t, int64(13), decide.Gateway.DefaultTransition)

	review := definition.NodeByID(2)
	require.NotNil(t, review)
	require.Len(t, review.Activity.BusinessDataOperations, 1)
	assert.Equal(t, BusinessDataCreateOrUpdate, review.Activity.BusinessDataOperations[0].Kind)

	require.NotNil(t, definition.Container.BusinessDataDeclarationByName("order"))
	assert.Nil(t, definition.Container.BusinessDataDeclarationByName("invoice"))
}

func TestParseDefinitionRejectsMalformedGraph(t *testing.T) {
	const dangling = `
process:
  name: broken
  nodes:
    - id: 1
      name: start
      event: { kind: START }
  transitions:
    - { id: 10, source: 1, target: 99 }
`
	_, err := ParseDefinition([]byte(dangling), 500)
	require.Error(t, err)
	var definitionErr *DefinitionError
	assert.ErrorAs(t, err, &definitionErr)
}

func TestParseDefinitionRejectsUnparsableData(t *testing.T) {
	_, err := ParseDefinition([]byte("process: ["), 500)
	require.Error(t, err)
}
