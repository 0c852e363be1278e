package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startEvent(id int64, name string) *FlowNode {
	return &FlowNode{ID: id, Name: name, Event: &EventSpec{Kind: EventStart}}
}

func endEvent(id int64, name string) *FlowNode {
	return &FlowNode{ID: id, Name: name, Event: &EventSpec{Kind: EventEnd}}
}

func automaticTask(id int64, name string) *FlowNode {
	return &FlowNode{ID: id, Name: name, Activity: &ActivitySpec{Kind: ActivityAutomatic}}
}

func transition(id, source, target int64) *Transition {
	return &Transition{ID: id, Source: source, Target: target}
}

func TestConstructionResolvesTransitions(t *testing.T) {
	container := &FlowElementContainer{
		Nodes: []*FlowNode{
			startEvent(1, "start"),
			automaticTask(2, "work"),
			endEvent(3, "done"),
		},
		Transitions: []*Transition{
			transition(10, 1, 2),
			transition(11, 2, 3),
		},
	}

	definition, err := NewProcessDefinition("simple", 1, 100, container)
	require.NoError(t, err)

	work := definition.NodeByID(2)
	require.NotNil(t, work)
	assert.Equal(t, []int64{10}, work.Incoming)
	assert.Equal(t, []int64{11}, work.Outgoing)

	incoming, outgoing := definition.TransitionsOf(2)
	require.Len(t, incoming, 1)
	require.Len(t, outgoing, 1)
	assert.Equal(t, int64(10), incoming[0].ID)
	assert.Equal(t, int64(11), outgoing[0].ID)

	assert.Equal(t, work, definition.NodeByName("work"))
	assert.False(t, definition.ContainsInclusiveGateway())
}

func TestConstructionRejectsDanglingTransition(t *testing.T) {
	container := &FlowElementContainer{
		Nodes: []*FlowNode{
			startEvent(1, "start"),
		},
		Transitions: []*Transition{
			transition(10, 1, 99),
		},
	}

	_, err := NewProcessDefinition("broken", 1, 100, container)
	require.Error(t, err)
	var definitionErr *DefinitionError
	assert.ErrorAs(t, err, &definitionErr)
}

func TestConstructionRejectsDuplicateNodeId(t *testing.T) {
	container := &FlowElementContainer{
		Nodes: []*FlowNode{
			startEvent(1, "start"),
			automaticTask(1, "work"),
		},
	}

	_, err := NewProcessDefinition("broken", 1, 100, container)
	require.Error(t, err)
	var definitionErr *DefinitionError
	assert.ErrorAs(t, err, &definitionErr)
}

func TestConstructionRejectsDuplicateNodeNameInContainer(t *testing.T) {
	container := &FlowElementContainer{
		Nodes: []*FlowNode{
			startEvent(1, "same"),
			automaticTask(2, "same"),
		},
	}

	_, err := NewProcessDefinition("broken", 1, 100, container)
	require.Error(t, err)
}

func TestConstructionRejectsExclusiveGatewayWithoutViablePath(t *testing.T) {
	container := &FlowElementContainer{
		Nodes: []*FlowNode{
			startEvent(1, "start"),
			{ID: 2, Name: "decide", Gateway: &GatewaySpec{Kind: GatewayExclusive}},
			endEvent(3, "a"),
			endEvent(4, "b"),
		},
		Transitions: []*Transition{
			transition(10, 1, 2),
			{ID: 11, Source: 2, Target: 3, Condition: "amount > 100"},
			{ID: 12, Source: 2, Target: 4, Condition: "amount <= 100"},
		},
	}

	_, err := NewProcessDefinition("broken", 1, 100, container)
	require.Error(t, err)
	var definitionErr *DefinitionError
	assert.ErrorAs(t, err, &definitionErr)

	// a declared default makes the same graph valid
	container.Nodes[1].Gateway.DefaultTransition = 12
	_, err = NewProcessDefinition("fixed", 1, 101, container)
	assert.NoError(t, err)
}

func TestConstructionRejectsMalformedTimerDuration(t *testing.T) {
	container := &FlowElementContainer{
		Nodes: []*FlowNode{
			startEvent(1, "start"),
			{ID: 2, Name: "wait", Event: &EventSpec{Kind: EventIntermediateCatch, Trigger: TriggerTimer, TimerDuration: "15 minutes"}},
		},
		Transitions: []*Transition{
			transition(10, 1, 2),
		},
	}

	_, err := NewProcessDefinition("broken", 1, 100, container)
	require.Error(t, err)
}

func TestNestedSubProcessLookup(t *testing.T) {
	inner := &FlowElementContainer{
		Nodes: []*FlowNode{
			startEvent(20, "inner-start"),
			{ID: 21, Name: "merge", Gateway: &GatewaySpec{Kind: GatewayInclusive}},
			endEvent(22, "inner-end"),
		},
		Transitions: []*Transition{
			transition(30, 20, 21),
			transition(31, 21, 22),
		},
	}
	container := &FlowElementContainer{
		Nodes: []*FlowNode{
			startEvent(1, "start"),
			{ID: 2, Name: "embedded", Activity: &ActivitySpec{Kind: ActivitySubProcess, Container: inner}},
			endEvent(3, "done"),
		},
		Transitions: []*Transition{
			transition(10, 1, 2),
			transition(11, 2, 3),
		},
	}

	definition, err := NewProcessDefinition("nested", 1, 100, container)
	require.NoError(t, err)

	// recursive resolution through the sub-process container
	assert.NotNil(t, definition.NodeByID(21))
	assert.NotNil(t, definition.NodeByName("inner-start"))
	assert.NotNil(t, definition.GatewayByName("merge"))
	assert.Nil(t, definition.GatewayByName("inner-start"))
	assert.NotNil(t, definition.TransitionByID(31))
	assert.True(t, definition.ContainsInclusiveGateway())
}

func TestNestedDuplicateIdAcrossContainersRejected(t *testing.T) {
	inner := &FlowElementContainer{
		Nodes: []*FlowNode{startEvent(1, "inner-start")},
	}
	container := &FlowElementContainer{
		Nodes: []*FlowNode{
			startEvent(1, "start"),
			{ID: 2, Name: "embedded", Activity: &ActivitySpec{Kind: ActivitySubProcess, Container: inner}},
		},
		Transitions: []*Transition{
			transition(10, 1, 2),
		},
	}

	_, err := NewProcessDefinition("broken", 1, 100, container)
	require.Error(t, err)
}

func TestBoundaryEventsOf(t *testing.T) {
	container := &FlowElementContainer{
		Nodes: []*FlowNode{
			startEvent(1, "start"),
			{ID: 2, Name: "approve", Activity: &ActivitySpec{Kind: ActivityHuman}},
			{ID: 3, Name: "timeout", Event: &EventSpec{Kind: EventBoundary, Trigger: TriggerTimer, TimerDuration: "PT15M", AttachedTo: 2, Interrupting: true}},
			endEvent(4, "done"),
			endEvent(5, "escalated"),
		},
		Transitions: []*Transition{
			transition(10, 1, 2),
			transition(11, 2, 4),
			transition(12, 3, 5),
		},
	}

	definition, err := NewProcessDefinition("boundary", 1, 100, container)
	require.NoError(t, err)

	events := definition.Container.BoundaryEventsOf(2)
	require.Len(t, events, 1)
	assert.Equal(t, int64(3), events[0].ID)
	assert.Empty(t, definition.Container.BoundaryEventsOf(4))
}
