package engine

import (
	"github.com/bonitasoft/bonita-engine-sub045/pkg/engine/runtime"
	"github.com/bonitasoft/bonita-engine-sub045/pkg/model"
)

type command interface {
}

// ---------------------------------------------------------------------

// flowTransitionCommand moves a token over one transition towards the
// transition's target node.
type flowTransitionCommand struct {
	transition *model.Transition
	token      runtime.ExecutionToken
	sourceKey  int64 // flow node instance the token departed from
}

// ---------------------------------------------------------------------

// nodeCommand materializes a flow node instance for the token's current
// position. inboundTransition is zero for start events. traversal is the
// live record of the transition that delivered the token; it turns
// terminal once the node is handled.
type nodeCommand struct {
	node              *model.FlowNode
	token             runtime.ExecutionToken
	inboundTransition int64
	traversal         runtime.TransitionInstance
}

// ---------------------------------------------------------------------

// continueNodeCommand resumes a stable, non-terminal instance after an
// external stimulus delivered a payload.
type continueNodeCommand struct {
	instance runtime.FlowNodeInstance
	payload  map[string]any
}

// ---------------------------------------------------------------------

// gatewayFireCommand fires a gateway whose readiness was proven by a
// pending-stimulus recheck instead of a direct arrival.
type gatewayFireCommand struct {
	node  *model.FlowNode
	token runtime.ExecutionToken
}

// ---------------------------------------------------------------------

// boundaryEventCommand delivers a triggered boundary event to its hosting
// activity.
type boundaryEventCommand struct {
	node    *model.FlowNode
	payload map[string]any
}

// ---------------------------------------------------------------------

// spawnInstanceCommand schedules a freshly created child instance to run
// once the current pass released its instance lock.
type spawnInstanceCommand struct {
	child runtime.ProcessInstance
}

// ---------------------------------------------------------------------

// continueParentCommand schedules the parent continuation of a completed
// child instance, after the current pass released its instance lock.
type continueParentCommand struct {
	child runtime.ProcessInstance
}

// ---------------------------------------------------------------------

type errorCommand struct {
	err      error
	node     *model.FlowNode
	token    runtime.ExecutionToken
	nodeInst *runtime.FlowNodeInstance
}
