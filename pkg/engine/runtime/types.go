package runtime

import (
	"time"

	"github.com/bonitasoft/bonita-engine-sub045/pkg/model"
)

// ActivityState is the lifecycle state of a flow node instance.
type ActivityState string

const (
	ActivityStateReady      ActivityState = "READY"
	ActivityStateActive     ActivityState = "ACTIVE"
	ActivityStateCompleting ActivityState = "COMPLETING"
	ActivityStateCompleted  ActivityState = "COMPLETED"
	ActivityStateFailed     ActivityState = "FAILED"
	ActivityStateTerminated ActivityState = "TERMINATED"
	ActivityStateWithdrawn  ActivityState = "WITHDRAWN"
)

// Terminal reports whether the state ends the instance lifecycle. A
// terminal instance is only ever archived, never advanced again.
func (s ActivityState) Terminal() bool {
	switch s {
	case ActivityStateCompleted, ActivityStateFailed, ActivityStateTerminated, ActivityStateWithdrawn:
		return true
	}
	return false
}

// StateCategory qualifies how an instance is moving toward its terminal
// state. Aborting and cancelling instances skip their normal completion
// transitions.
type StateCategory string

const (
	CategoryNormal     StateCategory = "NORMAL"
	CategoryAborting   StateCategory = "ABORTING"
	CategoryCancelling StateCategory = "CANCELLING"
)

type TokenState string

const (
	TokenStateRunning   TokenState = "RUNNING"
	TokenStateWaiting   TokenState = "WAITING"
	TokenStateCompleted TokenState = "COMPLETED"
	TokenStateFailed    TokenState = "FAILED"
)

// ExecutionToken is the logical thread-of-control identifier shared by
// every flow node and transition instance produced along one branch since
// its last fork. Forking at a parallel or inclusive gateway mints child
// tokens; the matching join retires them.
type ExecutionToken struct {
	Key                int64      `json:"k"`
	ParentKey          int64      `json:"pk,omitempty"` // token this one forked from, zero for the root token
	ProcessInstanceKey int64      `json:"pi"`
	NodeID             int64      `json:"n"` // current graph position
	State              TokenState `json:"s"`
	CreatedAt          time.Time  `json:"c"`
}

// FlowNodeInstance is the runtime materialization of a flow node
// definition under a token.
type FlowNodeInstance struct {
	Key      int64         `json:"k"`
	NodeID   int64         `json:"n"`
	State    ActivityState `json:"s"`
	Category StateCategory `json:"sc"`
	// Stable is true only when the instance holds no uncommitted child
	// work; a stable, non-terminal instance may suspend indefinitely and
	// is resumed only by an external stimulus.
	Stable    bool      `json:"st"`
	ReachedAt time.Time `json:"ra"`
	UpdatedAt time.Time `json:"ua"`

	ProcessDefinitionKey      int64 `json:"pd"`
	ProcessInstanceKey        int64 `json:"pi"`
	RootProcessInstanceKey    int64 `json:"rpi"`
	ParentActivityInstanceKey int64 `json:"pa,omitempty"`

	TokenKey int64 `json:"t"`
	// ExecutionKey identifies the engine pass that created the instance;
	// records written while driving one batch share it.
	ExecutionKey int64 `json:"e,omitempty"`
	LoopCounter  int32 `json:"lc,omitempty"`
	// CompletedChildren counts terminal child instances of a loop or
	// multi-instance activity; compared against LoopCounter (children
	// started) to decide stability.
	CompletedChildren int32 `json:"cc,omitempty"`
}

func (f *FlowNodeInstance) Terminal() bool {
	return f.State.Terminal()
}

// SetState moves the instance to a new state and stamps the update time.
func (f *FlowNodeInstance) SetState(state ActivityState, at time.Time) {
	f.State = state
	f.UpdatedAt = at
}

// GatewayPhase is the readiness state machine of a gateway instance.
type GatewayPhase string

const (
	GatewayWaiting GatewayPhase = "WAITING"
	GatewayReady   GatewayPhase = "READY"
	GatewayFired   GatewayPhase = "FIRED"
)

// GatewayInstance specializes FlowNodeInstance for gateways. HitBys is the
// multiset of inbound transition ids that have delivered a token since the
// last firing; arrival order and duplicates are preserved because
// readiness counts arrivals against declared inbound transitions.
type GatewayInstance struct {
	FlowNodeInstance
	Phase  GatewayPhase `json:"ph"`
	HitBys []int64      `json:"hb,omitempty"`
}

// Hit records the arrival of a token over an inbound transition.
func (g *GatewayInstance) Hit(transitionID int64) {
	g.HitBys = append(g.HitBys, transitionID)
}

// HitCount returns how often the given inbound transition delivered a
// token since the last firing.
func (g *GatewayInstance) HitCount(transitionID int64) int {
	count := 0
	for _, id := range g.HitBys {
		if id == transitionID {
			count++
		}
	}
	return count
}

// TransitionInstance is the ephemeral record of a token traversing one
// transition. It is created non-terminal and becomes terminal once the
// target node instance exists.
type TransitionInstance struct {
	Key                int64     `json:"k"`
	TransitionID       int64     `json:"tr"`
	TokenKey           int64     `json:"t"`
	ProcessInstanceKey int64     `json:"pi"`
	ExecutionKey       int64     `json:"e,omitempty"`
	Terminal           bool      `json:"te"`
	CreatedAt          time.Time `json:"c"`
}

// InstanceKind distinguishes a root process instance from the child
// instances spawned by composite activities.
type InstanceKind string

const (
	InstanceKindRoot          InstanceKind = "ROOT"
	InstanceKindSubProcess    InstanceKind = "SUB_PROCESS"
	InstanceKindCallActivity  InstanceKind = "CALL_ACTIVITY"
	InstanceKindMultiInstance InstanceKind = "MULTI_INSTANCE"
)

type CatchEvent struct {
	Name       string         `json:"n"`
	CaughtAt   time.Time      `json:"ca"`
	IsConsumed bool           `json:"ic"`
	Payload    map[string]any `json:"p,omitempty"`
}

// ProcessInstance owns its tree of flow node instances and tokens
// exclusively; they are never shared across instances.
type ProcessInstance struct {
	Definition     *model.ProcessDefinition `json:"-"`
	DefinitionKey  int64                    `json:"dk"`
	Key            int64                    `json:"k"`
	State          ActivityState            `json:"s"`
	VariableHolder VariableHolder           `json:"vh,omitempty"`
	CreatedAt      time.Time                `json:"c"`
	CaughtEvents   []CatchEvent             `json:"ce,omitempty"`

	Kind InstanceKind `json:"ik"`
	// ParentToken is the parent instance token waiting on this child, set
	// for every non-root kind.
	ParentToken               *ExecutionToken `json:"pt,omitempty"`
	ParentActivityInstanceKey int64           `json:"pa,omitempty"`
	RootProcessInstanceKey    int64           `json:"rpi,omitempty"`
}

func (pi *ProcessInstance) GetVariable(key string) any {
	return pi.VariableHolder.GetVariable(key)
}

func (pi *ProcessInstance) SetVariable(key string, value any) {
	pi.VariableHolder.SetVariable(key, value)
}

// GetState returns one of [ Ready, Active, Completed, Failed, Terminated ]
func (pi *ProcessInstance) GetState() ActivityState {
	return pi.State
}

// RootKey returns the key of the root instance of this instance tree.
func (pi *ProcessInstance) RootKey() int64 {
	if pi.RootProcessInstanceKey != 0 {
		return pi.RootProcessInstanceKey
	}
	return pi.Key
}

// Incident records a runtime fault on a flow node instance. The instance
// is kept inspectable and retryable, never silently dropped.
type Incident struct {
	Key                int64          `json:"k"`
	NodeID             int64          `json:"n"`
	NodeInstanceKey    int64          `json:"ni"`
	ProcessInstanceKey int64          `json:"pi"`
	Message            string         `json:"m"`
	CreatedAt          time.Time      `json:"c"`
	ResolvedAt         *time.Time     `json:"r,omitempty"`
	Token              ExecutionToken `json:"t"`
}
