package model

// NodeKind discriminates the closed set of flow node families. Exactly one
// of FlowNode.Activity, FlowNode.Gateway, FlowNode.Event is set, matching
// this kind.
type NodeKind string

const (
	NodeKindActivity NodeKind = "ACTIVITY"
	NodeKindGateway  NodeKind = "GATEWAY"
	NodeKindEvent    NodeKind = "EVENT"
)

type ActivityKind string

const (
	ActivityAutomatic     ActivityKind = "AUTOMATIC"
	ActivityHuman         ActivityKind = "HUMAN"
	ActivityManual        ActivityKind = "MANUAL"
	ActivityReceive       ActivityKind = "RECEIVE"
	ActivitySend          ActivityKind = "SEND"
	ActivityCallActivity  ActivityKind = "CALL_ACTIVITY"
	ActivitySubProcess    ActivityKind = "SUB_PROCESS"
	ActivityLoop          ActivityKind = "LOOP"
	ActivityMultiInstance ActivityKind = "MULTI_INSTANCE"
)

type GatewayKind string

const (
	GatewayExclusive GatewayKind = "EXCLUSIVE"
	GatewayParallel  GatewayKind = "PARALLEL"
	GatewayInclusive GatewayKind = "INCLUSIVE"
	GatewayComplex   GatewayKind = "COMPLEX"
)

type EventKind string

const (
	EventStart             EventKind = "START"
	EventIntermediateCatch EventKind = "INTERMEDIATE_CATCH"
	EventIntermediateThrow EventKind = "INTERMEDIATE_THROW"
	EventEnd               EventKind = "END"
	EventBoundary          EventKind = "BOUNDARY"
)

type TriggerKind string

const (
	TriggerNone    TriggerKind = "NONE"
	TriggerMessage TriggerKind = "MESSAGE"
	TriggerTimer   TriggerKind = "TIMER"
	TriggerSignal  TriggerKind = "SIGNAL"
	TriggerError   TriggerKind = "ERROR"
)

// ConnectorEvent states when a declared connector fires relative to the
// flow node execution.
type ConnectorEvent string

const (
	ConnectorOnEnter  ConnectorEvent = "ON_ENTER"
	ConnectorOnFinish ConnectorEvent = "ON_FINISH"
)

type ConnectorDefinition struct {
	ID    string            `yaml:"id"`
	Name  string            `yaml:"name"`
	Event ConnectorEvent    `yaml:"event"`
	Input map[string]string `yaml:"input"`
}

// DataOperation assigns the value of an expression to a process variable
// when the owning activity completes.
type DataOperation struct {
	Target     string `yaml:"target"`
	Expression string `yaml:"expression"`
}

type BusinessDataOperationKind string

const (
	BusinessDataAttach         BusinessDataOperationKind = "ATTACH_EXISTING"
	BusinessDataCreateOrUpdate BusinessDataOperationKind = "CREATE_OR_UPDATE"
	BusinessDataDelete         BusinessDataOperationKind = "DELETE"
)

// BusinessDataOperation manipulates a named business data reference of the
// process instance; the operand expression is evaluated by the external
// expression collaborator.
type BusinessDataOperation struct {
	Name       string                    `yaml:"name"`
	Kind       BusinessDataOperationKind `yaml:"kind"`
	Expression string                    `yaml:"expression"`
}

type ContractInput struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Multiple bool   `yaml:"multiple"`
}

type LoopSpec struct {
	Condition     string `yaml:"condition"`
	MaxIterations int    `yaml:"maxIterations"`
}

type MultiInstanceSpec struct {
	Sequential          bool   `yaml:"sequential"`
	InputCollection     string `yaml:"inputCollection"`
	InputElement        string `yaml:"inputElement"`
	OutputCollection    string `yaml:"outputCollection"`
	OutputElement       string `yaml:"outputElement"`
	CompletionCondition string `yaml:"completionCondition"`
}

type ActivitySpec struct {
	Kind                   ActivityKind            `yaml:"kind"`
	DataOperations         []DataOperation         `yaml:"dataOperations"`
	BusinessDataOperations []BusinessDataOperation `yaml:"businessDataOperations"`
	ContractInputs         []ContractInput         `yaml:"contractInputs"`
	Loop                   *LoopSpec               `yaml:"loop"`
	MultiInstance          *MultiInstanceSpec      `yaml:"multiInstance"`
	CalledProcess          string                  `yaml:"calledProcess"`
	Container              *FlowElementContainer   `yaml:"container"`
}

type GatewaySpec struct {
	Kind GatewayKind `yaml:"kind"`
	// DefaultTransition is taken by an exclusive or inclusive gateway when
	// no outgoing condition evaluates to true; zero means none declared.
	DefaultTransition int64 `yaml:"defaultTransition"`
}

type EventSpec struct {
	Kind          EventKind   `yaml:"kind"`
	Trigger       TriggerKind `yaml:"trigger"`
	MessageName   string      `yaml:"messageName"`
	SignalName    string      `yaml:"signalName"`
	TimerDuration string      `yaml:"timerDuration"` // ISO-8601, e.g. PT15M
	AttachedTo    int64       `yaml:"attachedTo"`    // hosting activity, boundary events only
	Interrupting  bool        `yaml:"interrupting"`
}

// FlowNode is one vertex of the definition graph. Node identity is the
// numeric ID; the name is unique within its container.
type FlowNode struct {
	ID   int64    `yaml:"id"`
	Name string   `yaml:"name"`
	Kind NodeKind `yaml:"-"`

	Activity *ActivitySpec `yaml:"activity"`
	Gateway  *GatewaySpec  `yaml:"gateway"`
	Event    *EventSpec    `yaml:"event"`

	Incoming []int64 `yaml:"-"`
	Outgoing []int64 `yaml:"-"`

	Connectors []ConnectorDefinition `yaml:"connectors"`
}

// IsActivity reports whether the node is an activity of the given kinds, or
// any activity when no kind is given.
func (n *FlowNode) IsActivity(kinds ...ActivityKind) bool {
	if n.Kind != NodeKindActivity {
		return false
	}
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if n.Activity.Kind == k {
			return true
		}
	}
	return false
}

func (n *FlowNode) IsGateway(kinds ...GatewayKind) bool {
	if n.Kind != NodeKindGateway {
		return false
	}
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if n.Gateway.Kind == k {
			return true
		}
	}
	return false
}

func (n *FlowNode) IsEvent(kinds ...EventKind) bool {
	if n.Kind != NodeKindEvent {
		return false
	}
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if n.Event.Kind == k {
			return true
		}
	}
	return false
}

// Transition is one directed edge of the definition graph. Purely
// structural; Condition holds the external guard expression, if any.
type Transition struct {
	ID        int64  `yaml:"id"`
	Name      string `yaml:"name"`
	Source    int64  `yaml:"source"`
	Target    int64  `yaml:"target"`
	Condition string `yaml:"condition"`
}

type BusinessDataDeclaration struct {
	Name      string `yaml:"name"`
	ClassName string `yaml:"class"`
	Multiple  bool   `yaml:"multiple"`
}

type DocumentDeclaration struct {
	Name     string `yaml:"name"`
	MimeType string `yaml:"mimeType"`
}
