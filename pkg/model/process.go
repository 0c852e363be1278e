package model

import (
	"github.com/senseyeio/duration"
)

// ProcessDefinition is the immutable definition of a process, identified by
// (Name, Version, Key). It owns the root FlowElementContainer.
type ProcessDefinition struct {
	Name     string
	Version  int32
	Key      int64
	Checksum string // sha1 of the raw source, hex lower case; empty when built in memory

	Container *FlowElementContainer
}

// NewProcessDefinition validates the container graph and seals it. On
// success the returned definition and everything it owns are immutable.
// Returns a DefinitionError when the graph is malformed.
func NewProcessDefinition(name string, version int32, key int64, container *FlowElementContainer) (*ProcessDefinition, error) {
	if name == "" {
		return nil, newDefinitionErrorf("process definition requires a name")
	}
	if container == nil {
		return nil, newDefinitionErrorf("process definition %s requires a root container", name)
	}
	seenIDs := map[int64]string{}
	seenContainers := map[*FlowElementContainer]bool{}
	if err := container.seal(name, seenIDs, seenContainers); err != nil {
		return nil, err
	}
	return &ProcessDefinition{
		Name:      name,
		Version:   version,
		Key:       key,
		Container: container,
	}, nil
}

func (d *ProcessDefinition) NodeByID(id int64) *FlowNode { return d.Container.NodeByID(id) }
func (d *ProcessDefinition) NodeByName(name string) *FlowNode { return d.Container.NodeByName(name) }
func (d *ProcessDefinition) GatewayByName(name string) *FlowNode {
	return d.Container.GatewayByName(name)
}
func (d *ProcessDefinition) TransitionByID(id int64) *Transition {
	return d.Container.TransitionByID(id)
}
func (d *ProcessDefinition) TransitionsOf(nodeID int64) ([]*Transition, []*Transition) {
	return d.Container.TransitionsOf(nodeID)
}
func (d *ProcessDefinition) ContainsInclusiveGateway() bool {
	return d.Container.ContainsInclusiveGateway()
}

// seal builds the lookup indexes, wires node transition associations and
// validates the graph, recursing into sub-process containers. seenIDs spans
// the whole container tree so node ids stay unique across nesting levels;
// seenContainers guards against a container appearing twice (the tree must
// never form a cycle).
func (c *FlowElementContainer) seal(processName string, seenIDs map[int64]string, seenContainers map[*FlowElementContainer]bool) error {
	if seenContainers[c] {
		return newDefinitionErrorf("process %s: container is referenced by more than one sub-process", processName)
	}
	seenContainers[c] = true

	c.nodesByID = make(map[int64]*FlowNode, len(c.Nodes))
	c.nodesByName = make(map[string]*FlowNode, len(c.Nodes))
	c.transitionsByID = make(map[int64]*Transition, len(c.Transitions))
	c.children = nil
	c.hasInclusive = false

	for _, n := range c.Nodes {
		if err := n.normalize(processName); err != nil {
			return err
		}
		if owner, dup := seenIDs[n.ID]; dup {
			return newDefinitionErrorf("process %s: duplicate node id %d (already declared in %s)", processName, n.ID, owner)
		}
		seenIDs[n.ID] = processName
		if _, dup := c.nodesByName[n.Name]; dup {
			return newDefinitionErrorf("process %s: duplicate node name %q in container", processName, n.Name)
		}
		c.nodesByID[n.ID] = n
		c.nodesByName[n.Name] = n
		if n.IsGateway(GatewayInclusive) {
			c.hasInclusive = true
		}
		n.Incoming = nil
		n.Outgoing = nil
		if n.IsActivity(ActivitySubProcess, ActivityLoop, ActivityMultiInstance) && n.Activity.Container == nil {
			return newDefinitionErrorf("process %s: %s activity %q has no container", processName, n.Activity.Kind, n.Name)
		}
		if n.Kind == NodeKindActivity && n.Activity.Container != nil {
			c.children = append(c.children, n.Activity.Container)
		}
	}

	for _, t := range c.Transitions {
		if _, dup := c.transitionsByID[t.ID]; dup {
			return newDefinitionErrorf("process %s: duplicate transition id %d", processName, t.ID)
		}
		c.transitionsByID[t.ID] = t
		source, ok := c.nodesByID[t.Source]
		if !ok {
			return newDefinitionErrorf("process %s: transition %d references unknown source node %d", processName, t.ID, t.Source)
		}
		target, ok := c.nodesByID[t.Target]
		if !ok {
			return newDefinitionErrorf("process %s: transition %d references unknown target node %d", processName, t.ID, t.Target)
		}
		source.Outgoing = append(source.Outgoing, t.ID)
		target.Incoming = append(target.Incoming, t.ID)
	}

	for _, child := range c.children {
		if err := child.seal(processName, seenIDs, seenContainers); err != nil {
			return err
		}
		if child.hasInclusive {
			c.hasInclusive = true
		}
	}

	for _, n := range c.Nodes {
		if err := c.validateNode(processName, n); err != nil {
			return err
		}
	}
	return nil
}

// normalize derives the node kind from the variant set on it and validates
// that exactly one variant is present.
func (n *FlowNode) normalize(processName string) error {
	set := 0
	if n.Activity != nil {
		n.Kind = NodeKindActivity
		set++
	}
	if n.Gateway != nil {
		n.Kind = NodeKindGateway
		set++
	}
	if n.Event != nil {
		n.Kind = NodeKindEvent
		if n.Event.Trigger == "" {
			n.Event.Trigger = TriggerNone
		}
		set++
	}
	if set != 1 {
		return newDefinitionErrorf("process %s: node %d %q must be exactly one of activity, gateway, event", processName, n.ID, n.Name)
	}
	return nil
}

func (c *FlowElementContainer) validateNode(processName string, n *FlowNode) error {
	switch n.Kind {
	case NodeKindGateway:
		if n.Gateway.Kind == GatewayExclusive || n.Gateway.Kind == GatewayInclusive {
			if err := c.validateOutgoingGuards(processName, n); err != nil {
				return err
			}
		}
	case NodeKindEvent:
		if n.Event.Trigger == TriggerTimer {
			if _, err := duration.ParseISO8601(n.Event.TimerDuration); err != nil {
				return newDefinitionErrorf("process %s: event %q carries a malformed timer duration %q", processName, n.Name, n.Event.TimerDuration)
			}
		}
		if n.Event.Kind == EventBoundary {
			host := c.NodeByID(n.Event.AttachedTo)
			if host == nil || host.Kind != NodeKindActivity {
				return newDefinitionErrorf("process %s: boundary event %q is not attached to an activity", processName, n.Name)
			}
			if len(n.Incoming) > 0 {
				return newDefinitionErrorf("process %s: boundary event %q must not have incoming transitions", processName, n.Name)
			}
		}
		if n.Event.Kind == EventEnd && len(n.Outgoing) > 0 {
			return newDefinitionErrorf("process %s: end event %q must not have outgoing transitions", processName, n.Name)
		}
	}
	return nil
}

// validateOutgoingGuards rejects a decision gateway that could end up with
// no viable outgoing transition at runtime: every conditional fan-out needs
// either a declared default or at least one unconditional transition.
func (c *FlowElementContainer) validateOutgoingGuards(processName string, n *FlowNode) error {
	if len(n.Outgoing) <= 1 {
		return nil
	}
	if n.Gateway.DefaultTransition != 0 {
		found := false
		for _, id := range n.Outgoing {
			if id == n.Gateway.DefaultTransition {
				found = true
			}
		}
		if !found {
			return newDefinitionErrorf("process %s: gateway %q declares default transition %d which is not one of its outgoing transitions", processName, n.Name, n.Gateway.DefaultTransition)
		}
		return nil
	}
	for _, id := range n.Outgoing {
		if c.transitionsByID[id].Condition == "" {
			return nil
		}
	}
	return newDefinitionErrorf("process %s: gateway %q has only conditional outgoing transitions and no default", processName, n.Name)
}
