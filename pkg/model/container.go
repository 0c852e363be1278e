package model

// FlowElementContainer is a directed graph of flow nodes and transitions,
// plus the declarations scoped to it. Containers nest through sub-process
// activities, forming a tree.
//
// A container is mutable while being assembled and becomes immutable once
// the owning ProcessDefinition is constructed; all lookups are
// side-effect-free after that point.
type FlowElementContainer struct {
	Nodes        []*FlowNode               `yaml:"nodes"`
	Transitions  []*Transition             `yaml:"transitions"`
	BusinessData []BusinessDataDeclaration `yaml:"businessData"`
	Documents    []DocumentDeclaration     `yaml:"documents"`

	nodesByID       map[int64]*FlowNode
	nodesByName     map[string]*FlowNode
	transitionsByID map[int64]*Transition
	children        []*FlowElementContainer
	hasInclusive    bool
}

// NodeByID resolves a flow node by its numeric id, recursively searching
// nested sub-process containers on miss.
func (c *FlowElementContainer) NodeByID(id int64) *FlowNode {
	if n, ok := c.nodesByID[id]; ok {
		return n
	}
	for _, child := range c.children {
		if n := child.NodeByID(id); n != nil {
			return n
		}
	}
	return nil
}

// NodeByName resolves a flow node by name, recursively searching nested
// sub-process containers on miss.
func (c *FlowElementContainer) NodeByName(name string) *FlowNode {
	if n, ok := c.nodesByName[name]; ok {
		return n
	}
	for _, child := range c.children {
		if n := child.NodeByName(name); n != nil {
			return n
		}
	}
	return nil
}

// GatewayByName resolves a gateway node by name; non-gateway nodes with a
// matching name are skipped.
func (c *FlowElementContainer) GatewayByName(name string) *FlowNode {
	if n, ok := c.nodesByName[name]; ok && n.Kind == NodeKindGateway {
		return n
	}
	for _, child := range c.children {
		if n := child.GatewayByName(name); n != nil {
			return n
		}
	}
	return nil
}

// TransitionByID resolves a transition by id, recursively searching nested
// containers on miss.
func (c *FlowElementContainer) TransitionByID(id int64) *Transition {
	if t, ok := c.transitionsByID[id]; ok {
		return t
	}
	for _, child := range c.children {
		if t := child.TransitionByID(id); t != nil {
			return t
		}
	}
	return nil
}

// TransitionsOf returns the incoming and outgoing transitions of a node.
func (c *FlowElementContainer) TransitionsOf(nodeID int64) (incoming []*Transition, outgoing []*Transition) {
	node := c.NodeByID(nodeID)
	if node == nil {
		return nil, nil
	}
	for _, id := range node.Incoming {
		incoming = append(incoming, c.TransitionByID(id))
	}
	for _, id := range node.Outgoing {
		outgoing = append(outgoing, c.TransitionByID(id))
	}
	return incoming, outgoing
}

// ContainingContainer returns the container (this one or a nested one) that
// directly owns the node, or nil.
func (c *FlowElementContainer) ContainingContainer(nodeID int64) *FlowElementContainer {
	if _, ok := c.nodesByID[nodeID]; ok {
		return c
	}
	for _, child := range c.children {
		if owner := child.ContainingContainer(nodeID); owner != nil {
			return owner
		}
	}
	return nil
}

// ContainsInclusiveGateway reports whether this container or any nested one
// declares an inclusive gateway. Precomputed at construction so the engine
// can pick the cheaper completion check when no inclusive gateway exists.
func (c *FlowElementContainer) ContainsInclusiveGateway() bool {
	return c.hasInclusive
}

// StartEvents returns the start event nodes directly owned by this
// container, in declaration order.
func (c *FlowElementContainer) StartEvents() []*FlowNode {
	var starts []*FlowNode
	for _, n := range c.Nodes {
		if n.IsEvent(EventStart) {
			starts = append(starts, n)
		}
	}
	return starts
}

// BoundaryEventsOf returns the boundary events attached to the given
// activity, in declaration order.
func (c *FlowElementContainer) BoundaryEventsOf(activityID int64) []*FlowNode {
	owner := c.ContainingContainer(activityID)
	if owner == nil {
		return nil
	}
	var events []*FlowNode
	for _, n := range owner.Nodes {
		if n.IsEvent(EventBoundary) && n.Event.AttachedTo == activityID {
			events = append(events, n)
		}
	}
	return events
}

// BusinessDataDeclaration returns the declaration with the given name, or
// nil. Business data is declared on the root container only.
func (c *FlowElementContainer) BusinessDataDeclarationByName(name string) *BusinessDataDeclaration {
	for i := range c.BusinessData {
		if c.BusinessData[i].Name == name {
			return &c.BusinessData[i]
		}
	}
	return nil
}
