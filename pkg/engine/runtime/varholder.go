package runtime

// VariableHolder scopes process variables: a child holder sees its parent's
// variables and may shadow them locally. Activities get a child holder of
// their owning instance's holder.
type VariableHolder struct {
	parent         *VariableHolder
	localVariables map[string]any
}

// NewVariableHolder creates a new VariableHolder with a given parent and
// localVariables map. If localVariables is nil the parent's variables are
// copied into the new local scope.
func NewVariableHolder(parent *VariableHolder, localVariables map[string]any) VariableHolder {
	if localVariables == nil {
		localVariables = make(map[string]any)
		if parent != nil {
			for k, v := range parent.localVariables {
				localVariables[k] = v
			}
		}
	}
	return VariableHolder{
		parent:         parent,
		localVariables: localVariables,
	}
}

func (vh *VariableHolder) Variables() map[string]any {
	return vh.localVariables
}

func (vh *VariableHolder) GetVariable(key string) any {
	if v, ok := vh.localVariables[key]; ok {
		return v
	}
	if vh.parent != nil {
		return vh.parent.GetVariable(key)
	}
	return nil
}

func (vh *VariableHolder) SetVariable(key string, val any) {
	if vh.localVariables == nil {
		vh.localVariables = make(map[string]any)
	}
	vh.localVariables[key] = val
}

func (vh *VariableHolder) SetVariables(variables map[string]any) {
	for k, v := range variables {
		vh.SetVariable(k, v)
	}
}

// PropagateVariable sets a value with the given key on the parent holder.
func (vh *VariableHolder) PropagateVariable(key string, value any) {
	if vh.parent != nil {
		vh.parent.SetVariable(key, value)
	}
}

// PropagateVariables sets the given values on the parent holder.
func (vh *VariableHolder) PropagateVariables(variables map[string]any) {
	if vh.parent != nil {
		for k, v := range variables {
			vh.parent.SetVariable(k, v)
		}
	}
}
