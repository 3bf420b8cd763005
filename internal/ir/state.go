package ir

// State represents what has been deployed for a stack.
type State struct {
	Version   int              `json:"version" yaml:"version"`
	Serial    int              `json:"serial" yaml:"serial"`
	Lineage   string           `json:"lineage" yaml:"lineage"`
	Stack     string           `json:"stack,omitempty" yaml:"stack,omitempty"`
	Variant   string           `json:"variant,omitempty" yaml:"variant,omitempty"`
	Resources []*ResourceState `json:"resources" yaml:"resources"`
	Outputs   map[string]any   `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

type ResourceState struct {
	Type         string         `json:"type" yaml:"type"`
	Name         string         `json:"name" yaml:"name"`
	Provider     string         `json:"provider" yaml:"provider"`
	Inputs       map[string]any `json:"inputs" yaml:"inputs"`   // declared, references unresolved
	Outputs      map[string]any `json:"outputs" yaml:"outputs"` // returned by the provider
	Dependencies []string       `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

// Address returns the graph address of the deployed resource.
func (r *ResourceState) Address() string {
	return Addr(r.Type, r.Name)
}

// Lookup returns the deployed resource at addr, or nil.
func (s *State) Lookup(addr string) *ResourceState {
	for _, res := range s.Resources {
		if res.Address() == addr {
			return res
		}
	}
	return nil
}
