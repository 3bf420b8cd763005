package ir

// Resource represents a single declared resource in the stack graph.
type Resource struct {
	Type       string         `json:"type" yaml:"type"` // e.g. "aws:EC2.Vpc"
	Name       string         `json:"name" yaml:"name"`
	Provider   string         `json:"provider" yaml:"provider"`
	Lifecycle  *Lifecycle     `json:"lifecycle,omitempty" yaml:"lifecycle,omitempty"`
	DependsOn  []string       `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty"`
	Timeout    string         `json:"timeout,omitempty" yaml:"timeout,omitempty"` // e.g. "20m"
	Properties map[string]any `json:"properties" yaml:"properties"`
}

type Lifecycle struct {
	CreateBeforeDestroy bool     `json:"createBeforeDestroy,omitempty" yaml:"createBeforeDestroy,omitempty"`
	PreventDestroy      bool     `json:"preventDestroy,omitempty" yaml:"preventDestroy,omitempty"`
	IgnoreChanges       []string `json:"ignoreChanges,omitempty" yaml:"ignoreChanges,omitempty"`
}

// Address returns the graph address of the resource ("type.name").
func (r *Resource) Address() string {
	return Addr(r.Type, r.Name)
}

// Addr joins a resource type and name into a graph address.
func Addr(typ, name string) string {
	if typ == "" {
		typ = "null_resource"
	}
	return typ + "." + name
}
