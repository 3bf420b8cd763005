package ir

// Config is a complete stack declaration: the resource graph plus its outputs.
type Config struct {
	Stack     string         `json:"stack" yaml:"stack"`
	Variant   string         `json:"variant" yaml:"variant"`
	Resources []*Resource    `json:"resources" yaml:"resources"`
	Outputs   map[string]any `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

// Find returns the resource with the given address, or nil.
func (c *Config) Find(addr string) *Resource {
	for _, res := range c.Resources {
		if res.Address() == addr {
			return res
		}
	}
	return nil
}

// OfType returns all resources of the given type in declaration order.
func (c *Config) OfType(typ string) []*Resource {
	var out []*Resource
	for _, res := range c.Resources {
		if res.Type == typ {
			out = append(out, res)
		}
	}
	return out
}
