package ir

// Plan represents a calculated execution plan.
type Plan struct {
	Metadata *PlanMetadata     `json:"metadata" yaml:"metadata"`
	Changes  []*ResourceChange `json:"changes" yaml:"changes"`
	Summary  *PlanSummary      `json:"summary" yaml:"summary"`
	Outputs  map[string]any    `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

type PlanMetadata struct {
	Timestamp string `json:"timestamp" yaml:"timestamp"`
	Stack     string `json:"stack" yaml:"stack"`
	Variant   string `json:"variant" yaml:"variant"`
	Serial    int    `json:"serial" yaml:"serial"`
}

type ResourceChange struct {
	Address string                   `json:"address" yaml:"address"`
	Action  string                   `json:"action" yaml:"action"` // CREATE, UPDATE, REPLACE, DELETE
	Desired *Resource                `json:"resource,omitempty" yaml:"resource,omitempty"`
	Prior   *Resource                `json:"prior,omitempty" yaml:"prior,omitempty"`
	Diff    map[string]*PropertyDiff `json:"diff,omitempty" yaml:"diff,omitempty"`
}

type PropertyDiff struct {
	Before            any    `json:"before,omitempty" yaml:"before,omitempty"`
	After             any    `json:"after,omitempty" yaml:"after,omitempty"`
	ForcesReplacement bool   `json:"forcesReplacement,omitempty" yaml:"forcesReplacement,omitempty"`
	Action            string `json:"action" yaml:"action"` // create, update, delete
}

type PlanSummary struct {
	Create  int `json:"create" yaml:"create"`
	Update  int `json:"update" yaml:"update"`
	Delete  int `json:"delete" yaml:"delete"`
	Replace int `json:"replace" yaml:"replace"`
	NoOp    int `json:"noop" yaml:"noop"`
}
