package schema

// WorkflowStep is one step in an agent's workflow (spec.md §3). Kind-specific
// fields are carried as a flat superset rather than a Go sum type: the
// planner and executor each read only the fields relevant to the step's
// Kind, which keeps YAML/JSON authoring simple (one object per step) while
// still being validated per-kind (planner.Validate).
type WorkflowStep struct {
	ID              string                 `json:"id" yaml:"id"`
	Name            string                 `json:"name,omitempty" yaml:"name,omitempty"`
	Kind            StepKind               `json:"kind" yaml:"kind"`
	DependsOn       []string               `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty"`
	ExecuteIf       *Condition             `json:"executeIf,omitempty" yaml:"executeIf,omitempty"`
	Retry           *RetryPolicy           `json:"retry,omitempty" yaml:"retry,omitempty"`
	ContinueOnError bool                   `json:"continueOnError,omitempty" yaml:"continueOnError,omitempty"`
	Outputs         map[string]OutputDescriptor `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	OutputVariable  string                 `json:"outputVariable,omitempty" yaml:"outputVariable,omitempty"`
	Parallel        bool                   `json:"parallel,omitempty" yaml:"parallel,omitempty"`

	// action
	Plugin string                 `json:"plugin,omitempty" yaml:"plugin,omitempty"`
	Action string                 `json:"action,omitempty" yaml:"action,omitempty"`
	Params map[string]interface{} `json:"params,omitempty" yaml:"params,omitempty"`

	// legacy plugin_action shape, rewritten by the planner's normalizer
	PluginAction string `json:"plugin_action,omitempty" yaml:"plugin_action,omitempty"`

	// ai_processing / llm_decision
	Prompt         string      `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	Description    string      `json:"description,omitempty" yaml:"description,omitempty"`
	OutputSchema   interface{} `json:"outputSchema,omitempty" yaml:"outputSchema,omitempty"`
	HidePlugins    bool        `json:"hidePlugins,omitempty" yaml:"hidePlugins,omitempty"`

	// conditional
	Condition  *Condition      `json:"condition,omitempty" yaml:"condition,omitempty"`
	ThenSteps  []*WorkflowStep `json:"then_steps,omitempty" yaml:"then_steps,omitempty"`
	ElseSteps  []*WorkflowStep `json:"else_steps,omitempty" yaml:"else_steps,omitempty"`

	// switch
	Evaluate string                 `json:"evaluate,omitempty" yaml:"evaluate,omitempty"`
	Cases    map[string][]string    `json:"cases,omitempty" yaml:"cases,omitempty"`
	Default  []string               `json:"default,omitempty" yaml:"default,omitempty"`

	// loop
	IterateOver string          `json:"iterateOver,omitempty" yaml:"iterateOver,omitempty"`
	LoopSteps   []*WorkflowStep `json:"loopSteps,omitempty" yaml:"loopSteps,omitempty"`
	ItemName    string          `json:"itemName,omitempty" yaml:"itemName,omitempty"`

	// transform
	Operation string                 `json:"operation,omitempty" yaml:"operation,omitempty"`
	Input     interface{}            `json:"input,omitempty" yaml:"input,omitempty"`
	Config    map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`

	// scatter_gather
	Scatter *ScatterSpec `json:"scatter,omitempty" yaml:"scatter,omitempty"`
	Gather  *GatherSpec  `json:"gather,omitempty" yaml:"gather,omitempty"`

	// sub_workflow
	WorkflowID     string          `json:"workflowId,omitempty" yaml:"workflowId,omitempty"`
	WorkflowSteps  []*WorkflowStep `json:"workflowSteps,omitempty" yaml:"workflowSteps,omitempty"`
	InputMapping   map[string]string `json:"inputMapping,omitempty" yaml:"inputMapping,omitempty"`
	OutputMapping  map[string]string `json:"outputMapping,omitempty" yaml:"outputMapping,omitempty"`
	InheritParent  bool            `json:"inheritParentVariables,omitempty" yaml:"inheritParentVariables,omitempty"`
	SubTimeout     string          `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// human_approval
	Approvers      []string `json:"approvers,omitempty" yaml:"approvers,omitempty"`
	ApprovalType   string   `json:"approvalType,omitempty" yaml:"approvalType,omitempty"` // any|all|majority
	Title          string   `json:"title,omitempty" yaml:"title,omitempty"`
	Message        string   `json:"message,omitempty" yaml:"message,omitempty"`
	TimeoutAction  string   `json:"timeoutAction,omitempty" yaml:"timeoutAction,omitempty"`
	EscalateTo     []string `json:"escalateTo,omitempty" yaml:"escalateTo,omitempty"`
	ApprovalTimeout string  `json:"approvalTimeout,omitempty" yaml:"approvalTimeout,omitempty"`

	// validation
	ValidationSchema interface{}            `json:"schema,omitempty" yaml:"schema,omitempty"`
	Rules            []map[string]interface{} `json:"rules,omitempty" yaml:"rules,omitempty"`

	// comparison
	Left            interface{} `json:"left,omitempty" yaml:"left,omitempty"`
	Right           interface{} `json:"right,omitempty" yaml:"right,omitempty"`
	CompareOperation string     `json:"compareOperation,omitempty" yaml:"compareOperation,omitempty"`

	// delay
	DurationMs int `json:"durationMs,omitempty" yaml:"durationMs,omitempty"`
}

// ScatterSpec is the canonical scatter_gather "scatter" block.
type ScatterSpec struct {
	Input    interface{}     `json:"input" yaml:"input"`
	Steps    []*WorkflowStep `json:"steps" yaml:"steps"`
	ItemName string          `json:"item_name,omitempty" yaml:"item_name,omitempty"`
}

// GatherSpec is the canonical scatter_gather "gather" block.
type GatherSpec struct {
	Operation string `json:"operation" yaml:"operation"`
}

// Agent is the static workflow-owning definition (spec.md §3).
type Agent struct {
	ID             string                      `json:"id" yaml:"id"`
	Name           string                      `json:"name" yaml:"name"`
	Steps          []*WorkflowStep             `json:"pilot_steps,omitempty" yaml:"pilot_steps,omitempty"`
	LegacySteps    []*WorkflowStep             `json:"steps,omitempty" yaml:"steps,omitempty"`
	OutputSchema   map[string]OutputDescriptor `json:"outputSchema,omitempty" yaml:"outputSchema,omitempty"`
	SystemPrompt   string                      `json:"systemPrompt,omitempty" yaml:"systemPrompt,omitempty"`
	UserPrompt     string                      `json:"userPrompt,omitempty" yaml:"userPrompt,omitempty"`
}

// PreferredSteps returns pilot_steps when present, falling back to the
// legacy `steps` list (spec.md §4.8 step (3): "select the preferred step
// list (pilot_steps preferred, legacy fallback)").
func (a *Agent) PreferredSteps() []*WorkflowStep {
	if len(a.Steps) > 0 {
		return a.Steps
	}
	return a.LegacySteps
}
