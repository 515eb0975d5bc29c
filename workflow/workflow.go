// Package workflow defines the node-graph model a workflow is authored in and
// the planner that turns it into a validated, level-ordered execution plan.
package workflow

// Trigger identifies how an execution of a workflow is initiated.
type Trigger string

const (
	TriggerManual Trigger = "manual"
	TriggerHTTP   Trigger = "http"
	TriggerEmail  Trigger = "email"
	TriggerCron   Trigger = "cron"
)

// ParamType is the declared wire type of a node parameter.
type ParamType string

const (
	TypeString   ParamType = "string"
	TypeNumber   ParamType = "number"
	TypeBoolean  ParamType = "boolean"
	TypeJSON     ParamType = "json"
	TypeGeoJSON  ParamType = "geojson"
	TypeImage    ParamType = "image"
	TypeAudio    ParamType = "audio"
	TypeVideo    ParamType = "video"
	TypeDocument ParamType = "document"
	TypeBlob     ParamType = "blob"
)

// Media reports whether values of this type are stored in the object store
// and travel between nodes as blob references.
func (t ParamType) Media() bool {
	switch t {
	case TypeImage, TypeAudio, TypeVideo, TypeDocument, TypeBlob:
		return true
	}
	return false
}

// ParameterSpec declares a single named input or output of a node.
//
// Value carries an optional literal default for inputs. Variadic marks a
// fan-in input: multiple edges may target it and its runtime value is a
// sequence in edge order.
type ParameterSpec struct {
	Name     string    `json:"name"`
	Type     ParamType `json:"type"`
	Required bool      `json:"required,omitempty"`
	Variadic bool      `json:"variadic,omitempty"`
	Value    any       `json:"value,omitempty"`
	Hidden   bool      `json:"hidden,omitempty"`
}

// NodeSpec is one node instance in a workflow: a reference to a registered
// node type plus its declared parameters.
type NodeSpec struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Inputs  []ParameterSpec `json:"inputs,omitempty"`
	Outputs []ParameterSpec `json:"outputs,omitempty"`
}

// Input returns the declared input parameter with the given name.
func (n *NodeSpec) Input(name string) (ParameterSpec, bool) {
	for _, p := range n.Inputs {
		if p.Name == name {
			return p, true
		}
	}
	return ParameterSpec{}, false
}

// Output returns the declared output parameter with the given name.
func (n *NodeSpec) Output(name string) (ParameterSpec, bool) {
	for _, p := range n.Outputs {
		if p.Name == name {
			return p, true
		}
	}
	return ParameterSpec{}, false
}

// Edge connects a source node's output parameter to a target node's input
// parameter.
type Edge struct {
	Source       string `json:"source"`
	SourceOutput string `json:"source_output"`
	Target       string `json:"target"`
	TargetInput  string `json:"target_input"`
}

// Workflow is a complete authored node graph.
type Workflow struct {
	ID       string     `json:"id"`
	Handle   string     `json:"handle,omitempty"`
	Name     string     `json:"name,omitempty"`
	Trigger  Trigger    `json:"trigger,omitempty"`
	CronExpr string     `json:"cron_expr,omitempty"`
	Nodes    []NodeSpec `json:"nodes"`
	Edges    []Edge     `json:"edges,omitempty"`
}

// Node returns the node with the given id.
func (w *Workflow) Node(id string) (*NodeSpec, bool) {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i], true
		}
	}
	return nil, false
}
