package dto

// The types below mirror the JSON objects the classifier is asked to produce.
// They are decoded with mapstructure in weak mode so "true"/"1" and numeric strings are tolerated.

// WidgetReply is the widget extraction answer for one page.
type WidgetReply struct {
	FunctionDescription string   `json:"function_description" mapstructure:"function_description"`
	Widgets             []Widget `json:"widgets" mapstructure:"widgets"`
}

// Widget is one interactive element. Position is either [x, y] or "x,y" in 0..1000 space.
type Widget struct {
	Description   string `json:"description" mapstructure:"description"`
	Action        string `json:"action" mapstructure:"action"`
	Content       string `json:"content" mapstructure:"content"`
	Position      any    `json:"position" mapstructure:"position"`
	IsLeaf        bool   `json:"is_leaf" mapstructure:"is_leaf"`
	Postcondition string `json:"postcondition" mapstructure:"postcondition"`
}

// PositionReply locates a widget on the current screen.
type PositionReply struct {
	Position any `json:"position" mapstructure:"position"`
}

// SamePageReply is the page equivalence verdict.
type SamePageReply struct {
	IsSamePage bool `json:"is_same_page" mapstructure:"is_same_page"`
}

// BugReply is the bug detector verdict.
type BugReply struct {
	HasBug         bool   `json:"has_bug" mapstructure:"has_bug"`
	BugType        string `json:"bug_type" mapstructure:"bug_type"`
	BugDescription string `json:"bug_description" mapstructure:"bug_description"`
}

// EdgeReply classifies one PTG edge during FDG construction.
type EdgeReply struct {
	NewFunctionalPoint bool     `json:"new_functional_point" mapstructure:"new_functional_point"`
	DataIn             []string `json:"data_in" mapstructure:"data_in"`
	DataOut            []string `json:"data_out" mapstructure:"data_out"`
}

// DependencyReply maps a producer unit index to the units consuming its data.
// Keys arrive as strings because JSON object keys are strings.
type DependencyReply struct {
	DataDependencies map[string][]int `json:"data_dependencies" mapstructure:"data_dependencies"`
}

// VariantsReply lists alternative step sequences through one functional unit.
type VariantsReply struct {
	VariantPaths [][]string `json:"variant_paths" mapstructure:"variant_paths"`
}
