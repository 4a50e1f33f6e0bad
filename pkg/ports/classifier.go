package ports

import "context"

// Task names the decision point a classifier request belongs to.
type Task string

const (
	TaskWidgetExtraction   Task = "widget_extraction"
	TaskLocateWidget       Task = "locate_widget"
	TaskPageEquivalence    Task = "page_equivalence"
	TaskBugVerdict         Task = "bug_verdict"
	TaskEdgeClassification Task = "edge_classification"
	TaskUnitDescription    Task = "unit_description"
	TaskCoreLogic          Task = "core_logic"
	TaskDataDependencies   Task = "data_dependencies"
	TaskTestStep           Task = "test_step"
	TaskPathBugVerdict     Task = "path_bug_verdict"
	TaskTestVariants       Task = "test_variants"
)

// Part is one element of a multimodal request. Exactly one of Text or Image is set.
type Part struct {
	Text  string
	Image []byte
}

// TextPart builds a text part.
func TextPart(s string) Part { return Part{Text: s} }

// ImagePart builds a PNG image part.
func ImagePart(png []byte) Part { return Part{Image: png} }

// Request is the single request shape used at every decision point.
type Request struct {
	Task  Task
	Parts []Part
}

// Response carries the raw reply text and token usage.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Classifier answers structured questions about screens and actions.
// Replies are free text expected to contain one JSON object.
type Classifier interface {
	Classify(ctx context.Context, req Request) (Response, error)
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(ctx context.Context, req Request) (Response, error)

// Classify calls f.
func (f ClassifierFunc) Classify(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}
