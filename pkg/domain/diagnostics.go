package domain

// BugType classifies a detected anomaly.
type BugType string

const (
	BugTypeCrash      BugType = "crash"
	BugTypeFunctional BugType = "functional"
	BugTypeNone       BugType = "none"
)

// PathStep is one executed step of a functional test: the screen it acted on and what it did.
type PathStep struct {
	Image       []byte
	Description string
}

// DiagnosticTask is one observed transition handed to the bug detector.
// A task with a Path is a whole test run judged at once; Before and After are then ignored.
type DiagnosticTask struct {
	Before                *Snapshot
	After                 *Snapshot
	ActionDescription     string
	ExpectedPostcondition string
	Path                  []PathStep
}

// BugVerdict is the classifier's judgement on a DiagnosticTask.
type BugVerdict struct {
	HasBug      bool    `json:"has_bug"`
	BugType     BugType `json:"bug_type"`
	Description string  `json:"bug_description"`
}
