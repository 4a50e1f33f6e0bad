// Package prompts builds the classifier requests used at every decision point.
package prompts

import (
	"fmt"

	"github.com/aretw0/droidscout/pkg/domain"
	"github.com/aretw0/droidscout/pkg/ports"
)

const widgetInstructions = `You are exploring the Android app %q.
List the interactive widgets visible on the current screen that a user could act on.

Coordinates use a normalized 0-1000 space where [0,0] is the top-left corner and [1000,1000] the bottom-right.
For each widget give:
- description: what the widget is for, in a few words
- action: one of click, long_click, input, scroll
- content: text to type for input widgets, otherwise ""
- position: [x, y] center of the widget
- is_leaf: true if acting on it does NOT open another screen (toggles, checkboxes, text fields)
- postcondition: what the screen should show after the action

Also describe the purpose of the whole screen in one sentence.

Return STRICT JSON only:
{"function_description": "<sentence>", "widgets": [{"description": "", "action": "click", "content": "", "position": [x, y], "is_leaf": false, "postcondition": ""}]}`

const initialWidgetInstructions = `This is the first screen shown after launching the app.
Do not include system bars, the launcher or widgets belonging to other apps.`

const locateInstructions = `Find the widget matching the description below on the current screenshot.
Coordinates use a normalized 0-1000 space. If the widget is not visible answer [0, 0].

Return STRICT JSON only: {"position": [x, y]}`

const samePageInstructions = `Decide whether the two screenshots show the same page of the app.
Pages are the same when they have the same layout and purpose, even if list contents, scroll offset or typed text differ.
Pages are different when a dialog, menu or another feature is shown.

Return STRICT JSON only: {"is_same_page": true|false}`

const bugInstructions = `You are testing an Android app. Compare the screen before and after an action and decide whether the app misbehaved.
Report "crash" for crash dialogs, "App keeps stopping", ANR or a blank screen.
Report "functional" when the result clearly contradicts the expected outcome.
Otherwise report "none".

Return STRICT JSON only: {"has_bug": true|false, "bug_type": "crash|functional|none", "bug_description": "<short explanation>"}`

const edgeInstructions = `You are grouping the actions of an Android app into functional points.
A functional point has one specific purpose, such as "Create note" or "Enable dark mode".

Rules:
- Selecting an entry on a home menu, drawer, tab bar or navigation list starts a NEW functional point.
- Steps that complete the same goal inside one workflow (typing fields, choosing a folder, confirming Save) are NOT new.
- On settings pages each distinct setting item is its own functional point; the options inside one item are not.

Also list the abstract data entities the action consumes (data_in) and produces or updates (data_out).
Use short noun phrases such as "note", "user profile" or "sync setting". Never use widget names or coordinates.

Return STRICT JSON only: {"new_functional_point": true|false, "data_in": [], "data_out": []}`

const unitDescriptionInstructions = `App: %s

The path below leads to the current page. Summarize what the user can accomplish on the current page in one sentence.

Path:
%s

Return only plain text.`

const coreLogicInstructions = `App: %s
Functional point: %s

Below are the actions that belong to this functional point, as PTG edge references.
Describe its core execution logic as a flowchart. Every step must reference exactly one of the given action_ref values; do not invent steps.
Branch conditions must be observable on screen.

Return STRICT JSON only:
{"entry_page": <int|null>, "logic": "<2-6 sentences>", "steps": [{"id": "S1", "action_ref": [page, edge], "src_page_idx": 0, "dst_page_idx": null, "action": "", "summary": ""}], "flow_edges": [{"from": "S1", "to": "S2"}], "branch_points": [{"at_step": "S1", "type": "if-else|loop", "branches": [{"next_step": "S2"}]}]}`

const dependencyInstructions = `Below are functional points of an app with the abstract data they consume (data_in) and produce (data_out).
A functional point P produces data for consumer C when something in P.data_out is needed by C.data_in.
Only report dependencies between the listed indices and never a point on itself.

%s

Return STRICT JSON only, mapping each producer index to its consumers:
{"data_dependencies": {"<producer index>": [<consumer index>, ...]}}`

const testStepInstructions = `You are testing the functional point %q of an Android app.
Task: %s

The screenshots show the most recent steps, the last one is the current screen.
Steps taken so far:
%s

Think about the next step, then answer with one action call on its own line:
Action: click(point='<point>x y</point>')
Action: long_press(point='<point>x y</point>')
Action: type(point='<point>x y</point>', content='text')
Action: scroll(point='<point>x y</point>', direction='down|up|left|right')
Action: press_back()
Action: finished(content='why the task is complete')
Coordinates use a normalized 0-1000 space.`

const pathBugInstructions = `You are testing an Android app. Below is every step of one functional test, each with the screen it acted on.
Test: %s

Decide whether the app misbehaved anywhere along the path.
Report "crash" for crash dialogs, "App keeps stopping", ANR or a blank screen.
Report "functional" when a step's result clearly contradicts what the test intended.
Otherwise report "none".

Return STRICT JSON only: {"has_bug": true|false, "bug_type": "crash|functional|none", "bug_description": "<short explanation>"}`

const variantInstructions = `Functional point: %s
Core logic: %s

Widgets involved:
%s

Propose at most %d alternative paths that exercise the same functional point differently, for example with boundary inputs, skipped optional steps or a different order.
Each path is a list of short natural-language steps.

Return STRICT JSON only: {"variant_paths": [["step", "step"]]}`

func image(s *domain.Snapshot) []ports.Part {
	if s == nil || len(s.Image) == 0 {
		return nil
	}
	return []ports.Part{ports.ImagePart(s.Image)}
}

// WidgetExtraction asks for the widgets of after. A nil before selects the launch-screen variant.
func WidgetExtraction(app string, before, after *domain.Snapshot, action string) ports.Request {
	parts := []ports.Part{ports.TextPart(fmt.Sprintf(widgetInstructions, app))}
	if before == nil {
		parts = append(parts, ports.TextPart(initialWidgetInstructions))
	} else {
		parts = append(parts, ports.TextPart("Screen before the action:"))
		parts = append(parts, image(before)...)
		parts = append(parts, ports.TextPart("Action performed: "+action))
	}
	parts = append(parts, ports.TextPart("Current screen:"))
	parts = append(parts, image(after)...)
	return ports.Request{Task: ports.TaskWidgetExtraction, Parts: parts}
}

// LocateWidget asks where the described widget is on the current screen.
func LocateWidget(current *domain.Snapshot, description string) ports.Request {
	parts := []ports.Part{ports.TextPart(locateInstructions), ports.TextPart("Current page screenshot:")}
	parts = append(parts, image(current)...)
	parts = append(parts, ports.TextPart("Widget description: "+description))
	return ports.Request{Task: ports.TaskLocateWidget, Parts: parts}
}

// SamePage asks whether two captures show the same page.
func SamePage(a, b *domain.Snapshot) ports.Request {
	parts := []ports.Part{ports.TextPart(samePageInstructions), ports.TextPart("First screenshot:")}
	parts = append(parts, image(a)...)
	parts = append(parts, ports.TextPart("Second screenshot:"))
	parts = append(parts, image(b)...)
	return ports.Request{Task: ports.TaskPageEquivalence, Parts: parts}
}

// BugVerdict asks for a verdict on one observed transition.
func BugVerdict(task domain.DiagnosticTask) ports.Request {
	parts := []ports.Part{ports.TextPart(bugInstructions), ports.TextPart("Screen before:")}
	parts = append(parts, image(task.Before)...)
	parts = append(parts, ports.TextPart("Action: "+task.ActionDescription))
	if task.ExpectedPostcondition != "" {
		parts = append(parts, ports.TextPart("Expected outcome: "+task.ExpectedPostcondition))
	}
	parts = append(parts, ports.TextPart("Screen after:"))
	parts = append(parts, image(task.After)...)
	return ports.Request{Task: ports.TaskBugVerdict, Parts: parts}
}

// EdgeClassification asks whether an edge starts a new functional unit. after may be nil.
func EdgeClassification(before, after *domain.Snapshot, action string) ports.Request {
	parts := []ports.Part{ports.TextPart(edgeInstructions), ports.TextPart("Action: " + action)}
	if img := image(before); img != nil {
		parts = append(parts, ports.TextPart("Screenshot before action:"))
		parts = append(parts, img...)
	}
	if img := image(after); img != nil {
		parts = append(parts, ports.TextPart("Screenshot after action:"))
		parts = append(parts, img...)
	}
	return ports.Request{Task: ports.TaskEdgeClassification, Parts: parts}
}

// UnitDescription asks for a one-sentence summary of the page reached through path.
func UnitDescription(app, path string, current *domain.Snapshot) ports.Request {
	parts := []ports.Part{ports.TextPart(fmt.Sprintf(unitDescriptionInstructions, app, path))}
	parts = append(parts, image(current)...)
	return ports.Request{Task: ports.TaskUnitDescription, Parts: parts}
}

// CoreLogic asks for the flow summary of a unit. actions is the JSON list of its edges.
func CoreLogic(app, description, actions string, screens []*domain.Snapshot) ports.Request {
	parts := []ports.Part{
		ports.TextPart(fmt.Sprintf(coreLogicInstructions, app, description)),
		ports.TextPart("Actions JSON:"),
		ports.TextPart(actions),
	}
	if len(screens) > 0 {
		parts = append(parts, ports.TextPart("Reference screenshots of key pages:"))
		for _, s := range screens {
			parts = append(parts, image(s)...)
		}
	}
	return ports.Request{Task: ports.TaskCoreLogic, Parts: parts}
}

// DataDependencies asks for producer to consumer links between the listed units.
func DataDependencies(units string) ports.Request {
	return ports.Request{
		Task:  ports.TaskDataDependencies,
		Parts: []ports.Part{ports.TextPart(fmt.Sprintf(dependencyInstructions, units))},
	}
}

// TestStep asks for the next action while executing a unit's task. history holds the recent screens, oldest first.
func TestStep(unit, task string, steps []string, history [][]byte) ports.Request {
	done := "(none)"
	if len(steps) > 0 {
		done = ""
		for i, st := range steps {
			done += fmt.Sprintf("%d. %s\n", i+1, st)
		}
	}
	parts := []ports.Part{ports.TextPart(fmt.Sprintf(testStepInstructions, unit, task, done))}
	for _, img := range history {
		parts = append(parts, ports.ImagePart(img))
	}
	return ports.Request{Task: ports.TaskTestStep, Parts: parts}
}

// PathBugVerdict asks for one verdict over all the steps of a test run.
func PathBugVerdict(test string, path []domain.PathStep) ports.Request {
	parts := []ports.Part{ports.TextPart(fmt.Sprintf(pathBugInstructions, test))}
	for i, step := range path {
		parts = append(parts, ports.TextPart(fmt.Sprintf("Step %d: %s", i+1, step.Description)))
		if len(step.Image) > 0 {
			parts = append(parts, ports.ImagePart(step.Image))
		}
	}
	return ports.Request{Task: ports.TaskPathBugVerdict, Parts: parts}
}

// TestVariants asks for up to limit alternative paths through a unit.
func TestVariants(unit, logic, widgets string, limit int) ports.Request {
	return ports.Request{
		Task:  ports.TaskTestVariants,
		Parts: []ports.Part{ports.TextPart(fmt.Sprintf(variantInstructions, unit, logic, widgets, limit))},
	}
}
