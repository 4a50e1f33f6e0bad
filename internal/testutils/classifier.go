package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/aretw0/droidscout/pkg/ports"
)

// Handler produces the reply text for one request.
type Handler func(req ports.Request) (string, error)

// ScriptedClassifier answers requests with per-task handlers and records every call.
// Tasks without a handler get a conservative default reply.
type ScriptedClassifier struct {
	mu       sync.Mutex
	handlers map[ports.Task]Handler
	calls    map[ports.Task]int
	requests []ports.Request
}

// NewScriptedClassifier creates a classifier with no handlers.
func NewScriptedClassifier() *ScriptedClassifier {
	return &ScriptedClassifier{
		handlers: make(map[ports.Task]Handler),
		calls:    make(map[ports.Task]int),
	}
}

// On registers the handler for a task and returns the classifier for chaining.
func (c *ScriptedClassifier) On(task ports.Task, h Handler) *ScriptedClassifier {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[task] = h
	return c
}

// Reply registers a fixed reply for a task.
func (c *ScriptedClassifier) Reply(task ports.Task, text string) *ScriptedClassifier {
	return c.On(task, func(ports.Request) (string, error) { return text, nil })
}

// Calls returns how many requests of task were received.
func (c *ScriptedClassifier) Calls(task ports.Task) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[task]
}

// Requests returns every request received, in arrival order.
func (c *ScriptedClassifier) Requests() []ports.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ports.Request(nil), c.requests...)
}

// Classify implements ports.Classifier.
func (c *ScriptedClassifier) Classify(ctx context.Context, req ports.Request) (ports.Response, error) {
	c.mu.Lock()
	c.calls[req.Task]++
	c.requests = append(c.requests, req)
	h := c.handlers[req.Task]
	c.mu.Unlock()

	if h == nil {
		return ports.Response{Text: defaultReply(req.Task), InputTokens: 10, OutputTokens: 5}, nil
	}
	text, err := h(req)
	if err != nil {
		return ports.Response{}, err
	}
	return ports.Response{Text: text, InputTokens: 10, OutputTokens: 5}, nil
}

func defaultReply(task ports.Task) string {
	switch task {
	case ports.TaskWidgetExtraction:
		return `{"function_description": "", "widgets": []}`
	case ports.TaskLocateWidget:
		return `{"position": [0, 0]}`
	case ports.TaskPageEquivalence:
		return `{"is_same_page": false}`
	case ports.TaskBugVerdict, ports.TaskPathBugVerdict:
		return `{"has_bug": false, "bug_type": "none", "bug_description": ""}`
	case ports.TaskEdgeClassification:
		return `{"new_functional_point": false, "data_in": [], "data_out": []}`
	case ports.TaskUnitDescription:
		return "Unit"
	case ports.TaskCoreLogic:
		return `{"entry_page": 0, "logic": "", "steps": [], "flow_edges": [], "branch_points": []}`
	case ports.TaskDataDependencies:
		return `{"data_dependencies": {}}`
	case ports.TaskTestStep:
		return "Action: finished(content='nothing to do')"
	case ports.TaskTestVariants:
		return `{"variant_paths": []}`
	default:
		return "{}"
	}
}

// Images returns the image parts of req in order.
func Images(req ports.Request) [][]byte {
	var out [][]byte
	for _, p := range req.Parts {
		if p.Image != nil {
			out = append(out, p.Image)
		}
	}
	return out
}

// Texts returns the concatenated text parts of req.
func Texts(req ports.Request) string {
	var sb strings.Builder
	for _, p := range req.Parts {
		if p.Text != "" {
			sb.WriteString(p.Text)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// WidgetHandler answers widget extraction requests from the screen definitions of app.
// The simulated screenshot bytes are the screen name, so the last image identifies the page.
func WidgetHandler(app *FakeApp) Handler {
	return func(req ports.Request) (string, error) {
		imgs := Images(req)
		if len(imgs) == 0 {
			return "", fmt.Errorf("no screenshot in request")
		}
		s := app.Screen(string(imgs[len(imgs)-1]))
		if s == nil {
			return "", fmt.Errorf("unknown screen %q", imgs[len(imgs)-1])
		}

		type widget struct {
			Description string `json:"description"`
			Action      string `json:"action"`
			Content     string `json:"content"`
			Position    [2]int `json:"position"`
			IsLeaf      bool   `json:"is_leaf"`
		}
		reply := struct {
			FunctionDescription string   `json:"function_description"`
			Widgets             []widget `json:"widgets"`
		}{FunctionDescription: s.Description, Widgets: []widget{}}

		for _, w := range s.Widgets {
			act := w.Action
			if act == "" {
				act = "click"
			}
			reply.Widgets = append(reply.Widgets, widget{
				Description: w.Description,
				Action:      act,
				Content:     w.Content,
				Position:    [2]int{w.X, w.Y},
				IsLeaf:      w.IsLeaf,
			})
		}
		data, err := json.Marshal(reply)
		return "```json\n" + string(data) + "\n```", err
	}
}
