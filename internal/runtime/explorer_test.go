package runtime_test

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/droidscout/internal/equivalence"
	"github.com/aretw0/droidscout/internal/oracle"
	"github.com/aretw0/droidscout/internal/runtime"
	"github.com/aretw0/droidscout/internal/testutils"
	"github.com/aretw0/droidscout/internal/widgets"
	"github.com/aretw0/droidscout/pkg/domain"
	"github.com/aretw0/droidscout/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bundle = "com.example.app"

func noSleep(context.Context, time.Duration) {}

func newExplorer(app ports.Device, cls ports.Classifier, cfg runtime.Config, opts ...runtime.Option) *runtime.Explorer {
	o := oracle.New(cls, oracle.WithDelay(0))
	matcher := equivalence.NewMatcher(o)
	pipeline := widgets.NewPipeline(o, bundle)
	opts = append([]runtime.Option{runtime.WithSleep(noSleep)}, opts...)
	return runtime.NewExplorer(app, matcher, pipeline, cfg, opts...)
}

func widgetClassifier(app *testutils.FakeApp) *testutils.ScriptedClassifier {
	return testutils.NewScriptedClassifier().
		On(ports.TaskWidgetExtraction, testutils.WidgetHandler(app))
}

// chain builds S0 -> S1 -> ... -> S(n-1), each page with a single forward widget.
func chain(n int) *testutils.FakeApp {
	screens := make([]testutils.Screen, n)
	for i := range screens {
		name := "S" + string(rune('0'+i))
		screens[i] = testutils.Screen{Name: name, Description: "Step " + name}
		if i < n-1 {
			screens[i].Widgets = []testutils.Widget{
				{Description: "Next", X: 500, Y: 900, Target: "S" + string(rune('0'+i+1))},
			}
		}
	}
	return testutils.NewFakeApp(bundle, screens...)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestExplorer_TwoNodeGraph(t *testing.T) {
	app := testutils.NewFakeApp(bundle,
		testutils.Screen{Name: "Root", Description: "Home", Widgets: []testutils.Widget{
			{Description: "A", X: 100, Y: 100, IsLeaf: true},
			{Description: "B", X: 200, Y: 200, Target: "X"},
		}},
		testutils.Screen{Name: "X", Description: "Detail"},
	)

	var entered []int
	var recoveries []domain.RecoveryEvent
	hooks := domain.LifecycleHooks{
		OnPageEnter: func(ctx context.Context, e *domain.PageEvent) { entered = append(entered, e.PageIndex) },
		OnRecovery:  func(ctx context.Context, e *domain.RecoveryEvent) { recoveries = append(recoveries, *e) },
	}

	res := newExplorer(app, widgetClassifier(app), runtime.DefaultConfig(bundle), runtime.WithHooks(hooks)).
		Run(context.Background())

	require.NoError(t, res.Halted)
	g := res.Graph
	require.Equal(t, 2, g.Len())

	root := g.Node(0)
	require.Len(t, root.Edges, 2)
	assert.True(t, root.Edges[0].IsLeaf)
	require.NotNil(t, root.Edges[0].Target)
	assert.Equal(t, 0, *root.Edges[0].Target)
	require.NotNil(t, root.Edges[1].Target)
	assert.Equal(t, 1, *root.Edges[1].Target)

	assert.True(t, root.Visited)
	assert.True(t, g.Node(1).Visited)
	assert.Equal(t, "Detail", g.Node(1).FunctionDescription)

	// root -> X -> root
	assert.Equal(t, []int{0, 1}, entered)
	require.NotEmpty(t, recoveries)
	last := recoveries[len(recoveries)-1]
	assert.Equal(t, 0, last.PageIndex)
	assert.Equal(t, domain.RecoveryParent, last.Outcome)
	assert.Equal(t, "Root", app.Current())
	assert.Zero(t, res.Restarts)
	assert.Equal(t, []string{"Root", "X"}, g.ExploredContainers)
}

func TestExplorer_DesyncRestartsOnceAndReplaysPath(t *testing.T) {
	app := testutils.NewFakeApp(bundle,
		testutils.Screen{Name: "R", Description: "Home", Widgets: []testutils.Widget{
			{Description: "Open X", X: 100, Y: 100, Target: "X"},
		}},
		testutils.Screen{Name: "X", Description: "List", Widgets: []testutils.Widget{
			{Description: "Open Y", X: 300, Y: 300, Target: "Y"},
		}},
		testutils.Screen{Name: "Y", Description: "Item"},
		testutils.Screen{Name: "Launcher", Foreign: true},
	)

	var desync atomic.Bool
	app.SetBackHook(func(from string, attempt int) (string, bool) {
		if desync.Load() && (from == "Y" || from == "Launcher") {
			return "Launcher", true
		}
		return "", false
	})

	var recoveries []domain.RecoveryEvent
	hooks := domain.LifecycleHooks{
		OnPageEnter: func(ctx context.Context, e *domain.PageEvent) {
			if e.PageIndex == 2 {
				desync.Store(true)
			}
		},
		OnRecovery: func(ctx context.Context, e *domain.RecoveryEvent) { recoveries = append(recoveries, *e) },
	}

	res := newExplorer(app, widgetClassifier(app), runtime.DefaultConfig(bundle), runtime.WithHooks(hooks)).
		Run(context.Background())

	require.NoError(t, res.Halted)
	assert.Equal(t, 1, app.Restarts())
	assert.Equal(t, 1, res.Restarts)

	// try X, enter X, try Y, enter Y, then the replayed path root -> X
	assert.Equal(t, []domain.Point{
		{X: 100, Y: 100}, {X: 100, Y: 100},
		{X: 300, Y: 300}, {X: 300, Y: 300},
		{X: 100, Y: 100},
	}, app.Taps())

	var restart *domain.RecoveryEvent
	for i := range recoveries {
		if recoveries[i].Outcome == domain.RecoveryRestart {
			restart = &recoveries[i]
		}
	}
	require.NotNil(t, restart)
	assert.Equal(t, 1, restart.PageIndex)

	// the foreign screen never became a node
	assert.Equal(t, 3, res.Graph.Len())
	for _, n := range res.Graph.Nodes {
		assert.True(t, n.Visited, "page %d", n.Index)
	}
}

func TestExplorer_AbandonsBranchWhenReplayDiverges(t *testing.T) {
	app := testutils.NewFakeApp(bundle,
		testutils.Screen{Name: "R", Description: "Home", Widgets: []testutils.Widget{
			{Description: "Open X", X: 100, Y: 100, Target: "X", AfterRestart: "W"},
			{Description: "Open Z", X: 200, Y: 200, Target: "Z"},
		}},
		testutils.Screen{Name: "X", Description: "List", Widgets: []testutils.Widget{
			{Description: "Open Y", X: 300, Y: 300, Target: "Y"},
		}},
		testutils.Screen{Name: "Y", Description: "Item"},
		testutils.Screen{Name: "Z", Description: "Settings"},
		testutils.Screen{Name: "W", Description: "Welcome back"},
		testutils.Screen{Name: "Launcher", Foreign: true},
	)

	var desync atomic.Bool
	app.SetBackHook(func(from string, attempt int) (string, bool) {
		if desync.Load() && (from == "Y" || from == "Launcher") {
			return "Launcher", true
		}
		return "", false
	})

	var recoveries []domain.RecoveryEvent
	hooks := domain.LifecycleHooks{
		OnPageEnter: func(ctx context.Context, e *domain.PageEvent) {
			if e.PageIndex == 3 {
				desync.Store(true)
			}
		},
		OnRecovery: func(ctx context.Context, e *domain.RecoveryEvent) { recoveries = append(recoveries, *e) },
	}

	res := newExplorer(app, widgetClassifier(app), runtime.DefaultConfig(bundle), runtime.WithHooks(hooks)).
		Run(context.Background())

	require.NoError(t, res.Halted)
	assert.Equal(t, 1, res.Restarts)

	var outcomes []string
	var abandoned *domain.RecoveryEvent
	for i := range recoveries {
		outcomes = append(outcomes, recoveries[i].Outcome)
		if recoveries[i].Outcome == domain.RecoveryAbandon {
			abandoned = &recoveries[i]
		}
	}
	require.NotNil(t, abandoned, "outcomes: %v", outcomes)
	assert.Equal(t, 1, abandoned.PageIndex)
	assert.NotContains(t, outcomes, domain.RecoveryRestart)

	// the sibling of the abandoned branch is still explored
	z := res.Graph.Node(2)
	require.NotNil(t, z)
	assert.Equal(t, "Settings", z.FunctionDescription)
	assert.True(t, z.Visited)
	assert.Equal(t, domain.RecoveryParent, outcomes[len(outcomes)-1])
}

func TestExplorer_AncestorReplayWhenEdgeLeadsUpThePath(t *testing.T) {
	app := testutils.NewFakeApp(bundle,
		testutils.Screen{Name: "R", Description: "Home", Widgets: []testutils.Widget{
			{Description: "Open X", X: 100, Y: 100, Target: "X"},
		}},
		testutils.Screen{Name: "X", Description: "List", Widgets: []testutils.Widget{
			{Description: "Home", X: 10, Y: 10, Target: "R"},
		}},
	)

	var outcomes []string
	hooks := domain.LifecycleHooks{
		OnRecovery: func(ctx context.Context, e *domain.RecoveryEvent) { outcomes = append(outcomes, e.Outcome) },
	}

	res := newExplorer(app, widgetClassifier(app), runtime.DefaultConfig(bundle), runtime.WithHooks(hooks)).
		Run(context.Background())

	require.NoError(t, res.Halted)
	require.Equal(t, 2, res.Graph.Len())
	x := res.Graph.Node(1)
	require.NotNil(t, x.Edges[0].Target)
	assert.Equal(t, 0, *x.Edges[0].Target)
	assert.False(t, x.Edges[0].IsLeaf)
	assert.Contains(t, outcomes, domain.RecoveryAncestor)
	assert.Zero(t, app.Restarts())
}

func TestExplorer_DepthLimit(t *testing.T) {
	app := chain(6)
	cfg := runtime.DefaultConfig(bundle)
	cfg.DepthLimit = 2

	maxDepth := 0
	hooks := domain.LifecycleHooks{
		OnPageEnter: func(ctx context.Context, e *domain.PageEvent) {
			if e.Depth > maxDepth {
				maxDepth = e.Depth
			}
		},
	}

	res := newExplorer(app, widgetClassifier(app), cfg, runtime.WithHooks(hooks)).Run(context.Background())

	require.NoError(t, res.Halted)
	assert.Equal(t, 2, res.MaxDepth)
	assert.Equal(t, 2, maxDepth)

	// S3 is discovered from S2 but never entered
	require.Equal(t, 4, res.Graph.Len())
	assert.True(t, res.Graph.Node(2).Visited)
	assert.False(t, res.Graph.Node(3).Visited)
}

func TestExplorer_TimeLimit(t *testing.T) {
	app := chain(6)
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	app.OnAction(func(n int) { clock.Advance(time.Minute) })

	cfg := runtime.DefaultConfig(bundle)
	cfg.TimeLimit = 5 * time.Minute

	res := newExplorer(app, widgetClassifier(app), cfg, runtime.WithClock(clock.Now)).Run(context.Background())

	require.ErrorIs(t, res.Halted, domain.ErrBudgetExceeded)
	assert.Equal(t, 5, app.Actions(), "no action may be dispatched once the budget is spent")
	assert.Equal(t, 5, res.Actions)
	assert.NotNil(t, res.Graph)
	assert.True(t, res.Graph.Node(0).Visited)
}

func TestExplorer_DemotesFailedEdges(t *testing.T) {
	app := testutils.NewFakeApp(bundle,
		testutils.Screen{Name: "R", Description: "Home", Widgets: []testutils.Widget{
			{Description: "Disabled", X: 50, Y: 50},
			{Description: "Refresh", X: 60, Y: 60, Target: "R"},
			{Description: "Feed", Action: "scroll", X: 70, Y: 70, Target: "R"},
		}},
	)

	var demoted []int
	hooks := domain.LifecycleHooks{
		OnEdgeDemoted: func(ctx context.Context, e *domain.ActionEvent) { demoted = append(demoted, e.EdgeIndex) },
	}

	res := newExplorer(app, widgetClassifier(app), runtime.DefaultConfig(bundle), runtime.WithHooks(hooks)).
		Run(context.Background())

	require.NoError(t, res.Halted)
	require.Equal(t, 1, res.Graph.Len())
	for i, e := range res.Graph.Node(0).Edges {
		assert.True(t, e.IsLeaf, "edge %d", i)
		require.NotNil(t, e.Target)
		assert.Equal(t, 0, *e.Target)
	}
	assert.Equal(t, []int{0, 1, 2}, demoted)
	assert.Len(t, app.Taps(), 2, "scroll is never dispatched")
}

func TestExplorer_WidgetNodes(t *testing.T) {
	app := testutils.NewFakeApp(bundle,
		testutils.Screen{Name: "R", Description: "Home", Widgets: []testutils.Widget{
			{Description: "Share", X: 10, Y: 10, IsLeaf: true},
		}},
	)
	cfg := runtime.DefaultConfig(bundle)
	cfg.WidgetNodes = true

	res := newExplorer(app, widgetClassifier(app), cfg).Run(context.Background())

	require.Equal(t, 2, res.Graph.Len())
	w := res.Graph.Node(1)
	assert.Equal(t, domain.NodeKindWidget, w.Kind)
	assert.Equal(t, "Share", w.FunctionDescription)
	assert.Equal(t, 1, *res.Graph.Node(0).Edges[0].Target)
	assert.Zero(t, app.Actions())
}

func TestExplorer_RelocatesWidgets(t *testing.T) {
	app := testutils.NewFakeApp(bundle,
		testutils.Screen{Name: "R", Description: "Home", Widgets: []testutils.Widget{
			{Description: "Open X", X: 200, Y: 200, Target: "X"},
			{Description: "Ghost", X: 500, Y: 500, Target: "X"},
		}},
		testutils.Screen{Name: "X", Description: "Detail"},
	)
	cls := widgetClassifier(app).On(ports.TaskLocateWidget, func(req ports.Request) (string, error) {
		if strings.Contains(testutils.Texts(req), "Open X") {
			return "Action: click(point='<point>200 200</point>')", nil
		}
		return `{"position": [0, 0]}`, nil
	})
	cfg := runtime.DefaultConfig(bundle)
	cfg.RelocateWidgets = true

	o := oracle.New(cls, oracle.WithDelay(0))
	res := newExplorer(app, cls, cfg, runtime.WithOracle(o)).Run(context.Background())

	require.NoError(t, res.Halted)
	edges := res.Graph.Node(0).Edges
	assert.Equal(t, 1, *edges[0].Target)
	assert.True(t, edges[1].IsLeaf)
	for _, p := range app.Taps() {
		assert.NotEqual(t, domain.Point{X: 500, Y: 500}, p)
	}
}

func TestExplorer_CanceledContext(t *testing.T) {
	app := chain(3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := newExplorer(app, widgetClassifier(app), runtime.DefaultConfig(bundle)).Run(ctx)

	assert.ErrorIs(t, res.Halted, context.Canceled)
	assert.Equal(t, 1, res.Graph.Len())
	assert.Zero(t, app.Actions())
}

type panickingDevice struct {
	*testutils.FakeApp
}

func (d panickingDevice) Tap(ctx context.Context, x, y int) error {
	panic("driver crashed")
}

func TestExplorer_RecoversPanics(t *testing.T) {
	app := chain(3)
	res := newExplorer(panickingDevice{app}, widgetClassifier(app), runtime.DefaultConfig(bundle)).
		Run(context.Background())

	require.Error(t, res.Halted)
	assert.Contains(t, res.Halted.Error(), "driver crashed")
	require.NotNil(t, res.Graph)
	assert.Equal(t, 1, res.Graph.Len())
}
