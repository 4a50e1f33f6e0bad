package droidscout_test

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/droidscout"
	"github.com/aretw0/droidscout/internal/testutils"
	loamAdapter "github.com/aretw0/droidscout/pkg/adapters/loam"
	"github.com/aretw0/droidscout/pkg/adapters/memory"
	"github.com/aretw0/droidscout/pkg/domain"
	"github.com/aretw0/droidscout/pkg/observability"
	"github.com/aretw0/droidscout/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bundle = "com.example.notes"

func noSleep(context.Context, time.Duration) {}

func notesApp() *testutils.FakeApp {
	return testutils.NewFakeApp(bundle,
		testutils.Screen{Name: "Root", Description: "Home", Widgets: []testutils.Widget{
			{Description: "Search", X: 100, Y: 100, IsLeaf: true},
			{Description: "Open note", X: 200, Y: 200, Target: "Note"},
		}},
		testutils.Screen{Name: "Note", Description: "Note editor"},
	)
}

func testConfig() droidscout.Config {
	cfg := droidscout.DefaultConfig()
	cfg.App.Bundle = bundle
	cfg.App.Name = "Notes"
	cfg.Explore.RelocateWidgets = false
	cfg.Classifier.Delay = 0
	cfg.Store.Kind = "memory"
	return cfg
}

func newEngine(t *testing.T, app ports.Device, cls ports.Classifier, opts ...droidscout.Option) *droidscout.Engine {
	t.Helper()
	opts = append([]droidscout.Option{
		droidscout.WithConfig(testConfig()),
		droidscout.WithSleep(noSleep),
	}, opts...)
	engine, err := droidscout.New(app, cls, opts...)
	require.NoError(t, err)
	return engine
}

func TestEngine_Explore(t *testing.T) {
	app := notesApp()
	cls := testutils.NewScriptedClassifier().
		On(ports.TaskWidgetExtraction, testutils.WidgetHandler(app))
	store := memory.NewStore()

	var discovered atomic.Int32
	engine := newEngine(t, app, cls,
		droidscout.WithStore(store),
		droidscout.WithRunID("run-1"),
		droidscout.WithLifecycleHooks(domain.LifecycleHooks{
			OnPageDiscovered: func(ctx context.Context, e *domain.PageEvent) {
				discovered.Add(1)
			},
		}),
	)

	report, err := engine.Explore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-1", report.RunID)
	assert.NoError(t, report.Halted)
	assert.Equal(t, 2, report.Graph.Len())
	assert.EqualValues(t, 2, discovered.Load())

	// Default edge replies never open a new unit: everything stays in the root unit.
	require.NotNil(t, report.FDG)
	require.Len(t, report.FDG.Units, 1)
	assert.Equal(t, "Home", report.FDG.Units[0].FunctionDescription)
	assert.True(t, report.FDG.Units[0].ToTest)

	assert.Equal(t, 2, report.Coverage.HitCount)
	assert.InDelta(t, 1.0, report.Coverage.CoverageRatio, 1e-9)
	assert.NotEmpty(t, store.CoverageHistory("run-1"))

	ptg, err := store.LoadPTG(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, 2, ptg.Len())
	fdg, err := store.LoadFDG(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Len(t, fdg.Units, 1)

	_, ok := store.Artifact("run-1", "", observability.StatsFile)
	assert.True(t, ok, "token stats written")
	assert.Equal(t, report.Stats.Calls, int64(len(cls.Requests())))
}

func TestEngine_ExploreWritesBugBundles(t *testing.T) {
	app := notesApp()
	cls := testutils.NewScriptedClassifier().
		On(ports.TaskWidgetExtraction, testutils.WidgetHandler(app)).
		Reply(ports.TaskBugVerdict, `{"has_bug": true, "bug_type": "functional", "bug_description": "note is empty"}`)
	store := memory.NewStore()
	metrics := observability.NewMetrics()

	engine := newEngine(t, app, cls,
		droidscout.WithStore(store),
		droidscout.WithRunID("run-bugs"),
		droidscout.WithMetrics(metrics),
	)
	report, err := engine.Explore(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Bugs)
	assert.Positive(t, report.Diagnosed)
	assert.Zero(t, report.DroppedDiagnostics)
	names := store.ArtifactNames("run-bugs")
	assert.Contains(t, names, "bug1/before.png")
	assert.Contains(t, names, "bug1/after.png")
	assert.Contains(t, names, "bug1/bug.json")

	families, err := metrics.Registry().Gather()
	require.NoError(t, err)
	var seen []string
	for _, f := range families {
		seen = append(seen, f.GetName())
	}
	assert.Contains(t, seen, "droidscout_pages_discovered_total")
	assert.Contains(t, seen, "droidscout_classifier_calls_total")
}

func TestEngine_FDGDisabled(t *testing.T) {
	app := notesApp()
	cls := testutils.NewScriptedClassifier().
		On(ports.TaskWidgetExtraction, testutils.WidgetHandler(app))
	cfg := testConfig()
	cfg.FDG.Enabled = false
	cfg.Diagnostics.Enabled = false

	engine := newEngine(t, app, cls, droidscout.WithConfig(cfg))
	report, err := engine.Explore(context.Background())
	require.NoError(t, err)
	assert.Nil(t, report.FDG)
	assert.Zero(t, cls.Calls(ports.TaskEdgeClassification))
	assert.Zero(t, cls.Calls(ports.TaskBugVerdict))

	_, fdg, err := engine.Sessions().LoadRun(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Nil(t, fdg)
}

func TestEngine_CanceledRunIsStillSaved(t *testing.T) {
	app := notesApp()
	cls := testutils.NewScriptedClassifier().
		On(ports.TaskWidgetExtraction, testutils.WidgetHandler(app))
	store := memory.NewStore()
	engine := newEngine(t, app, cls, droidscout.WithStore(store))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := engine.Explore(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, report.Halted, context.Canceled)
	assert.Nil(t, report.FDG)
	assert.Len(t, report.RunID, 36, "uuid run id")

	runs, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{report.RunID}, runs)
}

func TestEngine_BuildFDG(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	require.NoError(t, store.SavePTG(ctx, "run-1", ports.SamplePTG()))

	cls := testutils.NewScriptedClassifier()
	engine := newEngine(t, testutils.NewFakeApp(bundle), cls, droidscout.WithStore(store))

	graph, err := engine.BuildFDG(ctx, "run-1")
	require.NoError(t, err)
	require.NotEmpty(t, graph.Units)
	assert.Positive(t, cls.Calls(ports.TaskEdgeClassification))

	saved, err := store.LoadFDG(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, len(graph.Units), len(saved.Units))

	_, err = engine.BuildFDG(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrGraphNotFound)
}

func TestEngine_TestUnitsFromCatalog(t *testing.T) {
	app := notesApp()
	cls := testutils.NewScriptedClassifier().
		On(ports.TaskWidgetExtraction, testutils.WidgetHandler(app)).
		Reply(ports.TaskPathBugVerdict, `{"has_bug": true, "bug_type": "functional", "bug_description": "search does nothing"}`)
	store := memory.NewStore()
	catalog := loamAdapter.New(t.TempDir())
	ctx := context.Background()

	engine := newEngine(t, app, cls,
		droidscout.WithStore(store),
		droidscout.WithCatalog(catalog),
		droidscout.WithRunID("run-1"),
	)
	_, err := engine.Explore(ctx)
	require.NoError(t, err)

	published, err := catalog.LoadUnits(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, published.Units, 1)
	assert.Equal(t, "Home", published.Units[0].FunctionDescription)

	report, err := engine.TestUnits(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	res := report.Results[0]
	assert.True(t, res.Reached)
	assert.True(t, res.Finished)
	assert.Equal(t, 1, report.Bugs)

	names := store.ArtifactNames("run-1")
	assert.Contains(t, names, "test-bug1/step_01.png")
	assert.Contains(t, names, "test-bug1/bug.json")

	_, err = engine.TestUnits(ctx, "run-1", 5)
	assert.ErrorIs(t, err, domain.ErrUnitNotFound)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Explore.DepthLimit = 0
	cfg.Equivalence.Threshold = 2
	_, err := droidscout.New(notesApp(), testutils.NewScriptedClassifier(), droidscout.WithConfig(cfg))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "depth_limit")
	assert.Contains(t, err.Error(), "threshold")

	cfg = testConfig()
	cfg.App.Bundle = ""
	_, err = droidscout.New(notesApp(), testutils.NewScriptedClassifier(), droidscout.WithConfig(cfg))
	assert.ErrorContains(t, err, "app.bundle")
}

func TestVersion(t *testing.T) {
	assert.NotEmpty(t, strings.TrimSpace(droidscout.Version))
}
