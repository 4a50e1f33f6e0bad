package widgets_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/droidscout/internal/oracle"
	"github.com/aretw0/droidscout/internal/testutils"
	"github.com/aretw0/droidscout/internal/widgets"
	"github.com/aretw0/droidscout/pkg/domain"
	"github.com/aretw0/droidscout/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_RescalesPositions(t *testing.T) {
	classifier := testutils.NewScriptedClassifier().Reply(ports.TaskWidgetExtraction,
		`{"function_description": "Inbox", "widgets": [
			{"description": "Compose", "action": "click", "position": [500, 900], "is_leaf": false, "postcondition": "Editor opens"},
			{"description": "Search", "action": "input", "position": "100,50", "content": "hello", "is_leaf": true},
			{"description": "Broken", "action": "click", "position": "nowhere"},
		]}`)
	p := widgets.NewPipeline(oracle.New(classifier, oracle.WithDelay(0)), "com.mail")

	after := &domain.Snapshot{Image: []byte("png"), Width: 1080, Height: 2400, Bundle: "com.mail"}
	ext := p.Extract(context.Background(), widgets.Job{PageIndex: 3, After: after})

	require.NoError(t, ext.Err)
	assert.Equal(t, "Inbox", ext.FunctionDescription)
	require.Len(t, ext.Edges, 2)
	assert.Equal(t, &domain.Point{X: 540, Y: 2160}, ext.Edges[0].Position)
	assert.Equal(t, "Editor opens", ext.Edges[0].Postcondition)
	assert.Equal(t, domain.ActionInput, ext.Edges[1].Action)
	assert.Equal(t, &domain.Point{X: 108, Y: 120}, ext.Edges[1].Position)
	assert.True(t, ext.Edges[1].IsLeaf)

	reqs := classifier.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, testutils.Texts(reqs[0]), "first screen", "launch screen uses the initial prompt")
}

func TestExtract_DiscardsForeignPages(t *testing.T) {
	classifier := testutils.NewScriptedClassifier()
	p := widgets.NewPipeline(oracle.New(classifier), "com.mail")

	ext := p.Extract(context.Background(), widgets.Job{
		PageIndex: 1,
		Before:    &domain.Snapshot{Bundle: "com.mail"},
		After:     &domain.Snapshot{Bundle: "com.android.chrome"},
	})
	assert.True(t, ext.Discarded)
	assert.Zero(t, classifier.Calls(ports.TaskWidgetExtraction))

	g := domain.NewPTG("com.mail")
	g.AddPage(nil)
	g.AddPage(nil)
	assert.False(t, widgets.Apply(g, ext))
}

func TestBatch_BarrierAndBound(t *testing.T) {
	var running, peak int32
	classifier := testutils.NewScriptedClassifier().On(ports.TaskWidgetExtraction, func(ports.Request) (string, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return `{"function_description": "page", "widgets": [{"description": "ok", "action": "click", "position": [1, 1]}]}`, nil
	})
	p := widgets.NewPipeline(oracle.New(classifier), "app", widgets.WithConcurrency(2))

	batch := p.NewBatch()
	for i := 5; i >= 1; i-- {
		p.Spawn(context.Background(), batch, widgets.Job{PageIndex: i, Before: &domain.Snapshot{}, After: &domain.Snapshot{Width: 1000, Height: 1000}})
	}
	results := batch.Wait()

	require.Len(t, results, 5)
	for i, r := range results {
		assert.Equal(t, i+1, r.PageIndex, "results are ordered by page")
		assert.Len(t, r.Edges, 1)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestBatch_FailureIsIsolated(t *testing.T) {
	classifier := testutils.NewScriptedClassifier().On(ports.TaskWidgetExtraction, func(req ports.Request) (string, error) {
		if string(testutils.Images(req)[0]) == "bad" {
			return "", errors.New("quota exceeded")
		}
		return `{"function_description": "fine", "widgets": []}`, nil
	})
	p := widgets.NewPipeline(oracle.New(classifier, oracle.WithDelay(0)), "app")

	g := domain.NewPTG("app")
	g.AddPage(nil)
	g.AddPage(nil)

	batch := p.NewBatch()
	p.Spawn(context.Background(), batch, widgets.Job{PageIndex: 0, After: &domain.Snapshot{Image: []byte("bad")}})
	p.Spawn(context.Background(), batch, widgets.Job{PageIndex: 1, After: &domain.Snapshot{Image: []byte("good")}})
	results := batch.Wait()

	require.Len(t, results, 2)
	assert.Error(t, results[0].Err)
	assert.False(t, widgets.Apply(g, results[0]))
	assert.True(t, widgets.Apply(g, results[1]))
	assert.Equal(t, "fine", g.Nodes[1].FunctionDescription)
}
