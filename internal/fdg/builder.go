// Package fdg distills a finished PTG into a Functional Dependency Graph.
//
// Construction runs in three passes. The first walks the PTG breadth-first and
// asks the classifier, edge by edge, whether an action starts a new functional
// unit. The second summarizes the flow of every non-empty unit and the third
// infers producer to consumer data dependencies between units.
package fdg

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aretw0/droidscout/internal/dto"
	"github.com/aretw0/droidscout/internal/logging"
	"github.com/aretw0/droidscout/internal/oracle"
	"github.com/aretw0/droidscout/internal/prompts"
	"github.com/aretw0/droidscout/pkg/domain"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds the classification pool of one round.
const DefaultConcurrency = 10

// maxCoreLogicScreens caps the screenshots attached to a core-logic request.
const maxCoreLogicScreens = 6

// Builder builds FDGs. A Builder is safe to reuse across graphs but not concurrently.
type Builder struct {
	oracle       *oracle.Oracle
	app          string
	concurrency  int
	dependencies bool
	logger       *slog.Logger

	// completed observes the raw completion order of a round; tests only.
	completed func([]result)
}

// Option configures a Builder.
type Option func(*Builder)

// WithConcurrency bounds the number of edges classified at once.
func WithConcurrency(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) {
		b.logger = l
	}
}

// WithDependencies toggles the data dependency pass (default on).
func WithDependencies(enabled bool) Option {
	return func(b *Builder) {
		b.dependencies = enabled
	}
}

// NewBuilder creates a Builder. app names the application in classifier prompts.
func NewBuilder(o *oracle.Oracle, app string, opts ...Option) *Builder {
	b := &Builder{
		oracle:       o,
		app:          app,
		concurrency:  DefaultConcurrency,
		dependencies: true,
		logger:       logging.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// frontier is one BFS entry: a page reached under a unit along a page path.
type frontier struct {
	page int
	unit int
	path []int
}

type task struct {
	from frontier
	edge int
}

type result struct {
	task
	isNew       bool
	description string
	dataIn      []string
	dataOut     []string
}

type state struct {
	page int
	unit int
}

// Build runs every pass over g and returns the FDG.
// Classifier failures degrade to conservative defaults; only cancellation is returned as an error.
func (b *Builder) Build(ctx context.Context, g *domain.PTG) (*domain.FDG, error) {
	fdg, err := b.Units(ctx, g)
	if err != nil {
		return nil, err
	}
	if err := b.CoreLogic(ctx, g, fdg); err != nil {
		return nil, err
	}
	if b.dependencies {
		if err := b.Dependencies(ctx, fdg); err != nil {
			return nil, err
		}
	}
	return fdg, nil
}

// Units runs the breadth-first grouping pass. Unit 0 is seeded from the launch page.
func (b *Builder) Units(ctx context.Context, g *domain.PTG) (*domain.FDG, error) {
	fdg := &domain.FDG{}
	root := g.Node(0)
	if root == nil {
		return fdg, nil
	}

	desc := root.FunctionDescription
	if desc == "" {
		desc = "Root"
	}
	fdg.Units = append(fdg.Units, &domain.FunctionalUnit{Index: 0, FunctionDescription: desc})

	processed := make(map[domain.ActionRef]bool)
	expanded := map[state]bool{{page: 0, unit: 0}: true}
	queue := []frontier{{page: 0, unit: 0, path: []int{0}}}

	for round := 1; len(queue) > 0; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batch := queue
		queue = nil

		var tasks []task
		for _, f := range batch {
			node := g.Node(f.page)
			if node == nil {
				continue
			}
			for i := range node.Edges {
				ref := domain.ActionRef{PageIndex: f.page, EdgeIndex: i}
				if processed[ref] {
					continue
				}
				processed[ref] = true
				tasks = append(tasks, task{from: f, edge: i})
			}
		}
		if len(tasks) == 0 {
			continue
		}

		results, err := b.classify(ctx, g, tasks)
		if err != nil {
			return nil, err
		}
		b.logger.Debug("fdg round classified", "round", round, "edges", len(results), "units", len(fdg.Units))

		for _, r := range results {
			unit := r.from.unit
			ref := domain.ActionRef{PageIndex: r.from.page, EdgeIndex: r.edge}
			if r.isNew {
				unit = len(fdg.Units)
				desc := r.description
				if desc == "" {
					desc = "New Function"
				}
				fdg.Units = append(fdg.Units, &domain.FunctionalUnit{Index: unit, FunctionDescription: desc})
			}
			u := fdg.Units[unit]
			u.ActionRefs = append(u.ActionRefs, ref)
			u.DataIn = append(u.DataIn, r.dataIn...)
			u.DataOut = append(u.DataOut, r.dataOut...)

			target := g.Node(g.Nodes[r.from.page].Edges[r.edge].TargetIndex())
			if target == nil || onPath(r.from.path, target.Index) {
				continue
			}
			st := state{page: target.Index, unit: unit}
			if expanded[st] {
				continue
			}
			expanded[st] = true
			queue = append(queue, frontier{
				page: target.Index,
				unit: unit,
				path: append(append([]int(nil), r.from.path...), target.Index),
			})
		}
	}

	for _, u := range fdg.Units {
		u.DataIn = domain.AppendUnique(nil, u.DataIn...)
		u.DataOut = domain.AppendUnique(nil, u.DataOut...)
	}
	return fdg, nil
}

// classify fans tasks out on a bounded pool and returns the results sorted by
// (source page, edge index) whatever order the workers finished in.
func (b *Builder) classify(ctx context.Context, g *domain.PTG, tasks []task) ([]result, error) {
	var (
		mu      sync.Mutex
		results = make([]result, 0, len(tasks))
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(b.concurrency)
	for _, t := range tasks {
		eg.Go(func() error {
			r := b.classifyEdge(egCtx, g, t)
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if b.completed != nil {
		b.completed(append([]result(nil), results...))
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].from.page != results[j].from.page {
			return results[i].from.page < results[j].from.page
		}
		return results[i].edge < results[j].edge
	})
	return results, nil
}

// classifyEdge never fails: an unusable reply means "not a new unit, no data".
func (b *Builder) classifyEdge(ctx context.Context, g *domain.PTG, t task) result {
	r := result{task: t}
	src := g.Nodes[t.from.page]
	edge := src.Edges[t.edge]
	target := g.Node(edge.TargetIndex())

	var after *domain.Snapshot
	if target != nil {
		after = target.Snapshot
	}

	var reply dto.EdgeReply
	if err := b.oracle.Ask(ctx, prompts.EdgeClassification(src.Snapshot, after, edgeText(edge)), &reply); err != nil {
		b.logger.Warn("edge classification failed", "page", t.from.page, "edge", t.edge, "error", err)
		return r
	}
	r.isNew = reply.NewFunctionalPoint
	r.dataIn = reply.DataIn
	r.dataOut = reply.DataOut
	if !r.isNew {
		return r
	}

	r.description = edgeText(edge)
	if target != nil && target.Snapshot != nil {
		path := append(append([]int(nil), t.from.path...), target.Index)
		text, err := b.oracle.Text(ctx, prompts.UnitDescription(b.app, describePath(g, path), target.Snapshot))
		if err != nil {
			b.logger.Warn("unit description failed", "page", target.Index, "error", err)
		} else if text != "" {
			r.description = text
		}
	}
	return r
}

// CoreLogic summarizes the flow of every unit that owns at least one action and marks it for testing.
func (b *Builder) CoreLogic(ctx context.Context, g *domain.PTG, fdg *domain.FDG) error {
	for _, u := range fdg.Units {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(u.ActionRefs) == 0 {
			continue
		}
		u.ToTest = true

		actions, screens := b.coreLogicInput(g, u)
		var core map[string]any
		if err := b.oracle.Ask(ctx, prompts.CoreLogic(b.app, u.FunctionDescription, actions, screens), &core); err != nil {
			b.logger.Warn("core logic summary failed", "unit", u.Index, "error", err)
			continue
		}
		u.CoreLogic = core
	}
	return nil
}

type actionInfo struct {
	ActionRef   [2]int        `json:"action_ref"`
	SrcPage     int           `json:"src_page_idx"`
	DstPage     *int          `json:"dst_page_idx"`
	Action      string        `json:"action"`
	Description string        `json:"description"`
	Content     string        `json:"content"`
	Position    *domain.Point `json:"position"`
	IsLeaf      bool          `json:"is_leaf"`
}

// coreLogicInput lists the unit's actions and picks reference screens: the first
// source page, every page contributing two or more actions, then the last destination.
func (b *Builder) coreLogicInput(g *domain.PTG, u *domain.FunctionalUnit) (string, []*domain.Snapshot) {
	infos := make([]actionInfo, 0, len(u.ActionRefs))
	perPage := make(map[int]int)
	for _, ref := range u.ActionRefs {
		e := g.Nodes[ref.PageIndex].Edges[ref.EdgeIndex]
		infos = append(infos, actionInfo{
			ActionRef:   [2]int{ref.PageIndex, ref.EdgeIndex},
			SrcPage:     ref.PageIndex,
			DstPage:     e.Target,
			Action:      string(e.Action),
			Description: e.Description,
			Content:     e.Content,
			Position:    e.Position,
			IsLeaf:      e.IsLeaf,
		})
		perPage[ref.PageIndex]++
	}

	candidates := []int{infos[0].SrcPage}
	var busy []int
	for p, n := range perPage {
		if n >= 2 {
			busy = append(busy, p)
		}
	}
	sort.Slice(busy, func(i, j int) bool {
		if perPage[busy[i]] != perPage[busy[j]] {
			return perPage[busy[i]] > perPage[busy[j]]
		}
		return busy[i] < busy[j]
	})
	candidates = append(candidates, busy...)
	if last := infos[len(infos)-1].DstPage; last != nil {
		candidates = append(candidates, *last)
	}

	var screens []*domain.Snapshot
	seen := make(map[int]bool)
	for _, p := range candidates {
		if len(screens) >= maxCoreLogicScreens {
			break
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		if n := g.Node(p); n != nil && n.Snapshot != nil && len(n.Snapshot.Image) > 0 {
			screens = append(screens, n.Snapshot)
		}
	}

	data, err := json.Marshal(infos)
	if err != nil {
		b.logger.Warn("failed to encode unit actions", "unit", u.Index, "error", err)
		return "[]", screens
	}
	return string(data), screens
}

// Dependencies asks for producer to consumer links between testable units with
// data and stores them inverted as consumer.DataDependencies.
func (b *Builder) Dependencies(ctx context.Context, fdg *domain.FDG) error {
	for _, u := range fdg.Units {
		u.DataDependencies = nil
	}

	var blocks []string
	for i, u := range fdg.Units {
		if !u.ToTest || !u.HasData() {
			continue
		}
		blocks = append(blocks, fmt.Sprintf("index: %d\ndescription: %s\ndata_in: %s\ndata_out: %s",
			i, u.FunctionDescription, listText(u.DataIn), listText(u.DataOut)))
	}
	if len(blocks) < 2 {
		return nil
	}

	var reply dto.DependencyReply
	if err := b.oracle.Ask(ctx, prompts.DataDependencies(strings.Join(blocks, "\n\n")), &reply); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.logger.Warn("dependency inference failed", "error", err)
		return nil
	}
	ApplyDependencies(fdg, reply.DataDependencies)
	return nil
}

// ApplyDependencies inverts a producer -> consumers mapping onto consumer units.
// Unknown indices and self references are dropped; each list ends up sorted and unique.
func ApplyDependencies(fdg *domain.FDG, flow map[string][]int) {
	n := len(fdg.Units)
	for key, consumers := range flow {
		producer, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil || producer < 0 || producer >= n {
			continue
		}
		for _, c := range consumers {
			if c < 0 || c >= n || c == producer {
				continue
			}
			fdg.Units[c].DataDependencies = append(fdg.Units[c].DataDependencies, producer)
		}
	}
	for _, u := range fdg.Units {
		u.DataDependencies = sortedUnique(u.DataDependencies)
	}
}

func sortedUnique(xs []int) []int {
	if len(xs) == 0 {
		return nil
	}
	sort.Ints(xs)
	out := xs[:1]
	for _, x := range xs[1:] {
		if x != out[len(out)-1] {
			out = append(out, x)
		}
	}
	return out
}

func listText(xs []string) string {
	if len(xs) == 0 {
		return "[]"
	}
	return "[" + strings.Join(xs, ", ") + "]"
}

func onPath(path []int, page int) bool {
	for _, p := range path {
		if p == page {
			return true
		}
	}
	return false
}

func edgeText(e domain.Edge) string {
	switch {
	case e.Description != "":
		return e.Description
	case e.Content != "":
		return e.Content
	default:
		return "N/A"
	}
}

// describePath renders the actions linking consecutive pages of path.
func describePath(g *domain.PTG, path []int) string {
	var lines []string
	for i := 0; i+1 < len(path); i++ {
		src := g.Node(path[i])
		if src == nil {
			continue
		}
		for _, e := range src.Edges {
			if e.TargetIndex() != path[i+1] {
				continue
			}
			if src.FunctionDescription != "" {
				lines = append(lines, fmt.Sprintf("Page %d: %s -> Action: %s", src.Index, src.FunctionDescription, edgeText(e)))
			} else {
				lines = append(lines, fmt.Sprintf("Page %d -> Action: %s", src.Index, edgeText(e)))
			}
			break
		}
	}
	if len(lines) == 0 {
		return "Root page"
	}
	return strings.Join(lines, "\n")
}
