package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/droidscout/internal/action"
	"github.com/aretw0/droidscout/internal/dto"
	"github.com/aretw0/droidscout/internal/oracle"
	"github.com/aretw0/droidscout/internal/prompts"
	"github.com/aretw0/droidscout/pkg/domain"
)

// act dispatches edge i of page on the device.
func (e *Explorer) act(ctx context.Context, page, i int) error {
	if err := e.checkBudget(ctx); err != nil {
		return err
	}
	node := e.graph.Node(page)
	edge := node.Edges[i]

	a := action.FromEdge(edge)
	if a.Name == action.Scroll {
		return fmt.Errorf("%w: scroll", domain.ErrUnsupportedAction)
	}
	if e.cfg.RelocateWidgets && e.oracle != nil && a.Name != action.PressBack {
		p, err := e.locate(ctx, edge)
		if err != nil {
			return err
		}
		a = a.At(p)
		node.Edges[i].Position = &p
	}

	start := e.now()
	err := action.Dispatch(ctx, e.device, a)
	e.actions++
	if e.hooks.OnAction != nil {
		e.hooks.OnAction(ctx, &domain.ActionEvent{
			EventBase: e.base(domain.EventAction),
			PageIndex: page,
			EdgeIndex: i,
			Action:    edge.Action,
			Duration:  e.now().Sub(start),
			IsError:   err != nil,
		})
	}
	if err != nil {
		return err
	}
	e.sleep(ctx, e.cfg.SettleDelay)
	return nil
}

// locate asks the classifier for the current position of the edge's widget.
// A [0, 0] answer means the widget is not on screen.
func (e *Explorer) locate(ctx context.Context, edge domain.Edge) (domain.Point, error) {
	snap, err := e.device.Capture(ctx, true)
	if err != nil {
		return domain.Point{}, fmt.Errorf("failed to capture screen: %w", err)
	}

	text, err := e.oracle.Text(ctx, prompts.LocateWidget(snap, edge.Description))
	if err != nil {
		return domain.Point{}, err
	}

	var found action.Action
	var reply dto.PositionReply
	if derr := oracle.Decode(text, &reply); derr == nil && reply.Position != nil {
		var x, y int
		if x, y, err = oracle.ParsePosition(reply.Position); err == nil {
			found.Point = &domain.Point{X: x, Y: y}
		}
	} else if a, perr := action.Parse(text); perr == nil && a.Point != nil {
		found = a
	} else {
		err = fmt.Errorf("unparseable widget position %q", text)
	}
	if err != nil {
		return domain.Point{}, err
	}
	if p := found.Point; p.X == 0 && p.Y == 0 {
		return domain.Point{}, fmt.Errorf("%w: widget %q not found on screen", domain.ErrWidgetNotFound, edge.Description)
	}
	return *found.Scaled(snap.Width, snap.Height).Point, nil
}

func (e *Explorer) back(ctx context.Context) error {
	if err := e.checkBudget(ctx); err != nil {
		return err
	}
	start := e.now()
	err := e.device.Back(ctx)
	e.actions++
	if e.hooks.OnAction != nil {
		e.hooks.OnAction(ctx, &domain.ActionEvent{
			EventBase: e.base(domain.EventAction),
			PageIndex: -1,
			EdgeIndex: -1,
			Action:    domain.ActionPressBack,
			Duration:  e.now().Sub(start),
			IsError:   err != nil,
		})
	}
	if err != nil && !errors.Is(err, domain.ErrNoEffect) {
		e.logger.Warn("back navigation failed", "err", err)
	}
	return nil
}

// at reports whether the device currently shows page, refreshing its snapshot when it does.
func (e *Explorer) at(ctx context.Context, page int) bool {
	snap, err := e.device.Capture(ctx, true)
	if err != nil {
		return false
	}
	res := e.matcher.Resolve(ctx, e.graph, snap)
	if !res.Existing || res.Index != page {
		return false
	}
	e.graph.Node(page).Snapshot = snap
	return true
}

// returnTo brings the device back to page. landed is the page the device is
// known to show, or -1.
//
// When landed is an ancestor on the active path, the path is replayed from it.
// Otherwise back navigation is retried; a back that lands on an ancestor also
// triggers a replay. When every attempt fails the application is restarted and
// the whole path is replayed.
func (e *Explorer) returnTo(ctx context.Context, page, landed int) error {
	if landed >= 0 {
		if k := e.path.IndexOf(landed); k >= 0 {
			if err := e.replay(ctx, e.path.Suffix(k)); err != nil {
				return err
			}
			if e.at(ctx, page) {
				e.emitRecovery(ctx, page, domain.RecoveryAncestor, 0)
				return nil
			}
		}
	}

	for attempt := 1; attempt <= e.cfg.BackRetries; attempt++ {
		if err := e.back(ctx); err != nil {
			return err
		}
		e.sleep(ctx, e.cfg.SettleDelay)

		snap, err := e.device.Capture(ctx, true)
		if err != nil {
			e.logger.Warn("failed to capture after back", "page", page, "attempt", attempt, "err", err)
			continue
		}
		res := e.matcher.Resolve(ctx, e.graph, snap)
		if !res.Existing {
			continue
		}
		if res.Index == page {
			e.graph.Node(page).Snapshot = snap
			e.emitRecovery(ctx, page, domain.RecoveryParent, attempt)
			return nil
		}
		if k := e.path.IndexOf(res.Index); k >= 0 {
			if err := e.replay(ctx, e.path.Suffix(k)); err != nil {
				return err
			}
			if e.at(ctx, page) {
				e.emitRecovery(ctx, page, domain.RecoveryAncestor, attempt)
				return nil
			}
		}
	}

	return e.restartAndReplay(ctx, page)
}

func (e *Explorer) restartAndReplay(ctx context.Context, page int) error {
	if err := e.checkBudget(ctx); err != nil {
		return err
	}
	e.logger.Info("return attempts failed, restarting app", "page", page, "path", e.path.Len())
	if err := e.device.Restart(ctx, e.cfg.Bundle); err != nil {
		e.logger.Error("failed to restart app", "err", err)
	}
	e.restarts++
	e.sleep(ctx, e.cfg.RestartDelay)

	if err := e.replay(ctx, e.path.Steps()); err != nil {
		return err
	}
	if e.at(ctx, page) {
		e.emitRecovery(ctx, page, domain.RecoveryRestart, e.cfg.BackRetries)
		return nil
	}

	e.logger.Warn("could not return to page after restart, abandoning branch", "page", page)
	e.emitRecovery(ctx, page, domain.RecoveryAbandon, e.cfg.BackRetries)
	return errAbandoned
}

// replay re-executes the recorded actions of steps, refreshing each source page's snapshot first.
func (e *Explorer) replay(ctx context.Context, steps []domain.Step) error {
	for _, s := range steps {
		node := e.graph.Node(s.PageIndex)
		if snap, err := e.device.Capture(ctx, true); err == nil && node.Snapshot != nil &&
			snap.ContainerIdentity == node.Snapshot.ContainerIdentity {
			node.Snapshot = snap
		}
		if err := e.act(ctx, s.PageIndex, s.EdgeIndex); err != nil {
			if halts(err) {
				return err
			}
			e.logger.Debug("replay step failed", "page", s.PageIndex, "edge", s.EdgeIndex, "err", err)
		}
	}
	return nil
}

func (e *Explorer) emitRecovery(ctx context.Context, page int, outcome string, attempts int) {
	if e.hooks.OnRecovery == nil {
		return
	}
	e.hooks.OnRecovery(ctx, &domain.RecoveryEvent{
		EventBase: e.base(domain.EventRecovery),
		PageIndex: page,
		Outcome:   outcome,
		Attempts:  attempts,
	})
}
