// Package action parses the textual action language and dispatches actions to a device.
//
// The language has the form
//
//	Action: click(point='<point>500 320</point>')
//	Action: input(point='<point>500 320</point>', content='hello')
//	Action: scroll(point='<point>500 500</point>', direction='down')
//	Action: press_back()
//	Action: finished(content='done')
//
// Points are expressed in a normalized 0..1000 space and must be rescaled
// with Action.Scaled before dispatch.
package action

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/aretw0/droidscout/pkg/domain"
	"github.com/aretw0/droidscout/pkg/ports"
)

// Name is an action verb of the language.
type Name string

const (
	Click     Name = "click"
	LongClick Name = "long_click"
	Input     Name = "input"
	Scroll    Name = "scroll"
	PressBack Name = "press_back"
	Finished  Name = "finished"
)

// DefaultInput is typed into input widgets that carry no content.
const DefaultInput = "test input"

// Action is one parsed or edge-derived action.
type Action struct {
	Name      Name
	Point     *domain.Point
	Content   string
	Direction string
}

var (
	// The verb starts a line or follows "Action:", so words inside a thought are never taken for a call.
	callPattern  = regexp.MustCompile(`(?ims)(?:^|Action:)[ \t]*([A-Za-z_]+)[ \t]*\((.*)\)`)
	paramPattern = regexp.MustCompile(`([A-Za-z_]+)\s*=\s*(?:'((?:[^'\\]|\\.)*)'|"((?:[^"\\]|\\.)*)")`)
	pointPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	unescaper    = strings.NewReplacer(`\'`, "'", `\"`, `"`)
)

// Parse reads the first action call found in text.
func Parse(text string) (Action, error) {
	m := callPattern.FindStringSubmatch(text)
	if m == nil {
		return Action{}, fmt.Errorf("no action call in %q", text)
	}

	var a Action
	switch name := Name(strings.ToLower(m[1])); name {
	case Click, LongClick, Input, Scroll, PressBack, Finished:
		a.Name = name
	case "longclick", "long_press":
		a.Name = LongClick
	case "pressback", "back":
		a.Name = PressBack
	case "type":
		a.Name = Input
	default:
		return Action{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedAction, m[1])
	}

	for _, p := range paramPattern.FindAllStringSubmatch(m[2], -1) {
		value := p[2]
		if value == "" {
			value = p[3]
		}
		value = unescaper.Replace(value)
		switch strings.ToLower(p[1]) {
		case "point", "start_point", "start_box":
			pt, err := parsePoint(value)
			if err != nil {
				return Action{}, err
			}
			a.Point = &pt
		case "content":
			a.Content = value
		case "direction":
			a.Direction = strings.ToLower(value)
		}
	}

	switch a.Name {
	case Click, LongClick, Scroll:
		if a.Point == nil {
			return Action{}, fmt.Errorf("%s requires a point", a.Name)
		}
	}
	return a, nil
}

func parsePoint(s string) (domain.Point, error) {
	nums := pointPattern.FindAllString(s, -1)
	if len(nums) != 2 {
		return domain.Point{}, fmt.Errorf("invalid point %q", s)
	}
	x, err := strconv.ParseFloat(nums[0], 64)
	if err != nil {
		return domain.Point{}, err
	}
	y, err := strconv.ParseFloat(nums[1], 64)
	if err != nil {
		return domain.Point{}, err
	}
	return domain.Point{X: int(x), Y: int(y)}, nil
}

// Scaled returns a copy whose point is converted from 0..1000 space to pixels.
func (a Action) Scaled(width, height int) Action {
	if a.Point == nil {
		return a
	}
	p := domain.Point{X: a.Point.X * width / 1000, Y: a.Point.Y * height / 1000}
	a.Point = &p
	return a
}

// FromEdge converts a PTG edge (pixel space) into an action.
func FromEdge(e domain.Edge) Action {
	a := Action{Point: e.Position, Content: e.Content}
	switch e.Action {
	case domain.ActionLongClick:
		a.Name = LongClick
	case domain.ActionInput:
		a.Name = Input
	case domain.ActionScroll:
		a.Name = Scroll
	case domain.ActionPressBack:
		a.Name = PressBack
	default:
		a.Name = Click
	}
	return a
}

// At returns a copy of a targeting p.
func (a Action) At(p domain.Point) Action {
	a.Point = &p
	return a
}

// Dispatch performs a (pixel space) on dev. Scroll is not supported by the device port.
func Dispatch(ctx context.Context, dev ports.Device, a Action) error {
	switch a.Name {
	case Click:
		if a.Point == nil {
			return fmt.Errorf("click without position")
		}
		return dev.Tap(ctx, a.Point.X, a.Point.Y)
	case LongClick:
		if a.Point == nil {
			return fmt.Errorf("long click without position")
		}
		return dev.LongPress(ctx, a.Point.X, a.Point.Y)
	case Input:
		if a.Point != nil {
			if err := dev.Tap(ctx, a.Point.X, a.Point.Y); err != nil {
				return err
			}
		}
		text := a.Content
		if text == "" {
			text = DefaultInput
		}
		return dev.Type(ctx, text)
	case PressBack:
		return dev.Back(ctx)
	case Finished:
		return nil
	default:
		return fmt.Errorf("%w: %s", domain.ErrUnsupportedAction, a.Name)
	}
}
