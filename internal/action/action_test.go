package action_test

import (
	"context"
	"testing"

	"github.com/aretw0/droidscout/internal/action"
	"github.com/aretw0/droidscout/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockDevice struct {
	mock.Mock
}

func (m *mockDevice) Tap(ctx context.Context, x, y int) error {
	return m.Called(x, y).Error(0)
}

func (m *mockDevice) LongPress(ctx context.Context, x, y int) error {
	return m.Called(x, y).Error(0)
}

func (m *mockDevice) Type(ctx context.Context, text string) error {
	return m.Called(text).Error(0)
}

func (m *mockDevice) Back(ctx context.Context) error {
	return m.Called().Error(0)
}

func (m *mockDevice) Capture(ctx context.Context, refresh bool) (*domain.Snapshot, error) {
	args := m.Called(refresh)
	snap, _ := args.Get(0).(*domain.Snapshot)
	return snap, args.Error(1)
}

func (m *mockDevice) Restart(ctx context.Context, bundle string) error {
	return m.Called(bundle).Error(0)
}

func TestParse(t *testing.T) {
	a, err := action.Parse("Thought: open it\nAction: click(point='<point>500 250</point>')")
	require.NoError(t, err)
	assert.Equal(t, action.Click, a.Name)
	assert.Equal(t, &domain.Point{X: 500, Y: 250}, a.Point)

	a, err = action.Parse("input(point='<point>10 20</point>', content='it\\'s me')")
	require.NoError(t, err)
	assert.Equal(t, action.Input, a.Name)
	assert.Equal(t, "it's me", a.Content)

	a, err = action.Parse("Action: scroll(point='<point>500 500</point>', direction='DOWN')")
	require.NoError(t, err)
	assert.Equal(t, "down", a.Direction)

	a, err = action.Parse("Action: press_back()")
	require.NoError(t, err)
	assert.Equal(t, action.PressBack, a.Name)
	assert.Nil(t, a.Point)

	_, err = action.Parse("Action: click()")
	assert.Error(t, err)

	t.Run("camel case verbs", func(t *testing.T) {
		a, err := action.Parse("Action: longClick(point='<point>500 320</point>')")
		require.NoError(t, err)
		assert.Equal(t, action.LongClick, a.Name)
		assert.Equal(t, &domain.Point{X: 500, Y: 320}, a.Point)

		a, err = action.Parse("Action: pressBack()")
		require.NoError(t, err)
		assert.Equal(t, action.PressBack, a.Name)
	})

	t.Run("double quoted parameters", func(t *testing.T) {
		a, err := action.Parse(`click(point="<point>500 320</point>")`)
		require.NoError(t, err)
		assert.Equal(t, action.Click, a.Name)
		assert.Equal(t, &domain.Point{X: 500, Y: 320}, a.Point)

		a, err = action.Parse(`Action: input(point="<point>1 2</point>", content="say \"hi\", it's me")`)
		require.NoError(t, err)
		assert.Equal(t, `say "hi", it's me`, a.Content)
	})

	t.Run("verbs inside the thought are ignored", func(t *testing.T) {
		a, err := action.Parse("Thought: I could click(somewhere) but going back is safer\nAction: press_back()")
		require.NoError(t, err)
		assert.Equal(t, action.PressBack, a.Name)
	})

	_, err = action.Parse("Action: wiggle(point='<point>1 1</point>')")
	assert.ErrorIs(t, err, domain.ErrUnsupportedAction)
}

func TestScaled(t *testing.T) {
	a, err := action.Parse("Action: long_click(point='<point>500 1000</point>')")
	require.NoError(t, err)
	scaled := a.Scaled(1080, 2400)
	assert.Equal(t, &domain.Point{X: 540, Y: 2400}, scaled.Point)
	assert.Equal(t, &domain.Point{X: 500, Y: 1000}, a.Point, "original is not mutated")
}

func TestDispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("input taps then types default text", func(t *testing.T) {
		dev := new(mockDevice)
		dev.On("Tap", 10, 20).Return(nil)
		dev.On("Type", action.DefaultInput).Return(nil)

		edge := domain.Edge{Action: domain.ActionInput, Position: &domain.Point{X: 10, Y: 20}}
		require.NoError(t, action.Dispatch(ctx, dev, action.FromEdge(edge)))
		dev.AssertExpectations(t)
	})

	t.Run("no effect is reported", func(t *testing.T) {
		dev := new(mockDevice)
		dev.On("LongPress", 1, 2).Return(domain.ErrNoEffect)

		edge := domain.Edge{Action: domain.ActionLongClick, Position: &domain.Point{X: 1, Y: 2}}
		assert.ErrorIs(t, action.Dispatch(ctx, dev, action.FromEdge(edge)), domain.ErrNoEffect)
	})

	t.Run("scroll is unsupported", func(t *testing.T) {
		dev := new(mockDevice)
		edge := domain.Edge{Action: domain.ActionScroll, Position: &domain.Point{X: 1, Y: 2}}
		assert.ErrorIs(t, action.Dispatch(ctx, dev, action.FromEdge(edge)), domain.ErrUnsupportedAction)
		dev.AssertNotCalled(t, "Tap", mock.Anything, mock.Anything)
	})
}
