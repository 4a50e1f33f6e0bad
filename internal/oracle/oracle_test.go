package oracle_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/droidscout/internal/dto"
	"github.com/aretw0/droidscout/internal/oracle"
	"github.com/aretw0/droidscout/pkg/domain"
	"github.com/aretw0/droidscout/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractObject(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{"plain", `{"a": 1}`, `{"a": 1}`},
		{"fenced", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"prose", "Sure! Here it is: {\"a\": {\"b\": 2}} hope it helps", `{"a": {"b": 2}}`},
		{"trailing commas", `{"a": [1, 2,], "b": 3,}`, `{"a": [1, 2], "b": 3}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := oracle.ExtractObject(tt.reply)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := oracle.ExtractObject("no object here")
	assert.ErrorIs(t, err, domain.ErrNoJSONObject)
}

func TestDecode_WeakTypes(t *testing.T) {
	var reply dto.WidgetReply
	err := oracle.Decode("```json\n{\"function_description\": \"Login\", \"widgets\": [{\"description\": \"Sign in\", \"action\": \"click\", \"position\": \"500, 900\", \"is_leaf\": \"false\",}]}\n```", &reply)
	require.NoError(t, err)
	assert.Equal(t, "Login", reply.FunctionDescription)
	require.Len(t, reply.Widgets, 1)
	assert.False(t, reply.Widgets[0].IsLeaf)

	x, y, err := oracle.ParsePosition(reply.Widgets[0].Position)
	require.NoError(t, err)
	assert.Equal(t, 500, x)
	assert.Equal(t, 900, y)
}

func TestParsePosition(t *testing.T) {
	x, y, err := oracle.ParsePosition([]any{float64(120), "340"})
	require.NoError(t, err)
	assert.Equal(t, [2]int{120, 340}, [2]int{x, y})

	x, y, err = oracle.ParsePosition("[10,20]")
	require.NoError(t, err)
	assert.Equal(t, [2]int{10, 20}, [2]int{x, y})

	_, _, err = oracle.ParsePosition([]any{float64(1)})
	assert.Error(t, err)
	_, _, err = oracle.ParsePosition(nil)
	assert.Error(t, err)
}

func TestRescale(t *testing.T) {
	assert.Equal(t, domain.Point{X: 540, Y: 1200}, oracle.Rescale(500, 500, 1080, 2400))
}

func TestOracle_AskRetries(t *testing.T) {
	calls := 0
	c := ports.ClassifierFunc(func(ctx context.Context, req ports.Request) (ports.Response, error) {
		calls++
		switch calls {
		case 1:
			return ports.Response{}, errors.New("unavailable")
		case 2:
			return ports.Response{Text: "I think they are the same"}, nil
		default:
			return ports.Response{Text: `{"is_same_page": true}`}, nil
		}
	})

	o := oracle.New(c, oracle.WithDelay(0))
	var verdict dto.SamePageReply
	require.NoError(t, o.Ask(context.Background(), ports.Request{Task: ports.TaskPageEquivalence}, &verdict))
	assert.True(t, verdict.IsSamePage)
	assert.Equal(t, 3, calls)
}

func TestOracle_AskGivesUp(t *testing.T) {
	calls := 0
	c := ports.ClassifierFunc(func(ctx context.Context, req ports.Request) (ports.Response, error) {
		calls++
		return ports.Response{Text: "garbage"}, nil
	})

	o := oracle.New(c, oracle.WithDelay(0), oracle.WithAttempts(2))
	var verdict dto.SamePageReply
	err := o.Ask(context.Background(), ports.Request{}, &verdict)
	assert.ErrorIs(t, err, domain.ErrNoJSONObject)
	assert.Equal(t, 2, calls)
}

func TestOracle_Text(t *testing.T) {
	c := ports.ClassifierFunc(func(ctx context.Context, req ports.Request) (ports.Response, error) {
		return ports.Response{Text: "  \"Browse saved notes\"\n"}, nil
	})
	got, err := oracle.New(c).Text(context.Background(), ports.Request{})
	require.NoError(t, err)
	assert.Equal(t, "Browse saved notes", got)
}
