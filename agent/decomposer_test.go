package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentcoord/core"
	"github.com/hupe1980/agentcoord/model"
)

type splitOnce struct{ calls int }

func (s *splitOnce) Decompose(_ context.Context, p *core.Problem) ([]*core.Problem, error) {
	s.calls++
	return []*core.Problem{{Description: p.Description + " a"}, {Description: p.Description + " b"}}, nil
}

func TestModelDecomposer_ParsesLines(t *testing.T) {
	m := model.NewMockModel("mock", "test")
	m.SetResponder(func(model.Request) (string, error) {
		return "1. Design the schema\n2) Write the handler\n\n- Add tests\n", nil
	})
	d := NewModelDecomposer(m)

	subs, err := d.Decompose(context.Background(), &core.Problem{ID: "p", Description: "Implement new feature"})
	require.NoError(t, err)
	require.Len(t, subs, 3)
	assert.Equal(t, "Design the schema", subs[0].Description)
	assert.Equal(t, "Write the handler", subs[1].Description)
	assert.Equal(t, "Add tests", subs[2].Description)
	assert.Contains(t, m.Requests()[0].Messages[0].Text, "at most 5 independent sub-problems")
}

func TestModelDecomposer_CapsParts(t *testing.T) {
	m := model.NewMockModel("mock", "test")
	m.SetResponder(func(model.Request) (string, error) { return "a\nb\nc\nd", nil })
	d := NewModelDecomposer(m, func(o *ModelDecomposerOptions) { o.MaxParts = 2 })

	subs, err := d.Decompose(context.Background(), &core.Problem{Description: "x"})
	require.NoError(t, err)
	assert.Len(t, subs, 2)
}

func TestModelDecomposer_Fallback(t *testing.T) {
	m := model.NewMockModel("mock", "test")
	m.SetResponder(func(model.Request) (string, error) { return "", errors.New("offline") })

	_, err := NewModelDecomposer(m).Decompose(context.Background(), &core.Problem{Description: "x"})
	assert.Error(t, err)

	fb := &splitOnce{}
	d := NewModelDecomposer(m, func(o *ModelDecomposerOptions) { o.Fallback = fb })
	subs, err := d.Decompose(context.Background(), &core.Problem{Description: "x"})
	require.NoError(t, err)
	assert.Len(t, subs, 2)
	assert.Equal(t, 1, fb.calls)

	m.SetResponder(func(model.Request) (string, error) { return "just one thing", nil })
	_, err = d.Decompose(context.Background(), &core.Problem{Description: "x"})
	require.NoError(t, err)
	assert.Equal(t, 2, fb.calls)
}
