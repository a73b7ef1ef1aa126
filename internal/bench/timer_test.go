package bench

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimer_Measure(t *testing.T) {
	var calls int
	timer := &Timer{
		Label:       "test",
		SubLabel:    "cfg",
		Description: "variant",
		Stmt: func() {
			calls++
			time.Sleep(time.Millisecond)
		},
	}

	m := timer.Measure(10 * time.Millisecond)

	assert.Equal(t, "test", m.Label)
	assert.Equal(t, "cfg", m.SubLabel)
	assert.Equal(t, "variant", m.Description)
	require.GreaterOrEqual(t, m.Runs, 1)
	// warmup run is not counted
	assert.Equal(t, m.Runs+1, calls)

	var total time.Duration = m.Mean * time.Duration(m.Runs)
	assert.GreaterOrEqual(t, total, 10*time.Millisecond-time.Millisecond)

	assert.LessOrEqual(t, m.Min, m.Median)
	assert.LessOrEqual(t, m.Median, m.Max)
	assert.Greater(t, m.Median, time.Duration(0))
}

func TestRunSweep(t *testing.T) {
	type fakeCase struct{ N int }
	cases := []fakeCase{{1}, {2}, {3}}

	var cleanups int
	gen := func(c fakeCase) ([]*Timer, func()) {
		timers := []*Timer{
			{Label: "lbl", SubLabel: "sub", Description: "a", Stmt: func() {}},
			{Label: "lbl", SubLabel: "sub", Description: "b", Stmt: func() {}},
		}
		return timers, func() { cleanups++ }
	}

	ms := RunSweep(context.Background(), "lbl", gen, cases, time.Microsecond)

	require.Len(t, ms, 2*len(cases), "two measurements per case")
	assert.Equal(t, len(cases), cleanups, "one cleanup per case")
	for i, m := range ms {
		assert.Equal(t, "lbl", m.Label, "measurement %d", i)
		if i%2 == 0 {
			assert.Equal(t, "a", m.Description)
		} else {
			assert.Equal(t, "b", m.Description)
		}
	}
}

func TestRunSweep_Empty(t *testing.T) {
	gen := func(int) ([]*Timer, func()) { return nil, nil }
	ms := RunSweep(context.Background(), "empty", gen, nil, time.Millisecond)
	assert.Empty(t, ms)
}
