package bench

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Timer is one benchmark statement: the closure to measure plus the labels
// identifying it in the comparison table. Label names the metric, SubLabel
// names the configuration, Description names the variant (table column).
type Timer struct {
	Label       string
	SubLabel    string
	Description string
	Stmt        func()
}

// Measurement is the timing result of one Timer.
type Measurement struct {
	Label       string
	SubLabel    string
	Description string
	Runs        int
	Mean        time.Duration
	Median      time.Duration
	Min         time.Duration
	Max         time.Duration
}

// Measure executes the statement repeatedly until at least minRunTime of
// wall-clock measurement has accumulated, after one warmup run, and returns
// the aggregated statistics.
func (t *Timer) Measure(minRunTime time.Duration) Measurement {
	t.Stmt() // warmup

	var runs []time.Duration
	var total time.Duration
	for total < minRunTime {
		start := time.Now()
		t.Stmt()
		d := time.Since(start)
		runs = append(runs, d)
		total += d
	}
	timerRuns.Add(float64(len(runs)))

	sorted := make([]time.Duration, len(runs))
	copy(sorted, runs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return Measurement{
		Label:       t.Label,
		SubLabel:    t.SubLabel,
		Description: t.Description,
		Runs:        len(runs),
		Mean:        total / time.Duration(len(runs)),
		Median:      sorted[len(sorted)/2],
		Min:         sorted[0],
		Max:         sorted[len(sorted)-1],
	}
}

// RunSweep invokes the generator for every case in order, measures every
// timer it yields under minRunTime, and returns the ordered measurement set.
// The cleanup returned by the generator runs after the case's timers are
// measured, so each case's resources are released before the next begins.
func RunSweep[C any](ctx context.Context, name string, gen func(C) ([]*Timer, func()), cases []C, minRunTime time.Duration) []Measurement {
	tracer := otel.Tracer("whetstone/bench")

	var results []Measurement
	for i, c := range cases {
		caseStart := time.Now()
		_, span := tracer.Start(ctx, name,
			trace.WithAttributes(attribute.String("case", fmt.Sprintf("%+v", c))))

		timers, cleanup := gen(c)
		for _, t := range timers {
			m := t.Measure(minRunTime)
			results = append(results, m)
			log.Info().
				Str("label", m.Label).
				Str("sub_label", m.SubLabel).
				Str("description", m.Description).
				Int("runs", m.Runs).
				Dur("median", m.Median).
				Msgf("measured case %d/%d", i+1, len(cases))
		}
		if cleanup != nil {
			cleanup()
		}

		span.End()
		casesMeasured.Inc()
		caseDuration.Observe(time.Since(caseStart).Seconds())
	}
	return results
}
