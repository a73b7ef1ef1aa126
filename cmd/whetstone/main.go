package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/23skdu/longbow-whetstone/internal/bench"
	"github.com/23skdu/longbow-whetstone/internal/client"
	"github.com/23skdu/longbow-whetstone/internal/device"
	"github.com/23skdu/longbow-whetstone/internal/swiglu"
)

var (
	opName      = flag.String("op", "fused.p", "SwiGLU op variant to compare against eager (decomposed, fused, fused.p)")
	minRunTime  = flag.Duration("min-run-time", 500*time.Millisecond, "Minimum measurement duration per timer")
	shapesFlag  = flag.String("shapes", "", "Comma-separated BxIxH shape triples (e.g. 4728x1536x1024); empty uses defaults")
	cpuProfile  = flag.String("cpuprofile", "", "Write cpu profile to file")
	metricsAddr = flag.String("metrics", "", "Address to serve Prometheus metrics on during the sweep (e.g. :9091)")
	enableOTel  = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
	serverAddr  = flag.String("server", "", "Longbow server address to push results to (e.g., localhost:3000)")
	datasetName = flag.String("dataset", "whetstone_results", "Target dataset name on server")
	arrowOut    = flag.String("arrow-out", "", "Write results as Arrow IPC to file")
	cborOut     = flag.String("cbor-out", "", "Write results as CBOR to file")
)

func parseShapes(s string) ([][3]int, error) {
	if s == "" {
		return defaultShapes, nil
	}
	var shapes [][3]int
	for _, part := range strings.Split(s, ",") {
		var b, i, h int
		if _, err := fmt.Sscanf(strings.TrimSpace(part), "%dx%dx%d", &b, &i, &h); err != nil {
			return nil, fmt.Errorf("invalid shape %q: %w", part, err)
		}
		shapes = append(shapes, [3]int{b, i, h})
	}
	return shapes, nil
}

func main() {
	// Initialize logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	flag.Parse()

	if *enableOTel {
		shutdown, err := initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer shutdown(context.Background())
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create CPU profile file")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal().Err(err).Msg("Could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
	}

	if *metricsAddr != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
				log.Warn().Err(err).Msg("Metrics listener stopped")
			}
		}()
		log.Info().Str("addr", *metricsAddr).Msg("Serving Prometheus metrics")
	}

	op, err := swiglu.ParseOp(*opName)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid op")
	}
	shapes, err := parseShapes(*shapesFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid shapes")
	}

	cases := enumerateCases(shapes, defaultPrecisions, defaultBias)
	be := device.NewCPUBackend()
	ctx := context.Background()

	log.Info().
		Str("op", op.Name()).
		Str("backend", be.Name()).
		Int("cases", len(cases)).
		Dur("min_run_time", *minRunTime).
		Msg("Starting SwiGLU sweep")

	start := time.Now()
	results := bench.RunSweep(ctx, "swiglu_fw", func(c benchCase) ([]*bench.Timer, func()) {
		return forwardTimers(be, op, c)
	}, cases, *minRunTime)
	results = append(results, bench.RunSweep(ctx, "swiglu_bw", func(c benchCase) ([]*bench.Timer, func()) {
		return backwardTimers(be, op, c)
	}, cases, *minRunTime)...)
	log.Info().Dur("elapsed", time.Since(start)).Int("measurements", len(results)).Msg("Sweep complete")

	bench.WriteCompare(os.Stdout, results)

	if *arrowOut != "" {
		if err := bench.WriteArrowFile(*arrowOut, results); err != nil {
			log.Fatal().Err(err).Msg("Failed to write Arrow results")
		}
		log.Info().Str("path", *arrowOut).Msg("Wrote Arrow results")
	}

	if *cborOut != "" {
		if err := bench.WriteCBORFile(*cborOut, results); err != nil {
			log.Fatal().Err(err).Msg("Failed to write CBOR results")
		}
		log.Info().Str("path", *cborOut).Msg("Wrote CBOR results")
	}

	if *serverAddr != "" {
		fc, err := client.NewFlightClient(*serverAddr)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Longbow")
		}
		defer func() {
			if err := fc.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close flight client")
			}
		}()

		pushCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		if err := fc.PushResults(pushCtx, *datasetName, results); err != nil {
			log.Fatal().Err(err).Msg("Flight DoPut failed")
		}
		log.Info().Str("server", *serverAddr).Str("dataset", *datasetName).Msg("Pushed results to Longbow")
	}
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("whetstone"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
