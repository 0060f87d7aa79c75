package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/tjmckinley/siminf-engine/core"
	"github.com/tjmckinley/siminf-engine/internal/logging"
	"github.com/tjmckinley/siminf-engine/internal/observability"
	"github.com/tjmckinley/siminf-engine/kb"
	"github.com/tjmckinley/siminf-engine/model"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON model config; if unset, runs a built-in single-node SIR example")
	seed := flag.Int64("seed", 1, "master RNG seed")
	workers := flag.Int("workers", 1, "number of goroutines to partition nodes across")
	metricsAddr := flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9090) for the duration of the run")
	logLevel := flag.String("log-level", "info", "debug, info, warn, or error")
	logFormat := flag.String("log-format", "text", "text or json")
	flag.Parse()

	log := logging.New(logging.Config{Level: *logLevel, Format: *logFormat, AddSource: false})
	ctx := context.Background()

	tracingCfg := observability.TracingConfigFromEnv()
	shutdownTracing, err := observability.InitTracing(ctx, tracingCfg, log)
	if err != nil {
		log.Error(ctx, "failed to initialize tracing", logging.String("error", err.Error()))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(ctx, shutdownTracing, log)

	runMetrics, err := observability.NewRunCollector(nil)
	if err != nil {
		log.Error(ctx, "failed to register run metrics", logging.String("error", err.Error()))
		os.Exit(1)
	}
	schedulerMetrics, err := observability.NewSchedulerCollector(nil)
	if err != nil {
		log.Error(ctx, "failed to register scheduler metrics", logging.String("error", err.Error()))
		os.Exit(1)
	}

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", runMetrics.Handler())
		srv := &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn(ctx, "metrics server stopped", logging.String("error", err.Error()))
			}
		}()
		defer srv.Close()
		log.Info(ctx, "serving metrics", logging.String("addr", *metricsAddr))
	}

	var m *kb.Model
	if *configPath != "" {
		f, err := os.Open(*configPath)
		if err != nil {
			log.Error(ctx, "failed to open model config", logging.String("path", *configPath), logging.String("error", err.Error()))
			os.Exit(1)
		}
		defer f.Close()

		loaded, summary, err := core.LoadModel(f)
		if err != nil {
			log.Error(ctx, "failed to load model config", logging.String("error", err.Error()))
			os.Exit(1)
		}
		m = loaded
		log.Info(ctx, "loaded model config",
			logging.Any("compartments", summary.Compartments),
			logging.Int("nodes", summary.NumNodes),
		)
	} else {
		m = builtinSIRModel()
		log.Info(ctx, "running built-in single-node SIR example")
	}

	driver := core.NewDriver(m,
		core.WithWorkers(*workers),
		core.WithMasterSeed(*seed),
		core.WithLogger(log),
		core.WithSchedulerMetrics(schedulerMetrics),
		core.WithRunMetrics(runMetrics),
	)

	res, err := driver.Run(ctx)
	if err != nil && !core.IsKind(err, core.KindCancelled) {
		log.Error(ctx, "run failed", logging.String("error", err.Error()))
		os.Exit(1)
	}

	fmt.Printf("Run status: %s\n", res.Status)
	if counts := res.FinalCounts(); counts != nil {
		fmt.Printf("Final compartment counts (node*Nc+compartment order): %v\n", counts)
	}
	fmt.Printf("Events applied: %d\n", len(res.EventLog))
}

// builtinSIRModel returns a hard-coded single-node SIR model used when no
// -config flag is given, for a quick smoke run.
func builtinSIRModel() *kb.Model {
	reg, err := model.NewRegistry(
		core.MassAction(0.002, 0, 1),
		core.MassAction(0.15, 1),
	)
	if err != nil {
		panic(err)
	}

	s, err := buildSIRStoichiometry()
	if err != nil {
		panic(err)
	}
	g, err := buildSIRDependencyGraph()
	if err != nil {
		panic(err)
	}
	e, err := buildEmptySelector(3)
	if err != nil {
		panic(err)
	}
	n, err := buildEmptyShift(3)
	if err != nil {
		panic(err)
	}

	m, err := kb.NewModel(kb.Config{
		Nc: 3, Nn: 1,
		U0:           []int64{990, 10, 0},
		Tspan:        linspace(0, 50, 51),
		G:            g,
		S:            s,
		E:            e,
		N:            n,
		Propensities: reg,
	})
	if err != nil {
		panic(err)
	}
	return m
}

func linspace(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + step*float64(i)
	}
	return out
}
