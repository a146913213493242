// Command benchmark drives a timed performance suite against one resolved
// model+endpoint pair, or queries previously recorded results. It is a
// standalone utility distinct from the scanner's fixed CLI surface, grounded
// on ollama_benchmark.py's "run"/"query" subcommands.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Strob0t/CodeForge/internal/adapter/postgres"
	"github.com/Strob0t/CodeForge/internal/config"
	"github.com/Strob0t/CodeForge/internal/domain/benchmark"
	"github.com/Strob0t/CodeForge/internal/domain/dispatch"
	"github.com/Strob0t/CodeForge/internal/domain/endpoint"
	"github.com/Strob0t/CodeForge/internal/port/catalog"
	"github.com/Strob0t/CodeForge/internal/resilience"
	benchmarksvc "github.com/Strob0t/CodeForge/internal/service/benchmark"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: benchmark <run|query> [flags]")
	}
	command, args := args[0], args[1:]
	if command != "run" && command != "query" {
		return fmt.Errorf("unknown command %q, must be one of [run query]", command)
	}

	// Load .env file if present (non-fatal; production deployments won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if !cfg.Benchmark.Enabled {
		return fmt.Errorf("benchmark runner disabled, set benchmark.enabled: true")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	store := postgres.NewStore(pool)
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	runner := benchmarksvc.New(store, breaker).WithRequestTimeout(time.Duration(cfg.Benchmark.TimeoutSeconds) * time.Second)

	if command == "run" {
		return runCommand(ctx, args, store, breaker, runner)
	}
	return queryCommand(ctx, args, runner)
}

// runCommand resolves a model selector (or explicit server/port/model-name)
// to a live endpoint and runs the benchmark suite against it, mirroring
// run_benchmarks(model, count, server, port, model_name).
func runCommand(ctx context.Context, args []string, store *postgres.Store, breaker *resilience.Breaker, runner *benchmarksvc.Runner) error {
	fs := flag.NewFlagSet("benchmark run", flag.ContinueOnError)
	model := fs.String("model", "", "model selector to resolve (e.g. a name substring)")
	server := fs.String("server", "", "specific server IP to benchmark, used with --port and --model-name")
	port := fs.Int("port", 0, "specific server port, used with --server")
	modelName := fs.String("model-name", "", "specific model name to test, used with --server/--port")
	concurrency := fs.Bool("concurrency", false, "also run the concurrency sub-test")
	concurrencyLevel := fs.Int("concurrency-level", 0, "concurrent requests for the concurrency sub-test (0 = default)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var req benchmark.RunRequest

	switch {
	case *server != "" && *port != 0 && *modelName != "":
		ep, err := store.GetEndpointByKey(ctx, endpoint.Key{IP: *server, Port: *port})
		if err != nil {
			return fmt.Errorf("lookup endpoint %s:%d: %w", *server, *port, err)
		}
		req = benchmark.RunRequest{EndpointID: ep.ID, ModelName: *modelName, IP: ep.IP, Port: ep.Port}
	case *model != "":
		dispatchSvc := dispatch.New(store, breaker)
		resolved, err := dispatchSvc.Resolve(ctx, dispatch.ResolveRequest{ModelSelector: *model})
		if err != nil {
			return fmt.Errorf("resolve %q: %w", *model, err)
		}
		req = benchmark.RunRequest{
			EndpointID: resolved.EndpointID,
			ModelID:    resolved.ModelID,
			ModelName:  resolved.ModelName,
			IP:         resolved.IP,
			Port:       resolved.Port,
		}
	default:
		return fmt.Errorf("run requires either --model or --server/--port/--model-name")
	}

	req.RunConcurrencyTest = *concurrency
	req.ConcurrencyLevel = *concurrencyLevel

	result, err := runner.Run(ctx, req)
	if err != nil {
		return fmt.Errorf("run benchmark: %w", err)
	}

	fmt.Printf("%s | %-20s | %-18s | avg=%.3fs | tok/s=%.1f\n",
		result.TestDate.Format("2006-01-02 15:04:05"), req.ModelName,
		fmt.Sprintf("%s:%d", req.IP, req.Port), result.AvgResponseTime, result.TokensPerSecond)
	return nil
}

// queryCommand lists recent benchmark history, mirroring
// query_benchmark_results(model, limit).
func queryCommand(ctx context.Context, args []string, runner *benchmarksvc.Runner) error {
	fs := flag.NewFlagSet("benchmark query", flag.ContinueOnError)
	model := fs.String("model", "", "filter results by model name substring")
	limit := fs.Int("limit", 10, "maximum number of results to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	results, err := runner.List(ctx, catalog.BenchmarkListFilter{ModelNameContains: *model, Limit: *limit})
	if err != nil {
		return fmt.Errorf("list benchmark results: %w", err)
	}

	fmt.Printf("%-19s | %-8s | %-10s | %s\n", "test_date", "avg_time", "tok/s", "first_token_latency")
	for _, r := range results {
		latency := "N/A"
		if r.FirstTokenLatency != nil {
			latency = fmt.Sprintf("%.3f", *r.FirstTokenLatency)
		}
		fmt.Printf("%-19s | %-8.3f | %-10.1f | %s\n",
			r.TestDate.Format("2006-01-02 15:04:05"), r.AvgResponseTime, r.TokensPerSecond, latency)
	}
	return nil
}
