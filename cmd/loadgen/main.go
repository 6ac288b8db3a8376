// Command loadgen is a demo HTTP client over the load generation core:
// flag-based CLI, signal-driven graceful shutdown, top-level panic
// recovery, wired into internal/coordinator.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/lucasjones/reggen"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/voltrace/loadgen/internal/assertcheck"
	"github.com/voltrace/loadgen/internal/classify"
	"github.com/voltrace/loadgen/internal/coordinator"
	"github.com/voltrace/loadgen/internal/dashboard"
	"github.com/voltrace/loadgen/pkg/config"
	"github.com/voltrace/loadgen/pkg/loadtest"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("\nfatal error: %v\n", r)
			os.Exit(1)
		}
	}()

	runtime.GOMAXPROCS(runtime.NumCPU())

	var (
		configPath  string
		url         string
		method      string
		profile     string
		durationStr string
		concurrency int
		targetRate  float64
		bodyPattern string
		headless    bool
	)

	flag.StringVar(&configPath, "config", "", "path to YAML configuration file")
	flag.StringVar(&configPath, "f", "", "path to YAML configuration file (shorthand)")
	flag.StringVar(&url, "url", "", "target URL")
	flag.StringVar(&method, "method", "GET", "HTTP method")
	flag.StringVar(&profile, "profile", "", "load profile: concurrent, tps, qps, ramp_up, stability")
	flag.StringVar(&durationStr, "duration", "", "load duration, e.g. 30s")
	flag.IntVar(&concurrency, "concurrency", 0, "concurrent users")
	flag.Float64Var(&targetRate, "rate", 0, "target requests/sec (tps/qps profiles)")
	flag.StringVar(&bodyPattern, "body-pattern", "", "regex pattern used to generate randomized request bodies")
	flag.BoolVar(&headless, "headless", false, "run without the live dashboard, printing a JSON report at exit")
	flag.Parse()

	var cfg loadtest.TestConfig
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			fmt.Printf("error loading config file: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	if profile != "" {
		cfg.Profile = loadtest.Profile(profile)
	}
	if cfg.Profile == "" {
		cfg.Profile = loadtest.ProfileConcurrent
	}
	if durationStr != "" {
		d, err := time.ParseDuration(durationStr)
		if err != nil {
			fmt.Printf("invalid duration flag: %v\n", err)
			os.Exit(1)
		}
		cfg.Duration = d
	}
	if concurrency > 0 {
		cfg.ConcurrentUsers = concurrency
	}
	if targetRate > 0 {
		cfg.TargetRate = targetRate
	}
	if cfg.MaxThreadPoolSize == 0 {
		cfg.MaxThreadPoolSize = 500
	}
	if cfg.TaskTimeout == 0 {
		cfg.TaskTimeout = 10 * time.Second
	}

	if err := loadtest.Validate(cfg); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		os.Exit(1)
	}
	if url == "" {
		fmt.Println("a target -url is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nreceived interrupt, shutting down gracefully...")
		cancel()
	}()

	// No client-level Timeout: the per-attempt task_timeout_sec deadline is
	// enforced by internal/retry.Executor via the ctx httpTask receives,
	// not by http.Client itself.
	client := &http.Client{}
	task := httpTask(client, url, method, bodyPattern)

	if headless {
		result := coordinator.Run(ctx, cfg, task, nil, nil, nil)
		printReport(result)
		return
	}

	runID := uuid.NewString()
	model := dashboard.New(cfg)
	p := tea.NewProgram(model)
	onOutcome := dashboard.Callback(p)

	var result loadtest.RunResult
	done := make(chan struct{})
	go func() {
		result = coordinator.Run(ctx, cfg, task, nil, nil, onOutcome)
		p.Send(tea.Quit())
		close(done)
	}()

	if _, err := p.Run(); err != nil {
		fmt.Printf("error running dashboard: %v\n", err)
	}
	<-done

	fmt.Printf("\nrun %s complete: %d total, %d success, %d failure\n",
		runID, result.TotalRequests, result.SuccessCount, result.FailureCount)
	printReport(result)
}

// httpTask builds a loadtest.TaskFn that issues one HTTP request, classifying
// failures through internal/classify's sentinels so the retry executor and
// aggregator see a stable ErrorKind regardless of what went wrong.
func httpTask(client *http.Client, url, method, bodyPattern string) loadtest.TaskFn {
	var gen *reggen.Generator
	if bodyPattern != "" {
		g, err := reggen.NewGenerator(bodyPattern, nil)
		if err == nil {
			gen = g
		}
	}

	return func(ctx context.Context) loadtest.TaskResult {
		start := time.Now()

		var body io.Reader
		if gen != nil {
			body = strings.NewReader(gen.Generate(1))
		}

		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return loadtest.TaskResult{Success: false, Err: &classify.ValidationError{Message: err.Error()}}
		}
		req.Header.Set("User-Agent", "loadgen/1.0")

		resp, err := client.Do(req)
		elapsed := time.Since(start)
		if err != nil {
			return loadtest.TaskResult{
				Success:        false,
				ResponseTimeMs: float64(elapsed.Microseconds()) / 1000.0,
				Err:            err,
			}
		}
		defer resp.Body.Close()

		respBody, _ := io.ReadAll(resp.Body)

		if resp.StatusCode >= 400 {
			return loadtest.TaskResult{
				Success:        false,
				StatusCode:     resp.StatusCode,
				ResponseTimeMs: float64(elapsed.Microseconds()) / 1000.0,
				Err: &classify.HTTPError{
					StatusCode: resp.StatusCode,
					Message:    fmt.Sprintf("unexpected status %d", resp.StatusCode),
				},
			}
		}

		if err := assertcheck.Check(respBody, nil); err != nil {
			return loadtest.TaskResult{
				Success:        false,
				StatusCode:     resp.StatusCode,
				ResponseTimeMs: float64(elapsed.Microseconds()) / 1000.0,
				Err:            err,
			}
		}

		return loadtest.TaskResult{
			Success:        true,
			StatusCode:     resp.StatusCode,
			ResponseTimeMs: float64(elapsed.Microseconds()) / 1000.0,
		}
	}
}

func printReport(result loadtest.RunResult) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		fmt.Printf("failed to encode report: %v\n", err)
	}
}
