package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"etlkit/internal/config"
	"etlkit/internal/engine"
	"etlkit/internal/job"
	"etlkit/internal/metrics"
	"etlkit/internal/metrics/datadog"
	"etlkit/internal/metrics/prompush"
	"etlkit/internal/tablesync"

	// register all backends with the storage factory and the built-in job
	// kinds with the job factory. Config picks which to use but support for
	// all of them is compiled in.
	_ "etlkit/internal/job/builtin"
	_ "etlkit/internal/storage/all"
)

// main is the entry point for the etlkit binary. It loads the config, wires
// the engine registry and an optional metrics backend, and runs the
// configured jobs.
func main() {
	var (
		cfgPath           string
		jobName           string
		listJobs          bool
		validate          bool
		logFile           string
		metricsBackendFlg string
		pushGatewayURLFlg string
		statsdAddrFlg     string
	)

	flag.StringVar(&cfgPath, "config", "configs/sample.json", "config JSON path")
	flag.StringVar(&jobName, "job", "", "run only the named job (default: all jobs in config order)")
	flag.BoolVar(&listJobs, "list-jobs", false, "list the configured jobs and exit")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	flag.StringVar(&logFile, "log-file", "", "append log output to this file in addition to stderr")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "", "metrics backend (prometheus, datadog, none); overrides config")
	flag.StringVar(&pushGatewayURLFlg, "pushgateway-url", "", "Pushgateway base URL; overrides config and env PUSHGATEWAY_URL")
	flag.StringVar(&statsdAddrFlg, "statsd-addr", "", "statsd address for the datadog backend; overrides config")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fatalf("open log file: %v", err)
		}
		defer f.Close()
		log.SetOutput(io.MultiWriter(os.Stderr, f))
	}

	f, err := os.Open(cfgPath)
	if err != nil {
		fatalf("open config: %v", err)
	}
	defer f.Close()

	var cfg config.Config
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		fatalf("decode config: %v", err)
	}

	issues := config.Validate(cfg)
	hasError := false
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		if iss.Severity == config.SeverityError {
			hasError = true
		}
	}
	if hasError {
		log.Printf("Configuration is invalid: %v", cfgPath)
		os.Exit(1)
	}
	if validate {
		log.Printf("Configuration is valid: %v", cfgPath)
		os.Exit(0)
	}

	if listJobs {
		for _, j := range cfg.Jobs {
			fmt.Printf("%s\t%s\n", j.Name, j.Kind)
		}
		return
	}

	// Decide metrics backend: flag → config → none.
	backendName := metricsBackendFlg
	if backendName == "" {
		backendName = cfg.Metrics.Backend
	}
	switch backendName {
	case "prometheus":
		// Decide Pushgateway URL: flag → config → env.
		gwURL := pushGatewayURLFlg
		if gwURL == "" {
			gwURL = cfg.Metrics.PushgatewayURL
		}
		if gwURL == "" {
			gwURL = os.Getenv("PUSHGATEWAY_URL")
		}

		b, err := prompush.NewBackend("etlkit", gwURL)
		if err != nil {
			log.Printf("metrics: failed to init prom push backend: %v; using nop", err)
		} else {
			log.Printf("metrics: backend=%v url=%v", backendName, gwURL)
			metrics.SetBackend(b)
			defer func() {
				if err := metrics.Flush(); err != nil {
					log.Printf("metrics: flush error: %v", err)
				}
			}()
		}

	case "datadog":
		addr := statsdAddrFlg
		if addr == "" {
			addr = cfg.Metrics.StatsdAddr
		}

		b, err := datadog.NewBackend(datadog.Config{Addr: addr, Namespace: cfg.Metrics.Namespace})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
		} else {
			log.Printf("metrics: backend=%v addr=%v", backendName, addr)
			metrics.SetBackend(b)
			defer func() {
				if err := metrics.Flush(); err != nil {
					log.Printf("metrics: flush error: %v", err)
				}
			}()
		}

	case "", "none":
		// metrics disabled; nop backend remains
		if *verbose {
			log.Printf("metrics: disabled (backend=%q)", backendName)
		}

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
	}

	aliases := make(map[string]engine.Alias, len(cfg.Engines))
	for name, e := range cfg.Engines {
		aliases[name] = engine.Alias{Kind: e.Kind, DSNEnv: e.DSNEnv}
	}
	engines := engine.NewRegistry(aliases)
	defer engines.DisposeAll()

	rt := job.Runtime{Engines: engines, Sync: tablesync.New(engines)}

	jobs := cfg.Jobs
	if jobName != "" {
		jobs = nil
		for _, j := range cfg.Jobs {
			if j.Name == jobName {
				jobs = append(jobs, j)
			}
		}
		if len(jobs) == 0 {
			fatalf("job %q not found in config (have: %s)", jobName, jobNames(cfg.Jobs))
		}
	}

	ctx := context.Background()
	start := time.Now()

	for _, jc := range jobs {
		built, err := job.New(rt, jc.Kind, jc.Options)
		if err != nil {
			log.Fatalf("job %s: %v", jc.Name, err)
		}
		run := job.Context{ID: uuid.NewString(), Name: jc.Name}
		if err := job.Run(ctx, run, built); err != nil {
			log.Fatalf("%v", err)
		}
	}

	if *verbose {
		log.Printf("completed %d job(s) in %s", len(jobs), time.Since(start).Truncate(time.Millisecond))
	}
}

func jobNames(jobs []config.JobConfig) string {
	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.Name)
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
