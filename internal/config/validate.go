package config

import (
	"fmt"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a configuration warning that should be surfaced
	// to users but may not necessarily block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation/lint finding for a Config.
//
// Path is a dotted path into the config (e.g. "engines.src.kind",
// "jobs[1].options.mode"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// Validate performs static validation / linting of a Config.
//
// It does not mutate the config. Instead it returns a slice of Issue values.
// Callers may decide whether to treat warnings as fatal or not.
//
// Example:
//
//	var c config.Config
//	if err := json.NewDecoder(r).Decode(&c); err != nil { ... }
//	issues := config.Validate(c)
//	for _, iss := range issues {
//	    fmt.Printf("%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
//	}
func Validate(c Config) []Issue {
	var issues []Issue

	issues = append(issues, validateEngines(c.Engines)...)
	issues = append(issues, validateJobs(c.Jobs, c.Engines)...)
	issues = append(issues, validateMetrics(c.Metrics)...)

	return issues
}

// validateEngines validates the engine alias map.
func validateEngines(engines map[string]Engine) []Issue {
	var issues []Issue

	if len(engines) == 0 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "engines",
			Message:  "no engines configured; jobs have no aliases to resolve",
		})
		return issues
	}

	// Known storage kinds. Unknown kinds are warnings (for forward compatibility).
	known := map[string]struct{}{
		"postgres": {},
		"mysql":    {},
		"mssql":    {},
		"sqlite":   {},
	}

	for alias, e := range engines {
		if strings.TrimSpace(alias) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "engines",
				Message:  "engine alias must not be empty",
			})
			continue
		}
		path := fmt.Sprintf("engines.%s.kind", alias)
		if strings.TrimSpace(e.Kind) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path,
				Message:  "engine kind must not be empty",
			})
			continue
		}
		if _, ok := known[e.Kind]; !ok {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     path,
				Message:  fmt.Sprintf("unknown engine kind %q; ensure a matching backend is registered", e.Kind),
			})
		}
	}

	return issues
}

// validateJobs validates the job list, including kind-specific option checks.
func validateJobs(jobs []JobConfig, engines map[string]Engine) []Issue {
	var issues []Issue

	if len(jobs) == 0 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "jobs",
			Message:  "no jobs configured; the program has nothing to run",
		})
		return issues
	}

	knownKinds := map[string]struct{}{
		"noop":       {},
		"sync":       {},
		"csv_load":   {},
		"csv_export": {},
	}

	seen := map[string]int{}
	for i, j := range jobs {
		path := fmt.Sprintf("jobs[%d]", i)

		if strings.TrimSpace(j.Name) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + ".name",
				Message:  "job name must not be empty; it is used for metrics labeling and the -job flag",
			})
		} else if prev, dup := seen[j.Name]; dup {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + ".name",
				Message:  fmt.Sprintf("duplicate job name %q (also jobs[%d])", j.Name, prev),
			})
		} else {
			seen[j.Name] = i
		}

		if strings.TrimSpace(j.Kind) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + ".kind",
				Message:  "job kind must not be empty",
			})
			continue
		}
		if _, ok := knownKinds[j.Kind]; !ok {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     path + ".kind",
				Message:  fmt.Sprintf("unknown job kind %q; ensure a matching job factory is registered", j.Kind),
			})
		}

		// Kind-specific checks.
		switch j.Kind {
		case "sync":
			issues = append(issues, validateSyncJob(path, j.Options, engines)...)
		case "csv_load":
			issues = append(issues, validateCSVLoadJob(path, j.Options, engines)...)
		case "csv_export":
			issues = append(issues, validateCSVExportJob(path, j.Options, engines)...)
		}
	}

	return issues
}

// validateSyncJob checks the options bag of a "sync" job against the option
// schema the built-in sync job consumes.
func validateSyncJob(path string, o Options, engines map[string]Engine) []Issue {
	var issues []Issue

	requireAlias := func(key string) {
		alias := o.String(key, "")
		if strings.TrimSpace(alias) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     fmt.Sprintf("%s.options.%s", path, key),
				Message:  fmt.Sprintf("sync job requires %s", key),
			})
			return
		}
		if len(engines) > 0 {
			if _, ok := engines[alias]; !ok {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     fmt.Sprintf("%s.options.%s", path, key),
					Message:  fmt.Sprintf("alias %q is not configured under engines", alias),
				})
			}
		}
	}
	requireAlias("source_alias")
	requireAlias("target_alias")

	if o.String("source_table", "") == "" && o.String("source_query", "") == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     path + ".options.source_table",
			Message:  "sync job requires source_table or source_query",
		})
	}
	if o.String("target_table", "") == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     path + ".options.target_table",
			Message:  "sync job requires target_table",
		})
	}

	mode := o.String("mode", "insert")
	switch mode {
	case "insert":
		// nothing extra
	case "upsert":
		if strings.TrimSpace(o.String("on_condition", "")) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + ".options.on_condition",
				Message:  `mode "upsert" requires on_condition (e.g. "target.id = source.id")`,
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     path + ".options.mode",
			Message:  fmt.Sprintf(`unknown mode %q; expected "insert" or "upsert"`, mode),
		})
	}

	join := o.StringSlice("join_columns")
	change := o.StringSlice("change_columns")
	if len(join) > 0 && len(change) == 0 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     path + ".options.change_columns",
			Message:  "join_columns without change_columns; every matched row will be dropped by the filter",
		})
	}
	if len(change) > 0 && len(join) == 0 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     path + ".options.join_columns",
			Message:  "change_columns without join_columns; the filter step will be skipped",
		})
	}

	return issues
}

// validateCSVLoadJob checks the options bag of a "csv_load" job: a file path
// plus the same write-side options a sync job takes.
func validateCSVLoadJob(path string, o Options, engines map[string]Engine) []Issue {
	var issues []Issue

	if o.String("path", "") == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     path + ".options.path",
			Message:  "csv_load job requires path",
		})
	}

	alias := o.String("target_alias", "")
	if alias == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     path + ".options.target_alias",
			Message:  "csv_load job requires target_alias",
		})
	} else if len(engines) > 0 {
		if _, ok := engines[alias]; !ok {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + ".options.target_alias",
				Message:  fmt.Sprintf("alias %q is not configured under engines", alias),
			})
		}
	}

	if o.String("target_table", "") == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     path + ".options.target_table",
			Message:  "csv_load job requires target_table",
		})
	}

	mode := o.String("mode", "insert")
	switch mode {
	case "insert":
	case "upsert":
		if strings.TrimSpace(o.String("on_condition", "")) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + ".options.on_condition",
				Message:  `mode "upsert" requires on_condition (e.g. "target.id = source.id")`,
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     path + ".options.mode",
			Message:  fmt.Sprintf(`unknown mode %q; expected "insert" or "upsert"`, mode),
		})
	}

	return issues
}

// validateCSVExportJob checks the options bag of a "csv_export" job: a source
// to read plus a file path to write.
func validateCSVExportJob(path string, o Options, engines map[string]Engine) []Issue {
	var issues []Issue

	alias := o.String("source_alias", "")
	if alias == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     path + ".options.source_alias",
			Message:  "csv_export job requires source_alias",
		})
	} else if len(engines) > 0 {
		if _, ok := engines[alias]; !ok {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + ".options.source_alias",
				Message:  fmt.Sprintf("alias %q is not configured under engines", alias),
			})
		}
	}

	if o.String("source_table", "") == "" && o.String("source_query", "") == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     path + ".options.source_table",
			Message:  "csv_export job requires source_table or source_query",
		})
	}
	if o.String("path", "") == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     path + ".options.path",
			Message:  "csv_export job requires path",
		})
	}

	return issues
}

// validateMetrics validates the metrics backend selection.
func validateMetrics(m Metrics) []Issue {
	var issues []Issue

	switch m.Backend {
	case "", "none":
		// metrics disabled
	case "prometheus":
		if strings.TrimSpace(m.PushgatewayURL) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "metrics.pushgateway_url",
				Message:  `metrics backend "prometheus" requires pushgateway_url`,
			})
		}
	case "datadog":
		if strings.TrimSpace(m.StatsdAddr) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "metrics.statsd_addr",
				Message:  `metrics backend "datadog" requires statsd_addr`,
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "metrics.backend",
			Message:  fmt.Sprintf("unknown metrics backend %q; metrics will be disabled", m.Backend),
		})
	}

	return issues
}
