package config

import (
	"strings"
	"testing"
)

// hasIssue reports whether issues contains an Issue with the given severity,
// path, and a Message containing msgSubstr.
func hasIssue(t *testing.T, issues []Issue, sev IssueSeverity, path, msgSubstr string) bool {
	t.Helper()
	for _, iss := range issues {
		if iss.Severity == sev && iss.Path == path && strings.Contains(iss.Message, msgSubstr) {
			return true
		}
	}
	return false
}

// validConfig returns a config that passes validation with zero issues.
// Tests mutate copies of it to trigger individual findings.
func validConfig() Config {
	return Config{
		Engines: map[string]Engine{
			"src": {Kind: "mssql"},
			"dwh": {Kind: "postgres", DSNEnv: "WAREHOUSE_DSN"},
		},
		Jobs: []JobConfig{
			{
				Name: "orders_sync",
				Kind: "sync",
				Options: Options{
					"source_alias": "src",
					"source_table": "orders",
					"target_alias": "dwh",
					"target_table": "orders",
					"mode":         "upsert",
					"on_condition": "target.id = source.id",
				},
			},
		},
		Metrics: Metrics{Backend: "none"},
	}
}

/*
TestValidate_ValidMinimal verifies that a well-formed config produces no
issues (errors or warnings).
*/
func TestValidate_ValidMinimal(t *testing.T) {
	issues := Validate(validConfig())
	if len(issues) != 0 {
		t.Fatalf("expected no issues for valid config; got: %+v", issues)
	}
}

/*
TestValidateEngines_Cases exercises validateEngines with an empty map,
missing kinds, and unknown kinds.
*/
func TestValidateEngines_Cases(t *testing.T) {
	t.Run("no_engines", func(t *testing.T) {
		issues := validateEngines(nil)
		if !hasIssue(t, issues, SeverityWarning, "engines", "no engines configured") {
			t.Fatalf("expected warning for empty engines; got: %+v", issues)
		}
	})

	t.Run("empty_kind", func(t *testing.T) {
		issues := validateEngines(map[string]Engine{"src": {}})
		if !hasIssue(t, issues, SeverityError, "engines.src.kind", "must not be empty") {
			t.Fatalf("expected error for empty kind; got: %+v", issues)
		}
	})

	t.Run("unknown_kind", func(t *testing.T) {
		issues := validateEngines(map[string]Engine{"src": {Kind: "oracle"}})
		if !hasIssue(t, issues, SeverityWarning, "engines.src.kind", `unknown engine kind "oracle"`) {
			t.Fatalf("expected warning for unknown kind; got: %+v", issues)
		}
	})

	t.Run("empty_alias", func(t *testing.T) {
		issues := validateEngines(map[string]Engine{"": {Kind: "sqlite"}})
		if !hasIssue(t, issues, SeverityError, "engines", "alias must not be empty") {
			t.Fatalf("expected error for empty alias; got: %+v", issues)
		}
	})
}

/*
TestValidateJobs_Cases exercises the job-level checks: empty list, missing
names, duplicate names, and unknown kinds.
*/
func TestValidateJobs_Cases(t *testing.T) {
	engines := map[string]Engine{"src": {Kind: "sqlite"}, "dwh": {Kind: "sqlite"}}

	t.Run("no_jobs", func(t *testing.T) {
		issues := validateJobs(nil, engines)
		if !hasIssue(t, issues, SeverityWarning, "jobs", "no jobs configured") {
			t.Fatalf("expected warning for empty jobs; got: %+v", issues)
		}
	})

	t.Run("empty_name", func(t *testing.T) {
		issues := validateJobs([]JobConfig{{Kind: "noop"}}, engines)
		if !hasIssue(t, issues, SeverityError, "jobs[0].name", "must not be empty") {
			t.Fatalf("expected error for empty name; got: %+v", issues)
		}
	})

	t.Run("duplicate_name", func(t *testing.T) {
		jobs := []JobConfig{
			{Name: "a", Kind: "noop"},
			{Name: "a", Kind: "noop"},
		}
		issues := validateJobs(jobs, engines)
		if !hasIssue(t, issues, SeverityError, "jobs[1].name", `duplicate job name "a"`) {
			t.Fatalf("expected error for duplicate name; got: %+v", issues)
		}
	})

	t.Run("empty_kind", func(t *testing.T) {
		issues := validateJobs([]JobConfig{{Name: "a"}}, engines)
		if !hasIssue(t, issues, SeverityError, "jobs[0].kind", "must not be empty") {
			t.Fatalf("expected error for empty kind; got: %+v", issues)
		}
	})

	t.Run("unknown_kind", func(t *testing.T) {
		issues := validateJobs([]JobConfig{{Name: "a", Kind: "mystery"}}, engines)
		if !hasIssue(t, issues, SeverityWarning, "jobs[0].kind", `unknown job kind "mystery"`) {
			t.Fatalf("expected warning for unknown kind; got: %+v", issues)
		}
	})
}

/*
TestValidateSyncJob_Cases exercises the sync-specific option checks: required
aliases and tables, alias cross-references, merge mode rules, and the
filter-column pairing warnings.
*/
func TestValidateSyncJob_Cases(t *testing.T) {
	engines := map[string]Engine{"src": {Kind: "sqlite"}, "dwh": {Kind: "sqlite"}}

	base := func() Options {
		return Options{
			"source_alias": "src",
			"source_table": "orders",
			"target_alias": "dwh",
			"target_table": "orders",
		}
	}

	t.Run("valid_insert_defaults", func(t *testing.T) {
		issues := validateSyncJob("jobs[0]", base(), engines)
		if len(issues) != 0 {
			t.Fatalf("expected no issues; got: %+v", issues)
		}
	})

	t.Run("missing_source_alias", func(t *testing.T) {
		o := base()
		delete(o, "source_alias")
		issues := validateSyncJob("jobs[0]", o, engines)
		if !hasIssue(t, issues, SeverityError, "jobs[0].options.source_alias", "requires source_alias") {
			t.Fatalf("expected error; got: %+v", issues)
		}
	})

	t.Run("unconfigured_alias", func(t *testing.T) {
		o := base()
		o["target_alias"] = "nope"
		issues := validateSyncJob("jobs[0]", o, engines)
		if !hasIssue(t, issues, SeverityError, "jobs[0].options.target_alias", `alias "nope" is not configured`) {
			t.Fatalf("expected error; got: %+v", issues)
		}
	})

	t.Run("missing_source_table_and_query", func(t *testing.T) {
		o := base()
		delete(o, "source_table")
		issues := validateSyncJob("jobs[0]", o, engines)
		if !hasIssue(t, issues, SeverityError, "jobs[0].options.source_table", "source_table or source_query") {
			t.Fatalf("expected error; got: %+v", issues)
		}
	})

	t.Run("source_query_substitutes_for_table", func(t *testing.T) {
		o := base()
		delete(o, "source_table")
		o["source_query"] = "SELECT id, amt FROM orders"
		issues := validateSyncJob("jobs[0]", o, engines)
		if len(issues) != 0 {
			t.Fatalf("expected no issues with source_query; got: %+v", issues)
		}
	})

	t.Run("missing_target_table", func(t *testing.T) {
		o := base()
		delete(o, "target_table")
		issues := validateSyncJob("jobs[0]", o, engines)
		if !hasIssue(t, issues, SeverityError, "jobs[0].options.target_table", "requires target_table") {
			t.Fatalf("expected error; got: %+v", issues)
		}
	})

	t.Run("unknown_mode", func(t *testing.T) {
		o := base()
		o["mode"] = "replace"
		issues := validateSyncJob("jobs[0]", o, engines)
		if !hasIssue(t, issues, SeverityError, "jobs[0].options.mode", `unknown mode "replace"`) {
			t.Fatalf("expected error; got: %+v", issues)
		}
	})

	t.Run("upsert_requires_on_condition", func(t *testing.T) {
		o := base()
		o["mode"] = "upsert"
		issues := validateSyncJob("jobs[0]", o, engines)
		if !hasIssue(t, issues, SeverityError, "jobs[0].options.on_condition", "requires on_condition") {
			t.Fatalf("expected error; got: %+v", issues)
		}
	})

	t.Run("join_without_change_warns", func(t *testing.T) {
		o := base()
		o["join_columns"] = []string{"id"}
		issues := validateSyncJob("jobs[0]", o, engines)
		if !hasIssue(t, issues, SeverityWarning, "jobs[0].options.change_columns", "every matched row will be dropped") {
			t.Fatalf("expected warning; got: %+v", issues)
		}
	})

	t.Run("change_without_join_warns", func(t *testing.T) {
		o := base()
		o["change_columns"] = []string{"amt"}
		issues := validateSyncJob("jobs[0]", o, engines)
		if !hasIssue(t, issues, SeverityWarning, "jobs[0].options.join_columns", "filter step will be skipped") {
			t.Fatalf("expected warning; got: %+v", issues)
		}
	})
}

/*
TestValidateCSVJobs_Cases exercises the option checks for the csv_load and
csv_export job kinds: required file path, alias cross-references, and the
merge mode rules shared with sync on the load side.
*/
func TestValidateCSVJobs_Cases(t *testing.T) {
	engines := map[string]Engine{"src": {Kind: "sqlite"}, "dwh": {Kind: "sqlite"}}

	loadBase := func() Options {
		return Options{
			"path":         "data/orders.csv",
			"target_alias": "dwh",
			"target_table": "orders",
		}
	}
	exportBase := func() Options {
		return Options{
			"source_alias": "src",
			"source_table": "orders",
			"path":         "out/orders.csv",
		}
	}

	t.Run("load_valid_defaults", func(t *testing.T) {
		issues := validateCSVLoadJob("jobs[0]", loadBase(), engines)
		if len(issues) != 0 {
			t.Fatalf("expected no issues; got: %+v", issues)
		}
	})

	t.Run("load_missing_path", func(t *testing.T) {
		o := loadBase()
		delete(o, "path")
		issues := validateCSVLoadJob("jobs[0]", o, engines)
		if !hasIssue(t, issues, SeverityError, "jobs[0].options.path", "requires path") {
			t.Fatalf("expected error; got: %+v", issues)
		}
	})

	t.Run("load_unconfigured_alias", func(t *testing.T) {
		o := loadBase()
		o["target_alias"] = "nope"
		issues := validateCSVLoadJob("jobs[0]", o, engines)
		if !hasIssue(t, issues, SeverityError, "jobs[0].options.target_alias", `alias "nope" is not configured`) {
			t.Fatalf("expected error; got: %+v", issues)
		}
	})

	t.Run("load_missing_target_table", func(t *testing.T) {
		o := loadBase()
		delete(o, "target_table")
		issues := validateCSVLoadJob("jobs[0]", o, engines)
		if !hasIssue(t, issues, SeverityError, "jobs[0].options.target_table", "requires target_table") {
			t.Fatalf("expected error; got: %+v", issues)
		}
	})

	t.Run("load_upsert_requires_on_condition", func(t *testing.T) {
		o := loadBase()
		o["mode"] = "upsert"
		issues := validateCSVLoadJob("jobs[0]", o, engines)
		if !hasIssue(t, issues, SeverityError, "jobs[0].options.on_condition", "requires on_condition") {
			t.Fatalf("expected error; got: %+v", issues)
		}
	})

	t.Run("load_unknown_mode", func(t *testing.T) {
		o := loadBase()
		o["mode"] = "replace"
		issues := validateCSVLoadJob("jobs[0]", o, engines)
		if !hasIssue(t, issues, SeverityError, "jobs[0].options.mode", `unknown mode "replace"`) {
			t.Fatalf("expected error; got: %+v", issues)
		}
	})

	t.Run("export_valid_defaults", func(t *testing.T) {
		issues := validateCSVExportJob("jobs[0]", exportBase(), engines)
		if len(issues) != 0 {
			t.Fatalf("expected no issues; got: %+v", issues)
		}
	})

	t.Run("export_missing_source_alias", func(t *testing.T) {
		o := exportBase()
		delete(o, "source_alias")
		issues := validateCSVExportJob("jobs[0]", o, engines)
		if !hasIssue(t, issues, SeverityError, "jobs[0].options.source_alias", "requires source_alias") {
			t.Fatalf("expected error; got: %+v", issues)
		}
	})

	t.Run("export_query_substitutes_for_table", func(t *testing.T) {
		o := exportBase()
		delete(o, "source_table")
		o["source_query"] = "SELECT id, amt FROM orders"
		issues := validateCSVExportJob("jobs[0]", o, engines)
		if len(issues) != 0 {
			t.Fatalf("expected no issues with source_query; got: %+v", issues)
		}
	})

	t.Run("export_missing_source_table_and_query", func(t *testing.T) {
		o := exportBase()
		delete(o, "source_table")
		issues := validateCSVExportJob("jobs[0]", o, engines)
		if !hasIssue(t, issues, SeverityError, "jobs[0].options.source_table", "source_table or source_query") {
			t.Fatalf("expected error; got: %+v", issues)
		}
	})

	t.Run("export_missing_path", func(t *testing.T) {
		o := exportBase()
		delete(o, "path")
		issues := validateCSVExportJob("jobs[0]", o, engines)
		if !hasIssue(t, issues, SeverityError, "jobs[0].options.path", "requires path") {
			t.Fatalf("expected error; got: %+v", issues)
		}
	})
}

/*
TestValidateMetrics_Cases exercises the backend selection checks.
*/
func TestValidateMetrics_Cases(t *testing.T) {
	t.Run("disabled_is_fine", func(t *testing.T) {
		for _, backend := range []string{"", "none"} {
			if issues := validateMetrics(Metrics{Backend: backend}); len(issues) != 0 {
				t.Fatalf("backend %q: expected no issues; got: %+v", backend, issues)
			}
		}
	})

	t.Run("prometheus_requires_url", func(t *testing.T) {
		issues := validateMetrics(Metrics{Backend: "prometheus"})
		if !hasIssue(t, issues, SeverityError, "metrics.pushgateway_url", "requires pushgateway_url") {
			t.Fatalf("expected error; got: %+v", issues)
		}
	})

	t.Run("datadog_requires_addr", func(t *testing.T) {
		issues := validateMetrics(Metrics{Backend: "datadog"})
		if !hasIssue(t, issues, SeverityError, "metrics.statsd_addr", "requires statsd_addr") {
			t.Fatalf("expected error; got: %+v", issues)
		}
	})

	t.Run("unknown_backend_warns", func(t *testing.T) {
		issues := validateMetrics(Metrics{Backend: "graphite"})
		if !hasIssue(t, issues, SeverityWarning, "metrics.backend", `unknown metrics backend "graphite"`) {
			t.Fatalf("expected warning; got: %+v", issues)
		}
	})
}

/*
TestIssue_Error verifies the error rendering used when an Issue is surfaced
as a plain error.
*/
func TestIssue_Error(t *testing.T) {
	t.Parallel()

	iss := Issue{Severity: SeverityError, Path: "jobs[0].kind", Message: "job kind must not be empty"}
	want := "error at jobs[0].kind: job kind must not be empty"
	if got := iss.Error(); got != want {
		t.Fatalf("Issue.Error() = %q, want %q", got, want)
	}
}
