// Package config defines the canonical, JSON-serializable configuration model
// for the application. It is intentionally small, explicit, and dependency-
// free so that job files can be loaded from disk (or other sources) and passed
// through the program without additional glue code.
//
// Design goals:
//
//  1. Stability: Changes to this package should be additive and backwards-
//     compatible whenever possible.
//  2. Clarity: Field names in Go mirror the JSON structure used in config
//     files under configs/*.json.
//  3. Minimalism: No third-party config libraries; decoding is performed by the
//     standard library, with a light Options helper for typed access.
//
// Example (trimmed):
//
//	{
//	  "engines": {
//	    "src": { "kind": "mssql" },
//	    "dwh": { "kind": "postgres", "dsn_env": "WAREHOUSE_DSN" }
//	  },
//	  "jobs": [
//	    { "name": "orders_sync", "kind": "sync", "options": {
//	      "source_alias": "src", "source_table": "orders",
//	      "target_alias": "dwh", "target_table": "orders",
//	      "join_columns": ["id"], "change_columns": ["amt"],
//	      "mode": "upsert", "on_condition": "target.id = source.id"
//	    } }
//	  ],
//	  "metrics": { "backend": "prometheus", "pushgateway_url": "http://localhost:9091" }
//	}
package config

import "encoding/json"

// Config is the top-level object decoded from a config file.
type Config struct {
	// Engines maps logical aliases ("src", "dwh") to database engines. The
	// connection string itself never lives in the file; each engine names the
	// environment variable that carries it.
	Engines map[string]Engine `json:"engines"`

	// Jobs lists the configured jobs in execution order.
	Jobs []JobConfig `json:"jobs"`

	// Metrics selects and configures the metrics backend.
	Metrics Metrics `json:"metrics"`
}

// Engine describes one database engine behind an alias.
type Engine struct {
	// Kind selects the storage backend ("postgres", "mysql", "mssql", "sqlite").
	Kind string `json:"kind"`

	// DSNEnv names the environment variable holding the connection string.
	// Empty means the default SQL_<ALIAS>_CONN.
	DSNEnv string `json:"dsn_env"`
}

// JobConfig describes one job: a registered kind plus its options bag. The
// options shape is defined by the job implementation.
type JobConfig struct {
	// Name identifies the job in logs, metrics labels, and the -job flag.
	Name string `json:"name"`

	// Kind selects the job implementation (e.g. "noop", "sync", "csv_load",
	// "csv_export").
	Kind string `json:"kind"`

	// Options is a free-form map interpreted by the job implementation.
	// For sync jobs, typical keys include:
	//   source_alias, source_schema, source_table, source_columns,
	//   source_where, source_query, target_alias, target_schema,
	//   target_table, join_columns, change_columns, mode, on_condition,
	//   columns
	Options Options `json:"options"`
}

// Metrics selects the process-wide metrics backend.
type Metrics struct {
	// Backend is "prometheus", "datadog", or ""/"none" for disabled.
	Backend string `json:"backend"`

	// PushgatewayURL is the Prometheus Pushgateway base URL, used when
	// Backend is "prometheus".
	PushgatewayURL string `json:"pushgateway_url"`

	// StatsdAddr is the DogStatsD address, used when Backend is "datadog".
	StatsdAddr string `json:"statsd_addr"`

	// Namespace is an optional prefix for emitted metric names.
	Namespace string `json:"namespace"`
}

// Options is a small helper to fetch typed values from arbitrary JSON maps
// without introducing third-party configuration libraries. It purposefully
// performs only minimal type coercion and returns provided defaults when a key
// is absent or of an unexpected type.
//
// Options is used for job-specific configuration where the shape varies by
// implementation.
type Options map[string]any

// String returns the string value for key or def if key is missing or not a string.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool value for key or def if key is missing or not a bool.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int returns the int value for key or def. JSON numbers are decoded as
// float64 by encoding/json, so this method accepts float64 and casts to int.
// If the value is neither float64 nor int, def is returned.
func (o Options) Int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}

// Rune returns the first rune of a string value for key, or def if key is
// missing or empty. This is useful for single-character settings such as a
// CSV delimiter.
func (o Options) Rune(key string, def rune) rune {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok && len(s) > 0 {
			return []rune(s)[0]
		}
	}
	return def
}

// StringMap returns a map[string]string for key when the value is an object
// whose values are strings. Non-string values are ignored. Returns an empty map
// when the key is missing or the value is not an object.
func (o Options) StringMap(key string) map[string]string {
	res := map[string]string{}
	if v, ok := o[key]; ok {
		if m, ok := v.(map[string]any); ok {
			for k, vv := range m {
				if s, ok := vv.(string); ok {
					res[k] = s
				}
			}
		}
	}
	return res
}

// StringSlice returns a []string for key when the value is an array of strings
// (or an array of interface values containing strings). Returns nil when the
// key is missing or the value is not an array.
func (o Options) StringSlice(key string) []string {
	if v, ok := o[key]; ok {
		switch vv := v.(type) {
		case []any:
			out := make([]string, 0, len(vv))
			for _, x := range vv {
				if s, ok := x.(string); ok {
					out = append(out, s)
				}
			}
			return out
		case []string:
			return vv
		}
	}
	return nil
}

// Any returns the raw value for key (which may itself be a nested
// map[string]any, []any, or primitive). This is useful for retrieving nested
// configuration blocks that will be unmarshaled into a typed struct by the
// caller.
func (o Options) Any(key string) any {
	if v, ok := o[key]; ok {
		return v
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler so that a null "options" object
// in JSON decodes to a non-nil, empty Options map. A missing key never
// reaches the unmarshaler and stays nil, which the getters handle; call sites
// need no nil checks either way.
func (o *Options) UnmarshalJSON(b []byte) error {
	var tmp map[string]any
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}
