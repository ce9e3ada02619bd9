package main

import (
	"testing"

	"etlkit/internal/config"
)

func TestJobNames(t *testing.T) {
	t.Parallel()

	if got := jobNames(nil); got != "none" {
		t.Fatalf("jobNames(nil) = %q, want none", got)
	}
	jobs := []config.JobConfig{
		{Name: "noop_smoke", Kind: "noop"},
		{Name: "orders_sync", Kind: "sync"},
	}
	if got, want := jobNames(jobs), "noop_smoke, orders_sync"; got != want {
		t.Fatalf("jobNames = %q, want %q", got, want)
	}
}
