// Package main is the statuswatch entrypoint.
//
// The service polls the status of several LLM providers on a fixed
// interval. Statuspage-backed providers are fetched from their summary API
// and pages without an API are read through a headless browser. Every cycle
// produces one report keyed by provider. A provider that fails is recorded
// as a failed entry and never hides the others. Reports are served at
// /status.json and written to the configured sinks (file, GCS, Redis,
// Postgres, Pub/Sub).
//
// Run locally: go run ./cmd/statuswatch serve --config config.yaml
package main

import (
	"github.com/JakeFAU/statuswatch/cmd"
)

func main() {
	cmd.Execute()
}
