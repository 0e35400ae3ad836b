// Package timeouts defines shared timeout constants used across tierstore.
// Centralizing these values prevents drift between components and makes the
// durations discoverable.
package timeouts

import "time"

// RemoteInit bounds how long the orchestrator waits for one remote tier to
// initialize before proceeding without it.
const RemoteInit = 5 * time.Second

// RemoteRequest caps a single HTTP request to a remote tier, retries excluded.
const RemoteRequest = 15 * time.Second

// RemoteLookup bounds a shared remote read, retries included. It is
// independent of any single caller so that one caller leaving does not fail
// the others waiting on the same read.
const RemoteLookup = time.Minute

// RetryBackoff is the base delay between remote retries.
const RetryBackoff = 300 * time.Millisecond

// Prune is the default interval of background expiry sweeps.
const Prune = time.Minute

// Shutdown limits how long a server waits for in-flight requests and
// telemetry flushes during graceful shutdown.
const Shutdown = 5 * time.Second
