// Package engine owns the grid bot's process lifecycle: startup checks,
// the websocket connection and its event-bus translation, the
// reconciliation kickoff, the watchdog loop, and graceful termination.
package engine

import "context"

// Runner is anything the top-level process can start and wait on until
// shutdown. The engine is the only Runner cmd/gridbot drives directly.
type Runner interface {
	Run(ctx context.Context) error
}
