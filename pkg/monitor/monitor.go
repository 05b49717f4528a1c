// Package monitor owns process-startup presentation: the banner and the
// slog handler setup. The teacher's per-message broadcast Monitor
// interface (CLIMonitor et al., fed by the gateway's channel dispatch
// loop) has no counterpart here — pkg/core doesn't broadcast per-message
// events the way pkg/gateway did, so that type was dropped rather than
// kept unwired (see DESIGN.md).
package monitor

import (
	"github.com/genesis-labs/convo-gateway/pkg/obslog"
)

// SetupEnvironment prints the startup banner and initializes the global
// slog logger at the given level.
func SetupEnvironment(logLevel string) {
	PrintBanner()
	obslog.Setup(logLevel)
}
