package cli

import "github.com/devos-ai/orchestrator/internal/domain"

// ANSI escape codes for terminal colors, kept from the established
// colors.go.
const (
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiRed    = "\033[31m"
	ansiDim    = "\033[2m"
	ansiReset  = "\033[0m"
)

// stateDisplay returns the symbol and color for a pipeline state, adapted
// from the prior concern-state display to this spec's PipelineState
// enum (spec.md §4.5).
func stateDisplay(state domain.PipelineState) (symbol, color string) {
	switch state {
	case domain.StateCompleted:
		return "✓", ansiGreen
	case domain.StateFailed:
		return "✗", ansiRed
	case domain.StateIdle:
		return "·", ansiDim
	case domain.StatePlanning, domain.StateImplementing, domain.StateInQA, domain.StateDeploying:
		return "⟳", ansiYellow
	default:
		return "◯", ansiReset
	}
}
