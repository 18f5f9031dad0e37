package service

import "strings"

// Operation status transitions. PENDING is the only non-terminal state;
// SUCCESS and FAILED are one-way.
var statusTransitions = map[string]map[string]struct{}{
	"PENDING": {
		"SUCCESS": {},
		"FAILED":  {},
	},
	"SUCCESS": {},
	"FAILED":  {},
}

func normalizeState(state string) string {
	return strings.ToUpper(strings.TrimSpace(state))
}

func canTransition(current, next string) bool {
	nextStates, ok := statusTransitions[normalizeState(current)]
	if !ok {
		return false
	}
	_, ok = nextStates[normalizeState(next)]
	return ok
}
