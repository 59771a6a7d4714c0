package domain

import "strings"

const (
	StatusPending            = "pending"
	StatusManual             = "manual"
	StatusAwaitingManual     = "awaiting_manual"
	StatusDeferred           = "deferred"
	StatusCompleted          = "completed"
	StatusApproved           = "approved"
	StatusRejected           = "rejected"
	StatusAutodepositSuccess = "autodeposit_success"
	StatusAutoCompleted      = "auto_completed"
)

var requestTransitions = map[string]map[string]struct{}{
	StatusPending: {
		StatusAutodepositSuccess: {},
		StatusAutoCompleted:      {},
		StatusManual:             {},
		StatusAwaitingManual:     {},
		StatusDeferred:           {},
		StatusRejected:           {},
	},
	StatusManual: {
		StatusAwaitingManual: {},
		StatusDeferred:       {},
		StatusCompleted:      {},
		StatusApproved:       {},
		StatusRejected:       {},
	},
	StatusAwaitingManual: {
		StatusManual:    {},
		StatusDeferred:  {},
		StatusCompleted: {},
		StatusApproved:  {},
		StatusRejected:  {},
	},
	StatusDeferred: {
		StatusManual:         {},
		StatusAwaitingManual: {},
		StatusCompleted:      {},
		StatusApproved:       {},
		StatusRejected:       {},
	},
}

// NormalizeStatus lower-cases and trims a status value.
func NormalizeStatus(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

// IsTerminal reports whether no transition leaves status.
func IsTerminal(status string) bool {
	switch NormalizeStatus(status) {
	case StatusCompleted, StatusApproved, StatusRejected, StatusAutodepositSuccess, StatusAutoCompleted:
		return true
	default:
		return false
	}
}

// CanTransition reports whether current -> next is a legal request transition.
func CanTransition(current, next string) bool {
	nextStates, ok := requestTransitions[NormalizeStatus(current)]
	if !ok {
		return false
	}
	_, ok = nextStates[NormalizeStatus(next)]
	return ok
}

// PredecessorsOf lists every status that may move to next. Used to build
// conditional updates so concurrent writers cannot skip the state machine.
func PredecessorsOf(next string) []string {
	next = NormalizeStatus(next)
	var out []string
	for _, from := range []string{StatusPending, StatusManual, StatusAwaitingManual, StatusDeferred} {
		if _, ok := requestTransitions[from][next]; ok {
			out = append(out, from)
		}
	}
	return out
}

// IsOperatorDecision reports whether status is an outcome only an operator may set.
func IsOperatorDecision(status string) bool {
	switch NormalizeStatus(status) {
	case StatusCompleted, StatusApproved, StatusRejected:
		return true
	default:
		return false
	}
}
