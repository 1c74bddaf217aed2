package order

var allowedTransitions = map[Status]map[Status]bool{
	StatusDraft: {
		StatusPending:   true,
		StatusCancelled: true,
	},
	StatusPending: {
		StatusShipping:  true,
		StatusCancelled: true,
	},
	StatusShipping: {
		StatusPaid:      true,
		StatusCancelled: true,
	},
	StatusPaid: {
		StatusCompleted: true,
	},
	StatusCompleted: {},
	StatusCancelled: {},
}

// CanTransition reports whether from -> to is allowed. A status never
// transitions to itself.
func CanTransition(from, to Status) bool {
	return allowedTransitions[from][to]
}

func IsTerminal(s Status) bool {
	next, ok := allowedTransitions[s]
	return ok && len(next) == 0
}
