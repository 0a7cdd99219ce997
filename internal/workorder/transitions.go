package workorder

// Edge identifies one legal (from, to) pair in the lifecycle.
type Edge struct {
	From Status
	To   Status
}

// Rule governs one edge: Validate returns issue strings blocking the
// transition, RequireReason demands a free-text reason from the caller.
// Rules are pure; they never touch I/O.
type Rule struct {
	Validate      func(wo *WorkOrder) []string
	RequireReason bool
}

// transitionTable declares every legal lifecycle edge. CLOSED and CANCELED
// are terminal. The COMPLETED->CLOSED edge carries no validator here: the
// cross-entity close-out gate runs separately before that transition is
// requested.
var transitionTable = map[Edge]Rule{
	{StatusUnscheduled, StatusScheduled}: {
		Validate: func(wo *WorkOrder) []string {
			if wo.AssignedTo == nil {
				return []string{"Must assign tech before scheduling"}
			}
			return nil
		},
	},
	{StatusScheduled, StatusInProgress}: {},
	{StatusInProgress, StatusCompleted}: {},
	{StatusCompleted, StatusClosed}:     {RequireReason: true},
	{StatusUnscheduled, StatusCanceled}: {RequireReason: true},
	{StatusScheduled, StatusCanceled}:   {RequireReason: true},
}

// LookupRule returns the rule for an edge and whether the edge is declared.
func LookupRule(from, to Status) (Rule, bool) {
	rule, ok := transitionTable[Edge{From: from, To: to}]
	return rule, ok
}

// AllowedTargets enumerates the statuses reachable from the given status.
func AllowedTargets(from Status) []Status {
	var targets []Status
	for _, to := range []Status{StatusScheduled, StatusInProgress, StatusCompleted, StatusClosed, StatusCanceled} {
		if _, ok := transitionTable[Edge{From: from, To: to}]; ok {
			targets = append(targets, to)
		}
	}
	return targets
}
