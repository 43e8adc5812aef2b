package incident

import "github.com/beacon-ops/beacon/internal/model"

type edge struct {
	from, to model.IncidentStatus
}

// rule describes one legal lifecycle edge: the verb that takes it and the
// event it emits.
type rule struct {
	action model.Action
	event  model.EventType
}

// transitions is the complete state machine. Anything absent is rejected
// with an invalid_transition error; there are no implicit transitions.
var transitions = map[edge]rule{
	{model.StatusReported, model.StatusAssigned}:    {model.ActionAssign, model.EventIncidentAssigned},
	{model.StatusEscalated, model.StatusAssigned}:   {model.ActionAssign, model.EventIncidentAssigned},
	{model.StatusResolved, model.StatusAssigned}:    {model.ActionReopen, model.EventIncidentAssigned},
	{model.StatusAssigned, model.StatusInProgress}:  {model.ActionStart, model.EventIncidentStatusChanged},
	{model.StatusAssigned, model.StatusEscalated}:   {model.ActionEscalate, model.EventIncidentEscalated},
	{model.StatusInProgress, model.StatusEscalated}: {model.ActionEscalate, model.EventIncidentEscalated},
	{model.StatusInProgress, model.StatusResolved}:  {model.ActionResolve, model.EventIncidentResolved},
	{model.StatusEscalated, model.StatusResolved}:   {model.ActionResolve, model.EventIncidentResolved},
}

// lookup returns the rule for from→to, if the edge exists.
func lookup(from, to model.IncidentStatus) (rule, bool) {
	r, ok := transitions[edge{from, to}]
	return r, ok
}

// CanTransition reports whether from→to is a legal lifecycle edge.
func CanTransition(from, to model.IncidentStatus) bool {
	_, ok := lookup(from, to)
	return ok
}
