package incident

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/beacon-ops/beacon/internal/model"
)

func TestCanTransition(t *testing.T) {
	all := []model.IncidentStatus{
		model.StatusReported, model.StatusAssigned, model.StatusInProgress,
		model.StatusEscalated, model.StatusResolved,
	}
	legal := map[[2]model.IncidentStatus]bool{
		{model.StatusReported, model.StatusAssigned}:    true,
		{model.StatusEscalated, model.StatusAssigned}:   true,
		{model.StatusResolved, model.StatusAssigned}:    true,
		{model.StatusAssigned, model.StatusInProgress}:  true,
		{model.StatusAssigned, model.StatusEscalated}:   true,
		{model.StatusInProgress, model.StatusEscalated}: true,
		{model.StatusInProgress, model.StatusResolved}:  true,
		{model.StatusEscalated, model.StatusResolved}:   true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, legal[[2]model.IncidentStatus{from, to}], CanTransition(from, to), "%s → %s", from, to)
		}
	}
}

func TestTransitionEvents(t *testing.T) {
	r, ok := lookup(model.StatusResolved, model.StatusAssigned)
	assert.True(t, ok)
	assert.Equal(t, model.ActionReopen, r.action)
	assert.Equal(t, model.EventIncidentAssigned, r.event)

	r, _ = lookup(model.StatusAssigned, model.StatusInProgress)
	assert.Equal(t, model.EventIncidentStatusChanged, r.event)
}
