package model_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/beacon-ops/beacon/internal/model"
)

func TestRoleRankOrdering(t *testing.T) {
	ordered := []model.Role{
		model.RoleCitizen,
		model.RoleStationStaff,
		model.RoleStationAdmin,
		model.RoleSuperAdmin,
		model.RoleMainAdmin,
	}
	for i := 1; i < len(ordered); i++ {
		assert.Greater(t, model.RoleRank(ordered[i]), model.RoleRank(ordered[i-1]),
			"%s should outrank %s", ordered[i], ordered[i-1])
	}
	assert.Equal(t, 0, model.RoleRank(model.Role("janitor")))
}

func TestRoleAtLeast(t *testing.T) {
	assert.True(t, model.RoleAtLeast(model.RoleMainAdmin, model.RoleStationAdmin))
	assert.True(t, model.RoleAtLeast(model.RoleStationAdmin, model.RoleStationAdmin))
	assert.False(t, model.RoleAtLeast(model.RoleStationStaff, model.RoleStationAdmin))
	assert.False(t, model.RoleAtLeast(model.Role("bogus"), model.RoleCitizen))
}

func TestRoleValidAndStationScoped(t *testing.T) {
	assert.True(t, model.RoleCitizen.Valid())
	assert.False(t, model.Role("").Valid())
	assert.True(t, model.RoleStationStaff.StationScoped())
	assert.True(t, model.RoleStationAdmin.StationScoped())
	assert.False(t, model.RoleSuperAdmin.StationScoped())
}

func TestSameID(t *testing.T) {
	a := uuid.New()
	b := a
	c := uuid.New()
	assert.True(t, model.SameID(&a, &b))
	assert.False(t, model.SameID(&a, &c))
	assert.False(t, model.SameID(nil, &a))
	assert.False(t, model.SameID(nil, nil))
}
