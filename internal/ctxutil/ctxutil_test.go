package ctxutil_test

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/beacon-ops/beacon/internal/auth"
	"github.com/beacon-ops/beacon/internal/ctxutil"
	"github.com/beacon-ops/beacon/internal/model"
)

func TestActorFromContext(t *testing.T) {
	_, ok := ctxutil.ActorFromContext(context.Background())
	assert.False(t, ok)

	id := uuid.New()
	ctx := ctxutil.WithClaims(context.Background(), &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: id.String()},
		Role:             model.RoleCitizen,
	})
	actor, ok := ctxutil.ActorFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, id, actor.UserID)
	assert.Equal(t, model.RoleCitizen, actor.Role)
}

func TestRequestID(t *testing.T) {
	assert.Empty(t, ctxutil.RequestIDFromContext(context.Background()))
	ctx := ctxutil.WithRequestID(context.Background(), "abc")
	assert.Equal(t, "abc", ctxutil.RequestIDFromContext(ctx))
}
