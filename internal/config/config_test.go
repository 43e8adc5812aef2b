package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestEnvIntFallback(t *testing.T) {
	v, err := envInt("TEST_INT_MISSING", 99)
	require.NoError(t, err)
	assert.Equal(t, 99, v)
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	require.Error(t, err)
	assert.Equal(t, `TEST_INT_BAD="abc" is not a valid integer`, err.Error())
}

func TestEnvBool(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	v, err := envBool("TEST_BOOL", false)
	require.NoError(t, err)
	assert.True(t, v)

	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err = envBool("TEST_BOOL_BAD", false)
	require.Error(t, err)
	assert.Equal(t, `TEST_BOOL_BAD="maybe" is not a valid boolean`, err.Error())
}

func TestEnvFloat(t *testing.T) {
	t.Setenv("TEST_FLOAT", "2.5")
	v, err := envFloat("TEST_FLOAT", 0)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, v, 1e-9)

	t.Setenv("TEST_FLOAT_BAD", "lots")
	_, err = envFloat("TEST_FLOAT_BAD", 0)
	assert.Error(t, err)
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	v, err := envDuration("TEST_DUR", 0)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, v)

	t.Setenv("TEST_DUR_BAD", "five-seconds")
	_, err = envDuration("TEST_DUR_BAD", 0)
	require.Error(t, err)
	assert.Equal(t, `TEST_DUR_BAD="five-seconds" is not a valid duration`, err.Error())
}

func TestEnvList(t *testing.T) {
	t.Setenv("TEST_LIST", " a.example.org , ,b.example.org")
	assert.Equal(t, []string{"a.example.org", "b.example.org"}, envList("TEST_LIST"))
	assert.Nil(t, envList("TEST_LIST_MISSING"))
}

func TestLoadFailsOnInvalidPort(t *testing.T) {
	t.Setenv("BEACON_PORT", "abc")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BEACON_PORT")
	assert.Contains(t, err.Error(), "abc")
}

func TestLoadReportsEveryInvalidVariable(t *testing.T) {
	t.Setenv("BEACON_PORT", "abc")
	t.Setenv("BEACON_WS_AUTH_TIMEOUT", "soon")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BEACON_PORT")
	assert.Contains(t, err.Error(), "BEACON_WS_AUTH_TIMEOUT")
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 10, cfg.MinResolutionLen)
	assert.Empty(t, cfg.DatabaseURL, "no database means the in-memory store")
	assert.False(t, cfg.IsDevelopment())
}

func TestValidatePairedSettings(t *testing.T) {
	t.Setenv("BEACON_ADMIN_EMAIL", "admin@example.org")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BEACON_ADMIN_PASSWORD")

	t.Setenv("BEACON_ADMIN_PASSWORD", "hunter22")
	t.Setenv("BEACON_JWT_PRIVATE_KEY", "/keys/priv.pem")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BEACON_JWT_PUBLIC_KEY")
}

func TestValidateMinResolutionLen(t *testing.T) {
	t.Setenv("BEACON_MIN_RESOLUTION_LEN", "0")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BEACON_MIN_RESOLUTION_LEN")
}
