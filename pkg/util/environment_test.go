package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvironmentVariables(t *testing.T) {
	t.Setenv("PARCELWATCH_TEST_VALUE", "a=b")

	env := GetEnvironmentVariables()
	assert.Equal(t, "a=b", env["PARCELWATCH_TEST_VALUE"])
}

func TestEnvironmentParsers(t *testing.T) {
	env := map[string]string{
		"DURATION": "250ms",
		"BAD":      "soon",
		"INT":      "12",
		"ENABLED":  "YES",
	}

	assert.Equal(t, 250*time.Millisecond, EnvironmentDuration(env, "DURATION", time.Second))
	assert.Equal(t, time.Second, EnvironmentDuration(env, "BAD", time.Second))
	assert.Equal(t, time.Second, EnvironmentDuration(env, "MISSING", time.Second))

	assert.Equal(t, 12, EnvironmentInt(env, "INT", 1))
	assert.Equal(t, 1, EnvironmentInt(env, "BAD", 1))

	assert.True(t, EnvironmentBool(env, "ENABLED"))
	assert.False(t, EnvironmentBool(env, "INT"))
	assert.False(t, EnvironmentBool(env, "MISSING"))
}
