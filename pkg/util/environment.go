package util

import (
	"os"
	"strconv"
	"strings"
	"time"
)

func GetEnvironmentVariables() map[string]string {
	environmentVariables := map[string]string{}

	for _, variable := range os.Environ() {
		pair := strings.SplitN(variable, "=", 2)

		environmentVariables[pair[0]] = pair[1]
	}

	return environmentVariables
}

// EnvironmentDuration parses a time.Duration ("1s", "250ms") falling back on empty or invalid values
func EnvironmentDuration(env map[string]string, key string, fallback time.Duration) time.Duration {
	if env[key] == "" {
		return fallback
	}

	if parsed, err := time.ParseDuration(env[key]); err == nil && parsed > 0 {
		return parsed
	}

	return fallback
}

func EnvironmentInt(env map[string]string, key string, fallback int) int {
	if env[key] == "" {
		return fallback
	}

	if parsed, err := strconv.Atoi(env[key]); err == nil {
		return parsed
	}

	return fallback
}

// EnvironmentBool follows the YES convention used by the other switches
func EnvironmentBool(env map[string]string, key string) bool {
	return env[key] == "YES"
}
