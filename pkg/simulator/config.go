package simulator

import (
	"time"

	"github.com/parcelwatch/parcelwatch/pkg/util"
)

type Config struct {
	// Wall clock time between ticks. Each tick is one simulated second.
	TickInterval time.Duration
	// Used when a start request gives no duration
	DefaultDuration time.Duration
	// Upper bound on the routing provider call made while starting
	RouteTimeout time.Duration
	// Upper bound on the store writes made outside a request context
	PersistTimeout time.Duration
}

var defaultConfig = Config{
	TickInterval:    time.Second,
	DefaultDuration: 30 * time.Minute,
	RouteTimeout:    15 * time.Second,
	PersistTimeout:  10 * time.Second,
}

// GetConfig returns the simulator configuration from environment variables or defaults
func GetConfig() Config {
	config := defaultConfig

	env := util.GetEnvironmentVariables()

	config.TickInterval = util.EnvironmentDuration(env, "PARCELWATCH_SIMULATION_TICK_INTERVAL", config.TickInterval)
	config.DefaultDuration = util.EnvironmentDuration(env, "PARCELWATCH_SIMULATION_DEFAULT_DURATION", config.DefaultDuration)
	config.RouteTimeout = util.EnvironmentDuration(env, "PARCELWATCH_SIMULATION_ROUTE_TIMEOUT", config.RouteTimeout)
	config.PersistTimeout = util.EnvironmentDuration(env, "PARCELWATCH_SIMULATION_PERSIST_TIMEOUT", config.PersistTimeout)

	return config
}
