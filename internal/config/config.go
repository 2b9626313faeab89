// Package config parses the operator's ARK_OP_* environment variables into a
// typed settings struct, generalized from the teacher's cmd/main.go getEnv
// pattern.
package config

import (
	"os"
	"time"
)

// Config holds every operator-wide setting sourced from the environment.
type Config struct {
	Namespace            string
	ControllerID         string
	NATSURL              string
	NATSUser             string
	NATSPassword         string
	MinPVCSize           string
	BuildCheckInterval   time.Duration
	RestartWarningLadder []time.Duration
}

// Load reads Config from the process environment, applying the same
// defaults as the teacher's main.go flags.
func Load() Config {
	return Config{
		Namespace:          getEnv("ARK_OP_NAMESPACE", "default"),
		ControllerID:       getEnv("ARK_OP_CONTROLLER_ID", "ark-operator-1"),
		NATSURL:            getEnv("NATS_URL", "nats://localhost:4222"),
		NATSUser:           getEnv("NATS_USER", ""),
		NATSPassword:       getEnv("NATS_PASSWORD", ""),
		MinPVCSize:         getEnv("ARK_OP_MIN_PVC_SIZE", "50Gi"),
		BuildCheckInterval: getEnvDuration("ARK_OP_BUILD_CHECK_INTERVAL", 15*time.Minute),
		RestartWarningLadder: []time.Duration{
			60 * time.Minute, 30 * time.Minute, 15 * time.Minute, 5 * time.Minute, 1 * time.Minute,
		},
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue
	}
	return d
}
