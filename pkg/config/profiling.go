package config

import "fmt"

// ProfilingConfig contains Pyroscope profiling configuration
type ProfilingConfig struct {
	Enabled           bool              `yaml:"enabled" env:"PYROSCOPE_ENABLED" env-default:"false"`
	ApplicationName   string            `yaml:"applicationName" env:"PYROSCOPE_APPLICATION_NAME" env-default:"victron-monitor"`
	ServerAddress     string            `yaml:"serverAddress" env:"PYROSCOPE_SERVER_ADDRESS"`
	BasicAuthUser     string            `yaml:"basicAuthUser" env:"PYROSCOPE_BASIC_AUTH_USER"`
	BasicAuthPassword string            `yaml:"basicAuthPassword" env:"PYROSCOPE_BASIC_AUTH_PASSWORD"`
	TenantID          string            `yaml:"tenantID" env:"PYROSCOPE_TENANT_ID"`
	Tags              map[string]string `yaml:"tags"`

	// Profiles lists the profile types to collect
	Profiles []string `yaml:"profiles" env:"PYROSCOPE_PROFILES" env-default:"cpu,alloc_objects,alloc_space,inuse_objects,inuse_space"`
	// Rates apply only when the mutex or block profile is listed
	MutexProfileRate int `yaml:"mutexProfileRate" env:"PYROSCOPE_MUTEX_PROFILE_RATE" env-default:"5"`
	BlockProfileRate int `yaml:"blockProfileRate" env:"PYROSCOPE_BLOCK_PROFILE_RATE" env-default:"5"`

	DisableGCRuns bool `yaml:"disableGCRuns" env:"PYROSCOPE_DISABLE_GC_RUNS" env-default:"false"`
}

// ProfileNames are the accepted entries of ProfilingConfig.Profiles
var ProfileNames = []string{
	"cpu", "alloc_objects", "alloc_space", "inuse_objects", "inuse_space", "goroutines", "mutex", "block",
}

// ValidateProfiling validates profiling configuration if enabled
func ValidateProfiling(cfg *ProfilingConfig) error {
	if !cfg.Enabled {
		return nil
	}

	if cfg.ApplicationName == "" {
		return fmt.Errorf("profiling application name is required when profiling is enabled")
	}

	if cfg.ServerAddress == "" {
		return fmt.Errorf("profiling server address is required when profiling is enabled")
	}

	if len(cfg.Profiles) == 0 {
		return fmt.Errorf("at least one profile type must be enabled")
	}

	known := make(map[string]bool, len(ProfileNames))
	for _, name := range ProfileNames {
		known[name] = true
	}
	for _, p := range cfg.Profiles {
		if !known[p] {
			return fmt.Errorf("unknown profile type '%s' (expected one of %v)", p, ProfileNames)
		}
	}

	if cfg.MutexProfileRate < 0 || cfg.BlockProfileRate < 0 {
		return fmt.Errorf("profiling mutex and block profile rates must be >= 0")
	}

	return nil
}
