package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Env is the process configuration read from PSHA_* variables. Command
// line flags take precedence over it.
type Env struct {
	Workers         int    `env:"PSHA_WORKERS"          envDefault:"4"`
	ConcurrentTasks int    `env:"PSHA_CONCURRENT_TASKS"`
	FailurePolicy   string `env:"PSHA_FAILURE_POLICY"   envDefault:"abort"`
	Store           string `env:"PSHA_STORE"`
	DBPath          string `env:"PSHA_DB_PATH"          envDefault:"psha.db"`
	ArtifactsDir    string `env:"PSHA_ARTIFACTS_DIR"    envDefault:"runs"`
	OTelEndpoint    string `env:"PSHA_OTEL_ENDPOINT"`
	OTelEnabled     bool   `env:"PSHA_OTEL_ENABLED"     envDefault:"true"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func LoadEnv() (Env, error) {
	var cfg Env
	if err := ParseEnv(&cfg); err != nil {
		return Env{}, err
	}
	return cfg, nil
}
