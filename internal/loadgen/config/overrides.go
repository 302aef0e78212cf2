package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/wesleyorama2/stampede/internal/loadgen/executor"
)

// Override keys. Each key is bound to a command-line flag of the same name
// and to the environment variables listed in envBindings.
const (
	KeyBaseURL  = "base-url"
	KeyWorkload = "workload"
	KeyStages   = "stages"
	KeyVUs      = "vus"
	KeyDuration = "duration"
	KeySeed     = "seed"
	KeyTimeout  = "timeout"
)

var envBindings = map[string][]string{
	KeyBaseURL:  {"API_BASE_URL", "STAMPEDE_BASE_URL"},
	KeyWorkload: {"STAMPEDE_WORKLOAD"},
	KeyStages:   {"STAMPEDE_STAGES"},
	KeyVUs:      {"STAMPEDE_VUS"},
	KeyDuration: {"STAMPEDE_DURATION"},
	KeySeed:     {"STAMPEDE_SEED"},
	KeyTimeout:  {"STAMPEDE_TIMEOUT"},
}

// RegisterOverrideFlags adds the override flags to a flag set.
func RegisterOverrideFlags(flags *pflag.FlagSet) {
	flags.String(KeyBaseURL, "", "Base URL of the target service (env: API_BASE_URL)")
	flags.String(KeyWorkload, "", "Workload to run (env: STAMPEDE_WORKLOAD)")
	flags.String(KeyStages, "", "Ramping stages, e.g. \"30s:10,1m:10,10s:0\" (env: STAMPEDE_STAGES)")
	flags.Int(KeyVUs, 0, "Constant number of virtual users (env: STAMPEDE_VUS)")
	flags.String(KeyDuration, "", "Run duration for constant VUs, e.g. \"1m\" (env: STAMPEDE_DURATION)")
	flags.Int64(KeySeed, 0, "Seed for per-VU randomness (env: STAMPEDE_SEED)")
	flags.String(KeyTimeout, "", "Default HTTP request timeout (env: STAMPEDE_TIMEOUT)")
}

// NewOverrides returns a viper instance that reads the override keys from
// the environment and, when flags is not nil, from changed flags. Flags
// take precedence over the environment.
func NewOverrides(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("bind env for %s: %w", key, err)
		}
		if flags == nil {
			continue
		}
		if f := flags.Lookup(key); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", key, err)
			}
		}
	}
	return v, nil
}

// ApplyOverrides copies every set override key onto cfg.
//
// Stages switch the run to ramping-vus. VUs or a duration switch it to
// constant-vus unless stages are also overridden.
func ApplyOverrides(cfg *TestConfig, v *viper.Viper) error {
	if v.IsSet(KeyBaseURL) {
		cfg.BaseURL = v.GetString(KeyBaseURL)
	}
	if v.IsSet(KeyWorkload) {
		cfg.Workload = v.GetString(KeyWorkload)
	}
	if v.IsSet(KeySeed) {
		cfg.Seed = v.GetInt64(KeySeed)
	}
	if v.IsSet(KeyTimeout) {
		d, err := ParseDuration(v.GetString(KeyTimeout))
		if err != nil {
			return fmt.Errorf("%s: %w", KeyTimeout, err)
		}
		cfg.HTTP.Timeout = Duration(d)
	}

	if v.IsSet(KeyStages) {
		stages, err := executor.ParseStages(v.GetString(KeyStages))
		if err != nil {
			return fmt.Errorf("%s: %w", KeyStages, err)
		}
		cfg.Executor = string(executor.TypeRampingVUs)
		cfg.Stages = make([]StageConfig, len(stages))
		for i, s := range stages {
			cfg.Stages[i] = StageConfig{Duration: Duration(s.Duration), Target: s.Target}
		}
		cfg.VUs = 0
		cfg.Duration = 0
		return nil
	}

	constant := false
	if v.IsSet(KeyVUs) {
		cfg.VUs = v.GetInt(KeyVUs)
		constant = true
	}
	if v.IsSet(KeyDuration) {
		d, err := ParseDuration(v.GetString(KeyDuration))
		if err != nil {
			return fmt.Errorf("%s: %w", KeyDuration, err)
		}
		cfg.Duration = Duration(d)
		constant = true
	}
	if constant {
		cfg.Executor = string(executor.TypeConstantVUs)
		cfg.Stages = nil
		cfg.StartVUs = 0
		if cfg.Duration == 0 && cfg.VUs > 0 {
			cfg.Duration = Duration(30 * time.Second)
		}
	}
	return nil
}
