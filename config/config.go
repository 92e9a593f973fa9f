// Package config loads the stageflow configuration from a YAML file and
// STAGEFLOW_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/davidroman0O/stageflow/logging"
)

// EnvPrefix prefixes every environment override, e.g. STAGEFLOW_LOG_LEVEL.
const EnvPrefix = "STAGEFLOW"

// Config holds the configuration for the application.
type Config struct {
	Server struct {
		Addr            string        `mapstructure:"addr"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
		Metrics         bool          `mapstructure:"metrics"`
	} `mapstructure:"server"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
	Engine struct {
		BottleneckThreshold time.Duration `mapstructure:"bottleneck_threshold"`
		StageTimeout        time.Duration `mapstructure:"stage_timeout"`
		MaxHops             int           `mapstructure:"max_hops"`
		RetainFinished      int           `mapstructure:"retain_finished"`
		Approval            struct {
			AutoApprove  bool     `mapstructure:"auto_approve"`
			AllowedTypes []string `mapstructure:"allowed_types"`
			AutoDecide   bool     `mapstructure:"auto_decide"`
		} `mapstructure:"approval"`
	} `mapstructure:"engine"`
	Definitions struct {
		Paths    []string `mapstructure:"paths"`
		Builtins bool     `mapstructure:"builtins"`
	} `mapstructure:"definitions"`
	Postgres struct {
		Enable bool   `mapstructure:"enable"`
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"postgres"`
}

// setDefaults registers the value of every key so env overrides resolve
// even when no file sets them.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	// zero keeps event streams open
	v.SetDefault("server.write_timeout", time.Duration(0))
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.metrics", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("engine.bottleneck_threshold", 5*time.Minute)
	v.SetDefault("engine.stage_timeout", time.Duration(0))
	v.SetDefault("engine.max_hops", 0)
	v.SetDefault("engine.retain_finished", 1000)
	v.SetDefault("engine.approval.auto_approve", false)
	v.SetDefault("engine.approval.allowed_types", []string{})
	v.SetDefault("engine.approval.auto_decide", false)
	v.SetDefault("definitions.paths", []string{})
	v.SetDefault("definitions.builtins", true)
	v.SetDefault("postgres.enable", false)
	v.SetDefault("postgres.dsn", "")
}

// Load reads the configuration. An empty path searches for stageflow.yaml in
// the working directory and ./config; a missing file is not an error there.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("stageflow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Engine.RetainFinished < 0 {
		return fmt.Errorf("engine.retain_finished must not be negative, got %d", c.Engine.RetainFinished)
	}
	if c.Engine.MaxHops < 0 {
		return fmt.Errorf("engine.max_hops must not be negative, got %d", c.Engine.MaxHops)
	}
	if c.Engine.StageTimeout < 0 {
		return fmt.Errorf("engine.stage_timeout must not be negative, got %s", c.Engine.StageTimeout)
	}
	if c.Postgres.Enable && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required when postgres is enabled")
	}
	return nil
}
