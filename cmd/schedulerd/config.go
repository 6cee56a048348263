package main

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// daemonConfig mirrors crochee-template's LoadConfig pattern: a YAML file
// overlaid by JOBSTORE_-prefixed environment variables, with every field
// defaulted before the file/env layer is read.
type daemonConfig struct {
	PostgresDSN   string `mapstructure:"postgres-dsn"`
	TablePrefix   string `mapstructure:"table-prefix"`
	InstanceId    string `mapstructure:"instance-id"`
	UseProperties bool   `mapstructure:"use-properties"`

	MisfireThresholdMs       int64 `mapstructure:"misfire-threshold-ms"`
	ClusterCheckinIntervalMs int64 `mapstructure:"cluster-checkin-interval-ms"`
	SweepIntervalMs          int64 `mapstructure:"sweep-interval-ms"`
	MaxJobsPerSweep          int   `mapstructure:"max-jobs-per-sweep"`
	MaxWorkers               int   `mapstructure:"max-workers"`

	LogLevel    string `mapstructure:"log-level"`
	MetricsAddr string `mapstructure:"metrics-addr"`
}

func (c daemonConfig) misfireThreshold() time.Duration {
	return time.Duration(c.MisfireThresholdMs) * time.Millisecond
}

func (c daemonConfig) clusterCheckinInterval() time.Duration {
	return time.Duration(c.ClusterCheckinIntervalMs) * time.Millisecond
}

func (c daemonConfig) sweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMs) * time.Millisecond
}

// loadConfig reads cfgFile (if set) and JOBSTORE_-prefixed environment
// overrides into a daemonConfig, following the same
// SetEnvPrefix/AutomaticEnv/ReadInConfig sequence as crochee-template's
// pkg/config.LoadConfig.
func loadConfig(cfgFile string) (daemonConfig, error) {
	v := viper.New()
	v.SetDefault("table-prefix", "qrtz_")
	v.SetDefault("instance-id", "")
	v.SetDefault("use-properties", false)
	v.SetDefault("misfire-threshold-ms", 60000)
	v.SetDefault("cluster-checkin-interval-ms", 15000)
	v.SetDefault("sweep-interval-ms", 1000)
	v.SetDefault("max-jobs-per-sweep", 1)
	v.SetDefault("max-workers", 0)
	v.SetDefault("log-level", "info")
	v.SetDefault("metrics-addr", ":9090")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigName("schedulerd")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("JOBSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && cfgFile != "" {
			return daemonConfig{}, err
		}
	}

	var cfg daemonConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return daemonConfig{}, err
	}
	return cfg, nil
}
