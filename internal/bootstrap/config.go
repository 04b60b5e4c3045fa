// Package bootstrap resolves the daemon's process-level configuration:
// listen address, data directory, and log level. This is process bootstrap
// config only; groups and projects live in the Config Store and YAML Mirror,
// never in viper (spec.md section 4.1-4.2, section 6).
package bootstrap

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully-resolved daemon bootstrap configuration.
type Config struct {
	Addr            string
	DataDir         string
	LogLevel        string
	MaxPortAttempts int
}

// Load layers defaults, then openrunner.toml (if present) and ORC_*-style
// OPENRUNNER_ env vars, then any flags already parsed onto fs, matching the
// precedence the teacher's cli.root.go establishes with cobra.OnInitialize.
func Load(fs *pflag.FlagSet, cfgFile string) (Config, error) {
	v := viper.New()

	v.SetDefault("addr", ":8080")
	v.SetDefault("data_dir", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("max_port_attempts", 10)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.openrunner")
		v.SetConfigType("toml")
		v.SetConfigName("openrunner")
	}

	v.SetEnvPrefix("OPENRUNNER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && cfgFile != "" {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	// Flag names are hyphenated (cobra/pflag convention); viper keys are
	// underscored to match the env var and config file naming. Bind each
	// explicitly rather than BindPFlags, which would key on the flag's own
	// name and never match "data_dir" against "--data-dir".
	if fs != nil {
		for key, flagName := range map[string]string{
			"addr":              "addr",
			"data_dir":          "data-dir",
			"log_level":         "log-level",
			"max_port_attempts": "max-port-attempts",
		} {
			if f := fs.Lookup(flagName); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", flagName, err)
				}
			}
		}
	}

	return Config{
		Addr:            v.GetString("addr"),
		DataDir:         v.GetString("data_dir"),
		LogLevel:        v.GetString("log_level"),
		MaxPortAttempts: v.GetInt("max_port_attempts"),
	}, nil
}
