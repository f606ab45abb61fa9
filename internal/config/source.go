package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment variable read by unifee.
	EnvPrefix = "UNIFEE"
	// DefaultConfigName is the config file searched for in the working
	// directory, without extension.
	DefaultConfigName = ".unifee"
	// DefaultEnvFile is loaded into the environment when present.
	DefaultEnvFile = ".env"
)

// Keys lists every configuration key. Each is bound to its UNIFEE_
// environment variable so values set only in the environment still reach
// Unmarshal.
var Keys = []string{
	"target",
	"serve",
	"watch",
	"output",
	"package_manager",
	"server.host",
	"server.port",
	"server.tls_cert",
	"server.tls_key",
	"server.reload_delay",
	"build.ignore",
	"build.command_timeout",
	"build.jpeg_quality",
	"build.dart_sass",
	"log.level",
	"log.format",
}

// SourceOptions selects the files a viper instance reads.
type SourceOptions struct {
	// ConfigFile is an explicit config file. When empty, .unifee.yml in
	// the working directory is used if it exists.
	ConfigFile string
	// EnvFile is a dotenv file loaded into the process environment.
	// Variables already set are not overridden. A missing default file is
	// ignored; a missing explicit file is an error.
	EnvFile string
}

// NewViper prepares a viper instance reading, from highest precedence,
// UNIFEE_ environment variables (including those from the dotenv file)
// and the config file. Flags are bound by the caller.
func NewViper(opts SourceOptions) (*viper.Viper, error) {
	envFile := opts.EnvFile
	explicitEnv := envFile != ""
	if !explicitEnv {
		envFile = DefaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil {
		if explicitEnv || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range Keys {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
		return v, nil
	}

	v.AddConfigPath(".")
	v.SetConfigName(DefaultConfigName)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}
	return v, nil
}
