package gamebloc

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// envPrefix keeps generic variables such as HOSTNAME from leaking into the config.
const envPrefix = "gamebloc"

type ConfigLoader interface {
	Load() (*Config, error)
}

// LoadConfig loads config.yaml from the working directory, overridden by environment variables.
func LoadConfig() (*Config, error) {
	return (&FileConfigLoader{}).Load()
}

func newViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := setDefaults(v); err != nil {
		return nil, err
	}
	return v, nil
}

// FileConfigLoader reads a yaml config file. A missing file is not an error.
type FileConfigLoader struct {
	// Name is the file name without extension. The default is config.
	Name string
	// Paths are searched in order. The default is the working directory.
	Paths []string
}

func (l *FileConfigLoader) Load() (*Config, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}
	name := l.Name
	if name == "" {
		name = "config"
	}
	v.SetConfigName(name)
	v.SetConfigType("yaml")
	paths := l.Paths
	if len(paths) == 0 {
		paths = []string{"."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return decodeConfig(v)
}

// EnvConfigLoader loads the configuration from environment variables after
// loading Files (default .env) into the environment. Variables already set win.
// Keys are upper cased with dots replaced by underscores and prefixed with GAMEBLOC_,
// e.g. GAMEBLOC_AUTH_SECRET is expected to be a base64-encoded string and
// GAMEBLOC_ALLOWEDORIGINS a comma-separated list.
type EnvConfigLoader struct {
	Files []string
}

func (l *EnvConfigLoader) Load() (*Config, error) {
	if err := godotenv.Load(l.Files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	v, err := newViper()
	if err != nil {
		return nil, err
	}
	return decodeConfig(v)
}

// DefaultConfigLoader ignores files and the environment.
type DefaultConfigLoader struct {
}

func (l *DefaultConfigLoader) Load() (*Config, error) {
	v := viper.New()
	if err := setDefaults(v); err != nil {
		return nil, err
	}
	return decodeConfig(v)
}
