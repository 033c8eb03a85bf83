package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Loader builds a config from code defaults, then a YAML file, then
// environment variables, and validates the result.
// Priority: Env Vars > YAML > Defaults.
type Loader[T any] struct {
	envPrefix  string
	configPath string
	defaults   T
	validate   *validator.Validate
}

func NewLoader[T any](envPrefix, configPath string) *Loader[T] {
	return &Loader[T]{
		envPrefix:  envPrefix,
		configPath: configPath,
		validate:   validator.New(),
	}
}

// WithDefaults sets the starting value. Env tags carry no defaults so that
// unset variables never clobber YAML values.
func (l *Loader[T]) WithDefaults(d T) *Loader[T] {
	l.defaults = d
	return l
}

func (l *Loader[T]) Load() (*T, error) {
	cfg := l.defaults

	if l.configPath != "" {
		if err := DecodeFile(l.configPath, &cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	if err := envconfig.Process(l.envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("config: process env vars: %w", err)
	}

	if err := l.validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return &cfg, nil
}

// DecodeFile decodes a YAML file over into. A missing file returns an
// error matching os.ErrNotExist.
func DecodeFile[T any](path string, into *T) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: open %s: %w", path, err)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(into); err != nil {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}
	return nil
}
