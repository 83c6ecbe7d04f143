package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

const (
	defaultFileName         = ".env"
	defaultOverrideFileName = ".local.env"
)

type logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// EnvLoader is a Config backed by process environment variables.
type EnvLoader struct {
	logger logger
}

// NewEnvFile loads <folder>/.env and then overrides it with <folder>/.<APP_ENV>.env, or <folder>/.local.env when
// APP_ENV is unset. Variables already present in the process environment win over both files.
func NewEnvFile(configFolder string, logger logger) Config {
	loader := &EnvLoader{logger: logger}
	loader.read(configFolder)

	return loader
}

func (e *EnvLoader) read(folder string) {
	initial := make(map[string]bool)

	for _, kv := range os.Environ() {
		if k, _, ok := strings.Cut(kv, "="); ok {
			initial[k] = true
		}
	}

	defaultFile := filepath.Join(folder, defaultFileName)

	env := os.Getenv("APP_ENV")

	overrideFile := filepath.Join(folder, defaultOverrideFileName)
	if env != "" {
		overrideFile = filepath.Join(folder, "."+env+".env")
	}

	for _, file := range []string{defaultFile, overrideFile} {
		values, err := godotenv.Read(file)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				e.logger.Debugf("config file %s not found, skipping", file)
				continue
			}

			e.logger.Errorf("failed to load config from file: %v, Err: %v", file, err)

			continue
		}

		for k, v := range values {
			if initial[k] {
				continue
			}

			if err := os.Setenv(k, v); err != nil {
				e.logger.Warnf("unable to set %s from %s: %v", k, file, err)
			}
		}

		e.logger.Infof("Loaded config from file: %v", file)
	}
}

func (*EnvLoader) Get(key string) string {
	return os.Getenv(key)
}

func (*EnvLoader) GetOrDefault(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}

	return defaultValue
}
