package cmd

import (
	"fmt"
	"os"
	"regexp"

	"github.com/creasty/defaults"
	"github.com/ethpandaops/sfbulk/pkg/failure"
	"github.com/ethpandaops/sfbulk/pkg/server"
	"gopkg.in/yaml.v3"
)

// envRef matches ${NAME} references. A bare $ is left as written so
// passwords and queries may contain it.
//
//nolint:gochecknoglobals // Compiled once
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadConfig loads configuration from a YAML file. ${NAME} references are
// expanded from the environment before parsing so secrets can stay out of
// the file.
func LoadConfig(path string) (*server.Config, error) {
	config := &server.Config{}

	if err := defaults.Set(config); err != nil {
		return nil, err
	}

	yamlFile, err := os.ReadFile(path) //nolint:gosec // User-provided config file path
	if err != nil {
		return nil, &failure.Error{Kind: failure.KindValidation, Op: "config", Err: err}
	}

	if err := yaml.Unmarshal(expandEnv(yamlFile), config); err != nil {
		return nil, &failure.Error{
			Kind: failure.KindValidation,
			Op:   "config",
			Err:  fmt.Errorf("failed to parse %s: %w", path, err),
		}
	}

	return config, nil
}

// expandEnv replaces ${NAME} references with the environment value
func expandEnv(raw []byte) []byte {
	return envRef.ReplaceAllFunc(raw, func(ref []byte) []byte {
		name := envRef.FindSubmatch(ref)[1]
		return []byte(os.Getenv(string(name)))
	})
}
