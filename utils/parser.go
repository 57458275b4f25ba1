package utils

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/vitwit/chai/types"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable read by LoadConfig.
const EnvPrefix = "CHAI"

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
}

// LoadConfig builds the configuration from defaults, an optional YAML file
// and CHAI_* environment variables, in that order of precedence.
func LoadConfig(path string) (*types.Config, error) {
	cfg := types.DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, types.NewError(types.ErrConfig, "failed to read config file", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, types.NewError(types.ErrConfig, "failed to parse config file", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, types.NewError(types.ErrConfig, "failed to process environment", err)
	}

	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ParseConfig parses YAML configuration layered over the defaults.
func ParseConfig(data []byte) (*types.Config, error) {
	cfg := types.DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, types.NewError(types.ErrConfig, "failed to parse config", err)
	}

	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ValidateConfig checks struct constraints and the payment value.
func ValidateConfig(cfg *types.Config) error {
	if err := validate.Struct(cfg); err != nil {
		return types.NewError(types.ErrConfig, fmt.Sprintf("validation failed: %v", err), err)
	}

	if _, err := ParseEther(cfg.Value); err != nil {
		return types.NewError(types.ErrConfig, "invalid value", err)
	}

	return nil
}
