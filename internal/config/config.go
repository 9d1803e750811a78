package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads the YAML config at path, applies defaults, and validates.
// Exchange credentials may come from the environment instead of the
// file (BINANCE_API_KEY, BINANCE_API_SECRET).
func Load(path string) (*Config, error) {
	v, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

func readFile(path string) (*viper.Viper, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	bindEnvOverrides(v)
	return v, nil
}

func bindEnvOverrides(v *viper.Viper) {
	_ = v.BindEnv("executor.api_key", "BINANCE_API_KEY")
	_ = v.BindEnv("executor.api_secret", "BINANCE_API_SECRET")
}

func decode(v *viper.Viper) (*Config, error) {
	if err := validateRiskSection(v.Get("risk")); err != nil {
		return nil, err
	}
	var cfg Config
	err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
