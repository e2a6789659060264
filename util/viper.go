package util

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// NewViper returns a viper instance reading <name> as YAML from paths, with
// <envPrefix>_SECTION_KEY environment overrides.
func NewViper(name, envPrefix string, paths ...string) *viper.Viper {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadDotEnv loads .env files into the process environment. Missing files are
// ignored and variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("error loading %s: %w", f, err)
		}
	}
	return nil
}

// ReadConfig reads the config file. A missing file is reported as found=false
// so that defaults and environment apply.
func ReadConfig(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("error reading config file: %w", err)
	}
	return true, nil
}

func UnmarshalConfig[T any](v *viper.Viper) (T, error) {
	var config T
	if err := v.UnmarshalExact(&config, viper.DecodeHook(ConfigDecodeHook())); err != nil {
		return config, fmt.Errorf("error unmarshalling config: %w", err)
	}
	return config, nil
}
